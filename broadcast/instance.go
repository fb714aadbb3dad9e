// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package broadcast

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// usnPrefix is the uniform service name prefix instances advertise their
// identifier under.
const usnPrefix = "uuid:"

// Instance describes a peer as seen on the local-network broadcast.  Only
// the fields an announcement carries are populated; richer metadata such
// as the peer's device name is learned later by probing it.
type Instance struct {
	// ID is the identifier the instance advertises for itself.
	ID string

	// BaseURL is the root URL the instance serves its API from.
	BaseURL string

	// IP is the address extracted from the advertised base URL.
	IP string

	// ApplicationVersion is the version advertised in the announcement's
	// server identification, when present.
	ApplicationVersion string
}

// String returns a human-readable string for the instance.
func (inst *Instance) String() string {
	return fmt.Sprintf("instance %s (%s)", inst.ID, inst.BaseURL)
}

// Validate returns an error when the instance announcement is malformed or
// incomplete.
func (inst *Instance) Validate() error {
	if inst.ID == "" {
		return ErrInvalidInstance
	}
	u, err := url.Parse(inst.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidInstance
	}
	return nil
}

// formatUSN returns the uniform service name an instance with the provided
// identifier advertises under the given service type.
func formatUSN(id, serviceType string) string {
	return usnPrefix + id + "::" + serviceType
}

// parseUSN extracts the instance identifier from a uniform service name of
// the form "uuid:<id>" or "uuid:<id>::<service type>".
func parseUSN(usn string) (string, error) {
	if !strings.HasPrefix(usn, usnPrefix) {
		return "", ErrInvalidInstance
	}
	id := strings.TrimPrefix(usn, usnPrefix)
	if idx := strings.Index(id, "::"); idx != -1 {
		id = id[:idx]
	}
	if id == "" {
		return "", ErrInvalidInstance
	}
	return id, nil
}

// parseInstance converts the relevant fields of a broadcast announcement
// into an instance, validating them along the way.
func parseInstance(usn, location, server string) (*Instance, error) {
	id, err := parseUSN(usn)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, ErrInvalidInstance
	}
	host := u.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	inst := &Instance{
		ID:                 id,
		BaseURL:            location,
		IP:                 host,
		ApplicationVersion: parseServerVersion(server),
	}
	return inst, nil
}

// parseServerVersion extracts the application version from a server
// identification of the form "<product>/<version>".  An empty string is
// returned when the identification does not carry one.
func parseServerVersion(server string) string {
	if idx := strings.Index(server, "/"); idx != -1 {
		return server[idx+1:]
	}
	return ""
}
