// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netloc

import (
	"fmt"
	"net/url"
)

// ConnectionStatus represents the reachability of a network location as
// determined by the most recent probe.
type ConnectionStatus uint8

// ConnectionStatus can be unknown, reachable, unreachable or conflict.
// Unknown is the initial value for any freshly created or reset record.
// Conflict denotes a detected identity collision rather than a simple
// unreachability and is produced by the prober, never derived locally.
const (
	StatusUnknown ConnectionStatus = iota
	StatusReachable
	StatusUnreachable
	StatusConflict
)

// String returns the connection status in human-readable form.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusReachable:
		return "reachable"
	case StatusUnreachable:
		return "unreachable"
	case StatusConflict:
		return "conflict"
	}
	return fmt.Sprintf("unknown status (%d)", uint8(s))
}

// Location represents a single peer network location along with the state
// the discovery subsystem tracks for it.  The Dynamic field discriminates
// between the two variants: administrator-configured static locations and
// locations discovered via local-network broadcast.  BroadcastEpoch is only
// meaningful for dynamic locations.
type Location struct {
	// ID is the stable identifier for the location.  Static locations are
	// assigned an identifier at creation while dynamic locations derive
	// theirs from the discovered instance's own advertised identifier.
	ID string `json:"id"`

	// BaseURL is the root URL the peer serves its API from.
	BaseURL string `json:"base_url"`

	// IPAddress is the address the peer was last seen at.
	IPAddress string `json:"ip_address"`

	// DeviceName is the human-readable name the peer reports for itself.
	DeviceName string `json:"device_name"`

	// ApplicationVersion is the version the peer reports for itself.
	ApplicationVersion string `json:"application_version"`

	// SubsetOfUsers indicates the peer only holds data for a restricted
	// subset of users.  Two such devices are never probed against each
	// other.
	SubsetOfUsers bool `json:"subset_of_users"`

	// Dynamic discriminates discovered locations from configured ones.
	Dynamic bool `json:"dynamic"`

	// BroadcastEpoch ties a dynamic location to the discovery session
	// that produced it.  A dynamic location whose epoch does not match
	// the current broadcast epoch is stale and subject to purge.  It is
	// always empty for static locations.
	BroadcastEpoch string `json:"broadcast_epoch,omitempty"`

	// Status is the connection status determined by the latest probe.
	Status ConnectionStatus `json:"status"`

	// ConnectionFaults counts consecutive failed probes.  It drives the
	// exponential retry backoff and the hard retry limit, and resets to
	// zero when a probe succeeds.
	ConnectionFaults uint32 `json:"connection_faults"`
}

// String returns a human-readable string for the location.
func (loc *Location) String() string {
	variant := "static"
	if loc.Dynamic {
		variant = "dynamic"
	}
	return fmt.Sprintf("%s location %s (%s)", variant, loc.ID, loc.BaseURL)
}

// Validate returns an ErrInvalidLocation error when the location record is
// malformed or incomplete.
func (loc *Location) Validate() error {
	if loc.ID == "" {
		return storeError(ErrInvalidLocation, "location identifier "+
			"must not be empty")
	}
	u, err := url.Parse(loc.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		desc := fmt.Sprintf("location %s has invalid base URL %q",
			loc.ID, loc.BaseURL)
		return storeError(ErrInvalidLocation, desc)
	}
	if loc.Dynamic && loc.BroadcastEpoch == "" {
		desc := fmt.Sprintf("dynamic location %s has no broadcast epoch",
			loc.ID)
		return storeError(ErrInvalidLocation, desc)
	}
	if !loc.Dynamic && loc.BroadcastEpoch != "" {
		desc := fmt.Sprintf("static location %s must not carry a "+
			"broadcast epoch", loc.ID)
		return storeError(ErrInvalidLocation, desc)
	}
	return nil
}
