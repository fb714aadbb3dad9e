// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package probe implements connection checks against peer devices by
// requesting their public device info over HTTP.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Manuelgonzalesabc/kolibri/discovery"
	"github.com/Manuelgonzalesabc/kolibri/netloc"
	"github.com/decred/go-socks/socks"
)

const (
	// defaultTimeout is the maximum time a single probe is allowed to
	// take when no timeout is configured.
	defaultTimeout = 5 * time.Second

	// infoPath is the path of the public device info endpoint relative
	// to a device's base URL.
	infoPath = "/api/public/info"

	// maxInfoSize is the maximum size of a device info response that
	// will be read.
	maxInfoSize = 1 << 16 // 64 KiB
)

// deviceInfo is the wire format of the public device info endpoint.
type deviceInfo struct {
	InstanceID          string `json:"instance_id"`
	DeviceName          string `json:"device_name"`
	ApplicationVersion  string `json:"application_version"`
	SubsetOfUsersDevice bool   `json:"subset_of_users_device"`
}

// Config holds the configuration options related to the prober.
type Config struct {
	// Timeout is the maximum time a single probe is allowed to take.
	// Defaults to a sane value when unset.
	Timeout time.Duration

	// Proxy specifies a SOCKS5 proxy in host:port form to route probes
	// through.  Probes dial directly when unset.
	Proxy string

	// ProxyUser and ProxyPass specify the credentials for the proxy
	// when it requires authentication.
	ProxyUser string
	ProxyPass string
}

// Prober performs connection checks against peer devices over HTTP.
type Prober struct {
	client *http.Client
}

// New returns a new prober with the provided configuration.
func New(cfg *Config) *Prober {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	dialer := &net.Dialer{Timeout: timeout}
	dial := dialer.DialContext
	if cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     cfg.Proxy,
			Username: cfg.ProxyUser,
			Password: cfg.ProxyPass,
		}
		dial = proxy.DialContext
		log.Infof("Probing devices via proxy %s", cfg.Proxy)
	}

	return &Prober{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: dial,
			},
		},
	}
}

// infoURL returns the public device info URL for the provided base URL.
func infoURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + infoPath
}

// Check requests the public device info of the provided location and
// classifies the result.
//
// A device that answers with info matching the identifier the location is
// known under is reachable.  A device that answers with a different
// identifier is classified as a conflict, meaning the address is now
// served by some other device.  Transport failures, unexpected status
// codes and undecodable responses are reported as errors, which callers
// treat as the device being unreachable.
func (p *Prober) Check(ctx context.Context, loc *netloc.Location) (discovery.ProbeResult, error) {
	var result discovery.ProbeResult

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		infoURL(loc.BaseURL), nil)
	if err != nil {
		return result, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("%s responded with status %d",
			loc.BaseURL, resp.StatusCode)
	}

	var info deviceInfo
	body := io.LimitReader(resp.Body, maxInfoSize)
	if err := json.NewDecoder(body).Decode(&info); err != nil {
		return result, fmt.Errorf("undecodable device info from %s: %w",
			loc.BaseURL, err)
	}

	result.DeviceName = info.DeviceName
	result.ApplicationVersion = info.ApplicationVersion
	result.SubsetOfUsers = info.SubsetOfUsersDevice

	// The address answering under a different identifier means the
	// device the location was recorded for is gone and something else
	// took its place.
	if info.InstanceID != loc.ID {
		log.Debugf("Device at %s identifies as %s, expected %s",
			loc.BaseURL, info.InstanceID, loc.ID)
		result.Outcome = discovery.OutcomeConflict
		return result, nil
	}

	result.Outcome = discovery.OutcomeReachable
	return result, nil
}
