// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/Manuelgonzalesabc/kolibri/internal/version"
)

// deviceInfoPath is the path peers request the local device info on.
const deviceInfoPath = "/api/public/info"

// deviceInfo is the wire format of the device info endpoint.  It mirrors
// what the prober expects from peers.
type deviceInfo struct {
	InstanceID          string `json:"instance_id"`
	DeviceName          string `json:"device_name"`
	ApplicationVersion  string `json:"application_version"`
	SubsetOfUsersDevice bool   `json:"subset_of_users_device"`
}

// infoServer serves the local device info over HTTP so peers can probe
// this device.
type infoServer struct {
	info   deviceInfo
	server *http.Server
}

// newInfoServer returns an info server that reports the provided instance
// identifier and the daemon's configured device metadata.
func newInfoServer(cfg *config, instanceID string) *infoServer {
	return &infoServer{
		info: deviceInfo{
			InstanceID:          instanceID,
			DeviceName:          cfg.DeviceName,
			ApplicationVersion:  version.String(),
			SubsetOfUsersDevice: cfg.SubsetOfUsers,
		},
	}
}

// handler returns the HTTP handler serving the device info endpoint.
func (s *infoServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(deviceInfoPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(&s.info); err != nil {
			srvrLog.Warnf("Failed to write device info response: %v", err)
		}
	})
	return mux
}

// Start binds a listener to the provided address and serves the device
// info endpoint in the background until Stop is called.
func (s *infoServer) Start(listenAddr string) error {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: time.Second * 3,
	}
	srvrLog.Infof("Device info server listening on %s", listener.Addr())
	go func() {
		err := s.server.Serve(listener)
		if err != http.ErrServerClosed {
			srvrLog.Errorf("Device info server exited with unexpected "+
				"error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the info server down.  It has no effect when the
// server was never started.
func (s *infoServer) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		srvrLog.Warnf("Failed to stop device info server: %v", err)
	}
}
