// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Manuelgonzalesabc/kolibri/broadcast"
	"github.com/Manuelgonzalesabc/kolibri/discovery"
	"github.com/Manuelgonzalesabc/kolibri/internal/version"
	"github.com/Manuelgonzalesabc/kolibri/netloc"
	"github.com/Manuelgonzalesabc/kolibri/probe"
	"github.com/Manuelgonzalesabc/kolibri/taskqueue"
	"github.com/google/uuid"
)

const (
	// instanceIDFilename is the name of the file within the data directory
	// that holds the persistent identifier of the local device.
	instanceIDFilename = "instance.id"

	// locationStoreDirname is the name of the directory within the data
	// directory that holds the location store.
	locationStoreDirname = "netloc"
)

// loadInstanceID returns the persistent identifier of the local device,
// generating and storing a fresh one on first run.
func loadInstanceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, instanceIDFilename)
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("unable to store instance identifier: %w", err)
	}
	srvrLog.Infof("Generated new instance identifier %s", id)
	return id, nil
}

// connectionLogHook logs connectivity transitions of peer devices.
type connectionLogHook struct{}

func (connectionLogHook) Name() string {
	return "connection-log"
}

func (connectionLogHook) OnConnect(loc *netloc.Location) error {
	srvrLog.Infof("Device %s is now reachable", loc)
	return nil
}

func (connectionLogHook) OnDisconnect(loc *netloc.Location) error {
	srvrLog.Infof("Device %s is no longer reachable", loc)
	return nil
}

// server wires the subsystems of the daemon together and manages their
// lifetimes.
type server struct {
	cfg         *config
	store       *netloc.Store
	scheduler   *taskqueue.Scheduler
	manager     *discovery.Manager
	broadcaster *broadcast.Broadcaster // nil when broadcasting is disabled
	info        *infoServer            // nil when no listen address is set

	wg sync.WaitGroup
}

// broadcastListener translates broadcast events into dispatcher jobs that
// drive the discovery manager.  Callbacks run on the broadcaster's
// goroutines, so they only enqueue work.
type broadcastListener struct {
	s *server
}

func (l *broadcastListener) InstanceAppeared(epochID string, inst *broadcast.Instance) {
	s := l.s
	di := &discovery.Instance{
		ID:                 inst.ID,
		BaseURL:            inst.BaseURL,
		IP:                 inst.IP,
		ApplicationVersion: inst.ApplicationVersion,
	}
	s.scheduler.Enqueue("peer-appeared-"+inst.ID, func(ctx context.Context) error {
		return s.manager.AddDynamicLocation(ctx, epochID, di)
	})
}

func (l *broadcastListener) InstanceVanished(epochID string, inst *broadcast.Instance) {
	s := l.s
	di := &discovery.Instance{ID: inst.ID}
	s.scheduler.Enqueue("peer-vanished-"+inst.ID, func(context.Context) error {
		return s.manager.RemoveDynamicLocation(epochID, di)
	})
}

func (l *broadcastListener) EpochChanged(newEpochID string) {
	s := l.s
	s.scheduler.Enqueue(discovery.ResetJobID, func(ctx context.Context) error {
		return s.manager.ResetConnectionStates(ctx, newEpochID)
	})
}

// newServer returns a new server configured to act on the provided
// configuration.  Use Run to start it.
func newServer(cfg *config) (*server, error) {
	store, err := netloc.Open(filepath.Join(cfg.DataDir, locationStoreDirname))
	if err != nil {
		return nil, fmt.Errorf("unable to open location store: %w", err)
	}

	prober := probe.New(&probe.Config{
		Timeout:   cfg.ProbeTimeout,
		Proxy:     cfg.Proxy,
		ProxyUser: cfg.ProxyUser,
		ProxyPass: cfg.ProxyPass,
	})

	scheduler := taskqueue.New(&taskqueue.Config{
		Workers: cfg.Workers,
	})

	hooks := discovery.NewHookRegistry()
	hooks.Register(connectionLogHook{})

	manager, err := discovery.New(&discovery.Config{
		Store: store,
		Probe: prober.Check,
		Enqueue: func(id string, task func(context.Context) error) {
			scheduler.Enqueue(id, task)
		},
		EnqueueAfter: func(delay time.Duration, id string, task func(context.Context) error) {
			scheduler.EnqueueAfter(delay, id, task)
		},
		SubsetOfUsersDevice: func() bool { return cfg.SubsetOfUsers },
		Hooks:               hooks,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	s := &server{
		cfg:       cfg,
		store:     store,
		scheduler: scheduler,
		manager:   manager,
	}

	instanceID, err := loadInstanceID(cfg.DataDir)
	if err != nil {
		store.Close()
		return nil, err
	}
	if cfg.Listen != "" {
		s.info = newInfoServer(cfg, instanceID)
	}

	if !cfg.NoBroadcast {
		s.broadcaster, err = broadcast.New(&broadcast.Config{
			Instance: broadcast.Instance{
				ID:                 instanceID,
				BaseURL:            cfg.BaseURL,
				ApplicationVersion: version.String(),
			},
			AliveInterval: cfg.AliveInterval,
			Listener:      &broadcastListener{s: s},
		})
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	if err := s.seedStaticPeers(); err != nil {
		store.Close()
		return nil, err
	}

	return s, nil
}

// seedStaticPeers reconciles the stored static locations against the
// configured static peers: peers without a stored record are created and
// records whose peer is no longer configured are removed.  Records that
// survive keep their identifier and accumulated connection state.
func (s *server) seedStaticPeers() error {
	existing, err := s.store.Statics()
	if err != nil {
		return err
	}
	byURL := make(map[string]*netloc.Location, len(existing))
	for _, loc := range existing {
		byURL[strings.TrimRight(loc.BaseURL, "/")] = loc
	}

	configured := make(map[string]struct{}, len(s.cfg.StaticPeers))
	for _, peer := range s.cfg.StaticPeers {
		configured[peer] = struct{}{}
		if _, ok := byURL[peer]; ok {
			continue
		}
		loc := &netloc.Location{
			ID:      uuid.NewString(),
			BaseURL: peer,
		}
		if _, _, err := s.store.UpdateOrCreate(loc); err != nil {
			return fmt.Errorf("unable to store static peer %s: %w", peer, err)
		}
		srvrLog.Infof("Added static peer %s", peer)
	}

	for peerURL, loc := range byURL {
		if _, ok := configured[peerURL]; ok {
			continue
		}
		if err := s.store.Delete(loc.ID); err != nil {
			return fmt.Errorf("unable to remove static peer %s: %w", peerURL,
				err)
		}
		srvrLog.Infof("Removed static peer %s", peerURL)
	}

	return nil
}

// Run starts the server and blocks until the provided context is
// cancelled, at which point it shuts the subsystems down in order and
// closes the location store.
func (s *server) Run(ctx context.Context) {
	srvrLog.Infof("Starting %d job workers", s.cfg.Workers)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scheduler.Run(ctx)
	}()

	if s.info != nil {
		if err := s.info.Start(s.cfg.Listen); err != nil {
			srvrLog.Errorf("Unable to start device info server: %v", err)
		}
	}

	if s.broadcaster != nil {
		// Starting the broadcaster generates a fresh broadcast epoch,
		// which enqueues a connection state reset that in turn probes
		// every static peer.
		if err := s.broadcaster.Start(); err != nil {
			srvrLog.Errorf("Unable to start broadcaster: %v", err)
		}
	} else {
		// Without the broadcaster there is no epoch change to trigger
		// probing, so request an update for every static peer directly.
		statics, err := s.store.Statics()
		if err != nil {
			srvrLog.Errorf("Unable to enumerate static peers: %v", err)
		}
		for _, loc := range statics {
			s.manager.RequestUpdate(loc.ID)
		}
	}

	<-ctx.Done()
	srvrLog.Info("Server shutting down")

	if s.broadcaster != nil {
		if err := s.broadcaster.Stop(); err != nil {
			srvrLog.Warnf("Failed to stop broadcaster: %v", err)
		}
	}
	if s.info != nil {
		s.info.Stop()
	}
	s.wg.Wait()

	if err := s.store.Close(); err != nil {
		srvrLog.Errorf("Failed to close location store: %v", err)
	}
	srvrLog.Info("Server shutdown complete")
}
