// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package broadcast advertises the local device on the local network and
// watches for peer announcements, translating them into discovery events.
//
// Peers are announced over SSDP.  All instances discovered together share
// a broadcast epoch identifier; a fresh epoch is generated whenever the
// broadcaster (re)starts, signalling a network-context change to the
// registered listener.
package broadcast

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koron/go-ssdp"
)

const (
	// DefaultServiceType is the SSDP service type announcements are made
	// under by default.
	DefaultServiceType = "urn:kolibri-net:service:discovery:1"

	// DefaultAliveInterval is the default period between repeated
	// presence announcements.
	DefaultAliveInterval = 30 * time.Second

	// announcementMaxAge is the validity period in seconds peers are
	// told to assume for an announcement.
	announcementMaxAge = 90
)

// Listener is the interface through which the broadcaster reports
// discovery events.  Callbacks execute on the broadcaster's goroutines and
// are expected to hand work off quickly.
type Listener interface {
	// InstanceAppeared is invoked when a peer announces itself on the
	// local network.
	InstanceAppeared(epochID string, inst *Instance)

	// InstanceVanished is invoked when a peer announces its departure.
	// Only the instance identifier is populated since departure
	// announcements carry no further metadata.
	InstanceVanished(epochID string, inst *Instance)

	// EpochChanged is invoked with a fresh broadcast epoch identifier
	// whenever the broadcaster starts or the network context changes.
	EpochChanged(newEpochID string)
}

// Config holds the configuration options related to the broadcaster.
type Config struct {
	// Instance describes the local device to advertise.
	Instance Instance

	// ServiceType is the SSDP service type to announce and monitor.
	// Defaults to DefaultServiceType.
	ServiceType string

	// AliveInterval is the period between repeated presence
	// announcements.  Defaults to DefaultAliveInterval.
	AliveInterval time.Duration

	// Listener receives the discovery events the broadcaster produces.
	Listener Listener
}

// announcer is the subset of the SSDP advertiser the broadcaster drives
// after startup.  It is satisfied by *ssdp.Advertiser.
type announcer interface {
	Alive() error
	Bye() error
	Close() error
}

// Broadcaster advertises the local instance and monitors the local
// network for peer announcements.
type Broadcaster struct {
	// cfg specifies the configuration of the broadcaster and is set at
	// creation time and treated as immutable after that.
	cfg Config

	// The following fields are protected by mtx.
	mtx        sync.Mutex
	epoch      string
	advertiser announcer
	monitor    *ssdp.Monitor
	quit       chan struct{}
	started    bool

	wg sync.WaitGroup
}

// New returns a new broadcaster with the provided configuration.
//
// Use Start to begin advertising and monitoring.
func New(cfg *Config) (*Broadcaster, error) {
	if err := cfg.Instance.Validate(); err != nil {
		return nil, err
	}
	if cfg.Listener == nil {
		return nil, ErrListenerNil
	}
	// Default to sane values.
	if cfg.ServiceType == "" {
		cfg.ServiceType = DefaultServiceType
	}
	if cfg.AliveInterval <= 0 {
		cfg.AliveInterval = DefaultAliveInterval
	}
	b := Broadcaster{
		cfg: *cfg, // Copy so caller can't mutate
	}
	return &b, nil
}

// Epoch returns the current broadcast epoch identifier.  It is empty
// before the broadcaster has been started.
func (b *Broadcaster) Epoch() string {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.epoch
}

// serverID returns the server identification announcements carry.
func (b *Broadcaster) serverID() string {
	if b.cfg.Instance.ApplicationVersion == "" {
		return "kolibri"
	}
	return fmt.Sprintf("kolibri/%s", b.cfg.Instance.ApplicationVersion)
}

// Start begins monitoring the local network and advertising the local
// instance.  A fresh broadcast epoch is generated and reported to the
// listener before any peer announcement is delivered.
func (b *Broadcaster) Start() error {
	b.mtx.Lock()
	if b.started {
		b.mtx.Unlock()
		return ErrAlreadyStarted
	}

	monitor := &ssdp.Monitor{
		Alive: b.handleAlive,
		Bye:   b.handleBye,
	}
	if err := monitor.Start(); err != nil {
		b.mtx.Unlock()
		return err
	}

	usn := formatUSN(b.cfg.Instance.ID, b.cfg.ServiceType)
	advertiser, err := ssdp.Advertise(b.cfg.ServiceType, usn,
		b.cfg.Instance.BaseURL, b.serverID(), announcementMaxAge)
	if err != nil {
		_ = monitor.Close()
		b.mtx.Unlock()
		return err
	}

	b.monitor = monitor
	b.advertiser = advertiser
	b.quit = make(chan struct{})
	b.started = true
	b.epoch = uuid.NewString()
	epoch := b.epoch
	quit := b.quit
	b.mtx.Unlock()

	log.Infof("Advertising %s with broadcast epoch %s",
		&b.cfg.Instance, epoch)
	b.cfg.Listener.EpochChanged(epoch)

	b.wg.Add(1)
	go b.aliveLoop(advertiser, quit)
	return nil
}

// Restart generates a fresh broadcast epoch and re-announces the local
// instance.  It is intended to be invoked when the network context
// changes, such as after a network interface change.
func (b *Broadcaster) Restart() error {
	b.mtx.Lock()
	if !b.started {
		b.mtx.Unlock()
		return ErrNotStarted
	}
	advertiser := b.advertiser
	b.epoch = uuid.NewString()
	epoch := b.epoch
	b.mtx.Unlock()

	log.Infof("Network context changed -- new broadcast epoch %s", epoch)
	b.cfg.Listener.EpochChanged(epoch)

	if err := advertiser.Alive(); err != nil {
		log.Warnf("Failed to re-announce presence: %v", err)
	}
	return nil
}

// Stop announces the local instance's departure and releases the
// broadcaster's network resources.
func (b *Broadcaster) Stop() error {
	b.mtx.Lock()
	if !b.started {
		b.mtx.Unlock()
		return ErrNotStarted
	}
	b.started = false
	advertiser := b.advertiser
	monitor := b.monitor
	quit := b.quit
	b.mtx.Unlock()

	close(quit)
	b.wg.Wait()

	if err := advertiser.Bye(); err != nil {
		log.Warnf("Failed to announce departure: %v", err)
	}
	_ = advertiser.Close()
	return monitor.Close()
}

// aliveLoop periodically re-announces the local instance's presence until
// the quit channel is closed.  It must be run as a goroutine.
func (b *Broadcaster) aliveLoop(advertiser announcer, quit chan struct{}) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.AliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := advertiser.Alive(); err != nil {
				log.Warnf("Failed to announce presence: %v", err)
			}

		case <-quit:
			return
		}
	}
}

// handleAlive translates a peer's presence announcement into an
// InstanceAppeared event.  Announcements for foreign service types, the
// local instance itself and malformed announcements are ignored.
func (b *Broadcaster) handleAlive(m *ssdp.AliveMessage) {
	if m.Type != b.cfg.ServiceType {
		return
	}
	inst, err := parseInstance(m.USN, m.Location, m.Server)
	if err != nil {
		log.Debugf("Ignoring malformed announcement from %s: %v",
			m.From, err)
		return
	}
	if inst.ID == b.cfg.Instance.ID {
		return
	}
	log.Debugf("Instance %s announced itself", inst.ID)
	b.cfg.Listener.InstanceAppeared(b.Epoch(), inst)
}

// handleBye translates a peer's departure announcement into an
// InstanceVanished event.
func (b *Broadcaster) handleBye(m *ssdp.ByeMessage) {
	if m.Type != b.cfg.ServiceType {
		return
	}
	id, err := parseUSN(m.USN)
	if err != nil {
		log.Debugf("Ignoring malformed departure from %s: %v",
			m.From, err)
		return
	}
	if id == b.cfg.Instance.ID {
		return
	}
	log.Debugf("Instance %s announced its departure", id)
	b.cfg.Listener.InstanceVanished(b.Epoch(), &Instance{ID: id})
}
