// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/Manuelgonzalesabc/kolibri/netloc"
)

const (
	// connectionFaultLimit is the number of consecutive failed probes
	// after which no further retries are scheduled for a location.
	connectionFaultLimit = 10

	// dynamicStoreAttempts is the maximum number of times storing a
	// discovered instance is attempted when the location store reports
	// transient contention.
	dynamicStoreAttempts = 5

	// backoffUnit is the base unit of the exponential retry backoff.  The
	// delay before the next probe of an unreachable location is
	// 2^faults of this unit.
	backoffUnit = time.Minute
)

// dynamicStoreRetryDelay is the fixed pause between attempts to store a
// discovered instance while the location store reports transient
// contention.  It is intentionally distinct from the exponential probe
// backoff since it covers an infrastructure hiccup rather than peer
// unreachability.  It is a variable so it can be shortened when running
// tests.
var dynamicStoreRetryDelay = 100 * time.Millisecond

// Outcome represents the result of probing a peer.
type Outcome uint8

// Outcome can be reachable, unreachable or conflict.  Conflict indicates
// the peer reported an identity that collides with the one it was
// discovered under.
const (
	OutcomeUnreachable Outcome = iota
	OutcomeReachable
	OutcomeConflict
)

// ProbeResult describes the outcome of probing a peer along with the
// metadata the peer reported about itself.  The metadata fields are only
// meaningful for a reachable outcome.
type ProbeResult struct {
	Outcome            Outcome
	DeviceName         string
	ApplicationVersion string
	SubsetOfUsers      bool
}

// Instance describes a peer seen on the local-network broadcast.  It is
// the manager's view of a discovered instance, decoupled from whatever
// transport produced it.
type Instance struct {
	// ID is the identifier the instance advertises for itself.
	ID string

	// BaseURL is the root URL the instance serves its API from.
	BaseURL string

	// IP is the address the instance was seen at.
	IP string

	// DeviceName is the human-readable name the instance advertises.
	DeviceName string

	// ApplicationVersion is the version the instance advertises.
	ApplicationVersion string

	// SubsetOfUsers indicates the instance advertises itself as holding
	// data for a restricted subset of users only.
	SubsetOfUsers bool
}

// location converts the instance into a dynamic location record scoped to
// the provided broadcast epoch.
func (inst *Instance) location(epoch string) *netloc.Location {
	return &netloc.Location{
		ID:                 inst.ID,
		BaseURL:            inst.BaseURL,
		IPAddress:          inst.IP,
		DeviceName:         inst.DeviceName,
		ApplicationVersion: inst.ApplicationVersion,
		SubsetOfUsers:      inst.SubsetOfUsers,
		Dynamic:            true,
		BroadcastEpoch:     epoch,
	}
}

// LocationStore is the interface the manager requires of the location
// store.  It is satisfied by *netloc.Store.
type LocationStore interface {
	// Get returns the location with the provided identifier or an error
	// with kind netloc.ErrLocationNotFound.
	Get(id string) (*netloc.Location, error)

	// GetDynamic returns the dynamic location with the provided
	// identifier scoped to the given broadcast epoch.
	GetDynamic(id, epoch string) (*netloc.Location, error)

	// UpdateOrCreate stores the provided record, creating it when no
	// record with its identifier exists yet, and returns the stored
	// record.
	UpdateOrCreate(loc *netloc.Location) (*netloc.Location, bool, error)

	// Update persists the provided record over an existing one.
	Update(loc *netloc.Location) error

	// Delete removes the record with the provided identifier.
	Delete(id string) error

	// Statics returns every static location.
	Statics() ([]*netloc.Location, error)

	// ReachableOutsideEpoch returns every currently reachable location
	// that does not belong to the provided broadcast epoch.
	ReachableOutsideEpoch(epoch string) ([]*netloc.Location, error)

	// DeleteDynamicOutsideEpoch removes every dynamic location that does
	// not belong to the provided broadcast epoch.
	DeleteDynamicOutsideEpoch(epoch string) (int, error)

	// ResetStatusOutsideEpoch sets the status to unknown for every
	// location that does not belong to the provided broadcast epoch.
	ResetStatusOutsideEpoch(epoch string) error
}

// Config holds the configuration options related to the discovery manager.
type Config struct {
	// Store is the location store holding the peer records the manager
	// reconciles.
	Store LocationStore

	// Probe performs the actual network check against one location and
	// yields its outcome.  A returned error is treated as a failed probe
	// and never propagated.  The prober is expected to enforce its own
	// timeout.
	Probe func(ctx context.Context, loc *netloc.Location) (ProbeResult, error)

	// Enqueue submits a job for immediate execution to the dispatcher.
	// The identifier deduplicates pending work: submitting an identifier
	// that already has a pending job must not create a second one.
	Enqueue func(id string, task func(context.Context) error)

	// EnqueueAfter submits a job for execution after the provided delay.
	// The identifier deduplicates pending work exactly as for Enqueue.
	EnqueueAfter func(delay time.Duration, id string, task func(context.Context) error)

	// SubsetOfUsersDevice reports whether the local device only holds
	// data for a restricted subset of users.  When both the local device
	// and a target location are such devices, probing is skipped
	// entirely to avoid cross-talk between restricted-membership nodes.
	// It may be nil, in which case the local device is assumed not to
	// be one.
	SubsetOfUsersDevice func() bool

	// Hooks is the registry of connectivity observers.  It may be nil,
	// in which case a fresh empty registry is used.
	Hooks *HookRegistry
}

// Manager reconciles the peer location set against broadcast events and
// tracks each location's connection health.  Its entry points are invoked
// by dispatcher jobs and may run concurrently for different locations.
type Manager struct {
	cfg Config
}

// New returns a new discovery manager with the provided configuration.
func New(cfg *Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, ErrStoreNil
	}
	if cfg.Probe == nil {
		return nil, ErrProbeNil
	}
	if cfg.Enqueue == nil || cfg.EnqueueAfter == nil {
		return nil, ErrDispatchNil
	}
	if cfg.SubsetOfUsersDevice == nil {
		cfg.SubsetOfUsersDevice = func() bool { return false }
	}
	if cfg.Hooks == nil {
		cfg.Hooks = NewHookRegistry()
	}
	m := Manager{
		cfg: *cfg, // Copy so caller can't mutate
	}
	return &m, nil
}

// Hooks returns the registry connectivity observers register with.
func (m *Manager) Hooks() *HookRegistry {
	return m.cfg.Hooks
}

// updateConnectionStatus probes the provided location, persists the
// resulting status and fault count, and dispatches hooks when the
// transition crosses into or out of the reachable status.  It never
// returns an error: prober and storage failures are logged and the prior
// status is reported as still current.
//
// The returned flag indicates whether an observable transition occurred.
func (m *Manager) updateConnectionStatus(ctx context.Context, loc *netloc.Location) (netloc.ConnectionStatus, bool) {
	prior := loc.Status

	result, err := m.cfg.Probe(ctx, loc)
	if err != nil {
		log.Debugf("Probe of %s failed: %v", loc, err)
		result = ProbeResult{Outcome: OutcomeUnreachable}
	}

	switch result.Outcome {
	case OutcomeReachable:
		loc.Status = netloc.StatusReachable
		loc.ConnectionFaults = 0
		if result.DeviceName != "" {
			loc.DeviceName = result.DeviceName
		}
		if result.ApplicationVersion != "" {
			loc.ApplicationVersion = result.ApplicationVersion
		}
		loc.SubsetOfUsers = result.SubsetOfUsers
	case OutcomeConflict:
		loc.Status = netloc.StatusConflict
		loc.ConnectionFaults++
	default:
		loc.Status = netloc.StatusUnreachable
		loc.ConnectionFaults++
	}

	if err := m.cfg.Store.Update(loc); err != nil {
		log.Warnf("Failed to update connection status for %s: %v", loc,
			err)
		loc.Status = prior
		return prior, false
	}

	// Only edges into or out of the reachable status are observable.
	// Transitions among the remaining statuses are intermediate churn
	// observers must not be bothered with.
	newStatus := loc.Status
	transitioned := newStatus != prior &&
		(newStatus == netloc.StatusReachable ||
			prior == netloc.StatusReachable)
	if transitioned {
		log.Infof("Location %s transitioned from %v to %v", loc.ID,
			prior, newStatus)
		m.cfg.Hooks.dispatch(loc, newStatus == netloc.StatusReachable)
	}
	return newStatus, transitioned
}

// updateTask returns a dispatcher task that performs a connection status
// update for the location with the provided identifier.
func (m *Manager) updateTask(id string) func(context.Context) error {
	return func(ctx context.Context) error {
		return m.PerformUpdate(ctx, id)
	}
}

// RequestUpdate submits an immediate status update for the location with
// the provided identifier.  The job identifier is the same one the retry
// path uses, so a request for a location that already has an update
// pending collapses onto it.
func (m *Manager) RequestUpdate(locationID string) {
	m.cfg.Enqueue(connectJobID(locationID), m.updateTask(locationID))
}

// scheduleRetry submits a delayed status update for the provided location
// with an exponential backoff derived from its accumulated fault count.
// The deterministic job identifier makes repeated scheduling for the same
// location collapse onto the same pending job slot in the dispatcher.
func (m *Manager) scheduleRetry(loc *netloc.Location) {
	delay := (time.Duration(1) << loc.ConnectionFaults) * backoffUnit
	log.Debugf("Scheduling status update for %s in %v", loc, delay)
	m.cfg.EnqueueAfter(delay, connectJobID(loc.ID), m.updateTask(loc.ID))
}

// PerformUpdate updates the connection status for the location with the
// provided identifier and schedules a retry with backoff when the location
// remains unreachable.
//
// A missing location is not an error since dynamic locations may have been
// removed while an update job for them was pending.  The retry chain
// terminates once the fault limit is reached or a detected identity
// conflict proves stable across consecutive probes, since re-probing will
// not resolve it.
func (m *Manager) PerformUpdate(ctx context.Context, locationID string) error {
	loc, err := m.cfg.Store.Get(locationID)
	if errors.Is(err, netloc.ErrLocationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	// Restricted-membership devices do not probe each other.
	if m.cfg.SubsetOfUsersDevice() && loc.SubsetOfUsers {
		return nil
	}

	prior := loc.Status
	newStatus, _ := m.updateConnectionStatus(ctx, loc)

	if loc.ConnectionFaults >= connectionFaultLimit {
		log.Infof("Giving up on %s after %d connection faults", loc,
			loc.ConnectionFaults)
		return nil
	}
	if newStatus == netloc.StatusConflict && prior == netloc.StatusConflict {
		log.Infof("Identity conflict for %s is stable -- no further "+
			"probes", loc)
		return nil
	}

	if newStatus != netloc.StatusReachable {
		m.scheduleRetry(loc)
	}
	return nil
}

// AddDynamicLocation stores a dynamic location for an instance seen on the
// local-network broadcast, scoped to the broadcast epoch that produced it,
// and immediately performs one status update for it.
//
// Transient store contention is retried a bounded number of times with a
// fixed pause.  A validation failure means the instance advertised
// malformed or incomplete metadata; it is logged and the location is not
// created.  Any other store error is propagated.
func (m *Manager) AddDynamicLocation(ctx context.Context, epoch string, inst *Instance) error {
	log.Debugf("Storing dynamic location for instance %s in epoch %s",
		inst.ID, epoch)

	var stored *netloc.Location
	for attempt := 0; attempt < dynamicStoreAttempts; attempt++ {
		var err error
		stored, _, err = m.cfg.Store.UpdateOrCreate(inst.location(epoch))
		if err == nil {
			break
		}
		if errors.Is(err, netloc.ErrInvalidLocation) {
			log.Warnf("Instance %s was seen on the local network, "+
				"but its metadata is unusable (base URL %q): %v",
				inst.ID, inst.BaseURL, err)
			return nil
		}
		if !errors.Is(err, netloc.ErrStoreBusy) {
			return err
		}
		log.Debugf("Location store busy while storing instance %s "+
			"(attempt %d)", inst.ID, attempt+1)

		// Only pause when another attempt remains.
		if attempt == dynamicStoreAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dynamicStoreRetryDelay):
		}
	}
	if stored == nil {
		log.Warnf("Giving up storing dynamic location for instance %s "+
			"after %d attempts", inst.ID, dynamicStoreAttempts)
		return nil
	}

	newStatus, _ := m.updateConnectionStatus(ctx, stored)
	if newStatus != netloc.StatusReachable {
		m.scheduleRetry(stored)
	}
	return nil
}

// RemoveDynamicLocation deletes the dynamic location matching the provided
// instance and broadcast epoch.  Removal always signals a disconnect to
// the registered hooks regardless of the stored status.  A missing record
// is a no-op.
func (m *Manager) RemoveDynamicLocation(epoch string, inst *Instance) error {
	loc, err := m.cfg.Store.GetDynamic(inst.ID, epoch)
	if errors.Is(err, netloc.ErrLocationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Infof("Removing %s after it vanished from the local network", loc)
	m.cfg.Hooks.dispatch(loc, false)
	return m.cfg.Store.Delete(loc.ID)
}

// ResetConnectionStates reconciles the location set against a new
// broadcast epoch.  Every location that was reachable but does not belong
// to the new epoch signals a disconnect, stale dynamic locations are
// purged, the status of every remaining location outside the epoch is
// reset to unknown, and an immediate status update is enqueued for every
// static location.
func (m *Manager) ResetConnectionStates(ctx context.Context, epoch string) error {
	log.Infof("Resetting connection states for broadcast epoch %s", epoch)

	reachable, err := m.cfg.Store.ReachableOutsideEpoch(epoch)
	if err != nil {
		return err
	}
	for _, loc := range reachable {
		m.cfg.Hooks.dispatch(loc, false)
	}

	removed, err := m.cfg.Store.DeleteDynamicOutsideEpoch(epoch)
	if err != nil {
		return err
	}
	if removed > 0 {
		log.Infof("Purged %d stale dynamic locations", removed)
	}

	if err := m.cfg.Store.ResetStatusOutsideEpoch(epoch); err != nil {
		return err
	}

	statics, err := m.cfg.Store.Statics()
	if err != nil {
		return err
	}
	for _, loc := range statics {
		m.cfg.Enqueue(connectJobID(loc.ID), m.updateTask(loc.ID))
	}
	return nil
}
