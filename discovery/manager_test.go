// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Manuelgonzalesabc/kolibri/netloc"
)

func init() {
	// Shorten the fixed store-contention pause so retry tests run
	// quickly.
	dynamicStoreRetryDelay = time.Millisecond
}

// scheduledJob records a single submission to the mock dispatcher.
type scheduledJob struct {
	id        string
	delay     time.Duration
	immediate bool
	task      func(context.Context) error
}

// mockDispatcher records job submissions instead of executing them.
type mockDispatcher struct {
	jobs []scheduledJob
}

func (d *mockDispatcher) enqueue(id string, task func(context.Context) error) {
	d.jobs = append(d.jobs, scheduledJob{id: id, immediate: true, task: task})
}

func (d *mockDispatcher) enqueueAfter(delay time.Duration, id string, task func(context.Context) error) {
	d.jobs = append(d.jobs, scheduledJob{id: id, delay: delay, task: task})
}

// recordHook records connectivity notifications and optionally misbehaves
// by returning an error or panicking.
type recordHook struct {
	name   string
	events []hookEvent
	err    error
	panics bool
}

type hookEvent struct {
	locID     string
	connected bool
}

func (h *recordHook) Name() string { return h.name }

func (h *recordHook) record(loc *netloc.Location, connected bool) error {
	h.events = append(h.events, hookEvent{locID: loc.ID, connected: connected})
	if h.panics {
		panic("hook gone rogue")
	}
	return h.err
}

func (h *recordHook) OnConnect(loc *netloc.Location) error {
	return h.record(loc, true)
}

func (h *recordHook) OnDisconnect(loc *netloc.Location) error {
	return h.record(loc, false)
}

// busyStore wraps a location store and fails the next UpdateOrCreate calls
// with the transient busy error kind.  The optional onBusy callback is
// invoked after each simulated failure with the number of failures left.
type busyStore struct {
	LocationStore
	busy   int
	onBusy func(remaining int)
}

func (b *busyStore) UpdateOrCreate(loc *netloc.Location) (*netloc.Location, bool, error) {
	if b.busy > 0 {
		b.busy--
		if b.onBusy != nil {
			b.onBusy(b.busy)
		}
		err := netloc.Error{
			Description: "store busy",
			Err:         netloc.ErrStoreBusy,
		}
		return nil, false, err
	}
	return b.LocationStore.UpdateOrCreate(loc)
}

// testHarness bundles a manager with its mocked collaborators.
type testHarness struct {
	t          *testing.T
	store      *netloc.Store
	busy       *busyStore
	mgr        *Manager
	dispatcher *mockDispatcher
	hook       *recordHook

	probeResult ProbeResult
	probeErr    error
	probeCalls  int
}

// newTestHarness returns a manager wired to an in-memory store, a
// recording dispatcher and a single recording hook.  The probe outcome is
// controlled through the harness fields.
func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	store, err := netloc.OpenMem()
	if err != nil {
		t.Fatalf("OpenMem: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	h := &testHarness{
		t:          t,
		store:      store,
		busy:       &busyStore{LocationStore: store},
		dispatcher: &mockDispatcher{},
		hook:       &recordHook{name: "recorder"},
	}
	hooks := NewHookRegistry()
	hooks.Register(h.hook)
	mgr, err := New(&Config{
		Store: h.busy,
		Probe: func(ctx context.Context, loc *netloc.Location) (ProbeResult, error) {
			h.probeCalls++
			return h.probeResult, h.probeErr
		},
		Enqueue:      h.dispatcher.enqueue,
		EnqueueAfter: h.dispatcher.enqueueAfter,
		Hooks:        hooks,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.mgr = mgr
	return h
}

// addLocation stores a location with the provided status and fault count
// directly, bypassing the manager.
func (h *testHarness) addLocation(loc *netloc.Location, status netloc.ConnectionStatus, faults uint32) *netloc.Location {
	h.t.Helper()
	stored, _, err := h.store.UpdateOrCreate(loc)
	if err != nil {
		h.t.Fatalf("UpdateOrCreate: %v", err)
	}
	stored.Status = status
	stored.ConnectionFaults = faults
	if err := h.store.Update(stored); err != nil {
		h.t.Fatalf("Update: %v", err)
	}
	return stored
}

func testInstance(id string) *Instance {
	return &Instance{
		ID:      id,
		BaseURL: "http://192.168.0.42:8080/",
		IP:      "192.168.0.42",
	}
}

// TestNewConfig ensures the manager configuration is validated as
// expected.
func TestNewConfig(t *testing.T) {
	store, err := netloc.OpenMem()
	if err != nil {
		t.Fatalf("OpenMem: %v", err)
	}
	defer store.Close()

	probe := func(ctx context.Context, loc *netloc.Location) (ProbeResult, error) {
		return ProbeResult{}, nil
	}
	enqueue := func(id string, task func(context.Context) error) {}
	enqueueAfter := func(d time.Duration, id string, task func(context.Context) error) {}

	tests := []struct {
		name string
		cfg  Config
		err  error
	}{{
		name: "missing store",
		cfg: Config{
			Probe:        probe,
			Enqueue:      enqueue,
			EnqueueAfter: enqueueAfter,
		},
		err: ErrStoreNil,
	}, {
		name: "missing probe",
		cfg: Config{
			Store:        store,
			Enqueue:      enqueue,
			EnqueueAfter: enqueueAfter,
		},
		err: ErrProbeNil,
	}, {
		name: "missing enqueue",
		cfg: Config{
			Store:        store,
			Probe:        probe,
			EnqueueAfter: enqueueAfter,
		},
		err: ErrDispatchNil,
	}, {
		name: "missing enqueue after",
		cfg: Config{
			Store:   store,
			Probe:   probe,
			Enqueue: enqueue,
		},
		err: ErrDispatchNil,
	}, {
		name: "complete",
		cfg: Config{
			Store:        store,
			Probe:        probe,
			Enqueue:      enqueue,
			EnqueueAfter: enqueueAfter,
		},
	}}

	for _, test := range tests {
		_, err := New(&test.cfg)
		if !errors.Is(err, test.err) {
			t.Errorf("%s: got error %v, want %v", test.name, err,
				test.err)
		}
	}
}

// TestObservableTransitions ensures hook notifications fire if and only if
// a status transition crosses into or out of the reachable status.
func TestObservableTransitions(t *testing.T) {
	tests := []struct {
		name      string
		prior     netloc.ConnectionStatus
		outcome   Outcome
		wantHook  bool
		connected bool
	}{{
		name:      "unknown to reachable",
		prior:     netloc.StatusUnknown,
		outcome:   OutcomeReachable,
		wantHook:  true,
		connected: true,
	}, {
		name:     "unknown to unreachable",
		prior:    netloc.StatusUnknown,
		outcome:  OutcomeUnreachable,
		wantHook: false,
	}, {
		name:     "unknown to conflict",
		prior:    netloc.StatusUnknown,
		outcome:  OutcomeConflict,
		wantHook: false,
	}, {
		name:     "reachable to unreachable",
		prior:    netloc.StatusReachable,
		outcome:  OutcomeUnreachable,
		wantHook: true,
	}, {
		name:     "reachable to conflict",
		prior:    netloc.StatusReachable,
		outcome:  OutcomeConflict,
		wantHook: true,
	}, {
		name:      "unreachable to reachable",
		prior:     netloc.StatusUnreachable,
		outcome:   OutcomeReachable,
		wantHook:  true,
		connected: true,
	}, {
		name:     "unreachable to conflict",
		prior:    netloc.StatusUnreachable,
		outcome:  OutcomeConflict,
		wantHook: false,
	}, {
		name:      "conflict to reachable",
		prior:     netloc.StatusConflict,
		outcome:   OutcomeReachable,
		wantHook:  true,
		connected: true,
	}, {
		name:     "reachable stays reachable",
		prior:    netloc.StatusReachable,
		outcome:  OutcomeReachable,
		wantHook: false,
	}, {
		name:     "unreachable stays unreachable",
		prior:    netloc.StatusUnreachable,
		outcome:  OutcomeUnreachable,
		wantHook: false,
	}}

	for _, test := range tests {
		h := newTestHarness(t)
		h.addLocation(makeStaticLocation("peer1"), test.prior, 0)
		h.probeResult = ProbeResult{Outcome: test.outcome}

		err := h.mgr.PerformUpdate(context.Background(), "peer1")
		if err != nil {
			t.Fatalf("%s: PerformUpdate: %v", test.name, err)
		}

		if !test.wantHook {
			if len(h.hook.events) != 0 {
				t.Errorf("%s: unexpected hook events %v",
					test.name, h.hook.events)
			}
			continue
		}
		if len(h.hook.events) != 1 {
			t.Errorf("%s: got %d hook events, want 1", test.name,
				len(h.hook.events))
			continue
		}
		event := h.hook.events[0]
		if event.connected != test.connected {
			t.Errorf("%s: connected flag: got %v, want %v",
				test.name, event.connected, test.connected)
		}
	}
}

func makeStaticLocation(id string) *netloc.Location {
	return &netloc.Location{
		ID:      id,
		BaseURL: "http://peers.example.com/",
	}
}

// TestRetryBackoff ensures a failed probe increments the fault count and
// schedules a retry delayed by exactly 2^faults minutes.
func TestRetryBackoff(t *testing.T) {
	h := newTestHarness(t)
	h.addLocation(makeStaticLocation("peer1"), netloc.StatusUnreachable, 3)
	h.probeResult = ProbeResult{Outcome: OutcomeUnreachable}

	if err := h.mgr.PerformUpdate(context.Background(), "peer1"); err != nil {
		t.Fatalf("PerformUpdate: %v", err)
	}

	loc, err := h.store.Get("peer1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loc.ConnectionFaults != 4 {
		t.Errorf("fault count: got %d, want 4", loc.ConnectionFaults)
	}

	if len(h.dispatcher.jobs) != 1 {
		t.Fatalf("got %d scheduled jobs, want 1", len(h.dispatcher.jobs))
	}
	job := h.dispatcher.jobs[0]
	if job.immediate {
		t.Error("retry must be delayed, not immediate")
	}
	if job.delay != 16*time.Minute {
		t.Errorf("retry delay: got %v, want %v", job.delay,
			16*time.Minute)
	}
	if job.id != connectJobID("peer1") {
		t.Errorf("job id: got %s, want %s", job.id,
			connectJobID("peer1"))
	}
}

// TestRetryJobIDDeterministic ensures repeated retry scheduling for the
// same location produces identical job identifiers while distinct
// locations produce distinct ones.
func TestRetryJobIDDeterministic(t *testing.T) {
	h := newTestHarness(t)
	h.addLocation(makeStaticLocation("peer1"), netloc.StatusUnknown, 0)
	h.probeResult = ProbeResult{Outcome: OutcomeUnreachable}

	for i := 0; i < 2; i++ {
		err := h.mgr.PerformUpdate(context.Background(), "peer1")
		if err != nil {
			t.Fatalf("PerformUpdate: %v", err)
		}
	}
	if len(h.dispatcher.jobs) != 2 {
		t.Fatalf("got %d scheduled jobs, want 2", len(h.dispatcher.jobs))
	}
	if h.dispatcher.jobs[0].id != h.dispatcher.jobs[1].id {
		t.Errorf("job ids differ: %s vs %s", h.dispatcher.jobs[0].id,
			h.dispatcher.jobs[1].id)
	}
	if connectJobID("peer1") == connectJobID("peer2") {
		t.Error("distinct locations must yield distinct job ids")
	}

	// An explicitly requested immediate update collapses onto the same
	// job identifier as the retry chain.
	h.mgr.RequestUpdate("peer1")
	if len(h.dispatcher.jobs) != 3 {
		t.Fatalf("got %d scheduled jobs, want 3", len(h.dispatcher.jobs))
	}
	requested := h.dispatcher.jobs[2]
	if requested.id != h.dispatcher.jobs[0].id {
		t.Errorf("requested job id differs: %s vs %s", requested.id,
			h.dispatcher.jobs[0].id)
	}
	if !requested.immediate {
		t.Error("requested update was not submitted for immediate execution")
	}
}

// TestPerformUpdateMissing ensures updating a location that no longer
// exists returns without error, probes nothing and schedules nothing.
func TestPerformUpdateMissing(t *testing.T) {
	h := newTestHarness(t)
	if err := h.mgr.PerformUpdate(context.Background(), "ghost"); err != nil {
		t.Fatalf("PerformUpdate: %v", err)
	}
	if h.probeCalls != 0 {
		t.Errorf("probe calls: got %d, want 0", h.probeCalls)
	}
	if len(h.dispatcher.jobs) != 0 {
		t.Errorf("scheduled jobs: got %d, want 0", len(h.dispatcher.jobs))
	}
}

// TestPerformUpdateSubsetOfUsers ensures probing is skipped when both the
// local device and the target location hold data for a restricted subset
// of users only.
func TestPerformUpdateSubsetOfUsers(t *testing.T) {
	h := newTestHarness(t)
	loc := makeStaticLocation("peer1")
	loc.SubsetOfUsers = true
	h.addLocation(loc, netloc.StatusUnknown, 0)
	h.mgr.cfg.SubsetOfUsersDevice = func() bool { return true }

	if err := h.mgr.PerformUpdate(context.Background(), "peer1"); err != nil {
		t.Fatalf("PerformUpdate: %v", err)
	}
	if h.probeCalls != 0 {
		t.Errorf("probe calls: got %d, want 0", h.probeCalls)
	}
	if len(h.dispatcher.jobs) != 0 {
		t.Errorf("scheduled jobs: got %d, want 0", len(h.dispatcher.jobs))
	}
}

// TestFaultLimit ensures a location that reaches the fault limit never
// receives a further scheduled retry regardless of probe outcome.
func TestFaultLimit(t *testing.T) {
	h := newTestHarness(t)
	h.addLocation(makeStaticLocation("peer1"), netloc.StatusUnreachable,
		connectionFaultLimit-1)
	h.probeResult = ProbeResult{Outcome: OutcomeUnreachable}

	if err := h.mgr.PerformUpdate(context.Background(), "peer1"); err != nil {
		t.Fatalf("PerformUpdate: %v", err)
	}
	if len(h.dispatcher.jobs) != 0 {
		t.Fatalf("scheduled jobs: got %d, want 0", len(h.dispatcher.jobs))
	}

	loc, err := h.store.Get("peer1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loc.ConnectionFaults != connectionFaultLimit {
		t.Errorf("fault count: got %d, want %d", loc.ConnectionFaults,
			uint32(connectionFaultLimit))
	}
}

// TestConflictStable ensures a stable identity conflict terminates the
// retry chain while a fresh conflict is still retried.
func TestConflictStable(t *testing.T) {
	h := newTestHarness(t)
	h.probeResult = ProbeResult{Outcome: OutcomeConflict}

	// Fresh conflict: retry is scheduled.
	h.addLocation(makeStaticLocation("peer1"), netloc.StatusUnknown, 0)
	if err := h.mgr.PerformUpdate(context.Background(), "peer1"); err != nil {
		t.Fatalf("PerformUpdate: %v", err)
	}
	if len(h.dispatcher.jobs) != 1 {
		t.Fatalf("fresh conflict: got %d jobs, want 1",
			len(h.dispatcher.jobs))
	}

	// Stable conflict: chain terminates even though the fault count is
	// well under the limit.
	if err := h.mgr.PerformUpdate(context.Background(), "peer1"); err != nil {
		t.Fatalf("PerformUpdate: %v", err)
	}
	if len(h.dispatcher.jobs) != 1 {
		t.Fatalf("stable conflict: got %d jobs, want 1",
			len(h.dispatcher.jobs))
	}
}

// TestReachableResetsFaults ensures a successful probe resets the fault
// count to zero.
func TestReachableResetsFaults(t *testing.T) {
	h := newTestHarness(t)
	h.addLocation(makeStaticLocation("peer1"), netloc.StatusUnreachable, 6)
	h.probeResult = ProbeResult{
		Outcome:            OutcomeReachable,
		DeviceName:         "library server",
		ApplicationVersion: "0.16.1",
	}

	if err := h.mgr.PerformUpdate(context.Background(), "peer1"); err != nil {
		t.Fatalf("PerformUpdate: %v", err)
	}

	loc, err := h.store.Get("peer1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loc.ConnectionFaults != 0 {
		t.Errorf("fault count: got %d, want 0", loc.ConnectionFaults)
	}
	if loc.Status != netloc.StatusReachable {
		t.Errorf("status: got %v, want %v", loc.Status,
			netloc.StatusReachable)
	}
	if loc.DeviceName != "library server" || loc.ApplicationVersion != "0.16.1" {
		t.Errorf("metadata not refreshed: %q / %q", loc.DeviceName,
			loc.ApplicationVersion)
	}
	if len(h.dispatcher.jobs) != 0 {
		t.Errorf("scheduled jobs: got %d, want 0", len(h.dispatcher.jobs))
	}
}

// TestProbeErrorTreatedAsFailure ensures a prober error is swallowed and
// handled exactly like an unreachable outcome.
func TestProbeErrorTreatedAsFailure(t *testing.T) {
	h := newTestHarness(t)
	h.addLocation(makeStaticLocation("peer1"), netloc.StatusUnknown, 0)
	h.probeErr = errors.New("connection refused")

	if err := h.mgr.PerformUpdate(context.Background(), "peer1"); err != nil {
		t.Fatalf("PerformUpdate: %v", err)
	}

	loc, err := h.store.Get("peer1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loc.Status != netloc.StatusUnreachable {
		t.Errorf("status: got %v, want %v", loc.Status,
			netloc.StatusUnreachable)
	}
	if loc.ConnectionFaults != 1 {
		t.Errorf("fault count: got %d, want 1", loc.ConnectionFaults)
	}
	if len(h.dispatcher.jobs) != 1 {
		t.Errorf("scheduled jobs: got %d, want 1", len(h.dispatcher.jobs))
	}
}

// TestAddDynamicLocation ensures a discovered instance is stored, probed
// immediately and scheduled for a backoff retry when unreachable.
func TestAddDynamicLocation(t *testing.T) {
	h := newTestHarness(t)
	h.probeResult = ProbeResult{Outcome: OutcomeUnreachable}

	inst := testInstance("peer1")
	err := h.mgr.AddDynamicLocation(context.Background(), "e1", inst)
	if err != nil {
		t.Fatalf("AddDynamicLocation: %v", err)
	}

	loc, err := h.store.GetDynamic("peer1", "e1")
	if err != nil {
		t.Fatalf("GetDynamic: %v", err)
	}
	if loc.ConnectionFaults != 1 {
		t.Errorf("fault count: got %d, want 1", loc.ConnectionFaults)
	}
	if h.probeCalls != 1 {
		t.Errorf("probe calls: got %d, want 1", h.probeCalls)
	}
	if len(h.dispatcher.jobs) != 1 {
		t.Fatalf("got %d scheduled jobs, want 1", len(h.dispatcher.jobs))
	}
	job := h.dispatcher.jobs[0]
	if job.id != connectJobID("peer1") {
		t.Errorf("job id: got %s, want %s", job.id,
			connectJobID("peer1"))
	}
	if job.delay != 2*time.Minute {
		t.Errorf("retry delay: got %v, want %v", job.delay, 2*time.Minute)
	}
}

// TestAddDynamicLocationReachable ensures no retry is scheduled when the
// initial probe of a discovered instance succeeds.
func TestAddDynamicLocationReachable(t *testing.T) {
	h := newTestHarness(t)
	h.probeResult = ProbeResult{Outcome: OutcomeReachable}

	err := h.mgr.AddDynamicLocation(context.Background(), "e1",
		testInstance("peer1"))
	if err != nil {
		t.Fatalf("AddDynamicLocation: %v", err)
	}
	if len(h.dispatcher.jobs) != 0 {
		t.Errorf("scheduled jobs: got %d, want 0", len(h.dispatcher.jobs))
	}
	if len(h.hook.events) != 1 || !h.hook.events[0].connected {
		t.Errorf("hook events: got %v, want single connect",
			h.hook.events)
	}
}

// TestAddDynamicLocationBusyRetry ensures transient store contention is
// retried with the fixed pause and eventually succeeds.
func TestAddDynamicLocationBusyRetry(t *testing.T) {
	h := newTestHarness(t)
	h.busy.busy = 2
	h.probeResult = ProbeResult{Outcome: OutcomeReachable}

	err := h.mgr.AddDynamicLocation(context.Background(), "e1",
		testInstance("peer1"))
	if err != nil {
		t.Fatalf("AddDynamicLocation: %v", err)
	}
	if _, err := h.store.GetDynamic("peer1", "e1"); err != nil {
		t.Fatalf("GetDynamic: %v", err)
	}
	if h.probeCalls != 1 {
		t.Errorf("probe calls: got %d, want 1", h.probeCalls)
	}
}

// TestAddDynamicLocationBusyGiveUp ensures the bounded retry loop gives up
// without error once every attempt hit store contention and that no pause
// follows the final failed attempt.
func TestAddDynamicLocationBusyGiveUp(t *testing.T) {
	h := newTestHarness(t)
	h.busy.busy = dynamicStoreAttempts
	h.probeResult = ProbeResult{Outcome: OutcomeReachable}

	// Cancel the context at the moment of the final failed attempt.  The
	// loop must give up cleanly rather than enter one more pause, which
	// would surface the cancellation instead.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.busy.onBusy = func(remaining int) {
		if remaining == 0 {
			cancel()
		}
	}

	err := h.mgr.AddDynamicLocation(ctx, "e1", testInstance("peer1"))
	if err != nil {
		t.Fatalf("AddDynamicLocation: %v", err)
	}
	if _, err := h.store.Get("peer1"); !errors.Is(err, netloc.ErrLocationNotFound) {
		t.Error("location must not exist after giving up")
	}
	if h.probeCalls != 0 {
		t.Errorf("probe calls: got %d, want 0", h.probeCalls)
	}
	if len(h.dispatcher.jobs) != 0 {
		t.Errorf("scheduled jobs: got %d, want 0", len(h.dispatcher.jobs))
	}
}

// TestAddDynamicLocationInvalid ensures an instance with unusable metadata
// aborts immediately without creating a location.
func TestAddDynamicLocationInvalid(t *testing.T) {
	h := newTestHarness(t)

	inst := &Instance{ID: "peer1", BaseURL: "not a url"}
	err := h.mgr.AddDynamicLocation(context.Background(), "e1", inst)
	if err != nil {
		t.Fatalf("AddDynamicLocation: %v", err)
	}
	if _, err := h.store.Get("peer1"); !errors.Is(err, netloc.ErrLocationNotFound) {
		t.Error("invalid instance must not be stored")
	}
	if h.probeCalls != 0 {
		t.Errorf("probe calls: got %d, want 0", h.probeCalls)
	}
}

// TestRemoveDynamicLocation ensures removal signals a disconnect
// unconditionally and deletes the record, and that removing an unknown
// instance is a no-op.
func TestRemoveDynamicLocation(t *testing.T) {
	h := newTestHarness(t)

	// The stored status is deliberately not reachable: removal always
	// signals a disconnect.
	loc := testInstance("peer1").location("e1")
	h.addLocation(loc, netloc.StatusUnknown, 0)

	err := h.mgr.RemoveDynamicLocation("e1", testInstance("peer1"))
	if err != nil {
		t.Fatalf("RemoveDynamicLocation: %v", err)
	}
	if len(h.hook.events) != 1 || h.hook.events[0].connected {
		t.Fatalf("hook events: got %v, want single disconnect",
			h.hook.events)
	}
	if _, err := h.store.Get("peer1"); !errors.Is(err, netloc.ErrLocationNotFound) {
		t.Error("record must be deleted")
	}

	// Unknown instance and wrong epoch are both no-ops.
	h.hook.events = nil
	if err := h.mgr.RemoveDynamicLocation("e1", testInstance("ghost")); err != nil {
		t.Fatalf("RemoveDynamicLocation: %v", err)
	}
	if len(h.hook.events) != 0 {
		t.Errorf("hook events: got %v, want none", h.hook.events)
	}
}

// TestRemoveDynamicLocationWrongEpoch ensures a record from a different
// broadcast epoch is left untouched.
func TestRemoveDynamicLocationWrongEpoch(t *testing.T) {
	h := newTestHarness(t)
	h.addLocation(testInstance("peer1").location("e1"),
		netloc.StatusReachable, 0)

	err := h.mgr.RemoveDynamicLocation("e2", testInstance("peer1"))
	if err != nil {
		t.Fatalf("RemoveDynamicLocation: %v", err)
	}
	if len(h.hook.events) != 0 {
		t.Errorf("hook events: got %v, want none", h.hook.events)
	}
	if _, err := h.store.Get("peer1"); err != nil {
		t.Error("record from another epoch must not be deleted")
	}
}

// TestResetConnectionStates exercises the full epoch reconciliation:
// disconnect notifications, stale dynamic purge, status resets and
// freshly enqueued probes for static locations.
func TestResetConnectionStates(t *testing.T) {
	h := newTestHarness(t)

	h.addLocation(makeStaticLocation("static-up"), netloc.StatusReachable, 0)
	h.addLocation(makeStaticLocation("static-down"),
		netloc.StatusUnreachable, 2)
	h.addLocation(testInstance("dyn-old").location("e1"),
		netloc.StatusReachable, 0)
	h.addLocation(testInstance("dyn-new").location("e2"),
		netloc.StatusUnreachable, 1)

	err := h.mgr.ResetConnectionStates(context.Background(), "e2")
	if err != nil {
		t.Fatalf("ResetConnectionStates: %v", err)
	}

	// Both reachable locations outside the new epoch signal disconnects.
	if len(h.hook.events) != 2 {
		t.Fatalf("hook events: got %v, want 2 disconnects",
			h.hook.events)
	}
	for _, event := range h.hook.events {
		if event.connected {
			t.Errorf("hook event for %s: got connect, want disconnect",
				event.locID)
		}
	}

	// The stale dynamic location is purged; the current-epoch one stays.
	if _, err := h.store.Get("dyn-old"); !errors.Is(err, netloc.ErrLocationNotFound) {
		t.Error("stale dynamic location must be purged")
	}
	if _, err := h.store.Get("dyn-new"); err != nil {
		t.Errorf("current-epoch dynamic location must remain: %v", err)
	}

	// Every remaining location outside the new epoch is reset to
	// unknown.
	for _, id := range []string{"static-up", "static-down"} {
		loc, err := h.store.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if loc.Status != netloc.StatusUnknown {
			t.Errorf("%s status: got %v, want %v", id, loc.Status,
				netloc.StatusUnknown)
		}
	}

	// Exactly one immediate probe per static location, under the
	// deterministic identifier.
	if len(h.dispatcher.jobs) != 2 {
		t.Fatalf("scheduled jobs: got %d, want 2", len(h.dispatcher.jobs))
	}
	wantIDs := map[string]bool{
		connectJobID("static-up"):   false,
		connectJobID("static-down"): false,
	}
	for _, job := range h.dispatcher.jobs {
		if !job.immediate {
			t.Errorf("job %s: want immediate enqueue", job.id)
		}
		seen, ok := wantIDs[job.id]
		if !ok {
			t.Errorf("unexpected job id %s", job.id)
			continue
		}
		if seen {
			t.Errorf("duplicate job id %s", job.id)
		}
		wantIDs[job.id] = true
	}
}
