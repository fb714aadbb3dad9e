// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

import (
	"sync"

	"github.com/Manuelgonzalesabc/kolibri/netloc"
)

// Hook is the interface connectivity observers implement to be notified
// when a location transitions into or out of the reachable status.
//
// Hook invocations execute synchronously on the goroutine performing the
// triggering status update and are expected to be fast and non-blocking.
// Returned errors are logged and otherwise ignored.
type Hook interface {
	// Name returns the observer's identity for logging purposes.
	Name() string

	// OnConnect is invoked when the location becomes reachable.
	OnConnect(loc *netloc.Location) error

	// OnDisconnect is invoked when the location stops being reachable or
	// is removed.
	OnDisconnect(loc *netloc.Location) error
}

// HookRegistry maintains an ordered set of connectivity observers.  It is
// safe for concurrent access.
type HookRegistry struct {
	mtx   sync.RWMutex
	hooks []Hook
}

// NewHookRegistry returns an empty hook registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{}
}

// Register appends the provided hook to the registry.  Hooks are notified
// in registration order.
func (r *HookRegistry) Register(hook Hook) {
	r.mtx.Lock()
	r.hooks = append(r.hooks, hook)
	r.mtx.Unlock()
}

// dispatch notifies every registered hook of a connectivity transition for
// the provided location.  Each invocation is independently fault isolated:
// an error or panic raised by one hook is logged with the hook's identity
// and never prevents the remaining hooks from running.
func (r *HookRegistry) dispatch(loc *netloc.Location, connected bool) {
	r.mtx.RLock()
	hooks := make([]Hook, len(r.hooks))
	copy(hooks, r.hooks)
	r.mtx.RUnlock()

	for _, hook := range hooks {
		invokeHook(hook, loc, connected)
	}
}

// invokeHook runs a single hook callback, containing any error or panic it
// raises.
func invokeHook(hook Hook, loc *netloc.Location, connected bool) {
	event := "disconnect"
	fn := hook.OnDisconnect
	if connected {
		event = "connect"
		fn = hook.OnConnect
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s hook %s panicked for %s: %v", event,
				hook.Name(), loc, r)
		}
	}()
	if err := fn(loc); err != nil {
		log.Errorf("%s hook %s failed for %s: %v", event, hook.Name(),
			loc, err)
	}
}
