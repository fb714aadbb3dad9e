// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package discovery implements the reconciliation and connection-health
machinery for peer network locations.

The manager reconciles two sources of peer membership: static locations
configured by an administrator and dynamic locations discovered via
local-network broadcast.  Broadcast events enter the manager through
AddDynamicLocation, RemoveDynamicLocation and ResetConnectionStates, which
mutate the location store and drive connection status updates.

A status update probes the peer, persists the resulting status, and tracks
consecutive probe failures.  Failed probes are retried through the job
dispatcher with an exponential backoff derived from the accumulated fault
count, and retry submissions carry deterministic job identifiers so
repeated scheduling for the same peer collapses onto a single pending job.
Retry chains terminate once the fault limit is reached or a detected
identity conflict proves stable across consecutive probes.

Observers register with a hook registry and are notified whenever a
location transitions into or out of the reachable status.  Transitions
among the remaining statuses are deliberately silent to spare observers
intermediate churn.  Hook invocations are individually fault isolated so a
misbehaving observer can neither abort its siblings nor the triggering
update.
*/
package discovery
