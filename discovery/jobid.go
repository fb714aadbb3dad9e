// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// ResetJobID is the reserved dispatcher identifier under which connection
// state resets are enqueued.  Using a fixed identifier ensures overlapping
// epoch changes collapse onto a single pending reset job.
const ResetJobID = "connection-state-reset"

// jobID derives a deterministic dispatcher identifier from an operation tag
// and a target identifier.  Because the identifier is a pure function of
// its inputs, repeated submissions for the same operation and target map to
// the same pending job slot in the dispatcher, across process restarts
// included.
func jobID(op, target string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write([]byte(target))
	return hex.EncodeToString(h.Sum(nil))
}

// connectJobID returns the dispatcher identifier for connection status
// updates of the provided location.
func connectJobID(locationID string) string {
	return jobID("connect", locationID)
}
