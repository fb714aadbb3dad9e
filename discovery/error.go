// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

type Err string

func (e Err) Error() string { return string(e) }

var (
	// ErrStoreNil is used to indicate that Store cannot be nil in the
	// configuration.
	ErrStoreNil = Err("ErrStoreNil")

	// ErrProbeNil is used to indicate that Probe cannot be nil in the
	// configuration.
	ErrProbeNil = Err("ErrProbeNil")

	// ErrDispatchNil is used to indicate that Enqueue and EnqueueAfter
	// cannot be nil in the configuration.
	ErrDispatchNil = Err("ErrDispatchNil")
)
