// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package broadcast

type Err string

func (e Err) Error() string { return string(e) }

var (
	// ErrInvalidInstance is used to indicate an announcement carried
	// malformed or incomplete instance information.
	ErrInvalidInstance = Err("ErrInvalidInstance")

	// ErrAlreadyStarted is used to indicate the broadcaster has already
	// been started.
	ErrAlreadyStarted = Err("ErrAlreadyStarted")

	// ErrListenerNil is used to indicate the broadcaster was configured
	// without a listener to deliver discovery events to.
	ErrListenerNil = Err("ErrListenerNil")

	// ErrNotStarted is used to indicate the broadcaster has not been
	// started yet.
	ErrNotStarted = Err("ErrNotStarted")
)
