// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// interruptSignals defines the signals that initiate a clean shutdown of
// the daemon.
var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM,
	syscall.SIGHUP}

// shutdownListener returns a context that is canceled once an interrupt
// signal such as SIGINT (Ctrl+C) is received.
func shutdownListener() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		interruptChannel := make(chan os.Signal, 1)
		signal.Notify(interruptChannel, interruptSignals...)

		// Cancel the returned context on the initial signal so the
		// subsystems wind down.
		sig := <-interruptChannel
		kolibridLog.Infof("Received signal (%s).  Shutting down...", sig)
		cancel()

		// Keep reporting repeated signals so the user knows the
		// shutdown is in progress and the process is not hung.
		for sig := range interruptChannel {
			kolibridLog.Infof("Received signal (%s).  Already "+
				"shutting down...", sig)
		}
	}()

	return ctx
}

// shutdownRequested returns true when the context returned by
// shutdownListener was canceled.  This simplifies early shutdown slightly
// since the caller can just use an if statement instead of a select.
func shutdownRequested(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
	}

	return false
}
