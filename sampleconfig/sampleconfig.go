// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sampleconfig

import (
	_ "embed"
)

// sampleKolibridConf is a string containing the commented example config for
// kolibrid.
//
//go:embed sample-kolibrid.conf
var sampleKolibridConf string

// Kolibrid returns a string containing the commented example config for
// kolibrid.
func Kolibrid() string {
	return sampleKolibridConf
}
