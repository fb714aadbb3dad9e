// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package netloc provides the records and persistent store for peer network
locations.

A network location describes a single peer endpoint along with the state the
discovery subsystem tracks for it: its connection status, the number of
consecutive failed probes, and, for peers found via local-network broadcast,
the broadcast epoch that produced the record.

Locations come in two variants distinguished by the Dynamic field.  Static
locations are configured by an administrator and persist until explicitly
removed.  Dynamic locations are created when a peer is discovered on the
local network and are deleted automatically when the peer disappears or a
new broadcast epoch begins.

The store is backed by leveldb and is safe for concurrent access.  Write
operations that cannot acquire the store within a short period fail with
ErrStoreBusy, which callers are expected to treat as a transient condition,
in contrast to all other errors which indicate programming or environment
faults.
*/
package netloc
