// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netloc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// locationKeyPrefix is prepended to location identifiers to form the
// database key the serialized record is stored under.
const locationKeyPrefix = "loc-"

// writeSlotTimeout is the maximum amount of time a mutating operation waits
// to acquire the store's write slot before failing with ErrStoreBusy.  It
// is a variable so it can be shortened when running tests.
var writeSlotTimeout = 250 * time.Millisecond

// locationKey returns the database key for the given location identifier.
func locationKey(id string) []byte {
	return []byte(locationKeyPrefix + id)
}

// Store provides a concurrency safe persistent store for network location
// records backed by leveldb.
//
// Mutating operations are serialized through a single write slot.  An
// operation that cannot acquire the slot within writeSlotTimeout fails with
// ErrStoreBusy, which callers treat as a transient condition per the
// package documentation.
type Store struct {
	db *leveldb.DB

	// writeSlot serializes mutating operations.  Acquisition is bounded
	// so contention surfaces as ErrStoreBusy instead of an unbounded
	// block.
	writeSlot chan struct{}
}

// Open loads or creates the location store at the provided path.  Corrupted
// stores are recovered when possible since the records are reproducible
// from configuration and rediscovery.
func Open(path string) (*Store, error) {
	opts := opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.NoCompression,
		Filter:      filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(path, &opts)
	if err != nil {
		if !ldberrors.IsCorrupted(err) {
			return nil, err
		}
		log.Warnf("Location store at %s is corrupted -- attempting "+
			"recovery", path)
		db, err = leveldb.RecoverFile(path, &opts)
		if err != nil {
			return nil, err
		}
	}
	return newStore(db), nil
}

// OpenMem creates a location store backed by volatile memory.  It is
// primarily useful for testing.
func OpenMem() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newStore(db), nil
}

func newStore(db *leveldb.DB) *Store {
	return &Store{
		db:        db,
		writeSlot: make(chan struct{}, 1),
	}
}

// Close releases the underlying database.  All subsequent operations fail
// with ErrStoreClosed.
func (s *Store) Close() error {
	return convertLdbErr(s.db.Close(), "failed to close location store")
}

// acquireWriteSlot reserves the store's write slot, failing with
// ErrStoreBusy when it cannot be acquired within writeSlotTimeout.
func (s *Store) acquireWriteSlot() error {
	timer := time.NewTimer(writeSlotTimeout)
	defer timer.Stop()
	select {
	case s.writeSlot <- struct{}{}:
		return nil
	case <-timer.C:
		return storeError(ErrStoreBusy, "timed out waiting for store "+
			"write slot")
	}
}

// releaseWriteSlot frees the store's write slot.
func (s *Store) releaseWriteSlot() {
	<-s.writeSlot
}

// convertLdbErr converts a raw leveldb error into an Error with a kind the
// caller can reason about.  A nil error stays nil.
func convertLdbErr(err error, desc string) error {
	if err == nil {
		return nil
	}
	kind := err
	if err == leveldb.ErrClosed {
		kind = ErrStoreClosed
	}
	return Error{Description: fmt.Sprintf("%s: %v", desc, err), Err: kind}
}

// getLocation fetches and deserializes a single record.
func (s *Store) getLocation(id string) (*Location, error) {
	data, err := s.db.Get(locationKey(id), nil)
	if err == leveldb.ErrNotFound {
		desc := fmt.Sprintf("no location with id %s", id)
		return nil, storeError(ErrLocationNotFound, desc)
	}
	if err != nil {
		desc := fmt.Sprintf("failed to load location %s", id)
		return nil, convertLdbErr(err, desc)
	}
	var loc Location
	if err := json.Unmarshal(data, &loc); err != nil {
		desc := fmt.Sprintf("failed to deserialize location %s", id)
		return nil, Error{Description: desc, Err: err}
	}
	return &loc, nil
}

// putLocation serializes and stores a single record.  The caller must hold
// the write slot.
func (s *Store) putLocation(loc *Location) error {
	data, err := json.Marshal(loc)
	if err != nil {
		desc := fmt.Sprintf("failed to serialize location %s", loc.ID)
		return Error{Description: desc, Err: err}
	}
	err = s.db.Put(locationKey(loc.ID), data, nil)
	if err != nil {
		desc := fmt.Sprintf("failed to store location %s", loc.ID)
		return convertLdbErr(err, desc)
	}
	return nil
}

// Get returns the location with the provided identifier or an error with
// kind ErrLocationNotFound when it does not exist.
func (s *Store) Get(id string) (*Location, error) {
	return s.getLocation(id)
}

// GetDynamic returns the dynamic location with the provided identifier
// scoped to the given broadcast epoch.  A static record with the same
// identifier or a dynamic record from a different epoch is reported as
// ErrLocationNotFound.
func (s *Store) GetDynamic(id, epoch string) (*Location, error) {
	loc, err := s.getLocation(id)
	if err != nil {
		return nil, err
	}
	if !loc.Dynamic || loc.BroadcastEpoch != epoch {
		desc := fmt.Sprintf("no dynamic location with id %s in epoch %s",
			id, epoch)
		return nil, storeError(ErrLocationNotFound, desc)
	}
	return loc, nil
}

// UpdateOrCreate stores the provided location record, creating it when no
// record with its identifier exists yet.  When a record already exists its
// connection status and fault count are carried over so repeated discovery
// of the same peer does not erase probe state.  The stored record is
// returned along with whether it was newly created.
func (s *Store) UpdateOrCreate(loc *Location) (*Location, bool, error) {
	if err := loc.Validate(); err != nil {
		return nil, false, err
	}
	if err := s.acquireWriteSlot(); err != nil {
		return nil, false, err
	}
	defer s.releaseWriteSlot()

	stored := *loc
	created := true
	prior, err := s.getLocation(loc.ID)
	switch {
	case err == nil:
		stored.Status = prior.Status
		stored.ConnectionFaults = prior.ConnectionFaults
		created = false
	case errors.Is(err, ErrLocationNotFound):
		stored.Status = StatusUnknown
		stored.ConnectionFaults = 0
	default:
		return nil, false, err
	}

	if err := s.putLocation(&stored); err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

// Update persists the provided record over an existing one.  It fails with
// ErrLocationNotFound when no record with the identifier exists, which
// prevents a concurrent removal from being resurrected by an in-flight
// status update.
func (s *Store) Update(loc *Location) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	if err := s.acquireWriteSlot(); err != nil {
		return err
	}
	defer s.releaseWriteSlot()

	if _, err := s.getLocation(loc.ID); err != nil {
		return err
	}
	return s.putLocation(loc)
}

// Delete removes the record with the provided identifier.  Deleting an
// identifier with no record is not an error.
func (s *Store) Delete(id string) error {
	if err := s.acquireWriteSlot(); err != nil {
		return err
	}
	defer s.releaseWriteSlot()

	err := s.db.Delete(locationKey(id), nil)
	return convertLdbErr(err, fmt.Sprintf("failed to delete location %s", id))
}

// Filter returns all locations the provided predicate accepts, in
// identifier order.
func (s *Store) Filter(pred func(*Location) bool) ([]*Location, error) {
	var locs []*Location
	iter := s.db.NewIterator(util.BytesPrefix([]byte(locationKeyPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var loc Location
		if err := json.Unmarshal(iter.Value(), &loc); err != nil {
			desc := fmt.Sprintf("failed to deserialize location "+
				"under key %s", iter.Key())
			return nil, Error{Description: desc, Err: err}
		}
		if pred == nil || pred(&loc) {
			locCopy := loc
			locs = append(locs, &locCopy)
		}
	}
	err := iter.Error()
	if err != nil {
		return nil, convertLdbErr(err, "failed to iterate locations")
	}
	return locs, nil
}

// All returns every location in the store.
func (s *Store) All() ([]*Location, error) {
	return s.Filter(nil)
}

// Statics returns every static location in the store.
func (s *Store) Statics() ([]*Location, error) {
	return s.Filter(func(loc *Location) bool {
		return !loc.Dynamic
	})
}

// ReachableOutsideEpoch returns every location that is currently reachable
// but does not belong to the provided broadcast epoch.  Static locations
// never belong to an epoch and are therefore always included when
// reachable.
func (s *Store) ReachableOutsideEpoch(epoch string) ([]*Location, error) {
	return s.Filter(func(loc *Location) bool {
		return loc.Status == StatusReachable && loc.BroadcastEpoch != epoch
	})
}

// DeleteDynamicOutsideEpoch removes every dynamic location that does not
// belong to the provided broadcast epoch and returns how many records were
// removed.
func (s *Store) DeleteDynamicOutsideEpoch(epoch string) (int, error) {
	stale, err := s.Filter(func(loc *Location) bool {
		return loc.Dynamic && loc.BroadcastEpoch != epoch
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := s.acquireWriteSlot(); err != nil {
		return 0, err
	}
	defer s.releaseWriteSlot()

	batch := new(leveldb.Batch)
	for _, loc := range stale {
		batch.Delete(locationKey(loc.ID))
	}
	err = s.db.Write(batch, nil)
	if err != nil {
		return 0, convertLdbErr(err, "failed to purge stale dynamic "+
			"locations")
	}
	return len(stale), nil
}

// ResetStatusOutsideEpoch sets the connection status to unknown for every
// location that does not belong to the provided broadcast epoch.  Fault
// counts are left untouched.
func (s *Store) ResetStatusOutsideEpoch(epoch string) error {
	outside, err := s.Filter(func(loc *Location) bool {
		return loc.BroadcastEpoch != epoch
	})
	if err != nil {
		return err
	}
	if len(outside) == 0 {
		return nil
	}

	if err := s.acquireWriteSlot(); err != nil {
		return err
	}
	defer s.releaseWriteSlot()

	batch := new(leveldb.Batch)
	for _, loc := range outside {
		loc.Status = StatusUnknown
		data, err := json.Marshal(loc)
		if err != nil {
			desc := fmt.Sprintf("failed to serialize location %s",
				loc.ID)
			return Error{Description: desc, Err: err}
		}
		batch.Put(locationKey(loc.ID), data)
	}
	err = s.db.Write(batch, nil)
	return convertLdbErr(err, "failed to reset location statuses")
}
