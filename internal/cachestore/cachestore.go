// Package cachestore provides a concrete, bounded implementation of
// fdata.Cache backed by a hashicorp/golang-lru cache, grounded on the
// mutex-guarded, key-indexed shape of ClusterCockpit's pkg/lrucache. Unlike
// that cache's TTL/size-estimate model, entries here are identified by the
// (file_index, offset) pair fdata.Cache expects and evicted purely by
// recency.
package cachestore

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scigolib/fdata"
)

type key struct {
	fileIndex int32
	offset    int64
}

type entry struct {
	fileIndex int32
	offset    int64
	timestamp uint64
	value     interface{}
	free      func(interface{}) error
}

func (e *entry) Identifier() (fileIndex int32, offset int64, timestamp uint64) {
	return e.fileIndex, e.offset, e.timestamp
}

func (e *entry) Value() interface{} { return e.value }

var _ fdata.CacheValue = (*entry)(nil)

// Store is a fixed-capacity fdata.Cache. It is safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	lru *lru.Cache[key, *entry]
}

// New builds a Store holding at most capacity entries. Evicting a full
// cache calls the destructor supplied with the evicted entry's
// SetValueByIdentifier call, if any.
func New(capacity int) (*Store, error) {
	s := &Store{}
	c, err := lru.NewWithEvict[key, *entry](capacity, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("%w: building lru cache: %v", fdata.ErrMemory, err)
	}
	s.lru = c
	return s, nil
}

func (s *Store) onEvict(_ key, e *entry) {
	if e.free != nil {
		_ = e.free(e.value)
	}
}

// GetValueByIdentifier implements fdata.Cache.
func (s *Store) GetValueByIdentifier(fileIndex int32, offset int64, timestamp uint64) (fdata.CacheValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Get(key{fileIndex: fileIndex, offset: offset})
	if !ok {
		return nil, false
	}
	return e, true
}

// SetValueByIdentifier implements fdata.Cache.
func (s *Store) SetValueByIdentifier(fileIndex int32, offset int64, timestamp uint64, value interface{}, freeValue func(interface{}) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{fileIndex: fileIndex, offset: offset}
	if old, ok := s.lru.Peek(k); ok && old.free != nil {
		_ = old.free(old.value)
	}
	s.lru.Add(k, &entry{
		fileIndex: fileIndex,
		offset:    offset,
		timestamp: timestamp,
		value:     value,
		free:      freeValue,
	})
	return nil
}

// Len returns the number of entries currently cached.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Purge evicts every entry, invoking each one's destructor.
func (s *Store) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Purge()
}
