package tle

import (
	"sync/atomic"
	"time"
)

// Store holds the current dataset. Readers never block; a new dataset
// replaces the old one atomically.
type Store struct {
	dataset atomic.Pointer[Dataset]
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current dataset, or nil if none has been loaded.
func (s *Store) Get() *Dataset {
	return s.dataset.Load()
}

// Set atomically replaces the current dataset.
func (s *Store) Set(ds *Dataset) {
	s.dataset.Store(ds)
}

// Age returns how long ago the current dataset was fetched, and false if no
// dataset is loaded.
func (s *Store) Age(now time.Time) (time.Duration, bool) {
	ds := s.dataset.Load()
	if ds == nil {
		return 0, false
	}
	return now.Sub(ds.FetchedAt), true
}

// AgeSeconds returns the age of the current dataset in seconds.
// Returns -1 if no dataset is loaded.
func (s *Store) AgeSeconds() float64 {
	age, ok := s.Age(time.Now())
	if !ok {
		return -1
	}
	return age.Seconds()
}
