// Package store implements the measurement store (component F):
// append-only per-sensor bounded logs, a latest-value cache, time-range
// queries, and purge-on-delete. The in-memory log is authoritative for the
// full retention window; a Persister is given every appended measurement
// so the last 6h and the latest cache survive a restart (spec §4.F).
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/greenhaven/hydro-controller/internal/model"
)

const (
	// DefaultRetention matches spec §4.F: 24h or 100,000 points, whichever
	// is smaller in effect for a given sensor's update interval.
	DefaultRetention   = 24 * time.Hour
	DefaultMaxPoints    = 100_000
	PersistedWindow     = 6 * time.Hour
)

// Persister durably records appended measurements and can replay the
// persisted window back into a fresh Store at startup. Implemented by
// internal/db; the store works with a nil Persister (everything in-memory
// only, e.g. in tests and --dry-run).
type Persister interface {
	SaveMeasurement(m model.Measurement) error
	LoadSince(sensorID string, since time.Time) ([]model.Measurement, error)
	PurgeSensor(sensorID string) error
}

type sensorLog struct {
	mu      sync.RWMutex
	entries []model.Measurement // insertion-ordered, oldest first
	latest  model.Measurement
	hasAny  bool
}

// Store is the runtime's single measurement store instance.
type Store struct {
	retention time.Duration
	maxPoints int
	persist   Persister

	mu   sync.RWMutex // guards the logs map, not individual sensorLog contents
	logs map[string]*sensorLog
}

// New builds a Store with the default retention policy. A nil persist
// disables durability of the latest cache / 6h window.
func New(persist Persister) *Store {
	return &Store{retention: DefaultRetention, maxPoints: DefaultMaxPoints, persist: persist, logs: make(map[string]*sensorLog)}
}

// Restore seeds a sensor's log from the persisted window, called once at
// startup per enabled sensor.
func (s *Store) Restore(sensorID string) error {
	if s.persist == nil {
		return nil
	}
	since := time.Now().Add(-PersistedWindow)
	measurements, err := s.persist.LoadSince(sensorID, since)
	if err != nil {
		return err
	}
	log := s.logFor(sensorID)
	log.mu.Lock()
	defer log.mu.Unlock()
	for _, m := range measurements {
		log.entries = append(log.entries, m)
		log.latest = m
		log.hasAny = true
	}
	return nil
}

func (s *Store) logFor(sensorID string) *sensorLog {
	s.mu.RLock()
	l, ok := s.logs[sensorID]
	s.mu.RUnlock()
	if ok {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.logs[sensorID]; ok {
		return l
	}
	l = &sensorLog{}
	s.logs[sensorID] = l
	return l
}

// Append records m under its sensor's bounded log and updates the latest
// cache. Per spec §5, writers hold the per-sensor exclusive lock across the
// persistence call, the one lock this runtime holds across a suspension
// point.
func (s *Store) Append(m model.Measurement) error {
	log := s.logFor(m.SensorID)
	log.mu.Lock()
	defer log.mu.Unlock()

	log.entries = append(log.entries, m)
	log.latest = m
	log.hasAny = true
	s.trimLocked(log)

	if s.persist != nil {
		if err := s.persist.SaveMeasurement(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) trimLocked(log *sensorLog) {
	cutoff := time.Now().Add(-s.retention)
	start := 0
	for start < len(log.entries) && log.entries[start].Timestamp.Before(cutoff) {
		start++
	}
	if start > 0 {
		log.entries = log.entries[start:]
	}
	if over := len(log.entries) - s.maxPoints; over > 0 {
		log.entries = log.entries[over:]
	}
}

// Latest returns the most recent measurement for sensorID. ok is false if
// nothing has ever been appended.
func (s *Store) Latest(sensorID string) (model.Measurement, bool) {
	log := s.logFor(sensorID)
	log.mu.RLock()
	defer log.mu.RUnlock()
	return log.latest, log.hasAny
}

// Range returns every measurement for sensorID with tStart <= timestamp <=
// tEnd, insertion-ordered.
func (s *Store) Range(sensorID string, tStart, tEnd time.Time) []model.Measurement {
	log := s.logFor(sensorID)
	log.mu.RLock()
	defer log.mu.RUnlock()

	lo := sort.Search(len(log.entries), func(i int) bool { return !log.entries[i].Timestamp.Before(tStart) })
	hi := sort.Search(len(log.entries), func(i int) bool { return log.entries[i].Timestamp.After(tEnd) })
	if lo >= hi {
		return nil
	}
	out := make([]model.Measurement, hi-lo)
	copy(out, log.entries[lo:hi])
	return out
}

// Purge removes every in-memory and persisted measurement for sensorID,
// called when the owning Sensor is deleted.
func (s *Store) Purge(sensorID string) error {
	s.mu.Lock()
	delete(s.logs, sensorID)
	s.mu.Unlock()

	if s.persist != nil {
		return s.persist.PurgeSensor(sensorID)
	}
	return nil
}
