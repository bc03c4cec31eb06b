// Package state holds the in-memory authoritative view of every plant in
// the active session. Mutations to one plant are serialized; different
// plants can be worked on concurrently.
package state

import (
	"errors"
	"sync"

	"github.com/greenkeep/plantmonitor/internal/model"
)

var ErrNotFound = errors.New("state: no such plant")

type entry struct {
	mu    sync.Mutex
	plant model.Plant
}

// Store maps plant id (and name, for inbound message lookup) to the
// current record. One entry exists per owned plant while a session is
// active.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*entry
	byName map[string]string // name -> id
}

func NewStore() *Store {
	return &Store{
		byID:   make(map[string]*entry),
		byName: make(map[string]string),
	}
}

// LoadAll replaces the store contents with the given records (session
// start bulk load).
func (s *Store) LoadAll(plants []model.Plant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*entry, len(plants))
	s.byName = make(map[string]string, len(plants))
	for _, p := range plants {
		s.byID[p.ID] = &entry{plant: p}
		s.byName[p.Name] = p.ID
	}
}

// Put inserts or replaces a whole record.
func (s *Store) Put(p model.Plant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byID[p.ID]; ok {
		old.mu.Lock()
		delete(s.byName, old.plant.Name)
		old.plant = p
		old.mu.Unlock()
	} else {
		s.byID[p.ID] = &entry{plant: p}
	}
	s.byName[p.Name] = p.ID
}

// Get returns a copy of the record. The copy's log slices share backing
// arrays with the live record; logs are append-only, so entries visible
// through the copy are never rewritten.
func (s *Store) Get(id string) (model.Plant, bool) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return model.Plant{}, false
	}
	e.mu.Lock()
	p := e.plant
	e.mu.Unlock()
	return p, true
}

// GetByName resolves a plant by its topic-hierarchy name.
func (s *Store) GetByName(name string) (model.Plant, bool) {
	s.mu.RLock()
	id, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return model.Plant{}, false
	}
	return s.Get(id)
}

// Upsert applies mutate to the record under the plant's lock and returns
// the updated copy, so callers act on the latest value without a second
// read. A rename inside mutate re-indexes the name map.
func (s *Store) Upsert(id string, mutate func(*model.Plant)) (model.Plant, error) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return model.Plant{}, ErrNotFound
	}

	e.mu.Lock()
	oldName := e.plant.Name
	mutate(&e.plant)
	p := e.plant
	e.mu.Unlock()

	if p.Name != oldName {
		s.mu.Lock()
		// Only re-point the index if it still refers to this plant.
		if cur, ok := s.byName[oldName]; ok && cur == id {
			delete(s.byName, oldName)
		}
		s.byName[p.Name] = id
		s.mu.Unlock()
	}
	return p, nil
}

// Remove tears down the entry for id.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	if cur, ok := s.byName[e.plant.Name]; ok && cur == id {
		delete(s.byName, e.plant.Name)
	}
	return true
}

// ListAll returns copies of every record, in no particular order.
func (s *Store) ListAll() []model.Plant {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]model.Plant, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.plant)
		e.mu.Unlock()
	}
	return out
}

// Clear drops every entry (logout teardown).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*entry)
	s.byName = make(map[string]string)
}
