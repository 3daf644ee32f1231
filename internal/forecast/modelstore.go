package forecast

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/openairlab/airq-analytics/internal/domain"
)

// ModelStore holds the latest fitted model per (city, pollutant). Models are
// versioned by their TrainedThrough date so callers can tell a stale model
// from a fresh one without refitting blindly.
type ModelStore struct {
	mu     sync.RWMutex
	models map[string]*Model
}

// NewModelStore creates an empty store.
func NewModelStore() *ModelStore {
	return &ModelStore{models: make(map[string]*Model)}
}

func modelKey(city string, pollutant domain.Pollutant) string {
	return city + "|" + string(pollutant)
}

// Put stores the model, replacing any previous version for its pair.
func (s *ModelStore) Put(m *Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[modelKey(m.City, m.Pollutant)] = m
}

// Get returns the stored model for the pair, if any.
func (s *ModelStore) Get(city string, pollutant domain.Pollutant) (*Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[modelKey(city, pollutant)]
	return m, ok
}

// Fresh returns the stored model only if it was trained through latestData
// or later; a model older than the data is treated as absent.
func (s *ModelStore) Fresh(city string, pollutant domain.Pollutant, latestData time.Time) (*Model, bool) {
	m, ok := s.Get(city, pollutant)
	if !ok || m.TrainedThrough.Before(domain.Midnight(latestData)) {
		return nil, false
	}
	return m, true
}

// Len returns the number of stored models.
func (s *ModelStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.models)
}

// Encode serializes the pair's model as an opaque JSON blob.
func (s *ModelStore) Encode(city string, pollutant domain.Pollutant) ([]byte, error) {
	m, ok := s.Get(city, pollutant)
	if !ok {
		return nil, fmt.Errorf("encode model %s/%s: no model stored", city, pollutant)
	}
	return json.Marshal(m)
}

// Decode restores a model from an Encode blob and stores it.
func (s *ModelStore) Decode(blob []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if m.City == "" || m.Pollutant == "" {
		return nil, fmt.Errorf("decode model: missing city or pollutant")
	}
	s.Put(&m)
	return &m, nil
}
