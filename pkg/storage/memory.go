package storage

import (
	"context"
	"sync"

	"github.com/utilitycost/utilitycost/pkg/types"
)

// MemoryStore implements the Store interface with in-process maps. It is used
// by tests and by the "memory" storage provider.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]map[string]float64
	states   map[string]types.StoreState
	settings map[string]memorySettings
}

type memorySettings struct {
	settings types.Settings
	version  int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		counters: map[string]map[string]float64{},
		states:   map[string]types.StoreState{},
		settings: map[string]memorySettings{},
	}
}

func (m *MemoryStore) GetValue(ctx context.Context, deviceID, key string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.counters[deviceID][key]
	return v, ok, nil
}

func (m *MemoryStore) SetValue(ctx context.Context, deviceID, key string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters[deviceID] == nil {
		m.counters[deviceID] = map[string]float64{}
	}
	m.counters[deviceID][key] = value
	return nil
}

func (m *MemoryStore) GetValues(ctx context.Context, deviceID string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	values := make(map[string]float64, len(m.counters[deviceID]))
	for k, v := range m.counters[deviceID] {
		values[k] = v
	}
	return values, nil
}

func (m *MemoryStore) GetState(ctx context.Context, deviceID string) (types.StoreState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[deviceID]
	// copy the slice so callers can't mutate stored state
	st.Highest10Hours = append([]types.MaxConsumptionDay(nil), st.Highest10Hours...)
	return st, nil
}

func (m *MemoryStore) SetState(ctx context.Context, deviceID string, state types.StoreState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state.Highest10Hours = append([]types.MaxConsumptionDay(nil), state.Highest10Hours...)
	m.states[deviceID] = state
	return nil
}

func (m *MemoryStore) GetSettings(ctx context.Context, deviceID string) (types.Settings, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.settings[deviceID]
	return s.settings, s.version, nil
}

func (m *MemoryStore) SetSettings(ctx context.Context, deviceID string, settings types.Settings, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[deviceID] = memorySettings{settings: settings, version: version}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
