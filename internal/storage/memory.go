package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"gasScope/internal/model"
)

// MemoryStorage keeps events in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	events map[model.EventKey]model.EnrichedEvent
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{events: make(map[model.EventKey]model.EnrichedEvent)}
}

func (s *MemoryStorage) UpsertEvents(_ context.Context, events []model.EnrichedEvent) error {
	s.mu.Lock()
	for _, event := range events {
		s.events[event.Key()] = event
	}
	s.mu.Unlock()
	return nil
}

// changedEvents returns the events that differ from what is stored, without
// storing them. A key repeated in events keeps its last occurrence.
func (s *MemoryStorage) changedEvents(events []model.EnrichedEvent) []model.EnrichedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make(map[model.EventKey]int, len(events))
	changed := make([]model.EnrichedEvent, 0, len(events))
	for _, event := range events {
		key := event.Key()
		if i, ok := pending[key]; ok {
			changed[i] = event
			continue
		}
		if existing, ok := s.events[key]; ok && sameEvent(existing, event) {
			continue
		}
		pending[key] = len(changed)
		changed = append(changed, event)
	}
	return changed
}

func (s *MemoryStorage) CountEvents(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.events)), nil
}

func (s *MemoryStorage) BlockRange(_ context.Context) (uint64, uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var min, max uint64
	first := true
	for _, event := range s.events {
		if first || event.BlockNumber < min {
			min = event.BlockNumber
		}
		if first || event.BlockNumber > max {
			max = event.BlockNumber
		}
		first = false
	}
	return min, max, !first, nil
}

func (s *MemoryStorage) DateRange(_ context.Context) (time.Time, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var start, end time.Time
	first := true
	for _, event := range s.events {
		date := event.EventDate()
		if first || date.Before(start) {
			start = date
		}
		if first || date.After(end) {
			end = date
		}
		first = false
	}
	return start, end, !first, nil
}

func (s *MemoryStorage) Events(_ context.Context) ([]model.EnrichedEvent, error) {
	s.mu.RLock()
	out := make([]model.EnrichedEvent, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event)
	}
	s.mu.RUnlock()

	SortEvents(out)
	return out, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

// SortEvents orders events by block number, then log index, then tx hash.
func SortEvents(events []model.EnrichedEvent) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.LogIndex != b.LogIndex {
			return a.LogIndex < b.LogIndex
		}
		return a.TxHash < b.TxHash
	})
}

func sameEvent(a, b model.EnrichedEvent) bool {
	return a.BlockNumber == b.BlockNumber &&
		a.BlockTimestamp == b.BlockTimestamp &&
		a.Contract == b.Contract &&
		a.From == b.From &&
		a.To == b.To &&
		a.GasUsed == b.GasUsed &&
		model.DecString(a.Value) == model.DecString(b.Value) &&
		model.DecString(a.EffectiveGasPrice) == model.DecString(b.EffectiveGasPrice) &&
		model.DecString(a.GasCost) == model.DecString(b.GasCost)
}
