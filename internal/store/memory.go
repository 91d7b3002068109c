package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/arena-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and when no database is configured.
type MemoryStore struct {
	mu           sync.RWMutex
	competitions map[string]model.CompetitionInfo
	trades       map[string][]model.Trade // by competition, sequence order
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		competitions: make(map[string]model.CompetitionInfo),
		trades:       make(map[string][]model.Trade),
	}
}

func (s *MemoryStore) CreateCompetition(_ context.Context, info model.CompetitionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.competitions[info.ID]; ok {
		return fmt.Errorf("competition %s already exists", info.ID)
	}
	info.Symbols = append([]string(nil), info.Symbols...)
	s.competitions[info.ID] = info
	return nil
}

func (s *MemoryStore) ListCompetitions(_ context.Context) ([]model.CompetitionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.CompetitionInfo, 0, len(s.competitions))
	for _, c := range s.competitions {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out, nil
}

func (s *MemoryStore) InsertTrades(_ context.Context, trades []model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[string]bool, 1)
	for _, t := range trades {
		s.trades[t.CompetitionID] = append(s.trades[t.CompetitionID], t)
		touched[t.CompetitionID] = true
	}
	// Concurrent submissions may journal out of order.
	for id := range touched {
		log := s.trades[id]
		sort.SliceStable(log, func(i, j int) bool { return log[i].Sequence < log[j].Sequence })
	}
	return nil
}

func (s *MemoryStore) GetTradesByCompetition(_ context.Context, competitionID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.trades[competitionID]
	from := 0
	if limit > 0 && len(log) > limit {
		from = len(log) - limit
	}
	return append([]model.Trade{}, log[from:]...), nil
}

func (s *MemoryStore) GetTradesByUser(_ context.Context, competitionID, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.Trade{}
	for _, t := range s.trades[competitionID] {
		if t.AggressorUserID == userID || t.RestingUserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}
