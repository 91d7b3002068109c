package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/arena-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
//
// Cached values live under generation keys. A write bumps the generation
// after it reaches the primary, so a reader that loaded the primary before
// the write can only fill a generation nobody reads any more. Keys are
// prefixed with the run id because competition ids repeat across restarts.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
	prefix  string
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration, runID string) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		prefix:  "run:" + runID + ":",
	}
}

// --- Write-through (write to primary, bump generation) ---

func (s *CachedStore) CreateCompetition(ctx context.Context, info model.CompetitionInfo) error {
	if err := s.primary.CreateCompetition(ctx, info); err != nil {
		return err
	}
	s.bump(ctx, s.competitionsGen())
	return nil
}

func (s *CachedStore) InsertTrades(ctx context.Context, trades []model.Trade) error {
	if err := s.primary.InsertTrades(ctx, trades); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, t := range trades {
		if !seen[t.CompetitionID] {
			seen[t.CompetitionID] = true
			s.bump(ctx, s.tradesGen(t.CompetitionID))
		}
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListCompetitions(ctx context.Context) ([]model.CompetitionInfo, error) {
	key := s.competitionsKey(s.generation(ctx, s.competitionsGen()))
	var comps []model.CompetitionInfo
	if s.lookup(ctx, key, &comps) {
		return comps, nil
	}

	comps, err := s.primary.ListCompetitions(ctx)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, key, comps)
	return comps, nil
}

// GetTradesByCompetition caches the full history and applies limit on the
// way out.
func (s *CachedStore) GetTradesByCompetition(ctx context.Context, competitionID string, limit int) ([]model.Trade, error) {
	key := s.tradesKey(competitionID, s.generation(ctx, s.tradesGen(competitionID)))
	var trades []model.Trade
	if !s.lookup(ctx, key, &trades) {
		var err error
		trades, err = s.primary.GetTradesByCompetition(ctx, competitionID, 0)
		if err != nil {
			return nil, err
		}
		s.fill(ctx, key, trades)
	}
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	return trades, nil
}

func (s *CachedStore) GetTradesByUser(ctx context.Context, competitionID, userID string) ([]model.Trade, error) {
	key := s.userTradesKey(competitionID, userID, s.generation(ctx, s.tradesGen(competitionID)))
	var trades []model.Trade
	if s.lookup(ctx, key, &trades) {
		return trades, nil
	}

	trades, err := s.primary.GetTradesByUser(ctx, competitionID, userID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, key, trades)
	return trades, nil
}

// --- Cache helpers ---

// generation returns the current value of a generation counter; a missing
// counter is generation 0.
func (s *CachedStore) generation(ctx context.Context, key string) int64 {
	n, err := s.rdb.Get(ctx, key).Int64()
	if err != nil {
		return 0
	}
	return n
}

func (s *CachedStore) bump(ctx context.Context, key string) {
	s.rdb.Incr(ctx, key)
}

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) fill(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) competitionsGen() string { return s.prefix + "competitions:gen" }
func (s *CachedStore) competitionsKey(gen int64) string {
	return fmt.Sprintf("%scompetitions:%d", s.prefix, gen)
}

func (s *CachedStore) tradesGen(competitionID string) string {
	return fmt.Sprintf("%strades:%s:gen", s.prefix, competitionID)
}

func (s *CachedStore) tradesKey(competitionID string, gen int64) string {
	return fmt.Sprintf("%strades:%s:%d", s.prefix, competitionID, gen)
}

func (s *CachedStore) userTradesKey(competitionID, uid string, gen int64) string {
	return fmt.Sprintf("%strades:%s:%d:user:%s", s.prefix, competitionID, gen, uid)
}
