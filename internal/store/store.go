// Package store defines the journal interface for the arena engine.
// Implementations include PostgreSQL (durable history), Redis (read-through
// cache), and in-memory (default and tests).
//
// The journal is a history sink. Books and ledgers live in memory and are
// never rebuilt from it.
package store

import (
	"context"

	"github.com/atmx/arena-engine/internal/model"
)

// Store is the journal interface.
type Store interface {
	// --- Competitions ---

	// CreateCompetition records a new competition.
	CreateCompetition(ctx context.Context, info model.CompetitionInfo) error

	// ListCompetitions returns every recorded competition, newest start first.
	ListCompetitions(ctx context.Context) ([]model.CompetitionInfo, error)

	// --- Trade history ---

	// InsertTrades appends trades produced by one submission.
	InsertTrades(ctx context.Context, trades []model.Trade) error

	// GetTradesByCompetition returns the latest limit trades in sequence
	// order; limit <= 0 returns all of them.
	GetTradesByCompetition(ctx context.Context, competitionID string, limit int) ([]model.Trade, error)

	// GetTradesByUser returns every trade the user took part in, on either side.
	GetTradesByUser(ctx context.Context, competitionID, userID string) ([]model.Trade, error)
}
