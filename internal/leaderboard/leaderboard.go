// Package leaderboard ranks the participants of a competition by PnL. The
// ranking is recomputed in full on every call.
package leaderboard

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/model"
)

// Entry is one row of the leaderboard.
type Entry struct {
	Rank        int             `json:"rank"`
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name"`
	PnL         decimal.Decimal `json:"total_pnl"`
}

// Rank sorts participants by pnl descending and numbers them 1..N. Equal
// pnl keeps the input order.
func Rank(participants []model.Participant, pnl func(model.Participant) decimal.Decimal) []Entry {
	entries := make([]Entry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, Entry{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			PnL:         pnl(p),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].PnL.GreaterThan(entries[j].PnL)
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
