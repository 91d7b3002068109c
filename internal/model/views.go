package model

import "github.com/shopspring/decimal"

// BookEntry is one resting order as shown in a book snapshot.
type BookEntry struct {
	OrderID  string          `json:"order_id"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"` // remaining
	UserID   string          `json:"user_id"`
	Sequence uint64          `json:"sequence"`
}

// SymbolBook is the resting state of one instrument's book, best first.
type SymbolBook struct {
	Symbol    string          `json:"symbol"`
	Bids      []BookEntry     `json:"buy_orders"`
	Asks      []BookEntry     `json:"sell_orders"`
	MarkPrice decimal.Decimal `json:"mark_price"`
}

// BookSnapshot is a consistent view of every book in a competition plus
// the most recent trades.
type BookSnapshot struct {
	CompetitionID string       `json:"competition_id"`
	Books         []SymbolBook `json:"books"`
	RecentTrades  []Trade      `json:"trades"`
}

// PositionValue is a position marked to market.
type PositionValue struct {
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	MarkPrice   decimal.Decimal `json:"mark_price"`
	MarketValue decimal.Decimal `json:"market_value"`
}

// ParticipantState is a participant's cash and marked positions.
type ParticipantState struct {
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name"`
	Cash        decimal.Decimal `json:"cash"`
	Positions   []PositionValue `json:"positions"`
	Equity      decimal.Decimal `json:"equity"`
	PnL         decimal.Decimal `json:"total_pnl"`
}
