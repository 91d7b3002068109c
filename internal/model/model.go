// Package model defines the core domain types shared across the arena engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts "BUY"/"SELL" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("invalid side %q (expected BUY or SELL)", s)
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Order is a limit order. Identity fields never change after submission;
// FilledQuantity is advanced only by the matching algorithm.
type Order struct {
	ID             string          `json:"order_id"`
	CompetitionID  string          `json:"competition_id"`
	UserID         string          `json:"user_id"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Quantity       int64           `json:"quantity"`
	FilledQuantity int64           `json:"filled_quantity"`
	Sequence       uint64          `json:"sequence"`   // time-priority key
	CreatedAt      time.Time       `json:"created_at"` // informational only
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

// IsFilled reports whether nothing is left to fill.
func (o *Order) IsFilled() bool {
	return o.FilledQuantity == o.Quantity
}

// Fill advances the filled quantity. Overfilling is a matching bug.
func (o *Order) Fill(qty int64) {
	if qty <= 0 || qty > o.Remaining() {
		panic(fmt.Sprintf("model: invalid fill of %d on order %s (remaining %d)", qty, o.ID, o.Remaining()))
	}
	o.FilledQuantity += qty
}

// Trade is an immutable record of one match. Once created it is never
// modified or deleted.
type Trade struct {
	ID               string          `json:"trade_id"`
	CompetitionID    string          `json:"competition_id"`
	Symbol           string          `json:"symbol"`
	Price            decimal.Decimal `json:"price"` // resting order's price
	Quantity         int64           `json:"quantity"`
	AggressorOrderID string          `json:"aggressor_order_id"`
	RestingOrderID   string          `json:"resting_order_id"`
	AggressorUserID  string          `json:"aggressor_user_id"`
	RestingUserID    string          `json:"resting_user_id"`
	AggressorSide    Side            `json:"aggressor_side"`
	Sequence         uint64          `json:"sequence"`
	Timestamp        time.Time       `json:"timestamp"`
}

// BuyerID returns the user on the buying side of the trade.
func (t Trade) BuyerID() string {
	if t.AggressorSide == Buy {
		return t.AggressorUserID
	}
	return t.RestingUserID
}

// SellerID returns the user on the selling side of the trade.
func (t Trade) SellerID() string {
	if t.AggressorSide == Sell {
		return t.AggressorUserID
	}
	return t.RestingUserID
}

// Notional is price × quantity.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// Position is a participant's signed holding in one symbol.
type Position struct {
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`  // +long / -short
	AvgPrice decimal.Decimal `json:"avg_price"` // display only
}

// Participant is one user's account inside one competition.
type Participant struct {
	UserID      string              `json:"user_id"`
	DisplayName string              `json:"display_name"`
	Cash        decimal.Decimal     `json:"cash"`
	Positions   map[string]Position `json:"positions"`
	JoinedAt    time.Time           `json:"joined_at"`
}

// Clone returns a deep copy safe to hand to readers.
func (p Participant) Clone() Participant {
	positions := make(map[string]Position, len(p.Positions))
	for k, v := range p.Positions {
		positions[k] = v
	}
	p.Positions = positions
	return p
}

// CompetitionInfo describes a competition without its mutable state.
type CompetitionInfo struct {
	ID               string    `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	StartTime        time.Time `json:"start_time" db:"start_time"`
	EndTime          time.Time `json:"end_time" db:"end_time"`
	Symbols          []string  `json:"symbols" db:"symbols"`
	MaxParticipants  int       `json:"max_participants" db:"max_participants"`
	ParticipantCount int       `json:"participant_count" db:"-"`
	Active           bool      `json:"active" db:"-"`
	RunID            string    `json:"run_id,omitempty" db:"run_id"` // set on journaled rows
}
