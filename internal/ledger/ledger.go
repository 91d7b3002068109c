// Package ledger keeps the cash balances and positions of every participant
// in one competition and applies trade settlement exactly once per trade.
//
// A Ledger is not safe for concurrent use; the owning competition
// serializes access.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/model"
)

var (
	ErrDuplicateParticipant = errors.New("ledger: participant already joined")
	ErrCapacityExceeded     = errors.New("ledger: participant capacity exceeded")
	ErrUnknownParticipant   = errors.New("ledger: unknown participant")
	ErrAlreadySettled       = errors.New("ledger: trade already settled")
)

// Ledger owns the participant accounts of one competition.
type Ledger struct {
	startingCash decimal.Decimal
	capacity     int // 0 = unlimited

	accounts  map[string]*model.Participant
	joinOrder []string

	settled map[string]struct{}
}

// New creates an empty ledger. Every participant starts with startingCash.
func New(startingCash decimal.Decimal, capacity int) *Ledger {
	return &Ledger{
		startingCash: startingCash,
		capacity:     capacity,
		accounts:     make(map[string]*model.Participant),
		settled:      make(map[string]struct{}),
	}
}

// StartingCash returns the balance every participant starts with.
func (l *Ledger) StartingCash() decimal.Decimal {
	return l.startingCash
}

// Capacity returns the participant limit, 0 when unlimited.
func (l *Ledger) Capacity() int {
	return l.capacity
}

// Join opens an account for userID.
func (l *Ledger) Join(userID, displayName string, at time.Time) error {
	if _, ok := l.accounts[userID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateParticipant, userID)
	}
	if l.capacity > 0 && len(l.accounts) >= l.capacity {
		return fmt.Errorf("%w: limit %d", ErrCapacityExceeded, l.capacity)
	}
	if displayName == "" {
		displayName = userID
	}
	l.accounts[userID] = &model.Participant{
		UserID:      userID,
		DisplayName: displayName,
		Cash:        l.startingCash,
		Positions:   make(map[string]model.Position),
		JoinedAt:    at.UTC(),
	}
	l.joinOrder = append(l.joinOrder, userID)
	return nil
}

// Has reports whether userID has joined.
func (l *Ledger) Has(userID string) bool {
	_, ok := l.accounts[userID]
	return ok
}

// Len returns the number of participants.
func (l *Ledger) Len() int {
	return len(l.accounts)
}

// Settle applies a trade: the buyer pays price × quantity to the seller and
// the positions move by ±quantity. Both accounts are checked before either
// is touched, so a failed settlement changes nothing.
func (l *Ledger) Settle(t model.Trade) error {
	if _, done := l.settled[t.ID]; done {
		return fmt.Errorf("%w: %s", ErrAlreadySettled, t.ID)
	}
	buyer, ok := l.accounts[t.BuyerID()]
	if !ok {
		return fmt.Errorf("%w: buyer %s", ErrUnknownParticipant, t.BuyerID())
	}
	seller, ok := l.accounts[t.SellerID()]
	if !ok {
		return fmt.Errorf("%w: seller %s", ErrUnknownParticipant, t.SellerID())
	}

	notional := t.Notional()
	buyer.Cash = buyer.Cash.Sub(notional)
	seller.Cash = seller.Cash.Add(notional)

	buyer.Positions[t.Symbol] = applyFill(buyer.Positions[t.Symbol], t.Symbol, t.Quantity, t.Price)
	seller.Positions[t.Symbol] = applyFill(seller.Positions[t.Symbol], t.Symbol, -t.Quantity, t.Price)

	l.settled[t.ID] = struct{}{}
	return nil
}

// applyFill moves a position by the signed delta. The average price follows
// the open quantity: it blends on additions, is kept on reductions and
// resets when the position flips through zero.
func applyFill(p model.Position, symbol string, delta int64, price decimal.Decimal) model.Position {
	p.Symbol = symbol
	oldQty := p.Quantity
	newQty := oldQty + delta

	switch {
	case newQty == 0:
		p.AvgPrice = decimal.Zero
	case oldQty == 0 || (oldQty > 0) != (newQty > 0):
		p.AvgPrice = price
	case (oldQty > 0) == (delta > 0):
		cost := p.AvgPrice.Mul(decimal.NewFromInt(abs(oldQty))).Add(price.Mul(decimal.NewFromInt(abs(delta))))
		p.AvgPrice = cost.Div(decimal.NewFromInt(abs(newQty)))
	}
	p.Quantity = newQty
	return p
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// IsSettled reports whether the trade id has been applied.
func (l *Ledger) IsSettled(tradeID string) bool {
	_, ok := l.settled[tradeID]
	return ok
}

// Participant returns a copy of one account.
func (l *Ledger) Participant(userID string) (model.Participant, bool) {
	p, ok := l.accounts[userID]
	if !ok {
		return model.Participant{}, false
	}
	return p.Clone(), true
}

// Participants returns copies of every account in join order.
func (l *Ledger) Participants() []model.Participant {
	out := make([]model.Participant, 0, len(l.joinOrder))
	for _, id := range l.joinOrder {
		out = append(out, l.accounts[id].Clone())
	}
	return out
}

// TotalCash sums cash across all accounts.
func (l *Ledger) TotalCash() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.accounts {
		total = total.Add(p.Cash)
	}
	return total
}

// NetPosition sums the signed position in symbol across all accounts.
func (l *Ledger) NetPosition(symbol string) int64 {
	var net int64
	for _, p := range l.accounts {
		net += p.Positions[symbol].Quantity
	}
	return net
}
