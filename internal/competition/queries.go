package competition

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/leaderboard"
	"github.com/atmx/arena-engine/internal/model"
)

// market adapts the competition's books and trade log to valuation.Market.
// Callers must hold the lock.
type market struct {
	c *Competition
}

func (m market) LastTradePrice(symbol string) (decimal.Decimal, bool) {
	p, ok := m.c.lastPrice[symbol]
	return p, ok
}

func (m market) BestBid(symbol string) (decimal.Decimal, bool) {
	book, ok := m.c.books[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return book.BestBid()
}

func (m market) BestAsk(symbol string) (decimal.Decimal, bool) {
	book, ok := m.c.books[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return book.BestAsk()
}

// Snapshot returns every book's resting orders, best first, and the last
// tail trades (DefaultTradeTail when tail <= 0).
func (c *Competition) Snapshot(tail int) (model.BookSnapshot, error) {
	if tail <= 0 {
		tail = DefaultTradeTail
	}
	var snap model.BookSnapshot
	err := c.read(func() error {
		m := market{c}
		snap = model.BookSnapshot{CompetitionID: c.id, Books: make([]model.SymbolBook, 0, len(c.symbols))}
		for _, s := range c.symbols {
			bids, asks := c.books[s].Snapshot()
			snap.Books = append(snap.Books, model.SymbolBook{
				Symbol:    s,
				Bids:      bids,
				Asks:      asks,
				MarkPrice: c.valuer.MarkPrice(m, s),
			})
		}
		from := max(0, len(c.trades)-tail)
		snap.RecentTrades = append([]model.Trade{}, c.trades[from:]...)
		return nil
	})
	return snap, err
}

// MarkPrice returns the current mark for symbol.
func (c *Competition) MarkPrice(symbol string) (decimal.Decimal, error) {
	var p decimal.Decimal
	err := c.read(func() error {
		if _, ok := c.books[symbol]; !ok {
			return fmt.Errorf("%w: symbol %s", ErrNotFound, symbol)
		}
		p = c.valuer.MarkPrice(market{c}, symbol)
		return nil
	})
	return p, err
}

// Leaderboard ranks every participant by PnL.
func (c *Competition) Leaderboard() ([]leaderboard.Entry, error) {
	var entries []leaderboard.Entry
	err := c.read(func() error {
		m := market{c}
		entries = leaderboard.Rank(c.ledger.Participants(), func(p model.Participant) decimal.Decimal {
			return c.valuer.PnL(m, p)
		})
		return nil
	})
	return entries, err
}

// ParticipantState returns a participant's cash and marked positions.
func (c *Competition) ParticipantState(userID string) (model.ParticipantState, error) {
	var state model.ParticipantState
	err := c.read(func() error {
		p, ok := c.ledger.Participant(userID)
		if !ok {
			return fmt.Errorf("%w: participant %s", ErrNotFound, userID)
		}
		state = c.valuer.Value(market{c}, p)
		return nil
	})
	return state, err
}

// Participants returns the roster in join order.
func (c *Competition) Participants() ([]model.Participant, error) {
	var ps []model.Participant
	err := c.read(func() error {
		ps = c.ledger.Participants()
		return nil
	})
	return ps, err
}

// OpenOrders returns the user's resting orders across all books, oldest
// first.
func (c *Competition) OpenOrders(userID string) ([]model.Order, error) {
	orders := []model.Order{}
	err := c.read(func() error {
		for _, s := range c.symbols {
			orders = append(orders, c.books[s].OrdersFor(userID)...)
		}
		return nil
	})
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].Sequence < orders[j].Sequence
	})
	return orders, err
}

// Trades returns a copy of the full trade log in sequence order.
func (c *Competition) Trades() ([]model.Trade, error) {
	var trades []model.Trade
	err := c.read(func() error {
		trades = append([]model.Trade{}, c.trades...)
		return nil
	})
	return trades, err
}
