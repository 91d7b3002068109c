// Package orderbook implements a per-instrument limit order book with strict
// price-time priority and self-trade prevention.
//
// Resting orders are grouped into price levels held in two B-trees (bids
// highest first, asks lowest first). Each level keeps its orders in arrival
// (sequence) order, so a scan of the tree followed by a scan of each level
// visits orders in exactly the price-time priority order.
//
// A Book is not safe for concurrent use. The owning competition serializes
// every call.
package orderbook

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/atmx/arena-engine/internal/model"
)

var (
	ErrSymbolMismatch  = errors.New("orderbook: order symbol does not match book")
	ErrInvalidQuantity = errors.New("orderbook: quantity must be positive")
	ErrInvalidPrice    = errors.New("orderbook: price must be positive")
	ErrInvalidSide     = errors.New("orderbook: side must be BUY or SELL")
)

// Sequencer hands out strictly increasing sequence numbers.
type Sequencer interface {
	Next() uint64
}

// level is the FIFO queue of orders resting at one price.
type level struct {
	price  decimal.Decimal
	orders []*model.Order
}

type levels = btree.BTreeG[*level]

// Book is the order book of one symbol within one competition.
type Book struct {
	competitionID string
	symbol        string

	orderSeq Sequencer
	tradeSeq Sequencer

	bids *levels
	asks *levels

	// Resting orders by id, for cancellation and lookup.
	index map[string]*model.Order

	now func() time.Time
}

// New creates an empty book. Order and trade sequences are shared with the
// rest of the competition so that priority and trade history are
// competition-wide.
func New(competitionID, symbol string, orderSeq, tradeSeq Sequencer) *Book {
	return &Book{
		competitionID: competitionID,
		symbol:        symbol,
		orderSeq:      orderSeq,
		tradeSeq:      tradeSeq,
		// Sorted greatest first.
		bids: btree.NewBTreeG(func(a, b *level) bool {
			return a.price.GreaterThan(b.price)
		}),
		// Sorted least first.
		asks: btree.NewBTreeG(func(a, b *level) bool {
			return a.price.LessThan(b.price)
		}),
		index: make(map[string]*model.Order),
		now:   time.Now,
	}
}

// Symbol returns the instrument this book matches.
func (b *Book) Symbol() string {
	return b.symbol
}

// Submit validates the order, assigns its sequence, matches it against the
// opposite side and rests any remainder. The returned trades are in the
// order they were generated, which is the order settlement must follow.
//
// The book takes ownership of o: its FilledQuantity and Sequence are
// updated in place and, if it rests, later fills mutate it too.
func (b *Book) Submit(o *model.Order) ([]model.Trade, error) {
	if o.Symbol != b.symbol {
		return nil, fmt.Errorf("%w: %s != %s", ErrSymbolMismatch, o.Symbol, b.symbol)
	}
	if o.Quantity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, o.Quantity)
	}
	if !o.Price.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, o.Price)
	}
	if o.Side != model.Buy && o.Side != model.Sell {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, o.Side)
	}
	if o.FilledQuantity != 0 {
		panic(fmt.Sprintf("orderbook: submitted order %s already has fills", o.ID))
	}

	o.Sequence = b.orderSeq.Next()

	trades := b.match(o)

	if o.Remaining() > 0 {
		b.rest(o)
	}

	slog.Debug("order processed",
		"competition", b.competitionID,
		"symbol", b.symbol,
		"order_id", o.ID,
		"user", o.UserID,
		"side", string(o.Side),
		"price", o.Price.String(),
		"qty", o.Quantity,
		"filled", o.FilledQuantity,
		"trades", len(trades),
	)
	return trades, nil
}

// match consumes crossing opposite orders in price-time priority. Orders
// owned by the aggressor's user are skipped in place and keep their
// priority; the scan continues past them.
func (b *Book) match(o *model.Order) []model.Trade {
	opposite := b.asks
	if o.Side == model.Sell {
		opposite = b.bids
	}

	var trades []model.Trade
	var emptied []*level

	opposite.Scan(func(lvl *level) bool {
		if !crosses(o, lvl.price) {
			return false
		}

		for i := 0; i < len(lvl.orders) && o.Remaining() > 0; {
			resting := lvl.orders[i]
			if resting.UserID == o.UserID {
				i++
				continue
			}

			qty := min(o.Remaining(), resting.Remaining())
			o.Fill(qty)
			resting.Fill(qty)
			trades = append(trades, b.newTrade(o, resting, qty))

			if resting.IsFilled() {
				lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
				delete(b.index, resting.ID)
				continue
			}
			i++
		}

		if len(lvl.orders) == 0 {
			emptied = append(emptied, lvl)
		}
		return o.Remaining() > 0
	})

	// The tree is not modified while it is being scanned.
	for _, lvl := range emptied {
		opposite.Delete(lvl)
	}
	return trades
}

// crosses reports whether an opposite level at price is marketable for o.
func crosses(o *model.Order, price decimal.Decimal) bool {
	if o.Side == model.Buy {
		return price.LessThanOrEqual(o.Price)
	}
	return price.GreaterThanOrEqual(o.Price)
}

func (b *Book) newTrade(aggressor, resting *model.Order, qty int64) model.Trade {
	return model.Trade{
		ID:               uuid.New().String(),
		CompetitionID:    b.competitionID,
		Symbol:           b.symbol,
		Price:            resting.Price,
		Quantity:         qty,
		AggressorOrderID: aggressor.ID,
		RestingOrderID:   resting.ID,
		AggressorUserID:  aggressor.UserID,
		RestingUserID:    resting.UserID,
		AggressorSide:    aggressor.Side,
		Sequence:         b.tradeSeq.Next(),
		Timestamp:        b.now().UTC(),
	}
}

// rest appends o to the back of its price level. Sequences only grow, so
// appending keeps each level sorted by time priority.
func (b *Book) rest(o *model.Order) {
	side := b.side(o.Side)
	if lvl, ok := side.Get(&level{price: o.Price}); ok {
		lvl.orders = append(lvl.orders, o)
	} else {
		side.Set(&level{price: o.Price, orders: []*model.Order{o}})
	}
	b.index[o.ID] = o
}

func (b *Book) side(s model.Side) *levels {
	if s == model.Buy {
		return b.bids
	}
	return b.asks
}

// Cancel removes a resting order if it exists and belongs to userID.
// Trades already generated from it are unaffected.
func (b *Book) Cancel(orderID, userID string) bool {
	o, ok := b.index[orderID]
	if !ok || o.UserID != userID {
		return false
	}

	side := b.side(o.Side)
	lvl, ok := side.Get(&level{price: o.Price})
	if !ok {
		panic(fmt.Sprintf("orderbook: indexed order %s has no price level", orderID))
	}
	for i, resting := range lvl.orders {
		if resting.ID == orderID {
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			break
		}
	}
	if len(lvl.orders) == 0 {
		side.Delete(lvl)
	}
	delete(b.index, orderID)
	return true
}

// Lookup returns a copy of a resting order.
func (b *Book) Lookup(orderID string) (model.Order, bool) {
	o, ok := b.index[orderID]
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

// BestBid returns the highest resting buy price.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	lvl, ok := b.bids.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.price, true
}

// BestAsk returns the lowest resting sell price.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	lvl, ok := b.asks.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.price, true
}

// Depth returns the number of resting orders on each side.
func (b *Book) Depth() (bids, asks int) {
	for _, o := range b.index {
		if o.Side == model.Buy {
			bids++
		} else {
			asks++
		}
	}
	return bids, asks
}

// Snapshot returns both sides, best price first and earliest first within
// a price.
func (b *Book) Snapshot() (bids, asks []model.BookEntry) {
	return entries(b.bids), entries(b.asks)
}

func entries(side *levels) []model.BookEntry {
	out := []model.BookEntry{}
	side.Scan(func(lvl *level) bool {
		for _, o := range lvl.orders {
			out = append(out, model.BookEntry{
				OrderID:  o.ID,
				Price:    o.Price,
				Quantity: o.Remaining(),
				UserID:   o.UserID,
				Sequence: o.Sequence,
			})
		}
		return true
	})
	return out
}

// OrdersFor returns copies of the user's resting orders in priority order,
// bids before asks.
func (b *Book) OrdersFor(userID string) []model.Order {
	var out []model.Order
	collect := func(lvl *level) bool {
		for _, o := range lvl.orders {
			if o.UserID == userID {
				out = append(out, *o)
			}
		}
		return true
	}
	b.bids.Scan(collect)
	b.asks.Scan(collect)
	return out
}
