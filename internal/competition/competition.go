// Package competition aggregates the order books, ledger and trade log of a
// trading competition behind a single serialization boundary.
//
// Every mutating operation (submit, cancel, join) holds the competition's
// write lock for its whole cycle, including settlement of every trade it
// produced. Reads hold the read lock and return copies, so a reader never
// sees a trade without its ledger update. Competitions are independent of
// each other and run fully in parallel.
package competition

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/instrument"
	"github.com/atmx/arena-engine/internal/ledger"
	"github.com/atmx/arena-engine/internal/model"
	"github.com/atmx/arena-engine/internal/orderbook"
	"github.com/atmx/arena-engine/internal/valuation"
)

const (
	DefaultMaxParticipants = 30
	DefaultTradeTail       = 10
)

var (
	DefaultStartingCash = decimal.NewFromInt(1000000)
	DefaultMarkPrice    = decimal.NewFromInt(100)
)

// Config describes a competition to create.
type Config struct {
	ID              string
	Name            string
	StartTime       time.Time
	EndTime         time.Time
	Instruments     []instrument.Instrument
	MaxParticipants int             // 0 → DefaultMaxParticipants
	StartingCash    decimal.Decimal // zero → DefaultStartingCash
	FallbackMark    decimal.Decimal // zero → DefaultMarkPrice

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// OrderRequest is a limit order as submitted by a participant.
type OrderRequest struct {
	UserID   string
	Symbol   string
	Side     model.Side
	Price    decimal.Decimal
	Quantity int64
}

// Execution is the outcome of one submission.
type Execution struct {
	Order  model.Order   `json:"order"`
	Trades []model.Trade `json:"trades"`
}

// Competition owns its books, ledger and trade log exclusively.
type Competition struct {
	mu sync.RWMutex

	id        string
	name      string
	startTime time.Time
	endTime   time.Time

	instruments map[string]instrument.Instrument
	symbols     []string
	books       map[string]*orderbook.Book

	ledger *ledger.Ledger
	valuer *valuation.Service

	trades    []model.Trade // append-only
	lastPrice map[string]decimal.Decimal

	orderSeq orderbook.Counter
	tradeSeq orderbook.Counter

	halted bool
	now    func() time.Time
}

// New validates cfg and builds an empty competition.
func New(cfg Config) (*Competition, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidOrder)
	}
	if !cfg.EndTime.After(cfg.StartTime) {
		return nil, fmt.Errorf("%w: end time must be after start time", ErrInvalidOrder)
	}
	if len(cfg.Instruments) == 0 {
		cfg.Instruments = instrument.Defaults()
	}
	if cfg.MaxParticipants < 0 {
		return nil, fmt.Errorf("%w: max participants must not be negative", ErrInvalidOrder)
	}
	if cfg.MaxParticipants == 0 {
		cfg.MaxParticipants = DefaultMaxParticipants
	}
	if cfg.StartingCash.IsZero() {
		cfg.StartingCash = DefaultStartingCash
	}
	if cfg.FallbackMark.IsZero() {
		cfg.FallbackMark = DefaultMarkPrice
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	c := &Competition{
		id:          cfg.ID,
		name:        cfg.Name,
		startTime:   cfg.StartTime.UTC(),
		endTime:     cfg.EndTime.UTC(),
		instruments: make(map[string]instrument.Instrument, len(cfg.Instruments)),
		books:       make(map[string]*orderbook.Book, len(cfg.Instruments)),
		ledger:      ledger.New(cfg.StartingCash, cfg.MaxParticipants),
		valuer:      valuation.NewService(cfg.FallbackMark, cfg.StartingCash),
		lastPrice:   make(map[string]decimal.Decimal),
		now:         cfg.Clock,
	}

	for _, inst := range cfg.Instruments {
		if err := inst.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
		if _, dup := c.instruments[inst.Symbol]; dup {
			return nil, fmt.Errorf("%w: duplicate instrument %s", ErrInvalidOrder, inst.Symbol)
		}
		c.instruments[inst.Symbol] = inst
		c.symbols = append(c.symbols, inst.Symbol)
		c.books[inst.Symbol] = orderbook.New(c.id, inst.Symbol, &c.orderSeq, &c.tradeSeq)
	}
	sort.Strings(c.symbols)
	return c, nil
}

// ID returns the competition id.
func (c *Competition) ID() string {
	return c.id
}

// IsActive reports whether t falls in [start, end).
func (c *Competition) IsActive(t time.Time) bool {
	return !t.Before(c.startTime) && t.Before(c.endTime)
}

// Info describes the competition.
func (c *Competition) Info() model.CompetitionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return model.CompetitionInfo{
		ID:               c.id,
		Name:             c.name,
		StartTime:        c.startTime,
		EndTime:          c.endTime,
		Symbols:          append([]string(nil), c.symbols...),
		MaxParticipants:  c.ledger.Capacity(),
		ParticipantCount: c.ledger.Len(),
		Active:           !c.halted && c.IsActive(c.now()),
	}
}

// Instruments returns the listed instruments sorted by symbol.
func (c *Competition) Instruments() []instrument.Instrument {
	out := make([]instrument.Instrument, 0, len(c.symbols))
	for _, s := range c.symbols {
		out = append(out, c.instruments[s])
	}
	return out
}

// guard runs fn under the write lock. A panic inside fn means the book or
// ledger may be half updated, so the competition is halted before the
// panic continues.
func (c *Competition) guard(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted {
		return ErrHalted
	}
	defer func() {
		if r := recover(); r != nil {
			c.halted = true
			slog.Error("competition halted", "competition", c.id, "panic", fmt.Sprint(r))
			panic(r)
		}
	}()
	return fn()
}

// read runs fn under the read lock.
func (c *Competition) read(fn func() error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.halted {
		return ErrHalted
	}
	return fn()
}

// Join adds a participant with the starting balance.
func (c *Competition) Join(userID, displayName string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrNotFound)
	}
	return c.guard(func() error {
		err := c.ledger.Join(userID, displayName, c.now())
		switch {
		case errors.Is(err, ledger.ErrDuplicateParticipant):
			return fmt.Errorf("%w: %s", ErrDuplicateParticipant, userID)
		case errors.Is(err, ledger.ErrCapacityExceeded):
			return fmt.Errorf("%w: %v", ErrCapacityExceeded, err)
		case err != nil:
			return err
		}
		slog.Info("participant joined", "competition", c.id, "user", userID)
		return nil
	})
}

// PlaceOrder matches a limit order and settles every resulting trade before
// returning. No other mutation of this competition can interleave.
func (c *Competition) PlaceOrder(req OrderRequest) (*Execution, error) {
	var exec *Execution
	err := c.guard(func() error {
		now := c.now()
		if !c.IsActive(now) {
			return fmt.Errorf("%w: %s outside [%s, %s)", ErrNotActive, c.id,
				c.startTime.Format(time.RFC3339), c.endTime.Format(time.RFC3339))
		}

		symbol, err := instrument.ParseSymbol(req.Symbol)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
		inst, ok := c.instruments[symbol]
		if !ok {
			return fmt.Errorf("%w: unknown symbol %q", ErrInvalidOrder, req.Symbol)
		}
		if req.Side != model.Buy && req.Side != model.Sell {
			return fmt.Errorf("%w: side %q", ErrInvalidOrder, req.Side)
		}
		if err := inst.CheckOrder(req.Price, req.Quantity); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
		if !c.ledger.Has(req.UserID) {
			return fmt.Errorf("%w: participant %s", ErrNotFound, req.UserID)
		}

		order := &model.Order{
			ID:            uuid.New().String(),
			CompetitionID: c.id,
			UserID:        req.UserID,
			Symbol:        inst.Symbol,
			Side:          req.Side,
			Price:         req.Price,
			Quantity:      req.Quantity,
			CreatedAt:     now.UTC(),
		}

		trades, err := c.books[inst.Symbol].Submit(order)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}

		for _, t := range trades {
			if err := c.ledger.Settle(t); err != nil {
				// Both counterparties were members when their orders
				// were accepted and trade ids are fresh uuids.
				panic(fmt.Sprintf("competition: settle %s: %v", t.ID, err))
			}
			c.trades = append(c.trades, t)
			c.lastPrice[t.Symbol] = t.Price
		}

		exec = &Execution{Order: *order, Trades: trades}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("order placed",
		"competition", c.id,
		"order_id", exec.Order.ID,
		"user", req.UserID,
		"symbol", req.Symbol,
		"side", string(req.Side),
		"price", req.Price.String(),
		"qty", req.Quantity,
		"trades", len(exec.Trades),
	)
	return exec, nil
}

// CancelOrder removes a resting order owned by userID. Cancelling is
// allowed after the competition ends since it only removes exposure.
func (c *Competition) CancelOrder(orderID, userID string) error {
	return c.guard(func() error {
		for _, s := range c.symbols {
			book := c.books[s]
			o, ok := book.Lookup(orderID)
			if !ok {
				continue
			}
			if o.UserID != userID {
				return fmt.Errorf("%w: order %s is not owned by %s", ErrNotAuthorized, orderID, userID)
			}
			if !book.Cancel(orderID, userID) {
				panic(fmt.Sprintf("competition: resting order %s could not be cancelled", orderID))
			}
			slog.Info("order cancelled", "competition", c.id, "order_id", orderID, "user", userID)
			return nil
		}
		return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	})
}
