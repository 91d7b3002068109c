package competition

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/arena-engine/internal/instrument"
	"github.com/atmx/arena-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// testClock is a settable clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestCompetition(t *testing.T, users ...string) (*Competition, *testClock) {
	t.Helper()
	clock := &testClock{t: t0}
	x, err := instrument.New("X", d(100))
	require.NoError(t, err)
	y, err := instrument.New("Y", d(50))
	require.NoError(t, err)

	c, err := New(Config{
		ID:          "comp-1",
		Name:        "Test",
		StartTime:   t0,
		EndTime:     t0.Add(time.Hour),
		Instruments: []instrument.Instrument{x, y},
		Clock:       clock.Now,
	})
	require.NoError(t, err)
	for _, u := range users {
		require.NoError(t, c.Join(u, u))
	}
	return c, clock
}

func place(t *testing.T, c *Competition, user string, side model.Side, symbol string, price float64, qty int64) *Execution {
	t.Helper()
	exec, err := c.PlaceOrder(OrderRequest{UserID: user, Symbol: symbol, Side: side, Price: d(price), Quantity: qty})
	require.NoError(t, err)
	return exec
}

func TestPlaceOrder_ScenarioA_And_D(t *testing.T) {
	c, _ := newTestCompetition(t, "buyer", "seller")

	buy := place(t, c, "buyer", model.Buy, "X", 100, 10)
	assert.Empty(t, buy.Trades)
	assert.NotEmpty(t, buy.Order.ID)

	sell := place(t, c, "seller", model.Sell, "X", 100, 10)
	require.Len(t, sell.Trades, 1)
	assert.True(t, sell.Trades[0].Price.Equal(d(100)))
	assert.Equal(t, int64(10), sell.Trades[0].Quantity)
	assert.True(t, sell.Order.IsFilled())

	snap, err := c.Snapshot(0)
	require.NoError(t, err)
	for _, b := range snap.Books {
		assert.Empty(t, b.Bids)
		assert.Empty(t, b.Asks)
	}
	require.Len(t, snap.RecentTrades, 1)

	buyer, err := c.ParticipantState("buyer")
	require.NoError(t, err)
	seller, err := c.ParticipantState("seller")
	require.NoError(t, err)
	assert.True(t, buyer.Cash.Equal(d(999000)), "buyer cash %s", buyer.Cash)
	assert.True(t, seller.Cash.Equal(d(1001000)), "seller cash %s", seller.Cash)
	require.Len(t, buyer.Positions, 1)
	assert.Equal(t, int64(10), buyer.Positions[0].Quantity)
	require.Len(t, seller.Positions, 1)
	assert.Equal(t, int64(-10), seller.Positions[0].Quantity)
}

func TestPlaceOrder_ScenarioB_PartialRest(t *testing.T) {
	c, _ := newTestCompetition(t, "buyer", "seller")
	place(t, c, "buyer", model.Buy, "X", 100, 10)
	sell := place(t, c, "seller", model.Sell, "X", 100, 15)

	require.Len(t, sell.Trades, 1)
	assert.Equal(t, int64(10), sell.Trades[0].Quantity)

	orders, err := c.OpenOrders("seller")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(5), orders[0].Remaining())
}

func TestPlaceOrder_ScenarioC_SelfTrade(t *testing.T) {
	c, _ := newTestCompetition(t, "alice")
	place(t, c, "alice", model.Buy, "X", 100, 10)
	sell := place(t, c, "alice", model.Sell, "X", 100, 10)
	assert.Empty(t, sell.Trades)

	orders, err := c.OpenOrders("alice")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, model.Buy, orders[0].Side)
	assert.Equal(t, model.Sell, orders[1].Side)
}

func TestCancelOrder_ScenarioE_FilledOrder(t *testing.T) {
	c, _ := newTestCompetition(t, "buyer", "seller")
	buy := place(t, c, "buyer", model.Buy, "X", 100, 10)
	place(t, c, "seller", model.Sell, "X", 100, 10)

	before, _ := c.ParticipantState("buyer")
	err := c.CancelOrder(buy.Order.ID, "buyer")
	assert.ErrorIs(t, err, ErrNotFound)
	after, _ := c.ParticipantState("buyer")
	assert.Equal(t, before, after)
}

func TestCancelOrder_Ownership(t *testing.T) {
	c, _ := newTestCompetition(t, "alice", "bob")
	buy := place(t, c, "alice", model.Buy, "Y", 50, 3)

	assert.ErrorIs(t, c.CancelOrder(buy.Order.ID, "bob"), ErrNotAuthorized)
	orders, _ := c.OpenOrders("alice")
	require.Len(t, orders, 1)

	require.NoError(t, c.CancelOrder(buy.Order.ID, "alice"))
	orders, _ = c.OpenOrders("alice")
	assert.Empty(t, orders)

	// A cancelled order never matches.
	sell := place(t, c, "bob", model.Sell, "Y", 50, 3)
	assert.Empty(t, sell.Trades)
}

func TestPlaceOrder_BooksArePartitionedBySymbol(t *testing.T) {
	c, _ := newTestCompetition(t, "a", "b")
	place(t, c, "a", model.Buy, "X", 100, 10)
	exec := place(t, c, "b", model.Sell, "Y", 50, 10)
	assert.Empty(t, exec.Trades, "orders in different symbols must never match")
}

func TestPlaceOrder_Rejections(t *testing.T) {
	c, clock := newTestCompetition(t, "a")

	cases := []struct {
		name string
		req  OrderRequest
		want error
	}{
		{"unknown symbol", OrderRequest{UserID: "a", Symbol: "ZZZ", Side: model.Buy, Price: d(1), Quantity: 1}, ErrInvalidOrder},
		{"zero price", OrderRequest{UserID: "a", Symbol: "X", Side: model.Buy, Price: d(0), Quantity: 1}, ErrInvalidOrder},
		{"negative qty", OrderRequest{UserID: "a", Symbol: "X", Side: model.Buy, Price: d(1), Quantity: -1}, ErrInvalidOrder},
		{"bad side", OrderRequest{UserID: "a", Symbol: "X", Side: "HOLD", Price: d(1), Quantity: 1}, ErrInvalidOrder},
		{"off tick", OrderRequest{UserID: "a", Symbol: "X", Side: model.Buy, Price: d(1.001), Quantity: 1}, ErrInvalidOrder},
		{"not a participant", OrderRequest{UserID: "ghost", Symbol: "X", Side: model.Buy, Price: d(1), Quantity: 1}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.PlaceOrder(tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	valid := OrderRequest{UserID: "a", Symbol: "x", Side: model.Buy, Price: d(1), Quantity: 1}

	clock.Set(t0.Add(-time.Second))
	_, err := c.PlaceOrder(valid)
	assert.ErrorIs(t, err, ErrNotActive)

	clock.Set(t0.Add(time.Hour))
	_, err = c.PlaceOrder(valid)
	assert.ErrorIs(t, err, ErrNotActive, "end time is exclusive")

	clock.Set(t0)
	_, err = c.PlaceOrder(valid)
	assert.NoError(t, err, "start time is inclusive and symbols are case-insensitive")
}

func TestCancelOrder_AllowedAfterEnd(t *testing.T) {
	c, clock := newTestCompetition(t, "a")
	exec := place(t, c, "a", model.Buy, "X", 99, 1)
	clock.Set(t0.Add(2 * time.Hour))
	assert.NoError(t, c.CancelOrder(exec.Order.ID, "a"))
}

func TestJoin_Errors(t *testing.T) {
	c, err := New(Config{
		ID: "small", Name: "Small", StartTime: t0, EndTime: t0.Add(time.Hour),
		MaxParticipants: 1, Clock: func() time.Time { return t0 },
	})
	require.NoError(t, err)

	require.NoError(t, c.Join("a", "A"))
	assert.ErrorIs(t, c.Join("a", "A"), ErrDuplicateParticipant)
	assert.ErrorIs(t, c.Join("b", "B"), ErrCapacityExceeded)
	assert.Equal(t, 1, c.Info().ParticipantCount)
}

func TestLeaderboardAndMarks(t *testing.T) {
	c, _ := newTestCompetition(t, "a", "b", "c")

	// No trades, no book: fallback mark.
	mark, err := c.MarkPrice("X")
	require.NoError(t, err)
	assert.True(t, mark.Equal(d(100)))

	// Two-sided book without trades: midpoint.
	place(t, c, "c", model.Buy, "X", 90, 1)
	place(t, c, "c", model.Sell, "X", 110, 1)
	mark, _ = c.MarkPrice("X")
	assert.True(t, mark.Equal(d(100)))

	// a lifts c's ask: 1 @ 110.
	place(t, c, "a", model.Buy, "X", 110, 1)
	// b hits c's bid: 1 @ 90, which becomes the mark.
	place(t, c, "b", model.Sell, "X", 90, 1)
	mark, _ = c.MarkPrice("X")
	assert.True(t, mark.Equal(d(90)))

	board, err := c.Leaderboard()
	require.NoError(t, err)
	require.Len(t, board, 3)
	// a: -110 + 90 = -20; b: +90 - 90 = 0; c: +110 - 90 + (-1+1)*90 = 20
	assert.Equal(t, "c", board[0].UserID)
	assert.True(t, board[0].PnL.Equal(d(20)), "c pnl %s", board[0].PnL)
	assert.Equal(t, "b", board[1].UserID)
	assert.True(t, board[1].PnL.IsZero())
	assert.Equal(t, "a", board[2].UserID)
	assert.True(t, board[2].PnL.Equal(d(-20)))

	again, _ := c.Leaderboard()
	assert.Equal(t, board, again, "valuation is a pure function of state")
}

func TestSnapshot_TradeTail(t *testing.T) {
	c, _ := newTestCompetition(t, "a", "b")
	for i := 0; i < 15; i++ {
		place(t, c, "a", model.Buy, "X", 100, 1)
		place(t, c, "b", model.Sell, "X", 100, 1)
	}
	snap, err := c.Snapshot(0)
	require.NoError(t, err)
	require.Len(t, snap.RecentTrades, DefaultTradeTail)
	assert.Equal(t, uint64(15), snap.RecentTrades[DefaultTradeTail-1].Sequence)

	all, _ := c.Trades()
	assert.Len(t, all, 15)
}

func TestConcurrentSubmissions_ConserveAndSequence(t *testing.T) {
	users := []string{"u0", "u1", "u2", "u3", "u4", "u5"}
	c, _ := newTestCompetition(t, users...)

	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				side := model.Buy
				if (i+j)%2 == 0 {
					side = model.Sell
				}
				symbol := "X"
				if j%3 == 0 {
					symbol = "Y"
				}
				price := float64(95 + (i*7+j)%10)
				if _, err := c.PlaceOrder(OrderRequest{UserID: u, Symbol: symbol, Side: side, Price: d(price), Quantity: int64(1 + j%5)}); err != nil {
					t.Errorf("place: %v", err)
					return
				}
				if j%10 == 0 {
					if _, err := c.Leaderboard(); err != nil {
						t.Errorf("leaderboard: %v", err)
					}
				}
			}
		}(i, u)
	}
	wg.Wait()

	ps, err := c.Participants()
	require.NoError(t, err)
	cash := decimal.Zero
	var netX, netY int64
	for _, p := range ps {
		cash = cash.Add(p.Cash)
		netX += p.Positions["X"].Quantity
		netY += p.Positions["Y"].Quantity
	}
	assert.True(t, cash.Equal(DefaultStartingCash.Mul(decimal.NewFromInt(int64(len(users))))), "total cash %s", cash)
	assert.Zero(t, netX)
	assert.Zero(t, netY)

	trades, err := c.Trades()
	require.NoError(t, err)
	require.NotEmpty(t, trades)
	for i, tr := range trades {
		assert.Equal(t, uint64(i+1), tr.Sequence, "trade log must be contiguous in sequence order")
		assert.NotEqual(t, tr.AggressorUserID, tr.RestingUserID)
	}

	snap, err := c.Snapshot(0)
	require.NoError(t, err)
	for _, b := range snap.Books {
		for _, bid := range b.Bids {
			for _, ask := range b.Asks {
				if bid.Price.GreaterThanOrEqual(ask.Price) {
					assert.Equal(t, bid.UserID, ask.UserID, fmt.Sprintf("crossed %s vs %s", bid.OrderID, ask.OrderID))
				}
			}
		}
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Name: "x", StartTime: t0, EndTime: t0})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = New(Config{StartTime: t0, EndTime: t0.Add(time.Minute)})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	x, _ := instrument.New("X", d(1))
	_, err = New(Config{Name: "x", StartTime: t0, EndTime: t0.Add(time.Minute), Instruments: []instrument.Instrument{x, x}})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	c, err := New(Config{Name: "defaults", StartTime: t0, EndTime: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, []string{"AAPL", "GOOGL"}, c.Info().Symbols)
	assert.Equal(t, DefaultMaxParticipants, c.Info().MaxParticipants)
}

func TestGuard_PanicHaltsCompetition(t *testing.T) {
	c, _ := newTestCompetition(t, "alice", "bob")
	resting := place(t, c, "alice", model.Buy, "X", 100, 5)

	assert.PanicsWithValue(t, "boom", func() {
		_ = c.guard(func() error { panic("boom") })
	})

	_, err := c.PlaceOrder(OrderRequest{UserID: "bob", Symbol: "X", Side: model.Sell, Price: d(100), Quantity: 5})
	assert.ErrorIs(t, err, ErrHalted)
	assert.ErrorIs(t, c.CancelOrder(resting.Order.ID, "alice"), ErrHalted)
	assert.ErrorIs(t, c.Join("carol", "Carol"), ErrHalted)

	_, err = c.Snapshot(0)
	assert.ErrorIs(t, err, ErrHalted)
	_, err = c.Leaderboard()
	assert.ErrorIs(t, err, ErrHalted)
	_, err = c.ParticipantState("alice")
	assert.ErrorIs(t, err, ErrHalted)
	_, err = c.Trades()
	assert.ErrorIs(t, err, ErrHalted)

	assert.False(t, c.Info().Active, "a halted competition is not active")
}

func TestGuard_HaltIsPerCompetition(t *testing.T) {
	broken, _ := newTestCompetition(t, "alice")
	healthy, _ := newTestCompetition(t, "alice", "bob")

	assert.Panics(t, func() {
		_ = broken.guard(func() error { panic("boom") })
	})

	place(t, healthy, "alice", model.Buy, "X", 100, 1)
	exec := place(t, healthy, "bob", model.Sell, "X", 100, 1)
	assert.Len(t, exec.Trades, 1)
}
