// Package valuation marks open positions to market. Mark prices are used
// for unrealized PnL and display only; they never set an execution price.
package valuation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/model"
)

// Market is the read-only market state a mark price is derived from.
type Market interface {
	LastTradePrice(symbol string) (decimal.Decimal, bool)
	BestBid(symbol string) (decimal.Decimal, bool)
	BestAsk(symbol string) (decimal.Decimal, bool)
}

var two = decimal.NewFromInt(2)

// Service computes mark prices and PnL. It holds no market state and is
// safe for concurrent use.
type Service struct {
	fallback     decimal.Decimal
	startingCash decimal.Decimal
}

// NewService creates a valuation service. fallback is the mark used for a
// symbol with no trades and no two-sided book.
func NewService(fallback, startingCash decimal.Decimal) *Service {
	return &Service{fallback: fallback, startingCash: startingCash}
}

// MarkPrice returns the last trade price, else the mid of the best bid and
// ask, else the fallback.
func (s *Service) MarkPrice(m Market, symbol string) decimal.Decimal {
	if p, ok := m.LastTradePrice(symbol); ok {
		return p
	}
	bid, hasBid := m.BestBid(symbol)
	ask, hasAsk := m.BestAsk(symbol)
	if hasBid && hasAsk {
		return bid.Add(ask).Div(two)
	}
	return s.fallback
}

// PnL is cash plus marked positions minus the starting balance.
func (s *Service) PnL(m Market, p model.Participant) decimal.Decimal {
	equity := p.Cash
	for symbol, pos := range p.Positions {
		if pos.Quantity == 0 {
			continue
		}
		equity = equity.Add(s.MarkPrice(m, symbol).Mul(decimal.NewFromInt(pos.Quantity)))
	}
	return equity.Sub(s.startingCash)
}

// Value returns the participant's cash and positions marked to market,
// positions sorted by symbol.
func (s *Service) Value(m Market, p model.Participant) model.ParticipantState {
	state := model.ParticipantState{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Cash:        p.Cash,
		Positions:   []model.PositionValue{},
		Equity:      p.Cash,
	}
	for symbol, pos := range p.Positions {
		mark := s.MarkPrice(m, symbol)
		value := mark.Mul(decimal.NewFromInt(pos.Quantity))
		state.Positions = append(state.Positions, model.PositionValue{
			Symbol:      symbol,
			Quantity:    pos.Quantity,
			AvgPrice:    pos.AvgPrice,
			MarkPrice:   mark,
			MarketValue: value,
		})
		state.Equity = state.Equity.Add(value)
	}
	sort.Slice(state.Positions, func(i, j int) bool {
		return state.Positions[i].Symbol < state.Positions[j].Symbol
	})
	state.PnL = state.Equity.Sub(s.startingCash)
	return state
}
