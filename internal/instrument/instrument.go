// Package instrument defines the tradable instruments of a competition and
// validates order parameters against their tick and lot sizes.
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// symbolRegex matches exchange-style tickers: AAPL, GOOGL, BRK.B, X.
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9.]{0,11}$`)

var (
	ErrInvalidSymbol     = errors.New("instrument: invalid symbol")
	ErrInvalidInstrument = errors.New("instrument: invalid definition")
	ErrInvalidPrice      = errors.New("instrument: invalid price")
	ErrInvalidQuantity   = errors.New("instrument: invalid quantity")
)

// Instrument is one symbol listed in a competition.
type Instrument struct {
	Symbol       string          `json:"symbol"`
	InitialPrice decimal.Decimal `json:"initial_price"`
	TickSize     decimal.Decimal `json:"tick_size"`
	LotSize      int64           `json:"lot_size"`
	Volatility   decimal.Decimal `json:"volatility"` // consumed by external price simulators
}

// ParseSymbol normalizes and validates a ticker symbol.
func ParseSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

// New builds an instrument with the given symbol and the default tick
// (0.01), lot (1) and volatility (0.1).
func New(symbol string, initialPrice decimal.Decimal) (Instrument, error) {
	s, err := ParseSymbol(symbol)
	if err != nil {
		return Instrument{}, err
	}
	inst := Instrument{
		Symbol:       s,
		InitialPrice: initialPrice,
		TickSize:     decimal.New(1, -2),
		LotSize:      1,
		Volatility:   decimal.NewFromFloat(0.1),
	}
	return inst, inst.Validate()
}

// Validate checks the definition is usable for matching.
func (i Instrument) Validate() error {
	if _, err := ParseSymbol(i.Symbol); err != nil {
		return err
	}
	if !i.InitialPrice.IsPositive() {
		return fmt.Errorf("%w: %s initial price must be positive", ErrInvalidInstrument, i.Symbol)
	}
	if !i.TickSize.IsPositive() {
		return fmt.Errorf("%w: %s tick size must be positive", ErrInvalidInstrument, i.Symbol)
	}
	if i.LotSize < 1 {
		return fmt.Errorf("%w: %s lot size must be at least 1", ErrInvalidInstrument, i.Symbol)
	}
	return nil
}

// CheckOrder validates a limit price and quantity against the instrument.
func (i Instrument) CheckOrder(price decimal.Decimal, quantity int64) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidPrice, price)
	}
	if !price.Mod(i.TickSize).IsZero() {
		return fmt.Errorf("%w: %s is not a multiple of tick %s", ErrInvalidPrice, price, i.TickSize)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: %d must be positive", ErrInvalidQuantity, quantity)
	}
	if quantity%i.LotSize != 0 {
		return fmt.Errorf("%w: %d is not a multiple of lot %d", ErrInvalidQuantity, quantity, i.LotSize)
	}
	return nil
}

// Defaults returns the instruments listed in a default competition.
func Defaults() []Instrument {
	var out []Instrument
	for _, s := range []string{"AAPL", "GOOGL"} {
		inst, _ := New(s, decimal.NewFromInt(100))
		out = append(out, inst)
	}
	return out
}
