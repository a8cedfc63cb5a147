// Package market owns the live price state transitions: random market events
// that move instrument prices once per round.
//
// Events are data, not closures. Each EventKind maps to an EventSpec listing
// the instruments it touches and a multiplier range per target; magnitudes
// inside a range are drawn when the event is applied, once per affected
// instrument.
//
// All monetary values use shopspring/decimal, never float64. The
// only float in this package is the uniform draw that positions a multiplier
// inside its range.
package market

import (
	"maps"
	"math/rand/v2"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/atmx/tradesim/internal/model"
)

var (
	// PriceScale is the number of decimal places prices are rounded to after
	// every event.
	PriceScale int32 = 2

	// MinPrice is the floor applied after rounding so price stays positive.
	MinPrice = decimal.New(1, -PriceScale)

	hundred = decimal.NewFromInt(100)
)

// Source is the randomness the engine draws from. *rand.Rand satisfies it.
type Source interface {
	IntN(n int) int
	Float64() float64
}

// globalSource draws from the process-wide generator.
type globalSource struct{}

func (globalSource) IntN(n int) int   { return rand.IntN(n) }
func (globalSource) Float64() float64 { return rand.Float64() }

// Engine applies market events to a MarketState. It holds no price state of
// its own.
type Engine struct {
	src    Source
	events []EventSpec
}

// NewEngine creates an engine over the standard event table. Pass nil to use
// the process-wide random generator.
func NewEngine(src Source) *Engine {
	if src == nil {
		src = globalSource{}
	}
	return &Engine{src: src, events: Events()}
}

// Events returns the event table in EventKind order.
func (e *Engine) Events() []EventSpec {
	return append([]EventSpec(nil), e.events...)
}

// ApplyRandomEvent draws one event uniformly, applies it to m and returns its
// title and description.
func (e *Engine) ApplyRandomEvent(m model.MarketState) model.Event {
	spec := e.events[e.src.IntN(len(e.events))]
	return e.apply(m, spec)
}

// Apply applies a specific event. Unknown kinds leave prices untouched apart
// from resetting the per-round change to zero.
func (e *Engine) Apply(m model.MarketState, kind EventKind) model.Event {
	for _, spec := range e.events {
		if spec.Kind == kind {
			return e.apply(m, spec)
		}
	}
	return e.apply(m, EventSpec{Kind: kind})
}

func (e *Engine) apply(m model.MarketState, spec EventSpec) model.Event {
	before := make(map[string]decimal.Decimal, len(m))
	for code, q := range m {
		before[code] = q.Price
	}

	// Sorted so a seeded source gives reproducible prices.
	codes := slices.Sorted(maps.Keys(m))
	for _, eff := range spec.Effects {
		for _, code := range codes {
			q := m[code]
			if !eff.targets(code, q.Kind) {
				continue
			}
			q.Price = q.Price.Mul(e.multiplier(eff))
		}
	}

	for code, q := range m {
		price := q.Price.Round(PriceScale)
		if price.LessThan(MinPrice) {
			price = MinPrice
		}
		q.Price = price

		old := before[code]
		change := price.Sub(old)
		q.PriceChange = decimal.NewNullDecimal(change)
		q.PriceChangePercent = decimal.NewNullDecimal(change.Div(old).Mul(hundred).Round(PriceScale))
	}

	return model.Event{Title: spec.Title, Description: spec.Description}
}

// multiplier draws a value in [Low, High). Fixed effects skip the draw.
func (e *Engine) multiplier(eff Effect) decimal.Decimal {
	if eff.High.LessThanOrEqual(eff.Low) {
		return eff.Low
	}
	r := decimal.NewFromFloat(e.src.Float64())
	return eff.Low.Add(eff.High.Sub(eff.Low).Mul(r))
}
