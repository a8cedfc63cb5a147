// Package ledger validates and settles everything that moves a player's cash:
// trades, time deposits and the end-of-round payouts (deposit maturity and
// bond coupons).
//
// Every operation is all-or-nothing: a rejected order or deposit returns an
// error and leaves the player exactly as it was.
//
// Payouts (interest, coupons) are truncated to whole currency units. Trade
// notional and fees are not rounded beyond the two decimals prices already
// carry.
package ledger

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/tradesim/internal/catalog"
	"github.com/atmx/tradesim/internal/model"
)

var (
	// ErrInvalidQuantity is returned when lots is not a positive integer.
	ErrInvalidQuantity = errors.New("ledger: lots must be a positive integer")

	// ErrExceedsLotCap is returned when a single order asks for more lots than
	// the per-order cap.
	ErrExceedsLotCap = errors.New("ledger: order exceeds per-order lot cap")

	// ErrBelowMinimumEntry is returned when a bond buy is smaller than the
	// bond's minimum notional.
	ErrBelowMinimumEntry = errors.New("ledger: below bond minimum entry amount")

	ErrInsufficientCash     = errors.New("ledger: insufficient cash")
	ErrInsufficientHoldings = errors.New("ledger: insufficient holdings")
	ErrInvalidSide          = errors.New("ledger: side must be buy or sell")

	// ErrInvalidAmount is returned when a deposit amount is not a positive
	// integer.
	ErrInvalidAmount = errors.New("ledger: amount must be a positive integer")
)

// DefaultLotCap is the per-order lot limit.
const DefaultLotCap = 100

// Client-supplied lots and amounts must have an exponent in this window.
// Comparing, rescaling or even printing a decimal costs time and memory
// proportional to its exponent, so out-of-window values are rejected before
// any of those.
const (
	minExponent = -8
	maxExponent = 12
)

func inRange(v decimal.Decimal) bool {
	e := v.Exponent()
	return e >= minExponent && e <= maxExponent
}

var (
	twelve  = decimal.NewFromInt(12)
	hundred = decimal.NewFromInt(100)
	four    = decimal.NewFromInt(4)
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TierSource resolves deposit durations to tiers. *catalog.Catalog satisfies it.
type TierSource interface {
	Tier(months int) (catalog.Tier, error)
}

// Config holds the fee and cap policy.
type Config struct {
	FeeRate decimal.Decimal
	LotCap  int64
}

// Ledger applies portfolio mutations. It is stateless; the caller owns the
// players and serialises access to them.
type Ledger struct {
	feeRate decimal.Decimal
	lotCap  int64
	tiers   TierSource
}

// New creates a ledger. A non-positive LotCap falls back to DefaultLotCap.
func New(cfg Config, tiers TierSource) *Ledger {
	if cfg.LotCap < 1 {
		cfg.LotCap = DefaultLotCap
	}
	return &Ledger{
		feeRate: cfg.FeeRate,
		lotCap:  cfg.LotCap,
		tiers:   tiers,
	}
}

// Fill describes a settled trade.
type Fill struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Kind     model.Kind      `json:"kind"`
	Side     Side            `json:"side"`
	Lots     int64           `json:"lots"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Notional decimal.Decimal `json:"notional"`
	Fee      decimal.Decimal `json:"fee"`
}

// Quote computes quantity, notional and fee for an order without touching
// any player.
func (l *Ledger) Quote(inst model.Instrument, side Side, lots decimal.Decimal) (Fill, error) {
	if side != SideBuy && side != SideSell {
		return Fill{}, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if !inRange(lots) {
		return Fill{}, fmt.Errorf("%w: exponent %d out of range", ErrInvalidQuantity, lots.Exponent())
	}
	if !lots.IsInteger() || !lots.IsPositive() {
		return Fill{}, fmt.Errorf("%w: %s", ErrInvalidQuantity, lots)
	}
	if lots.GreaterThan(decimal.NewFromInt(l.lotCap)) {
		return Fill{}, fmt.Errorf("%w: %s > %d", ErrExceedsLotCap, lots, l.lotCap)
	}

	n := lots.IntPart()
	qty := n * inst.LotSize
	notional := decimal.NewFromInt(qty).Mul(inst.Price)
	fee := decimal.Zero
	if inst.Kind == model.KindStock {
		fee = notional.Mul(l.feeRate)
	}

	return Fill{
		Code:     inst.Code,
		Name:     inst.Name,
		Kind:     inst.Kind,
		Side:     side,
		Lots:     n,
		Quantity: qty,
		Price:    inst.Price,
		Notional: notional,
		Fee:      fee,
	}, nil
}

// Trade validates an order of lots against the player's cash or holdings and
// settles it at the instrument's current price.
func (l *Ledger) Trade(p *model.Player, inst model.Instrument, side Side, lots decimal.Decimal) (Fill, error) {
	fill, err := l.Quote(inst, side, lots)
	if err != nil {
		return Fill{}, err
	}

	switch side {
	case SideBuy:
		if inst.Kind == model.KindBond && fill.Notional.LessThan(inst.MinEntryAmount) {
			return Fill{}, fmt.Errorf("%w: %s < %s", ErrBelowMinimumEntry, fill.Notional, inst.MinEntryAmount)
		}
		total := fill.Notional.Add(fill.Fee)
		if p.Cash.LessThan(total) {
			return Fill{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientCash, total, p.Cash)
		}
		p.Cash = p.Cash.Sub(total)
		if p.Holdings == nil {
			p.Holdings = make(map[string]int64)
		}
		p.Holdings[inst.Code] += fill.Quantity

	case SideSell:
		if p.Holdings[inst.Code] < fill.Quantity {
			return Fill{}, fmt.Errorf("%w: need %d %s, have %d",
				ErrInsufficientHoldings, fill.Quantity, inst.Code, p.Holdings[inst.Code])
		}
		p.Cash = p.Cash.Add(fill.Notional.Sub(fill.Fee))
		p.Holdings[inst.Code] -= fill.Quantity
	}

	return fill, nil
}

// OpenDeposit moves amount from cash into a new fixed-term deposit opened in
// the given round.
func (l *Ledger) OpenDeposit(p *model.Player, amount decimal.Decimal, months, round int) (model.Deposit, error) {
	if !inRange(amount) {
		return model.Deposit{}, fmt.Errorf("%w: exponent %d out of range", ErrInvalidAmount, amount.Exponent())
	}
	if !amount.IsInteger() || !amount.IsPositive() {
		return model.Deposit{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	tier, err := l.tiers.Tier(months)
	if err != nil {
		return model.Deposit{}, err
	}
	if p.Cash.LessThan(amount) {
		return model.Deposit{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientCash, amount, p.Cash)
	}

	dep := model.Deposit{
		ID:            uuid.New().String(),
		Amount:        amount,
		TermMonths:    tier.Months,
		AnnualRate:    tier.AnnualRate,
		OpenedRound:   round,
		MaturityRound: round + tier.Rounds,
	}
	p.Cash = p.Cash.Sub(amount)
	p.Deposits = append(p.Deposits, dep)
	return dep, nil
}

// Interest is the whole-unit interest a deposit pays at maturity:
// floor(amount × annualRate × termMonths / 12).
func Interest(dep model.Deposit) decimal.Decimal {
	return dep.Amount.Mul(dep.AnnualRate).Mul(decimal.NewFromInt(int64(dep.TermMonths))).Div(twelve).Floor()
}

// Coupon is the whole-unit quarterly coupon for holding qty units of a bond
// at its current price: floor(qty × price × couponRate / 100 / 4).
func Coupon(qty int64, inst model.Instrument) decimal.Decimal {
	return decimal.NewFromInt(qty).Mul(inst.Price).Mul(inst.CouponRatePercent).Div(hundred).Div(four).Floor()
}

// Settlement summarises one player's end-of-round payouts.
type Settlement struct {
	Matured  []model.Deposit `json:"matured"`
	Interest decimal.Decimal `json:"interest"`
	Coupons  decimal.Decimal `json:"coupons"`
}

// Credited is the total cash added by the settlement, principal included.
func (s Settlement) Credited() decimal.Decimal {
	total := s.Interest.Add(s.Coupons)
	for _, dep := range s.Matured {
		total = total.Add(dep.Amount)
	}
	return total
}

// SettleEndOfRound pays out every deposit whose maturity round has been
// reached and the coupon on every positive bond holding. Called once per
// player per round, after the round counter has moved.
func (l *Ledger) SettleEndOfRound(p *model.Player, m model.MarketState, round int) Settlement {
	s := Settlement{Interest: decimal.Zero, Coupons: decimal.Zero}

	kept := make([]model.Deposit, 0, len(p.Deposits))
	for _, dep := range p.Deposits {
		if round < dep.MaturityRound {
			kept = append(kept, dep)
			continue
		}
		interest := Interest(dep)
		p.Cash = p.Cash.Add(dep.Amount).Add(interest)
		s.Interest = s.Interest.Add(interest)
		s.Matured = append(s.Matured, dep)
	}
	p.Deposits = kept

	for _, code := range slices.Sorted(maps.Keys(p.Holdings)) {
		qty := p.Holdings[code]
		q, ok := m[code]
		if !ok || q.Kind != model.KindBond || qty <= 0 {
			continue
		}
		coupon := Coupon(qty, q.Instrument)
		if coupon.IsPositive() {
			p.Cash = p.Cash.Add(coupon)
			s.Coupons = s.Coupons.Add(coupon)
		}
	}

	return s
}

// Valuation marks a player to market: cash, holdings at current prices and
// deposit principal.
func Valuation(p *model.Player, m model.MarketState) decimal.Decimal {
	total := p.Cash
	for code, qty := range p.Holdings {
		if q, ok := m[code]; ok && qty > 0 {
			total = total.Add(decimal.NewFromInt(qty).Mul(q.Price))
		}
	}
	for _, dep := range p.Deposits {
		total = total.Add(dep.Amount)
	}
	return total
}
