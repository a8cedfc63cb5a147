// Package catalog holds the static definition of tradable instruments and the
// fixed deposit-rate tiers. A Catalog is read-only once built; the live price
// state is a copy obtained from InitialMarket.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/tradesim/internal/model"
)

var (
	// USDRate converts USD notionals into HKD, the game's only currency.
	USDRate = decimal.RequireFromString("7.8")

	// FeeRate is the stock trading fee charged on both buys and sells.
	FeeRate = decimal.RequireFromString("0.003585")
)

// codeRegex matches instrument codes: exchange numbers ("0005") or names ("Gold").
var codeRegex = regexp.MustCompile(`^[0-9A-Za-z]{1,16}$`)

var validKinds = map[model.Kind]bool{
	model.KindStock:     true,
	model.KindBond:      true,
	model.KindCommodity: true,
}

var (
	ErrUnknownInstrument = errors.New("catalog: unknown instrument")
	ErrUnknownTerm       = errors.New("catalog: unknown deposit term")
	ErrInvalidInstrument = errors.New("catalog: invalid instrument definition")
)

// Tier is one row of the deposit-rate table.
type Tier struct {
	Months     int             `json:"months"`
	Rounds     int             `json:"rounds"`
	AnnualRate decimal.Decimal `json:"annual_rate"`
}

// Catalog is the immutable instrument and tier table.
type Catalog struct {
	order       []string
	instruments map[string]model.Instrument
	tiers       map[int]Tier
}

// New validates and indexes the given instruments and tiers. Instrument order
// is preserved for List.
func New(instruments []model.Instrument, tiers []Tier) (*Catalog, error) {
	c := &Catalog{
		instruments: make(map[string]model.Instrument, len(instruments)),
		tiers:       make(map[int]Tier, len(tiers)),
	}
	for _, inst := range instruments {
		if !codeRegex.MatchString(inst.Code) {
			return nil, fmt.Errorf("%w: bad code %q", ErrInvalidInstrument, inst.Code)
		}
		if !validKinds[inst.Kind] {
			return nil, fmt.Errorf("%w: %s has kind %q", ErrInvalidInstrument, inst.Code, inst.Kind)
		}
		if inst.LotSize < 1 {
			return nil, fmt.Errorf("%w: %s lot size %d", ErrInvalidInstrument, inst.Code, inst.LotSize)
		}
		if !inst.Price.IsPositive() {
			return nil, fmt.Errorf("%w: %s price %s", ErrInvalidInstrument, inst.Code, inst.Price)
		}
		if _, dup := c.instruments[inst.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate code %s", ErrInvalidInstrument, inst.Code)
		}
		c.order = append(c.order, inst.Code)
		c.instruments[inst.Code] = inst
	}
	for _, t := range tiers {
		if t.Months < 1 || t.Rounds < 1 || t.AnnualRate.IsNegative() {
			return nil, fmt.Errorf("catalog: invalid tier %+v", t)
		}
		c.tiers[t.Months] = t
	}
	return c, nil
}

// Default returns the catalog the game ships with.
func Default() *Catalog {
	c, err := New(DefaultInstruments(), DefaultTiers())
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultInstruments is the stock, bond and commodity line-up. USD bonds are
// priced and floored in HKD.
func DefaultInstruments() []model.Instrument {
	usd := func(v int64) decimal.Decimal { return decimal.NewFromInt(v).Mul(USDRate) }
	hkd := decimal.NewFromInt
	pct := decimal.RequireFromString

	stock := func(code, name string, price, lot int64) model.Instrument {
		return model.Instrument{Code: code, Name: name, Kind: model.KindStock, LotSize: lot, Price: hkd(price)}
	}
	bond := func(code, name string, price decimal.Decimal, lot int64, coupon string, minEntry decimal.Decimal) model.Instrument {
		return model.Instrument{
			Code: code, Name: name, Kind: model.KindBond, LotSize: lot, Price: price,
			CouponRatePercent: pct(coupon), MinEntryAmount: minEntry,
		}
	}

	return []model.Instrument{
		stock("700", "Tencent Holdings", 550, 100),
		stock("2800", "Tracker Fund of Hong Kong", 25, 500),
		stock("9988", "Alibaba Group", 150, 100),
		stock("9992", "Pop Mart", 240, 200),
		stock("981", "SMIC", 65, 500),
		stock("2899", "Zijin Mining", 40, 2000),
		stock("388", "Hong Kong Exchanges", 100, 100),
		stock("0005", "HSBC Holdings", 135, 400),
		bond("AgBank", "Agricultural Bank HK (HKD)", hkd(100), 100, "2.31", hkd(10000)),
		bond("USTreasury", "US Treasury (USD)", usd(100), 10, "4.625", usd(70000)),
		bond("Airport", "Airport Authority Retail Bond (HKD)", hkd(100), 100, "4.25", hkd(10000)),
		bond("Nvidia", "NVIDIA Bond (USD)", usd(100), 10, "3.20", usd(70000)),
		bond("Apple", "Apple Bond (USD)", usd(100), 10, "3.00", usd(70000)),
		{Code: "Gold", Name: "999.9 Gold Bar", Kind: model.KindCommodity, LotSize: 1, Price: hkd(49480)},
	}
}

// DefaultTiers is the deposit table: a 3-month term matures after one round.
func DefaultTiers() []Tier {
	return []Tier{
		{Months: 3, Rounds: 1, AnnualRate: decimal.RequireFromString("0.001")},
		{Months: 6, Rounds: 2, AnnualRate: decimal.RequireFromString("0.00125")},
		{Months: 12, Rounds: 4, AnnualRate: decimal.RequireFromString("0.0015")},
	}
}

// List returns every instrument in catalog order.
func (c *Catalog) List() []model.Instrument {
	out := make([]model.Instrument, 0, len(c.order))
	for _, code := range c.order {
		out = append(out, c.instruments[code])
	}
	return out
}

// Codes returns instrument codes in catalog order.
func (c *Catalog) Codes() []string {
	return append([]string(nil), c.order...)
}

// Get looks up an instrument by code.
func (c *Catalog) Get(code string) (model.Instrument, error) {
	inst, ok := c.instruments[code]
	if !ok {
		return model.Instrument{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, code)
	}
	return inst, nil
}

// Tier looks up the deposit tier for a duration in months.
func (c *Catalog) Tier(months int) (Tier, error) {
	t, ok := c.tiers[months]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %d months", ErrUnknownTerm, months)
	}
	return t, nil
}

// Tiers returns every deposit tier ordered by duration.
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, 0, len(c.tiers))
	for _, t := range c.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Months < out[j].Months })
	return out
}

// InitialMarket returns a fresh live market at catalog prices. Each call
// returns an independent copy.
func (c *Catalog) InitialMarket() model.MarketState {
	m := make(model.MarketState, len(c.order))
	for _, code := range c.order {
		m[code] = &model.Quote{Instrument: c.instruments[code]}
	}
	return m
}

// EmptyHoldings returns a holdings map with every instrument at zero.
func (c *Catalog) EmptyHoldings() map[string]int64 {
	h := make(map[string]int64, len(c.order))
	for _, code := range c.order {
		h[code] = 0
	}
	return h
}
