// Package model defines the core domain types shared across the simulation.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"github.com/shopspring/decimal"
)

// Kind classifies a tradable instrument.
type Kind string

const (
	KindStock     Kind = "stock"
	KindBond      Kind = "bond"
	KindCommodity Kind = "commodity"
)

// Status is the lifecycle state of the shared session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Instrument is a catalog entry. Price is the only field that changes once
// the session has started, and only on the live copy held in MarketState.
type Instrument struct {
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Kind    Kind            `json:"kind"`
	LotSize int64           `json:"lot_size"`
	Price   decimal.Decimal `json:"price"`

	// Bond-only; zero for other kinds.
	CouponRatePercent decimal.Decimal `json:"coupon_rate_percent"`
	MinEntryAmount    decimal.Decimal `json:"min_entry_amount"`
}

// Quote is the live market view of one instrument. The change fields are
// null until the first event has moved prices. PriceChange is exact;
// PriceChangePercent is (new-old)/old*100 rounded half away from zero to 2
// decimal places.
type Quote struct {
	Instrument
	PriceChange        decimal.NullDecimal `json:"price_change"`
	PriceChangePercent decimal.NullDecimal `json:"price_change_percent"`
}

// MarketState maps instrument code to its live quote.
type MarketState map[string]*Quote

// Clone returns a deep copy of the market.
func (m MarketState) Clone() MarketState {
	out := make(MarketState, len(m))
	for code, q := range m {
		c := *q
		out[code] = &c
	}
	return out
}

// Event is the title/description pair of the last market event.
type Event struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Deposit is a fixed-term deposit contract owned by one player.
type Deposit struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	TermMonths    int             `json:"term_months"`
	AnnualRate    decimal.Decimal `json:"annual_rate"`
	OpenedRound   int             `json:"opened_round"`
	MaturityRound int             `json:"maturity_round"`
}

// Player is one participant's portfolio. Holdings are unit quantities, not
// lots.
type Player struct {
	DisplayName string           `json:"display_name"`
	DurableID   string           `json:"durable_id"`
	Cash        decimal.Decimal  `json:"cash"`
	Holdings    map[string]int64 `json:"holdings"`
	Deposits    []Deposit        `json:"deposits"`
}

// Clone returns a deep copy of the player.
func (p *Player) Clone() *Player {
	c := *p
	c.Holdings = make(map[string]int64, len(p.Holdings))
	for code, qty := range p.Holdings {
		c.Holdings[code] = qty
	}
	c.Deposits = append([]Deposit(nil), p.Deposits...)
	if c.Deposits == nil {
		c.Deposits = []Deposit{}
	}
	return &c
}

// Snapshot is the whole session as one persisted document. Players are keyed
// by durable id; connection bindings are not part of the document.
type Snapshot struct {
	Round     int                `json:"round"`
	Status    Status             `json:"status"`
	Market    MarketState        `json:"market"`
	Players   map[string]*Player `json:"players"`
	LastEvent *Event             `json:"last_event"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Round:   s.Round,
		Status:  s.Status,
		Market:  s.Market.Clone(),
		Players: make(map[string]*Player, len(s.Players)),
	}
	for id, p := range s.Players {
		c.Players[id] = p.Clone()
	}
	if s.LastEvent != nil {
		ev := *s.LastEvent
		c.LastEvent = &ev
	}
	return c
}

// Standing is one row of the end-of-game leaderboard.
type Standing struct {
	DisplayName string          `json:"display_name"`
	NetWorth    decimal.Decimal `json:"net_worth"`
}
