package market

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/tradesim/internal/model"
)

// EventKind identifies one entry of the event table.
type EventKind int

const (
	EventAIBreakthrough EventKind = iota
	EventRateHike
	EventGeopoliticalTension
	EventConsumerStimulus
	EventChipShortage
	EventGlobalCrash
	EventQuietMarket
)

// Effect multiplies the price of every targeted instrument by a factor drawn
// from [Low, High). Low == High is a fixed factor. An effect targets the
// listed Codes, or every instrument of Kind when Codes is empty.
type Effect struct {
	Codes []string
	Kind  model.Kind
	Low   decimal.Decimal
	High  decimal.Decimal
}

func (eff Effect) targets(code string, kind model.Kind) bool {
	if len(eff.Codes) == 0 {
		return eff.Kind != "" && eff.Kind == kind
	}
	for _, c := range eff.Codes {
		if c == code {
			return true
		}
	}
	return false
}

// EventSpec is one named market event.
type EventSpec struct {
	Kind        EventKind
	Title       string
	Description string
	Effects     []Effect
}

// hkStocks is every stock in the default catalog.
var hkStocks = []string{"700", "2800", "9988", "9992", "981", "2899", "388", "0005"}

func fixed(factor string, codes ...string) Effect {
	f := decimal.RequireFromString(factor)
	return Effect{Codes: codes, Low: f, High: f}
}

func ranged(low, high string, codes ...string) Effect {
	return Effect{Codes: codes, Low: decimal.RequireFromString(low), High: decimal.RequireFromString(high)}
}

// Events returns the standard event table.
func Events() []EventSpec {
	return []EventSpec{
		{
			Kind:        EventAIBreakthrough,
			Title:       "AI breakthrough!",
			Description: "A new generation of AI models ships and tech stocks rally worldwide.",
			Effects: []Effect{
				fixed("1.15", "700"),
				fixed("1.20", "981"),
				fixed("1.10", "9988"),
				fixed("1.05", "Nvidia"),
			},
		},
		{
			Kind:        EventRateHike,
			Title:       "Fed announces sharp rate hike",
			Description: "Rates rise 0.5% to fight inflation and equities come under pressure.",
			Effects: []Effect{
				fixed("0.92", "2800"),
				fixed("1.05", "0005"),
				fixed("0.95", "Gold"),
				fixed("0.98", "USTreasury"),
			},
		},
		{
			Kind:        EventGeopoliticalTension,
			Title:       "Geopolitical tension escalates",
			Description: "Instability in the Middle East sends safe-haven money into gold.",
			Effects: []Effect{
				fixed("1.15", "Gold"),
				fixed("1.10", "2899"),
				fixed("0.90", "2800"),
			},
		},
		{
			Kind:        EventConsumerStimulus,
			Title:       "China launches consumer stimulus",
			Description: "Government consumption vouchers lift the retail sector.",
			Effects: []Effect{
				fixed("1.25", "9992"),
				fixed("1.10", "9988"),
				fixed("1.05", "700"),
			},
		},
		{
			Kind:        EventChipShortage,
			Title:       "Global semiconductor shortage",
			Description: "Chip capacity runs short and foundry prices surge.",
			Effects: []Effect{
				fixed("1.30", "981"),
				fixed("0.95", "700"),
				fixed("0.98", "Apple"),
			},
		},
		{
			Kind:        EventGlobalCrash,
			Title:       "Global market crash",
			Description: "A black swan on Wall Street drags every market down.",
			Effects: []Effect{
				ranged("0.8", "0.9", hkStocks...),
				fixed("1.10", "Gold"),
				fixed("1.05", "USTreasury"),
			},
		},
		{
			Kind:        EventQuietMarket,
			Title:       "Quiet market",
			Description: "No major news; prices drift at random.",
			Effects: []Effect{
				{Kind: model.KindStock, Low: decimal.RequireFromString("0.95"), High: decimal.RequireFromString("1.05")},
			},
		},
	}
}
