package game

import (
	"context"
	"errors"
	"sort"

	"github.com/atmx/tradesim/internal/catalog"
	"github.com/atmx/tradesim/internal/ledger"
	"github.com/atmx/tradesim/internal/metrics"
	"github.com/atmx/tradesim/internal/model"
	"github.com/atmx/tradesim/internal/store"
)

// restore loads the persisted session, falling back to a fresh one when the
// document is missing or unreadable. The loaded document is reconciled with
// the catalog before use.
func (s *Service) restore(ctx context.Context) map[string]*model.Player {
	snap, err := s.store.Load(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.log.Info("no saved session, starting fresh")
		s.resetState()
		return nil
	case err != nil:
		s.log.Warn("saved session unreadable, starting fresh", "err", err)
		s.resetState()
		return nil
	}

	s.round = max(snap.Round, 0)
	s.status = snap.Status
	if s.status != model.StatusEnded {
		s.status = model.StatusActive
	}
	s.market = reconcileMarket(s.catalog, snap.Market)
	s.lastEvent = snap.LastEvent

	players := make(map[string]*model.Player, len(snap.Players))
	for id, p := range snap.Players {
		if p == nil || id == "" {
			continue
		}
		p.DurableID = id
		reconcilePlayer(s.catalog, p)
		players[id] = p
	}
	s.log.Info("session restored",
		"round", s.round,
		"status", s.status,
		"players", len(players),
	)
	return players
}

func (s *Service) resetState() {
	s.round = 0
	s.status = model.StatusActive
	s.market = s.catalog.InitialMarket()
	s.lastEvent = nil
}

// reconcileMarket takes static instrument fields from the catalog and keeps
// the saved live price and change. Instruments missing from the document are
// added at catalog price; codes no longer in the catalog are dropped.
func reconcileMarket(c *catalog.Catalog, saved model.MarketState) model.MarketState {
	m := c.InitialMarket()
	for code, q := range m {
		old, ok := saved[code]
		if !ok || old == nil || !old.Price.IsPositive() {
			continue
		}
		q.Price = old.Price
		q.PriceChange = old.PriceChange
		q.PriceChangePercent = old.PriceChangePercent
	}
	return m
}

// reconcilePlayer fills in holdings for every catalog instrument and repairs
// nil collections from older documents.
func reconcilePlayer(c *catalog.Catalog, p *model.Player) {
	if p.Holdings == nil {
		p.Holdings = make(map[string]int64)
	}
	for _, code := range c.Codes() {
		if _, ok := p.Holdings[code]; !ok {
			p.Holdings[code] = 0
		}
	}
	if p.Deposits == nil {
		p.Deposits = []model.Deposit{}
	}
}

// snapshotLocked copies the whole session. Caller holds s.mu.
func (s *Service) snapshotLocked() *model.Snapshot {
	snap := &model.Snapshot{
		Round:   s.round,
		Status:  s.status,
		Market:  s.market.Clone(),
		Players: make(map[string]*model.Player, len(s.registry.Players())),
	}
	for id, p := range s.registry.Players() {
		snap.Players[id] = p.Clone()
	}
	if s.lastEvent != nil {
		ev := *s.lastEvent
		snap.LastEvent = &ev
	}
	return snap
}

// summaryLocked builds the end-of-game view. Caller holds s.mu.
func (s *Service) summaryLocked() *Summary {
	sum := &Summary{
		Market:    s.market.Clone(),
		Players:   make([]*model.Player, 0, len(s.registry.Players())),
		Standings: make([]model.Standing, 0, len(s.registry.Players())),
	}
	for _, id := range s.registry.DurableIDs() {
		p := s.registry.Players()[id]
		sum.Players = append(sum.Players, p.Clone())
		sum.Standings = append(sum.Standings, model.Standing{
			DisplayName: p.DisplayName,
			NetWorth:    ledger.Valuation(p, s.market),
		})
	}
	sort.SliceStable(sum.Standings, func(i, j int) bool {
		a, b := sum.Standings[i], sum.Standings[j]
		if !a.NetWorth.Equal(b.NetWorth) {
			return a.NetWorth.GreaterThan(b.NetWorth)
		}
		return a.DisplayName < b.DisplayName
	})
	return sum
}

// persist writes the session. Failures are logged and counted; the in-memory
// state stays authoritative. Caller holds s.mu.
func (s *Service) persist(ctx context.Context) {
	if err := s.store.Save(context.WithoutCancel(ctx), s.snapshotLocked()); err != nil {
		s.log.Error("persist session failed", "round", s.round, "err", err)
		metrics.PersistFailures.Inc()
	}
}
