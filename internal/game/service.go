// Package game owns the shared session: the round counter, the live market and
// every player. All commands go through Service, which serialises them behind
// one mutex from validation through persistence.
package game

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/tradesim/internal/catalog"
	"github.com/atmx/tradesim/internal/ledger"
	"github.com/atmx/tradesim/internal/market"
	"github.com/atmx/tradesim/internal/metrics"
	"github.com/atmx/tradesim/internal/model"
	"github.com/atmx/tradesim/internal/session"
	"github.com/atmx/tradesim/internal/store"
)

// DefaultTotalRounds is the round cap when none is configured.
const DefaultTotalRounds = 5

// DefaultStartingCash is each new player's opening balance.
var DefaultStartingCash = decimal.NewFromInt(1_000_000)

// Config holds session policy.
type Config struct {
	TotalRounds  int
	StartingCash decimal.Decimal
	LotCap       int64
	HostSecret   string
}

// PlayerState is the individual view sent to a joining player.
type PlayerState struct {
	Player    *model.Player     `json:"player"`
	Market    model.MarketState `json:"market"`
	Round     int               `json:"round"`
	Status    model.Status      `json:"status"`
	LastEvent *model.Event      `json:"last_event"`
}

// Summary is the end-of-game view: every player, the final market and the
// net-worth leaderboard.
type Summary struct {
	Players   []*model.Player   `json:"players"`
	Market    model.MarketState `json:"market"`
	Standings []model.Standing  `json:"standings"`
}

// JoinResult is the outcome of a player join. Summary is set when the
// session has already ended.
type JoinResult struct {
	State   PlayerState
	Summary *Summary
	Created bool
}

// Update is a refreshed portfolio sent to the acting player.
type Update struct {
	Player  *model.Player `json:"player"`
	Message string        `json:"message"`
}

// PlayerView pairs a bound connection with that player's refreshed state.
type PlayerView struct {
	Handle     string
	Update     Update
	Settlement ledger.Settlement
}

// RoundResult is the outcome of a round advance. When Ended is set no new
// round was started and Summary holds the final standings.
type RoundResult struct {
	Round   int
	Market  model.MarketState
	Event   *model.Event
	Players []PlayerView
	Ended   bool
	Summary *Summary
}

// Service is the session aggregate. Uses one mutex for serialized command
// execution (single session, single instance).
type Service struct {
	cfg      Config
	catalog  *catalog.Catalog
	engine   *market.Engine
	ledger   *ledger.Ledger
	registry *session.Registry
	store    store.Store
	log      *slog.Logger

	mu        sync.Mutex
	round     int
	status    model.Status
	market    model.MarketState
	lastEvent *model.Event
}

// New creates the session service and restores any persisted session from st.
// A missing or unreadable document starts a fresh session.
func New(ctx context.Context, cfg Config, cat *catalog.Catalog, eng *market.Engine, st store.Store, logger *slog.Logger) *Service {
	if cfg.TotalRounds < 1 {
		cfg.TotalRounds = DefaultTotalRounds
	}
	if !cfg.StartingCash.IsPositive() {
		cfg.StartingCash = DefaultStartingCash
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:     cfg,
		catalog: cat,
		engine:  eng,
		ledger:  ledger.New(ledger.Config{FeeRate: catalog.FeeRate, LotCap: cfg.LotCap}, cat),
		store:   st,
		log:     logger.With("component", "game"),
	}
	s.registry = session.NewRegistry(cfg.HostSecret, s.restore(ctx))

	metrics.CurrentRound.Set(float64(s.round))
	metrics.Players.Set(float64(len(s.registry.Players())))
	return s
}

// Catalog returns the instrument catalog the session trades.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// TotalRounds returns the round cap.
func (s *Service) TotalRounds() int {
	return s.cfg.TotalRounds
}

func (s *Service) newPlayer(durableID, displayName string) *model.Player {
	return &model.Player{
		DisplayName: displayName,
		DurableID:   durableID,
		Cash:        s.cfg.StartingCash,
		Holdings:    s.catalog.EmptyHoldings(),
		Deposits:    []model.Deposit{},
	}
}

// observe records command latency and, for failures, the rejection code.
func observe(command string, start time.Time, err error) {
	metrics.CommandLatency.WithLabelValues(command).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Rejections.WithLabelValues(Code(err)).Inc()
	}
}

// JoinPlayer binds handle to the player with durableID, creating the player
// on first join. Joining is allowed after the session has ended; the result
// then carries the final summary.
func (s *Service) JoinPlayer(ctx context.Context, handle, durableID, displayName string) (res JoinResult, err error) {
	defer func(start time.Time) { observe("join", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	p, created, err := s.registry.Join(handle, durableID, displayName, s.newPlayer)
	if err != nil {
		return JoinResult{}, err
	}
	if created {
		metrics.Players.Set(float64(len(s.registry.Players())))
		s.persist(ctx)
	}

	s.log.Info("player joined",
		"handle", handle,
		"durable_id", p.DurableID,
		"name", p.DisplayName,
		"created", created,
	)

	res = JoinResult{
		State: PlayerState{
			Player:    p.Clone(),
			Market:    s.market.Clone(),
			Round:     s.round,
			Status:    s.status,
			LastEvent: s.lastEventCopy(),
		},
		Created: created,
	}
	if s.status == model.StatusEnded {
		res.Summary = s.summaryLocked()
	}
	return res, nil
}

// LoginHost marks handle as a host connection when secret matches.
func (s *Service) LoginHost(handle, secret string) (err error) {
	defer func(start time.Time) { observe("host_login", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.registry.LoginHost(handle, secret); err != nil {
		s.log.Warn("host login rejected", "handle", handle)
		return err
	}
	s.log.Info("host logged in", "handle", handle)
	return nil
}

// IsHost reports whether handle has logged in as host.
func (s *Service) IsHost(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.IsHost(handle)
}

// Leave forgets a closed connection. Its player record is kept for reconnect.
func (s *Service) Leave(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry.Leave(handle)
}

// Trade settles an order of lots for the player bound to handle at the live
// price.
func (s *Service) Trade(ctx context.Context, handle string, side ledger.Side, code string, lots decimal.Decimal) (up Update, err error) {
	defer func(start time.Time) { observe("trade", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == model.StatusEnded {
		return Update{}, ErrGameEnded
	}
	p, err := s.registry.PlayerFor(handle)
	if err != nil {
		return Update{}, err
	}
	q, ok := s.market[code]
	if !ok {
		return Update{}, fmt.Errorf("%w: %s", catalog.ErrUnknownInstrument, code)
	}

	fill, err := s.ledger.Trade(p, q.Instrument, side, lots)
	if err != nil {
		return Update{}, err
	}
	s.persist(ctx)
	metrics.TradesTotal.WithLabelValues(string(fill.Side), string(fill.Kind)).Inc()

	s.log.Info("trade executed",
		"player", p.DurableID,
		"code", fill.Code,
		"side", fill.Side,
		"lots", fill.Lots,
		"quantity", fill.Quantity,
		"price", fill.Price.String(),
		"notional", fill.Notional.String(),
		"fee", fill.Fee.String(),
	)

	verb := "Bought"
	if fill.Side == ledger.SideSell {
		verb = "Sold"
	}
	return Update{
		Player:  p.Clone(),
		Message: fmt.Sprintf("%s %d lots of %s", verb, fill.Lots, fill.Name),
	}, nil
}

// OpenDeposit moves amount into a fixed-term deposit for the player bound to
// handle.
func (s *Service) OpenDeposit(ctx context.Context, handle string, amount decimal.Decimal, months int) (up Update, err error) {
	defer func(start time.Time) { observe("open_deposit", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == model.StatusEnded {
		return Update{}, ErrGameEnded
	}
	p, err := s.registry.PlayerFor(handle)
	if err != nil {
		return Update{}, err
	}

	dep, err := s.ledger.OpenDeposit(p, amount, months, s.round)
	if err != nil {
		return Update{}, err
	}
	s.persist(ctx)
	metrics.DepositsOpened.WithLabelValues(strconv.Itoa(dep.TermMonths)).Inc()

	s.log.Info("deposit opened",
		"player", p.DurableID,
		"deposit_id", dep.ID,
		"amount", dep.Amount.String(),
		"term_months", dep.TermMonths,
		"maturity_round", dep.MaturityRound,
	)

	return Update{
		Player: p.Clone(),
		Message: fmt.Sprintf("Deposited $%s for %d months, matures in round %d",
			dep.Amount.StringFixed(0), dep.TermMonths, dep.MaturityRound),
	}, nil
}

// AdvanceRound moves the session to the next round: one random market event,
// then end-of-round settlement for every player. Advancing from the final
// round ends the session instead.
func (s *Service) AdvanceRound(ctx context.Context, handle string) (res RoundResult, err error) {
	defer func(start time.Time) { observe("advance_round", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.IsHost(handle) {
		return RoundResult{}, ErrNotHost
	}
	if s.status == model.StatusEnded {
		return RoundResult{}, ErrGameEnded
	}

	if s.round >= s.cfg.TotalRounds {
		s.status = model.StatusEnded
		s.persist(ctx)
		s.log.Info("final round complete, session ended", "round", s.round)
		return RoundResult{
			Round:   s.round,
			Market:  s.market.Clone(),
			Event:   s.lastEventCopy(),
			Ended:   true,
			Summary: s.summaryLocked(),
		}, nil
	}

	s.round++
	ev := s.engine.ApplyRandomEvent(s.market)
	s.lastEvent = &ev

	res = RoundResult{
		Round:  s.round,
		Market: s.market.Clone(),
		Event:  s.lastEventCopy(),
	}
	for _, id := range s.registry.DurableIDs() {
		p := s.registry.Players()[id]
		st := s.ledger.SettleEndOfRound(p, s.market, s.round)
		metrics.DepositsMatured.Add(float64(len(st.Matured)))
		if st.Coupons.IsPositive() {
			metrics.CouponsPaid.Inc()
		}

		h, ok := s.registry.HandleFor(id)
		if !ok {
			continue
		}
		res.Players = append(res.Players, PlayerView{
			Handle:     h,
			Update:     Update{Player: p.Clone(), Message: roundMessage(s.round, ev, st)},
			Settlement: st,
		})
	}
	s.persist(ctx)

	metrics.RoundsAdvanced.Inc()
	metrics.CurrentRound.Set(float64(s.round))
	s.log.Info("round advanced",
		"round", s.round,
		"event", ev.Title,
		"players", len(s.registry.Players()),
	)
	return res, nil
}

func roundMessage(round int, ev model.Event, st ledger.Settlement) string {
	msg := fmt.Sprintf("Round %d: %s", round, ev.Title)
	if credited := st.Credited(); credited.IsPositive() {
		msg += fmt.Sprintf(" (+$%s from deposits and coupons)", credited.StringFixed(2))
	}
	return msg
}

// EndGame freezes the session. It may be called at any time, including on a
// session that has already ended.
func (s *Service) EndGame(ctx context.Context, handle string) (sum *Summary, err error) {
	defer func(start time.Time) { observe("end_game", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.IsHost(handle) {
		return nil, ErrNotHost
	}
	s.status = model.StatusEnded
	s.persist(ctx)
	s.log.Info("session ended", "round", s.round)
	return s.summaryLocked(), nil
}

// Reset discards every player and returns the market to catalog prices at
// round 0. The persisted document is deleted. Host logins are kept.
func (s *Service) Reset(ctx context.Context, handle string) (snap *model.Snapshot, err error) {
	defer func(start time.Time) { observe("reset", start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.IsHost(handle) {
		return nil, ErrNotHost
	}
	s.resetState()
	s.registry.Reset()
	if err := s.store.Clear(context.WithoutCancel(ctx)); err != nil {
		s.log.Error("clear saved session failed", "err", err)
		metrics.PersistFailures.Inc()
	}

	metrics.CurrentRound.Set(0)
	metrics.Players.Set(0)
	s.log.Info("session reset")
	return s.snapshotLocked(), nil
}

// Snapshot returns a copy of the whole session.
func (s *Service) Snapshot() *model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Market returns a copy of the live market and the current round.
func (s *Service) Market() (model.MarketState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market.Clone(), s.round
}

// Summary returns the leaderboard view of the session in its current state.
func (s *Service) Summary() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

func (s *Service) lastEventCopy() *model.Event {
	if s.lastEvent == nil {
		return nil
	}
	ev := *s.lastEvent
	return &ev
}
