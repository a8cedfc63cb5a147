package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/tradesim/internal/game"
	"github.com/atmx/tradesim/internal/ledger"
	"github.com/atmx/tradesim/internal/model"
)

// Inbound message types.
const (
	TypeJoin         = "join"
	TypeTrade        = "trade"
	TypeOpenDeposit  = "open_deposit"
	TypeAdvanceRound = "advance_round"
	TypeEndGame      = "end_game"
	TypeReset        = "reset"
)

// Outbound message types.
const (
	TypeInitPlayer       = "init_player"
	TypeGameOver         = "game_over"
	TypeHostLoginSuccess = "host_login_success"
	TypeUpdatePlayer     = "update_player"
	TypeError            = "error"
	TypeNewRound         = "new_round"
	TypeGameReset        = "game_reset"
	TypeHostUpdate       = "host_update"
)

// Join roles.
const (
	RoleHost   = "host"
	RolePlayer = "player"
)

// Inbound is a command frame from a client. Which fields are read depends on
// Type. Lots and Amount accept a JSON number or a numeric string.
type Inbound struct {
	Type           string          `json:"type"`
	Role           string          `json:"role"`
	Secret         string          `json:"secret"`
	DisplayName    string          `json:"display_name"`
	DurableID      string          `json:"durable_id"`
	Side           string          `json:"side"`
	Code           string          `json:"code"`
	Lots           decimal.Decimal `json:"lots"`
	Amount         decimal.Decimal `json:"amount"`
	DurationMonths int             `json:"duration_months"`
}

// ErrorPayload is the data of an error message. It only ever goes to the
// connection whose command failed.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RoundPayload is the data of a new_round broadcast.
type RoundPayload struct {
	Round     int               `json:"round"`
	Market    model.MarketState `json:"market"`
	LastEvent *model.Event      `json:"last_event"`
}

// Dispatcher routes inbound commands to the game service and fans the
// results out through an Outbox.
//
// Commands run one at a time: a command's outbound messages are all queued
// before the next command starts, so clients see updates in the order the
// service applied them.
type Dispatcher struct {
	svc *game.Service
	out Outbox
	log *slog.Logger

	mu sync.Mutex // serializes command execution and its sends
}

// NewDispatcher creates a dispatcher for svc writing to out.
func NewDispatcher(svc *game.Service, out Outbox, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{svc: svc, out: out, log: logger.With("component", "dispatcher")}
}

// Leave forgets a closed connection.
func (d *Dispatcher) Leave(handle string) {
	d.svc.Leave(handle)
}

// Handle decodes and executes one inbound frame from handle.
func (d *Dispatcher) Handle(ctx context.Context, handle string, data []byte) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		d.reject(handle, fmt.Errorf("%w: %v", game.ErrInvalidInput, err))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	switch in.Type {
	case TypeJoin:
		err = d.join(ctx, handle, in)
	case TypeTrade:
		err = d.trade(ctx, handle, in)
	case TypeOpenDeposit:
		err = d.openDeposit(ctx, handle, in)
	case TypeAdvanceRound:
		err = d.advanceRound(ctx, handle)
	case TypeEndGame:
		err = d.endGame(ctx, handle)
	case TypeReset:
		err = d.reset(ctx, handle)
	default:
		err = fmt.Errorf("%w: unknown message type %q", game.ErrInvalidInput, in.Type)
	}
	if err != nil {
		d.reject(handle, err)
	}
}

func (d *Dispatcher) reject(handle string, err error) {
	code := game.Code(err)
	if code == game.CodeInternal {
		d.log.Error("command failed", "handle", handle, "err", err)
	} else {
		d.log.Debug("command rejected", "handle", handle, "code", code, "err", err)
	}
	d.out.Send(handle, Message{Type: TypeError, Data: ErrorPayload{Code: code, Message: err.Error()}})
}

func (d *Dispatcher) hostUpdate() {
	d.out.Broadcast(Message{Type: TypeHostUpdate, Data: d.svc.Snapshot()})
}

func (d *Dispatcher) join(ctx context.Context, handle string, in Inbound) error {
	switch in.Role {
	case RoleHost:
		if err := d.svc.LoginHost(handle, in.Secret); err != nil {
			return err
		}
		d.out.Send(handle, Message{Type: TypeHostLoginSuccess})
		d.out.Send(handle, Message{Type: TypeHostUpdate, Data: d.svc.Snapshot()})
		return nil

	case RolePlayer, "":
		res, err := d.svc.JoinPlayer(ctx, handle, in.DurableID, in.DisplayName)
		if err != nil {
			return err
		}
		if res.Summary != nil {
			d.out.Send(handle, Message{Type: TypeGameOver, Data: res.Summary})
		} else {
			d.out.Send(handle, Message{Type: TypeInitPlayer, Data: res.State})
		}
		d.hostUpdate()
		return nil
	}
	return fmt.Errorf("%w: unknown role %q", game.ErrInvalidInput, in.Role)
}

func (d *Dispatcher) trade(ctx context.Context, handle string, in Inbound) error {
	up, err := d.svc.Trade(ctx, handle, ledger.Side(in.Side), in.Code, in.Lots)
	if err != nil {
		return err
	}
	d.out.Send(handle, Message{Type: TypeUpdatePlayer, Data: up})
	d.hostUpdate()
	return nil
}

func (d *Dispatcher) openDeposit(ctx context.Context, handle string, in Inbound) error {
	up, err := d.svc.OpenDeposit(ctx, handle, in.Amount, in.DurationMonths)
	if err != nil {
		return err
	}
	d.out.Send(handle, Message{Type: TypeUpdatePlayer, Data: up})
	d.hostUpdate()
	return nil
}

func (d *Dispatcher) advanceRound(ctx context.Context, handle string) error {
	res, err := d.svc.AdvanceRound(ctx, handle)
	if err != nil {
		return err
	}
	if res.Ended {
		d.out.Broadcast(Message{Type: TypeGameOver, Data: res.Summary})
		d.hostUpdate()
		return nil
	}

	d.out.Broadcast(Message{Type: TypeNewRound, Data: RoundPayload{
		Round:     res.Round,
		Market:    res.Market,
		LastEvent: res.Event,
	}})
	for _, v := range res.Players {
		d.out.Send(v.Handle, Message{Type: TypeUpdatePlayer, Data: v.Update})
	}
	d.hostUpdate()
	return nil
}

func (d *Dispatcher) endGame(ctx context.Context, handle string) error {
	sum, err := d.svc.EndGame(ctx, handle)
	if err != nil {
		return err
	}
	d.out.Broadcast(Message{Type: TypeGameOver, Data: sum})
	d.hostUpdate()
	return nil
}

func (d *Dispatcher) reset(ctx context.Context, handle string) error {
	snap, err := d.svc.Reset(ctx, handle)
	if err != nil {
		return err
	}
	d.out.Broadcast(Message{Type: TypeGameReset, Data: snap})
	d.hostUpdate()
	return nil
}
