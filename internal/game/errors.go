package game

import (
	"errors"

	"github.com/atmx/tradesim/internal/catalog"
	"github.com/atmx/tradesim/internal/ledger"
	"github.com/atmx/tradesim/internal/session"
)

var (
	// ErrGameEnded is returned for trade, deposit and advance commands once
	// the session has ended.
	ErrGameEnded = errors.New("game: session has ended")

	// ErrNotHost is returned when a host-only command arrives from a
	// connection that has not logged in as host.
	ErrNotHost = errors.New("game: host login required")

	// ErrInvalidInput is returned for malformed command payloads.
	ErrInvalidInput = errors.New("game: invalid input")
)

// Reason codes reported to the acting connection.
const (
	CodeInvalidInput         = "InvalidInput"
	CodeExceedsLotCap        = "ExceedsLotCap"
	CodeBelowMinimumEntry    = "BelowMinimumEntry"
	CodeInsufficientCash     = "InsufficientCash"
	CodeInsufficientHoldings = "InsufficientHoldings"
	CodeUnknownTerm          = "UnknownTerm"
	CodeNameTaken            = "NameTaken"
	CodeWrongPassword        = "WrongPassword"
	CodeGameEnded            = "GameEnded"
	CodeUnknownInstrument    = "UnknownInstrument"
	CodeUnknownPlayer        = "UnknownPlayer"
	CodeNotHost              = "NotHost"
	CodeInternal             = "Internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidInput, CodeInvalidInput},
	{ledger.ErrInvalidQuantity, CodeInvalidInput},
	{ledger.ErrInvalidAmount, CodeInvalidInput},
	{ledger.ErrInvalidSide, CodeInvalidInput},
	{session.ErrInvalidIdentity, CodeInvalidInput},
	{ledger.ErrExceedsLotCap, CodeExceedsLotCap},
	{ledger.ErrBelowMinimumEntry, CodeBelowMinimumEntry},
	{ledger.ErrInsufficientCash, CodeInsufficientCash},
	{ledger.ErrInsufficientHoldings, CodeInsufficientHoldings},
	{catalog.ErrUnknownTerm, CodeUnknownTerm},
	{session.ErrNameTaken, CodeNameTaken},
	{session.ErrWrongPassword, CodeWrongPassword},
	{ErrGameEnded, CodeGameEnded},
	{catalog.ErrUnknownInstrument, CodeUnknownInstrument},
	{session.ErrUnknownPlayer, CodeUnknownPlayer},
	{ErrNotHost, CodeNotHost},
}

// Code maps a command error to its wire reason code.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
