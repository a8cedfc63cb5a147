package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/tradesim/internal/model"
)

func sampleSnapshot() *model.Snapshot {
	return &model.Snapshot{
		Round:  2,
		Status: model.StatusActive,
		Market: model.MarketState{
			"700": {Instrument: model.Instrument{
				Code: "700", Name: "Tencent", Kind: model.KindStock,
				LotSize: 100, Price: decimal.RequireFromString("632.5"),
			}, PriceChange: decimal.NewNullDecimal(decimal.RequireFromString("82.5"))},
		},
		Players: map[string]*model.Player{
			"dur-1": {
				DisplayName: "alice",
				DurableID:   "dur-1",
				Cash:        decimal.RequireFromString("889605.65"),
				Holdings:    map[string]int64{"700": 200},
				Deposits: []model.Deposit{{
					ID: "dep-1", Amount: decimal.NewFromInt(100000), TermMonths: 6,
					AnnualRate: decimal.RequireFromString("0.00125"), OpenedRound: 1, MaturityRound: 3,
				}},
			},
		},
		LastEvent: &model.Event{Title: "AI breakthrough!", Description: "tech rally"},
	}
}

func assertSameSnapshot(t *testing.T, want, got *model.Snapshot) {
	t.Helper()
	assert.Equal(t, want.Round, got.Round)
	assert.Equal(t, want.Status, got.Status)
	require.Contains(t, got.Market, "700")
	assert.True(t, got.Market["700"].Price.Equal(want.Market["700"].Price))
	assert.True(t, got.Market["700"].PriceChange.Valid)
	require.Contains(t, got.Players, "dur-1")
	p := got.Players["dur-1"]
	assert.True(t, p.Cash.Equal(want.Players["dur-1"].Cash), "cash %s", p.Cash)
	assert.Equal(t, int64(200), p.Holdings["700"])
	require.Len(t, p.Deposits, 1)
	assert.Equal(t, 3, p.Deposits[0].MaturityRound)
	require.NotNil(t, got.LastEvent)
	assert.Equal(t, want.LastEvent.Title, got.LastEvent.Title)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Load(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))

	snap := sampleSnapshot()
	require.NoError(t, s.Save(ctx, snap))
	assert.Equal(t, 1, s.Saves())

	// Later mutation of the caller's copy must not leak into the store.
	snap.Players["dur-1"].Cash = decimal.Zero
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assertSameSnapshot(t, sampleSnapshot(), got)

	require.NoError(t, s.Clear(ctx))
	_, err = s.Load(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "game-data.json")
	s := NewFileStore(path)

	_, err := s.Load(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Save(ctx, sampleSnapshot()))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assertSameSnapshot(t, sampleSnapshot(), got)

	// No temp files left next to the document.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "game-data.json"))

	require.NoError(t, s.Save(ctx, sampleSnapshot()))
	next := sampleSnapshot()
	next.Round = 3
	require.NoError(t, s.Save(ctx, next))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Round)
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game-data.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path).Load(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestFileStore_Clear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "game-data.json")
	s := NewFileStore(path)

	require.NoError(t, s.Clear(ctx), "clearing a missing file is not an error")
	require.NoError(t, s.Save(ctx, sampleSnapshot()))
	require.NoError(t, s.Clear(ctx))

	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

// fakeDB is an in-process stand-in for the game_sessions table.
type fakeDB struct {
	rows  map[string]string
	execs []string
}

type fakeRow struct {
	doc string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.doc
	return nil
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	sql = strings.TrimSpace(sql)
	f.execs = append(f.execs, sql)
	switch {
	case strings.HasPrefix(sql, "INSERT"):
		f.rows[args[0].(string)] = args[1].(string)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.HasPrefix(sql, "DELETE"):
		delete(f.rows, args[0].(string))
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.NewCommandTag(""), nil
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	doc, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{doc: doc}
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{rows: make(map[string]string)}
	s := NewPostgresStore(db)

	require.NoError(t, s.EnsureSchema(ctx))
	assert.Contains(t, db.execs[0], "CREATE TABLE IF NOT EXISTS game_sessions")

	_, err := s.Load(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Save(ctx, sampleSnapshot()))
	assert.Contains(t, db.rows, DefaultSessionID)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assertSameSnapshot(t, sampleSnapshot(), got)

	require.NoError(t, s.Clear(ctx))
	_, err = s.Load(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))
}
