package session

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/tradesim/internal/model"
)

func newPlayer(durableID, name string) *model.Player {
	return &model.Player{
		DurableID:   durableID,
		DisplayName: name,
		Cash:        decimal.NewFromInt(1_000_000),
		Holdings:    map[string]int64{"700": 0},
		Deposits:    []model.Deposit{},
	}
}

func TestJoin_CreatesPlayer(t *testing.T) {
	r := NewRegistry("secret", nil)

	p, created, err := r.Join("conn-1", "dur-1", "alice", newPlayer)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice", p.DisplayName)

	got, err := r.PlayerFor("conn-1")
	require.NoError(t, err)
	assert.Same(t, p, got)
}

func TestJoin_ReconnectMovesRecord(t *testing.T) {
	r := NewRegistry("secret", nil)

	p, _, err := r.Join("conn-1", "dur-1", "alice", newPlayer)
	require.NoError(t, err)
	p.Cash = decimal.NewFromInt(42)
	p.Holdings["700"] = 300
	p.Deposits = append(p.Deposits, model.Deposit{ID: "dep-1", Amount: decimal.NewFromInt(10)})

	again, created, err := r.Join("conn-2", "dur-1", "ignored-name", newPlayer)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, p, again, "reconnect must not duplicate the record")
	assert.Equal(t, "alice", again.DisplayName)
	assert.True(t, again.Cash.Equal(decimal.NewFromInt(42)))
	assert.Equal(t, int64(300), again.Holdings["700"])
	assert.Len(t, again.Deposits, 1)

	_, err = r.PlayerFor("conn-1")
	assert.True(t, errors.Is(err, ErrUnknownPlayer), "old handle should be dropped")

	h, ok := r.HandleFor("dur-1")
	assert.True(t, ok)
	assert.Equal(t, "conn-2", h)
	assert.Len(t, r.Players(), 1)
}

func TestJoin_NameTaken(t *testing.T) {
	r := NewRegistry("secret", nil)
	_, _, err := r.Join("conn-1", "dur-1", "alice", newPlayer)
	require.NoError(t, err)

	_, _, err = r.Join("conn-2", "dur-2", "alice", newPlayer)
	assert.True(t, errors.Is(err, ErrNameTaken), "got %v", err)
	assert.Len(t, r.Players(), 1)

	_, err = r.PlayerFor("conn-2")
	assert.Error(t, err)

	// Still rejected when the holder is disconnected.
	r.Leave("conn-1")
	_, _, err = r.Join("conn-3", "dur-3", " alice ", newPlayer)
	assert.True(t, errors.Is(err, ErrNameTaken), "got %v", err)
}

func TestJoin_RequiresDurableID(t *testing.T) {
	r := NewRegistry("secret", nil)
	_, _, err := r.Join("conn-1", "  ", "alice", newPlayer)
	assert.True(t, errors.Is(err, ErrInvalidIdentity), "got %v", err)
}

func TestJoin_DefaultName(t *testing.T) {
	r := NewRegistry("secret", nil)
	p, _, err := r.Join("conn-1", "abcdef123", "", newPlayer)
	require.NoError(t, err)
	assert.Equal(t, "Player-abcd", p.DisplayName)
}

func TestJoin_SeededPlayersReconnect(t *testing.T) {
	seeded := map[string]*model.Player{"dur-1": newPlayer("dur-1", "alice")}
	r := NewRegistry("secret", seeded)

	p, created, err := r.Join("conn-9", "dur-1", "alice", newPlayer)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, seeded["dur-1"], p)
}

func TestLoginHost(t *testing.T) {
	r := NewRegistry("admin123", nil)

	assert.True(t, errors.Is(r.LoginHost("conn-1", "nope"), ErrWrongPassword))
	assert.False(t, r.IsHost("conn-1"))

	require.NoError(t, r.LoginHost("conn-1", "admin123"))
	assert.True(t, r.IsHost("conn-1"))
	assert.Empty(t, r.Players(), "host login must not create a player")

	r.Leave("conn-1")
	assert.False(t, r.IsHost("conn-1"))
}

func TestReset(t *testing.T) {
	r := NewRegistry("admin123", nil)
	require.NoError(t, r.LoginHost("host", "admin123"))
	_, _, err := r.Join("conn-1", "dur-1", "alice", newPlayer)
	require.NoError(t, err)

	r.Reset()
	assert.Empty(t, r.Players())
	_, err = r.PlayerFor("conn-1")
	assert.Error(t, err)
	assert.True(t, r.IsHost("host"))

	// The freed name is available again.
	_, created, err := r.Join("conn-2", "dur-2", "alice", newPlayer)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestDurableIDsSorted(t *testing.T) {
	r := NewRegistry("s", nil)
	for _, id := range []string{"c", "a", "b"} {
		_, _, err := r.Join("h-"+id, id, "n-"+id, newPlayer)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.DurableIDs())
}
