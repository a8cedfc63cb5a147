package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/tradesim/internal/catalog"
	"github.com/atmx/tradesim/internal/config"
	"github.com/atmx/tradesim/internal/game"
	"github.com/atmx/tradesim/internal/gateway"
	"github.com/atmx/tradesim/internal/market"
	"github.com/atmx/tradesim/internal/store"
)

func TestRouter(t *testing.T) {
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>tradesim</h1>"), 0o644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := game.New(context.Background(), game.Config{HostSecret: "x"}, catalog.Default(), market.NewEngine(nil), store.NewMemoryStore(), logger)
	hub := gateway.NewHub(logger)
	cfg := config.Config{StaticDir: static, HostSecret: "x"}
	h := newRouter(cfg, hub, gateway.NewDispatcher(svc, hub, logger), gateway.NewAPI(svc, cfg.HostSecret))

	cases := []struct {
		path string
		want int
		body string
	}{
		{"/health", http.StatusOK, `"status":"ok"`},
		{"/metrics", http.StatusOK, "tradesim_"},
		{"/api/v1/market", http.StatusOK, `"round":0`},
		{"/api/v1/session", http.StatusUnauthorized, "host secret"},
		{"/", http.StatusOK, "<h1>tradesim</h1>"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, tc.want, w.Code)
			assert.Contains(t, w.Body.String(), tc.body)
		})
	}
}

func TestOpenStore_FileByDefault(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "game-data.json")

	st, closeStore, err := openStore(context.Background(), config.Config{DataFile: path}, logger)
	require.NoError(t, err)
	defer closeStore()

	fs, ok := st.(*store.FileStore)
	require.True(t, ok, "got %T", st)
	assert.Equal(t, path, fs.Path())
}
