package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/tradesim/internal/game"
	"github.com/atmx/tradesim/internal/model"
)

// HostSecretHeader carries the host secret on protected HTTP routes.
const HostSecretHeader = "X-Host-Secret"

// API serves the read-only HTTP views of the session.
type API struct {
	svc        *game.Service
	hostSecret string
}

// NewAPI creates the HTTP handlers for svc.
func NewAPI(svc *game.Service, hostSecret string) *API {
	return &API{svc: svc, hostSecret: hostSecret}
}

// MarketResponse is the body of GET /market.
type MarketResponse struct {
	Round       int               `json:"round"`
	TotalRounds int               `json:"total_rounds"`
	Market      model.MarketState `json:"market"`
}

// Routes mounts the handlers on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/market", a.GetMarket)
	r.Get("/instruments", a.ListInstruments)
	r.Get("/deposit-tiers", a.ListDepositTiers)
	r.Get("/session", a.GetSession)
}

// GetMarket handles GET /api/v1/market
func (a *API) GetMarket(w http.ResponseWriter, _ *http.Request) {
	m, round := a.svc.Market()
	writeJSON(w, http.StatusOK, MarketResponse{
		Round:       round,
		TotalRounds: a.svc.TotalRounds(),
		Market:      m,
	})
}

// ListInstruments handles GET /api/v1/instruments
// Returns the catalog in display order at catalog prices.
func (a *API) ListInstruments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Catalog().List())
}

// ListDepositTiers handles GET /api/v1/deposit-tiers
func (a *API) ListDepositTiers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Catalog().Tiers())
}

// GetSession handles GET /api/v1/session
// Returns the full session for the host. Requires the X-Host-Secret header.
func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(HostSecretHeader)
	if subtle.ConstantTimeCompare([]byte(secret), []byte(a.hostSecret)) != 1 {
		writeError(w, "host secret required", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, a.svc.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
