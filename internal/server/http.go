package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"curveledger/internal/ledger"
	"curveledger/internal/marketfeed"
	"curveledger/internal/observability"
	"curveledger/internal/query"
)

// Server exposes the derived ledger views over HTTP/JSON. Every read is
// answered from the in-memory fold; nothing here touches Postgres except
// token listings, which come from the token_stats projection.
type Server struct {
	queries *query.Service
	lister  *query.TokenLister
	hub     *marketfeed.Hub
	health  *observability.HealthChecker
	log     zerolog.Logger

	httpServer *http.Server
}

func New(addr string, queries *query.Service, lister *query.TokenLister, hub *marketfeed.Hub, health *observability.HealthChecker, log zerolog.Logger) *Server {
	s := &Server{
		queries: queries,
		lister:  lister,
		hub:     hub,
		health:  health,
		log:     log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/tokens", s.handleListTokens)
	mux.HandleFunc("GET /v1/tokens/{token}/curve", s.handleCurveState)
	mux.HandleFunc("GET /v1/tokens/{token}/holders", s.handleHolders)
	mux.HandleFunc("GET /v1/tokens/{token}/trades", s.handleTrades)
	mux.HandleFunc("GET /v1/tokens/{token}/candles", s.handleCandles)
	mux.HandleFunc("GET /v1/tokens/{token}/pnl/{user}", s.handlePnL)
	mux.HandleFunc("GET /v1/users/{user}/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /v1/tokens/{token}/integrity", s.handleIntegrity)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	mux.HandleFunc("GET /healthz", s.health.LivenessHandler)
	mux.HandleFunc("GET /readyz", s.health.ReadinessHandler)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	sortBy := query.SortByBump
	switch r.URL.Query().Get("sort") {
	case "", "bump":
	case "near":
		sortBy = query.SortByNear
	case "graduated":
		sortBy = query.SortByGraduated
	default:
		s.writeError(w, http.StatusBadRequest, "unknown sort key")
		return
	}

	order := query.OrderDesc
	switch r.URL.Query().Get("order") {
	case "", "desc":
	case "asc":
		order = query.OrderAsc
	default:
		s.writeError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	limit := intParam(r, "limit", 50)
	listings, err := s.lister.ListTokens(r.Context(), sortBy, order, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("token listing failed")
		s.writeError(w, http.StatusInternalServerError, "listing unavailable")
		return
	}
	s.writeJSON(w, map[string]any{"tokens": listings})
}

func (s *Server) handleCurveState(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.GetCurveState(r.PathValue("token"))
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleHolders(w http.ResponseWriter, r *http.Request) {
	minBalance := int64Param(r, "min_balance", 0)
	resp, err := s.queries.GetHolderBalances(r.PathValue("token"), minBalance)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 50)
	beforeSeq := int64Param(r, "before_seq", 0)
	resp, err := s.queries.GetTrades(r.PathValue("token"), limit, beforeSeq)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	width := int64Param(r, "width", 60)
	from := int64Param(r, "from", 0)
	to := int64Param(r, "to", 0)
	userID := r.URL.Query().Get("user_id")
	resp, err := s.queries.GetCandles(r.PathValue("token"), width, from, to, userID)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.GetUserPnL(r.PathValue("token"), r.PathValue("user"))
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.GetPortfolioPnL(r.PathValue("user"))
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.VerifyIntegrity(r.PathValue("token"))
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnknownToken):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func intParam(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func int64Param(r *http.Request, key string, def int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}
