package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pricechain/core/types"
	"pricechain/mempool"
	"pricechain/native/symbolprice"
	"pricechain/observability"
	"pricechain/offchain"
)

const moduleName = "oracle"

// Chain is the node surface the API needs.
type Chain interface {
	GetHeight() uint64
	SubmitTransaction(tx *types.Transaction) error
}

// RoundSource reports the worker's most recent round.
type RoundSource interface {
	LastRound() (offchain.Round, bool)
}

// ClaimSource reports the height of the worker's last node-local claim.
type ClaimSource interface {
	LastClaim() (uint64, bool, error)
}

// RoundJournal lists persisted worker rounds, newest first.
type RoundJournal interface {
	Recent(ctx context.Context, limit int) ([]offchain.Round, error)
}

// Config wires the server's collaborators. Rounds, Claims and Journal are
// optional.
type Config struct {
	Chain   Chain
	Reader  symbolprice.SymbolPriceReader
	Engine  *symbolprice.Engine
	State   symbolprice.StateReader
	Rounds  RoundSource
	Claims  ClaimSource
	Journal RoundJournal
	Logger  *slog.Logger
}

const (
	defaultRecentRounds = 10
	maxRecentRounds     = 200
)

// Server exposes the price read API over HTTP.
type Server struct {
	cfg    Config
	router chi.Router
}

// NewServer builds the router.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/price/{symbol}", s.handleGetPrice)
		v1.Get("/price/{symbol}/live", s.handleLivePrice)
		v1.Get("/price/{symbol}/at/{timestamp}", s.handlePriceAt)
		v1.Get("/oracle/state", s.handleOracleState)
		v1.Post("/transactions", s.handleSubmit)
	})
	r.Handle("/metrics", promhttp.Handler())
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.ModuleMetrics().Observe(moduleName, r.Method+" "+route, status, time.Since(start))
	})
}

type priceResponse struct {
	Symbol   string `json:"symbol"`
	Value    string `json:"value"`
	Decimals uint8  `json:"decimals"`
	Height   uint64 `json:"height,omitempty"`
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	height := s.cfg.Chain.GetHeight()
	if raw := r.URL.Query().Get("height"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid height")
			return
		}
		height = parsed
	}
	price, err := s.cfg.Reader.GetPrice(symbol, height)
	if err != nil {
		s.writeReadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{Symbol: symbol, Value: price.Value.Dec(), Decimals: price.Decimals, Height: height})
}

func (s *Server) handleLivePrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	price, err := s.cfg.Reader.FetchLivePrice(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, symbolprice.ErrLiveFetchUnavailable) {
			observability.ModuleMetrics().RecordThrottle(moduleName, "live_fetch")
		}
		s.writeReadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{Symbol: symbol, Value: price.Value.Dec(), Decimals: price.Decimals})
}

func (s *Server) handlePriceAt(w http.ResponseWriter, r *http.Request) {
	ts, err := strconv.ParseInt(chi.URLParam(r, "timestamp"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timestamp")
		return
	}
	price, err := s.cfg.Reader.GetPriceAt(chi.URLParam(r, "symbol"), time.Unix(ts, 0))
	if err != nil {
		s.writeReadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{Symbol: chi.URLParam(r, "symbol"), Value: price.Value.Dec(), Decimals: price.Decimals})
}

type roundResponse struct {
	offchain.Round
	Outcome string `json:"outcome"`
}

type stateResponse struct {
	Height         uint64          `json:"height"`
	History        []uint64        `json:"history"`
	Predicted      *predicted      `json:"predicted,omitempty"`
	NextUnsignedAt uint64          `json:"nextUnsignedAt"`
	LastRound      *roundResponse  `json:"lastRound,omitempty"`
	LastClaimAt    *uint64         `json:"lastClaimAt,omitempty"`
	Recent         []roundResponse `json:"recent,omitempty"`
}

type predicted struct {
	Value      uint64 `json:"value"`
	ComputedAt uint64 `json:"computedAt"`
}

func (s *Server) handleOracleState(w http.ResponseWriter, r *http.Request) {
	history, err := s.cfg.Engine.History(s.cfg.State)
	if err != nil {
		s.writeReadError(w, err)
		return
	}
	next, err := s.cfg.Engine.NextUnsignedAt(s.cfg.State)
	if err != nil {
		s.writeReadError(w, err)
		return
	}
	resp := stateResponse{Height: s.cfg.Chain.GetHeight(), History: make([]uint64, len(history)), NextUnsignedAt: next}
	for i, p := range history {
		resp.History[i] = uint64(p)
	}
	pred, ok, err := s.cfg.Engine.Predicted(s.cfg.State)
	if err != nil {
		s.writeReadError(w, err)
		return
	}
	if ok {
		resp.Predicted = &predicted{Value: uint64(pred.Value), ComputedAt: pred.ComputedAt}
	}
	if s.cfg.Rounds != nil {
		if round, ok := s.cfg.Rounds.LastRound(); ok {
			resp.LastRound = &roundResponse{Round: round, Outcome: round.Outcome.String()}
		}
	}
	if s.cfg.Claims != nil {
		height, ok, err := s.cfg.Claims.LastClaim()
		if err != nil {
			s.writeReadError(w, err)
			return
		}
		if ok {
			resp.LastClaimAt = &height
		}
	}
	if s.cfg.Journal != nil {
		limit := defaultRecentRounds
		if raw := r.URL.Query().Get("rounds"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, "invalid rounds")
				return
			}
			limit = parsed
		}
		if limit > maxRecentRounds {
			limit = maxRecentRounds
		}
		if limit > 0 {
			rounds, err := s.cfg.Journal.Recent(r.Context(), limit)
			if err != nil {
				s.writeReadError(w, err)
				return
			}
			for _, round := range rounds {
				resp.Recent = append(resp.Recent, roundResponse{Round: round, Outcome: round.Outcome.String()})
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var tx types.Transaction
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction body")
		return
	}
	if err := s.cfg.Chain.SubmitTransaction(&tx); err != nil {
		var invalid *symbolprice.InvalidTransactionError
		switch {
		case errors.As(err, &invalid):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, mempool.ErrTagTaken), errors.Is(err, mempool.ErrDuplicate):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, symbolprice.ErrUnauthorized), errors.Is(err, types.ErrUnsigned):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, mempool.ErrPoolFull):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.cfg.Logger.Warn("submission failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

func (s *Server) writeReadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, symbolprice.ErrUnsupportedSymbol), errors.Is(err, symbolprice.ErrNoPrice):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, symbolprice.ErrNotImplemented):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, symbolprice.ErrLiveFetchUnavailable):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, offchain.ErrUnexpectedStatus), errors.Is(err, offchain.ErrInvalidBody), errors.Is(err, offchain.ErrNoPrice):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.cfg.Logger.Error("price api", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
