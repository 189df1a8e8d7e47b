package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"pricechain/core"
	"pricechain/core/types"
	"pricechain/mempool"
	"pricechain/native/symbolprice"
	"pricechain/offchain"
	"pricechain/storage"
)

type stubSource struct {
	price symbolprice.Price
	err   error
}

func (s stubSource) FetchPrice(context.Context) (symbolprice.Price, error) {
	return s.price, s.err
}

type stubRounds struct {
	round offchain.Round
}

func (s stubRounds) LastRound() (offchain.Round, bool) { return s.round, true }

type stubJournal struct {
	rounds []offchain.Round
	limit  int
}

func (s *stubJournal) Recent(_ context.Context, limit int) ([]offchain.Round, error) {
	s.limit = limit
	return s.rounds, nil
}

type fixture struct {
	node    *core.Node
	server  *Server
	journal *stubJournal
}

func newFixture(t *testing.T, source symbolprice.LiveSource) *fixture {
	t.Helper()
	params := symbolprice.DefaultParams()
	params.UnsignedInterval = 1
	engine, err := symbolprice.NewEngine(params)
	require.NoError(t, err)
	node, err := core.NewNode(storage.NewMemDB(), engine, mempool.NewPool(0))
	require.NoError(t, err)

	opts := []symbolprice.ReaderOption{}
	if source != nil {
		opts = append(opts, symbolprice.WithLiveSource(source), symbolprice.WithLiveLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))
	}
	coordinator := offchain.NewCoordinator(storage.NewMemDB())
	_, err = coordinator.TryClaim(7, 5)
	require.NoError(t, err)
	journal := &stubJournal{rounds: []offchain.Round{{ID: "r-1", Height: 1, Outcome: offchain.RoundSubmitted, Mode: offchain.ModeRaw}}}
	server := NewServer(Config{
		Chain:   node,
		Reader:  symbolprice.NewReader(engine, node.State(), opts...),
		Engine:  engine,
		State:   node.State(),
		Rounds:  stubRounds{round: offchain.Round{ID: "r-2", Height: 2, Outcome: offchain.RoundTooEarly}},
		Claims:  coordinator,
		Journal: journal,
	})
	return &fixture{node: node, server: server, journal: journal}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) addPrice(t *testing.T, price uint64) {
	t.Helper()
	next, err := f.node.Engine().NextUnsignedAt(f.node.State())
	require.NoError(t, err)
	for f.node.GetHeight() < next {
		_, err := f.node.ProduceBlock()
		require.NoError(t, err)
	}
	require.NoError(t, f.node.SubmitTransaction(types.NewUnsignedPrice(f.node.GetHeight(), price)))
	block, err := f.node.ProduceBlock()
	require.NoError(t, err)
	require.Len(t, block.Transactions, 1)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestGetPrice(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/v1/price/BTC_USDT", nil)
	require.Equal(t, http.StatusNotFound, rec.Code, "no price yet")

	rec = f.do(t, http.MethodGet, "/v1/price/ETH_USDT", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/price/BTC_USDT?height=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	f.addPrice(t, 2345678)
	rec = f.do(t, http.MethodGet, "/v1/price/BTC_USDT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp priceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "2345678", resp.Value)
	require.Equal(t, symbolprice.PriceDecimals, resp.Decimals)
	require.Equal(t, f.node.GetHeight(), resp.Height)
}

func TestGetPriceAtNotImplemented(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/v1/price/BTC_USDT/at/1700000000", nil)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/price/BTC_USDT/at/yesterday", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLivePrice(t *testing.T) {
	f := newFixture(t, stubSource{price: 4200012})
	rec := f.do(t, http.MethodGet, "/v1/price/BTC_USDT/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp priceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "4200012", resp.Value)

	// The limiter allows a single call per hour.
	rec = f.do(t, http.MethodGet, "/v1/price/BTC_USDT/live", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLivePriceWithoutSource(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/v1/price/BTC_USDT/live", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLivePriceUpstreamFailure(t *testing.T) {
	f := newFixture(t, stubSource{err: offchain.ErrUnexpectedStatus})
	rec := f.do(t, http.MethodGet, "/v1/price/BTC_USDT/live", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestOracleState(t *testing.T) {
	f := newFixture(t, nil)
	f.addPrice(t, 100)
	f.addPrice(t, 130)

	rec := f.do(t, http.MethodGet, "/v1/oracle/state?rounds=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Height         uint64   `json:"height"`
		History        []uint64 `json:"history"`
		NextUnsignedAt uint64   `json:"nextUnsignedAt"`
		Predicted      *struct {
			Value      uint64 `json:"value"`
			ComputedAt uint64 `json:"computedAt"`
		} `json:"predicted"`
		LastClaimAt *uint64 `json:"lastClaimAt"`
		LastRound   *struct {
			ID      string `json:"id"`
			Outcome string `json:"outcome"`
		} `json:"lastRound"`
		Recent []struct {
			ID      string `json:"id"`
			Outcome string `json:"outcome"`
		} `json:"recent"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []uint64{100, 130}, resp.History)
	require.Equal(t, f.node.GetHeight(), resp.Height)
	require.Equal(t, resp.Height+1, resp.NextUnsignedAt)
	require.NotNil(t, resp.Predicted)
	require.Equal(t, uint64(120), resp.Predicted.Value)
	require.NotNil(t, resp.LastRound)
	require.Equal(t, "r-2", resp.LastRound.ID)
	require.Equal(t, offchain.RoundTooEarly.String(), resp.LastRound.Outcome)
	require.NotNil(t, resp.LastClaimAt)
	require.Equal(t, uint64(7), *resp.LastClaimAt)
	require.Len(t, resp.Recent, 1)
	require.Equal(t, offchain.RoundSubmitted.String(), resp.Recent[0].Outcome)
	require.Equal(t, 5, f.journal.limit)

	rec = f.do(t, http.MethodGet, "/v1/oracle/state?rounds=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTransaction(t *testing.T) {
	f := newFixture(t, nil)
	tx := types.NewUnsignedPrice(f.node.GetHeight(), 5000)
	body, err := json.Marshal(tx)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/v1/transactions", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/transactions", body)
	require.Equal(t, http.StatusConflict, rec.Code, "same slot tag already pooled")

	future, err := json.Marshal(types.NewUnsignedPrice(f.node.GetHeight()+10, 5000))
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/v1/transactions", future)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	require.Contains(t, errResp["error"], string(symbolprice.InvalidFuture))

	rec = f.do(t, http.MethodPost, "/v1/transactions", []byte(`{"call":2,"bogus":true}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/healthz", nil)
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, bytes.Contains(rec.Body.Bytes(), []byte("pricechain_")), "module metrics exported")
}

func TestWriteReadErrorDefaultsToInternal(t *testing.T) {
	s := NewServer(Config{})
	rec := httptest.NewRecorder()
	s.writeReadError(rec, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
