package offchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pricechain/core/types"
	"pricechain/crypto"
	"pricechain/native/symbolprice"
	"pricechain/observability"
	pcotel "pricechain/observability/otel"
)

// SubmitMode selects the transaction shape the worker sends.
type SubmitMode string

const (
	ModeRaw           SubmitMode = "raw"
	ModeSignedPayload SubmitMode = "signed_payload"
	ModeSigned        SubmitMode = "signed"
)

// Valid reports whether m is a known mode.
func (m SubmitMode) Valid() bool {
	switch m {
	case ModeRaw, ModeSignedPayload, ModeSigned:
		return true
	}
	return false
}

// RoundOutcome classifies how a worker round ended.
type RoundOutcome int

const (
	RoundSubmitted RoundOutcome = iota
	RoundRecentlySent
	RoundLostRace
	RoundTooEarly
	RoundBusy
	RoundFetchFailed
	RoundSubmitFailed
	RoundFailed
)

var roundOutcomeNames = map[RoundOutcome]string{
	RoundSubmitted:    "submitted",
	RoundRecentlySent: "recently_sent",
	RoundLostRace:     "lost_race",
	RoundTooEarly:     "too_early",
	RoundBusy:         "busy",
	RoundFetchFailed:  "fetch_failed",
	RoundSubmitFailed: "submit_failed",
	RoundFailed:       "failed",
}

func (o RoundOutcome) String() string {
	if name, ok := roundOutcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("round(%d)", int(o))
}

func parseRoundOutcome(s string) RoundOutcome {
	for outcome, name := range roundOutcomeNames {
		if name == s {
			return outcome
		}
	}
	return RoundFailed
}

// Round describes one worker invocation.
type Round struct {
	ID         string       `json:"id"`
	Height     uint64       `json:"height"`
	Outcome    RoundOutcome `json:"-"`
	Mode       SubmitMode   `json:"mode"`
	Price      uint64       `json:"price,omitempty"`
	Err        string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// Submitter hands a transaction to the local pool.
type Submitter interface {
	SubmitTransaction(tx *types.Transaction) error
}

// RoundRecorder persists finished rounds.
type RoundRecorder interface {
	Record(ctx context.Context, round Round) error
}

// WorkerConfig carries the worker's required collaborators.
type WorkerConfig struct {
	Coordinator *Coordinator
	Source      symbolprice.LiveSource
	Submitter   Submitter
	Engine      *symbolprice.Engine
	// State is committed ledger state, read for the next slot and nonces.
	State symbolprice.StateReader
	// Key signs payloads and signed submissions. Unused in ModeRaw.
	Key  *crypto.PrivateKey
	Mode SubmitMode
}

// Worker runs one price round per observed block.
type Worker struct {
	cfg      WorkerConfig
	grace    uint64
	logger   *slog.Logger
	metrics  *observability.OracleMetrics
	tracer   trace.Tracer
	recorder RoundRecorder
	now      func() time.Time

	running atomic.Bool
	lastMu  sync.RWMutex
	last    *Round
}

// WorkerOption customises a Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger installs a custom logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMetrics records rounds in the supplied registry.
func WithMetrics(m *observability.OracleMetrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithRecorder persists every finished round.
func WithRecorder(r RoundRecorder) WorkerOption {
	return func(w *Worker) { w.recorder = r }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) WorkerOption {
	return func(w *Worker) {
		if t != nil {
			w.tracer = t
		}
	}
}

// NewWorker validates cfg and builds a worker.
func NewWorker(cfg WorkerConfig, opts ...WorkerOption) (*Worker, error) {
	if cfg.Coordinator == nil || cfg.Source == nil || cfg.Submitter == nil || cfg.Engine == nil || cfg.State == nil {
		return nil, errors.New("offchain: worker requires coordinator, source, submitter, engine and state")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeRaw
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("offchain: unknown submit mode %q", cfg.Mode)
	}
	if cfg.Mode != ModeRaw && cfg.Key == nil {
		return nil, fmt.Errorf("offchain: submit mode %s requires a signing key", cfg.Mode)
	}
	w := &Worker{
		cfg:    cfg,
		grace:  cfg.Engine.Params().GracePeriod,
		logger: slog.Default(),
		tracer: pcotel.Tracer("offchain"),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// LastRound returns the most recent finished round, if any.
func (w *Worker) LastRound() (Round, bool) {
	w.lastMu.RLock()
	defer w.lastMu.RUnlock()
	if w.last == nil {
		return Round{}, false
	}
	return *w.last, true
}

// Run executes a round for every header until ctx is cancelled or heads is
// closed.
func (w *Worker) Run(ctx context.Context, heads <-chan *types.BlockHeader) error {
	w.logger.Info("price worker started", slog.String("mode", string(w.cfg.Mode)), slog.Uint64("grace_period", w.grace))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case header, ok := <-heads:
			if !ok {
				return nil
			}
			if header == nil {
				continue
			}
			w.OnBlock(ctx, header.Height)
		}
	}
}

// OnBlock runs a single round at height. A call that overlaps a round in
// progress returns immediately with RoundBusy.
func (w *Worker) OnBlock(ctx context.Context, height uint64) Round {
	round := Round{ID: uuid.NewString(), Height: height, Mode: w.cfg.Mode, StartedAt: w.now()}
	if !w.running.CompareAndSwap(false, true) {
		round.Outcome = RoundBusy
		round.FinishedAt = round.StartedAt
		w.metrics.RecordRound(round.Outcome.String())
		return round
	}
	defer w.running.Store(false)

	ctx, span := w.tracer.Start(ctx, "oracle.round", trace.WithAttributes(
		attribute.Int64("block.height", int64(height)),
		attribute.String("oracle.mode", string(w.cfg.Mode)),
	))
	defer span.End()

	err := w.execute(ctx, &round)
	round.FinishedAt = w.now()
	if err != nil {
		round.Err = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, round.Outcome.String())
	}
	span.SetAttributes(attribute.String("oracle.outcome", round.Outcome.String()))
	w.finish(ctx, round)
	return round
}

func (w *Worker) execute(ctx context.Context, round *Round) error {
	claim, err := w.cfg.Coordinator.TryClaim(round.Height, w.grace)
	if err != nil {
		round.Outcome = RoundFailed
		return fmt.Errorf("claim: %w", err)
	}
	switch claim {
	case RecentlySent:
		round.Outcome = RoundRecentlySent
		return nil
	case LostRace:
		round.Outcome = RoundLostRace
		return nil
	}

	var nonce uint64
	if w.cfg.Mode == ModeSigned {
		nonce, err = w.cfg.Engine.Nonce(w.cfg.State, w.cfg.Key.PubKey().Address().Bytes())
		if err != nil {
			round.Outcome = RoundFailed
			return fmt.Errorf("load nonce: %w", err)
		}
	} else {
		next, err := w.cfg.Engine.NextUnsignedAt(w.cfg.State)
		if err != nil {
			round.Outcome = RoundFailed
			return err
		}
		if next > round.Height {
			round.Outcome = RoundTooEarly
			return nil
		}
	}

	started := time.Now()
	price, err := w.cfg.Source.FetchPrice(ctx)
	w.metrics.ObserveFetch(time.Since(started), uint64(price), err)
	if err != nil {
		round.Outcome = RoundFetchFailed
		return err
	}
	round.Price = uint64(price)

	tx, err := w.buildTransaction(round.Height, nonce, price)
	if err != nil {
		round.Outcome = RoundFailed
		return err
	}
	err = w.cfg.Submitter.SubmitTransaction(tx)
	w.metrics.RecordSubmission(string(w.cfg.Mode), err)
	if err != nil {
		round.Outcome = RoundSubmitFailed
		return err
	}
	round.Outcome = RoundSubmitted
	return nil
}

func (w *Worker) buildTransaction(height, nonce uint64, price symbolprice.Price) (*types.Transaction, error) {
	switch w.cfg.Mode {
	case ModeSignedPayload:
		return types.NewSignedPayloadPrice(w.cfg.Key, height, uint64(price))
	case ModeSigned:
		return types.NewSignedPrice(w.cfg.Key, nonce, uint64(price))
	default:
		return types.NewUnsignedPrice(height, uint64(price)), nil
	}
}

func (w *Worker) finish(ctx context.Context, round Round) {
	attrs := []any{
		slog.String("round_id", round.ID),
		slog.Uint64("height", round.Height),
		slog.String("outcome", round.Outcome.String()),
	}
	switch round.Outcome {
	case RoundSubmitted:
		w.logger.Info("price submitted", append(attrs, slog.Uint64("price", round.Price))...)
	case RoundFetchFailed, RoundSubmitFailed, RoundFailed:
		w.logger.Warn("price round aborted", append(attrs, slog.String("error", round.Err))...)
	default:
		w.logger.Debug("price round skipped", attrs...)
	}
	w.metrics.RecordRound(round.Outcome.String())
	if w.recorder != nil {
		if err := w.recorder.Record(ctx, round); err != nil {
			w.logger.Warn("record round", slog.String("round_id", round.ID), slog.Any("error", err))
		}
	}
	w.lastMu.Lock()
	w.last = &round
	w.lastMu.Unlock()
}
