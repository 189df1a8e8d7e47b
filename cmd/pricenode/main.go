package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"pricechain/cmd/internal/passphrase"
	"pricechain/config"
	"pricechain/core"
	"pricechain/core/types"
	"pricechain/crypto"
	"pricechain/mempool"
	"pricechain/native/symbolprice"
	"pricechain/observability"
	"pricechain/observability/logging"
	pcotel "pricechain/observability/otel"
	"pricechain/offchain"
	"pricechain/rpc"
	"pricechain/storage"
)

const (
	serviceName      = "pricenode"
	journalRetention = 7 * 24 * time.Hour
	shutdownTimeout  = 5 * time.Second
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		slog.Error("pricenode exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.SetupWithOptions(logging.Options{
		Service:    serviceName,
		Env:        cfg.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := pcotel.Init(ctx, pcotel.Config{
		ServiceName: serviceName,
		Environment: cfg.Env,
		NodeID:      cfg.NodeID,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     pcotel.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	mode := offchain.SubmitMode(cfg.Oracle.SubmitMode)
	key, err := loadAuthorityKey(cfg, mode, logger)
	if err != nil {
		return err
	}

	chainDB, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open chain database: %w", err)
	}
	defer chainDB.Close()
	localDB, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "local"))
	if err != nil {
		return fmt.Errorf("open local storage: %w", err)
	}
	defer localDB.Close()

	engine, err := symbolprice.NewEngine(cfg.Params())
	if err != nil {
		return err
	}
	nodeOpts := []core.NodeOption{
		core.WithNodeLogger(logger),
		core.WithBlockLimits(cfg.Blocks.MaxTxs, cfg.Blocks.ReservedSigned),
		core.WithEventHandler(func(evt *types.Event) {
			observability.Events().Record(evt.Type)
		}),
	}
	if key != nil {
		nodeOpts = append(nodeOpts, core.WithProposer(key.PubKey().Address().Bytes()))
	}
	node, err := core.NewNode(chainDB, engine, mempool.NewPool(cfg.Blocks.MaxSignedPool), nodeOpts...)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	journal, err := offchain.OpenJournal(cfg.Oracle.JournalPath)
	if err != nil {
		return fmt.Errorf("open round journal: %w", err)
	}
	defer journal.Close()

	fetcher := offchain.NewHTTPFetcher(cfg.Oracle.SourceURL, offchain.WithFetchTimeout(cfg.Oracle.FetchTimeout.Duration))
	coordinator := offchain.NewCoordinator(localDB)
	worker, err := offchain.NewWorker(offchain.WorkerConfig{
		Coordinator: coordinator,
		Source:      fetcher,
		Submitter:   node,
		Engine:      engine,
		State:       node.State(),
		Key:         key,
		Mode:        mode,
	},
		offchain.WithWorkerLogger(logger.With(slog.String("component", "offchain"))),
		offchain.WithMetrics(observability.Oracle()),
		offchain.WithRecorder(journal),
	)
	if err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.Oracle.LiveFetchPerMinute)), 1)
	reader := symbolprice.NewReader(engine, node.State(),
		symbolprice.WithLiveSource(fetcher),
		symbolprice.WithLiveLimiter(limiter))
	server := &http.Server{
		Addr: cfg.RPCAddress,
		Handler: rpc.NewServer(rpc.Config{
			Chain:   node,
			Reader:  reader,
			Engine:  engine,
			State:   node.State(),
			Rounds:  worker,
			Claims:  coordinator,
			Journal: journal,
			Logger:  logger.With(slog.String("component", "rpc")),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	heads, cancelHeads := node.SubscribeHeads(4)
	defer cancelHeads()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		node.Run(ctx, cfg.Blocks.Interval.Duration)
	}()
	go func() {
		defer wg.Done()
		if err := worker.Run(ctx, heads); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("price worker stopped", slog.Any("error", err))
		}
	}()
	go func() {
		defer wg.Done()
		pruneJournal(ctx, journal, logger)
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", slog.String("addr", cfg.RPCAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	logger.Info("pricenode started",
		slog.String("node_id", cfg.NodeID),
		slog.Uint64("height", node.GetHeight()),
		slog.String("mode", string(mode)),
		slog.String("source", logging.SafeURL(cfg.Oracle.SourceURL)))

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error("rpc server failed", slog.Any("error", err))
		}
		stop()
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		logger.Warn("rpc shutdown", slog.Any("error", err))
	}
	wg.Wait()
	logger.Info("pricenode stopped", slog.Uint64("height", node.GetHeight()))
	return nil
}

// loadAuthorityKey opens or creates the keystore. Raw mode only needs it when
// a passphrase is provided, in which case the key signs block headers as
// proposer.
func loadAuthorityKey(cfg *config.Config, mode offchain.SubmitMode, logger *slog.Logger) (*crypto.PrivateKey, error) {
	if mode == offchain.ModeRaw {
		if _, ok := os.LookupEnv(cfg.KeystorePassphraseEnv); cfg.KeystorePassphraseEnv == "" || !ok {
			return nil, nil
		}
	}
	pass, err := passphrase.NewSource(cfg.KeystorePassphraseEnv).Get()
	if err != nil {
		return nil, err
	}
	key, created, err := crypto.LoadOrCreateKeystore(cfg.KeystorePath, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore: %w", err)
	}
	addr := key.PubKey().Address().String()
	if created {
		logger.Info("generated authority key", slog.String("address", addr), logging.MaskField("keystore", cfg.KeystorePath))
	} else {
		logger.Info("loaded authority key", slog.String("address", addr))
	}
	return key, nil
}

func pruneJournal(ctx context.Context, journal *offchain.Journal, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := journal.Prune(ctx, time.Now().Add(-journalRetention))
			if err != nil {
				logger.Warn("journal prune failed", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				logger.Debug("journal pruned", slog.Int64("rounds", removed))
			}
		}
	}
}
