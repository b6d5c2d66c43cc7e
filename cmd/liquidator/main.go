package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/chain"
	"github.com/Ithil-protocol/liquidation-bot/internal/config"
	"github.com/Ithil-protocol/liquidation-bot/internal/core"
	"github.com/Ithil-protocol/liquidation-bot/internal/dispatch"
	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/Ithil-protocol/liquidation-bot/internal/market"
	"github.com/Ithil-protocol/liquidation-bot/internal/observability"
	"github.com/Ithil-protocol/liquidation-bot/internal/outbound"
	"github.com/Ithil-protocol/liquidation-bot/internal/persistence"
	"github.com/Ithil-protocol/liquidation-bot/internal/pricefeed"
	"github.com/Ithil-protocol/liquidation-bot/internal/server"
	"github.com/Ithil-protocol/liquidation-bot/internal/supervise"
	"github.com/Ithil-protocol/liquidation-bot/migrations"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: liquidation bot starting...")

	if err := run(); err != nil {
		log.Printf("FATAL: %v", err)
		os.Exit(1)
	}
	log.Println("INFO: liquidation bot shutdown complete")
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Deployment ---
	// Tokens must be known before any event is decoded.
	tokens, err := market.LoadTokenList(cfg.TokenListPath)
	if err != nil {
		return err
	}
	deployment, err := market.LoadAddresses(cfg.AddressesPath)
	if err != nil {
		return err
	}
	log.Printf("INFO: loaded %d tokens, strategy=%s liquidator=%s",
		tokens.Len(), deployment.MarginTradingStrategy.Hex(), deployment.Liquidator.Hex())
	for _, t := range tokens.Tokens() {
		log.Printf("INFO:   %-5s %s (%d decimals)", t.Symbol, t.Address.Hex(), t.Decimals)
	}

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- RPC ---
	wsClient, err := chain.Dial(ctx, cfg.RPCWSURL)
	if err != nil {
		return err
	}
	defer wsClient.Close()

	var historyClient chain.Client = wsClient
	if url := cfg.BackfillURL(); url != cfg.RPCWSURL {
		httpClient, err := chain.Dial(ctx, url)
		if err != nil {
			return err
		}
		defer httpClient.Close()
		historyClient = httpClient
	}
	log.Println("INFO: RPC connected")

	decoder, err := chain.NewDecoder()
	if err != nil {
		return err
	}

	// --- Clock ---
	blockFeed := chain.NewBlockFeed(wsClient, metrics)
	latest, err := blockFeed.Latest(ctx)
	if err != nil {
		return err
	}
	engine := core.NewEngine(deployment.MarginTradingStrategy, tokens, latest.Timestamp, metrics)
	log.Printf("INFO: clock seeded from block %d (timestamp %s)", latest.Number, latest.Timestamp.Dec())

	// --- Backfill + replay ---
	// History is replayed before any live feed starts.
	chainFeed := chain.NewFeed(wsClient, decoder, chain.FeedConfig{
		Contract:        deployment.MarginTradingStrategy,
		DeploymentBlock: cfg.DeploymentBlock,
		ChunkSize:       cfg.BackfillChunkSize,
	}, metrics)
	chainFeed.UseHistoryClient(historyClient)

	history, err := chainFeed.Backfill(ctx)
	if err != nil {
		return err
	}
	backlog, err := engine.Replay(history)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	log.Printf("INFO: replayed %d events, %d positions open, %d intents pending",
		len(history), engine.PositionCount(), len(backlog))

	// --- Channels ---
	events := make(chan event.Event, cfg.EventChannelSize)
	intents := make(chan event.Liquidation, cfg.IntentChannelSize)

	runner := core.NewRunner(engine, events, intents)

	// --- Recorders ---
	var recorders []dispatch.Recorder

	var auditWorker *persistence.AuditWorker
	if cfg.PostgresDSN != "" {
		db, err := openPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := persistence.NewMigrator(db, migrations.FS).Up(ctx)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		log.Printf("INFO: Postgres connected (%d migrations applied)", applied)

		auditWorker = persistence.NewAuditWorker(db, cfg.IntentChannelSize*4, cfg.AuditBatchSize, cfg.AuditFlushInterval, metrics)
		recorders = append(recorders, auditWorker)
	}

	if cfg.NATSURL != "" {
		nc, js, err := outbound.Connect(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Close()
		if err := outbound.EnsureStream(ctx, js, cfg.NATSStream); err != nil {
			return err
		}
		log.Println("INFO: NATS connected")
		recorders = append(recorders, outbound.NewPublisher(js))
	}

	// --- Dispatcher ---
	var submitter dispatch.Submitter
	if cfg.DryRun() {
		log.Println("WARN: no private key configured, running in dry-run mode")
		submitter = dispatch.NewDryRunSubmitter()
	} else {
		key, err := dispatch.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return err
		}
		cs, err := dispatch.NewChainSubmitter(wsClient, deployment.Liquidator, key, cfg.Confirmations)
		if err != nil {
			return err
		}
		log.Printf("INFO: submitting liquidations from %s", cs.From().Hex())
		submitter = cs
	}
	dispatcher := dispatch.NewDispatcher(submitter, cfg.DispatchTimeout, metrics, recorders...)

	// --- Supervision + status ---
	policy, err := supervise.ParsePolicy(cfg.RestartPolicy, cfg.RestartBaseDelay, cfg.RestartMaxDelay)
	if err != nil {
		return err
	}
	status := server.NewStatusServer(cfg.StatusGRPCAddr, cfg.StatusHTTPAddr, runner, healthChecker)
	priceFeed := pricefeed.NewCoinbase(cfg.CoinbaseURL, cfg.ProductIDs, metrics)

	// --- Start goroutines ---
	errChan := make(chan error, 16)

	runFeed := func(name string, task supervise.Task) {
		status.SetFeedStatus(name, false)
		go func() {
			err := supervise.Run(ctx, name, policy, metrics, func(ctx context.Context) error {
				status.SetFeedStatus(name, true)
				defer status.SetFeedStatus(name, false)
				return task(ctx)
			})
			if err == nil {
				err = errors.New("stopped")
			}
			errChan <- fmt.Errorf("%s feed: %w", name, err)
		}()
	}

	// 1. Chain log feed
	runFeed("chain", func(ctx context.Context) error { return chainFeed.Run(ctx, events) })

	// 2. Block feed
	runFeed("blocks", func(ctx context.Context) error { return blockFeed.Run(ctx, events) })

	// 3. Price feed
	runFeed("prices", func(ctx context.Context) error { return priceFeed.Run(ctx, events) })

	// 4. Engine consumer. Intents from the replay go out first.
	go func() {
		for _, intent := range backlog {
			select {
			case intents <- intent:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
		errChan <- fmt.Errorf("engine: %w", runner.Run(ctx))
	}()

	// 5. Dispatcher
	go func() {
		errChan <- fmt.Errorf("dispatcher: %w", dispatcher.Run(ctx, intents))
	}()

	// 6. Audit worker
	auditDone := make(chan struct{})
	if auditWorker != nil {
		go func() {
			defer close(auditDone)
			auditWorker.Run(ctx)
		}()
	} else {
		close(auditDone)
	}

	// 7. gRPC health server
	go func() {
		errChan <- status.StartGRPC(ctx)
	}()

	// 8. HTTP status server
	go func() {
		errChan <- status.StartHTTP(ctx)
	}()

	// 9. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: metrics server listening on %s/metrics", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	status.SetReady(true)
	log.Printf("INFO: liquidation bot ready (status=%s, grpc=%s, metrics=%s, dry_run=%t)",
		cfg.StatusHTTPAddr, cfg.StatusGRPCAddr, cfg.MetricsAddr, cfg.DryRun())

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case runErr = <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", runErr)
	}

	// --- Graceful shutdown ---
	cancel()

	select {
	case <-auditDone:
	case <-time.After(30 * time.Second):
		log.Println("WARN: audit worker did not flush in time")
	}
	return runErr
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}
