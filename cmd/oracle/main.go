// Package main runs the price oracle service:
// - Aggregator (scheduled): refreshes tracked mints through the waterfall
// - Stream (continuous): live websocket price updates
// - Breaker (scheduled): protocol-wide liquidation risk monitor
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"memecoin-lending-oracle/internal/config"
	"memecoin-lending-oracle/internal/endpoint"
	"memecoin-lending-oracle/internal/liquidation"
	"memecoin-lending-oracle/internal/logging"
	"memecoin-lending-oracle/internal/observability"
	"memecoin-lending-oracle/internal/pricing"
	"memecoin-lending-oracle/internal/provider"
	"memecoin-lending-oracle/internal/solana"
	"memecoin-lending-oracle/internal/storage"
	chstore "memecoin-lending-oracle/internal/storage/clickhouse"
	"memecoin-lending-oracle/internal/storage/memory"
	"memecoin-lending-oracle/internal/storage/migrations"
	pgstore "memecoin-lending-oracle/internal/storage/postgres"
	"memecoin-lending-oracle/internal/stream"
)

// Server wires the oracle components together.
type Server struct {
	cfg    config.Config
	logger *zap.Logger

	pool       *endpoint.Pool
	aggregator *pricing.Aggregator
	streamer   *stream.Client
	trigger    *liquidation.Trigger
	breaker    *liquidation.Breaker

	startedAt time.Time
}

// stores holds the storage implementations behind the oracle interfaces.
type stores struct {
	positions storage.PositionStore
	history   storage.PriceHistoryStore
	outcomes  storage.LiquidationOutcomeStore
	audit     storage.AuditStore
}

func main() {
	configPath := flag.String("config", os.Getenv("ORACLE_CONFIG"), "Path to YAML config file")
	httpAddr := flag.String("http-addr", "", "HTTP address for health/metrics/status (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *useMemory {
		cfg.UseMemory = true
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("create stores", zap.Error(err))
	}
	defer cleanup()

	server, err := buildServer(ctx, cfg, st, logger)
	if err != nil {
		logger.Fatal("build server", zap.Error(err))
	}

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()

		select {
		case <-sigCh:
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out")
			os.Exit(1)
		case <-done:
		}
	}()

	go server.startHTTPServer(cfg.HTTPAddr)

	err = server.Run(ctx)
	done <- err

	if err != nil && err != context.Canceled {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// createStores builds the storage layer, running migrations for the
// database-backed path.
func createStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, func(), error) {
	if cfg.UseMemory {
		logger.Warn("using in-memory storage, data will not survive restart")
		return &stores{
			positions: memory.NewPositionStore(),
			history:   memory.NewPriceHistoryStore(),
			outcomes:  memory.NewLiquidationOutcomeStore(),
			audit:     memory.NewAuditStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	st := &stores{
		positions: pgstore.NewPositionStore(pool),
		history:   chstore.NewPriceHistoryStore(chConn),
		outcomes:  pgstore.NewLiquidationOutcomeStore(pool),
		audit:     pgstore.NewAuditStore(pool),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return st, cleanup, nil
}

// buildServer constructs the component graph.
func buildServer(ctx context.Context, cfg config.Config, st *stores, logger *zap.Logger) (*Server, error) {
	pool := endpoint.NewPool(cfg.JupiterEndpoints, endpoint.PoolOptions{Logger: logger})
	cache := pricing.NewCache(cfg.CacheTTL)

	jupiter := provider.NewJupiterAdapter(pool, logger.Named("jupiter"))
	solSource := pricing.NewSolPriceSource(cache, jupiter)

	rpc := solana.NewHTTPClient(cfg.SolanaRPCEndpoint)
	pumpfun := provider.NewPumpFunAdapter(rpc, solSource, logger.Named("pumpfun"))
	dexscreener := provider.NewDexScreenerAdapter(cfg.DexScreenerURL, logger.Named("dexscreener"))

	var distributed pricing.DistributedCache
	if cfg.RedisAddr != "" {
		redisCache, err := pricing.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		distributed = redisCache
	}

	aggregator := pricing.NewAggregator(cache,
		[]provider.Adapter{jupiter, pumpfun, dexscreener},
		pricing.AggregatorOptions{
			Distributed: distributed,
			History:     st.history,
			Audit:       st.audit,
			Logger:      logger.Named("aggregator"),
			CacheTTL:    cfg.CacheTTL,
		})

	breaker := liquidation.NewBreaker(liquidation.BreakerConfig{
		MaxLoss1h:         cfg.MaxLoss1h,
		MaxLoss24h:        cfg.MaxLoss24h,
		MaxLiquidations1h: cfg.MaxLiquidations1h,
	}, st.outcomes, st.audit, logger.Named("breaker"))

	executor := liquidation.NewDryRunExecutor(logger.Named("executor"))
	trigger := liquidation.NewTrigger(st.positions, st.outcomes, st.audit, executor, breaker, solSource, logger.Named("trigger"))

	var streamer *stream.Client
	if cfg.StreamURL != "" {
		streamer = stream.NewClient(stream.DefaultConfig(cfg.StreamURL), cache, trigger, st.audit, logger.Named("stream"))
		if err := streamer.Track(cfg.TrackedMints...); err != nil {
			return nil, fmt.Errorf("track mints: %w", err)
		}
	}

	return &Server{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		aggregator: aggregator,
		streamer:   streamer,
		trigger:    trigger,
		breaker:    breaker,
		startedAt:  time.Now(),
	}, nil
}

// Run starts the background loops and blocks until the context ends or a
// component fails fatally.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting oracle service",
		zap.Int("jupiter_endpoints", s.pool.Size()),
		zap.Strings("tracked_mints", s.cfg.TrackedMints))

	errCh := make(chan error, 2)

	go s.runRefreshLoop(ctx)
	go s.breaker.RunMonitor(ctx, s.cfg.BreakerInterval)

	if s.streamer != nil {
		go func() {
			err := s.streamer.Run(ctx)
			if err != nil && err != context.Canceled {
				// The stream giving up is survivable, polling continues.
				s.logger.Error("stream stopped", zap.Error(err))
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// runRefreshLoop polls the waterfall for all tracked mints on a fixed
// interval so liquidation checks run even without live updates.
func (s *Server) runRefreshLoop(ctx context.Context) {
	s.refresh(ctx)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Server) refresh(ctx context.Context) {
	if len(s.cfg.TrackedMints) == 0 {
		return
	}

	results, err := s.aggregator.GetPrices(ctx, s.cfg.TrackedMints)
	if err != nil {
		s.logger.Error("price refresh failed", zap.Error(err))
		return
	}

	for _, rec := range results {
		if err := s.trigger.CheckMint(ctx, rec); err != nil {
			s.logger.Error("liquidation check failed",
				zap.String("mint", rec.Mint),
				zap.Error(err))
		}
	}
}

// startHTTPServer serves health, metrics and status.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)

	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Error("http server error", zap.Error(err))
	}
}

// StatusResponse is the JSON body of /status.
type StatusResponse struct {
	Status         string           `json:"status"`
	Uptime         string           `json:"uptime"`
	StreamState    string           `json:"stream_state,omitempty"`
	BreakerTripped bool             `json:"breaker_tripped"`
	BreakerReason  string           `json:"breaker_reason,omitempty"`
	TrackedMints   []string         `json:"tracked_mints"`
	Endpoints      []endpointStatus `json:"endpoints"`
}

type endpointStatus struct {
	ID       string  `json:"id"`
	Healthy  bool    `json:"healthy"`
	AvgLatMs float64 `json:"avg_latency_ms"`
	Failures int64   `json:"total_failures"`
	Requests int64   `json:"total_requests"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tripped, reason := s.breaker.State()

	resp := StatusResponse{
		Status:         "running",
		Uptime:         time.Since(s.startedAt).String(),
		BreakerTripped: tripped,
		BreakerReason:  reason,
		TrackedMints:   s.cfg.TrackedMints,
	}
	if s.streamer != nil {
		resp.StreamState = s.streamer.State().String()
	}
	for _, ep := range s.pool.Endpoints() {
		h := ep.Health()
		resp.Endpoints = append(resp.Endpoints, endpointStatus{
			ID:       ep.ID,
			Healthy:  h.Healthy,
			AvgLatMs: h.RollingAvgLatencyMs,
			Failures: h.TotalFailures,
			Requests: h.TotalRequests,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
