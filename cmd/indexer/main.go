// Command indexer is the chain indexer process: it connects to the
// upstream log-subscription feed, decodes bonding-curve and AMM trading
// activity, prices and persists it, and serves the results over a
// websocket pub/sub endpoint. Wiring mirrors the teacher's cmd/main.go
// sequence (config -> database -> services -> handlers -> server), adapted
// from a REST API bring-up into a set of concurrent long-running loops.
package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gorm.io/gorm"

	"github.com/anselmolaurindo/chainindexer/internal/ammstate"
	"github.com/anselmolaurindo/chainindexer/internal/bcstate"
	"github.com/anselmolaurindo/chainindexer/internal/config"
	"github.com/anselmolaurindo/chainindexer/internal/database"
	"github.com/anselmolaurindo/chainindexer/internal/decode"
	"github.com/anselmolaurindo/chainindexer/internal/durability"
	"github.com/anselmolaurindo/chainindexer/internal/ingest"
	"github.com/anselmolaurindo/chainindexer/internal/lifecycle"
	"github.com/anselmolaurindo/chainindexer/internal/logging"
	"github.com/anselmolaurindo/chainindexer/internal/metadata"
	"github.com/anselmolaurindo/chainindexer/internal/pipeline"
	"github.com/anselmolaurindo/chainindexer/internal/pricing"
	"github.com/anselmolaurindo/chainindexer/internal/recovery"
	"github.com/anselmolaurindo/chainindexer/internal/router"
	"github.com/anselmolaurindo/chainindexer/internal/solanarpc"
	"github.com/anselmolaurindo/chainindexer/internal/stream"
	"github.com/anselmolaurindo/chainindexer/internal/transport"
)

// protocolFeeBps is the protocol's cut of every swap fee; the remainder
// accrues to liquidity providers. 1000 bps (10%) matches pump.fun AMM's
// published split.
const protocolFeeBps = 1000

// streamKey identifies this process's single stream for checkpointing; a
// multi-endpoint deployment would key per upstream connection instead.
const streamKey = "primary"

// lifecycleSweepInterval is how often every tracked mint is checked for the
// abandonment window; lifecycle state rarely needs finer granularity than this.
const lifecycleSweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	if err := database.Connect(cfg.GetDSN()); err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	if err := database.AutoMigrate(log); err != nil {
		log.Fatalw("failed to run migrations", "error", err)
	}
	db := database.GetDB()

	r := router.New(log)
	defer r.Close()

	rpc := solanarpc.New(cfg.Stream.RPCEndpoint)

	pricingEngine := pricing.NewEngine(
		pricing.NewHTTPQuoteSource(cfg.Pricing.SolUsdEndpoint),
		cfg.Pricing.RateLimitPerMinute,
		cfg.Pricing.DefaultTotalSupply,
	)
	if err := pricingEngine.Refresh(context.Background()); err != nil {
		log.Warnw("initial sol/usd refresh failed, pricing will be unavailable until it succeeds", "error", err)
	}

	lifecycleEngine := lifecycle.NewEngine(lifecycle.Config{
		AbandonmentWindow:          cfg.Lifecycle.AbandonmentWindow,
		AbandonmentMinTrades:       cfg.Lifecycle.AbandonmentMinTrades,
		GraduationResolutionWindow: cfg.Lifecycle.GraduationResolutionWindow,
	}, ingest.LifecycleSink(db, r, log))

	bcStore := bcstate.NewStore()
	ammStore := ammstate.NewStore()

	durabilityStore := durability.New(db, log, durability.Config{
		FlushInterval: cfg.Durability.FlushInterval,
		MaxBatchRows:  cfg.Durability.MaxBatchRows,
		RollupCron:    cfg.Durability.RollupInterval,
	})

	pl := pipeline.New(
		r, durabilityStore, ingest.NewSeenCache(),
		ingest.NewMintResolver(db, r, cfg.Pricing.DefaultTotalSupply),
		cfg.Pricing.BCSaveThresholdUSD, cfg.Pricing.AMMSaveThresholdUSD,
	)

	processor := ingest.New(ingest.Config{
		Programs:       decode.Programs{BC: cfg.Stream.ProgramIDBC, AMM: cfg.Stream.ProgramIDAMM},
		ProtocolFeeBps: protocolFeeBps,
	}, ingest.Deps{
		DB: db, Log: log, Router: r, Lifecycle: lifecycleEngine,
		BCStore: bcStore, AMMStore: ammStore, Pricing: pricingEngine, Pipeline: pl,
	})

	streamSession := stream.New(stream.Config{
		Endpoint:          cfg.Stream.Endpoint,
		Token:             cfg.Stream.Token,
		Commitment:        cfg.Stream.Commitment,
		ProgramIDs:        []string{cfg.Stream.ProgramIDBC, cfg.Stream.ProgramIDAMM},
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		DegradedWindow:    cfg.Stream.DegradedWindow,
		MinParseRate:      cfg.Stream.MinParseRate,
	}, rpc, log, processor.HandleTx)

	recoveryMgr := recovery.New(db, rpc, log, recovery.Config{
		StreamKey:      streamKey,
		MaxReplaySlots: cfg.Recovery.MaxReplaySlots,
		MinGapDuration: cfg.Recovery.MinGapDuration,
		ProgramID:      cfg.Stream.ProgramIDBC,
	}, processor.HandleTx)

	metadataEnricher := metadata.New(db, log, metadata.Config{
		PrimaryEndpoint:  cfg.Metadata.PrimaryEndpoint,
		FallbackEndpoint: cfg.Metadata.FallbackEndpoint,
		BatchSize:        cfg.Metadata.BatchSize,
		PollInterval:     cfg.Metadata.PollInterval,
	})

	transportServer := transport.New(":"+cfg.Server.Port, r, healthChecker{db: db, stream: streamSession}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	runLoop := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && err != context.Canceled {
				log.Errorw("background loop exited", "loop", name, "error", err)
			}
		}()
	}

	runLoop("stream", streamSession.Run)
	runLoop("durability", durabilityStore.Run)
	runLoop("metadata", metadataEnricher.Run)
	runLoop("transport", transportServer.Run)
	runLoop("pricing_poll", func(ctx context.Context) error { return pollPricing(ctx, pricingEngine, cfg.Pricing.PollInterval, log) })
	runLoop("recovery_sweep", func(ctx context.Context) error {
		return recoverySweep(ctx, recoveryMgr, streamSession, cfg.Recovery.CheckpointInterval, log)
	})
	runLoop("lifecycle_sweep", func(ctx context.Context) error {
		return lifecycleSweep(ctx, lifecycleEngine, lifecycleSweepInterval, log)
	})

	log.Infow("indexer started", "server_port", cfg.Server.Port)
	<-ctx.Done()
	log.Info("shutdown signal received, draining background loops")
	wg.Wait()
	log.Info("indexer stopped")
}

// pollPricing refreshes the cached SOL/USD quote on cfg.Pricing.PollInterval
// until ctx is cancelled; Refresh is itself rate-limited, so an aggressive
// poll interval here is harmless.
func pollPricing(ctx context.Context, e *pricing.Engine, interval time.Duration, log logAdapter) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.Refresh(ctx); err != nil {
				log.Warnw("sol/usd refresh failed", "error", err)
			}
		}
	}
}

// recoverySweep periodically checkpoints the stream's last observed
// signature, checks for a slot gap against the previous checkpoint, and
// drains any pending replay requests.
func recoverySweep(ctx context.Context, m *recovery.Manager, s *stream.Session, interval time.Duration, log logAdapter) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sig := s.LastSignature()
			if sig == "" {
				continue
			}
			prevSlot, _, ok := m.LoadCheckpoint(ctx)
			if err := m.SaveCheckpoint(ctx, s.LastObservedSlot(), sig); err != nil {
				log.Warnw("checkpoint save failed", "error", err)
			}
			if ok {
				if err := m.DetectGap(ctx, prevSlot, s.LastObservedSlot()); err != nil {
					log.Warnw("gap detection failed", "error", err)
				}
			}
			if err := m.ReplayPending(ctx); err != nil {
				log.Warnw("replay pass failed", "error", err)
			}
		}
	}
}

// lifecycleSweep periodically sweeps every tracked mint for the
// abandonment window and logs any graduation still unresolved past the
// resolution window.
func lifecycleSweep(ctx context.Context, e *lifecycle.Engine, interval time.Duration, log logAdapter) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now()
			for _, mint := range e.TrackedMints() {
				e.CheckAbandonment(mint, now)
			}
			if stale := e.PendingGraduations(now); len(stale) > 0 {
				log.Warnw("graduations still unresolved past resolution window", "curves", stale)
			}
		}
	}
}

// logAdapter is the minimal subset of *zap.SugaredLogger these loops need,
// so they're trivially testable against a fake.
type logAdapter interface {
	Warnw(msg string, keysAndValues ...interface{})
}

// healthChecker implements transport.HealthSource: the process is healthy
// when the database is reachable and the stream session isn't Failed.
type healthChecker struct {
	db     *gorm.DB
	stream *stream.Session
}

func (h healthChecker) Healthy() (bool, map[string]string) {
	details := make(map[string]string)

	dbOK := true
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.Ping() != nil {
		dbOK = false
		details["database"] = "unreachable"
	} else {
		details["database"] = "ok"
	}

	state := h.stream.State()
	details["stream"] = string(state)
	streamOK := state != stream.StateFailed

	return dbOK && streamOK, details
}
