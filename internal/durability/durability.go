// Package durability is the at-least-once persistence layer (C9): batched,
// retried, signature-deduplicated trade writes, a dead-letter quarantine for
// rows that still fail after retry, and scheduled hourly/daily roll-ups.
// Modeled on the teacher's amm_service.go transaction-wrapped writes
// (RecordTrade), generalized from a single synchronous write into a batched
// background flush loop.
package durability

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/anselmolaurindo/chainindexer/internal/models"
)

// Config tunes batching and roll-up cadence.
type Config struct {
	FlushInterval time.Duration
	MaxBatchRows  int
	RollupCron    string // 6-field cron expression with a leading seconds field, e.g. "0 5 * * * *" hourly at :05
}

// Store batches trade writes and flushes them transactionally with retry.
type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	cfg Config

	mu      sync.Mutex
	pending []models.Trade

	flushNow chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	cron *cron.Cron
}

// New builds a Store. Call Run to start the background flush loop and the
// roll-up scheduler.
func New(db *gorm.DB, log *zap.SugaredLogger, cfg Config) *Store {
	if cfg.MaxBatchRows <= 0 {
		cfg.MaxBatchRows = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &Store{
		db:       db,
		log:      log,
		cfg:      cfg,
		flushNow: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// EnqueueTrade buffers t for the next batch flush. Satisfies
// pipeline.Persister.
func (s *Store) EnqueueTrade(t models.Trade) {
	s.mu.Lock()
	s.pending = append(s.pending, t)
	full := len(s.pending) >= s.cfg.MaxBatchRows
	s.mu.Unlock()

	if full {
		select {
		case s.flushNow <- struct{}{}:
		default:
		}
	}
}

// Run starts the background flush loop and roll-up scheduler; it blocks
// until ctx is cancelled.
func (s *Store) Run(ctx context.Context) error {
	s.wg.Add(1)
	go s.flushLoop(ctx)

	if s.cfg.RollupCron != "" {
		s.cron = cron.New(cron.WithSeconds())
		if _, err := s.cron.AddFunc(s.cfg.RollupCron, func() {
			if err := s.RunRollups(context.Background()); err != nil {
				s.log.Errorw("durability: rollup failed", "error", err)
			}
		}); err != nil {
			return err
		}
		s.cron.Start()
	}

	<-ctx.Done()
	s.Close()
	return ctx.Err()
}

// Close flushes any remaining buffered trades and stops the background loop.
func (s *Store) Close() {
	close(s.done)
	s.wg.Wait()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.drainAndFlush()
}

func (s *Store) flushLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.drainAndFlush()
		case <-s.flushNow:
			s.drainAndFlush()
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) drainAndFlush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if err := s.flushWithRetry(batch); err != nil {
		s.log.Errorw("durability: batch flush exhausted retries, quarantining", "rows", len(batch), "error", err)
		s.quarantine(batch, err)
	}
}

// flushWithRetry writes batch transactionally, retrying with exponential
// backoff for up to 30s. Every error is retried the same way: transient
// failures (connection errors, deadlocks) are not told apart from constraint
// violations. The signature UPSERT already makes duplicate signatures a no-op
// rather than an error.
func (s *Store) flushWithRetry(batch []models.Trade) error {
	op := func() error {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "signature"}},
				DoNothing: true,
			}).Create(&batch).Error
		})
		if err != nil {
			return err
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(op, b)
}

func (s *Store) quarantine(batch []models.Trade, reason error) {
	rows := make([]models.QuarantinedTrade, 0, len(batch))
	for _, t := range batch {
		rows = append(rows, models.QuarantinedTrade{
			Signature:   t.Signature,
			Reason:      reason.Error(),
			PayloadJSON: t.Signature, // signature is sufficient to re-fetch and replay the source transaction
		})
	}
	if err := s.db.Create(&rows).Error; err != nil {
		s.log.Errorw("durability: failed to write quarantine rows", "error", err)
	}
}
