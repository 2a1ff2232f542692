// Package recovery is the gap-detection and bounded-replay subsystem (C11):
// it persists the stream's last confirmed checkpoint, detects slot gaps
// larger than min_gap_duration implies, and backfills them from
// internal/solanarpc up to a bounded number of slots per pass so a long
// outage cannot trigger an unbounded historical replay, per spec.md §5.3.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/anselmolaurindo/chainindexer/internal/models"
	"github.com/anselmolaurindo/chainindexer/internal/solanarpc"
	"github.com/anselmolaurindo/chainindexer/internal/wire"
)

func marshalEnvelope(raw *solanarpc.RawTransaction) ([]byte, error) {
	return json.Marshal(struct {
		Transaction json.RawMessage `json:"transaction"`
		Meta        json.RawMessage `json:"meta"`
	}{Transaction: raw.Tx, Meta: raw.Meta})
}

// Config tunes gap detection and replay bounds.
type Config struct {
	StreamKey      string
	MaxReplaySlots uint64
	MinGapDuration time.Duration
	ProgramID      string
	PageSize       int
}

// Manager owns checkpoint persistence and gap replay for one stream key.
type Manager struct {
	db  *gorm.DB
	rpc *solanarpc.Client
	log *zap.SugaredLogger
	cfg Config

	onTx func(tx *wire.RawTx)
}

// New builds a recovery Manager.
func New(db *gorm.DB, rpc *solanarpc.Client, log *zap.SugaredLogger, cfg Config, onTx func(tx *wire.RawTx)) *Manager {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Manager{db: db, rpc: rpc, log: log, cfg: cfg, onTx: onTx}
}

// LoadCheckpoint returns the last persisted (slot, signature) for this
// stream key, or (0, "", false) if none exists yet.
func (m *Manager) LoadCheckpoint(ctx context.Context) (slot uint64, signature string, ok bool) {
	var cp models.Checkpoint
	err := m.db.WithContext(ctx).Where("stream_key = ?", m.cfg.StreamKey).First(&cp).Error
	if err != nil {
		return 0, "", false
	}
	return cp.Slot, cp.Signature, true
}

// SaveCheckpoint upserts the stream's current position.
func (m *Manager) SaveCheckpoint(ctx context.Context, slot uint64, signature string) error {
	cp := models.Checkpoint{StreamKey: m.cfg.StreamKey, Slot: slot, Signature: signature, UpdatedAt: time.Now()}
	return m.db.WithContext(ctx).
		Where("stream_key = ?", m.cfg.StreamKey).
		Assign(models.Checkpoint{Slot: slot, Signature: signature, UpdatedAt: time.Now()}).
		FirstOrCreate(&cp).Error
}

// DetectGap compares the previous checkpoint slot against the stream's
// newly observed slot. A gap whose implied duration exceeds MinGapDuration
// (approximated via Solana's ~400ms average slot time) is recorded as an
// unresolved RecoveryRequest for ReplayPending to pick up.
func (m *Manager) DetectGap(ctx context.Context, previousSlot, observedSlot uint64) error {
	if observedSlot <= previousSlot+1 {
		return nil // contiguous, or stream rewound (ignored, not our concern here)
	}

	gapSlots := observedSlot - previousSlot - 1
	const avgSlotTime = 400 * time.Millisecond
	if time.Duration(gapSlots)*avgSlotTime < m.cfg.MinGapDuration {
		return nil // short enough to not warrant a replay pass
	}

	req := models.RecoveryRequest{
		StreamKey: m.cfg.StreamKey,
		FromSlot:  previousSlot + 1,
		ToSlot:    observedSlot - 1,
		CreatedAt: time.Now(),
	}
	if err := m.db.WithContext(ctx).Create(&req).Error; err != nil {
		return fmt.Errorf("recovery: record gap: %w", err)
	}
	m.log.Warnw("recovery: gap detected", "from_slot", req.FromSlot, "to_slot", req.ToSlot)
	return nil
}

// ReplayPending processes unresolved RecoveryRequests for this stream key,
// bounding each pass to MaxReplaySlots so replay work is paced across
// multiple calls rather than done in one unbounded burst.
func (m *Manager) ReplayPending(ctx context.Context) error {
	var pending []models.RecoveryRequest
	if err := m.db.WithContext(ctx).
		Where("stream_key = ? AND resolved = ?", m.cfg.StreamKey, false).
		Order("from_slot ASC").
		Find(&pending).Error; err != nil {
		return fmt.Errorf("recovery: list pending: %w", err)
	}

	for _, req := range pending {
		if err := m.replayOne(ctx, req); err != nil {
			m.log.Errorw("recovery: replay failed", "from_slot", req.FromSlot, "to_slot", req.ToSlot, "error", err)
			m.db.WithContext(ctx).Model(&req).Update("attempts", req.Attempts+1)
			continue
		}
	}
	return nil
}

func (m *Manager) replayOne(ctx context.Context, req models.RecoveryRequest) error {
	span := req.ToSlot - req.FromSlot + 1
	if span > m.cfg.MaxReplaySlots {
		// Resolve only the first MaxReplaySlots of the window; the remainder
		// stays pending as a new, smaller request for the next pass.
		boundary := req.FromSlot + m.cfg.MaxReplaySlots - 1
		remainder := models.RecoveryRequest{
			StreamKey: req.StreamKey,
			FromSlot:  boundary + 1,
			ToSlot:    req.ToSlot,
			CreatedAt: time.Now(),
		}
		if err := m.db.WithContext(ctx).Create(&remainder).Error; err != nil {
			return fmt.Errorf("split remainder: %w", err)
		}
		req.ToSlot = boundary
	}

	before := ""
	seen := make(map[string]bool)
	for {
		sigs, err := m.rpc.GetSignaturesForAddress(ctx, m.cfg.ProgramID, m.cfg.PageSize, before)
		if err != nil {
			return fmt.Errorf("list signatures: %w", err)
		}
		if len(sigs) == 0 {
			break
		}

		replayedAny := false
		for _, si := range sigs {
			if si.Slot < req.FromSlot {
				goto done // paged past the window, older than what we need
			}
			if si.Slot > req.ToSlot || seen[si.Signature] {
				continue
			}
			seen[si.Signature] = true
			replayedAny = true

			if err := m.replaySignature(ctx, si.Signature, si.Slot); err != nil {
				m.log.Warnw("recovery: replay signature failed", "signature", si.Signature, "error", err)
			}
		}

		before = sigs[len(sigs)-1].Signature
		if !replayedAny {
			break
		}
	}

done:
	now := time.Now()
	return m.db.WithContext(ctx).Model(&models.RecoveryRequest{}).
		Where("id = ?", req.ID).
		Updates(map[string]interface{}{"resolved": true, "resolved_at": &now}).Error
}

func (m *Manager) replaySignature(ctx context.Context, signature string, slot uint64) error {
	raw, found, err := m.rpc.GetTransaction(ctx, signature)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	blockTimeMS := int64(0)
	if raw.BlockTime != nil {
		blockTimeMS = *raw.BlockTime * 1000
	}

	payload, err := marshalEnvelope(raw)
	if err != nil {
		return err
	}

	result := wire.Decode(signature, slot, blockTimeMS, payload)
	if result.Ok {
		m.onTx(result.Tx)
	}
	return nil
}
