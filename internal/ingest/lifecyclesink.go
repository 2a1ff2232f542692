package ingest

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/anselmolaurindo/chainindexer/internal/lifecycle"
	"github.com/anselmolaurindo/chainindexer/internal/models"
	"github.com/anselmolaurindo/chainindexer/internal/router"
)

// LifecycleSink builds the lifecycle.Engine callback that persists every
// phase transition: it writes the mint's new lifecycle_state, appends an
// audit row, and republishes the transition on the router for subscribers.
func LifecycleSink(db *gorm.DB, r *router.Router, log *zap.SugaredLogger) func(lifecycle.Transition) {
	return func(t lifecycle.Transition) {
		var mint models.Mint
		if err := db.Where("address = ?", t.Mint).First(&mint).Error; err != nil {
			log.Warnw("ingest: lifecycle transition for unknown mint", "mint", t.Mint, "error", err)
			return
		}

		if err := db.Model(&mint).Update("lifecycle_state", t.To).Error; err != nil {
			log.Warnw("ingest: failed to persist lifecycle state", "mint", t.Mint, "error", err)
		}

		row := models.LifecycleTransition{
			MintID: mint.ID, FromState: t.From, ToState: t.To, Reason: t.Reason, Slot: t.Slot,
		}
		if err := db.Create(&row).Error; err != nil {
			log.Warnw("ingest: failed to record lifecycle transition", "mint", t.Mint, "error", err)
		}

		r.EmitAsync(router.Event{Topic: "lifecycle:transition", Payload: t})
	}
}
