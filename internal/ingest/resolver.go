package ingest

import (
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/anselmolaurindo/chainindexer/internal/models"
	"github.com/anselmolaurindo/chainindexer/internal/router"
)

// maxSeenEntries bounds the in-memory dedup cache; once exceeded it is
// cleared outright rather than evicted piecemeal, since the durability
// layer's signature UPSERT is the actual source of truth for dedup.
const maxSeenEntries = 200_000

// SeenCache is a process-local, coarse pre-filter for pipeline.SeenSignatures.
// It trades perfect LRU eviction for simplicity: the durability store's
// signature-keyed UPSERT already makes a false negative here harmless.
type SeenCache struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewSeenCache builds an empty SeenCache.
func NewSeenCache() *SeenCache {
	return &SeenCache{seen: make(map[string]struct{})}
}

// SeenOrMark implements pipeline.SeenSignatures.
func (c *SeenCache) SeenOrMark(signature string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.seen) > maxSeenEntries {
		c.seen = make(map[string]struct{})
	}
	if _, ok := c.seen[signature]; ok {
		return true
	}
	c.seen[signature] = struct{}{}
	return false
}

// MintResolver is the DB-backed pipeline.MintResolver: it looks up a mint by
// address, lazily creating a row the first time it's observed, the same
// find-or-create shape the teacher's market_parser.go storeMarket uses.
type MintResolver struct {
	db           *gorm.DB
	router       *router.Router
	defaultSupply int64

	mu sync.Mutex
}

// NewMintResolver builds a MintResolver.
func NewMintResolver(db *gorm.DB, r *router.Router, defaultSupply int64) *MintResolver {
	return &MintResolver{db: db, router: r, defaultSupply: defaultSupply}
}

// ResolveMintID implements pipeline.MintResolver.
func (m *MintResolver) ResolveMintID(address string) (string, bool) {
	var existing models.Mint
	if err := m.db.Where("address = ?", address).First(&existing).Error; err == nil {
		return existing.ID, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the lock: another goroutine may have created it between
	// the unlocked read above and acquiring this lock.
	if err := m.db.Where("address = ?", address).First(&existing).Error; err == nil {
		return existing.ID, false
	}

	mint := models.Mint{
		ID:             uuid.NewString(),
		Address:        address,
		TotalSupply:    m.defaultSupply,
		LifecycleState: models.LifecycleBonding,
	}
	result := m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoNothing: true,
	}).Create(&mint)
	if result.Error != nil {
		return "", false
	}
	if result.RowsAffected == 0 {
		// lost the create race to a concurrent insert; re-read the winner's row.
		if err := m.db.Where("address = ?", address).First(&existing).Error; err == nil {
			return existing.ID, false
		}
		return "", false
	}

	if m.router != nil {
		m.router.EmitAsync(router.Event{Topic: "token:discovered", Payload: mint.Address})
	}
	return mint.ID, true
}
