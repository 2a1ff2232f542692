// Package metadata enriches tracked mints with off-chain symbol/name/URI
// data (C12): a primary metadata endpoint with a fallback, batched at most
// cfg.BatchSize (capped at maxBatchSize) mints per request, writing the resolved fields plus
// metadata_source/metadata_updated_at back onto the Mint row. Modeled on the
// teacher's polymarket.Client HTTP wrapper (base URL + timeout'd client,
// one JSON-decoding fetch method per concern).
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/anselmolaurindo/chainindexer/internal/models"
)

const maxBatchSize = 50

// Info is the resolved off-chain metadata for one mint.
type Info struct {
	Address string
	Symbol  string
	Name    string
	URI     string
	Decimals int16
}

// Config points the enricher at its primary and fallback endpoints.
type Config struct {
	PrimaryEndpoint  string
	FallbackEndpoint string
	BatchSize        int
	PollInterval     time.Duration
}

// Enricher batches unresolved mints and fills in their metadata.
type Enricher struct {
	db         *gorm.DB
	log        *zap.SugaredLogger
	httpClient *http.Client
	cfg        Config
}

// New builds an Enricher.
func New(db *gorm.DB, log *zap.SugaredLogger, cfg Config) *Enricher {
	if cfg.BatchSize <= 0 || cfg.BatchSize > maxBatchSize {
		cfg.BatchSize = maxBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Enricher{
		db:         db,
		log:        log,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cfg:        cfg,
	}
}

// Run polls for unresolved mints and enriches them in batches until ctx is
// cancelled.
func (e *Enricher) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := e.EnrichPending(ctx); err != nil {
			e.log.Warnw("metadata: enrichment pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// EnrichPending fetches and writes back metadata for every mint not yet
// marked metadata_resolved, in batches of at most cfg.BatchSize.
func (e *Enricher) EnrichPending(ctx context.Context) error {
	for {
		var mints []models.Mint
		if err := e.db.WithContext(ctx).
			Where("metadata_resolved = ?", false).
			Limit(e.cfg.BatchSize).
			Find(&mints).Error; err != nil {
			return fmt.Errorf("metadata: list pending mints: %w", err)
		}
		if len(mints) == 0 {
			return nil
		}

		addresses := make([]string, len(mints))
		for i, m := range mints {
			addresses[i] = m.Address
		}

		infos, source, err := e.fetchBatch(ctx, addresses)
		if err != nil {
			return fmt.Errorf("metadata: fetch batch: %w", err)
		}

		now := time.Now()
		for _, m := range mints {
			info, ok := infos[m.Address]
			if !ok {
				continue // neither source had this mint yet; retry next pass
			}
			updates := map[string]interface{}{
				"symbol":              info.Symbol,
				"name":                info.Name,
				"uri":                 info.URI,
				"metadata_resolved":   true,
				"metadata_source":     source,
				"metadata_updated_at": &now,
			}
			if err := e.db.WithContext(ctx).Model(&models.Mint{}).Where("id = ?", m.ID).Updates(updates).Error; err != nil {
				e.log.Warnw("metadata: write-back failed", "mint", m.Address, "error", err)
			}
		}

		if len(mints) < e.cfg.BatchSize {
			return nil // drained the pending set
		}
	}
}

// fetchBatch queries the primary endpoint first; any address it doesn't
// resolve is retried against the fallback, matching the spec's primary/
// fallback metadata-source contract.
func (e *Enricher) fetchBatch(ctx context.Context, addresses []string) (map[string]Info, string, error) {
	primary, err := e.query(ctx, e.cfg.PrimaryEndpoint, addresses)
	if err == nil && len(primary) == len(addresses) {
		return primary, "primary", nil
	}

	missing := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if _, ok := primary[addr]; !ok {
			missing = append(missing, addr)
		}
	}
	if len(missing) == 0 {
		return primary, "primary", nil
	}
	if e.cfg.FallbackEndpoint == "" {
		return primary, "primary", nil
	}

	fallback, ferr := e.query(ctx, e.cfg.FallbackEndpoint, missing)
	if ferr != nil {
		if len(primary) > 0 {
			return primary, "primary", nil
		}
		return nil, "", ferr
	}

	merged := make(map[string]Info, len(primary)+len(fallback))
	for k, v := range primary {
		merged[k] = v
	}
	for k, v := range fallback {
		merged[k] = v
	}
	return merged, "fallback", nil
}

type batchResponse struct {
	Mints []struct {
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Name     string `json:"name"`
		URI      string `json:"uri"`
		Decimals int16  `json:"decimals"`
	} `json:"mints"`
}

func (e *Enricher) query(ctx context.Context, endpoint string, addresses []string) (map[string]Info, error) {
	body, err := json.Marshal(struct {
		Addresses []string `json:"addresses"`
	}{Addresses: addresses})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("metadata endpoint error: %d - %s", resp.StatusCode, string(raw))
	}

	var parsed batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make(map[string]Info, len(parsed.Mints))
	for _, m := range parsed.Mints {
		out[m.Address] = Info{Address: m.Address, Symbol: m.Symbol, Name: m.Name, URI: m.URI, Decimals: m.Decimals}
	}
	return out, nil
}
