package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/anselmolaurindo/chainindexer/internal/models"
)

type testMint struct {
	models.Mint
	ID string `gorm:"type:uuid;primaryKey"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.Table("mints").AutoMigrate(&testMint{}); err != nil {
		t.Fatalf("failed to migrate mints: %v", err)
	}
	return db
}

func newMetadataServer(t *testing.T, known map[string]Info) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Addresses []string `json:"addresses"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		var resp batchResponse
		for _, addr := range req.Addresses {
			if info, ok := known[addr]; ok {
				resp.Mints = append(resp.Mints, struct {
					Address  string `json:"address"`
					Symbol   string `json:"symbol"`
					Name     string `json:"name"`
					URI      string `json:"uri"`
					Decimals int16  `json:"decimals"`
				}{Address: info.Address, Symbol: info.Symbol, Name: info.Name, URI: info.URI, Decimals: info.Decimals})
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestEnrichPendingResolvesFromPrimary(t *testing.T) {
	db := newTestDB(t)
	primary := newMetadataServer(t, map[string]Info{
		"mintA": {Address: "mintA", Symbol: "FOO", Name: "Foo Token", URI: "ipfs://foo"},
	})
	defer primary.Close()

	db.Create(&testMint{Mint: models.Mint{Address: "mintA", TotalSupply: 1}, ID: "id1"})

	e := New(db, zap.NewNop().Sugar(), Config{PrimaryEndpoint: primary.URL})
	if err := e.EnrichPending(context.Background()); err != nil {
		t.Fatalf("enrich failed: %v", err)
	}

	var m models.Mint
	db.Table("mints").Where("address = ?", "mintA").First(&m)
	if m.Symbol != "FOO" || !m.MetadataResolved || m.MetadataSource != "primary" {
		t.Fatalf("expected resolved FOO via primary, got %+v", m)
	}
}

func TestEnrichPendingFallsBackWhenPrimaryMisses(t *testing.T) {
	db := newTestDB(t)
	primary := newMetadataServer(t, map[string]Info{}) // knows nothing
	defer primary.Close()
	fallback := newMetadataServer(t, map[string]Info{
		"mintB": {Address: "mintB", Symbol: "BAR", Name: "Bar Token", URI: "ipfs://bar"},
	})
	defer fallback.Close()

	db.Create(&testMint{Mint: models.Mint{Address: "mintB", TotalSupply: 1}, ID: "id2"})

	e := New(db, zap.NewNop().Sugar(), Config{PrimaryEndpoint: primary.URL, FallbackEndpoint: fallback.URL})
	if err := e.EnrichPending(context.Background()); err != nil {
		t.Fatalf("enrich failed: %v", err)
	}

	var m models.Mint
	db.Table("mints").Where("address = ?", "mintB").First(&m)
	if m.Symbol != "BAR" || !m.MetadataResolved || m.MetadataSource != "fallback" {
		t.Fatalf("expected resolved BAR via fallback, got %+v", m)
	}
}

func TestEnrichPendingLeavesUnresolvedWhenNoSourceKnows(t *testing.T) {
	db := newTestDB(t)
	primary := newMetadataServer(t, map[string]Info{})
	defer primary.Close()

	db.Create(&testMint{Mint: models.Mint{Address: "mintC", TotalSupply: 1}, ID: "id3"})

	e := New(db, zap.NewNop().Sugar(), Config{PrimaryEndpoint: primary.URL})
	if err := e.EnrichPending(context.Background()); err != nil {
		t.Fatalf("enrich failed: %v", err)
	}

	var m models.Mint
	db.Table("mints").Where("address = ?", "mintC").First(&m)
	if m.MetadataResolved {
		t.Fatal("expected mint to remain unresolved when no source knows it")
	}
}
