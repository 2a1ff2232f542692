// Command migrate runs the indexer's schema migrations standalone, for
// deploy pipelines that want migrations as a separate step from the
// indexer process itself.
package main

import (
	"log"

	"github.com/anselmolaurindo/chainindexer/internal/config"
	"github.com/anselmolaurindo/chainindexer/internal/database"
	"github.com/anselmolaurindo/chainindexer/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog := logging.New(cfg.LogLevel)
	defer zlog.Sync()

	if err := database.Connect(cfg.GetDSN()); err != nil {
		zlog.Fatalw("failed to connect to database", "error", err)
	}

	if err := database.AutoMigrate(zlog); err != nil {
		zlog.Fatalw("migration failed", "error", err)
	}

	zlog.Info("migrations applied successfully")
}
