// Package database wires up the relational store shared by the durability
// layer, AMM state store, and lifecycle engine.
package database

import (
	"fmt"

	"github.com/anselmolaurindo/chainindexer/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Connect establishes a connection to the PostgreSQL database.
func Connect(dsn string) error {
	var err error

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Error),
		DisableForeignKeyConstraintWhenMigrating: true,
	})

	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	return nil
}

// AutoMigrate runs automatic migrations for all models, grouped by subsystem
// so a failure in one group doesn't block the others from coming up.
func AutoMigrate(log *zap.SugaredLogger) error {
	mintModels := []interface{}{
		&models.Mint{},
		&models.BondingCurveAccount{},
		&models.LifecycleTransition{},
	}
	for _, model := range mintModels {
		if err := DB.AutoMigrate(model); err != nil {
			log.Warnf("migration issue for %T: %v", model, err)
		}
	}

	ammModels := []interface{}{
		&models.AmmPool{},
		&models.LiquidityEvent{},
		&models.FeeEvent{},
	}
	for _, model := range ammModels {
		if err := DB.AutoMigrate(model); err != nil {
			log.Warnf("migration issue for %T: %v", model, err)
		}
	}

	tradeModels := []interface{}{
		&models.Trade{},
	}
	for _, model := range tradeModels {
		if err := DB.AutoMigrate(model); err != nil {
			log.Warnf("migration issue for %T: %v", model, err)
		}
	}

	rollupModels := []interface{}{
		&models.PoolHourlyStat{},
		&models.PoolDailyStat{},
	}
	for _, model := range rollupModels {
		if err := DB.AutoMigrate(model); err != nil {
			log.Warnf("migration issue for %T: %v", model, err)
		}
	}

	recoveryModels := []interface{}{
		&models.Checkpoint{},
		&models.RecoveryRequest{},
	}
	for _, model := range recoveryModels {
		if err := DB.AutoMigrate(model); err != nil {
			log.Warnf("migration issue for %T: %v", model, err)
		}
	}

	durabilityModels := []interface{}{
		&models.QuarantinedTrade{},
	}
	for _, model := range durabilityModels {
		if err := DB.AutoMigrate(model); err != nil {
			log.Warnf("migration issue for %T: %v", model, err)
		}
	}

	log.Info("database migrations completed")
	return nil
}

// GetDB returns the database instance.
func GetDB() *gorm.DB {
	return DB
}
