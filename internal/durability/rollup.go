package durability

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/anselmolaurindo/chainindexer/internal/models"
)

// hourlyBucketRow is the shape produced by the hourly aggregation query.
type hourlyBucketRow struct {
	MintID        string
	BucketStart   time.Time
	TradeCount    int64
	VolumeBaseUsd float64
	UniqueTraders int64
	OpenPriceUsd  float64
	ClosePriceUsd float64
	HighPriceUsd  float64
	LowPriceUsd   float64
}

// RunRollups recomputes the previous two complete hourly buckets (to absorb
// late-arriving trades from recovery replay) and, on the hour boundary that
// closes a UTC day, the previous daily bucket from its hourly children.
func (s *Store) RunRollups(ctx context.Context) error {
	now := time.Now().UTC()
	currentHour := now.Truncate(time.Hour)
	for _, bucket := range []time.Time{currentHour.Add(-time.Hour), currentHour.Add(-2 * time.Hour)} {
		if err := s.rollupHour(ctx, bucket); err != nil {
			return err
		}
	}

	if now.Hour() == 0 {
		if err := s.rollupDay(ctx, now.Truncate(24*time.Hour).Add(-24*time.Hour)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) rollupHour(ctx context.Context, bucketStart time.Time) error {
	bucketEnd := bucketStart.Add(time.Hour)

	var rows []hourlyBucketRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT
			mint_id AS mint_id,
			? AS bucket_start,
			COUNT(*) AS trade_count,
			COALESCE(SUM(market_cap_usd), 0) AS volume_base_usd,
			COUNT(DISTINCT trader) AS unique_traders,
			(array_agg(price_usd ORDER BY created_at ASC))[1] AS open_price_usd,
			(array_agg(price_usd ORDER BY created_at DESC))[1] AS close_price_usd,
			MAX(price_usd) AS high_price_usd,
			MIN(price_usd) AS low_price_usd
		FROM trades
		WHERE created_at >= ? AND created_at < ?
		GROUP BY mint_id
	`, bucketStart, bucketStart, bucketEnd).Scan(&rows).Error
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	stats := make([]models.PoolHourlyStat, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, models.PoolHourlyStat{
			MintID:        r.MintID,
			BucketStart:   bucketStart,
			TradeCount:    r.TradeCount,
			VolumeBaseUsd: r.VolumeBaseUsd,
			UniqueTraders: r.UniqueTraders,
			OpenPriceUsd:  r.OpenPriceUsd,
			ClosePriceUsd: r.ClosePriceUsd,
			HighPriceUsd:  r.HighPriceUsd,
			LowPriceUsd:   r.LowPriceUsd,
		})
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mint_id"}, {Name: "bucket_start"}},
		DoUpdates: clause.AssignmentColumns([]string{"trade_count", "volume_base_usd", "unique_traders", "open_price_usd", "close_price_usd", "high_price_usd", "low_price_usd"}),
	}).Create(&stats).Error
}

func (s *Store) rollupDay(ctx context.Context, dayStart time.Time) error {
	dayEnd := dayStart.Add(24 * time.Hour)

	var hourly []models.PoolHourlyStat
	if err := s.db.WithContext(ctx).
		Where("bucket_start >= ? AND bucket_start < ?", dayStart, dayEnd).
		Order("bucket_start ASC").
		Find(&hourly).Error; err != nil {
		return err
	}
	if len(hourly) == 0 {
		return nil
	}

	var uniq []struct {
		MintID string
		N      int64
	}
	if err := s.db.WithContext(ctx).Raw(`SELECT mint_id AS mint_id, COUNT(DISTINCT trader) AS n FROM trades
		WHERE created_at >= ? AND created_at < ? GROUP BY mint_id`, dayStart, dayEnd).Scan(&uniq).Error; err != nil {
		return err
	}
	uniqueByMint := make(map[string]int64, len(uniq))
	for _, u := range uniq {
		uniqueByMint[u.MintID] = u.N
	}

	byMint := make(map[string][]models.PoolHourlyStat)
	for _, h := range hourly {
		byMint[h.MintID] = append(byMint[h.MintID], h)
	}

	daily := make([]models.PoolDailyStat, 0, len(byMint))
	for mintID, buckets := range byMint {
		d := models.PoolDailyStat{
			MintID:        mintID,
			BucketStart:   dayStart,
			UniqueTraders: uniqueByMint[mintID],
			OpenPriceUsd:  buckets[0].OpenPriceUsd,
			ClosePriceUsd: buckets[len(buckets)-1].ClosePriceUsd,
		}
		for _, b := range buckets {
			d.TradeCount += b.TradeCount
			d.VolumeBaseUsd += b.VolumeBaseUsd
			if b.HighPriceUsd > d.HighPriceUsd {
				d.HighPriceUsd = b.HighPriceUsd
			}
			if d.LowPriceUsd == 0 || (b.LowPriceUsd > 0 && b.LowPriceUsd < d.LowPriceUsd) {
				d.LowPriceUsd = b.LowPriceUsd
			}
		}
		daily = append(daily, d)
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mint_id"}, {Name: "bucket_start"}},
		DoUpdates: clause.AssignmentColumns([]string{"trade_count", "volume_base_usd", "unique_traders", "open_price_usd", "close_price_usd", "high_price_usd", "low_price_usd"}),
	}).Create(&daily).Error
}
