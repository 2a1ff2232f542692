// Package ingest is the per-transaction orchestrator: it runs wire.RawTx
// through decode.Parse, prices the resulting trades off the live
// bonding-curve/AMM reserve stores, updates the lifecycle state machine,
// and hands everything off to the trade pipeline and durability layer.
// This is the glue the stream session and recovery subsystem both call
// into, generalizing the teacher's single-handler market_parser.go
// dispatch into a multi-stage pipeline.
package ingest

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/anselmolaurindo/chainindexer/internal/ammstate"
	"github.com/anselmolaurindo/chainindexer/internal/bcstate"
	"github.com/anselmolaurindo/chainindexer/internal/decode"
	"github.com/anselmolaurindo/chainindexer/internal/lifecycle"
	"github.com/anselmolaurindo/chainindexer/internal/lpcalc"
	"github.com/anselmolaurindo/chainindexer/internal/models"
	"github.com/anselmolaurindo/chainindexer/internal/pipeline"
	"github.com/anselmolaurindo/chainindexer/internal/pricing"
	"github.com/anselmolaurindo/chainindexer/internal/router"
	"github.com/anselmolaurindo/chainindexer/internal/wire"
)

// Config tunes sandwich detection and protocol fee attribution.
type Config struct {
	Programs               decode.Programs
	SandwichRatioThreshold float64
	ProtocolFeeBps         int32
	FeeBpsDefault          int32
}

// Deps bundles every component the processor dispatches decoded events to.
type Deps struct {
	DB        *gorm.DB
	Log       *zap.SugaredLogger
	Router    *router.Router
	Lifecycle *lifecycle.Engine
	BCStore   *bcstate.Store
	AMMStore  *ammstate.Store
	Pricing   *pricing.Engine
	Pipeline  *pipeline.Pipeline
}

// Processor turns decoded transactions into priced, persisted trades.
type Processor struct {
	cfg  Config
	deps Deps

	mu           sync.Mutex
	lastByMint   map[string]decode.TradeEvent
	mintDecimals sync.Map // address -> int16, cached from the mints table
}

// New builds a Processor.
func New(cfg Config, deps Deps) *Processor {
	if cfg.SandwichRatioThreshold <= 0 {
		cfg.SandwichRatioThreshold = 3.0
	}
	if cfg.FeeBpsDefault <= 0 {
		cfg.FeeBpsDefault = 30
	}
	return &Processor{
		cfg:        cfg,
		deps:       deps,
		lastByMint: make(map[string]decode.TradeEvent),
	}
}

// HandleTx decodes and dispatches one normalized transaction. Failed
// transactions (anchor program errors) are skipped: they moved no reserves.
func (p *Processor) HandleTx(tx *wire.RawTx) {
	if tx.Failed {
		return
	}

	res := decode.Parse(tx, p.cfg.Programs)
	for _, g := range res.Graduations {
		p.handleGraduation(g)
	}
	for _, pc := range res.PoolsCreated {
		p.handlePoolCreated(pc)
	}
	for _, liq := range res.LiquidityEvents {
		p.handleLiquidity(liq)
	}
	for _, fee := range res.FeesCollected {
		p.handleFeeCollected(fee)
	}
	for _, ev := range res.Trades {
		p.handleTrade(ev)
	}
}

func blockTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

func (p *Processor) decimalsFor(mint string) int16 {
	if v, ok := p.mintDecimals.Load(mint); ok {
		return v.(int16)
	}
	var m models.Mint
	decimals := int16(6)
	if err := p.deps.DB.Where("address = ?", mint).First(&m).Error; err == nil && m.Decimals > 0 {
		decimals = m.Decimals
	}
	p.mintDecimals.Store(mint, decimals)
	return decimals
}

func (p *Processor) handleTrade(ev decode.TradeEvent) {
	priceUSD, marketCapUSD := p.priceAndMarketCap(ev)
	sandwich := p.detectSandwich(ev)

	p.deps.Pipeline.Process(ev, priceUSD, marketCapUSD, ev.ParseConfidence, sandwich)

	at := blockTime(ev.BlockTimeMS)
	if ev.Venue == decode.VenueBC {
		p.deps.Lifecycle.ObserveBCTrade(ev.Mint, ev.Curve, ev.Slot, at)
	}
}

// priceAndMarketCap reads the pre-trade reserve snapshot for pricing (the
// reserves the trade executed against), then applies the trade's delta so
// the next observation prices off the post-trade state.
func (p *Processor) priceAndMarketCap(ev decode.TradeEvent) (priceUSD, marketCapUSD float64) {
	decimals := p.decimalsFor(ev.Mint)

	switch ev.Venue {
	case decode.VenueBC:
		if ev.Curve == "" {
			return 0, 0
		}
		curve := p.deps.BCStore.GetOrCreate(ev.Curve, ev.Mint)
		snap := curve.Snapshot()

		scaled, err := pricing.BondingCurvePriceLamports(pricing.BondingCurveQuote{
			VirtualSolReserves: snap.VirtualSolReserves, VirtualTokenReserves: snap.VirtualTokenReserves, TokenDecimals: decimals,
		})
		if err == nil {
			priceUSD, marketCapUSD = p.toUSD(scaled, ev.Mint)
		}

		curve.ApplyTrade(ev.Side == models.TradeSideBuy, ev.QuoteAmount, ev.BaseAmount, ev.Slot)
		return priceUSD, marketCapUSD

	case decode.VenueAMM:
		pool, ok := p.deps.AMMStore.Get(ev.Pool)
		if !ok {
			return 0, 0
		}
		snap := pool.Snapshot()

		scaled, err := pricing.AmmPriceLamports(snap.BaseReserve, snap.QuoteReserve, decimals)
		if err == nil {
			priceUSD, marketCapUSD = p.toUSD(scaled, ev.Mint)
		}

		// buy: pool gives up base, takes in quote. sell: the reverse.
		baseDelta, quoteDelta := ev.BaseAmount, -ev.QuoteAmount
		if ev.Side == models.TradeSideBuy {
			baseDelta, quoteDelta = -ev.BaseAmount, ev.QuoteAmount
		}
		pool.ApplySwap(baseDelta, quoteDelta, ev.Slot)

		p.recordFee(pool.Snapshot(), ev)
		return priceUSD, marketCapUSD
	}
	return 0, 0
}

func (p *Processor) toUSD(priceScaled int64, mint string) (priceUSD, marketCapUSD float64) {
	priceUSD, err := p.deps.Pricing.TradeUSD(priceScaled)
	if err != nil {
		return 0, 0
	}
	var m models.Mint
	supply := int64(0)
	if err := p.deps.DB.Where("address = ?", mint).First(&m).Error; err == nil {
		supply = m.TotalSupply
	}
	marketCapUSD = p.deps.Pricing.MarketCapUSD(priceUSD, supply)
	return priceUSD, marketCapUSD
}

// detectSandwich compares ev against the last trade observed for the same
// mint, per pipeline.DetectSandwich's opposite-side-same-slot heuristic.
func (p *Processor) detectSandwich(ev decode.TradeEvent) bool {
	p.mu.Lock()
	prior, ok := p.lastByMint[ev.Mint]
	p.lastByMint[ev.Mint] = ev
	p.mu.Unlock()

	if !ok {
		return false
	}
	return pipeline.DetectSandwich(prior, ev, p.cfg.SandwichRatioThreshold)
}

// recordFee persists the LP share of a swap's fee as estimated from the
// pool's feeBps, distinct from the creator/protocol shares actually swept by
// a CollectCoinCreatorFee/CollectProtocolFee instruction (handleFeeCollected).
func (p *Processor) recordFee(pool ammstate.Snapshot, ev decode.TradeEvent) {
	feeBps := pool.FeeBps
	if feeBps <= 0 {
		feeBps = p.cfg.FeeBpsDefault
	}
	totalFee := ev.QuoteAmount * int64(feeBps) / 10_000
	if totalFee <= 0 {
		return
	}
	lpShare, _ := lpcalc.AttributeFee(totalFee, p.cfg.ProtocolFeeBps)

	poolID := p.poolIDFor(ev.Pool)
	if poolID == "" {
		return
	}
	fee := models.FeeEvent{
		PoolID:      poolID,
		Signature:   ev.Signature,
		Kind:        "lp",
		FeeAmount:   lpShare,
		QuoteAmount: ev.QuoteAmount,
		FeeMint:     ev.Mint,
		Slot:        ev.Slot,
		BlockTime:   blockTime(ev.BlockTimeMS),
	}
	if err := p.deps.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signature"}},
		DoNothing: true,
	}).Create(&fee).Error; err != nil {
		p.deps.Log.Warnw("ingest: failed to record fee event", "pool", ev.Pool, "error", err)
	}
}

// handleFeeCollected persists a decoded creator/protocol fee sweep, keyed by
// signature like every other at-least-once-replayed write in this processor.
func (p *Processor) handleFeeCollected(ev decode.FeeCollectedEvent) {
	var pool models.AmmPool
	if err := p.deps.DB.Where("pool_address = ?", ev.Pool).First(&pool).Error; err != nil {
		return
	}
	fee := models.FeeEvent{
		PoolID:      pool.ID,
		Signature:   ev.Signature,
		Kind:        ev.Kind,
		FeeAmount:   ev.Amount,
		QuoteAmount: ev.Amount,
		FeeMint:     pool.QuoteMint,
		Recipient:   ev.Recipient,
		Slot:        ev.Slot,
		BlockTime:   time.Now(),
	}
	if err := p.deps.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signature"}},
		DoNothing: true,
	}).Create(&fee).Error; err != nil {
		p.deps.Log.Warnw("ingest: failed to record collected fee event", "pool", ev.Pool, "error", err)
	}
}

func (p *Processor) poolIDFor(address string) string {
	var pool models.AmmPool
	if err := p.deps.DB.Where("pool_address = ?", address).First(&pool).Error; err != nil {
		return ""
	}
	return pool.ID
}

func (p *Processor) handleGraduation(g decode.GraduationEvent) {
	curve, ok := p.deps.BCStore.Get(g.Curve)
	if ok {
		curve.MarkComplete(g.Slot)
	}
	at := time.Now()
	p.deps.Lifecycle.ObserveBCComplete(g.Curve, g.Signature, g.Slot, at)
}

func (p *Processor) handlePoolCreated(pc decode.PoolCreatedEvent) {
	pool := p.deps.AMMStore.CreatePool(pc.Pool, "", pc.BaseMint, pc.QuoteMint, 0, 0, p.cfg.FeeBpsDefault, pc.Slot)
	_ = pool

	var mint models.Mint
	if err := p.deps.DB.Where("address = ?", pc.BaseMint).First(&mint).Error; err == nil {
		p.deps.Lifecycle.ObservePoolCreated(mint.Address, pc.Slot, time.Now())
	}

	ammRow := models.AmmPool{
		PoolAddress: pc.Pool, BaseMint: pc.BaseMint, QuoteMint: pc.QuoteMint,
		FeeBps: p.cfg.FeeBpsDefault, LastSlot: pc.Slot,
	}
	if mint.ID != "" {
		ammRow.MintID = mint.ID
	}
	if err := p.deps.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pool_address"}},
		DoNothing: true,
	}).Create(&ammRow).Error; err != nil {
		p.deps.Log.Warnw("ingest: failed to persist amm pool", "pool", pc.Pool, "error", err)
	}
}

func (p *Processor) handleLiquidity(liq decode.LiquidityEvent) {
	pool, ok := p.deps.AMMStore.Get(liq.Pool)
	if !ok {
		pool = p.deps.AMMStore.CreatePool(liq.Pool, "", "", "", 0, 0, p.cfg.FeeBpsDefault, liq.Slot)
	}

	var lpAmount int64
	switch liq.Kind {
	case "deposit":
		lpAmount = pool.ApplyDeposit(liq.BaseAmount, liq.QuoteAmount, liq.Slot)
	case "withdraw":
		_, _ = pool.ApplyWithdraw(liq.LPTokenAmount, liq.Slot)
		lpAmount = liq.LPTokenAmount
	}

	poolID := p.poolIDFor(liq.Pool)
	if poolID == "" {
		return
	}
	row := models.LiquidityEvent{
		PoolID: poolID, Signature: liq.Signature, Provider: liq.Trader, Kind: liq.Kind,
		BaseAmount: liq.BaseAmount, QuoteAmount: liq.QuoteAmount, LPTokenAmount: lpAmount, Slot: liq.Slot,
	}
	if err := p.deps.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signature"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		p.deps.Log.Warnw("ingest: failed to persist liquidity event", "signature", liq.Signature, "error", err)
	}
}
