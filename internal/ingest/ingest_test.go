package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/anselmolaurindo/chainindexer/internal/ammstate"
	"github.com/anselmolaurindo/chainindexer/internal/bcstate"
	"github.com/anselmolaurindo/chainindexer/internal/decode"
	"github.com/anselmolaurindo/chainindexer/internal/lifecycle"
	"github.com/anselmolaurindo/chainindexer/internal/models"
	"github.com/anselmolaurindo/chainindexer/internal/pipeline"
	"github.com/anselmolaurindo/chainindexer/internal/pricing"
	"github.com/anselmolaurindo/chainindexer/internal/router"
	"github.com/anselmolaurindo/chainindexer/internal/wire"
)

const testBCProgram = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
const testAMMProgram = "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"

type testMint struct {
	models.Mint
	ID string `gorm:"type:uuid;primaryKey"`
}
type testAmmPool struct {
	models.AmmPool
	ID string `gorm:"type:uuid;primaryKey"`
}
type testLiquidityEvent struct {
	models.LiquidityEvent
	ID string `gorm:"type:uuid;primaryKey"`
}
type testFeeEvent struct {
	models.FeeEvent
	ID string `gorm:"type:uuid;primaryKey"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for table, model := range map[string]interface{}{
		"mints":            &testMint{},
		"amm_pools":        &testAmmPool{},
		"liquidity_events": &testLiquidityEvent{},
		"fee_events":       &testFeeEvent{},
	} {
		if err := db.Table(table).AutoMigrate(model); err != nil {
			t.Fatalf("migrate %s: %v", table, err)
		}
	}
	return db
}

type fakeSeen struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeSeen) SeenOrMark(sig string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	already := f.seen[sig]
	f.seen[sig] = true
	return already
}

type fakePersister struct {
	mu     sync.Mutex
	trades []models.Trade
}

func (f *fakePersister) EnqueueTrade(t models.Trade) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, t)
}

func (f *fakePersister) all() []models.Trade {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Trade, len(f.trades))
	copy(out, f.trades)
	return out
}

type fakeResolver struct{}

func (fakeResolver) ResolveMintID(address string) (string, bool) {
	return address + "-id", false
}

type fakeQuoteSource struct{ price float64 }

func (f fakeQuoteSource) SolUSD(ctx context.Context) (float64, error) {
	return f.price, nil
}

func newTestProcessor(t *testing.T) (*Processor, *gorm.DB, *fakePersister) {
	t.Helper()
	db := newTestDB(t)
	r := router.New(zap.NewNop().Sugar())
	t.Cleanup(r.Close)

	persister := &fakePersister{}
	pl := pipeline.New(r, persister, &fakeSeen{}, fakeResolver{}, 8888, 8888)

	pricingEngine := pricing.NewEngine(fakeQuoteSource{price: 100}, 30, 1_000_000_000)
	if err := pricingEngine.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	proc := New(Config{Programs: decode.Programs{BC: testBCProgram, AMM: testAMMProgram}}, Deps{
		DB:        db,
		Log:       zap.NewNop().Sugar(),
		Router:    r,
		Lifecycle: lifecycle.NewEngine(lifecycle.Config{AbandonmentWindow: time.Hour, AbandonmentMinTrades: 2, GraduationResolutionWindow: time.Hour}, nil),
		BCStore:   bcstate.NewStore(),
		AMMStore:  ammstate.NewStore(),
		Pricing:   pricingEngine,
		Pipeline:  pl,
	})
	return proc, db, persister
}

func buyInstructionData(amount, maxSolCost uint64) []byte {
	data := make([]byte, 24)
	copy(data[0:8], []byte{102, 6, 61, 18, 1, 218, 235, 234})
	putUint64LE(data[8:16], amount)
	putUint64LE(data[16:24], maxSolCost)
	return data
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func TestHandleTxBCBuyPricesFromSeededReservesAndCrossesThreshold(t *testing.T) {
	proc, _, persister := newTestProcessor(t)
	proc.deps.BCStore.Seed("curve1", "mint1", 30_000_000_000, 150_000_000_000_000, false, 0)

	tx := &wire.RawTx{
		Signature:    "sig1",
		Slot:         100,
		AccountKeys:  []string{"feePayer", "global", "mint1", "curve1", "abc", "user_ata", "feePayer"},
		PreBalances:  []uint64{10_000_000_000, 0, 0, 0, 0, 0, 10_000_000_000},
		PostBalances: []uint64{9_000_000_000, 0, 0, 0, 0, 0, 9_000_000_000},
		Instructions: []wire.RawInstruction{
			{
				ProgramID: testBCProgram,
				Accounts:  []string{"global", "feeRecipient", "mint1", "curve1", "abc", "user_ata", "feePayer"},
				Data:      buyInstructionData(5_000_000_000, 1_000_000_000),
			},
		},
	}

	proc.HandleTx(tx)

	trades := persister.all()
	if len(trades) != 1 {
		t.Fatalf("expected 1 persisted trade, got %d", len(trades))
	}
	trade := trades[0]
	if trade.PriceUsd <= 0 {
		t.Fatalf("expected positive price, got %v", trade.PriceUsd)
	}
	if trade.MarketCapUsd < 8888 {
		t.Fatalf("expected market cap above threshold, got %v", trade.MarketCapUsd)
	}

	// reserves should have moved after the trade applied its delta.
	curve, ok := proc.deps.BCStore.Get("curve1")
	if !ok {
		t.Fatal("expected curve to remain tracked")
	}
	if curve.Snapshot().VirtualSolReserves == 30_000_000_000 {
		t.Fatal("expected reserves to update after trade")
	}
}

func TestHandleTxFailedTransactionIsSkipped(t *testing.T) {
	proc, _, persister := newTestProcessor(t)

	tx := &wire.RawTx{
		Signature: "sigfail",
		Slot:      1,
		Failed:    true,
		Instructions: []wire.RawInstruction{
			{ProgramID: testBCProgram, Accounts: []string{"global", "fee", "mint1", "curve1"}, Data: buyInstructionData(1, 1)},
		},
	}
	proc.HandleTx(tx)

	if len(persister.all()) != 0 {
		t.Fatal("expected failed transaction to be skipped entirely")
	}
}

func ammBuyInstructionData(amountIn, minOut uint64) []byte {
	data := make([]byte, 24)
	copy(data[0:8], []byte{102, 6, 61, 18, 1, 218, 235, 234})
	putUint64LE(data[8:16], amountIn)
	putUint64LE(data[16:24], minOut)
	return data
}

func ammSellInstructionData(amountIn, minOut uint64) []byte {
	data := ammBuyInstructionData(amountIn, minOut)
	copy(data[0:8], []byte{51, 230, 133, 164, 1, 127, 131, 173})
	return data
}

// seedAmmPool inserts a pool row directly, the same shortcut handlePoolCreated
// would otherwise require a prior CreatePool instruction to reach.
func seedAmmPool(t *testing.T, db *gorm.DB, pool *models.AmmPool) {
	t.Helper()
	if err := db.Create(pool).Error; err != nil {
		t.Fatalf("seed amm pool: %v", err)
	}
}

// TestHandleTxAMMSellAppliesOppositeReserveDirectionFromBuy exercises a buy
// followed by a sell against the same pool and checks the base reserve moves
// in opposite directions, the corruption a hardcoded buy side would produce.
func TestHandleTxAMMSellAppliesOppositeReserveDirectionFromBuy(t *testing.T) {
	proc, db, _ := newTestProcessor(t)
	proc.deps.AMMStore.CreatePool("pool1", "", "baseMint1", "quoteMint1", 1_000_000_000, 1_000_000_000, 30, 0)
	seedAmmPool(t, db, &models.AmmPool{PoolAddress: "pool1", BaseMint: "baseMint1", QuoteMint: "quoteMint1", FeeBps: 30})

	accounts := []string{"pool1", "baseVault", "quoteVault", "userBase", "userQuote", "trader1"}

	buyTx := &wire.RawTx{
		Signature:   "sig-amm-buy",
		Slot:        300,
		AccountKeys: accounts,
		Instructions: []wire.RawInstruction{
			{ProgramID: testAMMProgram, Accounts: accounts, Data: ammBuyInstructionData(1_000_000, 1)},
		},
	}
	proc.HandleTx(buyTx)
	afterBuy, _ := proc.deps.AMMStore.Get("pool1")
	buyBaseReserve := afterBuy.Snapshot().BaseReserve

	sellTx := &wire.RawTx{
		Signature:   "sig-amm-sell",
		Slot:        301,
		AccountKeys: accounts,
		Instructions: []wire.RawInstruction{
			{ProgramID: testAMMProgram, Accounts: accounts, Data: ammSellInstructionData(1_000_000, 1)},
		},
	}
	proc.HandleTx(sellTx)
	afterSell, _ := proc.deps.AMMStore.Get("pool1")
	sellBaseReserve := afterSell.Snapshot().BaseReserve

	seedReserve := int64(1_000_000_000)
	buyDelta := buyBaseReserve - seedReserve
	sellDelta := sellBaseReserve - buyBaseReserve
	if buyDelta >= 0 {
		t.Fatalf("expected a buy to decrease the base reserve, moved by %d", buyDelta)
	}
	if sellDelta <= 0 {
		t.Fatalf("expected a sell to increase the base reserve, moved by %d", sellDelta)
	}
}

// TestRecordFeeDedupesBySignatureOnReplay exercises the at-least-once
// replay guarantee: handling the identical swap twice (the recovery
// subsystem's bounded replay can resubmit a transaction already processed by
// the live stream) must not double-count its LP fee.
func TestRecordFeeDedupesBySignatureOnReplay(t *testing.T) {
	proc, db, _ := newTestProcessor(t)
	proc.deps.AMMStore.CreatePool("pool1", "", "baseMint1", "quoteMint1", 1_000_000_000, 1_000_000_000, 30, 0)
	seedAmmPool(t, db, &models.AmmPool{PoolAddress: "pool1", BaseMint: "baseMint1", QuoteMint: "quoteMint1", FeeBps: 30})

	accounts := []string{"pool1", "baseVault", "quoteVault", "userBase", "userQuote", "trader1"}
	tx := &wire.RawTx{
		Signature:   "sig-amm-replayed",
		Slot:        300,
		AccountKeys: accounts,
		Instructions: []wire.RawInstruction{
			{ProgramID: testAMMProgram, Accounts: accounts, Data: ammBuyInstructionData(1_000_000, 1)},
		},
	}

	proc.HandleTx(tx)
	proc.HandleTx(tx)

	var count int64
	db.Table("fee_events").Where("signature = ?", "sig-amm-replayed").Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly 1 fee event after a replayed swap, got %d", count)
	}
}

// TestHandleFeeCollectedPersistsCreatorAndProtocolShares exercises the
// decoded collect-fee instructions end to end, distinct from the LP-share
// estimate recorded off a swap.
func TestHandleFeeCollectedPersistsCreatorAndProtocolShares(t *testing.T) {
	proc, db, _ := newTestProcessor(t)
	seedAmmPool(t, db, &models.AmmPool{PoolAddress: "pool1", BaseMint: "baseMint1", QuoteMint: "quoteMint1", FeeBps: 30})

	creatorData := make([]byte, 16)
	copy(creatorData[0:8], []byte{160, 57, 89, 42, 181, 139, 43, 66})
	putUint64LE(creatorData[8:16], 777)

	tx := &wire.RawTx{
		Signature:   "sig-collect-creator",
		Slot:        500,
		AccountKeys: []string{"pool1", "creator1"},
		Instructions: []wire.RawInstruction{
			{ProgramID: testAMMProgram, Accounts: []string{"pool1", "creator1"}, Data: creatorData},
		},
	}
	proc.HandleTx(tx)

	var fee models.FeeEvent
	if err := db.Where("signature = ?", "sig-collect-creator").First(&fee).Error; err != nil {
		t.Fatalf("expected a persisted fee event: %v", err)
	}
	if fee.Kind != "creator" || fee.FeeAmount != 777 || fee.Recipient != "creator1" || fee.FeeMint != "quoteMint1" {
		t.Fatalf("unexpected fee event: %+v", fee)
	}
}

func TestHandleTxSandwichFlagsSecondOppositeTradeSameSlot(t *testing.T) {
	proc, _, persister := newTestProcessor(t)
	proc.deps.BCStore.Seed("curve1", "mint1", 30_000_000_000, 150_000_000_000_000, false, 0)

	makeTx := func(sig, trader string, isBuy bool, quoteArg uint64) *wire.RawTx {
		data := buyInstructionData(1_000_000_000, quoteArg)
		if !isBuy {
			copy(data[0:8], []byte{51, 230, 133, 164, 1, 127, 131, 173}) // sell discriminator
		}
		return &wire.RawTx{
			Signature:    sig,
			Slot:         1000,
			AccountKeys:  []string{trader, "global", "mint1", "curve1", "abc", "user_ata", trader},
			PreBalances:  []uint64{50_000_000_000, 0, 0, 0, 0, 0, 50_000_000_000},
			PostBalances: []uint64{1_000_000_000, 0, 0, 0, 0, 0, 1_000_000_000},
			Instructions: []wire.RawInstruction{
				{ProgramID: testBCProgram, Accounts: []string{"global", "fee", "mint1", "curve1", "abc", "user_ata", trader}, Data: data},
			},
		}
	}

	proc.HandleTx(makeTx("sigA", "attacker", true, 50_000_000_000))
	proc.HandleTx(makeTx("sigV", "victim", false, 5_000_000_000))

	trades := persister.all()
	if len(trades) != 2 {
		t.Fatalf("expected 2 persisted trades, got %d", len(trades))
	}
	if !trades[1].PossibleSandwich {
		t.Fatal("expected second opposite-side same-slot trade to be flagged possible sandwich")
	}
}
