package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

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

func sellInstructionData(amount, minSolOutput uint64) []byte {
	data := buyInstructionData(amount, minSolOutput)
	copy(data[0:8], []byte{51, 230, 133, 164, 1, 127, 131, 173})
	return data
}

func withdrawInstructionDataOnlyCurve() []byte {
	return []byte{183, 18, 70, 156, 148, 109, 161, 34}
}

// waitFor polls until cond reports true or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition was never satisfied")
}

// TestHandleTxBCBuyBelowThresholdOnlyEmitsDiagnostic exercises a trade whose
// market cap never crosses the save threshold: nothing is persisted, and the
// only externally visible effect is the diagnostic monitor:trade_observed event.
func TestHandleTxBCBuyBelowThresholdOnlyEmitsDiagnostic(t *testing.T) {
	db := newTestDB(t)
	r := router.New(zap.NewNop().Sugar())
	t.Cleanup(r.Close)

	persister := &fakePersister{}
	pl := pipeline.New(r, persister, &fakeSeen{}, fakeResolver{}, 1_000_000_000_000, 1_000_000_000_000)

	pricingEngine := pricing.NewEngine(fakeQuoteSource{price: 1}, 30, 1_000_000_000)
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
	proc.deps.BCStore.Seed("curve1", "mint1", 30_000_000_000, 150_000_000_000_000, false, 0)

	var mu sync.Mutex
	var observed int
	r.Subscribe(pipeline.TopicTradeObserved, func(ev router.Event) {
		mu.Lock()
		observed++
		mu.Unlock()
	})

	tx := &wire.RawTx{
		Signature:    "sig-below",
		Slot:         100,
		AccountKeys:  []string{"feePayer", "global", "mint1", "curve1", "abc", "user_ata", "feePayer"},
		PreBalances:  []uint64{10_000_000_000, 0, 0, 0, 0, 0, 10_000_000_000},
		PostBalances: []uint64{9_999_999_000, 0, 0, 0, 0, 0, 9_999_999_000},
		Instructions: []wire.RawInstruction{
			{
				ProgramID: testBCProgram,
				Accounts:  []string{"global", "feeRecipient", "mint1", "curve1", "abc", "user_ata", "feePayer"},
				Data:      buyInstructionData(1_000, 500),
			},
		},
	}
	proc.HandleTx(tx)

	if len(persister.all()) != 0 {
		t.Fatalf("expected no persisted trade below threshold, got %d", len(persister.all()))
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return observed == 1
	})
}

// TestHandleGraduationResolvesOncePriorBuyEstablishesCurveMintMapping covers
// the curve<->mint resolution path: a BC buy teaches the lifecycle engine the
// curve<->mint binding, and a later bare Withdraw (only the curve account) is
// resolved to that mint's Bonding -> Migrating transition, with no pending
// graduation left unresolved.
func TestHandleGraduationResolvesOncePriorBuyEstablishesCurveMintMapping(t *testing.T) {
	proc, _, persister := newTestProcessor(t)
	proc.deps.BCStore.Seed("curve1", "mint1", 30_000_000_000, 150_000_000_000_000, false, 0)

	buyTx := &wire.RawTx{
		Signature:    "sig-buy",
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
	proc.HandleTx(buyTx)
	if len(persister.all()) != 1 {
		t.Fatalf("expected the buy to persist, got %d trades", len(persister.all()))
	}

	state, ok := proc.deps.Lifecycle.State("mint1")
	if !ok || state != models.LifecycleBonding {
		t.Fatalf("expected mint1 to be Bonding after its first buy, got %v (known=%v)", state, ok)
	}

	withdrawTx := &wire.RawTx{
		Signature:   "sig-withdraw",
		Slot:        200,
		AccountKeys: []string{"feePayer", "curve1"},
		Instructions: []wire.RawInstruction{
			{
				ProgramID: testBCProgram,
				Accounts:  []string{"curve1"},
				Data:      withdrawInstructionDataOnlyCurve(),
			},
		},
	}
	proc.HandleTx(withdrawTx)

	state, ok = proc.deps.Lifecycle.State("mint1")
	if !ok || state != models.LifecycleMigrating {
		t.Fatalf("expected mint1 to transition to Migrating after the withdraw, got %v (known=%v)", state, ok)
	}
	if pending := proc.deps.Lifecycle.PendingGraduations(time.Now().Add(24 * time.Hour)); len(pending) != 0 {
		t.Fatalf("expected no unresolved pending graduations, got %v", pending)
	}
}

// TestHandleTxSandwichThreeTradeSameSlotAttackerVictimAttacker exercises the
// full three-leg sandwich pattern in one slot: an attacker buy, a victim
// buy, and the attacker's closing sell. Every leg persists and publishes
// bc:trade; the detector is a pairwise last-trade-per-mint proxy, so it
// flags the closing sell against the victim's buy (opposite sides, same
// slot, moved-in-proportion reserves), not the two same-side buys.
func TestHandleTxSandwichThreeTradeSameSlotAttackerVictimAttacker(t *testing.T) {
	proc, _, persister := newTestProcessor(t)
	proc.deps.BCStore.Seed("curve1", "mint1", 30_000_000_000, 150_000_000_000_000, false, 0)

	r := proc.deps.Router
	var mu sync.Mutex
	var bcTradeEvents int
	r.Subscribe(pipeline.TopicBCTrade, func(ev router.Event) {
		mu.Lock()
		bcTradeEvents++
		mu.Unlock()
	})

	makeTx := func(sig, trader string, data []byte) *wire.RawTx {
		return &wire.RawTx{
			Signature:    sig,
			Slot:         500,
			AccountKeys:  []string{trader, "global", "mint1", "curve1", "abc", "user_ata", trader},
			PreBalances:  []uint64{60_000_000_000, 0, 0, 0, 0, 0, 60_000_000_000},
			PostBalances: []uint64{10_000_000_000, 0, 0, 0, 0, 0, 10_000_000_000},
			Instructions: []wire.RawInstruction{
				{ProgramID: testBCProgram, Accounts: []string{"global", "fee", "mint1", "curve1", "abc", "user_ata", trader}, Data: data},
			},
		}
	}

	proc.HandleTx(makeTx("sig-attacker-buy", "attacker", buyInstructionData(1, 50_000_000_000)))
	proc.HandleTx(makeTx("sig-victim-buy", "victim", buyInstructionData(1, 10_000_000_000)))
	proc.HandleTx(makeTx("sig-attacker-sell", "attacker", sellInstructionData(1, 50_000_000_000)))

	trades := persister.all()
	if len(trades) != 3 {
		t.Fatalf("expected all 3 legs to persist, got %d", len(trades))
	}
	if trades[0].PossibleSandwich {
		t.Fatal("expected the opening attacker buy to not be flagged")
	}
	if trades[1].PossibleSandwich {
		t.Fatal("expected the victim buy (same side as the prior trade) to not be flagged")
	}
	if !trades[2].PossibleSandwich {
		t.Fatal("expected the attacker's closing sell (opposite side, same slot, same mint) to be flagged possible sandwich")
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bcTradeEvents == 3
	})
}
