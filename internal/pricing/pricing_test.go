package pricing

import (
	"context"
	"testing"
)

type fakeQuoteSource struct {
	price float64
	err   error
}

func (f *fakeQuoteSource) SolUSD(ctx context.Context) (float64, error) {
	return f.price, f.err
}

func TestEngineRefreshAndSolUSD(t *testing.T) {
	src := &fakeQuoteSource{price: 150.25}
	e := NewEngine(src, 30, 1_000_000_000)

	if _, err := e.SolUSD(); err != ErrPriceUnavailable {
		t.Fatalf("expected ErrPriceUnavailable before first refresh, got %v", err)
	}

	if err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	got, err := e.SolUSD()
	if err != nil {
		t.Fatalf("SolUSD: %v", err)
	}
	if got != 150.25 {
		t.Fatalf("expected 150.25, got %v", got)
	}
}

func TestBondingCurvePriceLamports(t *testing.T) {
	q := BondingCurveQuote{VirtualSolReserves: 30_000_000_000, VirtualTokenReserves: 1_073_000_000_000_000}
	price, err := BondingCurvePriceLamports(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price <= 0 {
		t.Fatalf("expected positive price, got %d", price)
	}
}

func TestBondingCurvePriceLamportsZeroReserves(t *testing.T) {
	q := BondingCurveQuote{VirtualSolReserves: 100, VirtualTokenReserves: 0}
	if _, err := BondingCurvePriceLamports(q); err == nil {
		t.Fatal("expected error for zero token reserves")
	}
}

func TestTokensOutForBuyMatchesSellInverse(t *testing.T) {
	q := BondingCurveQuote{VirtualSolReserves: 30_000_000_000, VirtualTokenReserves: 1_073_000_000_000_000}

	tokensOut := TokensOutForBuy(1_000_000_000, q)
	if tokensOut <= 0 {
		t.Fatalf("expected positive tokens out, got %d", tokensOut)
	}

	// Selling back roughly what we bought should return less SOL than we
	// put in once updated reserves reflect the trade (constant-ish product
	// bonding curve with fees not modeled here), but the raw sell formula
	// applied to the pre-trade reserves must still produce a positive value.
	solOut := SolOutForSell(tokensOut, q)
	if solOut <= 0 {
		t.Fatalf("expected positive sol out, got %d", solOut)
	}
}

func TestAmmPriceLamportsZeroBase(t *testing.T) {
	if _, err := AmmPriceLamports(0, 100, 6); err == nil {
		t.Fatal("expected error for zero base reserve")
	}
}

func TestBondingCurvePriceLamportsMatchesSpecExample(t *testing.T) {
	// spec.md S1: reserves (30_000_000_000, 150_000_000_000_000), decimals 6
	// -> price_sol = 2e-7, scaled by 1e9 -> 200.
	q := BondingCurveQuote{VirtualSolReserves: 30_000_000_000, VirtualTokenReserves: 150_000_000_000_000, TokenDecimals: 6}
	price, err := BondingCurvePriceLamports(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 200 {
		t.Fatalf("expected scaled price 200 (price_sol=2e-7), got %d", price)
	}
}

func TestMarketCapUSDFallsBackToDefaultSupply(t *testing.T) {
	e := NewEngine(&fakeQuoteSource{price: 100}, 30, 1_000_000_000)
	mcap := e.MarketCapUSD(0.001, 0)
	if mcap != 1_000_000 {
		t.Fatalf("expected 1,000,000 using default supply, got %v", mcap)
	}
}
