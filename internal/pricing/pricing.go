// Package pricing derives USD price and market cap from bonding-curve and
// AMM reserve state. All reserve math runs through math/big to avoid the
// rounding drift native float64 division would introduce at lamport scale,
// the same discipline pump-go-sdk's quote package applies to its spot-price
// helpers.
package pricing

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrPriceUnavailable is returned when no SOL/USD quote has been observed yet.
// Callers persist trades without USD fields rather than blocking on it.
var ErrPriceUnavailable = errors.New("pricing: sol/usd price unavailable")

const lamportsPerSol = 1_000_000_000

// priceScale is the fixed-point scale used for intermediate big.Int price
// ratios (matches the 1e9 scale pump-go-sdk's quote.go uses for spot prices).
var priceScale = big.NewInt(1_000_000_000)

// QuoteSource supplies the current SOL/USD price. Production wiring polls an
// HTTP price feed; tests use a deterministic in-memory fake, mirroring the
// way the teacher's blockchain.SolanaClient is swapped for fakes in tests.
type QuoteSource interface {
	SolUSD(ctx context.Context) (float64, error)
}

// Engine caches the latest SOL/USD quote and derives trade pricing from
// reserve snapshots.
type Engine struct {
	mu          sync.RWMutex
	solUSD      float64
	haveQuote   bool
	lastQuoted  time.Time
	source      QuoteSource
	limiter     *rate.Limiter
	defaultSupply int64
}

// NewEngine builds a pricing Engine polling source no faster than
// ratePerMinute requests/minute, matching the spec's 30 req/min SOL/USD cap.
func NewEngine(source QuoteSource, ratePerMinute int, defaultSupply int64) *Engine {
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &Engine{
		source:        source,
		limiter:       rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), ratePerMinute),
		defaultSupply: defaultSupply,
	}
}

// Refresh polls the quote source if the token bucket allows it. Called on a
// ticker by the caller (stream or cmd/indexer wiring); a denied request is
// not an error, it just skips this tick.
func (e *Engine) Refresh(ctx context.Context) error {
	if !e.limiter.Allow() {
		return nil
	}

	price, err := e.source.SolUSD(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.solUSD = price
	e.haveQuote = true
	e.lastQuoted = time.Now()
	e.mu.Unlock()
	return nil
}

// SolUSD returns the last cached SOL/USD quote.
func (e *Engine) SolUSD() (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.haveQuote {
		return 0, ErrPriceUnavailable
	}
	return e.solUSD, nil
}

// BondingCurveQuote is the reserve state needed to price a pump.fun-style
// bonding curve, expressed in raw lamports/base units. TokenDecimals
// defaults to 6 (pump.fun's standard) when left zero.
type BondingCurveQuote struct {
	VirtualSolReserves   int64
	VirtualTokenReserves int64
	TokenDecimals        int16
}

// BondingCurvePriceLamports returns price_sol scaled by priceScale (1e9),
// per spec.md §4.3: price_sol = (r_sol/1e9) / (r_tok/10^decimals). All
// intermediate math runs through math/big to avoid float rounding at
// lamport scale.
func BondingCurvePriceLamports(q BondingCurveQuote) (int64, error) {
	if q.VirtualTokenReserves <= 0 {
		return 0, errors.New("pricing: bonding curve has zero token reserves")
	}
	decimals := q.TokenDecimals
	if decimals <= 0 {
		decimals = 6
	}

	num := new(big.Int).Mul(big.NewInt(q.VirtualSolReserves), pow10(decimals))
	num.Mul(num, priceScale)
	denom := new(big.Int).Mul(big.NewInt(q.VirtualTokenReserves), big.NewInt(lamportsPerSol))
	if denom.Sign() == 0 {
		return 0, errors.New("pricing: bonding curve has zero sol reserves")
	}
	return new(big.Int).Div(num, denom).Int64(), nil
}

func pow10(n int16) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// TokensOutForBuy computes the token output for a SOL input against a
// bonding curve, per spec: tokens_out = sol_in*virtual_token_reserves /
// (virtual_sol_reserves + sol_in).
func TokensOutForBuy(solInLamports int64, q BondingCurveQuote) int64 {
	solIn := new(big.Int).SetInt64(solInLamports)
	tokenReserves := new(big.Int).SetInt64(q.VirtualTokenReserves)
	solReserves := new(big.Int).SetInt64(q.VirtualSolReserves)

	numerator := new(big.Int).Mul(solIn, tokenReserves)
	denominator := new(big.Int).Add(solReserves, solIn)
	if denominator.Sign() == 0 {
		return 0
	}
	return new(big.Int).Div(numerator, denominator).Int64()
}

// SolOutForSell computes the SOL output for a token input against a bonding
// curve: sol_out = token_in*virtual_sol_reserves / (virtual_token_reserves + token_in).
func SolOutForSell(tokenInBaseUnits int64, q BondingCurveQuote) int64 {
	tokenIn := new(big.Int).SetInt64(tokenInBaseUnits)
	tokenReserves := new(big.Int).SetInt64(q.VirtualTokenReserves)
	solReserves := new(big.Int).SetInt64(q.VirtualSolReserves)

	numerator := new(big.Int).Mul(tokenIn, solReserves)
	denominator := new(big.Int).Add(tokenReserves, tokenIn)
	if denominator.Sign() == 0 {
		return 0
	}
	return new(big.Int).Div(numerator, denominator).Int64()
}

// AmmPriceLamports returns price_sol scaled by priceScale (1e9), per
// spec.md §4.3 with quote always SOL: price_sol = (quote_reserve/1e9) /
// (base_reserve/10^decimals). baseDecimals defaults to 6 when <= 0.
func AmmPriceLamports(baseReserve, quoteReserve int64, baseDecimals int16) (int64, error) {
	if baseReserve <= 0 {
		return 0, errors.New("pricing: pool has zero base reserves")
	}
	if baseDecimals <= 0 {
		baseDecimals = 6
	}

	num := new(big.Int).Mul(big.NewInt(quoteReserve), pow10(baseDecimals))
	num.Mul(num, priceScale)
	denom := new(big.Int).Mul(big.NewInt(baseReserve), big.NewInt(lamportsPerSol))
	if denom.Sign() == 0 {
		return 0, errors.New("pricing: pool has zero quote reserves")
	}
	return new(big.Int).Div(num, denom).Int64(), nil
}

// TradeUSD converts a lamport-scaled price (per priceScale) and a SOL/USD
// quote into a USD price per whole token.
func (e *Engine) TradeUSD(priceLamportsScaled int64) (float64, error) {
	solUSD, err := e.SolUSD()
	if err != nil {
		return 0, err
	}
	solAmount := float64(priceLamportsScaled) / float64(priceScale.Int64())
	return solAmount * solUSD, nil
}

// MarketCapUSD multiplies a per-token USD price by total supply (in whole
// token units), falling back to the engine's configured default supply when
// a mint's supply is not yet known.
func (e *Engine) MarketCapUSD(priceUSD float64, totalSupply int64) float64 {
	supply := totalSupply
	if supply <= 0 {
		supply = e.defaultSupply
	}
	return priceUSD * float64(supply)
}
