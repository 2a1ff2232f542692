// Package lpcalc implements LP share valuation, impermanent-loss
// calculation, and LP-token mint/burn math for constant-product pools, per
// spec.md §4.7/§4.8.
package lpcalc

import "math/big"

// MintAmount computes LP tokens minted for a deposit of (baseIn, quoteIn)
// into a pool with current reserves/supply. The first deposit mints
// isqrt(base_in * quote_in); subsequent deposits mint proportionally to the
// smaller of the two implied shares.
func MintAmount(baseIn, quoteIn, baseReserve, quoteReserve, lpSupply int64) int64 {
	if lpSupply == 0 {
		return isqrt(baseIn * quoteIn)
	}
	if baseReserve <= 0 || quoteReserve <= 0 {
		return 0
	}

	fromBase := new(big.Int).Mul(big.NewInt(baseIn), big.NewInt(lpSupply))
	fromBase.Div(fromBase, big.NewInt(baseReserve))

	fromQuote := new(big.Int).Mul(big.NewInt(quoteIn), big.NewInt(lpSupply))
	fromQuote.Div(fromQuote, big.NewInt(quoteReserve))

	if fromBase.Cmp(fromQuote) < 0 {
		return fromBase.Int64()
	}
	return fromQuote.Int64()
}

// BurnAmounts computes the pro-rata base/quote released for burning lpBurn
// LP tokens against current reserves/supply.
func BurnAmounts(lpBurn, baseReserve, quoteReserve, lpSupply int64) (base, quote int64) {
	if lpSupply <= 0 {
		return 0, 0
	}
	base = new(big.Int).Div(new(big.Int).Mul(big.NewInt(lpBurn), big.NewInt(baseReserve)), big.NewInt(lpSupply)).Int64()
	quote = new(big.Int).Div(new(big.Int).Mul(big.NewInt(lpBurn), big.NewInt(quoteReserve)), big.NewInt(lpSupply)).Int64()
	return base, quote
}

// isqrt computes the integer square root via Newton's method, exact for the
// perfect-square case and floor-rounded otherwise, matching the "initial LP
// minted = isqrt(base_amount * quote_amount)" rule in spec.md §4.7.
func isqrt(n int64) int64 {
	if n <= 0 {
		return 0
	}
	x := big.NewInt(n)
	return new(big.Int).Sqrt(x).Int64()
}

// Position is a liquidity provider's current claim on a pool.
type Position struct {
	LPBalance    int64
	LPSupply     int64
	BaseReserve  int64
	QuoteReserve int64
}

// ValueUSD values a position per spec.md §4.8:
// share = lp_balance/lp_supply; base_share = r_base*share; quote_share = r_quote*share;
// value_usd = base_share*p_tok_usd + quote_share*p_sol_usd.
func (p Position) ValueUSD(solUSD, tokenUSD float64) float64 {
	if p.LPSupply <= 0 {
		return 0
	}
	share := float64(p.LPBalance) / float64(p.LPSupply)
	baseShare := float64(p.BaseReserve) * share
	quoteShare := float64(p.QuoteReserve) / 1e9 * share
	return baseShare*tokenUSD + quoteShare*solUSD
}

// Deposit is the original amounts a liquidity provider contributed, used as
// the "HODL" baseline for impermanent loss.
type Deposit struct {
	BaseAmount  int64
	QuoteAmount int64
}

// ImpermanentLossUSD compares the position's current USD value against the
// USD value of holding the original deposit's base/quote amounts
// unpooled at current prices.
func ImpermanentLossUSD(pos Position, dep Deposit, solUSD, tokenUSD float64) float64 {
	currentValue := pos.ValueUSD(solUSD, tokenUSD)
	hodlValue := float64(dep.BaseAmount)*tokenUSD + float64(dep.QuoteAmount)/1e9*solUSD
	return currentValue - hodlValue
}

// FeeKind attributes a fee accrual to its recipient class.
type FeeKind string

const (
	FeeKindLP       FeeKind = "lp"
	FeeKindProtocol FeeKind = "protocol"
	FeeKindCreator  FeeKind = "creator"
)

// AttributeFee splits a swap's fee amount (in quote units) between LP and
// protocol per the pool's configured split, expressed in basis points of
// the total fee (e.g. protocolBps=1000 means 10% of the fee goes to protocol).
func AttributeFee(totalFee int64, protocolBps int32) (lpShare, protocolShare int64) {
	if totalFee <= 0 {
		return 0, 0
	}
	protocolShare = totalFee * int64(protocolBps) / 10_000
	lpShare = totalFee - protocolShare
	return lpShare, protocolShare
}
