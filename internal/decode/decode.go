// Package decode maps the two programs' instruction and account layouts to
// typed domain events, falling back to balance-delta reconstruction when an
// instruction's explicit amount arguments are unavailable, and tracking a
// per-signature parse-confidence state machine over the result.
package decode

import (
	"math"

	"github.com/anselmolaurindo/chainindexer/internal/decode/amm"
	"github.com/anselmolaurindo/chainindexer/internal/decode/bc"
	"github.com/anselmolaurindo/chainindexer/internal/models"
	"github.com/anselmolaurindo/chainindexer/internal/wire"
)

// Venue distinguishes which program produced an event.
type Venue string

const (
	VenueBC  Venue = "bc"
	VenueAMM Venue = "amm"
)

// TradeEvent is the parser's typed output for a single recognized buy/sell.
type TradeEvent struct {
	Signature       string
	Slot            uint64
	BlockTimeMS     int64
	Venue           Venue
	Side            models.TradeSide
	Trader          string
	Mint            string
	Curve           string // bonding curve address, BC only
	Pool            string // pool address, AMM only
	BaseAmount      int64
	QuoteAmount     int64
	ParseConfidence models.ParseConfidence
	Secondary       bool // true for non-canonical trades sharing a signature
}

// GraduationEvent signals a BC curve leaving the bonding-curve market,
// either via completion or an explicit Withdraw, possibly without a known
// mint mapping yet.
type GraduationEvent struct {
	Signature string
	Slot      uint64
	Curve     string
	Mint      string // empty if not yet resolvable from this instruction alone
}

// PoolCreatedEvent signals a new AMM pool, the trigger for a pending
// graduation to resolve into Graduated.
type PoolCreatedEvent struct {
	Signature string
	Slot      uint64
	Pool      string
	BaseMint  string
	QuoteMint string
}

// LiquidityEvent is a decoded AMM deposit or withdraw, for the AMM state
// store and LP calculators to apply against a pool's reserves.
type LiquidityEvent struct {
	Signature     string
	Slot          uint64
	Kind          string // "deposit" | "withdraw"
	Pool          string
	Trader        string
	BaseAmount    int64
	QuoteAmount   int64
	LPTokenAmount int64
}

// FeeCollectedEvent is a decoded AMM fee-collection instruction (the
// coin-creator or protocol share actually being swept), for direct fee
// ledger crediting instead of a swap-side estimate.
type FeeCollectedEvent struct {
	Signature string
	Slot      uint64
	Pool      string
	Kind      string // "creator" | "protocol"
	Recipient string
	Amount    int64
}

// Result bundles everything the instruction parser extracted from one
// transaction, for the trade pipeline and lifecycle engine to consume.
type Result struct {
	Trades          []TradeEvent
	Graduations     []GraduationEvent
	PoolsCreated    []PoolCreatedEvent
	LiquidityEvents []LiquidityEvent
	FeesCollected   []FeeCollectedEvent
	Rejected        bool // true when no instruction yielded a usable event
}

// Programs carries the two known program IDs the parser dispatches on.
type Programs struct {
	BC  string
	AMM string
}

// deltaTolerance is the maximum relative mismatch between explicit-args and
// balance-delta amount readings for a trade to be marked high confidence; a
// larger mismatch leaves it at medium confidence.
const deltaTolerance = 0.005

// Parse decodes every recognized instruction in tx against the given program
// IDs, reconciling explicit instruction arguments against balance-delta
// reconstruction per signature.
func Parse(tx *wire.RawTx, programs Programs) Result {
	var res Result
	feePayer := ""
	if len(tx.AccountKeys) > 0 {
		feePayer = tx.AccountKeys[0]
	}

	canonicalIdx := -1

	for _, ix := range tx.Instructions {
		switch ix.ProgramID {
		case programs.BC:
			ev, grad, ok := parseBCInstruction(tx, ix, feePayer)
			if grad != nil {
				res.Graduations = append(res.Graduations, *grad)
			}
			if ok {
				if canonicalIdx < 0 && ev.Trader == feePayer {
					canonicalIdx = len(res.Trades)
				}
				res.Trades = append(res.Trades, ev)
			}
		case programs.AMM:
			ev, pool, liq, fee, ok := parseAMMInstruction(tx, ix, feePayer)
			if pool != nil {
				res.PoolsCreated = append(res.PoolsCreated, *pool)
			}
			if liq != nil {
				res.LiquidityEvents = append(res.LiquidityEvents, *liq)
			}
			if fee != nil {
				res.FeesCollected = append(res.FeesCollected, *fee)
			}
			if ok {
				if canonicalIdx < 0 && ev.Trader == feePayer {
					canonicalIdx = len(res.Trades)
				}
				res.Trades = append(res.Trades, ev)
			}
		}
	}

	if canonicalIdx >= 0 {
		for i := range res.Trades {
			res.Trades[i].Secondary = i != canonicalIdx
		}
	}

	if len(res.Trades) == 0 && len(res.Graduations) == 0 && len(res.PoolsCreated) == 0 &&
		len(res.LiquidityEvents) == 0 && len(res.FeesCollected) == 0 {
		res.Rejected = true
	}

	return res
}

func parseBCInstruction(tx *wire.RawTx, ix wire.RawInstruction, feePayer string) (TradeEvent, *GraduationEvent, bool) {
	decoded, err := bc.DecodeInstruction(ix.Data, ix.Accounts)
	if err != nil && decoded.Kind == bc.KindUnknown {
		return TradeEvent{}, nil, false
	}

	switch decoded.Kind {
	case bc.KindCreate, bc.KindSetParams:
		return TradeEvent{}, nil, false
	case bc.KindBuy, bc.KindSell:
		side := models.TradeSideBuy
		if decoded.Kind == bc.KindSell {
			side = models.TradeSideSell
		}

		ev := TradeEvent{
			Signature: tx.Signature,
			Slot:      tx.Slot,
			BlockTimeMS: tx.BlockTimeMS,
			Venue:     VenueBC,
			Side:      side,
			Trader:    decoded.Trader,
			Mint:      decoded.Mint,
			Curve:     decoded.Curve,
		}
		if ev.Trader == "" {
			ev.Trader = feePayer
		}

		explicitQuote := int64(decoded.MinOrMaxArg)
		deltaQuote, deltaOk := solDelta(tx, feePayer)

		confidence := models.ParseConfidenceMedium
		if explicitQuote > 0 && deltaOk && withinTolerance(explicitQuote, deltaQuote) {
			confidence = models.ParseConfidenceHigh
		}
		if explicitQuote == 0 && !deltaOk {
			return TradeEvent{}, nil, false
		}

		if explicitQuote > 0 {
			ev.QuoteAmount = explicitQuote
		} else {
			ev.QuoteAmount = deltaQuote
		}
		ev.BaseAmount = int64(decoded.AmountArg)
		ev.ParseConfidence = confidence

		return ev, nil, true
	case bc.KindWithdraw:
		curve := decoded.Curve
		if curve == "" && len(ix.Accounts) > 0 {
			curve = ix.Accounts[0]
		}
		return TradeEvent{}, &GraduationEvent{
			Signature: tx.Signature,
			Slot:      tx.Slot,
			Curve:     curve,
		}, false
	default:
		return TradeEvent{}, nil, false
	}
}

func parseAMMInstruction(tx *wire.RawTx, ix wire.RawInstruction, feePayer string) (TradeEvent, *PoolCreatedEvent, *LiquidityEvent, *FeeCollectedEvent, bool) {
	decoded, err := amm.DecodeInstruction(ix.Data, ix.Accounts)
	if err != nil && decoded.Kind == amm.KindUnknown {
		return TradeEvent{}, nil, nil, nil, false
	}

	switch decoded.Kind {
	case amm.KindBuy, amm.KindSell:
		side := models.TradeSideBuy
		if decoded.Kind == amm.KindSell {
			side = models.TradeSideSell
		}

		ev := TradeEvent{
			Signature:       tx.Signature,
			Slot:            tx.Slot,
			BlockTimeMS:     tx.BlockTimeMS,
			Venue:           VenueAMM,
			Side:            side,
			Trader:          decoded.Trader,
			Pool:            decoded.Pool,
			QuoteAmount:     int64(decoded.AmountIn),
			BaseAmount:      int64(decoded.MinAmountOut),
			ParseConfidence: models.ParseConfidenceMedium,
		}
		if ev.Trader == "" {
			ev.Trader = feePayer
		}
		if decoded.AmountIn > 0 {
			ev.ParseConfidence = models.ParseConfidenceHigh
		}
		return ev, nil, nil, nil, true
	case amm.KindDeposit:
		return TradeEvent{}, nil, &LiquidityEvent{
			Signature:     tx.Signature,
			Slot:          tx.Slot,
			Kind:          "deposit",
			Pool:          decoded.Pool,
			Trader:        decoded.Trader,
			BaseAmount:    int64(decoded.AmountIn),
			LPTokenAmount: int64(decoded.LPTokenAmount),
		}, nil, false
	case amm.KindWithdraw:
		return TradeEvent{}, nil, &LiquidityEvent{
			Signature:     tx.Signature,
			Slot:          tx.Slot,
			Kind:          "withdraw",
			Pool:          decoded.Pool,
			Trader:        decoded.Trader,
			LPTokenAmount: int64(decoded.LPTokenAmount),
		}, nil, false
	case amm.KindCreatePool:
		return TradeEvent{}, &PoolCreatedEvent{
			Signature: tx.Signature,
			Slot:      tx.Slot,
			Pool:      decoded.Pool,
			BaseMint:  decoded.BaseMint,
			QuoteMint: decoded.QuoteMint,
		}, nil, nil, false
	case amm.KindCollectCreatorFee, amm.KindCollectProtocolFee:
		kind := "creator"
		if decoded.Kind == amm.KindCollectProtocolFee {
			kind = "protocol"
		}
		return TradeEvent{}, nil, nil, &FeeCollectedEvent{
			Signature: tx.Signature,
			Slot:      tx.Slot,
			Pool:      decoded.Pool,
			Kind:      kind,
			Recipient: decoded.Recipient,
			Amount:    int64(decoded.FeeAmount),
		}, false
	default:
		return TradeEvent{}, nil, nil, nil, false
	}
}

// solDelta reconstructs the lamport amount moved by the fee payer between
// pre- and post-balances, used when explicit instruction args are missing.
func solDelta(tx *wire.RawTx, feePayer string) (int64, bool) {
	if len(tx.AccountKeys) == 0 || len(tx.PreBalances) != len(tx.AccountKeys) || len(tx.PostBalances) != len(tx.AccountKeys) {
		return 0, false
	}
	idx := -1
	for i, k := range tx.AccountKeys {
		if k == feePayer {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, false
	}
	pre := int64(tx.PreBalances[idx])
	post := int64(tx.PostBalances[idx])
	delta := pre - post
	if delta < 0 {
		delta = -delta
	}
	return delta, true
}

func withinTolerance(a, b int64) bool {
	if a == 0 || b == 0 {
		return a == b
	}
	diff := math.Abs(float64(a-b)) / math.Max(float64(a), float64(b))
	return diff <= deltaTolerance
}
