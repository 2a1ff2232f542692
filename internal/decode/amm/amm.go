// Package amm decodes constant-product AMM instructions (buy, sell, deposit,
// withdraw, pool creation, fee collection) once a mint has graduated off the
// bonding curve, the same discriminator-dispatch idiom decode/bc uses for the
// primary market.
package amm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// Anchor instruction discriminators for the pump-swap AMM program, the first
// 8 bytes of sha256("global:<ix_name>"), the same derivation decode/bc uses.
var (
	discBuy                   = [8]byte{102, 6, 61, 18, 1, 218, 235, 234}
	discSell                  = [8]byte{51, 230, 133, 164, 1, 127, 131, 173}
	discDeposit               = [8]byte{242, 35, 198, 137, 82, 225, 242, 182}
	discWithdraw              = [8]byte{183, 18, 70, 156, 148, 109, 161, 34}
	discCreatePool            = [8]byte{233, 146, 209, 142, 207, 104, 64, 188}
	discCollectCoinCreatorFee = [8]byte{160, 57, 89, 42, 181, 139, 43, 66}
	discCollectProtocolFee    = [8]byte{136, 136, 252, 221, 194, 66, 126, 89}
)

// Kind identifies which AMM instruction was decoded.
type Kind string

const (
	KindBuy                Kind = "buy"
	KindSell               Kind = "sell"
	KindDeposit            Kind = "deposit"
	KindWithdraw           Kind = "withdraw"
	KindCreatePool         Kind = "create_pool"
	KindCollectCreatorFee  Kind = "collect_coin_creator_fee"
	KindCollectProtocolFee Kind = "collect_protocol_fee"
	KindUnknown            Kind = "unknown"
)

// Instruction is a decoded AMM instruction.
type Instruction struct {
	Kind          Kind
	AmountIn      uint64
	MinAmountOut  uint64
	LPTokenAmount uint64
	FeeAmount     uint64
	Pool          string
	BaseMint      string
	QuoteMint     string
	Trader        string
	Recipient     string
}

// PoolState mirrors the on-chain constant-product pool account layout.
type PoolState struct {
	Discriminator [8]byte
	BaseMint      [32]byte
	QuoteMint     [32]byte
	BaseReserve   uint64
	QuoteReserve  uint64
	LPSupply      uint64
	FeeBps        uint16
}

// DecodeAccount decodes raw AMM pool account data into its typed state.
func DecodeAccount(data []byte) (PoolState, error) {
	var state PoolState
	dec := bin.NewBinDecoder(data)
	if err := dec.Decode(&state); err != nil {
		return PoolState{}, fmt.Errorf("amm: decode pool account: %w", err)
	}
	return state, nil
}

// DecodeInstruction decodes a raw AMM instruction given its data payload and
// resolved accounts. Buy/sell/deposit/withdraw carry the pool as accounts[0]
// and the trader/provider as accounts[5], matching pump-swap's account
// ordering ([pool, base_vault, quote_vault, user_base, user_quote, user,
// ...]); create_pool and the fee-collection instructions use their own
// narrower account layouts, handled per case below.
func DecodeInstruction(data []byte, accounts []string) (Instruction, error) {
	if len(data) < 8 {
		return Instruction{Kind: KindUnknown}, fmt.Errorf("amm: instruction data too short")
	}

	var disc [8]byte
	copy(disc[:], data[:8])

	ix := Instruction{}
	if len(accounts) > 0 {
		ix.Pool = accounts[0]
	}
	if len(accounts) > 5 {
		ix.Trader = accounts[5]
	}

	switch {
	case bytes.Equal(disc[:], discBuy[:]):
		ix.Kind = KindBuy
		if len(data) < 24 {
			return ix, fmt.Errorf("amm: buy instruction missing arguments")
		}
		ix.AmountIn = binary.LittleEndian.Uint64(data[8:16])
		ix.MinAmountOut = binary.LittleEndian.Uint64(data[16:24])
	case bytes.Equal(disc[:], discSell[:]):
		ix.Kind = KindSell
		if len(data) < 24 {
			return ix, fmt.Errorf("amm: sell instruction missing arguments")
		}
		ix.AmountIn = binary.LittleEndian.Uint64(data[8:16])
		ix.MinAmountOut = binary.LittleEndian.Uint64(data[16:24])
	case bytes.Equal(disc[:], discDeposit[:]):
		ix.Kind = KindDeposit
		if len(data) < 24 {
			return ix, fmt.Errorf("amm: deposit instruction missing arguments")
		}
		ix.AmountIn = binary.LittleEndian.Uint64(data[8:16])
		ix.LPTokenAmount = binary.LittleEndian.Uint64(data[16:24])
	case bytes.Equal(disc[:], discWithdraw[:]):
		ix.Kind = KindWithdraw
		if len(data) < 16 {
			return ix, fmt.Errorf("amm: withdraw instruction missing arguments")
		}
		ix.LPTokenAmount = binary.LittleEndian.Uint64(data[8:16])
	case bytes.Equal(disc[:], discCreatePool[:]):
		ix.Kind = KindCreatePool
		if len(accounts) > 1 {
			ix.BaseMint = accounts[1]
		}
		if len(accounts) > 2 {
			ix.QuoteMint = accounts[2]
		}
	case bytes.Equal(disc[:], discCollectCoinCreatorFee[:]):
		ix.Kind = KindCollectCreatorFee
		if len(accounts) > 1 {
			ix.Recipient = accounts[1]
		}
		if len(data) >= 16 {
			ix.FeeAmount = binary.LittleEndian.Uint64(data[8:16])
		}
	case bytes.Equal(disc[:], discCollectProtocolFee[:]):
		ix.Kind = KindCollectProtocolFee
		if len(accounts) > 1 {
			ix.Recipient = accounts[1]
		}
		if len(data) >= 16 {
			ix.FeeAmount = binary.LittleEndian.Uint64(data[8:16])
		}
	default:
		ix.Kind = KindUnknown
		return ix, fmt.Errorf("amm: unrecognized discriminator")
	}

	return ix, nil
}
