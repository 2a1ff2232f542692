// Package bc decodes pump.fun-style bonding-curve instructions (buy, sell,
// create, withdraw, set_params) from raw instruction data, the same 8-byte
// anchor discriminator +
// little-endian argument layout the pack's pump-go-sdk and solana-bot
// repositories decode account state with via gagliardetto/binary.
package bc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// Anchor instruction discriminators for the pump.fun program, the first 8
// bytes of sha256("global:<ix_name>").
var (
	discBuy       = [8]byte{102, 6, 61, 18, 1, 218, 235, 234}
	discSell      = [8]byte{51, 230, 133, 164, 1, 127, 131, 173}
	discCreate    = [8]byte{24, 30, 200, 40, 5, 28, 7, 119}
	discWithdraw  = [8]byte{183, 18, 70, 156, 148, 109, 161, 34}
	discSetParams = [8]byte{27, 234, 178, 52, 147, 2, 187, 141}
)

// Kind identifies which bonding-curve instruction was decoded.
type Kind string

const (
	KindBuy       Kind = "buy"
	KindSell      Kind = "sell"
	KindCreate    Kind = "create"
	KindWithdraw  Kind = "withdraw"   // migration: curve pulls reserves to seed the AMM pool
	KindSetParams Kind = "set_params" // admin reconfiguration, carries no trade or migration signal
	KindUnknown   Kind = "unknown"
)

// Instruction is a decoded bonding-curve instruction.
type Instruction struct {
	Kind          Kind
	AmountArg     uint64 // buy/sell: the `amount` argument, a token amount in base units
	MinOrMaxArg   uint64 // buy: max_sol_cost; sell: min_sol_output (lamports)
	Mint          string
	Curve         string
	Trader        string
}

// BondingCurveState mirrors the on-chain pump.fun BondingCurve account
// layout: virtual/real reserves plus completion flag and creator.
type BondingCurveState struct {
	Discriminator        [8]byte
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
	Creator              [32]byte
}

// DecodeAccount decodes raw bonding-curve account data into its typed state.
func DecodeAccount(data []byte) (BondingCurveState, error) {
	var state BondingCurveState
	dec := bin.NewBinDecoder(data)
	if err := dec.Decode(&state); err != nil {
		return BondingCurveState{}, fmt.Errorf("bc: decode account: %w", err)
	}
	return state, nil
}

// DecodeInstruction decodes a raw bonding-curve instruction given its data
// payload and the resolved account list (mint, curve, trader as seen in the
// pump.fun account ordering: [global, fee_recipient, mint, bonding_curve,
// associated_bonding_curve, associated_user, user, ...]).
func DecodeInstruction(data []byte, accounts []string) (Instruction, error) {
	if len(data) < 8 {
		return Instruction{Kind: KindUnknown}, fmt.Errorf("bc: instruction data too short")
	}

	var disc [8]byte
	copy(disc[:], data[:8])

	ix := Instruction{}
	if len(accounts) > 2 {
		ix.Mint = accounts[2]
	}
	if len(accounts) > 3 {
		ix.Curve = accounts[3]
	}
	if len(accounts) > 6 {
		ix.Trader = accounts[6]
	}

	switch {
	case bytes.Equal(disc[:], discBuy[:]):
		ix.Kind = KindBuy
	case bytes.Equal(disc[:], discSell[:]):
		ix.Kind = KindSell
	case bytes.Equal(disc[:], discCreate[:]):
		ix.Kind = KindCreate
		return ix, nil
	case bytes.Equal(disc[:], discWithdraw[:]):
		ix.Kind = KindWithdraw
		return ix, nil
	case bytes.Equal(disc[:], discSetParams[:]):
		ix.Kind = KindSetParams
		return ix, nil
	default:
		ix.Kind = KindUnknown
		return ix, fmt.Errorf("bc: unrecognized discriminator")
	}

	// buy(amount u64, max_sol_cost u64) / sell(amount u64, min_sol_output u64)
	if len(data) < 24 {
		return ix, fmt.Errorf("bc: %s instruction missing arguments", ix.Kind)
	}
	ix.AmountArg = binary.LittleEndian.Uint64(data[8:16])
	ix.MinOrMaxArg = binary.LittleEndian.Uint64(data[16:24])

	return ix, nil
}
