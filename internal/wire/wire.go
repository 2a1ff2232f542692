// Package wire normalizes the dynamic transaction payloads delivered by the
// upstream stream (or replayed from solanarpc during recovery) into a single
// RawTx shape the instruction parser can consume, tolerating the partial or
// malformed payloads a live feed occasionally emits.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// RawTx is the normalized view of one on-chain transaction: its logs,
// involved accounts, and raw instruction data, independent of whether it
// arrived over the live stream or was backfilled via JSON-RPC.
type RawTx struct {
	Signature   string
	Slot        uint64
	BlockTimeMS int64
	Logs        []string
	AccountKeys []string
	Instructions []RawInstruction
	Failed      bool

	// PreBalances/PostBalances are lamport balances indexed the same way as
	// AccountKeys, used for balance-delta reconstruction when an
	// instruction's explicit amount arguments are unavailable.
	PreBalances  []uint64
	PostBalances []uint64

	// PreTokenBalances/PostTokenBalances carry the SPL token balance for
	// whichever accounts held a parsed token balance entry, keyed by
	// account index (same indexing as AccountKeys) to the ui amount in
	// base units for the relevant mint.
	PreTokenBalances  map[int]TokenBalance
	PostTokenBalances map[int]TokenBalance
}

// TokenBalance is one entry from meta.preTokenBalances / postTokenBalances.
type TokenBalance struct {
	Mint   string
	Amount uint64 // base units (pre-decimals)
}

// RawInstruction is one top-level or inner instruction, with its accounts
// resolved to base58 pubkeys and its data left as raw bytes for the
// instruction parser to interpret per-program.
type RawInstruction struct {
	ProgramID string
	Accounts  []string
	Data      []byte
}

// DecodeResult reports whether normalization fully succeeded. A soft failure
// (Ok=false) still carries whatever partial RawTx could be recovered; the
// stream session counts it as a parse miss and does not pass the
// transaction on.
type DecodeResult struct {
	Tx *RawTx
	Ok bool
	Err error
}

// transactionEnvelope is the subset of getTransaction's JSON shape this
// package actually reads; stream payloads are normalized to the same shape
// by the caller before Decode is invoked.
type transactionEnvelope struct {
	Transaction struct {
		Message struct {
			AccountKeys  []string `json:"accountKeys"`
			Instructions []struct {
				ProgramIDIndex int    `json:"programIdIndex"`
				Accounts       []int  `json:"accounts"`
				Data           string `json:"data"`
			} `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
	Meta struct {
		Err            interface{} `json:"err"`
		LogMessages    []string    `json:"logMessages"`
		PreBalances    []uint64    `json:"preBalances"`
		PostBalances   []uint64    `json:"postBalances"`
		PreTokenBalances []struct {
			AccountIndex int    `json:"accountIndex"`
			Mint         string `json:"mint"`
			UiTokenAmount struct {
				Amount string `json:"amount"`
			} `json:"uiTokenAmount"`
		} `json:"preTokenBalances"`
		PostTokenBalances []struct {
			AccountIndex int    `json:"accountIndex"`
			Mint         string `json:"mint"`
			UiTokenAmount struct {
				Amount string `json:"amount"`
			} `json:"uiTokenAmount"`
		} `json:"postTokenBalances"`
		InnerInstructions []struct {
			Instructions []struct {
				ProgramIDIndex int    `json:"programIdIndex"`
				Accounts       []int  `json:"accounts"`
				Data           string `json:"data"`
			} `json:"instructions"`
		} `json:"innerInstructions"`
	} `json:"meta"`
}

// Decode normalizes a raw JSON transaction payload (in the getTransaction
// "json" encoding shape) into a RawTx. Decode never panics on malformed
// input: any stage it cannot complete degrades to a soft failure carrying
// whatever was already extracted.
func Decode(signature string, slot uint64, blockTimeMS int64, payload []byte) DecodeResult {
	tx := &RawTx{Signature: signature, Slot: slot, BlockTimeMS: blockTimeMS}

	var env transactionEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return DecodeResult{Tx: tx, Ok: false, Err: fmt.Errorf("wire: unmarshal transaction: %w", err)}
	}

	tx.AccountKeys = env.Transaction.Message.AccountKeys
	tx.Logs = env.Meta.LogMessages
	tx.Failed = env.Meta.Err != nil
	tx.PreBalances = env.Meta.PreBalances
	tx.PostBalances = env.Meta.PostBalances

	if len(env.Meta.PreTokenBalances) > 0 {
		tx.PreTokenBalances = make(map[int]TokenBalance, len(env.Meta.PreTokenBalances))
		for _, tb := range env.Meta.PreTokenBalances {
			amt, _ := parseUint(tb.UiTokenAmount.Amount)
			tx.PreTokenBalances[tb.AccountIndex] = TokenBalance{Mint: tb.Mint, Amount: amt}
		}
	}
	if len(env.Meta.PostTokenBalances) > 0 {
		tx.PostTokenBalances = make(map[int]TokenBalance, len(env.Meta.PostTokenBalances))
		for _, tb := range env.Meta.PostTokenBalances {
			amt, _ := parseUint(tb.UiTokenAmount.Amount)
			tx.PostTokenBalances[tb.AccountIndex] = TokenBalance{Mint: tb.Mint, Amount: amt}
		}
	}

	for _, ix := range env.Transaction.Message.Instructions {
		ri, err := resolveInstruction(tx.AccountKeys, ix.ProgramIDIndex, ix.Accounts, ix.Data)
		if err != nil {
			continue // soft-fail: skip the single bad instruction, keep the rest
		}
		tx.Instructions = append(tx.Instructions, ri)
	}

	for _, inner := range env.Meta.InnerInstructions {
		for _, ix := range inner.Instructions {
			ri, err := resolveInstruction(tx.AccountKeys, ix.ProgramIDIndex, ix.Accounts, ix.Data)
			if err != nil {
				continue
			}
			tx.Instructions = append(tx.Instructions, ri)
		}
	}

	if len(tx.Instructions) == 0 && len(tx.Logs) == 0 {
		return DecodeResult{Tx: tx, Ok: false, Err: fmt.Errorf("wire: no instructions or logs recovered")}
	}

	return DecodeResult{Tx: tx, Ok: true}
}

func resolveInstruction(accountKeys []string, programIdx int, accountIdxs []int, dataB58 string) (RawInstruction, error) {
	if programIdx < 0 || programIdx >= len(accountKeys) {
		return RawInstruction{}, fmt.Errorf("wire: program index %d out of range", programIdx)
	}
	if !isValidPubkey(accountKeys[programIdx]) {
		return RawInstruction{}, fmt.Errorf("wire: program account is not a valid pubkey")
	}

	accounts := make([]string, 0, len(accountIdxs))
	for _, idx := range accountIdxs {
		if idx < 0 || idx >= len(accountKeys) {
			continue
		}
		if !isValidPubkey(accountKeys[idx]) {
			continue // soft-fail: drop the one malformed account, keep the rest
		}
		accounts = append(accounts, accountKeys[idx])
	}

	data, err := base58.Decode(dataB58)
	if err != nil {
		return RawInstruction{}, fmt.Errorf("wire: decode instruction data: %w", err)
	}

	return RawInstruction{
		ProgramID: accountKeys[programIdx],
		Accounts:  accounts,
		Data:      data,
	}, nil
}

// isValidPubkey reports whether s decodes to a well-formed 32-byte Solana
// pubkey, guarding the decoder against the truncated or placeholder account
// strings a live feed occasionally emits.
func isValidPubkey(s string) bool {
	_, err := solana.PublicKeyFromBase58(s)
	return err == nil
}

// InvokesProgram reports whether any top-level log line indicates the given
// program ID was invoked in this transaction, the same log-bracket idiom
// the pack's pump.fun log parser uses ("Program X invoke" / "success" / "failed").
func (tx *RawTx) InvokesProgram(programID string) bool {
	needle := "Program " + programID + " invoke"
	for _, l := range tx.Logs {
		if len(l) >= len(needle) && l[:len(needle)] == needle {
			return true
		}
	}
	return false
}
