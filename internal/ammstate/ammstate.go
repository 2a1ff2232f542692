// Package ammstate is the in-memory AMM pool registry: reserves and LP
// supply updated from decoded events, with TVL/utilization derived for the
// durability layer's roll-ups. Keyed maps use per-key locking, the sharded
// mint-map pattern spec.md's concurrency model calls for.
package ammstate

import (
	"sync"

	"github.com/anselmolaurindo/chainindexer/internal/lpcalc"
)

// Pool is the in-memory reserve/LP state for one AMM pool.
type Pool struct {
	mu sync.RWMutex

	Address      string
	MintAddress  string
	BaseMint     string
	QuoteMint    string
	BaseReserve  int64
	QuoteReserve int64
	LPSupply     int64
	FeeBps       int32
	LastSlot     uint64
}

// Snapshot is an immutable read of a pool's state at a point in time.
type Snapshot struct {
	Address      string
	MintAddress  string
	BaseReserve  int64
	QuoteReserve int64
	LPSupply     int64
	FeeBps       int32
	LastSlot     uint64
}

func (p *Pool) snapshot() Snapshot {
	return Snapshot{
		Address: p.Address, MintAddress: p.MintAddress,
		BaseReserve: p.BaseReserve, QuoteReserve: p.QuoteReserve,
		LPSupply: p.LPSupply, FeeBps: p.FeeBps, LastSlot: p.LastSlot,
	}
}

// Store is the registry of all known pools, keyed by pool address.
type Store struct {
	mu    sync.RWMutex
	pools map[string]*Pool
	byMint map[string]*Pool
}

// NewStore builds an empty pool registry.
func NewStore() *Store {
	return &Store{
		pools:  make(map[string]*Pool),
		byMint: make(map[string]*Pool),
	}
}

// CreatePool registers a new pool with initial reserves (from the inner
// transfers of its CreatePool instruction, or zero if not yet observed).
func (s *Store) CreatePool(address, mint, baseMint, quoteMint string, baseReserve, quoteReserve int64, feeBps int32, slot uint64) *Pool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pools[address]; ok {
		return existing
	}

	p := &Pool{
		Address: address, MintAddress: mint, BaseMint: baseMint, QuoteMint: quoteMint,
		BaseReserve: baseReserve, QuoteReserve: quoteReserve, FeeBps: feeBps, LastSlot: slot,
	}
	s.pools[address] = p
	s.byMint[mint] = p
	return p
}

// Get returns the pool for a pool address, if known.
func (s *Store) Get(address string) (*Pool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[address]
	return p, ok
}

// GetByMint returns the pool backing a mint, if known.
func (s *Store) GetByMint(mint string) (*Pool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byMint[mint]
	return p, ok
}

// ApplySwap updates reserves for a buy/sell against the constant-product
// invariant, using the reported amounts when explicit post-event reserves
// are unavailable (spec.md §4.7: "else apply the constant-product update
// using the reported amounts").
func (p *Pool) ApplySwap(baseDelta, quoteDelta int64, slot uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.BaseReserve += baseDelta
	p.QuoteReserve += quoteDelta
	if p.BaseReserve < 0 {
		p.BaseReserve = 0
	}
	if p.QuoteReserve < 0 {
		p.QuoteReserve = 0
	}
	p.LastSlot = slot
}

// ApplyDeposit updates reserves and LP supply for a liquidity add, returning
// the LP tokens minted per lpcalc's first-deposit/proportional rules.
func (p *Pool) ApplyDeposit(baseIn, quoteIn int64, slot uint64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	minted := lpcalc.MintAmount(baseIn, quoteIn, p.BaseReserve, p.QuoteReserve, p.LPSupply)

	p.BaseReserve += baseIn
	p.QuoteReserve += quoteIn
	p.LPSupply += minted
	p.LastSlot = slot
	return minted
}

// ApplyWithdraw burns lpBurn LP tokens and returns the pro-rata base/quote
// amounts released, per lpcalc's burn rules.
func (p *Pool) ApplyWithdraw(lpBurn int64, slot uint64) (baseOut, quoteOut int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	baseOut, quoteOut = lpcalc.BurnAmounts(lpBurn, p.BaseReserve, p.QuoteReserve, p.LPSupply)

	p.BaseReserve -= baseOut
	p.QuoteReserve -= quoteOut
	p.LPSupply -= lpBurn
	if p.LPSupply < 0 {
		p.LPSupply = 0
	}
	p.LastSlot = slot
	return baseOut, quoteOut
}

// Snapshot returns a consistent read of the pool's current state.
func (p *Pool) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot()
}

// TVLUsd computes total value locked given SOL/USD and token/USD prices
// (quote is always SOL per spec.md §3).
func (snap Snapshot) TVLUsd(solUSD, tokenUSD float64) float64 {
	quoteUSD := float64(snap.QuoteReserve) / 1e9 * solUSD
	baseUSD := float64(snap.BaseReserve) * tokenUSD
	return quoteUSD + baseUSD
}

// UtilizationBps is a coarse measure of how much of observed lifetime peak
// reserves remain, expressed in basis points; callers supply the peak since
// the store itself does not retain history.
func UtilizationBps(current, peak int64) int32 {
	if peak <= 0 {
		return 0
	}
	return int32(current * 10_000 / peak)
}
