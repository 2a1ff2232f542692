// Package bcstate is the in-memory bonding-curve reserve registry, the BC
// analogue of ammstate.Store: reserves updated from decoded buy/sell events
// under the same constant-product accounting, so the pricing engine always
// has a current (r_sol, r_tok) pair to quote against without an extra
// account fetch per trade.
package bcstate

import "sync"

// defaultVirtualSolReserves and defaultVirtualTokenReserves are the
// pump.fun-style starting reserves a freshly observed curve is seeded with
// when no account snapshot has been fetched yet (30 SOL / ~1.073B tokens,
// the same constants the pack's pump-go-sdk example hardcodes).
const (
	defaultVirtualSolReserves   = 30_000_000_000
	defaultVirtualTokenReserves = 1_073_000_000_000_000
)

// Curve is the live reserve state for one bonding curve.
type Curve struct {
	mu sync.RWMutex

	Address              string
	Mint                 string
	VirtualSolReserves   int64
	VirtualTokenReserves int64
	RealSolReserves      int64
	RealTokenReserves    int64
	Complete             bool
	LastSlot             uint64
}

// Snapshot is an immutable read of a curve's current reserves.
type Snapshot struct {
	Address              string
	Mint                 string
	VirtualSolReserves   int64
	VirtualTokenReserves int64
	Complete             bool
	LastSlot             uint64
}

// Store is the registry of all known curves, keyed by curve address.
type Store struct {
	mu     sync.RWMutex
	curves map[string]*Curve
}

// NewStore builds an empty curve registry.
func NewStore() *Store {
	return &Store{curves: make(map[string]*Curve)}
}

// GetOrCreate returns the curve for address, seeding it with the default
// virtual reserves on first sight.
func (s *Store) GetOrCreate(address, mint string) *Curve {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.curves[address]; ok {
		return c
	}
	c := &Curve{
		Address:              address,
		Mint:                 mint,
		VirtualSolReserves:   defaultVirtualSolReserves,
		VirtualTokenReserves: defaultVirtualTokenReserves,
	}
	s.curves[address] = c
	return c
}

// Get returns the curve for address, if known.
func (s *Store) Get(address string) (*Curve, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.curves[address]
	return c, ok
}

// Seed overwrites a curve's reserves with an authoritative snapshot, for
// when an account fetch (rather than running deltas) produced the true state.
func (s *Store) Seed(address, mint string, virtualSol, virtualToken int64, complete bool, slot uint64) *Curve {
	s.mu.Lock()
	c, ok := s.curves[address]
	if !ok {
		c = &Curve{Address: address, Mint: mint}
		s.curves[address] = c
	}
	s.mu.Unlock()

	c.mu.Lock()
	c.VirtualSolReserves = virtualSol
	c.VirtualTokenReserves = virtualToken
	c.Complete = complete
	c.LastSlot = slot
	c.mu.Unlock()
	return c
}

// ApplyTrade updates virtual reserves for a buy (SOL in, tokens out) or
// sell (tokens in, SOL out), mirroring ammstate.Pool.ApplySwap's running
// constant-product update.
func (c *Curve) ApplyTrade(isBuy bool, solAmount, tokenAmount int64, slot uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if isBuy {
		c.VirtualSolReserves += solAmount
		c.VirtualTokenReserves -= tokenAmount
		c.RealSolReserves += solAmount
		c.RealTokenReserves -= tokenAmount
	} else {
		c.VirtualSolReserves -= solAmount
		c.VirtualTokenReserves += tokenAmount
		c.RealSolReserves -= solAmount
		c.RealTokenReserves += tokenAmount
	}
	if c.VirtualSolReserves < 0 {
		c.VirtualSolReserves = 0
	}
	if c.VirtualTokenReserves < 0 {
		c.VirtualTokenReserves = 0
	}
	c.LastSlot = slot
}

// MarkComplete flags the curve as having finished its bonding phase.
func (c *Curve) MarkComplete(slot uint64) {
	c.mu.Lock()
	c.Complete = true
	c.LastSlot = slot
	c.mu.Unlock()
}

// Snapshot returns a consistent read of the curve's current state.
func (c *Curve) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Address: c.Address, Mint: c.Mint,
		VirtualSolReserves: c.VirtualSolReserves, VirtualTokenReserves: c.VirtualTokenReserves,
		Complete: c.Complete, LastSlot: c.LastSlot,
	}
}
