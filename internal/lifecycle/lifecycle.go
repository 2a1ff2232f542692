// Package lifecycle is the per-mint state machine tracking
// Bonding -> Migrating -> Graduated / Abandoned, and the bidirectional
// bonding-curve-address <-> mint-address map used to resolve graduations,
// per spec.md §4.6. Never guesses a mint mapping: an unresolved graduation
// is parked, never discarded.
package lifecycle

import (
	"sync"
	"time"

	"github.com/anselmolaurindo/chainindexer/internal/models"
)

// Transition describes one phase change for logging/persistence.
type Transition struct {
	Mint      string
	From      models.LifecycleState
	To        models.LifecycleState
	Reason    string
	Slot      uint64
	Timestamp time.Time
}

// mintRecord is the engine's in-memory view of one mint's lifecycle.
type mintRecord struct {
	mu          sync.Mutex
	state       models.LifecycleState
	firstSeen   time.Time
	tradeCount  int
	curve       string
}

// pendingGraduation is a Withdraw/completion observed before its mint could
// be resolved from the curve<->mint map.
type pendingGraduation struct {
	Curve     string
	Signature string
	Slot      uint64
	FirstSeen time.Time
}

// Engine is the lifecycle state machine and curve<->mint resolver.
type Engine struct {
	mu     sync.RWMutex
	mints  map[string]*mintRecord
	curveToMint map[string]string
	mintToCurve map[string]string
	pending     map[string]*pendingGraduation // keyed by curve

	abandonmentWindow          time.Duration
	abandonmentMinTrades       int
	graduationResolutionWindow time.Duration

	onTransition func(Transition)
}

// Config tunes the abandonment and graduation-resolution windows.
type Config struct {
	AbandonmentWindow          time.Duration
	AbandonmentMinTrades       int
	GraduationResolutionWindow time.Duration
}

// NewEngine builds a lifecycle Engine. onTransition, if non-nil, is called
// synchronously for every phase change (used to publish lifecycle events).
func NewEngine(cfg Config, onTransition func(Transition)) *Engine {
	return &Engine{
		mints:       make(map[string]*mintRecord),
		curveToMint: make(map[string]string),
		mintToCurve: make(map[string]string),
		pending:     make(map[string]*pendingGraduation),

		abandonmentWindow:          cfg.AbandonmentWindow,
		abandonmentMinTrades:       cfg.AbandonmentMinTrades,
		graduationResolutionWindow: cfg.GraduationResolutionWindow,
		onTransition:               onTransition,
	}
}

func (e *Engine) recordFor(mint string, now time.Time) *mintRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.mints[mint]
	if !ok {
		r = &mintRecord{state: models.LifecycleBonding, firstSeen: now}
		e.mints[mint] = r
	}
	return r
}

// ObserveBCTrade records a BC trade for mint (creating the Bonding record on
// first sight) and learns the curve<->mint binding.
func (e *Engine) ObserveBCTrade(mint, curve string, slot uint64, at time.Time) {
	r := e.recordFor(mint, at)

	r.mu.Lock()
	r.tradeCount++
	r.curve = curve
	state := r.state
	r.mu.Unlock()

	e.mu.Lock()
	if curve != "" {
		e.curveToMint[curve] = mint
		e.mintToCurve[mint] = curve
	}
	e.mu.Unlock()

	if state == models.LifecycleBonding {
		e.resolvePendingForCurve(curve, slot, at)
	}
}

// ObserveBCComplete marks a curve's bonding phase complete (graduation
// trigger), transitioning its mint to Migrating if known, else parking.
func (e *Engine) ObserveBCComplete(curve, signature string, slot uint64, at time.Time) {
	e.transitionForCurve(curve, signature, slot, at, "bc_complete")
}

// ObserveWithdraw handles a Withdraw instruction carrying only the curve
// identifier: resolves the mint via the learned map, or parks the
// graduation if the mapping isn't known yet.
func (e *Engine) ObserveWithdraw(curve, signature string, slot uint64, at time.Time) {
	e.transitionForCurve(curve, signature, slot, at, "withdraw")
}

func (e *Engine) transitionForCurve(curve, signature string, slot uint64, at time.Time, reason string) {
	e.mu.RLock()
	mint, known := e.curveToMint[curve]
	e.mu.RUnlock()

	if !known {
		e.mu.Lock()
		e.pending[curve] = &pendingGraduation{Curve: curve, Signature: signature, Slot: slot, FirstSeen: at}
		e.mu.Unlock()
		return
	}

	e.transition(mint, models.LifecycleMigrating, slot, at, reason)
}

func (e *Engine) resolvePendingForCurve(curve string, slot uint64, at time.Time) {
	e.mu.Lock()
	p, ok := e.pending[curve]
	if ok {
		delete(e.pending, curve)
	}
	mint := e.curveToMint[curve]
	e.mu.Unlock()

	if ok && mint != "" {
		e.transition(mint, models.LifecycleMigrating, slot, at, "graduation_resolved")
		_ = p
	}
}

// ObservePoolCreated handles an AMM CreatePool for mint: completes
// Migrating -> Graduated, or jumps directly Bonding -> Graduated when no
// Migrating phase was observed (spec.md §4.6 "first AMM event for an unseen mint").
func (e *Engine) ObservePoolCreated(mint string, slot uint64, at time.Time) {
	r := e.recordFor(mint, at)
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()

	if state == models.LifecycleGraduated {
		return
	}
	e.transition(mint, models.LifecycleGraduated, slot, at, "pool_created")
}

// CheckAbandonment transitions mint to Abandoned if it is still Bonding,
// older than the abandonment window, and has fewer trades than the minimum.
func (e *Engine) CheckAbandonment(mint string, now time.Time) {
	e.mu.RLock()
	r, ok := e.mints[mint]
	e.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	state := r.state
	age := now.Sub(r.firstSeen)
	trades := r.tradeCount
	r.mu.Unlock()

	if state != models.LifecycleBonding {
		return
	}
	if age > e.abandonmentWindow && trades < e.abandonmentMinTrades {
		e.transition(mint, models.LifecycleAbandoned, 0, now, "abandonment_window_elapsed")
	}
}

// TrackedMints returns every mint address the engine currently holds a
// record for, so a periodic sweep can run CheckAbandonment across all of them.
func (e *Engine) TrackedMints() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.mints))
	for mint := range e.mints {
		out = append(out, mint)
	}
	return out
}

// PendingGraduations returns the curves whose graduation has stayed
// unresolved for longer than graduationResolutionWindow as of now, for
// monitoring / alerting; younger pending entries are not returned.
func (e *Engine) PendingGraduations(now time.Time) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var stale []string
	for curve, p := range e.pending {
		if now.Sub(p.FirstSeen) > e.graduationResolutionWindow {
			stale = append(stale, curve)
		}
	}
	return stale
}

// State returns the current lifecycle state for mint, if known.
func (e *Engine) State(mint string) (models.LifecycleState, bool) {
	e.mu.RLock()
	r, ok := e.mints[mint]
	e.mu.RUnlock()
	if !ok {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, true
}

func (e *Engine) transition(mint string, to models.LifecycleState, slot uint64, at time.Time, reason string) {
	r := e.recordFor(mint, at)

	r.mu.Lock()
	from := r.state
	if from == to {
		r.mu.Unlock()
		return
	}
	r.state = to
	r.mu.Unlock()

	if e.onTransition != nil {
		e.onTransition(Transition{Mint: mint, From: from, To: to, Reason: reason, Slot: slot, Timestamp: at})
	}
}
