// Package stream owns the live connection to the upstream log-subscription
// feed: a Connecting -> Healthy -> Degraded -> Backoff -> Failed -> HalfOpen
// state machine wrapping a gorilla/websocket connection, modeled on the
// reconnect-loop idiom the pack's Solana log listener uses (dial, subscribe,
// read, reconnect on any error), generalized into an explicit state machine
// with a parse-rate-driven circuit breaker per spec.md §5.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/anselmolaurindo/chainindexer/internal/solanarpc"
	"github.com/anselmolaurindo/chainindexer/internal/wire"
)

// State is one node of the stream session's connection state machine.
type State string

const (
	StateConnecting State = "connecting"
	StateHealthy    State = "healthy"
	StateDegraded   State = "degraded"
	StateBackoff    State = "backoff"
	StateFailed     State = "failed"
	StateHalfOpen   State = "half_open"
)

// Config tunes session health thresholds.
type Config struct {
	Endpoint          string
	Token             string
	Commitment        string
	ProgramIDs        []string
	HeartbeatInterval time.Duration
	DegradedWindow    time.Duration
	MinParseRate      float64 // fraction of fetched transactions that wire-decode successfully, below which the session is Degraded
	MaxBackoff        time.Duration
}

// TxHandler receives each successfully decoded transaction.
type TxHandler func(tx *wire.RawTx)

// Session owns one websocket connection and its health state.
type Session struct {
	cfg     Config
	rpc     *solanarpc.Client
	log     *zap.SugaredLogger
	onTx    TxHandler

	mu    sync.RWMutex
	state State
	conn  *websocket.Conn

	consecutiveFailures int
	lastHeartbeat       time.Time

	parsedHigh  int64
	parsedTotal int64

	lastSignature atomic.Value  // string, for checkpointing
	lastSlot      atomic.Uint64 // last observed slot, for gap detection

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Session in the Connecting state.
func New(cfg Config, rpc *solanarpc.Client, log *zap.SugaredLogger, onTx TxHandler) *Session {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	s := &Session{cfg: cfg, rpc: rpc, log: log, onTx: onTx, state: StateConnecting, stop: make(chan struct{})}
	s.lastSignature.Store("")
	return s
}

// State returns the session's current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from != to {
		s.log.Infow("stream: state transition", "from", from, "to", to)
	}
}

// LastSignature returns the last signature observed, for checkpoint writes.
func (s *Session) LastSignature() string {
	return s.lastSignature.Load().(string)
}

// LastObservedSlot returns the slot of the last signature observed, for gap
// detection.
func (s *Session) LastObservedSlot() uint64 {
	return s.lastSlot.Load()
}

// Run drives the connect/subscribe/read/reconnect loop until ctx is
// cancelled. It never returns on a transient error; it backs off and retries.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateFailed)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.setState(StateConnecting)
		if err := s.connectAndRead(ctx); err != nil {
			s.mu.Lock()
			s.consecutiveFailures++
			failures := s.consecutiveFailures
			s.mu.Unlock()

			s.log.Warnw("stream: connection lost", "error", err, "consecutive_failures", failures)

			if failures >= 5 {
				s.setState(StateFailed)
			} else {
				s.setState(StateBackoff)
			}

			backoff := time.Duration(attempt+1) * time.Second
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
			attempt++

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}

			if failures >= 5 {
				s.setState(StateHalfOpen) // marker only: the next pass re-enters Connecting with a full dial and subscribe
			}
			continue
		}

		attempt = 0
		s.mu.Lock()
		s.consecutiveFailures = 0
		s.mu.Unlock()
	}
}

// connectAndRead dials, subscribes to all configured program IDs, and reads
// until the connection drops or ctx is cancelled.
func (s *Session) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("stream: dial: %w", err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	for _, programID := range s.cfg.ProgramIDs {
		sub := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"method":  "logsSubscribe",
			"params": []interface{}{
				map[string]interface{}{"mentions": []string{programID}},
				map[string]interface{}{"commitment": s.cfg.Commitment},
			},
		}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("stream: subscribe %s: %w", programID, err)
		}
	}

	atomic.StoreInt64(&s.parsedTotal, 0)
	atomic.StoreInt64(&s.parsedHigh, 0)
	s.setState(StateHealthy)
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()

	go s.healthMonitor(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var notification logsNotification
		if err := conn.ReadJSON(&notification); err != nil {
			return fmt.Errorf("stream: read: %w", err)
		}

		s.mu.Lock()
		s.lastHeartbeat = time.Now()
		s.mu.Unlock()

		sig := notification.Params.Result.Value.Signature
		slot := notification.Params.Result.Context.Slot
		if sig == "" {
			continue
		}
		s.lastSignature.Store(sig)
		s.lastSlot.Store(slot)

		s.fetchAndDecode(ctx, sig, slot)
	}
}

type logsNotification struct {
	Params struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string      `json:"signature"`
				Err       interface{} `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func (s *Session) fetchAndDecode(ctx context.Context, signature string, slot uint64) {
	raw, found, err := s.rpc.GetTransaction(ctx, signature)
	if err != nil || !found {
		if err != nil {
			s.log.Warnw("stream: fetch transaction failed", "signature", signature, "error", err)
		}
		return
	}

	blockTimeMS := int64(0)
	if raw.BlockTime != nil {
		blockTimeMS = *raw.BlockTime * 1000
	}

	payload, err := json.Marshal(struct {
		Transaction json.RawMessage `json:"transaction"`
		Meta        json.RawMessage `json:"meta"`
	}{Transaction: raw.Tx, Meta: raw.Meta})
	if err != nil {
		return
	}

	result := wire.Decode(signature, slot, blockTimeMS, payload)

	atomic.AddInt64(&s.parsedTotal, 1)
	if result.Ok {
		atomic.AddInt64(&s.parsedHigh, 1)
		s.onTx(result.Tx)
	} else {
		s.log.Debugw("stream: soft decode failure", "signature", signature, "error", result.Err)
	}
}

// healthMonitor watches the heartbeat gap and rolling parse rate, demoting
// the session to Degraded when either breaches its configured threshold,
// without tearing down the connection.
func (s *Session) healthMonitor(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.RLock()
			gap := time.Since(s.lastHeartbeat)
			active := s.conn == conn
			s.mu.RUnlock()
			if !active {
				return // a newer connection superseded this monitor
			}

			rate := s.ParseRate()
			if gap > s.cfg.DegradedWindow || (s.cfg.MinParseRate > 0 && rate < s.cfg.MinParseRate) {
				if s.State() == StateHealthy {
					s.setState(StateDegraded)
				}
			} else if s.State() == StateDegraded {
				s.setState(StateHealthy)
			}
		}
	}
}

// ParseRate returns the rolling fraction of transactions that decoded
// successfully since the session (re)connected.
func (s *Session) ParseRate() float64 {
	total := atomic.LoadInt64(&s.parsedTotal)
	if total == 0 {
		return 1
	}
	high := atomic.LoadInt64(&s.parsedHigh)
	return float64(high) / float64(total)
}

// Close stops the session's background monitor.
func (s *Session) Close() {
	close(s.stop)
}
