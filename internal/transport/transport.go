// Package transport is the process's own external surface: a health check
// and a long-lived websocket pub/sub bridge onto the internal event router,
// the `{type, payload, timestamp}` frame contract from spec.md §6. Modeled
// on the teacher's cmd/main.go gin wiring (middleware, route groups,
// graceful shutdown), generalized from a REST CRUD API to a streaming
// fan-out endpoint.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/anselmolaurindo/chainindexer/internal/router"
)

// Frame is the wire shape every pub/sub message takes.
type Frame struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// controlFrame is a client->server subscribe/unsubscribe request.
type controlFrame struct {
	Action string   `json:"action"` // "subscribe" | "unsubscribe"
	Events []string `json:"events"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HealthSource reports whether the process's dependencies are currently healthy.
type HealthSource interface {
	Healthy() (bool, map[string]string)
}

// Server is the process's HTTP + websocket surface.
type Server struct {
	log    *zap.SugaredLogger
	router *router.Router
	health HealthSource
	engine *gin.Engine
	srv    *http.Server
}

// New builds a Server listening on addr (e.g. ":8080").
func New(addr string, r *router.Router, health HealthSource, log *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{log: log, router: r, health: health, engine: engine}

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/ws", s.handleWebsocket)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: engine,
	}
	return s
}

func (s *Server) handleHealth(c *gin.Context) {
	ok, details := s.health.Healthy()
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": ok, "details": details})
}

// clientConn is one connected websocket subscriber: its own write queue plus
// the router handles currently bound to it.
type clientConn struct {
	conn    *websocket.Conn
	log     *zap.SugaredLogger
	mu      sync.Mutex
	writeMu sync.Mutex
	subs    map[string]*router.Handle
}

func newClientConn(conn *websocket.Conn, log *zap.SugaredLogger) *clientConn {
	return &clientConn{conn: conn, log: log, subs: make(map[string]*router.Handle)}
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnw("transport: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := newClientConn(conn, s.log)
	defer client.closeAll()

	for {
		var ctrl controlFrame
		if err := conn.ReadJSON(&ctrl); err != nil {
			return
		}
		switch ctrl.Action {
		case "subscribe":
			client.subscribe(s.router, ctrl.Events)
		case "unsubscribe":
			client.unsubscribe(ctrl.Events)
		}
	}
}

func (c *clientConn) subscribe(r *router.Router, events []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, topic := range events {
		if topic == "all" {
			topic = router.WildcardTopic
		}
		if _, already := c.subs[topic]; already {
			continue
		}
		t := topic
		handle := r.Subscribe(t, func(ev router.Event) {
			c.send(Frame{Type: ev.Topic, Payload: ev.Payload, Timestamp: time.Now().UnixMilli()})
		})
		c.subs[t] = handle
	}
}

func (c *clientConn) unsubscribe(events []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, topic := range events {
		if topic == "all" {
			topic = router.WildcardTopic
		}
		if handle, ok := c.subs[topic]; ok {
			handle.Close()
			delete(c.subs, topic)
		}
	}
}

func (c *clientConn) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, handle := range c.subs {
		handle.Close()
		delete(c.subs, topic)
	}
}

func (c *clientConn) send(f Frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	body, err := json.Marshal(f)
	if err != nil {
		c.log.Warnw("transport: failed to marshal frame", "error", err)
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		c.log.Debugw("transport: write failed, client likely disconnected", "error", err)
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
