package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Estimate/internal/app/orch"
	"github.com/dkeye/Estimate/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// TokenKey is the gin context key under which middleware may leave a bearer
// token recovered from the cookie session.
const TokenKey = "bearer_token"

type Config struct {
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	ReadLimit    int64
	SendBuffer   int
	RateLimit    int
	RateInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 * 1024
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 20
	}
	if c.RateInterval <= 0 {
		c.RateInterval = time.Second
	}
	return c
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Verifier core.Verifier

	cfg     Config
	limiter *IntentRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, v core.Verifier, cfg Config) *SignalWSController {
	cfg = cfg.withDefaults()
	return &SignalWSController{
		Orch:     o,
		Verifier: v,
		cfg:      cfg,
		limiter:  NewIntentRateLimiter(cfg.RateLimit, cfg.RateInterval),
	}
}

// WsSignalConn is the core.SignalConnection of one WebSocket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Drain stops accepting frames. The write pump flushes what is queued, sends
// a close frame and closes the socket.
func (c *WsSignalConn) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *WsSignalConn) Close() {
	c.Drain()
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// BearerToken extracts the credential from the Authorization header or the
// token query parameter.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// HandleSignal authenticates the handshake and upgrades it. An invalid
// credential is refused with 401 before any upgrade.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := BearerToken(c.Request)
	if token == "" {
		token = c.GetString(TokenKey)
	}
	user, err := ctl.Verifier.Verify(token)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("handshake rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	cid := core.ConnID(uuid.NewString())
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(cid, user, func() {
		cancel()
		conn.Close()
	})
	log.Info().Str("module", "signal").Str("conn", string(cid)).Str("user", string(user.ID)).Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, cid, conn)
}
