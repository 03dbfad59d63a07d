package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Sketch/internal/app/orch"
	"github.com/dkeye/Sketch/internal/config"
	"github.com/dkeye/Sketch/internal/core"
	"github.com/dkeye/Sketch/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	writeWait         = 5 * time.Second
	defaultPingPeriod = 54 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultSendBuffer = 256
)

type Settings struct {
	AllowedOrigins []string
	ReadLimit      int64
	PingPeriod     time.Duration
	PongWait       time.Duration
	SendBuffer     int
	JoinLimit      int
	JoinInterval   time.Duration
}

func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		AllowedOrigins: cfg.AllowedOrigins,
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		PongWait:       cfg.PongWait,
		SendBuffer:     cfg.SendBuffer,
		JoinLimit:      cfg.JoinLimit.Count,
		JoinInterval:   cfg.JoinLimit.Interval,
	}
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RoomRateLimiter

	settings Settings
	upgrader websocket.Upgrader
	tracer   trace.Tracer
}

func NewSignalWSController(o *orch.Orchestrator, s Settings) *SignalWSController {
	if s.PingPeriod <= 0 {
		s.PingPeriod = defaultPingPeriod
	}
	if s.PongWait <= s.PingPeriod {
		s.PongWait = s.PingPeriod * 10 / 9
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = defaultSendBuffer
	}
	ctl := &SignalWSController{
		Orch:     o,
		settings: s,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(s.AllowedOrigins)},
		tracer:   otel.Tracer("github.com/dkeye/Sketch/internal/adapters/signal"),
	}
	if s.JoinLimit > 0 && s.JoinInterval > 0 {
		ctl.Limiter = NewRoomRateLimiter(s.JoinLimit, s.JoinInterval)
	}
	return ctl
}

// originChecker accepts requests without an Origin header (non-browser
// clients), "*" and exact matches.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

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
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	token := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client", token).Msg("new WS connection")

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.settings.ReadLimit > 0 {
		ws.SetReadLimit(ctl.settings.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.settings.SendBuffer),
	}

	sess := core.NewMemberSession(domain.NewMember(token, time.Now()), conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(sid, sess, func() {
		cancel()
		conn.Close()
	})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}
