package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Sketch/internal/adapters/signal"
	"github.com/dkeye/Sketch/internal/app/orch"
	"github.com/dkeye/Sketch/internal/config"
	"github.com/dkeye/Sketch/internal/domain"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	sessionName    = "SketchSessions"
	clientTokenKey = "client_token"
)

// ClientTokenMiddleware gives every browser a stable token kept in the
// cookie session. It identifies the client in logs, not the connection.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			s.Set(clientTokenKey, token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

// SetupRouter wires REST, metrics and the WebSocket endpoint.
// gatherer may be nil when metrics are off.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	corsCfg.AllowOriginFunc = allowOrigin(cfg.AllowedOrigins)
	r.Use(cors.New(corsCfg))

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"rooms":       o.Rooms.Count(),
			"connections": o.Registry.Count(),
		})
	})

	if cfg.Metrics.Enabled && gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")

	// GET /api/rooms: rooms held in memory
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": o.Rooms.List()})
	})

	// GET /api/rooms/:code: one room with its live members
	api.GET("/rooms/:code", func(c *gin.Context) {
		code := domain.RoomCode(c.Param("code"))
		room, ok := o.Rooms.Get(code)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		snap := room.Snapshot()
		members, err := o.RoomPresence(c.Request.Context(), code)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Str("room", string(code)).Msg("presence lookup")
			members = []string{}
		}
		c.JSON(http.StatusOK, gin.H{
			"code":       code,
			"members":    room.MemberCount(),
			"history":    len(snap.History),
			"redo_stack": len(snap.RedoStack),
			"presence":   members,
		})
	})

	// DELETE /api/rooms/:code: drop an empty room
	api.DELETE("/rooms/:code", func(c *gin.Context) {
		code := domain.RoomCode(c.Param("code"))
		if _, ok := o.Rooms.Get(code); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		if !o.StopRoom(code) {
			c.JSON(http.StatusConflict, gin.H{"error": "room has members"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	ctrl := signal.NewSignalWSController(o, signal.SettingsFrom(cfg))
	api.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Strs("origins", cfg.AllowedOrigins).Bool("metrics", cfg.Metrics.Enabled).Msg("router setup")
	return r
}

func allowOrigin(allowed []string) func(string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	_, wildcard := set["*"]
	return func(origin string) bool {
		if wildcard {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
