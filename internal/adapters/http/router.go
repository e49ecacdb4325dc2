package http

import (
	"context"
	"net/http"

	"github.com/dkeye/novacast/internal/adapters/signal"
	"github.com/dkeye/novacast/internal/broker"
	"github.com/dkeye/novacast/internal/config"
	"github.com/dkeye/novacast/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sessionTokenKey = "token"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware keeps a per-browser token in the cookie session.
// The broker uses it to let a page reclaim its own identity on reconnect.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(sessionTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(sessionTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func newEngine(cfg *config.Config) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	return r
}

// SetupRouter wires the broker: identity REST endpoints and the signaling socket.
func SetupRouter(ctx context.Context, cfg *config.Config, reg *broker.Registry, ctrl *signal.SignalWSController) *gin.Engine {
	r := newEngine(cfg)

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("NovaCastSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "peers": reg.Len()})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	// GET /api/id: a fresh identity for clients that pick their own.
	api.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, string(domain.NewIdentity()))
	})

	api.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": reg.Snapshot()})
	})

	// GET /api/resolve/:code: join code to identity, oldest match wins.
	api.GET("/resolve/:code", func(c *gin.Context) {
		code, ok := domain.ParseJoinCode(c.Param("code"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid join code"})
			return
		}
		id, ok := reg.Resolve(code)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown join code"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "join_code": code})
	})

	api.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
