package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/dkeye/Estimate/internal/adapters/signal"
	"github.com/dkeye/Estimate/internal/app/orch"
	"github.com/dkeye/Estimate/internal/auth"
	"github.com/dkeye/Estimate/internal/config"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionCookie   = "EstimateSessions"
	sessionTokenKey = "token"
	userKey         = "user"
)

// TokenMiddleware copies a bearer token kept in the cookie session into the
// request context, unless the request already carries one.
func TokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := signal.BearerToken(c.Request)
		if token == "" {
			if v, ok := sessions.Default(c).Get(sessionTokenKey).(string); ok {
				token = v
			}
		}
		c.Set(signal.TokenKey, token)
		c.Next()
	}
}

// RequireUser verifies the request token and stores the caller under "user".
func RequireUser(tokens *auth.JWT) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := tokens.Verify(c.GetString(signal.TokenKey))
		if err != nil {
			abortWithError(c, domain.ErrUnauthenticated)
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.User {
	u, _ := c.Get(userKey)
	user, _ := u.(domain.User)
	return user
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctrl *signal.SignalWSController, tokens *auth.JWT) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int(cfg.TokenTTL.Seconds()), HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionCookie, store))
	r.Use(TokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(strings.TrimRight(cfg.StaticPath, "/") + "/index.html")
		})
	}

	h := &handlers{orch: o, tokens: tokens, cfg: cfg}
	r.GET("/health", h.health)

	api := r.Group("/api")
	api.POST("/auth/session", h.storeToken)
	api.DELETE("/auth/session", h.clearToken)
	if cfg.Mode == "debug" {
		api.POST("/dev/token", h.devToken)
	}

	api.GET("/ws", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	authed := api.Group("", RequireUser(tokens))
	authed.POST("/sessions", h.createSession)
	authed.GET("/sessions/:id", h.getSession)
	authed.DELETE("/sessions/:id", h.endSession)
	authed.POST("/sessions/:id/participants", h.enroll)
	authed.GET("/sessions/:id/stories/:storyId/rounds", h.rounds)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Str("mode", cfg.Mode).Msg("router setup")
	return r
}
