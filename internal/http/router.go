package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/mkowalczyk/sheethub/internal/auth"
	"github.com/mkowalczyk/sheethub/internal/cache"
	"github.com/mkowalczyk/sheethub/internal/config"
	"github.com/mkowalczyk/sheethub/internal/domain/user"
	"github.com/mkowalczyk/sheethub/internal/http/handlers"
	"github.com/mkowalczyk/sheethub/internal/http/middlewares"
	"github.com/mkowalczyk/sheethub/internal/notifications"
	"github.com/mkowalczyk/sheethub/internal/observability"
	"github.com/mkowalczyk/sheethub/internal/realtime"
	"github.com/mkowalczyk/sheethub/internal/repo/postgres"
)

const maxRequestBody = 5 << 20 // generous headroom above the avatar cap

// Deps carries everything the router wires together; main builds it
// once at startup.
type Deps struct {
	Cfg      config.Config
	Log      *slog.Logger
	Pool     *pgxpool.Pool
	Prom     *observability.Prom
	Bus      realtime.Broadcaster
	Hub      *realtime.Hub
	Notifier notifications.Notifier
	Metrics  http.Handler
}

func NewRouter(d Deps) *gin.Engine {
	if d.Cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.Cfg.AllowedOrigins))

	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	if d.Cfg.OtelEnabled {
		r.Use(otelgin.Middleware("sheethub"))
	}

	// health
	ping := func() error {
		if d.Pool == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return d.Pool.Ping(ctx)
	}

	health := handlers.NewHealthHandler(ping)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)

	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	// wire up repositories
	usersRepo := postgres.NewUsersRepo(d.Pool, d.Prom)
	charsRepo := postgres.NewCharactersRepo(d.Pool, d.Prom)
	versionsRepo := postgres.NewVersionsRepo(d.Pool, d.Prom)

	jwtManager := auth.NewManager(d.Cfg.JWTSecret, time.Duration(d.Cfg.JWTAccessTTLDays)*24*time.Hour)
	authMw := middlewares.NewAuthMiddleware(jwtManager)
	listCache := cache.New(5 * time.Second)

	authHandler := handlers.NewAuthHandler(usersRepo, usersRepo, usersRepo, jwtManager, d.Notifier, d.Cfg, d.Log)
	charsHandler := handlers.NewCharactersHandler(charsRepo, versionsRepo, usersRepo, listCache, d.Bus, d.Log)
	usersHandler := handlers.NewUsersHandler(usersRepo, d.Log)

	// websocket subscriptions share the HTTP token
	if d.Hub != nil {
		ws := realtime.NewHandler(d.Hub, jwtManager, usersRepo)
		r.GET("/ws", ws.Serve)
	}

	api := r.Group("/api")
	api.Use(middlewares.RequireJSON())
	api.Use(middlewares.MaxBodyBytes(maxRequestBody))

	// credential endpoints get a tighter per-IP budget
	authLimiter := middlewares.NewRateLimiter(10, time.Minute)

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/register", authLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.Register)
		authGroup.POST("/login", authLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.Login)
		authGroup.POST("/forgot-password", authLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.ForgotPassword)
		authGroup.POST("/reset-password/:token", authLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.ResetPassword)
		authGroup.GET("/me", authMw.RequireAuth(), authHandler.Me)
	}

	chars := api.Group("/characters", authMw.RequireAuth())
	{
		chars.GET("", charsHandler.ListAll)
		chars.GET("/player", charsHandler.ListMine)
		chars.POST("", charsHandler.Create)
		chars.GET("/:id", charsHandler.Get)
		chars.PUT("/:id", charsHandler.Update)
		chars.DELETE("/:id", charsHandler.Delete)
		chars.GET("/:id/versions", charsHandler.ListVersions)
		chars.POST("/:id/versions/:versionId/restore", charsHandler.Restore)
	}

	usersGroup := api.Group("/users", authMw.RequireAuth())
	{
		usersGroup.GET("/players", authMw.RequireRole(user.RoleGM), usersHandler.ListPlayers)
	}

	return r
}
