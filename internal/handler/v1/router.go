package v1

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/afya-pulse/triage-api/internal/config"
	"github.com/afya-pulse/triage-api/internal/realtime"
	"github.com/afya-pulse/triage-api/pkg/auth"
	"github.com/afya-pulse/triage-api/pkg/metrics"
)

type RouterDeps struct {
	Config     *config.Config
	Triage     *TriageHandler
	User       *UserHandler
	USSD       *USSDHandler
	Hub        *realtime.Hub
	JWTManager *auth.JWTManager
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(deps.Logger))
	r.Use(Metrics(deps.Metrics))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     deps.Config.CORS.AllowedMethods,
		AllowHeaders:     deps.Config.CORS.AllowedHeaders,
		AllowCredentials: true,
		MaxAge:           deps.Config.CORS.MaxAge,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": deps.Config.App.Name,
			"version": deps.Config.App.Version,
		})
	})
	r.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	r.GET("/ws", func(c *gin.Context) {
		deps.Hub.ServeWS(c.Writer, c.Request)
	})

	api := r.Group("/api")
	{
		users := api.Group("/users")
		{
			users.POST("/login", deps.User.Login)
			users.POST("/refresh", deps.User.Refresh)
		}

		// The telco gateway authenticates at the network edge, not with
		// a bearer token.
		api.POST("/ussd", deps.USSD.Handle)

		triage := api.Group("/triage")
		{
			triage.POST("", OptionalAuth(deps.JWTManager), deps.Triage.Submit)

			authed := triage.Group("", RequireAuth(deps.JWTManager))
			{
				authed.GET("/queue", deps.Triage.Queue)
				authed.GET("/stats", deps.Triage.Stats)
				authed.PUT("/:id/resolve", deps.Triage.Resolve)
			}
		}
	}

	return r
}
