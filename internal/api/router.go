package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/app"
	iauth "github.com/cuonglevan23/taskflow-backend-sub003/internal/auth"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/handlers"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/middleware"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/realtime"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/services"
)

// Deps bundles the long-lived services the router needs.
type Deps struct {
	Config     *app.Config
	JWT        *iauth.JWTService
	Hub        *realtime.Hub
	Store      *services.NotificationService
	Dispatcher *services.DispatchService
	Syncer     *services.SyncService
	Sessions   services.SessionLister
	RateStore  middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("realtime hub must be provided")
	}
	if deps.Store == nil || deps.Dispatcher == nil || deps.Syncer == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("notification services must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	r.Use(rateLimiter(deps))

	r.NoRoute(middleware.NotFoundHandler)

	r.GET("/health", handlers.Health())

	if deps.Config.Monitoring.Prometheus.Enabled {
		endpoint := deps.Config.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	notificationHandler, err := handlers.NewNotificationHandler(deps.Store, deps.Dispatcher, deps.Syncer, deps.Sessions)
	if err != nil {
		return nil, err
	}

	realtimeHandler, err := handlers.NewRealtimeHandler(deps.Hub, deps.JWT)
	if err != nil {
		return nil, err
	}

	registerRealtimeRoutes(r, realtimeHandler)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))
	registerNotificationRoutes(api, notificationHandler)

	return r, nil
}

func rateLimiter(deps Deps) gin.HandlerFunc {
	requests := deps.Config.Server.RateLimit.Requests
	window := deps.Config.Server.RateLimit.Window
	if requests <= 0 {
		requests = 100
	}
	if window <= 0 {
		window = time.Minute
	}

	if deps.RateStore != nil {
		return middleware.RateLimitWithStore(deps.RateStore, requests, window)
	}
	return middleware.RateLimit(requests, window)
}
