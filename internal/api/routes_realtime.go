package api

import (
	"github.com/gin-gonic/gin"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/handlers"
)

// The websocket route authenticates inside the handler: browsers cannot set
// an Authorization header on the upgrade request, so the bearer middleware
// would reject every connect.
func registerRealtimeRoutes(r *gin.Engine, handler *handlers.RealtimeHandler) {
	r.GET("/api/ws/notifications", handler.Stream)
}
