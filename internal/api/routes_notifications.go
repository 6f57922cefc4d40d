package api

import (
	"github.com/gin-gonic/gin"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/handlers"
)

func registerNotificationRoutes(api *gin.RouterGroup, handler *handlers.NotificationHandler) {
	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.GET("/unread", handler.ListUnread)
		group.GET("/bookmarked", handler.ListBookmarked)
		group.GET("/archived", handler.ListArchived)
		group.GET("/active", handler.ListActive)
		group.GET("/unread-count", handler.UnreadCount)
		group.GET("/unread-count/enhanced", handler.EnhancedUnreadCount)
		group.GET("/sessions", handler.Sessions)

		group.POST("", handler.Create)
		group.POST("/read", handler.MarkRead)
		group.POST("/read-all", handler.MarkAllRead)
		group.POST("/:id/bookmark", handler.ToggleBookmark)
		group.POST("/archive", handler.Archive)
		group.POST("/unarchive", handler.Unarchive)
		group.POST("/delete", handler.DeleteMany)
		group.POST("/sync", handler.Sync)
		group.DELETE("/:id", handler.Delete)
	}
}
