package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/cuonglevan23/taskflow-backend-sub003/internal/auth"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/realtime"
	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/errors"
	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/response"
)

// RealtimeHandler upgrades authenticated requests to websocket connections
// on the notification hub.
type RealtimeHandler struct {
	hub *realtime.Hub
	jwt *iauth.JWTService
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, jwt *iauth.JWTService) (*RealtimeHandler, error) {
	if hub == nil || jwt == nil {
		return nil, errors.ErrInternalServer.WithInternal(errors.New("INVALID_HANDLER", "hub and jwt service are required", 500))
	}
	return &RealtimeHandler{hub: hub, jwt: jwt}, nil
}

// Stream authenticates the request and hands the connection to the hub.
// Browsers cannot set headers on websocket requests, so the token is also
// accepted as a query parameter.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}
	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	device := strings.TrimSpace(claims.DeviceInfo)
	if device == "" {
		device = strings.TrimSpace(c.Request.UserAgent())
	}

	h.hub.Serve(claims.UserID, device, c.Writer, c.Request)
}
