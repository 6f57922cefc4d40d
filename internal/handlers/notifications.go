package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/services"
	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/errors"
	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/response"
)

// NotificationHandler exposes HTTP endpoints for the notification store,
// the dispatcher and the manual sync protocol.
type NotificationHandler struct {
	store      *services.NotificationService
	dispatcher *services.DispatchService
	syncer     *services.SyncService
	sessions   services.SessionLister
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(
	store *services.NotificationService,
	dispatcher *services.DispatchService,
	syncer *services.SyncService,
	sessions services.SessionLister,
) (*NotificationHandler, error) {
	if store == nil {
		return nil, errors.New("INVALID_HANDLER", "notification service is required", http.StatusInternalServerError)
	}
	return &NotificationHandler{
		store:      store,
		dispatcher: dispatcher,
		syncer:     syncer,
		sessions:   sessions,
	}, nil
}

// List returns one page of the inbox view for the current user.
func (h *NotificationHandler) List(c *gin.Context) {
	h.listView(c, services.ViewInbox)
}

// ListUnread returns one page of unread notifications.
func (h *NotificationHandler) ListUnread(c *gin.Context) {
	h.listView(c, services.ViewUnread)
}

// ListBookmarked returns one page of bookmarked notifications.
func (h *NotificationHandler) ListBookmarked(c *gin.Context) {
	h.listView(c, services.ViewBookmarked)
}

// ListArchived returns one page of archived notifications.
func (h *NotificationHandler) ListArchived(c *gin.Context) {
	h.listView(c, services.ViewArchived)
}

// ListActive returns every non-deleted notification, archived included.
func (h *NotificationHandler) ListActive(c *gin.Context) {
	h.listView(c, services.ViewActive)
}

func (h *NotificationHandler) listView(c *gin.Context, view services.View) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	page, err := h.store.List(requestContext(c), userID, view, services.PageRequest{
		Page: parseIntQuery(c, "page", 0),
		Size: parseIntQuery(c, "size", 0),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, page.Items, &response.Meta{
		Page:        page.Page,
		Size:        page.Size,
		Total:       page.TotalElements,
		TotalPages:  page.TotalPages,
		HasNext:     page.HasNext,
		HasPrevious: page.HasPrevious,
	})
}

// UnreadCount returns the unread total with a per-type breakdown.
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	count, err := h.store.UnreadCount(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, count)
}

// EnhancedUnreadCount adds bookmark and archive totals to the unread breakdown.
func (h *NotificationHandler) EnhancedUnreadCount(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	count, err := h.store.EnhancedCount(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, count)
}

// Create persists a notification and fans it out to the recipient's live
// sessions. Intended for internal producers and admin tooling.
func (h *NotificationHandler) Create(c *gin.Context) {
	var payload struct {
		UserID        string         `json:"user_id" validate:"required"`
		Type          string         `json:"type" validate:"required"`
		Title         string         `json:"title" validate:"required,max=255"`
		Content       string         `json:"content" validate:"max=4000"`
		ReferenceID   string         `json:"reference_id"`
		ReferenceType string         `json:"reference_type"`
		SenderName    string         `json:"sender_name"`
		SenderAvatar  string         `json:"sender_avatar"`
		ActionURL     string         `json:"action_url"`
		Metadata      map[string]any `json:"metadata"`
	}

	if !bindAndValidate(c, &payload) {
		return
	}

	dto, err := h.dispatcher.CreateAndSend(requestContext(c), services.CreateNotificationInput{
		UserID:        payload.UserID,
		Type:          payload.Type,
		Title:         payload.Title,
		Content:       payload.Content,
		ReferenceID:   payload.ReferenceID,
		ReferenceType: payload.ReferenceType,
		SenderName:    payload.SenderName,
		SenderAvatar:  payload.SenderAvatar,
		ActionURL:     payload.ActionURL,
		Metadata:      payload.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, dto)
}

// MarkRead marks a batch of notifications as read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	ids, ok := bindIDsPayload(c)
	if !ok {
		return
	}

	updated, err := h.store.MarkRead(requestContext(c), userID, ids)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// MarkAllRead marks every unread notification of the user as read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	updated, err := h.store.MarkAllRead(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// ToggleBookmark flips the bookmark flag of one notification.
func (h *NotificationHandler) ToggleBookmark(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	dto, err := h.store.ToggleBookmark(requestContext(c), userID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, dto)
}

// Archive moves a batch of notifications to the archive.
func (h *NotificationHandler) Archive(c *gin.Context) {
	h.setArchived(c, true)
}

// Unarchive restores a batch of notifications from the archive.
func (h *NotificationHandler) Unarchive(c *gin.Context) {
	h.setArchived(c, false)
}

func (h *NotificationHandler) setArchived(c *gin.Context, archived bool) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	ids, ok := bindIDsPayload(c)
	if !ok {
		return
	}

	updated, err := h.store.SetArchived(requestContext(c), userID, ids, archived)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// Delete logically removes a single notification.
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.store.Delete(requestContext(c), userID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// DeleteMany logically removes a batch of notifications.
func (h *NotificationHandler) DeleteMany(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	ids, ok := bindIDsPayload(c)
	if !ok {
		return
	}

	deleted, err := h.store.DeleteMany(requestContext(c), userID, ids)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": deleted})
}

// Sync replays the caller's unread backlog to one of their live sessions.
func (h *NotificationHandler) Sync(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var payload struct {
		SessionID string `json:"session_id"`
	}
	if c.Request.ContentLength != 0 && !bindAndValidate(c, &payload) {
		return
	}

	// Without a target session the replay covers every live session of
	// the caller.
	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		summary, err := h.syncer.RunForUser(requestContext(c), userID, services.SyncTriggerManual)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, http.StatusOK, summary)
		return
	}

	// The target session must belong to the caller; replaying someone
	// else's backlog to it would leak their notifications.
	owned, err := h.ownsSession(c, userID, sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !owned {
		response.Error(c, errors.ErrNotFound)
		return
	}

	summary, err := h.syncer.Run(requestContext(c), userID, sessionID, services.SyncTriggerManual)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}

// Sessions lists the caller's live sessions as seen by the presence registry.
func (h *NotificationHandler) Sessions(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	sessions, err := h.sessions.ListSessions(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"online":   len(sessions) > 0,
		"sessions": sessions,
	})
}

func (h *NotificationHandler) ownsSession(c *gin.Context, userID, sessionID string) (bool, error) {
	sessions, err := h.sessions.ListSessions(requestContext(c), userID)
	if err != nil {
		return false, err
	}
	for _, session := range sessions {
		if session.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

// bindIDsPayload accepts the three id batch shapes clients send: a bare JSON
// array, {"ids": [...]} and the legacy {"notificationIds": [...]}.
func bindIDsPayload(c *gin.Context) ([]string, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		response.Error(c, errors.NewBadRequest("unable to read request body"))
		return nil, false
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		response.Error(c, errors.NewValidation("notification ids are required"))
		return nil, false
	}

	var ids []string
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(raw, &ids); err != nil {
			response.Error(c, errors.NewBadRequest("invalid JSON payload"))
			return nil, false
		}
	} else {
		var wrapper struct {
			IDs             []string `json:"ids"`
			NotificationIDs []string `json:"notificationIds"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			response.Error(c, errors.NewBadRequest("invalid JSON payload"))
			return nil, false
		}
		ids = wrapper.IDs
		if len(ids) == 0 {
			ids = wrapper.NotificationIDs
		}
	}

	if len(ids) == 0 {
		response.Error(c, errors.NewValidation(`send a bare JSON array of ids, {"ids": [...]}, or {"notificationIds": [...]}`))
		return nil, false
	}
	return ids, true
}
