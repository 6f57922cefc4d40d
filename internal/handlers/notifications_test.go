package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/database/testutil"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/middleware"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/presence"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/realtime"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/services"
)

type stubPusher struct {
	mu     sync.Mutex
	pushes map[string][]realtime.Message
}

func (p *stubPusher) PushToSession(sessionID string, msg realtime.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pushes == nil {
		p.pushes = make(map[string][]realtime.Message)
	}
	p.pushes[sessionID] = append(p.pushes[sessionID], msg)
	return true
}

func (p *stubPusher) count(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes[sessionID])
}

type stubLister struct {
	sessions map[string][]presence.Session
}

func (l *stubLister) ListSessions(_ context.Context, userID string) ([]presence.Session, error) {
	return l.sessions[userID], nil
}

type handlerEnv struct {
	handler *NotificationHandler
	store   *services.NotificationService
	pusher  *stubPusher
	lister  *stubLister
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := services.NewNotificationService(db)
	require.NoError(t, err)

	pusher := &stubPusher{}
	lister := &stubLister{sessions: make(map[string][]presence.Session)}

	dispatcher, err := services.NewDispatchService(store, lister, pusher)
	require.NoError(t, err)
	t.Cleanup(dispatcher.Close)

	syncer, err := services.NewSyncService(store, lister, pusher)
	require.NoError(t, err)

	handler, err := NewNotificationHandler(store, dispatcher, syncer, lister)
	require.NoError(t, err)

	return &handlerEnv{handler: handler, store: store, pusher: pusher, lister: lister}
}

func (e *handlerEnv) request(t *testing.T, userID, method, target string, body any) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = req
	if userID != "" {
		ctx.Set(middleware.CtxUserIDKey, userID)
	}
	return rec, ctx
}

func (e *handlerEnv) seed(t *testing.T, userID, title string) *services.NotificationDTO {
	t.Helper()

	dto, err := e.store.Create(context.Background(), services.CreateNotificationInput{
		UserID: userID,
		Type:   "COMMENT",
		Title:  title,
	})
	require.NoError(t, err)
	return dto
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

func TestNotificationListRequiresAuth(t *testing.T) {
	env := newHandlerEnv(t)

	rec, ctx := env.request(t, "", http.MethodGet, "/api/notifications", nil)
	env.handler.List(ctx)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNotificationListReturnsPagedEnvelope(t *testing.T) {
	env := newHandlerEnv(t)
	env.seed(t, "user-42", "first")
	env.seed(t, "user-42", "second")
	env.seed(t, "user-7", "not yours")

	rec, ctx := env.request(t, "user-42", http.MethodGet, "/api/notifications?page=0&size=1", nil)
	env.handler.List(ctx)
	require.Equal(t, http.StatusOK, rec.Code)

	envelope := decodeEnvelope(t, rec)
	require.Equal(t, true, envelope["success"])
	items := envelope["data"].([]any)
	require.Len(t, items, 1)
	meta := envelope["meta"].(map[string]any)
	require.Equal(t, float64(2), meta["total"])
	require.Equal(t, true, meta["has_next"])
}

func TestNotificationCreateDispatches(t *testing.T) {
	env := newHandlerEnv(t)
	env.lister.sessions["user-42"] = []presence.Session{{UserID: "user-42", SessionID: "sess-a"}}

	rec, ctx := env.request(t, "system", http.MethodPost, "/api/notifications", map[string]any{
		"user_id": "user-42",
		"type":    "TASK_ASSIGNED",
		"title":   "Task assigned",
	})
	env.handler.Create(ctx)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Eventually(t, func() bool {
		return env.pusher.count("sess-a") == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNotificationCreateRejectsMissingFields(t *testing.T) {
	env := newHandlerEnv(t)

	rec, ctx := env.request(t, "system", http.MethodPost, "/api/notifications", map[string]any{
		"type": "COMMENT",
	})
	env.handler.Create(ctx)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkReadAcceptsAllPayloadShapes(t *testing.T) {
	env := newHandlerEnv(t)

	for _, shape := range []func(id string) any{
		func(id string) any { return []string{id} },
		func(id string) any { return map[string]any{"ids": []string{id}} },
		func(id string) any { return map[string]any{"notificationIds": []string{id}} },
	} {
		dto := env.seed(t, "user-42", "unread")

		rec, ctx := env.request(t, "user-42", http.MethodPost, "/api/notifications/read", shape(dto.ID))
		env.handler.MarkRead(ctx)
		require.Equal(t, http.StatusOK, rec.Code)

		envelope := decodeEnvelope(t, rec)
		data := envelope["data"].(map[string]any)
		require.Equal(t, float64(1), data["updated"])
	}
}

func TestMarkReadRejectsEmptyPayload(t *testing.T) {
	env := newHandlerEnv(t)

	rec, ctx := env.request(t, "user-42", http.MethodPost, "/api/notifications/read", map[string]any{})
	env.handler.MarkRead(ctx)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	envelope := decodeEnvelope(t, rec)
	errObj := envelope["error"].(map[string]any)
	require.Contains(t, errObj["message"], "ids")
}

func TestToggleBookmarkUnknownID(t *testing.T) {
	env := newHandlerEnv(t)

	rec, ctx := env.request(t, "user-42", http.MethodPost, "/api/notifications/missing/bookmark", nil)
	ctx.Params = gin.Params{{Key: "id", Value: "missing"}}
	env.handler.ToggleBookmark(ctx)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteThenRepeatIsNotFound(t *testing.T) {
	env := newHandlerEnv(t)
	dto := env.seed(t, "user-42", "delete me")

	rec, ctx := env.request(t, "user-42", http.MethodDelete, "/api/notifications/"+dto.ID, nil)
	ctx.Params = gin.Params{{Key: "id", Value: dto.ID}}
	env.handler.Delete(ctx)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, ctx = env.request(t, "user-42", http.MethodDelete, "/api/notifications/"+dto.ID, nil)
	ctx.Params = gin.Params{{Key: "id", Value: dto.ID}}
	env.handler.Delete(ctx)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchiveBatch(t *testing.T) {
	env := newHandlerEnv(t)
	first := env.seed(t, "user-42", "a")
	second := env.seed(t, "user-42", "b")

	rec, ctx := env.request(t, "user-42", http.MethodPost, "/api/notifications/archive", map[string]any{
		"ids": []string{first.ID, second.ID},
	})
	env.handler.Archive(ctx)
	require.Equal(t, http.StatusOK, rec.Code)

	envelope := decodeEnvelope(t, rec)
	data := envelope["data"].(map[string]any)
	require.Equal(t, float64(2), data["updated"])
}

func TestSyncRejectsForeignSession(t *testing.T) {
	env := newHandlerEnv(t)
	env.lister.sessions["user-7"] = []presence.Session{{UserID: "user-7", SessionID: "sess-other"}}

	rec, ctx := env.request(t, "user-42", http.MethodPost, "/api/notifications/sync", map[string]any{
		"session_id": "sess-other",
	})
	env.handler.Sync(ctx)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncReplaysToOwnedSession(t *testing.T) {
	env := newHandlerEnv(t)
	env.lister.sessions["user-42"] = []presence.Session{{UserID: "user-42", SessionID: "sess-a"}}
	env.seed(t, "user-42", "unread one")

	rec, ctx := env.request(t, "user-42", http.MethodPost, "/api/notifications/sync", map[string]any{
		"session_id": "sess-a",
	})
	env.handler.Sync(ctx)
	require.Equal(t, http.StatusOK, rec.Code)

	envelope := decodeEnvelope(t, rec)
	data := envelope["data"].(map[string]any)
	require.Equal(t, float64(1), data["replayed"])
	require.GreaterOrEqual(t, env.pusher.count("sess-a"), 1)
}

func TestSyncWithoutSessionCoversAllSessions(t *testing.T) {
	env := newHandlerEnv(t)
	env.lister.sessions["user-42"] = []presence.Session{
		{UserID: "user-42", SessionID: "sess-a"},
		{UserID: "user-42", SessionID: "sess-b"},
	}
	env.seed(t, "user-42", "unread one")

	rec, ctx := env.request(t, "user-42", http.MethodPost, "/api/notifications/sync", nil)
	env.handler.Sync(ctx)
	require.Equal(t, http.StatusOK, rec.Code)

	envelope := decodeEnvelope(t, rec)
	data := envelope["data"].(map[string]any)
	require.Equal(t, float64(1), data["unread"])
	require.Equal(t, float64(2), data["replayed"], "both sessions replay the backlog")
	require.GreaterOrEqual(t, env.pusher.count("sess-a"), 1)
	require.GreaterOrEqual(t, env.pusher.count("sess-b"), 1)
}

func TestSyncWithoutLiveSessionsStillReportsCounters(t *testing.T) {
	env := newHandlerEnv(t)
	env.seed(t, "user-42", "unread one")

	rec, ctx := env.request(t, "user-42", http.MethodPost, "/api/notifications/sync", nil)
	env.handler.Sync(ctx)
	require.Equal(t, http.StatusOK, rec.Code)

	envelope := decodeEnvelope(t, rec)
	data := envelope["data"].(map[string]any)
	require.Equal(t, float64(1), data["unread"])
	require.Equal(t, float64(0), data["replayed"])
}

func TestSessionsEndpoint(t *testing.T) {
	env := newHandlerEnv(t)
	env.lister.sessions["user-42"] = []presence.Session{{UserID: "user-42", SessionID: "sess-a"}}

	rec, ctx := env.request(t, "user-42", http.MethodGet, "/api/notifications/sessions", nil)
	env.handler.Sessions(ctx)
	require.Equal(t, http.StatusOK, rec.Code)

	envelope := decodeEnvelope(t, rec)
	data := envelope["data"].(map[string]any)
	require.Equal(t, true, data["online"])
}
