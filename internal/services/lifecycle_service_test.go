package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/presence"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/realtime"
	apperrors "github.com/cuonglevan23/taskflow-backend-sub003/pkg/errors"
)

var _ realtime.ConnectionListener = (*LifecycleService)(nil)

type fakeTracker struct {
	mu         sync.Mutex
	added      []string
	removed    []string
	heartbeats []string
	owners     map[string]string
	addErr     error
	removeErr  error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{owners: make(map[string]string)}
}

func (f *fakeTracker) AddSession(_ context.Context, userID, sessionID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, sessionID)
	f.owners[sessionID] = userID
	return nil
}

func (f *fakeTracker) RemoveSession(_ context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return "", f.removeErr
	}
	owner, ok := f.owners[sessionID]
	if !ok {
		return "", presence.ErrSessionNotFound
	}
	delete(f.owners, sessionID)
	f.removed = append(f.removed, sessionID)
	return owner, nil
}

func (f *fakeTracker) Heartbeat(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.owners[sessionID]; !ok {
		return presence.ErrSessionNotFound
	}
	f.heartbeats = append(f.heartbeats, sessionID)
	return nil
}

type fakeSyncer struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (f *fakeSyncer) Run(_ context.Context, userID, sessionID string, trigger SyncTrigger) (*SyncSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.runs = append(f.runs, userID+"/"+sessionID+"/"+string(trigger))
	return &SyncSummary{}, nil
}

type fakeAnnouncer struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAnnouncer) Broadcast(_ context.Context, userID, event string, _ any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, userID+"/"+event)
	return 1
}

func newLifecycleService(t *testing.T) (*LifecycleService, *fakeTracker, *fakeSyncer) {
	t.Helper()

	tracker := newFakeTracker()
	syncer := &fakeSyncer{}
	svc, err := NewLifecycleService(tracker, syncer, nil)
	require.NoError(t, err)
	return svc, tracker, syncer
}

func TestOnConnectRegistersPresence(t *testing.T) {
	svc, tracker, _ := newLifecycleService(t)

	require.NoError(t, svc.OnConnect(context.Background(), "user-42", "sess-a", "web/firefox"))
	require.Equal(t, []string{"sess-a"}, tracker.added)
}

func TestOnConnectRejectsAnonymous(t *testing.T) {
	svc, tracker, _ := newLifecycleService(t)

	err := svc.OnConnect(context.Background(), "  ", "sess-a", "")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	require.Empty(t, tracker.added)
}

func TestOnConnectPropagatesRegistryFailure(t *testing.T) {
	svc, tracker, _ := newLifecycleService(t)
	tracker.addErr = errors.New("store unavailable")

	err := svc.OnConnect(context.Background(), "user-42", "sess-a", "")
	require.Error(t, err)
}

func TestOnReadyTriggersConnectSync(t *testing.T) {
	svc, _, syncer := newLifecycleService(t)

	svc.OnReady(context.Background(), "user-42", "sess-a")

	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	require.Equal(t, []string{"user-42/sess-a/connect"}, syncer.runs)
}

func TestOnReadySwallowsSyncFailure(t *testing.T) {
	svc, _, syncer := newLifecycleService(t)
	syncer.err = errors.New("db down")

	// Must not panic or propagate; the connection stays up.
	svc.OnReady(context.Background(), "user-42", "sess-a")
}

func TestOnDisconnectRemovesSession(t *testing.T) {
	svc, tracker, _ := newLifecycleService(t)
	ctx := context.Background()

	require.NoError(t, svc.OnConnect(ctx, "user-42", "sess-a", ""))
	svc.OnDisconnect(ctx, "sess-a")
	require.Equal(t, []string{"sess-a"}, tracker.removed)

	// Expired-then-disconnected sessions are tolerated.
	svc.OnDisconnect(ctx, "sess-a")
	require.Equal(t, []string{"sess-a"}, tracker.removed)
}

func TestLifecycleAnnouncesPresenceChanges(t *testing.T) {
	tracker := newFakeTracker()
	syncer := &fakeSyncer{}
	announcer := &fakeAnnouncer{}
	svc, err := NewLifecycleService(tracker, syncer, announcer)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.OnConnect(ctx, "user-42", "sess-a", "web/firefox"))
	svc.OnDisconnect(ctx, "sess-a")

	announcer.mu.Lock()
	defer announcer.mu.Unlock()
	require.Equal(t, []string{
		"user-42/" + EventPresenceOnline,
		"user-42/" + EventPresenceOffline,
	}, announcer.events)
}

func TestLifecycleSkipsAnnouncementOnRejectedConnect(t *testing.T) {
	tracker := newFakeTracker()
	tracker.addErr = errors.New("store unavailable")
	announcer := &fakeAnnouncer{}
	svc, err := NewLifecycleService(tracker, &fakeSyncer{}, announcer)
	require.NoError(t, err)

	require.Error(t, svc.OnConnect(context.Background(), "user-42", "sess-a", ""))
	require.Empty(t, announcer.events)
}

func TestOnHeartbeatRefreshesLease(t *testing.T) {
	svc, tracker, _ := newLifecycleService(t)
	ctx := context.Background()

	require.NoError(t, svc.OnConnect(ctx, "user-42", "sess-a", ""))
	svc.OnHeartbeat(ctx, "sess-a")
	require.Equal(t, []string{"sess-a"}, tracker.heartbeats)

	// Unknown sessions are a quiet no-op.
	svc.OnHeartbeat(ctx, "sess-unknown")
	require.Equal(t, []string{"sess-a"}, tracker.heartbeats)
}
