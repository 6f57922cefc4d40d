package presence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/cache"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/database/testutil"
)

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	registry, err := NewRegistry(cache.NewDatabaseStore(db), cfg)
	require.NoError(t, err)
	return registry
}

func TestRegistryRequiresStore(t *testing.T) {
	_, err := NewRegistry(nil, Config{})
	require.Error(t, err)
}

func TestOnlineTransitions(t *testing.T) {
	registry := newTestRegistry(t, Config{})
	ctx := context.Background()

	online, err := registry.IsOnline(ctx, "user-42")
	require.NoError(t, err)
	require.False(t, online, "user with zero sessions must be offline")

	require.NoError(t, registry.AddSession(ctx, "user-42", "s1", "ios/17"))

	online, err = registry.IsOnline(ctx, "user-42")
	require.NoError(t, err)
	require.True(t, online, "addSession must make the user online immediately")
}

func TestMultiDeviceSessionsCoexist(t *testing.T) {
	registry := newTestRegistry(t, Config{})
	ctx := context.Background()

	require.NoError(t, registry.AddSession(ctx, "user-42", "s1", "ios"))
	require.NoError(t, registry.AddSession(ctx, "user-42", "s2", "web"))

	sessions, err := registry.ListSessions(ctx, "user-42")
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	userID, err := registry.RemoveSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "user-42", userID)

	online, err := registry.IsOnline(ctx, "user-42")
	require.NoError(t, err)
	require.True(t, online, "removing one of two sessions keeps the user online")

	sessions, err = registry.ListSessions(ctx, "user-42")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "s2", sessions[0].SessionID)
}

func TestGraceWindowDelaysOffline(t *testing.T) {
	registry := newTestRegistry(t, Config{GraceWindow: 60 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, registry.AddSession(ctx, "user-42", "s1", ""))
	_, err := registry.RemoveSession(ctx, "s1")
	require.NoError(t, err)

	online, err := registry.IsOnline(ctx, "user-42")
	require.NoError(t, err)
	require.True(t, online, "user stays pending-offline inside the grace window")

	time.Sleep(100 * time.Millisecond)

	online, err = registry.IsOnline(ctx, "user-42")
	require.NoError(t, err)
	require.False(t, online, "grace window elapsed; user is firmly offline")
}

func TestReconnectCancelsGraceWindow(t *testing.T) {
	registry := newTestRegistry(t, Config{GraceWindow: time.Hour})
	ctx := context.Background()

	require.NoError(t, registry.AddSession(ctx, "user-42", "s1", ""))
	_, err := registry.RemoveSession(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, registry.AddSession(ctx, "user-42", "s2", ""))
	_, err = registry.RemoveSession(ctx, "s2")
	require.NoError(t, err)

	online, err := registry.IsOnline(ctx, "user-42")
	require.NoError(t, err)
	require.True(t, online)
}

func TestHeartbeatExpiryPrunesSession(t *testing.T) {
	registry := newTestRegistry(t, Config{HeartbeatTTL: 40 * time.Millisecond, GraceWindow: 10 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, registry.AddSession(ctx, "user-42", "s1", ""))
	time.Sleep(70 * time.Millisecond)

	sessions, err := registry.ListSessions(ctx, "user-42")
	require.NoError(t, err)
	require.Empty(t, sessions, "sessions without heartbeats expire after the TTL")
}

func TestHeartbeatExtendsSession(t *testing.T) {
	registry := newTestRegistry(t, Config{HeartbeatTTL: 80 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, registry.AddSession(ctx, "user-42", "s1", ""))

	for i := 0; i < 3; i++ {
		time.Sleep(40 * time.Millisecond)
		require.NoError(t, registry.Heartbeat(ctx, "s1"))
	}

	sessions, err := registry.ListSessions(ctx, "user-42")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestRemoveUnknownSession(t *testing.T) {
	registry := newTestRegistry(t, Config{})

	_, err := registry.RemoveSession(context.Background(), "nope")
	require.ErrorIs(t, err, ErrSessionNotFound)

	err = registry.Heartbeat(context.Background(), "nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConcurrentAddRemove(t *testing.T) {
	registry := newTestRegistry(t, Config{})
	ctx := context.Background()

	const sessions = 16
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			require.NoError(t, registry.AddSession(ctx, "user-42", fmt.Sprintf("s%d", n), ""))
		}(i)
	}
	wg.Wait()

	listed, err := registry.ListSessions(ctx, "user-42")
	require.NoError(t, err)
	require.Len(t, listed, sessions, "concurrent adds must not lose entries")

	for i := 0; i < sessions; i += 2 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := registry.RemoveSession(ctx, fmt.Sprintf("s%d", n))
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	listed, err = registry.ListSessions(ctx, "user-42")
	require.NoError(t, err)
	require.Len(t, listed, sessions/2)
}

func TestSweepRemovesExpired(t *testing.T) {
	registry := newTestRegistry(t, Config{HeartbeatTTL: 30 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, registry.AddSession(ctx, "user-1", "s1", ""))
	require.NoError(t, registry.AddSession(ctx, "user-2", "s2", ""))
	time.Sleep(60 * time.Millisecond)

	removed, err := registry.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
}
