package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/cache"
	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/logger"
)

const (
	userKeyPrefix    = "presence:user:"
	sessionKeyPrefix = "presence:session:"
	offlineKeyPrefix = "presence:offline:"

	// DefaultHeartbeatTTL bounds how long a session survives without a heartbeat.
	DefaultHeartbeatTTL = 90 * time.Second
	// DefaultGraceWindow delays the firm-offline transition after the last
	// session leaves, so quick reconnects do not flap presence.
	DefaultGraceWindow = 30 * time.Second
)

// ErrSessionNotFound indicates the session is not registered (or already expired).
var ErrSessionNotFound = errors.New("presence: session not found")

// Session describes one live device connection for a user.
type Session struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	DeviceInfo  string    `json:"device_info,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Config tunes session expiry behaviour.
type Config struct {
	HeartbeatTTL time.Duration
	GraceWindow  time.Duration
	Clock        func() time.Time
}

// Registry maps users to their live session set on top of a shared key-value
// store, so that any instance handling a dispatch sees sessions registered by
// any other instance. Entries carry expiries refreshed by heartbeats; a
// crashed client is forgotten once its TTL lapses.
type Registry struct {
	store cache.Store
	ttl   time.Duration
	grace time.Duration
	now   func() time.Time
	log   *zap.Logger

	// Per-user mutex stripes make the read-modify-write of a session set
	// atomic within this instance.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	known map[string]struct{}
}

// NewRegistry constructs a Registry backed by the supplied store.
func NewRegistry(store cache.Store, cfg Config) (*Registry, error) {
	if store == nil {
		return nil, errors.New("presence: store is required")
	}

	ttl := cfg.HeartbeatTTL
	if ttl <= 0 {
		ttl = DefaultHeartbeatTTL
	}
	grace := cfg.GraceWindow
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &Registry{
		store: store,
		ttl:   ttl,
		grace: grace,
		now:   now,
		log:   logger.WithModule("presence"),
		locks: make(map[string]*sync.Mutex),
		known: make(map[string]struct{}),
	}, nil
}

// AddSession registers a session under the user. Multiple concurrent sessions
// per user coexist independently.
func (r *Registry) AddSession(ctx context.Context, userID, sessionID, deviceInfo string) error {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" {
		return errors.New("presence: user id is required")
	}
	if sessionID == "" {
		return errors.New("presence: session id is required")
	}

	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sessions, err := r.loadSessions(ctx, userID)
	if err != nil {
		return err
	}

	now := r.now()
	entry := Session{
		SessionID:   sessionID,
		UserID:      userID,
		DeviceInfo:  strings.TrimSpace(deviceInfo),
		ConnectedAt: now,
		ExpiresAt:   now.Add(r.ttl),
	}

	replaced := false
	for i := range sessions {
		if sessions[i].SessionID == sessionID {
			sessions[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append(sessions, entry)
	}

	if err := r.saveSessions(ctx, userID, sessions); err != nil {
		return err
	}
	if err := r.store.Set(ctx, sessionKeyPrefix+sessionID, []byte(userID), r.ttl+r.grace); err != nil {
		return err
	}

	// A live session cancels any pending-offline marker.
	return r.store.Delete(ctx, offlineKeyPrefix+userID)
}

// RemoveSession looks up the owning user via the reverse index and removes the
// session. Removing the last session starts the grace window instead of
// declaring the user offline immediately.
func (r *Registry) RemoveSession(ctx context.Context, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", ErrSessionNotFound
	}

	userID, err := r.ownerOf(ctx, sessionID)
	if err != nil {
		return "", err
	}

	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sessions, err := r.loadSessions(ctx, userID)
	if err != nil {
		return "", err
	}

	remaining := sessions[:0]
	for _, s := range sessions {
		if s.SessionID != sessionID {
			remaining = append(remaining, s)
		}
	}

	if err := r.saveSessions(ctx, userID, remaining); err != nil {
		return "", err
	}
	if err := r.store.Delete(ctx, sessionKeyPrefix+sessionID); err != nil {
		return "", err
	}

	if len(remaining) == 0 {
		if err := r.store.Set(ctx, offlineKeyPrefix+userID, []byte("1"), r.grace); err != nil {
			return "", err
		}
	}

	return userID, nil
}

// Heartbeat extends the session expiry and the reverse-index TTL.
func (r *Registry) Heartbeat(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrSessionNotFound
	}

	userID, err := r.ownerOf(ctx, sessionID)
	if err != nil {
		return err
	}

	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sessions, err := r.loadSessions(ctx, userID)
	if err != nil {
		return err
	}

	found := false
	expiry := r.now().Add(r.ttl)
	for i := range sessions {
		if sessions[i].SessionID == sessionID {
			sessions[i].ExpiresAt = expiry
			found = true
			break
		}
	}
	if !found {
		return ErrSessionNotFound
	}

	if err := r.saveSessions(ctx, userID, sessions); err != nil {
		return err
	}
	return r.store.Set(ctx, sessionKeyPrefix+sessionID, []byte(userID), r.ttl+r.grace)
}

// ListSessions returns a snapshot copy of the user's live sessions. Expired
// entries are pruned lazily so a crashed client self-heals without an explicit
// disconnect event.
func (r *Registry) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("presence: user id is required")
	}

	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return r.loadSessions(ctx, userID)
}

// IsOnline reports whether the user has at least one live session, or is
// still inside the grace window after the last session left.
func (r *Registry) IsOnline(ctx context.Context, userID string) (bool, error) {
	sessions, err := r.ListSessions(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(sessions) > 0 {
		return true, nil
	}

	_, pending, err := r.store.Get(ctx, offlineKeyPrefix+userID)
	if err != nil {
		return false, err
	}
	return pending, nil
}

// Sweep prunes expired sessions for every user this instance has seen.
// Cross-instance staleness is bounded by the store TTLs; the sweep only
// accelerates local cleanup. It returns the number of sessions removed.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	r.mu.Lock()
	users := make([]string, 0, len(r.known))
	for userID := range r.known {
		users = append(users, userID)
	}
	r.mu.Unlock()

	removed := 0
	for _, userID := range users {
		lock := r.userLock(userID)
		lock.Lock()

		before, err := r.rawSessions(ctx, userID)
		if err != nil {
			lock.Unlock()
			return removed, err
		}
		after := r.pruneExpired(before)
		if len(after) != len(before) {
			removed += len(before) - len(after)
			if err := r.saveSessions(ctx, userID, after); err != nil {
				lock.Unlock()
				return removed, err
			}
		}
		lock.Unlock()
	}

	if removed > 0 {
		r.log.Debug("pruned expired sessions", zap.Int("count", removed))
	}
	return removed, nil
}

func (r *Registry) ownerOf(ctx context.Context, sessionID string) (string, error) {
	value, ok, err := r.store.Get(ctx, sessionKeyPrefix+sessionID)
	if err != nil {
		return "", err
	}
	if !ok || len(value) == 0 {
		return "", ErrSessionNotFound
	}
	return string(value), nil
}

// loadSessions reads the user's session set and prunes expired entries,
// persisting the pruned set when anything was dropped.
func (r *Registry) loadSessions(ctx context.Context, userID string) ([]Session, error) {
	sessions, err := r.rawSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	pruned := r.pruneExpired(sessions)
	if len(pruned) != len(sessions) {
		if err := r.saveSessions(ctx, userID, pruned); err != nil {
			return nil, err
		}
	}
	return pruned, nil
}

func (r *Registry) rawSessions(ctx context.Context, userID string) ([]Session, error) {
	value, ok, err := r.store.Get(ctx, userKeyPrefix+userID)
	if err != nil {
		return nil, err
	}
	if !ok || len(value) == 0 {
		return nil, nil
	}

	var sessions []Session
	if err := json.Unmarshal(value, &sessions); err != nil {
		return nil, fmt.Errorf("presence: decode session set for user %s: %w", userID, err)
	}
	return sessions, nil
}

func (r *Registry) saveSessions(ctx context.Context, userID string, sessions []Session) error {
	if len(sessions) == 0 {
		return r.store.Delete(ctx, userKeyPrefix+userID)
	}

	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("presence: encode session set for user %s: %w", userID, err)
	}
	return r.store.Set(ctx, userKeyPrefix+userID, data, r.ttl+r.grace)
}

func (r *Registry) pruneExpired(sessions []Session) []Session {
	if len(sessions) == 0 {
		return sessions
	}

	now := r.now()
	live := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if s.ExpiresAt.After(now) {
			live = append(live, s)
		}
	}
	return live
}

func (r *Registry) userLock(userID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[userID] = lock
	}
	r.known[userID] = struct{}{}
	return lock
}
