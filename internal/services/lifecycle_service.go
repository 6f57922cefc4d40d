package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/presence"
	apperrors "github.com/cuonglevan23/taskflow-backend-sub003/pkg/errors"
	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/logger"
)

// PresenceTracker is the slice of the presence registry the lifecycle needs.
type PresenceTracker interface {
	AddSession(ctx context.Context, userID, sessionID, deviceInfo string) error
	RemoveSession(ctx context.Context, sessionID string) (string, error)
	Heartbeat(ctx context.Context, sessionID string) error
}

// BacklogSyncer replays the unread backlog to one session.
type BacklogSyncer interface {
	Run(ctx context.Context, userID, sessionID string, trigger SyncTrigger) (*SyncSummary, error)
}

// Announcer fans an ephemeral event out to a user's live sessions.
type Announcer interface {
	Broadcast(ctx context.Context, userID, event string, data any) int
}

// Presence change events announced to a user's other devices.
const (
	EventPresenceOnline  = "presence.online"
	EventPresenceOffline = "presence.offline"
)

// presenceChange is the payload of a presence announcement.
type presenceChange struct {
	SessionID  string `json:"session_id"`
	DeviceInfo string `json:"device_info,omitempty"`
}

// LifecycleService translates websocket lifecycle events into presence state
// and connect-time sync runs. It implements realtime.ConnectionListener.
type LifecycleService struct {
	presence  PresenceTracker
	syncer    BacklogSyncer
	announcer Announcer
	log       *zap.Logger
}

// NewLifecycleService constructs a LifecycleService. The announcer is
// optional; without one presence changes are not announced.
func NewLifecycleService(tracker PresenceTracker, syncer BacklogSyncer, announcer Announcer) (*LifecycleService, error) {
	if tracker == nil {
		return nil, errors.New("lifecycle service: presence tracker is required")
	}
	if syncer == nil {
		return nil, errors.New("lifecycle service: syncer is required")
	}
	return &LifecycleService{
		presence:  tracker,
		syncer:    syncer,
		announcer: announcer,
		log:       logger.WithModule("lifecycle"),
	}, nil
}

// OnConnect records the new session in the presence registry. A registry
// failure rejects the connect: a session the rest of the system cannot see
// would never receive pushes.
func (s *LifecycleService) OnConnect(ctx context.Context, userID, sessionID, deviceInfo string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.ErrUnauthorized
	}

	if err := s.presence.AddSession(ctx, userID, sessionID, deviceInfo); err != nil {
		s.log.Error("presence registration failed",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return err
	}

	if s.announcer != nil {
		s.announcer.Broadcast(ctx, userID, EventPresenceOnline, presenceChange{
			SessionID:  sessionID,
			DeviceInfo: deviceInfo,
		})
	}

	s.log.Info("session connected",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.String("device", deviceInfo))
	return nil
}

// OnReady replays the unread backlog to the newly connected session. Sync
// failures are logged and never terminate the connection; the client still
// converges through live pushes and manual sync.
func (s *LifecycleService) OnReady(ctx context.Context, userID, sessionID string) {
	summary, err := s.syncer.Run(ctx, userID, sessionID, SyncTriggerConnect)
	if err != nil {
		s.log.Warn("connect-time sync failed",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	s.log.Debug("connect-time sync complete",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.Int("replayed", summary.Replayed))
}

// OnDisconnect removes the session from the presence registry. An unknown
// session means the TTL sweeper got there first; that is not an error.
func (s *LifecycleService) OnDisconnect(ctx context.Context, sessionID string) {
	userID, err := s.presence.RemoveSession(ctx, sessionID)
	if errors.Is(err, presence.ErrSessionNotFound) {
		s.log.Debug("session already expired", zap.String("session_id", sessionID))
		return
	}
	if err != nil {
		s.log.Error("presence removal failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	if s.announcer != nil {
		s.announcer.Broadcast(ctx, userID, EventPresenceOffline, presenceChange{SessionID: sessionID})
	}

	s.log.Info("session disconnected",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID))
}

// OnHeartbeat extends the presence lease for the session.
func (s *LifecycleService) OnHeartbeat(ctx context.Context, sessionID string) {
	if err := s.presence.Heartbeat(ctx, sessionID); err != nil && !errors.Is(err, presence.ErrSessionNotFound) {
		s.log.Warn("heartbeat refresh failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}
