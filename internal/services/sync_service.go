package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/realtime"
	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/logger"
	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/metrics"
)

// Event names emitted during a sync run.
const (
	EventNotificationSync     = "notification.sync"
	EventNotificationSyncDone = "notification.sync.complete"
)

// SyncTrigger identifies what started a sync run.
type SyncTrigger string

const (
	// SyncTriggerConnect marks runs started by a new connection.
	SyncTriggerConnect SyncTrigger = "connect"
	// SyncTriggerManual marks runs requested explicitly over the API.
	SyncTriggerManual SyncTrigger = "manual"
)

const syncBatchSize = 50

// SyncBatch is one page of the unread backlog pushed during a sync run.
type SyncBatch struct {
	Items   []NotificationDTO `json:"items"`
	Page    int               `json:"page"`
	HasNext bool              `json:"has_next"`
}

// SyncSummary closes a sync run with the authoritative counters.
type SyncSummary struct {
	Unread     int64            `json:"unread"`
	ByType     map[string]int64 `json:"by_type"`
	Batches    int              `json:"batches"`
	Replayed   int              `json:"replayed"`
	Incomplete bool             `json:"incomplete,omitempty"`
}

// SyncService replays the unread backlog of a user to a target session, or
// to all of their live sessions, so freshly connected or reconnected devices
// converge on server state. A run only reads; it never flips read, archive
// or bookmark flags.
type SyncService struct {
	notifications *NotificationService
	sessions      SessionLister
	pusher        Pusher
	log           *zap.Logger
}

// NewSyncService constructs a SyncService.
func NewSyncService(notifications *NotificationService, sessions SessionLister, pusher Pusher) (*SyncService, error) {
	if notifications == nil {
		return nil, errors.New("sync service: notification service is required")
	}
	if sessions == nil {
		return nil, errors.New("sync service: session lister is required")
	}
	if pusher == nil {
		return nil, errors.New("sync service: pusher is required")
	}
	return &SyncService{
		notifications: notifications,
		sessions:      sessions,
		pusher:        pusher,
		log:           logger.WithModule("sync"),
	}, nil
}

// Run replays the unread backlog to the given session, oldest state first in
// pages, then pushes a closing summary. Delivery is best effort: a session
// that drops a batch ends the run early and the summary is flagged incomplete.
func (s *SyncService) Run(ctx context.Context, userID, sessionID string, trigger SyncTrigger) (*SyncSummary, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" || sessionID == "" {
		return nil, errors.New("sync service: user id and session id are required")
	}

	metrics.SyncRuns.WithLabelValues(string(trigger)).Inc()

	summary := &SyncSummary{}
	meta := map[string]any{"trigger": string(trigger)}

	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := s.notifications.List(ctx, userID, ViewUnread, PageRequest{Page: page, Size: syncBatchSize})
		if err != nil {
			return nil, fmt.Errorf("sync service: load unread page %d: %w", page, err)
		}
		if page == 0 && len(batch.Items) == 0 {
			break
		}

		ok := s.pusher.PushToSession(sessionID, realtime.Message{
			Event: EventNotificationSync,
			Data: SyncBatch{
				Items:   batch.Items,
				Page:    page,
				HasNext: batch.HasNext,
			},
			Meta: meta,
		})
		if !ok {
			s.log.Warn("sync batch dropped, ending run",
				zap.String("user_id", userID),
				zap.String("session_id", sessionID),
				zap.Int("page", page))
			summary.Incomplete = true
			break
		}

		summary.Batches++
		summary.Replayed += len(batch.Items)
		if !batch.HasNext {
			break
		}
	}

	count, err := s.notifications.UnreadCount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sync service: unread count: %w", err)
	}
	summary.Unread = count.Total
	summary.ByType = count.ByType

	s.pusher.PushToSession(sessionID, realtime.Message{
		Event: EventNotificationSyncDone,
		Data:  summary,
		Meta:  meta,
	})

	s.log.Debug("sync run finished",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.String("trigger", string(trigger)),
		zap.Int("replayed", summary.Replayed),
		zap.Bool("incomplete", summary.Incomplete))

	return summary, nil
}

// RunForUser replays the unread backlog to every live session of the user.
// With no live sessions the run is a no-op that still reports the unread
// counters, so a caller without an open socket gets server truth back.
func (s *SyncService) RunForUser(ctx context.Context, userID string, trigger SyncTrigger) (*SyncSummary, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("sync service: user id is required")
	}

	sessions, err := s.sessions.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sync service: list sessions: %w", err)
	}

	if len(sessions) == 0 {
		count, err := s.notifications.UnreadCount(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("sync service: unread count: %w", err)
		}
		return &SyncSummary{Unread: count.Total, ByType: count.ByType}, nil
	}

	aggregate := &SyncSummary{}
	for _, session := range sessions {
		summary, err := s.Run(ctx, userID, session.SessionID, trigger)
		if err != nil {
			return nil, err
		}
		aggregate.Unread = summary.Unread
		aggregate.ByType = summary.ByType
		aggregate.Batches += summary.Batches
		aggregate.Replayed += summary.Replayed
		aggregate.Incomplete = aggregate.Incomplete || summary.Incomplete
	}
	return aggregate, nil
}
