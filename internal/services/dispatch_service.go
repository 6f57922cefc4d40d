package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/presence"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/realtime"
	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/logger"
	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/metrics"
)

// EventNotificationCreated is the wire event name for pushed notifications.
const EventNotificationCreated = "notification.created"

const dispatchQueueSize = 256

// Pusher delivers a message to one connected session. PushToSession reports
// whether the payload was accepted by the session's outbound queue.
type Pusher interface {
	PushToSession(sessionID string, msg realtime.Message) bool
}

// SessionLister resolves the live sessions of a user.
type SessionLister interface {
	ListSessions(ctx context.Context, userID string) ([]presence.Session, error)
}

// DispatchService persists a notification and then pushes it to every live
// session of the recipient. Persistence is synchronous and authoritative;
// the push is best effort and runs on a single background worker so pushes
// for one user always leave in creation order.
type DispatchService struct {
	notifications *NotificationService
	sessions      SessionLister
	pusher        Pusher
	log           *zap.Logger

	queue    chan *NotificationDTO
	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// NewDispatchService constructs a DispatchService and starts its worker.
func NewDispatchService(notifications *NotificationService, sessions SessionLister, pusher Pusher) (*DispatchService, error) {
	if notifications == nil {
		return nil, errors.New("dispatch service: notification service is required")
	}
	if sessions == nil {
		return nil, errors.New("dispatch service: session lister is required")
	}
	if pusher == nil {
		return nil, errors.New("dispatch service: pusher is required")
	}

	s := &DispatchService{
		notifications: notifications,
		sessions:      sessions,
		pusher:        pusher,
		log:           logger.WithModule("dispatch"),
		queue:         make(chan *NotificationDTO, dispatchQueueSize),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go s.worker()
	return s, nil
}

// CreateAndSend persists the notification and schedules its realtime fan-out.
// A persistence failure aborts the call; a push failure never does. The
// returned DTO reflects the stored record.
func (s *DispatchService) CreateAndSend(ctx context.Context, input CreateNotificationInput) (*NotificationDTO, error) {
	dto, err := s.notifications.Create(ctx, input)
	if err != nil {
		return nil, err
	}

	select {
	case s.queue <- dto:
	case <-s.done:
		s.log.Warn("dispatcher stopped, skipping push",
			zap.String("notification_id", dto.ID))
	default:
		// The record is durable either way; an overloaded queue only costs
		// the realtime hint, the next sync will deliver it.
		metrics.PushDeliveries.WithLabelValues("dropped").Inc()
		s.log.Warn("dispatch queue full, skipping push",
			zap.String("notification_id", dto.ID),
			zap.String("user_id", dto.UserID))
	}

	return dto, nil
}

// Close stops the worker after draining queued pushes.
func (s *DispatchService) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	<-s.stopped
}

func (s *DispatchService) worker() {
	defer close(s.stopped)

	for {
		select {
		case dto := <-s.queue:
			s.fanOut(dto)
		case <-s.done:
			for {
				select {
				case dto := <-s.queue:
					s.fanOut(dto)
				default:
					return
				}
			}
		}
	}
}

func (s *DispatchService) fanOut(dto *NotificationDTO) {
	ctx := context.Background()

	sessions, err := s.sessions.ListSessions(ctx, dto.UserID)
	if err != nil {
		s.log.Error("presence lookup failed",
			zap.String("user_id", dto.UserID),
			zap.Error(err))
		return
	}
	if len(sessions) == 0 {
		return
	}

	msg := realtime.Message{
		Event: EventNotificationCreated,
		Data:  dto,
	}

	delivered := 0
	for _, session := range sessions {
		if s.pusher.PushToSession(session.SessionID, msg) {
			metrics.PushDeliveries.WithLabelValues("delivered").Inc()
			delivered++
		} else {
			// Stale presence entry or saturated send buffer; either way the
			// record is durable and sync covers the gap.
			metrics.PushDeliveries.WithLabelValues("dropped").Inc()
		}
	}

	s.log.Debug("notification fan-out complete",
		zap.String("notification_id", dto.ID),
		zap.String("user_id", dto.UserID),
		zap.Int("sessions", len(sessions)),
		zap.Int("delivered", delivered))
}

// Broadcast pushes an ad-hoc event to every live session of a user without
// persisting anything. Used for presence change announcements.
func (s *DispatchService) Broadcast(ctx context.Context, userID, event string, data any) int {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0
	}

	sessions, err := s.sessions.ListSessions(ensureContext(ctx), userID)
	if err != nil {
		s.log.Error("presence lookup failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return 0
	}

	msg := realtime.Message{Event: event, Data: data}
	delivered := 0
	for _, session := range sessions {
		if s.pusher.PushToSession(session.SessionID, msg) {
			delivered++
		}
	}
	return delivered
}
