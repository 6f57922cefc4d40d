package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/models"
	apperrors "github.com/cuonglevan23/taskflow-backend-sub003/pkg/errors"
	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/metrics"
)

// View selects which user-scoped notification listing a query returns.
// Every view excludes logically deleted rows.
type View string

const (
	// ViewUnread lists unread, non-archived notifications.
	ViewUnread View = "unread"
	// ViewInbox lists non-archived notifications regardless of read state.
	ViewInbox View = "inbox"
	// ViewBookmarked lists bookmarked notifications.
	ViewBookmarked View = "bookmarked"
	// ViewArchived lists archived notifications.
	ViewArchived View = "archived"
	// ViewActive lists every non-deleted notification, archived included.
	ViewActive View = "active"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	ReferenceID   string         `json:"reference_id,omitempty"`
	ReferenceType string         `json:"reference_type,omitempty"`
	SenderName    string         `json:"sender_name,omitempty"`
	SenderAvatar  string         `json:"sender_avatar,omitempty"`
	ActionURL     string         `json:"action_url,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	IsRead        bool           `json:"is_read"`
	IsBookmarked  bool           `json:"is_bookmarked"`
	IsArchived    bool           `json:"is_archived"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ReadAt        *time.Time     `json:"read_at,omitempty"`
}

// CreateNotificationInput defines attributes required to persist a notification.
type CreateNotificationInput struct {
	UserID        string
	Type          string
	Title         string
	Content       string
	ReferenceID   string
	ReferenceType string
	SenderName    string
	SenderAvatar  string
	ActionURL     string
	Metadata      map[string]any
}

// PageRequest carries zero-based pagination parameters.
type PageRequest struct {
	Page int
	Size int
}

// Page bundles a result slice with total-count metadata.
type Page struct {
	Items         []NotificationDTO `json:"items"`
	Page          int               `json:"page"`
	Size          int               `json:"size"`
	TotalElements int64             `json:"total_elements"`
	TotalPages    int               `json:"total_pages"`
	HasNext       bool              `json:"has_next"`
	HasPrevious   bool              `json:"has_previous"`
}

// UnreadCount breaks the unread total down by notification type.
type UnreadCount struct {
	Total  int64            `json:"total"`
	ByType map[string]int64 `json:"by_type"`
}

// EnhancedCount extends UnreadCount with bookmark and archive totals.
type EnhancedCount struct {
	Total      int64            `json:"total"`
	ByType     map[string]int64 `json:"by_type"`
	Bookmarked int64            `json:"bookmarked"`
	Archived   int64            `json:"archived"`
}

// NotificationService owns the durable notification records and their state
// machine. Read, bookmark, archive and delete transitions are each a single
// atomic UPDATE guarded by ownership, so devices racing on the same id cannot
// lose updates.
type NotificationService struct {
	db *gorm.DB
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	return &NotificationService{db: db}, nil
}

// Create validates and persists a new notification. New records start unread,
// unarchived and unbookmarked.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, apperrors.NewValidation("user id is required")
	}
	notificationType := strings.TrimSpace(input.Type)
	if notificationType == "" {
		return nil, apperrors.NewValidation("notification type is required")
	}

	notification := models.Notification{
		UserID:        userID,
		Type:          notificationType,
		Title:         strings.TrimSpace(input.Title),
		Content:       strings.TrimSpace(input.Content),
		ReferenceID:   strings.TrimSpace(input.ReferenceID),
		ReferenceType: strings.TrimSpace(input.ReferenceType),
		SenderName:    strings.TrimSpace(input.SenderName),
		SenderAvatar:  strings.TrimSpace(input.SenderAvatar),
		ActionURL:     strings.TrimSpace(input.ActionURL),
	}

	if input.Metadata != nil {
		data, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("notification service: marshal metadata: %w", err)
		}
		notification.Metadata = datatypes.JSON(data)
	}

	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("notification service: create notification: %w", err)
	}

	metrics.NotificationsCreated.WithLabelValues(notificationType).Inc()

	dto := mapNotification(notification)
	return &dto, nil
}

// MarkRead sets the read flag for every supplied id owned by the user.
// Ids that are unknown, not owned, or already read are silent no-ops, which
// makes the operation idempotent and safe for devices racing on the same set.
func (s *NotificationService) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	ctx = ensureContext(ctx)
	ids = normaliseIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND id IN ? AND deleted = ? AND is_read = ?", userID, ids, false, false).
		Updates(map[string]any{
			"is_read": true,
			"read_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// MarkAllRead marks every unread notification for the user as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND deleted = ? AND is_read = ?", userID, false, false).
		Updates(map[string]any{
			"is_read": true,
			"read_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ToggleBookmark flips the bookmark flag. Unknown ids and ids owned by another
// user both surface as NotFound so existence is never leaked.
func (s *NotificationService) ToggleBookmark(ctx context.Context, userID, id string) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.ErrNotFound
	}

	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND deleted = ?", id, userID, false).
		Update("is_bookmarked", gorm.Expr("NOT is_bookmarked"))
	if result.Error != nil {
		return nil, fmt.Errorf("notification service: toggle bookmark: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.ErrNotFound
	}

	return s.get(ctx, userID, id)
}

// SetArchived sets or clears the archive flag for the supplied ids. Archiving
// never touches the read flag; the two are independent axes.
func (s *NotificationService) SetArchived(ctx context.Context, userID string, ids []string, archived bool) (int64, error) {
	ctx = ensureContext(ctx)
	ids = normaliseIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND id IN ? AND deleted = ?", userID, ids, false).
		Update("is_archived", archived)
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: set archived: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Delete logically removes a single notification. Deletion is terminal: the
// record is excluded from every subsequent query.
func (s *NotificationService) Delete(ctx context.Context, userID, id string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND deleted = ?", strings.TrimSpace(id), userID, false).
		Update("deleted", true)
	if result.Error != nil {
		return fmt.Errorf("notification service: delete notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// DeleteMany logically removes a batch of notifications, skipping ids that are
// unknown, foreign or already deleted.
func (s *NotificationService) DeleteMany(ctx context.Context, userID string, ids []string) (int64, error) {
	ctx = ensureContext(ctx)
	ids = normaliseIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND id IN ? AND deleted = ?", userID, ids, false).
		Update("deleted", true)
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: delete notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// List returns one page of the requested view, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, view View, page PageRequest) (*Page, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewValidation("user id is required")
	}

	size := page.Size
	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}
	pageNum := page.Page
	if pageNum < 0 {
		pageNum = 0
	}

	var total int64
	if err := s.scopedQuery(ctx, userID, view).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("notification service: count %s: %w", view, err)
	}

	var rows []models.Notification
	if err := s.scopedQuery(ctx, userID, view).
		Order("created_at DESC, id DESC").
		Limit(size).
		Offset(pageNum * size).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list %s: %w", view, err)
	}

	totalPages := int((total + int64(size) - 1) / int64(size))

	return &Page{
		Items:         mapNotificationRows(rows),
		Page:          pageNum,
		Size:          size,
		TotalElements: total,
		TotalPages:    totalPages,
		HasNext:       pageNum+1 < totalPages,
		HasPrevious:   pageNum > 0 && total > 0,
	}, nil
}

// UnreadCount returns the unread total with a per-type breakdown.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (*UnreadCount, error) {
	ctx = ensureContext(ctx)

	type typeCount struct {
		Type  string
		Count int64
	}

	var counts []typeCount
	if err := s.scopedQuery(ctx, userID, ViewUnread).
		Select("type, COUNT(*) AS count").
		Group("type").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("notification service: unread count: %w", err)
	}

	out := &UnreadCount{ByType: make(map[string]int64, len(counts))}
	for _, c := range counts {
		out.ByType[c.Type] = c.Count
		out.Total += c.Count
	}
	return out, nil
}

// EnhancedCount combines the unread breakdown with bookmark and archive totals.
func (s *NotificationService) EnhancedCount(ctx context.Context, userID string) (*EnhancedCount, error) {
	ctx = ensureContext(ctx)

	unread, err := s.UnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}

	var bookmarked int64
	if err := s.scopedQuery(ctx, userID, ViewBookmarked).Count(&bookmarked).Error; err != nil {
		return nil, fmt.Errorf("notification service: bookmarked count: %w", err)
	}

	var archived int64
	if err := s.scopedQuery(ctx, userID, ViewArchived).Count(&archived).Error; err != nil {
		return nil, fmt.Errorf("notification service: archived count: %w", err)
	}

	return &EnhancedCount{
		Total:      unread.Total,
		ByType:     unread.ByType,
		Bookmarked: bookmarked,
		Archived:   archived,
	}, nil
}

func (s *NotificationService) get(ctx context.Context, userID, id string) (*NotificationDTO, error) {
	var notification models.Notification
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND deleted = ?", id, userID, false).
		First(&notification).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}

	dto := mapNotification(notification)
	return &dto, nil
}

func (s *NotificationService) scopedQuery(ctx context.Context, userID string, view View) *gorm.DB {
	query := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND deleted = ?", userID, false)

	switch view {
	case ViewUnread:
		query = query.Where("is_read = ? AND is_archived = ?", false, false)
	case ViewInbox:
		query = query.Where("is_archived = ?", false)
	case ViewBookmarked:
		query = query.Where("is_bookmarked = ?", true)
	case ViewArchived:
		query = query.Where("is_archived = ?", true)
	case ViewActive:
		// every non-deleted row
	}
	return query
}

func mapNotificationRows(rows []models.Notification) []NotificationDTO {
	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:            row.ID,
		UserID:        row.UserID,
		Type:          row.Type,
		Title:         row.Title,
		Content:       row.Content,
		ReferenceID:   row.ReferenceID,
		ReferenceType: row.ReferenceType,
		SenderName:    row.SenderName,
		SenderAvatar:  row.SenderAvatar,
		ActionURL:     row.ActionURL,
		Metadata:      decodeJSON(row.Metadata),
		IsRead:        row.IsRead,
		IsBookmarked:  row.IsBookmarked,
		IsArchived:    row.IsArchived,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		ReadAt:        row.ReadAt,
	}
}

func decodeJSON(data datatypes.JSON) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
