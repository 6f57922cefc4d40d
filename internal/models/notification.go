package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification represents a durable, user-owned notification record.
//
// The read, bookmark, archive and deleted flags are independent axes: archiving
// never implies read, and deletion is terminal (deleted rows are excluded from
// every query). The composite index serves all user-scoped list queries.
type Notification struct {
	BaseModel

	UserID  string `gorm:"type:uuid;not null;index:idx_notifications_user_state,priority:1" json:"user_id"`
	Type    string `gorm:"type:varchar(64);not null" json:"type"`
	Title   string `gorm:"type:varchar(255);not null" json:"title"`
	Content string `gorm:"type:text" json:"content"`

	ReferenceID   string `gorm:"type:varchar(64)" json:"reference_id"`
	ReferenceType string `gorm:"type:varchar(64)" json:"reference_type"`

	SenderName   string         `gorm:"type:varchar(128)" json:"sender_name"`
	SenderAvatar string         `gorm:"type:text" json:"sender_avatar"`
	ActionURL    string         `gorm:"type:text" json:"action_url"`
	Metadata     datatypes.JSON `json:"metadata"`

	IsRead       bool       `gorm:"default:false;index:idx_notifications_user_state,priority:2" json:"is_read"`
	IsBookmarked bool       `gorm:"default:false" json:"is_bookmarked"`
	IsArchived   bool       `gorm:"default:false;index:idx_notifications_user_state,priority:3" json:"is_archived"`
	Deleted      bool       `gorm:"default:false;index:idx_notifications_user_state,priority:4" json:"-"`
	ReadAt       *time.Time `json:"read_at"`
}
