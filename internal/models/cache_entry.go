package models

import (
	"time"
)

// CacheEntry represents a cached value stored in the database fallback.
// Presence entries and rate-limit counters live here when Redis is disabled.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
