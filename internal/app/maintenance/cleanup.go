package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/models"
	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/logger"
)

const (
	defaultRetention = 30 * 24 * time.Hour
	defaultSweepSpec = "@every 1m"
	defaultPurgeSpec = "@daily"
	defaultCacheSpec = "@hourly"
)

// Sweeper prunes expired presence leases.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Cleaner coordinates background maintenance: sweeping expired presence
// sessions, purging logically deleted notifications past their retention
// window, and dropping expired database cache entries.
type Cleaner struct {
	db        *gorm.DB
	presence  Sweeper
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	enabled   bool
	retention time.Duration

	sweepSchedule string
	purgeSchedule string
	cacheSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithRetention adjusts how long deleted notifications are kept before purge.
func WithRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retention = d
		}
	}
}

// WithSweepSchedule overrides the cron specification for the presence sweep.
func WithSweepSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sweepSchedule = spec
		}
	}
}

// WithPurgeSchedule overrides the cron specification for the notification purge.
func WithPurgeSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.purgeSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache entry cleanup.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding job being skipped.
func NewCleaner(db *gorm.DB, presence Sweeper, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:            db,
		presence:      presence,
		now:           time.Now,
		retention:     defaultRetention,
		sweepSchedule: defaultSweepSpec,
		purgeSchedule: defaultPurgeSpec,
		cacheSchedule: defaultCacheSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.presence != nil || cleaner.db != nil

	return cleaner
}

// Start registers maintenance jobs with the cron scheduler and launches it
// if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.presence != nil {
		if _, err := c.cron.AddFunc(c.sweepSchedule, func() {
			removed, err := c.presence.Sweep(context.Background())
			if err != nil {
				c.log.Warn("presence sweep failed", zap.Error(err))
				return
			}
			if removed > 0 {
				c.log.Debug("presence sweep removed expired sessions", zap.Int("count", removed))
			}
		}); err != nil {
			return err
		}
	}

	if c.db != nil {
		if _, err := c.cron.AddFunc(c.purgeSchedule, func() {
			if _, err := PurgeDeletedNotifications(context.Background(), c.db, c.now().Add(-c.retention)); err != nil {
				c.log.Warn("notification purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}

		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if _, err := CleanupCacheEntries(context.Background(), c.db, c.now()); err != nil {
				c.log.Warn("cache cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured maintenance routines sequentially. Used in
// tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.presence != nil {
		if _, err := c.presence.Sweep(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil {
		if _, err := PurgeDeletedNotifications(ctx, c.db, c.now().Add(-c.retention)); err != nil {
			errs = multierr.Append(errs, err)
		}
		if _, err := CleanupCacheEntries(ctx, c.db, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// PurgeDeletedNotifications permanently removes logically deleted rows whose
// last update is older than the cutoff. Deletion is terminal for clients well
// before this point; the purge only reclaims storage.
func PurgeDeletedNotifications(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("purge notifications: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("deleted = ? AND updated_at < ?", true, cutoff).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CleanupCacheEntries drops expired rows from the database cache fallback.
func CleanupCacheEntries(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup cache: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("expires_at > ? AND expires_at < ?", time.Time{}, now).
		Delete(&models.CacheEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup cache: %w", result.Error)
	}
	return result.RowsAffected, nil
}
