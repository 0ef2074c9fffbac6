package redis

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE CACHE
// ══════════════════════════════════════════════════════════════════════════════

// ProfileCache keeps the last successfully synced profile snapshot per
// student so read paths don't have to hit Postgres for hot data.
//
// It is a write-through cache on the sync side: the engine stores a snapshot
// only after the database pair-replacement succeeded. Cache failures are
// logged and swallowed; the database is the source of truth.
type ProfileCache struct {
	cache  *Cache
	logger *slog.Logger
}

// NewProfileCache creates a new ProfileCache.
func NewProfileCache(cache *Cache, logger *slog.Logger) *ProfileCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileCache{cache: cache, logger: logger}
}

// StoreProfile caches a profile snapshot for a student.
func (p *ProfileCache) StoreProfile(ctx context.Context, studentID string, profile *student.ProfileSnapshot) {
	if profile == nil {
		return
	}
	if err := p.cache.Set(ctx, ProfileKey(studentID), profile, TTLProfileCache); err != nil {
		p.logger.Warn("failed to cache profile snapshot",
			"student_id", studentID,
			"error", err)
	}
}

// GetProfile returns the cached snapshot for a student, or (nil, false) on a
// miss.
func (p *ProfileCache) GetProfile(ctx context.Context, studentID string) (*student.ProfileSnapshot, bool) {
	var profile student.ProfileSnapshot
	err := p.cache.Get(ctx, ProfileKey(studentID), &profile)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			p.logger.Warn("failed to read cached profile snapshot",
				"student_id", studentID,
				"error", err)
		}
		return nil, false
	}
	return &profile, true
}

// Invalidate drops the cached snapshot for a student, e.g. after the record
// is deleted or its handle changes.
func (p *ProfileCache) Invalidate(ctx context.Context, studentID string) {
	if err := p.cache.Delete(ctx, ProfileKey(studentID)); err != nil {
		p.logger.Warn("failed to invalidate cached profile snapshot",
			"student_id", studentID,
			"error", err)
	}
}

// StoreRunStats caches the stats of the last completed sync run.
func (p *ProfileCache) StoreRunStats(ctx context.Context, stats interface{}) {
	if err := p.cache.Set(ctx, SyncStatsKey(), stats, TTLSyncStats); err != nil {
		p.logger.Warn("failed to cache sync run stats", "error", err)
	}
}

// LoadRunStats reads the cached stats of the last completed sync run into
// dest. Returns false on a miss.
func (p *ProfileCache) LoadRunStats(ctx context.Context, dest interface{}) bool {
	err := p.cache.Get(ctx, SyncStatsKey(), dest)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			p.logger.Warn("failed to read cached sync run stats", "error", err)
		}
		return false
	}
	return true
}
