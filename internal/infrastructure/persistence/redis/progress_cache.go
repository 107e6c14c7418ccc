package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/afritech-bridge/progress-engine/internal/domain/lesson"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS SNAPSHOT CACHE
// ══════════════════════════════════════════════════════════════════════════════

// TTLProgressSnapshot bounds staleness: the LMS remains the source of truth,
// the cache only absorbs reopen traffic between writes.
const TTLProgressSnapshot = 15 * time.Minute

// keyPrefixProgress namespaces snapshot keys.
const keyPrefixProgress = "progress:"

// progressSnapshotDTO is the stored representation of a snapshot.
type progressSnapshotDTO struct {
	ReadingProgress  float64  `json:"reading_progress"`
	EngagementScore  float64  `json:"engagement_score"`
	ScrollProgress   float64  `json:"scroll_progress"`
	TimeSpentSeconds int      `json:"time_spent_seconds"`
	LessonScore      *float64 `json:"lesson_score,omitempty"`
	QuizScore        *float64 `json:"quiz_score,omitempty"`
	AssignmentScore  *float64 `json:"assignment_score,omitempty"`
	Completed        bool     `json:"completed"`
	CachedAt         int64    `json:"cached_at"`
}

// ProgressCache caches persisted-progress snapshots per student and lesson.
// Implements tracking.ProgressCache.
type ProgressCache struct {
	client *Client
	ttl    time.Duration
}

// NewProgressCache creates a progress cache on top of the shared client.
func NewProgressCache(client *Client) *ProgressCache {
	return &ProgressCache{
		client: client,
		ttl:    TTLProgressSnapshot,
	}
}

// progressKey builds the snapshot key for a student/lesson pair.
func progressKey(studentID string, lessonID lesson.ID) string {
	return fmt.Sprintf("%s%s:%s", keyPrefixProgress, studentID, lessonID)
}

// Get returns the cached snapshot, or nil on a miss.
func (c *ProgressCache) Get(ctx context.Context, studentID string, lessonID lesson.ID) (*lesson.PersistedProgress, error) {
	data, err := c.client.rdb.Get(ctx, progressKey(studentID, lessonID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var dto progressSnapshotDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		// A corrupt entry behaves like a miss after cleanup.
		_ = c.client.rdb.Del(ctx, progressKey(studentID, lessonID)).Err()
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	return &lesson.PersistedProgress{
		ReadingProgress:  lesson.ClampPercent(dto.ReadingProgress),
		EngagementScore:  lesson.ClampPercent(dto.EngagementScore),
		ScrollProgress:   lesson.ClampPercent(dto.ScrollProgress),
		TimeSpentSeconds: dto.TimeSpentSeconds,
		LessonScore:      dto.LessonScore,
		QuizScore:        dto.QuizScore,
		AssignmentScore:  dto.AssignmentScore,
		Completed:        dto.Completed,
	}, nil
}

// Set stores a snapshot after a successful backend write.
func (c *ProgressCache) Set(ctx context.Context, studentID string, lessonID lesson.ID, p lesson.PersistedProgress) error {
	dto := progressSnapshotDTO{
		ReadingProgress:  p.ReadingProgress,
		EngagementScore:  p.EngagementScore,
		ScrollProgress:   p.ScrollProgress,
		TimeSpentSeconds: p.TimeSpentSeconds,
		LessonScore:      p.LessonScore,
		QuizScore:        p.QuizScore,
		AssignmentScore:  p.AssignmentScore,
		Completed:        p.Completed,
		CachedAt:         time.Now().UTC().Unix(),
	}

	data, err := json.Marshal(dto)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	if err := c.client.rdb.Set(ctx, progressKey(studentID, lessonID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached snapshot.
func (c *ProgressCache) Invalidate(ctx context.Context, studentID string, lessonID lesson.ID) error {
	if err := c.client.rdb.Del(ctx, progressKey(studentID, lessonID)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
