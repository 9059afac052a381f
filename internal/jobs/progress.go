package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const progressKeyPrefix = "pdfchat:progress:"

// Progress is the last stage a worker reported for a job.
type Progress struct {
	Stage     string    `json:"stage"`
	Percent   int       `json:"percent"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProgressStore keeps per-job progress in Redis next to the asynq data.
type ProgressStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewProgressStore(rdb redis.UniversalClient, ttl time.Duration) *ProgressStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ProgressStore{rdb: rdb, ttl: ttl}
}

func progressKey(jobID string) string {
	return progressKeyPrefix + jobID
}

// Set overwrites the job's progress and refreshes its expiry.
func (s *ProgressStore) Set(ctx context.Context, jobID string, p Progress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := s.rdb.Set(ctx, progressKey(jobID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("write progress for %s: %w", jobID, err)
	}
	return nil
}

// Get returns the job's progress, or nil if none was recorded.
func (s *ProgressStore) Get(ctx context.Context, jobID string) (*Progress, error) {
	raw, err := s.rdb.Get(ctx, progressKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress for %s: %w", jobID, err)
	}

	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode progress for %s: %w", jobID, err)
	}
	return &p, nil
}

// Health pings Redis.
func (s *ProgressStore) Health(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
