package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// ListDeadLetters returns up to limit dead-lettered jobs, newest first.
// Entries whose job data already expired are pruned from the list as a
// side effect.
func (q *Queue) ListDeadLetters(ctx context.Context, limit int64) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := q.client.LRange(ctx, q.deadLetterKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		data, err := q.client.Get(ctx, q.jobKey(id)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Data expired; drop the stale list entry
				_ = q.client.LRem(ctx, q.deadLetterKey(), 1, id).Err()
				continue
			}
			return nil, fmt.Errorf("load dead letter %s: %w", id, err)
		}
		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			log.Errorf("[JobQueue:%s] Corrupt dead-letter job %s: %v", q.name, id, err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ReplayDeadLetter moves a dead-lettered job back into the pending queue
// with a fresh retry budget. Used by operators after fixing the root
// cause.
func (q *Queue) ReplayDeadLetter(ctx context.Context, jobID string) error {
	removed, err := q.client.LRem(ctx, q.deadLetterKey(), 1, jobID).Result()
	if err != nil {
		return fmt.Errorf("replay dead letter %s: %w", jobID, err)
	}
	if removed == 0 {
		return fmt.Errorf("job %s not found on dead-letter list", jobID)
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("replay dead letter %s: job data missing: %w", jobID, err)
	}

	job.Status = JobStatusPending
	job.RetryCount = 0
	job.ErrorMsg = ""
	q.updateJob(ctx, job)

	if err := q.client.RPush(ctx, q.pendingKey(), jobID).Err(); err != nil {
		return fmt.Errorf("replay dead letter %s: %w", jobID, err)
	}
	log.Infof("[JobQueue:%s] Dead-letter job %s replayed", q.name, jobID)
	return nil
}

// GetDeadLetterSize returns the number of dead-lettered jobs
func (q *Queue) GetDeadLetterSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.deadLetterKey()).Result()
}
