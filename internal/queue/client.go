package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueName is the redis list bulk verification tasks flow through.
const QueueName = "verify:pending"

// ErrNil is re-exported so callers can detect an empty-queue Pop without
// importing go-redis themselves.
var ErrNil = redis.Nil

// Task is a single unit of work for the worker pool.
type Task struct {
	JobID string `json:"job_id"`
	Email string `json:"email"`
}

// Queue is a redis-backed task queue.
type Queue struct {
	rdb *redis.Client
}

// Connect dials redis and verifies the connection.
func Connect(addr string) (*Queue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Queue{rdb: rdb}, nil
}

// EnqueueBatch pushes a job's emails onto the queue in RPush chunks that
// stay well under redis argument limits.
func (q *Queue) EnqueueBatch(ctx context.Context, jobID string, emails []string) error {
	if len(emails) == 0 {
		return nil
	}

	const batchSize = 5000

	for i := 0; i < len(emails); i += batchSize {
		end := i + batchSize
		if end > len(emails) {
			end = len(emails)
		}

		values := make([]interface{}, 0, end-i)
		for _, email := range emails[i:end] {
			data, err := json.Marshal(Task{JobID: jobID, Email: email})
			if err != nil {
				return err
			}
			values = append(values, data)
		}

		if err := q.rdb.RPush(ctx, QueueName, values...).Err(); err != nil {
			return fmt.Errorf("failed to enqueue batch: %w", err)
		}
	}
	return nil
}

// Pop blocks up to timeout for the next task. Returns ErrNil when the
// queue stayed empty for the whole window — a normal idle signal, not a
// failure.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Task, error) {
	res, err := q.rdb.BLPop(ctx, timeout, QueueName).Result()
	if err != nil {
		return nil, err
	}

	// BLPop returns [queueName, payload].
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("malformed task %q: %w", res[1], err)
	}
	return &task, nil
}

// Close releases the underlying client.
func (q *Queue) Close() error {
	return q.rdb.Close()
}
