package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Notification kinds.
const (
	KindTaskCompleted = "taskCompleted"
	KindStatusChanged = "statusChanged"
)

// EmailJob is one queued notification. Queueing, retry and delivery belong to
// the dispatcher; the pipeline only enqueues.
type EmailJob struct {
	UserID  string `json:"user_id"`
	Kind    string `json:"kind"`
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Dispatcher enqueues templated email jobs. Implementations own durability and
// retries; callers treat Enqueue as fire-and-forget.
type Dispatcher interface {
	Enqueue(ctx context.Context, job EmailJob) error
}

// RedisDispatcher pushes jobs onto a Redis list drained by the delivery worker.
type RedisDispatcher struct {
	rdb   *redis.Client
	queue string
}

func NewRedisDispatcher(rdb *redis.Client, queue string) *RedisDispatcher {
	if queue == "" {
		queue = "notify:email"
	}
	return &RedisDispatcher{rdb: rdb, queue: queue}
}

func (d *RedisDispatcher) Enqueue(ctx context.Context, job EmailJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal email job: %w", err)
	}
	return d.rdb.LPush(ctx, d.queue, data).Err()
}

// Drop is a Dispatcher that discards every job. Used when notifications are
// not configured; the pipeline's strict boundary must never depend on them.
type Drop struct{}

func (Drop) Enqueue(context.Context, EmailJob) error { return nil }
