package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPopTimeout      = 2 * time.Second
	defaultDeliveryTimeout = 5 * time.Second
	deliveryRetryDelay     = 10 * time.Second
)

// Worker drains the email queue and posts each job to the configured email
// gateway. Failed deliveries are requeued at the tail after a delay, so one
// bad address cannot wedge the queue.
type Worker struct {
	rdb        *redis.Client
	queue      string
	gatewayURL string
	client     *http.Client
	log        *zap.Logger
}

func NewWorker(rdb *redis.Client, queue, gatewayURL string, log *zap.Logger) *Worker {
	if queue == "" {
		queue = "notify:email"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		rdb:        rdb,
		queue:      queue,
		gatewayURL: gatewayURL,
		client:     &http.Client{Timeout: defaultDeliveryTimeout},
		log:        log,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := w.rdb.BRPop(ctx, defaultPopTimeout, w.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.log.Warn("pop email job failed", zap.Error(err))
			time.Sleep(defaultPopTimeout)
			continue
		}
		if len(res) != 2 {
			continue
		}
		raw := res[1]
		var job EmailJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			w.log.Warn("discarding malformed email job", zap.Error(err))
			continue
		}
		if err := w.deliver(ctx, job); err != nil {
			w.log.Warn("email delivery failed; requeueing",
				zap.String("user_id", job.UserID),
				zap.String("kind", job.Kind),
				zap.Error(err))
			w.requeue(ctx, raw)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, job EmailJob) error {
	if strings.TrimSpace(w.gatewayURL) == "" {
		w.log.Info("no email gateway configured; dropping job",
			zap.String("user_id", job.UserID),
			zap.String("kind", job.Kind),
			zap.String("subject", job.Subject))
		return nil
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.gatewayURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (w *Worker) requeue(ctx context.Context, raw string) {
	time.Sleep(deliveryRetryDelay)
	if err := w.rdb.RPush(ctx, w.queue, raw).Err(); err != nil {
		w.log.Error("requeue email job failed; job lost", zap.Error(err))
	}
}
