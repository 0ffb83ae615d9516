// Package telemetry moves per-agent usage records from the request path
// into Postgres. With Redis configured the records go through a queue and
// a background worker drains them in batches; without Redis they are
// written synchronously.
package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"coursechat/backend/internal/models"
)

const usageQueueKey = "chat:usage"

// UsageStore is the persistence side of the pipeline.
type UsageStore interface {
	InsertAgentUsage(ctx context.Context, rec models.AgentUsage) error
}

type Queue struct {
	client *redis.Client
}

func NewQueue(redisURL string) (*Queue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Queue{client: redis.NewClient(opt)}, nil
}

// Record enqueues a usage record. The request path never waits on
// Postgres for telemetry.
func (q *Queue) Record(ctx context.Context, rec models.AgentUsage) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, usageQueueKey, payload).Err()
}

func (q *Queue) dequeueBatch(ctx context.Context, batchSize int) ([][]byte, error) {
	var items [][]byte
	for i := 0; i < batchSize; i++ {
		item, err := q.client.RPop(ctx, usageQueueKey).Bytes()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

type Worker struct {
	Queue     *Queue
	Store     UsageStore
	BatchSize int
}

// Start drains the queue until the context is cancelled. Malformed
// payloads are dropped; a failed insert is logged and the record is lost
// rather than re-queued, telemetry is not worth a poison-message loop.
func (w *Worker) Start(ctx context.Context) {
	batch := w.BatchSize
	if batch <= 0 {
		batch = 100
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		items, err := w.Queue.dequeueBatch(ctx, batch)
		if err != nil {
			time.Sleep(2 * time.Second)
			continue
		}
		if len(items) == 0 {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, raw := range items {
			var rec models.AgentUsage
			if err := json.Unmarshal(raw, &rec); err != nil {
				continue
			}
			ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := w.Store.InsertAgentUsage(ctxTimeout, rec)
			cancel()
			if err != nil {
				log.Printf("telemetry: failed to store usage record %s: %v", rec.ID, err)
			}
		}
	}
}

// Direct writes usage records synchronously. Used when no Redis URL is
// configured.
type Direct struct {
	Store UsageStore
}

func (d Direct) Record(ctx context.Context, rec models.AgentUsage) error {
	return d.Store.InsertAgentUsage(ctx, rec)
}
