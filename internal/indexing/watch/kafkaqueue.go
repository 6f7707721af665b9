package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// ChangeEvent is a single file-change notification carried on the durable
// queue. It mirrors the three pending sets the in-process watcher tracks.
type ChangeEvent struct {
	Path string `json:"path"`
	Kind string `json:"kind"` // "modified" | "new" | "deleted"
}

// ChangeHandler processes one ChangeEvent. Returning an error causes the
// message to be retried up to maxAttempts before being dropped.
type ChangeHandler func(ctx context.Context, ev ChangeEvent) error

// KafkaQueue fans file-change events through a Kafka topic instead of an
// in-process channel, so multiple indexer instances can share one settle
// queue. This is the durable alternative selected by watcher.queue: "kafka";
// the default remains an in-process channel (see Watcher in watcher.go).
type KafkaQueue struct {
	Brokers     []string
	Topic       string
	GroupID     string
	WorkerCount int
	MaxAttempts int
	RetryDelay  time.Duration
}

// Publish writes a single change event to the queue topic.
func (q *KafkaQueue) Publish(ctx context.Context, w *kafka.Writer, ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	return w.WriteMessages(ctx, kafka.Message{Topic: q.Topic, Key: []byte(ev.Path), Value: payload})
}

// Run starts a bounded worker pool consuming from the queue topic until ctx
// is canceled. Each message is retried with a fixed delay up to MaxAttempts
// before being logged and dropped; there is no DLQ topic since a dropped
// file-change event is recoverable on the next full rescan.
func (q *KafkaQueue) Run(ctx context.Context, handle ChangeHandler) error {
	workerCount := q.WorkerCount
	if workerCount <= 0 {
		workerCount = 3
	}
	maxAttempts := q.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryDelay := q.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: q.Brokers,
		GroupID: q.GroupID,
		Topic:   q.Topic,
	})
	defer reader.Close()

	jobs := make(chan kafka.Message, workerCount*4)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			for msg := range jobs {
				var ev ChangeEvent
				if err := json.Unmarshal(msg.Value, &ev); err != nil {
					log.Printf("watch/kafkaqueue: malformed event, dropping: %v", err)
					_ = reader.CommitMessages(ctx, msg)
					continue
				}

				var lastErr error
				for attempt := 1; attempt <= maxAttempts; attempt++ {
					if err := handle(ctx, ev); err != nil {
						lastErr = err
						log.Printf("watch/kafkaqueue: handle %s failed (attempt %d/%d): %v", ev.Path, attempt, maxAttempts, err)
						t := time.NewTimer(retryDelay)
						select {
						case <-t.C:
						case <-ctx.Done():
							t.Stop()
						}
						continue
					}
					lastErr = nil
					break
				}
				if lastErr != nil {
					log.Printf("watch/kafkaqueue: giving up on %s after %d attempts: %v", ev.Path, maxAttempts, lastErr)
				}
				if err := reader.CommitMessages(ctx, msg); err != nil {
					log.Printf("watch/kafkaqueue: commit failed: %v", err)
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for {
			if ctx.Err() != nil {
				return
			}
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				log.Printf("watch/kafkaqueue: fetch error: %v", err)
				t := time.NewTimer(retryDelay)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return
				}
				continue
			}
			select {
			case jobs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	return ctx.Err()
}
