package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/escolalab/class-reports-back/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type StreamsConfig struct {
	Addr        string
	Password    string
	DB          int
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
	// Concurrency bounds how many jobs from one read batch are handled
	// in parallel. Generation is I/O and CPU heavy, so the cap doubles
	// as the memory ceiling for in-flight documents.
	Concurrency int
	// BackoffBase is the delay before the first redelivery; it doubles
	// per attempt.
	BackoffBase time.Duration
	// ClaimMinIdle is the visibility timeout: an entry delivered to a
	// consumer that never acked becomes claimable by the reclaim sweep
	// after this long.
	ClaimMinIdle time.Duration
}

// StreamsQueue implements Producer+Consumer backed by Redis Streams.
type StreamsQueue struct {
	client      *redis.Client
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
	concurrency int
	backoffBase time.Duration
	minIdle     time.Duration
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "report_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "report_jobs_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "report_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = 60 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queue := &StreamsQueue{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
		concurrency: cfg.Concurrency,
		backoffBase: cfg.BackoffBase,
		minIdle:     cfg.ClaimMinIdle,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: messageValues(message),
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	var lastClaim time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Entries delivered to a consumer that died before acking sit in
		// the group's pending list; the sweep claims them back once they
		// have been idle past the visibility timeout.
		if time.Since(lastClaim) >= q.minIdle/2 {
			q.claimStale(ctx, handler)
			lastClaim = time.Now()
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    int64(q.concurrency),
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		var group errgroup.Group
		group.SetLimit(q.concurrency)
		for _, stream := range streams {
			for _, item := range stream.Messages {
				item := item
				group.Go(func() error {
					q.handleItem(ctx, item, handler)
					return nil
				})
			}
		}
		_ = group.Wait()
	}
}

// claimStale re-reads entries that were delivered but never acked and runs
// them through the normal handling path. Together with idempotent handlers
// this is what makes a crash mid-job look like a fresh claim.
func (q *StreamsQueue) claimStale(
	ctx context.Context,
	handler func(context.Context, domain.QueueMessage) error,
) {
	start := "0-0"
	for {
		messages, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.minIdle,
			Start:    start,
			Count:    int64(q.concurrency),
		}).Result()
		if err != nil || len(messages) == 0 {
			return
		}

		var group errgroup.Group
		group.SetLimit(q.concurrency)
		for _, item := range messages {
			item := item
			group.Go(func() error {
				q.handleItem(ctx, item, handler)
				return nil
			})
		}
		_ = group.Wait()

		if next == "0-0" {
			return
		}
		start = next
	}
}

func (q *StreamsQueue) handleItem(
	ctx context.Context,
	item redis.XMessage,
	handler func(context.Context, domain.QueueMessage) error,
) {
	message, notBefore, parseErr := parseStreamMessage(item)
	if parseErr != nil {
		_ = q.sendToDLQ(ctx, domain.QueueMessage{}, item, parseErr.Error())
		_ = q.ackAndDelete(ctx, item.ID)
		return
	}

	// A retry copy parks in the stream until its delay elapses. Waiting
	// here keeps the entry unacked, so a crash mid-wait leaves it in the
	// pending list for the reclaim sweep instead of dropping it.
	if wait := time.Until(notBefore); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	handleErr := handler(ctx, message)
	if handleErr == nil {
		_ = q.ackAndDelete(ctx, item.ID)
		return
	}

	if IsNonRetryable(handleErr) {
		_ = q.sendToDLQ(ctx, message, item, handleErr.Error())
		_ = q.ackAndDelete(ctx, item.ID)
		return
	}

	message.Attempt++
	if message.Attempt >= q.maxAttempts {
		_ = q.sendToDLQ(ctx, message, item, handleErr.Error())
		_ = q.ackAndDelete(ctx, item.ID)
		return
	}

	// The delayed copy is written durably before the original is acked;
	// no interleaving of crash and shutdown can lose the retry. If even
	// the dead-letter fallback fails the original stays unacked and the
	// reclaim sweep picks it up.
	delay := q.backoffBase << (message.Attempt - 1)
	if requeueErr := q.enqueueRetry(ctx, message, time.Now().UTC().Add(delay)); requeueErr != nil {
		if dlqErr := q.sendToDLQ(ctx, message, item, fmt.Sprintf("requeue failed: %v", requeueErr)); dlqErr != nil {
			return
		}
	}
	_ = q.ackAndDelete(ctx, item.ID)
}

// enqueueRetry adds the incremented-attempt copy carrying the timestamp
// before which no consumer may run it.
func (q *StreamsQueue) enqueueRetry(ctx context.Context, message domain.QueueMessage, notBefore time.Time) error {
	values := messageValues(message)
	values["not_before"] = notBefore.Format(time.RFC3339Nano)
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: values}).Result(); err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}
	return nil
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) sendToDLQ(
	ctx context.Context,
	message domain.QueueMessage,
	item redis.XMessage,
	errorMessage string,
) error {
	values := messageValues(message)
	values["stream_id"] = item.ID
	values["error"] = errorMessage
	values["moved_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func messageValues(message domain.QueueMessage) map[string]any {
	return map[string]any{
		"request_id":   message.RequestID,
		"class_id":     message.ClassID,
		"kind":         string(message.Kind),
		"file_name":    message.FileName,
		"attempt":      message.Attempt,
		"requested_at": message.RequestedAt.Format(time.RFC3339Nano),
	}
}

// parseStreamMessage decodes a stream entry. The second return value is
// the earliest instant the message may be handled; zero for first
// deliveries, set on retry copies.
func parseStreamMessage(item redis.XMessage) (domain.QueueMessage, time.Time, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	requestID, err := getString("request_id")
	if err != nil {
		return domain.QueueMessage{}, time.Time{}, err
	}
	classID, err := getString("class_id")
	if err != nil {
		return domain.QueueMessage{}, time.Time{}, err
	}
	kindValue, err := getString("kind")
	if err != nil {
		return domain.QueueMessage{}, time.Time{}, err
	}
	fileName, err := getString("file_name")
	if err != nil {
		return domain.QueueMessage{}, time.Time{}, err
	}

	attemptString, err := getString("attempt")
	if err != nil {
		return domain.QueueMessage{}, time.Time{}, err
	}
	attempt, err := strconv.Atoi(attemptString)
	if err != nil {
		return domain.QueueMessage{}, time.Time{}, fmt.Errorf("invalid attempt: %w", err)
	}

	requestedAtString, err := getString("requested_at")
	if err != nil {
		return domain.QueueMessage{}, time.Time{}, err
	}
	requestedAt, err := time.Parse(time.RFC3339Nano, requestedAtString)
	if err != nil {
		return domain.QueueMessage{}, time.Time{}, fmt.Errorf("invalid requested_at: %w", err)
	}

	var notBefore time.Time
	if raw, ok := item.Values["not_before"]; ok {
		notBeforeString := fmt.Sprintf("%v", raw)
		notBefore, err = time.Parse(time.RFC3339Nano, notBeforeString)
		if err != nil {
			return domain.QueueMessage{}, time.Time{}, fmt.Errorf("invalid not_before: %w", err)
		}
	}

	return domain.QueueMessage{
		RequestID:   requestID,
		ClassID:     classID,
		Kind:        domain.ReportKind(kindValue),
		FileName:    fileName,
		Attempt:     attempt,
		RequestedAt: requestedAt,
	}, notBefore, nil
}
