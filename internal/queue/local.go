package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/escolalab/class-reports-back/internal/domain"
)

// LocalQueue is an in-process fallback used when Redis is not configured.
// It keeps the same retry, backoff and dead-letter semantics as the
// streams queue, which also makes it the workhorse of the worker tests.
type LocalQueue struct {
	ch          chan domain.QueueMessage
	maxAttempts int
	backoffBase time.Duration
	logger      *log.Logger

	dlqMu sync.Mutex
	dlq   []domain.QueueMessage
}

func NewLocalQueue(bufferSize, maxAttempts int, backoffBase time.Duration, logger *log.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 128
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	return &LocalQueue{
		ch:          make(chan domain.QueueMessage, bufferSize),
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		logger:      logger,
		dlq:         make([]domain.QueueMessage, 0),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- message:
		return nil
	}
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.ch:
			err := handler(ctx, message)
			if err == nil {
				continue
			}

			if IsNonRetryable(err) {
				q.moveToDLQ(message, err)
				continue
			}

			message.Attempt++
			if message.Attempt >= q.maxAttempts {
				q.moveToDLQ(message, err)
				continue
			}

			delay := q.backoffBase << (message.Attempt - 1)
			go func(retryMessage domain.QueueMessage, failure error) {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					// Shutdown while the retry is parked: keep the
					// message instead of dropping it.
					q.moveToDLQ(retryMessage, failure)
				case <-timer.C:
					select {
					case q.ch <- retryMessage:
					case <-ctx.Done():
						q.moveToDLQ(retryMessage, failure)
					}
				}
			}(message, err)
		}
	}
}

func (q *LocalQueue) moveToDLQ(message domain.QueueMessage, err error) {
	q.dlqMu.Lock()
	q.dlq = append(q.dlq, message)
	q.dlqMu.Unlock()
	if q.logger != nil {
		q.logger.Printf("local queue moved message to DLQ request_id=%s err=%v", message.RequestID, err)
	}
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}
