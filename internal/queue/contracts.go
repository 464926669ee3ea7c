package queue

import (
	"context"
	"errors"

	"github.com/escolalab/class-reports-back/internal/domain"
)

// Producer sends report generation jobs to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Consumer receives jobs and executes handlers. Delivery is at-least-once:
// a handler may see the same message again after a crash, so handlers must
// be safe to re-run.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error
}

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string {
	return e.err.Error()
}

func (e *nonRetryableError) Unwrap() error {
	return e.err
}

// NonRetryable marks a handler error as terminal: the message moves to the
// dead-letter stream without redelivery.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

func IsNonRetryable(err error) bool {
	var target *nonRetryableError
	return errors.As(err, &target)
}
