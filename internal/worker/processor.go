package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/escolalab/class-reports-back/internal/domain"
	"github.com/escolalab/class-reports-back/internal/generator"
	"github.com/escolalab/class-reports-back/internal/queue"
	"github.com/escolalab/class-reports-back/internal/repository"
)

// Processor consumes report jobs and drives each to a terminal status.
// Every step is safe to re-run: marking processing is a guarded no-op on
// terminal rows, the object key is re-derived from the request id, and the
// completion write is idempotent. Redelivery after a crash mid-job
// converges to the same terminal state.
type Processor struct {
	consumer    queue.Consumer
	repo        repository.ReportsRepository
	generators  *generator.Registry
	maxAttempts int
	logger      *log.Logger
	metrics     *Metrics
}

type ProcessorConfig struct {
	// MaxAttempts mirrors the queue's attempt cap; the request is marked
	// failed only once the final attempt is spent, so a poller never sees
	// failed flip back to processing on a retry.
	MaxAttempts int
	Logger      *log.Logger
	Metrics     *Metrics
}

func NewProcessor(
	consumer queue.Consumer,
	repo repository.ReportsRepository,
	generators *generator.Registry,
	cfg ProcessorConfig,
) *Processor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Processor{
		consumer:    consumer,
		repo:        repo,
		generators:  generators,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		if p.logger != nil {
			p.logger.Printf("worker consume loop error: %v", err)
		}

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, message domain.QueueMessage) error {
	if err := p.repo.MarkProcessing(ctx, message.RequestID); err != nil {
		return fmt.Errorf("mark processing %s: %w", message.RequestID, err)
	}

	gen, ok := p.generators.Lookup(message.Kind)
	if !ok {
		// Configuration error, not a transient one: fail without retry.
		failure := queue.NonRetryable(fmt.Errorf("unsupported report kind: %s", message.Kind))
		p.markFailed(ctx, message, failure)
		return failure
	}

	objectKey := domain.ObjectKeyFor(message.RequestID, message.Kind)
	if err := gen.Generate(ctx, message.ClassID, objectKey); err != nil {
		p.markFailed(ctx, message, err)
		return err
	}

	fileName := message.FileName
	if fileName == "" {
		fileName = domain.DefaultFileName(message.ClassID, message.Kind)
	}

	artifact := &domain.Artifact{
		RequestID: message.RequestID,
		ObjectKey: objectKey,
		FileName:  fileName,
	}
	if err := p.repo.CompleteRequest(ctx, artifact); err != nil {
		failure := fmt.Errorf("complete request %s: %w", message.RequestID, err)
		p.markFailed(ctx, message, failure)
		return failure
	}

	p.metrics.JobProcessed(message.Kind)
	if p.logger != nil {
		p.logger.Printf(
			"report generated request_id=%s class_id=%s kind=%s attempt=%d",
			message.RequestID, message.ClassID, message.Kind, message.Attempt+1,
		)
	}
	return nil
}

// markFailed persists the failure only when no further delivery is coming:
// either the error is non-retryable or every attempt is spent. Earlier
// attempts leave the row processing so the terminal failed state is never
// left and re-entered.
func (p *Processor) markFailed(ctx context.Context, message domain.QueueMessage, failure error) {
	p.metrics.JobFailed(message.Kind)
	if p.logger != nil {
		p.logger.Printf(
			"report job failed request_id=%s attempt=%d err=%v",
			message.RequestID, message.Attempt+1, failure,
		)
	}
	finalAttempt := message.Attempt >= p.maxAttempts-1
	if !finalAttempt && !queue.IsNonRetryable(failure) {
		return
	}
	if err := p.repo.MarkFailed(ctx, message.RequestID, failure.Error()); err != nil && p.logger != nil {
		p.logger.Printf("mark failed request_id=%s err=%v", message.RequestID, err)
	}
}
