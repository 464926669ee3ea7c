package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/escolalab/class-reports-back/internal/domain"
	"github.com/escolalab/class-reports-back/internal/queue"
	"github.com/escolalab/class-reports-back/internal/repository"
	"github.com/google/uuid"
)

// ErrArtifactMissing means a request reads completed but its artifact row
// is gone. That is an internal consistency failure, never a user error.
var ErrArtifactMissing = errors.New("artifact missing for completed report request")

// ValidationError is a caller mistake: bad input or a domain precondition
// that is not met.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// BlobPresigner is the slice of the blob store the read path needs.
type BlobPresigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration, fileName string) (string, error)
}

// ReportsService is the intake and query surface of the report pipeline.
type ReportsService struct {
	repo       repository.ReportsRepository
	rows       repository.ParticipationSource
	producer   queue.Producer
	presigner  BlobPresigner
	presignTTL time.Duration
	logger     *log.Logger
}

func NewReportsService(
	repo repository.ReportsRepository,
	rows repository.ParticipationSource,
	producer queue.Producer,
	presigner BlobPresigner,
	presignTTL time.Duration,
	logger *log.Logger,
) *ReportsService {
	if presignTTL <= 0 {
		presignTTL = 5 * time.Minute
	}
	return &ReportsService{
		repo:       repo,
		rows:       rows,
		producer:   producer,
		presigner:  presigner,
		presignTTL: presignTTL,
		logger:     logger,
	}
}

// Submit validates the request, persists it pending and hands the job to
// the queue. When the enqueue fails the submission fails as a whole: the
// just-created row is flipped to failed before returning, so no request is
// stranded pending without a queued job behind it.
func (s *ReportsService) Submit(ctx context.Context, classID, kind, fileName string) (*domain.ReportRequest, error) {
	classID = strings.TrimSpace(classID)
	kind = strings.TrimSpace(kind)
	if classID == "" || kind == "" {
		return nil, validationErrorf("class_id and kind are required")
	}

	reportKind := domain.ReportKind(kind)
	if !reportKind.Valid() {
		return nil, validationErrorf("kind must be %s or %s", domain.ReportKindPDF, domain.ReportKindXLSX)
	}

	// A class without participation rows has nothing to report; that is
	// a caller precondition, not an unknown resource.
	count, err := s.rows.CountParticipations(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("validate class: %w", err)
	}
	if count == 0 {
		return nil, validationErrorf("class %s has no participation data to report", classID)
	}

	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		fileName = domain.DefaultFileName(classID, reportKind)
	}

	now := time.Now().UTC()
	request := &domain.ReportRequest{
		ID:        uuid.NewString(),
		ClassID:   classID,
		Kind:      reportKind,
		FileName:  fileName,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("create report request: %w", err)
	}

	message := domain.QueueMessage{
		RequestID:   request.ID,
		ClassID:     classID,
		Kind:        reportKind,
		FileName:    fileName,
		Attempt:     0,
		RequestedAt: now,
	}

	if err := s.producer.Enqueue(ctx, message); err != nil {
		_ = s.repo.MarkFailed(ctx, request.ID, "enqueue: "+err.Error())
		return nil, fmt.Errorf("enqueue report job: %w", err)
	}

	return request, nil
}

// GetStatus reads the request state; polling never mutates.
func (s *ReportsService) GetStatus(ctx context.Context, requestID string) (*domain.ReportRequest, error) {
	return s.repo.GetRequest(ctx, requestID)
}

// GetDownloadURL returns a presigned URL for a completed report, plus the
// URL lifetime in seconds.
func (s *ReportsService) GetDownloadURL(ctx context.Context, requestID string) (string, int, error) {
	request, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return "", 0, err
	}

	if request.Status != domain.StatusCompleted {
		return "", 0, validationErrorf("report is not ready yet: current status is %s", request.Status)
	}

	artifact, err := s.repo.GetArtifact(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if s.logger != nil {
				s.logger.Printf("INVARIANT VIOLATION: request %s is completed but has no artifact row", requestID)
			}
			return "", 0, ErrArtifactMissing
		}
		return "", 0, fmt.Errorf("load artifact: %w", err)
	}

	url, err := s.presigner.PresignGet(ctx, artifact.ObjectKey, s.presignTTL, artifact.FileName)
	if err != nil {
		return "", 0, fmt.Errorf("presign download: %w", err)
	}
	return url, int(s.presignTTL.Seconds()), nil
}

func (s *ReportsService) ListRequests(ctx context.Context) ([]domain.ReportRequest, error) {
	return s.repo.ListRequests(ctx)
}
