package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/escolalab/class-reports-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// ReportsRepository abstracts report request and artifact persistence.
// Status writes enforce the state machine: pending and processing are the
// only states a transition may leave, so terminal states never regress.
type ReportsRepository interface {
	CreateRequest(ctx context.Context, request *domain.ReportRequest) error
	GetRequest(ctx context.Context, requestID string) (*domain.ReportRequest, error)
	MarkProcessing(ctx context.Context, requestID string) error
	MarkFailed(ctx context.Context, requestID string, errorMessage string) error
	// CompleteRequest writes the artifact row and the completed status as
	// one atomic step, artifact first. A reader observing completed can
	// always find the artifact. Idempotent on redelivery.
	CompleteRequest(ctx context.Context, artifact *domain.Artifact) error
	GetArtifact(ctx context.Context, requestID string) (*domain.Artifact, error)
	ListRequests(ctx context.Context) ([]domain.ReportRequest, error)
}

// ParticipationSource streams class participation rows for generators.
type ParticipationSource interface {
	CountParticipations(ctx context.Context, classID string) (int, error)
	// StreamParticipations yields rows one at a time, ordered by student
	// name then activity name so repeated runs are byte-stable. The
	// underlying cursor is released on every exit path, including a
	// yield error.
	StreamParticipations(ctx context.Context, classID string, yield func(domain.ParticipationRow) error) error
}

// MemoryReportsRepository stores requests in memory for local development
// and tests. It doubles as a ParticipationSource over seeded rows.
type MemoryReportsRepository struct {
	mu             sync.RWMutex
	requests       map[string]*domain.ReportRequest
	artifacts      map[string]*domain.Artifact
	participations map[string][]domain.ParticipationRow
}

func NewMemoryReportsRepository() *MemoryReportsRepository {
	return &MemoryReportsRepository{
		requests:       make(map[string]*domain.ReportRequest),
		artifacts:      make(map[string]*domain.Artifact),
		participations: make(map[string][]domain.ParticipationRow),
	}
}

func (r *MemoryReportsRepository) CreateRequest(_ context.Context, request *domain.ReportRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *request
	r.requests[request.ID] = &clone
	return nil
}

func (r *MemoryReportsRepository) GetRequest(_ context.Context, requestID string) (*domain.ReportRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	request, ok := r.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *request
	return &clone, nil
}

func (r *MemoryReportsRepository) MarkProcessing(_ context.Context, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, ok := r.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if request.Status.Terminal() {
		// Redelivery after a crash past completion; nothing to do.
		return nil
	}
	request.Status = domain.StatusProcessing
	request.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryReportsRepository) MarkFailed(_ context.Context, requestID string, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, ok := r.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if request.Status.Terminal() {
		return nil
	}
	request.Status = domain.StatusFailed
	request.ErrorMessage = errorMessage
	request.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryReportsRepository) CompleteRequest(_ context.Context, artifact *domain.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, ok := r.requests[artifact.RequestID]
	if !ok {
		return ErrNotFound
	}
	if request.Status == domain.StatusFailed {
		// Stale completion for a request that already failed terminally.
		return nil
	}
	if _, exists := r.artifacts[artifact.RequestID]; !exists {
		clone := *artifact
		if clone.CreatedAt.IsZero() {
			clone.CreatedAt = time.Now().UTC()
		}
		r.artifacts[artifact.RequestID] = &clone
	}
	request.Status = domain.StatusCompleted
	request.ErrorMessage = ""
	request.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryReportsRepository) GetArtifact(_ context.Context, requestID string) (*domain.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	artifact, ok := r.artifacts[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *artifact
	return &clone, nil
}

func (r *MemoryReportsRepository) ListRequests(_ context.Context) ([]domain.ReportRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]domain.ReportRequest, 0, len(r.requests))
	for _, request := range r.requests {
		items = append(items, *request)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// SeedParticipations installs rows for a class; test and local-dev helper.
func (r *MemoryReportsRepository) SeedParticipations(classID string, rows []domain.ParticipationRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participations[classID] = append([]domain.ParticipationRow(nil), rows...)
}

func (r *MemoryReportsRepository) CountParticipations(_ context.Context, classID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participations[classID]), nil
}

func (r *MemoryReportsRepository) StreamParticipations(
	ctx context.Context,
	classID string,
	yield func(domain.ParticipationRow) error,
) error {
	r.mu.RLock()
	rows := append([]domain.ParticipationRow(nil), r.participations[classID]...)
	r.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Student != rows[j].Student {
			return rows[i].Student < rows[j].Student
		}
		return rows[i].Activity < rows[j].Activity
	})

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := yield(row); err != nil {
			return err
		}
	}
	return nil
}
