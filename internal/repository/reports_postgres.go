package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/escolalab/class-reports-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresReportsRepository persists report requests, artifacts and streams
// participation rows from Postgres.
type PostgresReportsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresReportsRepository(ctx context.Context, databaseURL string) (*PostgresReportsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresReportsRepository{pool: pool}, nil
}

func (r *PostgresReportsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresReportsRepository) CreateRequest(ctx context.Context, request *domain.ReportRequest) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO report_requests (
			id,
			class_id,
			kind,
			file_name,
			status,
			error_message,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		request.ID,
		request.ClassID,
		string(request.Kind),
		request.FileName,
		string(request.Status),
		request.ErrorMessage,
		request.CreatedAt,
		request.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert report request: %w", err)
	}
	return nil
}

func (r *PostgresReportsRepository) GetRequest(ctx context.Context, requestID string) (*domain.ReportRequest, error) {
	var (
		request domain.ReportRequest
		kind    string
		status  string
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, class_id, kind, file_name, status, error_message, created_at, updated_at
		FROM report_requests
		WHERE id = $1
	`, requestID).Scan(
		&request.ID,
		&request.ClassID,
		&kind,
		&request.FileName,
		&status,
		&request.ErrorMessage,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query report request: %w", err)
	}

	request.Kind = domain.ReportKind(kind)
	request.Status = domain.ReportStatus(status)
	return &request, nil
}

// MarkProcessing claims the request. The status predicate keeps terminal
// states untouched, so a redelivered job for an already completed request
// is a no-op instead of a regression.
func (r *PostgresReportsRepository) MarkProcessing(ctx context.Context, requestID string) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE report_requests
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status IN ($4, $2)
	`, requestID, string(domain.StatusProcessing), time.Now().UTC(), string(domain.StatusPending))
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if command.RowsAffected() == 0 {
		return r.requireExists(ctx, requestID)
	}
	return nil
}

func (r *PostgresReportsRepository) MarkFailed(ctx context.Context, requestID string, errorMessage string) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE report_requests
		SET status = $2, error_message = $3, updated_at = $4
		WHERE id = $1 AND status NOT IN ($5, $2)
	`,
		requestID,
		string(domain.StatusFailed),
		errorMessage,
		time.Now().UTC(),
		string(domain.StatusCompleted),
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if command.RowsAffected() == 0 {
		return r.requireExists(ctx, requestID)
	}
	return nil
}

func (r *PostgresReportsRepository) CompleteRequest(ctx context.Context, artifact *domain.Artifact) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	// Artifact insert happens-before the status flip inside one
	// transaction: a reader observing completed always finds the row.
	_, err = tx.Exec(ctx, `
		INSERT INTO report_artifacts (request_id, object_key, file_name, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (request_id) DO NOTHING
	`, artifact.RequestID, artifact.ObjectKey, artifact.FileName, createdAt)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}

	command, err := tx.Exec(ctx, `
		UPDATE report_requests
		SET status = $2, error_message = '', updated_at = $3
		WHERE id = $1 AND status <> $4
	`,
		artifact.RequestID,
		string(domain.StatusCompleted),
		time.Now().UTC(),
		string(domain.StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if command.RowsAffected() == 0 {
		if err := r.requireExists(ctx, artifact.RequestID); err != nil {
			return err
		}
		// Stale completion for a request that already failed terminally;
		// the rollback discards the artifact insert too.
		return nil
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete tx: %w", err)
	}
	return nil
}

func (r *PostgresReportsRepository) GetArtifact(ctx context.Context, requestID string) (*domain.Artifact, error) {
	var artifact domain.Artifact

	err := r.pool.QueryRow(ctx, `
		SELECT request_id, object_key, file_name, created_at
		FROM report_artifacts
		WHERE request_id = $1
	`, requestID).Scan(
		&artifact.RequestID,
		&artifact.ObjectKey,
		&artifact.FileName,
		&artifact.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query artifact: %w", err)
	}
	return &artifact, nil
}

func (r *PostgresReportsRepository) ListRequests(ctx context.Context) ([]domain.ReportRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, class_id, kind, file_name, status, error_message, created_at, updated_at
		FROM report_requests
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list report requests: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ReportRequest, 0)
	for rows.Next() {
		var (
			request domain.ReportRequest
			kind    string
			status  string
		)
		if err := rows.Scan(
			&request.ID,
			&request.ClassID,
			&kind,
			&request.FileName,
			&status,
			&request.ErrorMessage,
			&request.CreatedAt,
			&request.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan report request: %w", err)
		}
		request.Kind = domain.ReportKind(kind)
		request.Status = domain.ReportStatus(status)
		items = append(items, request)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate report requests: %w", rows.Err())
	}
	return items, nil
}

func (r *PostgresReportsRepository) CountParticipations(ctx context.Context, classID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM participations WHERE class_id = $1
	`, classID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count participations: %w", err)
	}
	return count, nil
}

// StreamParticipations yields rows as pgx reads them off the wire; the
// full result set is never materialized. The deterministic ORDER BY keeps
// repeated runs byte-stable.
func (r *PostgresReportsRepository) StreamParticipations(
	ctx context.Context,
	classID string,
	yield func(domain.ParticipationRow) error,
) error {
	rows, err := r.pool.Query(ctx, `
		SELECT
			s.name AS student,
			s.email,
			a.name AS activity,
			a.type AS activity_type,
			p.attendance,
			p.hours,
			p.score,
			p.grade,
			p.evaluation_status
		FROM participations p
		JOIN students s ON s.id = p.student_id
		JOIN activities a ON a.id = p.activity_id
		WHERE p.class_id = $1
		ORDER BY s.name, a.name
	`, classID)
	if err != nil {
		return fmt.Errorf("query participations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row domain.ParticipationRow
		if err := rows.Scan(
			&row.Student,
			&row.Email,
			&row.Activity,
			&row.ActivityType,
			&row.Attendance,
			&row.Hours,
			&row.Score,
			&row.Grade,
			&row.EvaluationStatus,
		); err != nil {
			return fmt.Errorf("scan participation: %w", err)
		}
		if err := yield(row); err != nil {
			return err
		}
	}
	if rows.Err() != nil {
		return fmt.Errorf("iterate participations: %w", rows.Err())
	}
	return nil
}

func (r *PostgresReportsRepository) requireExists(ctx context.Context, requestID string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM report_requests WHERE id = $1)
	`, requestID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check report request: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}
