package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/escolalab/class-reports-back/internal/domain"
)

func newPendingRequest(id string) *domain.ReportRequest {
	now := time.Now().UTC()
	return &domain.ReportRequest{
		ID:        id,
		ClassID:   "class-1",
		Kind:      domain.ReportKindPDF,
		FileName:  "class_report_class-1.pdf",
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReportsRepository()

	if err := repo.CreateRequest(ctx, newPendingRequest("req-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.MarkProcessing(ctx, "req-1"); err != nil {
		t.Fatalf("mark processing failed: %v", err)
	}
	request, err := repo.GetRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if request.Status != domain.StatusProcessing {
		t.Fatalf("expected processing, got %s", request.Status)
	}

	artifact := &domain.Artifact{
		RequestID: "req-1",
		ObjectKey: domain.ObjectKeyFor("req-1", domain.ReportKindPDF),
		FileName:  "class_report_class-1.pdf",
	}
	if err := repo.CompleteRequest(ctx, artifact); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	request, err = repo.GetRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if request.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", request.Status)
	}

	stored, err := repo.GetArtifact(ctx, "req-1")
	if err != nil {
		t.Fatalf("get artifact failed: %v", err)
	}
	if stored.ObjectKey != "reports/req-1.pdf" {
		t.Fatalf("unexpected object key %q", stored.ObjectKey)
	}
}

func TestMemoryRepositoryTerminalStatesNeverRegress(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReportsRepository()

	if err := repo.CreateRequest(ctx, newPendingRequest("req-done")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	artifact := &domain.Artifact{RequestID: "req-done", ObjectKey: "reports/req-done.pdf", FileName: "a.pdf"}
	if err := repo.CompleteRequest(ctx, artifact); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	// Redelivery after completion touches the row again; both writes are
	// no-ops on a terminal state.
	if err := repo.MarkProcessing(ctx, "req-done"); err != nil {
		t.Fatalf("mark processing on terminal row errored: %v", err)
	}
	if err := repo.MarkFailed(ctx, "req-done", "late failure"); err != nil {
		t.Fatalf("mark failed on terminal row errored: %v", err)
	}

	request, err := repo.GetRequest(ctx, "req-done")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if request.Status != domain.StatusCompleted {
		t.Fatalf("expected status to stay completed, got %s", request.Status)
	}
	if request.ErrorMessage != "" {
		t.Fatalf("expected error message to stay empty, got %q", request.ErrorMessage)
	}
}

func TestMemoryRepositoryCompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReportsRepository()

	if err := repo.CreateRequest(ctx, newPendingRequest("req-twice")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first := &domain.Artifact{RequestID: "req-twice", ObjectKey: "reports/req-twice.pdf", FileName: "first.pdf"}
	if err := repo.CompleteRequest(ctx, first); err != nil {
		t.Fatalf("first complete failed: %v", err)
	}
	second := &domain.Artifact{RequestID: "req-twice", ObjectKey: "reports/req-twice.pdf", FileName: "second.pdf"}
	if err := repo.CompleteRequest(ctx, second); err != nil {
		t.Fatalf("second complete failed: %v", err)
	}

	artifact, err := repo.GetArtifact(ctx, "req-twice")
	if err != nil {
		t.Fatalf("get artifact failed: %v", err)
	}
	if artifact.FileName != "first.pdf" {
		t.Fatalf("expected first artifact to win, got %q", artifact.FileName)
	}
}

func TestMemoryRepositoryCompleteDoesNotResurrectFailedRequest(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReportsRepository()

	if err := repo.CreateRequest(ctx, newPendingRequest("req-late")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, "req-late", "attempts exhausted"); err != nil {
		t.Fatalf("mark failed errored: %v", err)
	}

	// A stale duplicate delivery finishing after the request already
	// failed must not flip it back, and must not leave an artifact row.
	artifact := &domain.Artifact{RequestID: "req-late", ObjectKey: "reports/req-late.pdf", FileName: "a.pdf"}
	if err := repo.CompleteRequest(ctx, artifact); err != nil {
		t.Fatalf("stale complete errored: %v", err)
	}

	request, err := repo.GetRequest(ctx, "req-late")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if request.Status != domain.StatusFailed {
		t.Fatalf("expected status to stay failed, got %s", request.Status)
	}
	if request.ErrorMessage != "attempts exhausted" {
		t.Fatalf("expected failure message preserved, got %q", request.ErrorMessage)
	}
	if _, err := repo.GetArtifact(ctx, "req-late"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no artifact for a failed request, got %v", err)
	}
}

func TestMemoryRepositoryNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReportsRepository()

	if _, err := repo.GetRequest(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetArtifact(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.MarkProcessing(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepositoryListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReportsRepository()

	older := newPendingRequest("req-old")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := newPendingRequest("req-new")

	if err := repo.CreateRequest(ctx, older); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.CreateRequest(ctx, newer); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	items, err := repo.ListRequests(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != "req-new" || items[1].ID != "req-old" {
		t.Fatalf("expected newest first, got [%s %s]", items[0].ID, items[1].ID)
	}
}

func TestMemoryRepositoryStreamsSortedRows(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReportsRepository()
	repo.SeedParticipations("class-1", []domain.ParticipationRow{
		{Student: "Bianca", Activity: "Workshop"},
		{Student: "Ana", Activity: "Quiz"},
		{Student: "Ana", Activity: "Lecture"},
	})

	var seen []string
	err := repo.StreamParticipations(ctx, "class-1", func(row domain.ParticipationRow) error {
		seen = append(seen, row.Student+"/"+row.Activity)
		return nil
	})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	want := []string{"Ana/Lecture", "Ana/Quiz", "Bianca/Workshop"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, seen)
		}
	}
}

func TestMemoryRepositoryStreamStopsOnYieldError(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReportsRepository()
	repo.SeedParticipations("class-1", []domain.ParticipationRow{
		{Student: "Ana", Activity: "Quiz"},
		{Student: "Bianca", Activity: "Quiz"},
	})

	boom := errors.New("sink full")
	calls := 0
	err := repo.StreamParticipations(ctx, "class-1", func(domain.ParticipationRow) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected yield error to propagate, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected stream to stop after first yield error, got %d calls", calls)
	}
}
