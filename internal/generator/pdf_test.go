package generator

import (
	"bytes"
	"context"
	"testing"

	"github.com/escolalab/class-reports-back/internal/domain"
	"github.com/escolalab/class-reports-back/internal/repository"
	"github.com/escolalab/class-reports-back/internal/storage"
)

func seedClass(repo *repository.MemoryReportsRepository, classID string, count int) {
	rows := make([]domain.ParticipationRow, 0, count)
	for i := 0; i < count; i++ {
		rows = append(rows, domain.ParticipationRow{
			Student:          "Student " + string(rune('A'+i%26)),
			Email:            "student@example.com",
			Activity:         "Activity",
			ActivityType:     "workshop",
			Attendance:       "present",
			Hours:            2,
			Score:            7.5,
			Grade:            "B",
			EvaluationStatus: "approved",
		})
	}
	repo.SeedParticipations(classID, rows)
}

func TestPDFGeneratorStoresDocument(t *testing.T) {
	repo := repository.NewMemoryReportsRepository()
	seedClass(repo, "class-1", 3)
	blobs := storage.NewMemoryBlobStore()
	gen := NewPDFGenerator(repo, blobs, nil)

	objectKey := domain.ObjectKeyFor("req-1", domain.ReportKindPDF)
	if err := gen.Generate(context.Background(), "class-1", objectKey); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	data, contentType, ok := blobs.Object(objectKey)
	if !ok {
		t.Fatalf("expected object at %s", objectKey)
	}
	if contentType != "application/pdf" {
		t.Fatalf("unexpected content type %q", contentType)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("expected a PDF document, got prefix %q", data[:min(8, len(data))])
	}
}

func TestPDFGeneratorHandlesEmptyClass(t *testing.T) {
	repo := repository.NewMemoryReportsRepository()
	blobs := storage.NewMemoryBlobStore()
	gen := NewPDFGenerator(repo, blobs, nil)

	objectKey := domain.ObjectKeyFor("req-empty", domain.ReportKindPDF)
	if err := gen.Generate(context.Background(), "class-empty", objectKey); err != nil {
		t.Fatalf("generate failed for empty class: %v", err)
	}

	data, _, ok := blobs.Object(objectKey)
	if !ok || len(data) == 0 {
		t.Fatalf("expected a stored document even with zero rows")
	}
}

func TestPDFGeneratorPaginatesLargeClasses(t *testing.T) {
	repo := repository.NewMemoryReportsRepository()
	seedClass(repo, "class-big", 120)
	blobs := storage.NewMemoryBlobStore()
	gen := NewPDFGenerator(repo, blobs, nil)

	objectKey := domain.ObjectKeyFor("req-big", domain.ReportKindPDF)
	if err := gen.Generate(context.Background(), "class-big", objectKey); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	data, _, ok := blobs.Object(objectKey)
	if !ok {
		t.Fatalf("expected stored document")
	}

	smallKey := domain.ObjectKeyFor("req-small", domain.ReportKindPDF)
	seedClass(repo, "class-small", 3)
	if err := gen.Generate(context.Background(), "class-small", smallKey); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	small, _, _ := blobs.Object(smallKey)

	// 120 rows at 7mm never fit one A4 page; the document must have grown
	// by whole pages, not just bytes.
	if len(data) <= len(small) {
		t.Fatalf("expected 120-row document to outgrow 3-row document: %d vs %d bytes", len(data), len(small))
	}
	if bytes.Contains(data, []byte("/Count 1")) {
		t.Fatalf("expected a multi-page document")
	}
}
