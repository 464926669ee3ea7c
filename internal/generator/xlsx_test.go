package generator

import (
	"bytes"
	"context"
	"testing"

	"github.com/escolalab/class-reports-back/internal/domain"
	"github.com/escolalab/class-reports-back/internal/repository"
	"github.com/escolalab/class-reports-back/internal/storage"
	"github.com/xuri/excelize/v2"
)

func openStoredWorkbook(t *testing.T, blobs *storage.MemoryBlobStore, key string) *excelize.File {
	t.Helper()
	data, contentType, ok := blobs.Object(key)
	if !ok {
		t.Fatalf("expected object at %s", key)
	}
	if contentType != domain.ReportKindXLSX.ContentType() {
		t.Fatalf("unexpected content type %q", contentType)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("stored bytes are not a valid workbook: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestXLSXGeneratorWritesOrderedRows(t *testing.T) {
	repo := repository.NewMemoryReportsRepository()
	repo.SeedParticipations("class-1", []domain.ParticipationRow{
		{Student: "Bianca", Email: "b@example.com", Activity: "Workshop", ActivityType: "practice", Attendance: "present", Hours: 3, Score: 9.2, Grade: "A", EvaluationStatus: "approved"},
		{Student: "Ana", Email: "a@example.com", Activity: "Quiz", ActivityType: "exam", Attendance: "present", Hours: 1, Score: 6.4, Grade: "C", EvaluationStatus: "pending"},
	})
	blobs := storage.NewMemoryBlobStore()
	gen := NewXLSXGenerator(repo, blobs, nil)

	objectKey := domain.ObjectKeyFor("req-x", domain.ReportKindXLSX)
	if err := gen.Generate(context.Background(), "class-1", objectKey); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	f := openStoredWorkbook(t, blobs, objectKey)

	for i, want := range xlsxHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 3)
		if err != nil {
			t.Fatalf("cell name failed: %v", err)
		}
		got, err := f.GetCellValue(xlsxSheet, cell)
		if err != nil {
			t.Fatalf("read header cell failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected header %q at %s, got %q", want, cell, got)
		}
	}

	// Rows come out sorted by student name regardless of seed order.
	first, err := f.GetCellValue(xlsxSheet, "A4")
	if err != nil {
		t.Fatalf("read cell failed: %v", err)
	}
	second, err := f.GetCellValue(xlsxSheet, "A5")
	if err != nil {
		t.Fatalf("read cell failed: %v", err)
	}
	if first != "Ana" || second != "Bianca" {
		t.Fatalf("expected [Ana Bianca], got [%s %s]", first, second)
	}

	activity, err := f.GetCellValue(xlsxSheet, "C4")
	if err != nil {
		t.Fatalf("read cell failed: %v", err)
	}
	if activity != "Quiz" {
		t.Fatalf("expected Ana's activity Quiz, got %q", activity)
	}
}

func TestXLSXGeneratorHandlesEmptyClass(t *testing.T) {
	repo := repository.NewMemoryReportsRepository()
	blobs := storage.NewMemoryBlobStore()
	gen := NewXLSXGenerator(repo, blobs, nil)

	objectKey := domain.ObjectKeyFor("req-empty", domain.ReportKindXLSX)
	if err := gen.Generate(context.Background(), "class-empty", objectKey); err != nil {
		t.Fatalf("generate failed for empty class: %v", err)
	}

	f := openStoredWorkbook(t, blobs, objectKey)

	got, err := f.GetCellValue(xlsxSheet, "A3")
	if err != nil {
		t.Fatalf("read cell failed: %v", err)
	}
	if got != "Student" {
		t.Fatalf("expected header row even with zero data rows, got %q", got)
	}
	empty, err := f.GetCellValue(xlsxSheet, "A4")
	if err != nil {
		t.Fatalf("read cell failed: %v", err)
	}
	if empty != "" {
		t.Fatalf("expected no data rows, found %q", empty)
	}
}
