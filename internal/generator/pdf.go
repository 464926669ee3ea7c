package generator

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/escolalab/class-reports-back/internal/domain"
	"github.com/escolalab/class-reports-back/internal/repository"
	"github.com/jung-kurt/gofpdf/v2"
)

// Layout constants for the A4 portrait table (millimeters).
const (
	pdfColStudent  = 70.0
	pdfColActivity = 60.0
	pdfColScore    = 20.0
	pdfColGrade    = 30.0
	pdfRowHeight   = 7.0
	pdfMaxY        = 265.0
)

// PDFGenerator streams participation rows into a paginated tabular PDF and
// pipes the output into a multipart upload.
type PDFGenerator struct {
	rows   repository.ParticipationSource
	blobs  BlobUploader
	logger *log.Logger
}

func NewPDFGenerator(rows repository.ParticipationSource, blobs BlobUploader, logger *log.Logger) *PDFGenerator {
	return &PDFGenerator{rows: rows, blobs: blobs, logger: logger}
}

func (g *PDFGenerator) Generate(ctx context.Context, classID, objectKey string) error {
	err := pipeUpload(ctx, g.blobs, objectKey, domain.ReportKindPDF.ContentType(), func(w io.Writer) error {
		return g.write(ctx, classID, w)
	})
	if err != nil {
		return &GenerationError{Kind: domain.ReportKindPDF, Err: err}
	}
	if g.logger != nil {
		g.logger.Printf("pdf report generated class_id=%s key=%s", classID, objectKey)
	}
	return nil
}

func (g *PDFGenerator) write(ctx context.Context, classID string, w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(false, 0)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 12, tr("Class Participation Report"), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 8, tr("Class: "+classID), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	drawTableHeader(pdf, tr)

	rowCount := 0
	err := g.rows.StreamParticipations(ctx, classID, func(row domain.ParticipationRow) error {
		// New page with a repeated header once vertical space runs out.
		if pdf.GetY()+pdfRowHeight > pdfMaxY {
			pdf.AddPage()
			drawTableHeader(pdf, tr)
		}
		drawTableRow(pdf, tr, row)
		rowCount++
		return nil
	})
	if err != nil {
		return fmt.Errorf("stream participations: %w", err)
	}

	pdf.Ln(6)
	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf(
		"Generated at %s, %d rows",
		time.Now().UTC().Format("2006-01-02 15:04 UTC"),
		rowCount,
	)), "", 1, "R", false, 0, "")

	return pdf.Output(w)
}

func drawTableHeader(pdf *gofpdf.Fpdf, tr func(string) string) {
	pdf.SetFont("Arial", "B", 11)
	pdf.SetFillColor(30, 41, 59)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(pdfColStudent, 8, tr("Student"), "1", 0, "L", true, 0, "")
	pdf.CellFormat(pdfColActivity, 8, tr("Activity"), "1", 0, "L", true, 0, "")
	pdf.CellFormat(pdfColScore, 8, tr("Score"), "1", 0, "C", true, 0, "")
	pdf.CellFormat(pdfColGrade, 8, tr("Grade"), "1", 1, "C", true, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(33, 37, 41)
}

func drawTableRow(pdf *gofpdf.Fpdf, tr func(string) string, row domain.ParticipationRow) {
	pdf.CellFormat(pdfColStudent, pdfRowHeight, tr(row.Student), "1", 0, "L", false, 0, "")
	pdf.CellFormat(pdfColActivity, pdfRowHeight, tr(row.Activity), "1", 0, "L", false, 0, "")
	pdf.CellFormat(pdfColScore, pdfRowHeight, fmt.Sprintf("%.1f", row.Score), "1", 0, "C", false, 0, "")
	pdf.CellFormat(pdfColGrade, pdfRowHeight, tr(row.Grade), "1", 1, "C", false, 0, "")
}
