package generator

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/escolalab/class-reports-back/internal/domain"
	"github.com/escolalab/class-reports-back/internal/repository"
	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Report"

var xlsxHeaders = []string{
	"Student",
	"Email",
	"Activity",
	"Type",
	"Attendance",
	"Hours",
	"Score",
	"Grade",
	"Status",
}

// XLSXGenerator streams participation rows into a styled worksheet using
// the excelize stream writer and pipes the workbook into a multipart
// upload. Cell styling follows the domain thresholds: score bands and
// evaluation-status keywords.
type XLSXGenerator struct {
	rows   repository.ParticipationSource
	blobs  BlobUploader
	logger *log.Logger
}

func NewXLSXGenerator(rows repository.ParticipationSource, blobs BlobUploader, logger *log.Logger) *XLSXGenerator {
	return &XLSXGenerator{rows: rows, blobs: blobs, logger: logger}
}

func (g *XLSXGenerator) Generate(ctx context.Context, classID, objectKey string) error {
	err := pipeUpload(ctx, g.blobs, objectKey, domain.ReportKindXLSX.ContentType(), func(w io.Writer) error {
		return g.write(ctx, classID, w)
	})
	if err != nil {
		return &GenerationError{Kind: domain.ReportKindXLSX, Err: err}
	}
	if g.logger != nil {
		g.logger.Printf("xlsx report generated class_id=%s key=%s", classID, objectKey)
	}
	return nil
}

type xlsxStyles struct {
	title     int
	subtitle  int
	header    int
	text      int
	center    int
	number    int
	scoreHigh int
	scoreGood int
	scoreMid  int
	scoreLow  int
	approved  int
	pending   int
	rejected  int
	gradeTop  int
	gradeGood int
	gradeMid  int
	gradeLow  int
}

func (g *XLSXGenerator) write(ctx context.Context, classID string, w io.Writer) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	styles, err := newXLSXStyles(f)
	if err != nil {
		return fmt.Errorf("create styles: %w", err)
	}

	sw, err := f.NewStreamWriter(xlsxSheet)
	if err != nil {
		return fmt.Errorf("create stream writer: %w", err)
	}

	widths := []float64{28, 32, 28, 15, 12, 10, 10, 12, 18}
	for i, width := range widths {
		if err := sw.SetColWidth(i+1, i+1, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	if err := sw.SetPanes(&excelize.Panes{
		Freeze:      true,
		YSplit:      3,
		TopLeftCell: "A4",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	if err := sw.MergeCell("A1", "I1"); err != nil {
		return fmt.Errorf("merge title: %w", err)
	}
	if err := sw.MergeCell("A2", "I2"); err != nil {
		return fmt.Errorf("merge subtitle: %w", err)
	}

	title := fmt.Sprintf("PARTICIPATION REPORT - CLASS %s", classID)
	if err := sw.SetRow("A1",
		[]interface{}{excelize.Cell{StyleID: styles.title, Value: title}},
		excelize.RowOpts{Height: 32},
	); err != nil {
		return fmt.Errorf("write title: %w", err)
	}

	subtitle := "Generated at " + time.Now().UTC().Format("2006-01-02 15:04 UTC")
	if err := sw.SetRow("A2",
		[]interface{}{excelize.Cell{StyleID: styles.subtitle, Value: subtitle}},
		excelize.RowOpts{Height: 20},
	); err != nil {
		return fmt.Errorf("write subtitle: %w", err)
	}

	headerCells := make([]interface{}, len(xlsxHeaders))
	for i, header := range xlsxHeaders {
		headerCells[i] = excelize.Cell{StyleID: styles.header, Value: header}
	}
	if err := sw.SetRow("A3", headerCells, excelize.RowOpts{Height: 28}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	rowIndex := 4
	streamErr := g.rows.StreamParticipations(ctx, classID, func(row domain.ParticipationRow) error {
		cell, err := excelize.CoordinatesToCellName(1, rowIndex)
		if err != nil {
			return err
		}
		cells := []interface{}{
			excelize.Cell{StyleID: styles.text, Value: row.Student},
			excelize.Cell{StyleID: styles.text, Value: row.Email},
			excelize.Cell{StyleID: styles.text, Value: row.Activity},
			excelize.Cell{StyleID: styles.center, Value: row.ActivityType},
			excelize.Cell{StyleID: styles.center, Value: row.Attendance},
			excelize.Cell{StyleID: styles.number, Value: row.Hours},
			excelize.Cell{StyleID: styles.scoreStyle(row.Score), Value: row.Score},
			excelize.Cell{StyleID: styles.gradeStyle(row.Grade), Value: row.Grade},
			excelize.Cell{StyleID: styles.statusStyle(row.EvaluationStatus), Value: row.EvaluationStatus},
		}
		if err := sw.SetRow(cell, cells, excelize.RowOpts{Height: 22}); err != nil {
			return err
		}
		rowIndex++
		return nil
	})
	if streamErr != nil {
		return fmt.Errorf("stream participations: %w", streamErr)
	}

	// The auto-filter rides on a table over header plus data; a table
	// needs at least one data row.
	if rowIndex > 4 {
		if err := sw.AddTable(&excelize.Table{
			Range: fmt.Sprintf("A3:I%d", rowIndex-1),
			Name:  "Participations",
		}); err != nil {
			return fmt.Errorf("add table: %w", err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush stream writer: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Score bands, grade letters and status keywords drive the cell styling.
// Presentation rules only; the data is unchanged.
func (s *xlsxStyles) scoreStyle(score float64) int {
	switch {
	case score >= 9:
		return s.scoreHigh
	case score >= 7:
		return s.scoreGood
	case score >= 5:
		return s.scoreMid
	case score > 0:
		return s.scoreLow
	default:
		return s.number
	}
}

func (s *xlsxStyles) gradeStyle(grade string) int {
	switch strings.ToUpper(strings.TrimSpace(grade)) {
	case "A", "EXCELLENT":
		return s.gradeTop
	case "B", "GOOD":
		return s.gradeGood
	case "C", "AVERAGE":
		return s.gradeMid
	case "D", "F", "INSUFFICIENT":
		return s.gradeLow
	default:
		return s.center
	}
}

func (s *xlsxStyles) statusStyle(status string) int {
	normalized := strings.ToLower(status)
	switch {
	case strings.Contains(normalized, "approved"), strings.Contains(normalized, "completed"):
		return s.approved
	case strings.Contains(normalized, "pending"), strings.Contains(normalized, "in progress"):
		return s.pending
	case strings.Contains(normalized, "failed"), strings.Contains(normalized, "absent"):
		return s.rejected
	default:
		return s.center
	}
}

func newXLSXStyles(f *excelize.File) (*xlsxStyles, error) {
	styles := &xlsxStyles{}

	centered := &excelize.Alignment{Horizontal: "center", Vertical: "center"}
	left := &excelize.Alignment{Horizontal: "left", Vertical: "center"}

	boldFont := func(color string) *excelize.Font {
		return &excelize.Font{Bold: true, Color: color}
	}
	solidFill := func(color string) excelize.Fill {
		return excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}}
	}

	var err error
	newStyle := func(target *int, style *excelize.Style) {
		if err != nil {
			return
		}
		*target, err = f.NewStyle(style)
	}

	newStyle(&styles.title, &excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 18, Color: "FFFFFF"},
		Fill:      solidFill("3B82F6"),
		Alignment: centered,
	})
	newStyle(&styles.subtitle, &excelize.Style{
		Font:      &excelize.Font{Italic: true, Size: 11, Color: "64748B"},
		Alignment: centered,
	})
	newStyle(&styles.header, &excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF"},
		Fill:      solidFill("1E293B"),
		Alignment: centered,
	})
	newStyle(&styles.text, &excelize.Style{Alignment: left})
	newStyle(&styles.center, &excelize.Style{Alignment: centered})
	newStyle(&styles.number, &excelize.Style{Alignment: centered, NumFmt: 2})
	newStyle(&styles.scoreHigh, &excelize.Style{Font: boldFont("10B981"), Alignment: centered, NumFmt: 2})
	newStyle(&styles.scoreGood, &excelize.Style{Font: boldFont("06B6D4"), Alignment: centered, NumFmt: 2})
	newStyle(&styles.scoreMid, &excelize.Style{Font: boldFont("F59E0B"), Alignment: centered, NumFmt: 2})
	newStyle(&styles.scoreLow, &excelize.Style{Font: boldFont("EF4444"), Alignment: centered, NumFmt: 2})
	newStyle(&styles.approved, &excelize.Style{Font: boldFont("10B981"), Fill: solidFill("D1FAE5"), Alignment: centered})
	newStyle(&styles.pending, &excelize.Style{Font: boldFont("F59E0B"), Fill: solidFill("FEF3C7"), Alignment: centered})
	newStyle(&styles.rejected, &excelize.Style{Font: boldFont("EF4444"), Fill: solidFill("FECACA"), Alignment: centered})
	newStyle(&styles.gradeTop, &excelize.Style{Font: boldFont("10B981"), Alignment: centered})
	newStyle(&styles.gradeGood, &excelize.Style{Font: boldFont("06B6D4"), Alignment: centered})
	newStyle(&styles.gradeMid, &excelize.Style{Font: boldFont("F59E0B"), Alignment: centered})
	newStyle(&styles.gradeLow, &excelize.Style{Font: boldFont("EF4444"), Alignment: centered})

	if err != nil {
		return nil, err
	}
	return styles, nil
}
