package domain

import "time"

type ReportKind string

const (
	ReportKindPDF  ReportKind = "pdf"
	ReportKindXLSX ReportKind = "xlsx"
)

func (k ReportKind) Valid() bool {
	switch k {
	case ReportKindPDF, ReportKindXLSX:
		return true
	default:
		return false
	}
}

func (k ReportKind) Ext() string {
	return string(k)
}

func (k ReportKind) ContentType() string {
	switch k {
	case ReportKindPDF:
		return "application/pdf"
	case ReportKindXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// ReportStatus is the canonical lifecycle state of a report request.
// Every layer converts to this type at its boundary; no other spelling
// of a state exists downstream.
type ReportStatus string

const (
	StatusPending    ReportStatus = "pending"
	StatusProcessing ReportStatus = "processing"
	StatusCompleted  ReportStatus = "completed"
	StatusFailed     ReportStatus = "failed"
)

// Terminal reports whether the state can never be left.
func (s ReportStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ReportRequest is the persistent record of one generation request.
// Created pending by the intake path, mutated only by the worker.
type ReportRequest struct {
	ID           string
	ClassID      string
	Kind         ReportKind
	FileName     string
	Status       ReportStatus
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Artifact records where a completed report lives in the blob store.
// Exactly one exists per completed request, none otherwise.
type Artifact struct {
	RequestID string
	ObjectKey string
	FileName  string
	CreatedAt time.Time
}

// QueueMessage is the transport format sent to queue backends. It carries
// enough to regenerate the report without reading the status store first;
// redelivery is safe because the object key is re-derived from the
// request id and overwrites.
type QueueMessage struct {
	RequestID   string     `json:"request_id"`
	ClassID     string     `json:"class_id"`
	Kind        ReportKind `json:"kind"`
	FileName    string     `json:"file_name"`
	Attempt     int        `json:"attempt"`
	RequestedAt time.Time  `json:"requested_at"`
}

// ParticipationRow is one streamed data row for a class report.
type ParticipationRow struct {
	Student          string
	Email            string
	Activity         string
	ActivityType     string
	Attendance       string
	Hours            float64
	Score            float64
	Grade            string
	EvaluationStatus string
}

// ObjectKeyFor derives the blob store key for a request. Deterministic on
// purpose: a redelivered job writes to the same key.
func ObjectKeyFor(requestID string, kind ReportKind) string {
	return "reports/" + requestID + "." + kind.Ext()
}

// DefaultFileName is the suggested download name when the caller supplied none.
func DefaultFileName(classID string, kind ReportKind) string {
	return "class_report_" + classID + "." + kind.Ext()
}
