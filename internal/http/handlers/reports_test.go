package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/escolalab/class-reports-back/internal/domain"
	"github.com/escolalab/class-reports-back/internal/queue"
	"github.com/escolalab/class-reports-back/internal/repository"
	"github.com/escolalab/class-reports-back/internal/service"
	"github.com/escolalab/class-reports-back/internal/storage"
)

type apiFixture struct {
	api   *API
	repo  *repository.MemoryReportsRepository
	blobs *storage.MemoryBlobStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	repo := repository.NewMemoryReportsRepository()
	repo.SeedParticipations("class-1", []domain.ParticipationRow{
		{Student: "Ana", Activity: "Quiz", Score: 8, Grade: "B"},
	})
	blobs := storage.NewMemoryBlobStore()
	q := queue.NewLocalQueue(8, 3, 0, nil)
	svc := service.NewReportsService(repo, repo, q, blobs, 0, nil)
	return &apiFixture{api: NewAPI(svc), repo: repo, blobs: blobs}
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	return body
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	errValue, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object in body, got %v", body)
	}
	code, _ := errValue["code"].(string)
	return code
}

func TestCreateReportAccepted(t *testing.T) {
	f := newAPIFixture(t)

	request := httptest.NewRequest(http.MethodPost, "/v1/reports",
		strings.NewReader(`{"class_id":"class-1","kind":"pdf"}`))
	recorder := httptest.NewRecorder()

	f.api.Reports(recorder, request)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d: %s", http.StatusAccepted, recorder.Code, recorder.Body.String())
	}
	if got := recorder.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}

	body := decodeBody(t, recorder)
	requestID, _ := body["request_id"].(string)
	if requestID == "" {
		t.Fatalf("expected request_id in response, got %v", body)
	}
	if body["status"] != string(domain.StatusPending) {
		t.Fatalf("expected pending status, got %v", body["status"])
	}
	if body["status_url"] != "/v1/reports/"+requestID+"/status" {
		t.Fatalf("unexpected status_url %v", body["status_url"])
	}
}

func TestCreateReportRejectsInvalidKind(t *testing.T) {
	f := newAPIFixture(t)

	request := httptest.NewRequest(http.MethodPost, "/v1/reports",
		strings.NewReader(`{"class_id":"class-1","kind":"docx"}`))
	recorder := httptest.NewRecorder()

	f.api.Reports(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, recorder.Code)
	}
	if code := errorCode(t, decodeBody(t, recorder)); code != "invalid_request" {
		t.Fatalf("expected invalid_request, got %q", code)
	}
}

func TestCreateReportRejectsEmptyClass(t *testing.T) {
	f := newAPIFixture(t)

	request := httptest.NewRequest(http.MethodPost, "/v1/reports",
		strings.NewReader(`{"class_id":"class-without-data","kind":"pdf"}`))
	recorder := httptest.NewRecorder()

	f.api.Reports(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, recorder.Code)
	}
}

func TestCreateReportRejectsMalformedJSON(t *testing.T) {
	f := newAPIFixture(t)

	request := httptest.NewRequest(http.MethodPost, "/v1/reports", strings.NewReader(`{"class_id":`))
	recorder := httptest.NewRecorder()

	f.api.Reports(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, recorder.Code)
	}
}

func TestReportStatusNotFound(t *testing.T) {
	f := newAPIFixture(t)

	request := httptest.NewRequest(http.MethodGet, "/v1/reports/unknown-id/status", nil)
	recorder := httptest.NewRecorder()

	f.api.ReportDetail(recorder, request)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, recorder.Code)
	}
	if code := errorCode(t, decodeBody(t, recorder)); code != "not_found" {
		t.Fatalf("expected not_found, got %q", code)
	}
}

func TestReportStatusIncludesErrorForFailedRequest(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	requestID := submitReport(t, f, "pdf")
	if err := f.repo.MarkFailed(ctx, requestID, "generate pdf report: storage down"); err != nil {
		t.Fatalf("mark failed errored: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/v1/reports/"+requestID+"/status", nil)
	recorder := httptest.NewRecorder()

	f.api.ReportDetail(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	body := decodeBody(t, recorder)
	if body["status"] != string(domain.StatusFailed) {
		t.Fatalf("expected failed status, got %v", body["status"])
	}
	errValue, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error details for failed request, got %v", body)
	}
	if errValue["code"] != "generation_error" {
		t.Fatalf("expected generation_error, got %v", errValue["code"])
	}
}

func TestReportDownloadBeforeCompletion(t *testing.T) {
	f := newAPIFixture(t)

	requestID := submitReport(t, f, "pdf")

	request := httptest.NewRequest(http.MethodGet, "/v1/reports/"+requestID+"/download", nil)
	recorder := httptest.NewRecorder()

	f.api.ReportDetail(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, recorder.Code)
	}
	if code := errorCode(t, decodeBody(t, recorder)); code != "report_not_ready" {
		t.Fatalf("expected report_not_ready, got %q", code)
	}
}

func TestReportDownloadAfterCompletion(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	requestID := submitReport(t, f, "pdf")

	objectKey := domain.ObjectKeyFor(requestID, domain.ReportKindPDF)
	if _, err := f.blobs.UploadStream(ctx, objectKey, strings.NewReader("%PDF-1.4"), "application/pdf"); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	artifact := &domain.Artifact{RequestID: requestID, ObjectKey: objectKey, FileName: "class_report_class-1.pdf"}
	if err := f.repo.CompleteRequest(ctx, artifact); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/v1/reports/"+requestID+"/download", nil)
	recorder := httptest.NewRecorder()

	f.api.ReportDetail(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	downloadURL, _ := body["download_url"].(string)
	if downloadURL == "" {
		t.Fatalf("expected download_url, got %v", body)
	}
	if body["expires_in"].(float64) <= 0 {
		t.Fatalf("expected positive expires_in, got %v", body["expires_in"])
	}
}

func TestListReports(t *testing.T) {
	f := newAPIFixture(t)

	submitReport(t, f, "pdf")
	submitReport(t, f, "xlsx")

	request := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	recorder := httptest.NewRecorder()

	f.api.Reports(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	body := decodeBody(t, recorder)
	if body["total"].(float64) != 2 {
		t.Fatalf("expected 2 reports, got %v", body["total"])
	}
}

func TestReportsMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t)

	request := httptest.NewRequest(http.MethodDelete, "/v1/reports", nil)
	recorder := httptest.NewRecorder()

	f.api.Reports(recorder, request)

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, recorder.Code)
	}
}

func TestReportDetailUnknownAction(t *testing.T) {
	f := newAPIFixture(t)

	request := httptest.NewRequest(http.MethodGet, "/v1/reports/some-id/preview", nil)
	recorder := httptest.NewRecorder()

	f.api.ReportDetail(recorder, request)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, recorder.Code)
	}
}

func submitReport(t *testing.T, f *apiFixture, kind string) string {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, "/v1/reports",
		strings.NewReader(`{"class_id":"class-1","kind":"`+kind+`"}`))
	recorder := httptest.NewRecorder()
	f.api.Reports(recorder, request)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("submit failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	requestID, _ := body["request_id"].(string)
	if requestID == "" {
		t.Fatalf("expected request_id, got %v", body)
	}
	return requestID
}
