package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/escolalab/class-reports-back/internal/repository"
	"github.com/escolalab/class-reports-back/internal/service"
)

func (api *API) Reports(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.createReport(w, r)
	case http.MethodGet:
		api.listReports(w, r)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) createReport(w http.ResponseWriter, r *http.Request) {
	var request createReportRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	report, err := api.reportsService.Submit(r.Context(), request.ClassID, request.Kind, request.FileName)
	if err != nil {
		var validation *service.ValidationError
		if errors.As(err, &validation) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", validation.Message)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to submit report request")
		return
	}

	// Generation is asynchronous; the caller polls the status URL.
	response := map[string]any{
		"request_id":  report.ID,
		"status":      report.Status,
		"status_url":  "/v1/reports/" + report.ID + "/status",
		"accepted_at": report.CreatedAt.Format(time.RFC3339Nano),
	}
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, response)
}

func (api *API) listReports(w http.ResponseWriter, r *http.Request) {
	items, err := api.reportsService.ListRequests(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list report requests")
		return
	}

	payloadItems := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloadItems = append(payloadItems, map[string]any{
			"request_id": item.ID,
			"class_id":   item.ClassID,
			"kind":       item.Kind,
			"status":     item.Status,
			"created_at": item.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": payloadItems, "total": len(payloadItems)})
}

// ReportDetail serves /v1/reports/{id}/status and /v1/reports/{id}/download.
func (api *API) ReportDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/reports/")
	requestID, action, ok := strings.Cut(rest, "/")
	requestID = strings.TrimSpace(requestID)
	if !ok || requestID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "request id is required")
		return
	}

	switch action {
	case "status":
		api.reportStatus(w, r, requestID)
	case "download":
		api.reportDownload(w, r, requestID)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (api *API) reportStatus(w http.ResponseWriter, r *http.Request, requestID string) {
	report, err := api.reportsService.GetStatus(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "report request not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load report request")
		return
	}

	response := map[string]any{
		"request_id": report.ID,
		"status":     report.Status,
		"kind":       report.Kind,
		"updated_at": report.UpdatedAt,
	}
	if strings.TrimSpace(report.ErrorMessage) != "" {
		response["error"] = map[string]any{
			"code":    "generation_error",
			"message": report.ErrorMessage,
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (api *API) reportDownload(w http.ResponseWriter, r *http.Request, requestID string) {
	url, expiresIn, err := api.reportsService.GetDownloadURL(r.Context(), requestID)
	if err != nil {
		var validation *service.ValidationError
		switch {
		case errors.As(err, &validation):
			writeError(w, r, http.StatusBadRequest, "report_not_ready", validation.Message)
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "not_found", "report request not found")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to issue download URL")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"download_url": url,
		"expires_in":   expiresIn,
	})
}
