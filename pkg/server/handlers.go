package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"garagehq/aigate/pkg/limits"
	"garagehq/aigate/pkg/limits/quota"
	"garagehq/aigate/pkg/limits/storage"
	"garagehq/aigate/pkg/usagelog"
	"garagehq/aigate/pkg/usagelog/export"
	"garagehq/aigate/pkg/usagelog/query"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// admissionRequest is the body of POST /v1/admissions.
type admissionRequest struct {
	TenantID string `json:"tenant_id"`
	Feature  string `json:"feature"`
}

// usageRequest is the body of POST /v1/usage.
type usageRequest struct {
	TenantID  string `json:"tenant_id"`
	Feature   string `json:"feature"`
	Outcome   string `json:"outcome"`
	LatencyMs int64  `json:"latency_ms"`
	Tokens    int    `json:"tokens"`
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

// DecisionResponse is the body of admission and status responses.
type DecisionResponse struct {
	Allowed           bool          `json:"allowed"`
	Reason            string        `json:"reason,omitempty"`
	TenantID          string        `json:"tenant_id"`
	RetryAfterSeconds int64         `json:"retry_after_seconds,omitempty"`
	RateLimit         *RateLimitBody `json:"rate_limit,omitempty"`
	Quota             *QuotaBody     `json:"quota,omitempty"`

	// Error is set on denied admissions.
	Error *ErrorDetail `json:"error,omitempty"`
}

// RateLimitBody is the window part of a DecisionResponse.
type RateLimitBody struct {
	Limit         int        `json:"limit"`
	Remaining     int        `json:"remaining"`
	Reset         *time.Time `json:"reset,omitempty"`
	WindowSeconds int64      `json:"window_seconds"`
}

// QuotaBody is the monthly quota part of a DecisionResponse.
type QuotaBody struct {
	Period       string    `json:"period"`
	MonthlyQuota *int64    `json:"monthly_quota"`
	Used         *int64    `json:"used,omitempty"`
	Remaining    *int64    `json:"remaining,omitempty"`
	Reset        time.Time `json:"reset"`
}

// UsageResponse is the body of usage reads and POST /v1/usage.
type UsageResponse struct {
	TenantID     string `json:"tenant_id"`
	Period       string `json:"period"`
	Used         int64  `json:"used"`
	MonthlyQuota *int64 `json:"monthly_quota"`
	Remaining    int64  `json:"remaining"`
}

// UsageListResponse is the body of GET /v1/usage.
type UsageListResponse struct {
	Period  string          `json:"period"`
	Tenants []UsageResponse `json:"tenants"`
}

// QuotaResponse is the body of quota writes.
type QuotaResponse struct {
	TenantID     string `json:"tenant_id"`
	MonthlyQuota *int64 `json:"monthly_quota"`
}

func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	var req admissionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	dec, err := s.admitter.Admit(r.Context(), req.TenantID, req.Feature)
	if err != nil {
		s.writeLimitsError(w, err)
		return
	}

	setDecisionHeaders(w, dec)
	resp := newDecisionResponse(dec)
	if dec.Allowed {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	status := http.StatusTooManyRequests
	if dec.Reason == limits.ReasonQuotaUnavailable {
		status = http.StatusServiceUnavailable
	}
	resp.Error = &ErrorDetail{
		Message: denialMessage(dec),
		Type:    string(dec.Reason),
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.LatencyMs < 0 || req.Tokens < 0 {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest,
			"latency_ms and tokens must not be negative", "")
		return
	}

	report := limits.UsageReport{
		TenantID:  req.TenantID,
		Feature:   req.Feature,
		Outcome:   limits.Outcome(req.Outcome),
		Latency:   time.Duration(req.LatencyMs) * time.Millisecond,
		Tokens:    req.Tokens,
		Error:     req.Error,
		RequestID: req.RequestID,
	}

	count, err := s.admitter.RecordUsage(r.Context(), report)
	if err != nil {
		s.writeLimitsError(w, err)
		return
	}

	resp := UsageResponse{
		TenantID:  strings.TrimSpace(req.TenantID),
		Period:    s.admitter.Period(),
		Used:      count,
		Remaining: -1,
	}
	if q, err := s.backend.MonthlyQuota(r.Context(), resp.TenantID); err == nil {
		resp.MonthlyQuota = q
		resp.Remaining = remaining(q, count)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	dec, err := s.admitter.Status(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		s.writeLimitsError(w, err)
		return
	}

	setDecisionHeaders(w, dec)
	writeJSON(w, http.StatusOK, newDecisionResponse(dec))
}

func (s *Server) handleTenantUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(chi.URLParam(r, "tenant"))
	period, ok := s.periodParam(w, r)
	if !ok {
		return
	}

	used, err := s.backend.Usage(r.Context(), tenantID, period)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	q, err := s.backend.MonthlyQuota(r.Context(), tenantID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		TenantID:     tenantID,
		Period:       period,
		Used:         used,
		MonthlyQuota: q,
		Remaining:    remaining(q, used),
	})
}

func (s *Server) handleListUsage(w http.ResponseWriter, r *http.Request) {
	period, ok := s.periodParam(w, r)
	if !ok {
		return
	}

	rows, err := s.backend.ListUsage(r.Context(), period)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	resp := UsageListResponse{Period: period, Tenants: make([]UsageResponse, 0, len(rows))}
	for _, row := range rows {
		q, err := s.backend.MonthlyQuota(r.Context(), row.TenantID)
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		resp.Tenants = append(resp.Tenants, UsageResponse{
			TenantID:     row.TenantID,
			Period:       row.Period,
			Used:         row.RequestCount,
			MonthlyQuota: q,
			Remaining:    remaining(q, row.RequestCount),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(chi.URLParam(r, "tenant"))
	q, err := s.backend.MonthlyQuota(r.Context(), tenantID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QuotaResponse{TenantID: tenantID, MonthlyQuota: q})
}

func (s *Server) handleSetQuota(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(chi.URLParam(r, "tenant"))

	var body map[string]json.RawMessage
	if !decodeBody(w, r, &body) {
		return
	}
	raw, ok := body["monthly_quota"]
	if !ok {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest,
			"monthly_quota is required; use null for unlimited", "monthly_quota")
		return
	}

	var q *int64
	if err := json.Unmarshal(raw, &q); err != nil {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest,
			"monthly_quota must be a non-negative integer or null", "monthly_quota")
		return
	}

	if err := s.backend.SetMonthlyQuota(r.Context(), tenantID, q); err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "monthly quota updated",
		"tenant_id", tenantID,
		"unlimited", q == nil,
	)
	writeJSON(w, http.StatusOK, QuotaResponse{TenantID: tenantID, MonthlyQuota: q})
}

func (s *Server) handleResetWindow(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(chi.URLParam(r, "tenant"))
	if tenantID == "" {
		s.writeLimitsError(w, limits.ErrInvalidTenant)
		return
	}
	s.admitter.ResetWindow(tenantID)
	w.WriteHeader(http.StatusNoContent)
}

// handleExport streams the call log as CSV or JSON depending on format.
func (s *Server) handleExport(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.callLog == nil {
			writeError(w, http.StatusNotFound, ErrorTypeNotFound, "the call log is disabled", "")
			return
		}

		q, err := s.parseCallQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error(), "")
			return
		}

		records, errCh, err := s.callLog.QueryStream(r.Context(), q)
		if err != nil {
			s.writeStorageError(w, err)
			return
		}

		switch format {
		case "csv":
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			w.Header().Set("Content-Disposition", `attachment; filename="calls.csv"`)
			err = export.NewCSVExporter(true).ExportStream(r.Context(), records, w)
		default:
			w.Header().Set("Content-Type", "application/json")
			err = export.NewJSONExporter(false).ExportStream(r.Context(), records, w)
		}
		if err == nil {
			err = <-errCh
		}
		if err != nil {
			// Headers are already out; the client sees a truncated body.
			s.logger.ErrorContext(r.Context(), "call log export failed",
				"format", format,
				"error", err,
			)
		}
	}
}

// parseCallQuery builds a call log query from tenant, feature, outcome,
// period, from, to, limit and order parameters.
func (s *Server) parseCallQuery(r *http.Request) (*usagelog.Query, error) {
	v := r.URL.Query()
	q := &usagelog.Query{
		TenantID:  strings.TrimSpace(v.Get("tenant")),
		Feature:   strings.TrimSpace(v.Get("feature")),
		Outcome:   usagelog.Outcome(v.Get("outcome")),
		Period:    v.Get("period"),
		SortOrder: v.Get("order"),
	}

	var err error
	if q.StartTime, err = parseTimeParam(v.Get("from")); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if q.EndTime, err = parseTimeParam(v.Get("to")); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}

	if raw := v.Get("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("limit: %q is not an integer", raw)
		}
	}
	if q.Limit == 0 {
		q.Limit = s.maxExportRows
	}
	if q.Limit > s.maxExportRows {
		return nil, fmt.Errorf("limit must be <= %d, got %d", s.maxExportRows, q.Limit)
	}

	if err := query.Validate(q); err != nil {
		return nil, err
	}
	query.ApplyDefaults(q)
	return q, nil
}

// parseTimeParam accepts RFC 3339 timestamps and YYYY-MM-DD dates.
func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", raw)
	}
	return &t, nil
}

// periodParam returns the period query parameter, defaulting to the
// current period. It writes a 400 and returns false when malformed.
func (s *Server) periodParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	period := r.URL.Query().Get("period")
	if period == "" {
		return s.admitter.Period(), true
	}
	if _, err := quota.ParsePeriod(period, time.UTC); err != nil {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error(), "period")
		return "", false
	}
	return period, true
}

func (s *Server) writeLimitsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, limits.ErrInvalidTenant):
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "tenant_id is required", "tenant_id")
	case errors.Is(err, limits.ErrInvalidOutcome):
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest,
			`outcome must be "success" or "error"`, "outcome")
	case errors.Is(err, limits.ErrStorageFailure):
		writeError(w, http.StatusServiceUnavailable, ErrorTypeServiceUnavailable,
			"usage storage is unavailable", "")
	default:
		s.logger.Error("unexpected limits error", "error", err)
		writeError(w, http.StatusInternalServerError, ErrorTypeServerError,
			"An internal error occurred. Please try again later.", "")
	}
}

func (s *Server) writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidTenant):
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "tenant is required", "tenant")
	case errors.Is(err, storage.ErrInvalidQuota):
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest,
			"monthly_quota must be a non-negative integer or null", "monthly_quota")
	default:
		s.logger.Error("storage request failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrorTypeServiceUnavailable,
			"storage is unavailable", "")
	}
}

// decodeBody decodes a JSON request body into dst, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		msg := "request body must be valid JSON"
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, msg, "")
		return false
	}
	return true
}

// setDecisionHeaders writes X-RateLimit-*, X-Quota-* and Retry-After.
func setDecisionHeaders(w http.ResponseWriter, dec *limits.Decision) {
	h := w.Header()
	if rl := dec.RateLimit; rl != nil {
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
		if !rl.Reset.IsZero() {
			h.Set("X-RateLimit-Reset", strconv.FormatInt(rl.Reset.Unix(), 10))
		}
	}
	if q := dec.Quota; q != nil && q.Limit != nil {
		h.Set("X-Quota-Limit", strconv.FormatInt(*q.Limit, 10))
		if !q.UsageUnknown {
			h.Set("X-Quota-Used", strconv.FormatInt(q.Used, 10))
			h.Set("X-Quota-Remaining", strconv.FormatInt(q.Remaining, 10))
		}
		h.Set("X-Quota-Reset", strconv.FormatInt(q.Reset.Unix(), 10))
	}
	if !dec.Allowed && dec.RetryAfter > 0 {
		h.Set("Retry-After", strconv.FormatInt(retrySeconds(dec.RetryAfter), 10))
	}
}

func newDecisionResponse(dec *limits.Decision) *DecisionResponse {
	resp := &DecisionResponse{
		Allowed:  dec.Allowed,
		Reason:   string(dec.Reason),
		TenantID: dec.TenantID,
	}
	if !dec.Allowed && dec.RetryAfter > 0 {
		resp.RetryAfterSeconds = retrySeconds(dec.RetryAfter)
	}
	if rl := dec.RateLimit; rl != nil {
		resp.RateLimit = &RateLimitBody{
			Limit:         rl.Limit,
			Remaining:     rl.Remaining,
			WindowSeconds: int64(rl.Window / time.Second),
		}
		if !rl.Reset.IsZero() {
			reset := rl.Reset.UTC()
			resp.RateLimit.Reset = &reset
		}
	}
	if q := dec.Quota; q != nil {
		resp.Quota = &QuotaBody{
			Period:       q.Period,
			MonthlyQuota: q.Limit,
			Reset:        q.Reset.UTC(),
		}
		// Omitted when the usage read failed.
		if !q.UsageUnknown {
			used, remaining := q.Used, q.Remaining
			resp.Quota.Used = &used
			resp.Quota.Remaining = &remaining
		}
	}
	return resp
}

func denialMessage(dec *limits.Decision) string {
	switch dec.Reason {
	case limits.ReasonRateLimited:
		return fmt.Sprintf("Too many AI requests. Try again in %ds.", retrySeconds(dec.RetryAfter))
	case limits.ReasonQuotaExceeded:
		return "Monthly AI quota reached."
	case limits.ReasonQuotaUnavailable:
		return "AI usage could not be verified. Try again shortly."
	}
	return "AI call denied."
}

// retrySeconds rounds up so clients never retry early.
func retrySeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}

func remaining(q *int64, used int64) int64 {
	if q == nil {
		return -1
	}
	if used >= *q {
		return 0
	}
	return *q - used
}
