package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/types"
)

// logger is the package-level logger. Set during server startup via
// SetLogger.
var logger = zap.NewNop()

// SetLogger sets the package-level logger.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}

// errorBody is the JSON shape of every error response. Fields carries the
// per-field messages of a VALIDATION_FAILED response.
type errorBody struct {
	Code   apperrors.Code    `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("writeJSON encode error", zap.Error(err))
	}
}

// writeError writes a structured JSON error response with the status of
// code.
func writeError(w http.ResponseWriter, code apperrors.Code, message string) {
	writeJSON(w, code.HTTPStatus(), errorBody{Code: code, Error: message})
}

// writeAppError maps err to its code and writes it. Internal errors are
// logged and answered with a generic message.
func writeAppError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	body := errorBody{Code: code, Error: err.Error()}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) && len(appErr.Metadata) > 0 {
		body.Fields = appErr.Metadata
	}
	if code == apperrors.CodeUnknown || code == apperrors.CodeInternal {
		logger.Error("internal error", zap.Error(err))
		body = errorBody{Code: apperrors.CodeInternal, Error: "internal server error"}
		code = apperrors.CodeInternal
	}
	writeJSON(w, code.HTTPStatus(), body)
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// parseID extracts and validates a positive integer path parameter.
func parseID(w http.ResponseWriter, r *http.Request, paramName string) (int64, bool) {
	raw := chi.URLParam(r, paramName)
	id, ok := parsePositive(raw)
	if !ok {
		writeError(w, apperrors.CodeInvalidArgument, "invalid id: "+raw)
		return 0, false
	}
	return id, true
}

func parsePositive(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}

// Pagination holds parsed pagination parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// parsePagination extracts page_size and offset from query params.
func parsePagination(r *http.Request) Pagination {
	p := Pagination{Limit: 20, Offset: 0}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Offset = n
		}
	}
	return p
}

// parseAuditContext extracts audit metadata from request headers.
func parseAuditContext(w http.ResponseWriter, r *http.Request) (types.Audit, bool) {
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		writeError(w, apperrors.CodeMissingActor, "X-Actor header is required")
		return types.Audit{}, false
	}
	source := r.Header.Get("X-Source")
	if source == "" {
		source = "user"
	}
	audit := types.Audit{
		CreatedBy: actor,
		UpdatedBy: actor,
		Source:    source,
	}
	if cid := r.Header.Get("X-Correlation-ID"); cid != "" {
		audit.CorrelationID = &cid
	}
	return audit, true
}
