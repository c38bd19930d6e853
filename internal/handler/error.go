package handler

import (
	"net/http"
	"strings"

	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/middleware"
	"github.com/dukerupert/invoicer/internal/telemetry"
)

var statusByCode = map[string]int{
	domain.EINVALID:       http.StatusBadRequest,
	domain.EUNAUTHORIZED:  http.StatusUnauthorized,
	domain.ENOTFOUND:      http.StatusNotFound,
	domain.ECONFLICT:      http.StatusConflict,
	domain.ETOOLARGE:      http.StatusRequestEntityTooLarge,
	domain.EUNPROCESSABLE: http.StatusUnprocessableEntity,
	domain.EUNAVAILABLE:   http.StatusServiceUnavailable,
}

// StatusFor maps a domain error code to an HTTP status. Unknown codes are 500.
func StatusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// ErrorResponse writes err as {"error": {...}} and logs it with the request
// logger. Clients that explicitly ask for text get the bare message.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := StatusFor(code)
	logError(r, err, code, status)

	body := errorBody{
		Code:      code,
		Message:   domain.ErrorMessage(err),
		RequestID: domain.RequestIDFromContext(r.Context()),
	}
	if wantsText(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body.Message))
		return
	}
	WriteJSON(w, status, errorEnvelope{Error: body})
}

// ValidationErrorResponse writes a 400 listing the invalid fields. Other
// errors go through ErrorResponse.
func ValidationErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	fields := domain.GetValidationFields(err)
	if fields == nil {
		ErrorResponse(w, r, err)
		return
	}

	logError(r, err, domain.EINVALID, http.StatusBadRequest)
	WriteJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
		Code:      domain.EINVALID,
		Message:   "Validation failed",
		Fields:    fields,
		RequestID: domain.RequestIDFromContext(r.Context()),
	}})
}

// Fail picks ValidationErrorResponse or ErrorResponse for err.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	if domain.IsValidationError(err) {
		ValidationErrorResponse(w, r, err)
		return
	}
	ErrorResponse(w, r, err)
}

// NotFoundResponse is the router's fallback handler.
func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.ENOTFOUND, "", "No route for %s %s", r.Method, r.URL.Path))
}

func logError(r *http.Request, err error, code string, status int) {
	logger := middleware.GetLogger(r.Context()).With(
		"error", err,
		"code", code,
		"op", domain.ErrorOp(err),
		"status", status,
	)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed")
		if status == http.StatusInternalServerError {
			telemetry.CaptureError(r.Context(), err, map[string]string{"op": domain.ErrorOp(err)}, map[string]any{
				"request_id": domain.RequestIDFromContext(r.Context()),
				"path":       r.URL.Path,
			})
		}
		return
	}
	logger.Info("request rejected")
}

// wantsText reports an explicit preference for a text body. JSON is the default.
func wantsText(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/") && !strings.Contains(accept, "application/json")
}
