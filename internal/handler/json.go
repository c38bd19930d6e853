package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dukerupert/invoicer/internal/domain"
)

// WriteJSON writes v as the response body with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes the request body into v. Unknown fields, trailing data
// and oversized bodies are rejected.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return domain.Errorf(domain.ETOOLARGE, "", "Request body must not exceed %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return domain.Errorf(domain.EINVALID, "", "Request body is required")
		default:
			return domain.WrapError(err, domain.EINVALID, "", fmt.Sprintf("Invalid JSON: %v", err))
		}
	}

	if dec.More() {
		return domain.Errorf(domain.EINVALID, "", "Request body must contain a single JSON object")
	}
	return nil
}
