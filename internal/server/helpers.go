package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bobmcallan/papertrade/internal/models"
)

// ErrorResponse is the standard error format for REST API responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message})
}

// WriteDomainError maps a domain error kind to an HTTP status and writes it
// with the kind as the machine-readable code.
func WriteDomainError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case models.KindInvalidArgument:
		status = http.StatusBadRequest
	case models.KindNotFound, models.KindTickerNotFound:
		status = http.StatusNotFound
	case models.KindInsufficientFunds, models.KindInsufficientShares:
		status = http.StatusUnprocessableEntity
	case models.KindConflict:
		status = http.StatusConflict
	case models.KindRateLimited:
		status = http.StatusTooManyRequests
	case models.KindMarketDataUnavailable, models.KindTransient:
		status = http.StatusServiceUnavailable
	case models.KindAuthFailed:
		status = http.StatusBadGateway
	}
	WriteJSON(w, status, ErrorResponse{Error: err.Error(), Code: string(kind)})
}

// RequireMethod validates the HTTP method and returns true if it matches.
// If it doesn't match, it writes a 405 response and returns false.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// DecodeJSON reads and decodes JSON from the request body into v.
// Returns false and writes a 400 error if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		WriteError(w, http.StatusBadRequest, "Request body is required")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}
