package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Error codes shared by every service. Services add their own domain codes.
const (
	CodeInternal         = "INTERNAL"
	CodeValidation       = "VALIDATION_ERROR"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeRateLimited      = "RATE_LIMITED"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeBodyTooLarge     = "BODY_TOO_LARGE"
	CodeUnavailable      = "UNAVAILABLE"
)

// ErrorBody is the failure envelope: {"ok":false,"error":"...","code":"..."}.
// Embed it to attach extra fields to a specific failure.
type ErrorBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func NewErrorBody(code, message string) ErrorBody {
	return ErrorBody{OK: false, Error: message, Code: code}
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, NewErrorBody(code, message))
}

var ErrEmptyBody = errors.New("request body is empty")

// DecodeJSON decodes a single JSON document from the request body.
// When it fails it has already written the error response.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, CodeBodyTooLarge, "request body too large")
	case errors.Is(err, io.EOF):
		WriteError(w, http.StatusBadRequest, CodeValidation, ErrEmptyBody.Error())
	default:
		WriteError(w, http.StatusBadRequest, CodeValidation, "invalid json body")
	}
	return false
}
