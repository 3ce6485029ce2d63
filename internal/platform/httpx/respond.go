// Package httpx holds the small HTTP surface the handlers share: JSON
// encoding, RFC 7807 problem responses and the shared-error mapping.
package httpx

import (
	"encoding/json"
	"net/http"
)

// maxBodyBytes caps request bodies; billing payloads are small.
const maxBodyBytes = 1 << 20

// ProblemDetail is the RFC 7807 error body every endpoint returns on
// failure.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON writes data as a JSON response with the given status. Encoding
// errors are dropped; the status line is already on the wire.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem writes an RFC 7807 problem response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// DecodeJSON reads the request body into target, rejecting unknown fields
// and oversized payloads.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}
