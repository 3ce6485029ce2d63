package httpx

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProblemWritesProblemJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	Problem(rec, 409, "Conflict", "invoice already exists")

	require.Equal(t, 409, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Conflict", body.Title)
	require.Equal(t, 409, body.Status)
	require.Equal(t, "invoice already exists", body.Detail)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/clients", strings.NewReader(`{"name":"Acme","bogus":true}`))

	var target struct {
		Name string `json:"name"`
	}
	require.Error(t, DecodeJSON(req, &target))
}
