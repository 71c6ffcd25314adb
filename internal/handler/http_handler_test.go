package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
)

func serveHTTP(h http.Handler, method, path, actor, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHTTPApprovalFlow(t *testing.T) {
	engine, _ := newTestEngine(t)
	log := logger.Nop()
	var h http.Handler = NewHTTPHandler(engine, nil, log).Routes()
	h = RequestID(Logger(log)(Recovery(log)(h)))

	rec := serveHTTP(h, http.MethodPost, "/api/v1/approvals/project/p-1/submit", "carol", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "PENDING", decodeBody(t, rec)["status"])

	rec = serveHTTP(h, http.MethodPost, "/api/v1/approvals/project/p-1/act", "alice", `{"action":"approve","comment":"ok"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(50), decodeBody(t, rec)["progress"])

	rec = serveHTTP(h, http.MethodPost, "/api/v1/approvals/project/p-1/act", "alice", `{"action":"approve"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decodeBody(t, rec)["code"])

	rec = serveHTTP(h, http.MethodPost, "/api/v1/approvals/project/p-1/act", "bob", `{"action":"APPROVE"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "APPROVED", body["status"])
	assert.Equal(t, float64(100), body["progress"])

	rec = serveHTTP(h, http.MethodGet, "/api/v1/approvals/project/p-1/history", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["items"], 2)

	rec = serveHTTP(h, http.MethodGet, "/api/v1/approvals/project/p-1/records", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["records"], 1)

	rec = serveHTTP(h, http.MethodPost, "/api/v1/approvals/project/p-1/submit", "carol", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHTTPErrors(t *testing.T) {
	engine, _ := newTestEngine(t)
	h := NewHTTPHandler(engine, nil, nil).Routes()

	tests := []struct {
		name, method, path, actor, body string
		want                            int
	}{
		{"unknown type", http.MethodGet, "/api/v1/approvals/ticket/t-1", "", "", http.StatusBadRequest},
		{"unknown entity", http.MethodGet, "/api/v1/approvals/project/p-404", "", "", http.StatusNotFound},
		{"no actor", http.MethodPost, "/api/v1/approvals/project/p-1/submit", "", "", http.StatusUnauthorized},
		{"bad body", http.MethodPost, "/api/v1/approvals/project/p-1/act", "alice", "{", http.StatusBadRequest},
		{"cancel idle", http.MethodPost, "/api/v1/approvals/project/p-1/cancel", "carol", "", http.StatusConflict},
		{"pending without actor", http.MethodGet, "/api/v1/approvals/pending", "", "", http.StatusUnauthorized},
		{"bad workflow", http.MethodPost, "/api/v1/approvals/project/p-1/submit", "carol", `{"workflow_id":"nope"}`, http.StatusUnprocessableEntity},
		{"wrong method", http.MethodDelete, "/api/v1/approvals/project/p-1", "", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serveHTTP(h, tc.method, tc.path, tc.actor, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHTTPHealth(t *testing.T) {
	engine, _ := newTestEngine(t)

	healthy := NewHTTPHandler(engine, func(context.Context) error { return nil }, nil).Routes()
	assert.Equal(t, http.StatusOK, serveHTTP(healthy, http.MethodGet, "/health", "", "").Code)

	down := NewHTTPHandler(engine, func(context.Context) error { return stderrors.New("db down") }, nil).Routes()
	assert.Equal(t, http.StatusServiceUnavailable, serveHTTP(down, http.MethodGet, "/health", "", "").Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Recovery(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := serveHTTP(h, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
