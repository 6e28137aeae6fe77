package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, store Store) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Route("/audit", NewHandler(logger, store).MountRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestListAuditTrail(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := ContextWithActor(context.Background(), "admin-3")
	rec.Record(ctx, "role.registered", "editor", map[string]any{"level": 10})
	rec.Record(ctx, "grant.assigned", "u1", nil)
	srv := newTestServer(t, store)

	resp := get(t, srv.URL+"/audit")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Records []struct {
			Actor  string         `json:"actor"`
			Action string         `json:"action"`
			Target string         `json:"target"`
			Detail map[string]any `json:"detail"`
		} `json:"records"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Records, 2)
	assert.Equal(t, "grant.assigned", body.Records[0].Action, "newest first")
	assert.Equal(t, "admin-3", body.Records[0].Actor)
	assert.Equal(t, "editor", body.Records[1].Target)
	assert.Equal(t, float64(10), body.Records[1].Detail["level"])

	resp = get(t, srv.URL+"/audit?limit=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body.Records = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Records, 1)
	assert.Equal(t, "grant.assigned", body.Records[0].Action)
}

func TestListAuditTrailValidation(t *testing.T) {
	srv := newTestServer(t, NewMemoryStore())

	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/audit?limit=zero").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/audit?limit=0").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/audit?limit=-5").StatusCode)
}

func TestListAuditTrailStoreFailure(t *testing.T) {
	srv := newTestServer(t, failingStore{})

	resp := get(t, srv.URL+"/audit")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
