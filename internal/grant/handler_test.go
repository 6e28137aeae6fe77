package grant

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, roles ...string) *httptest.Server {
	t.Helper()
	known := make(map[string]bool, len(roles))
	for _, r := range roles {
		known[r] = true
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(NewMemoryStore(), &stubRoles{known: known}, nil, nil, logger)
	r := chi.NewRouter()
	r.Route("/subjects", NewHandler(logger, svc).MountRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAssignAndListRoles(t *testing.T) {
	srv := newTestServer(t, "editor")

	resp := do(t, srv, http.MethodPost, "/subjects/u1/roles", `{"role":"editor"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, srv, http.MethodPost, "/subjects/u1/roles", `{"role":"editor","scope":{"type":"tenant","id":"7"}}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/subjects/u1/roles", `{"role":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = do(t, srv, http.MethodPost, "/subjects/u1/roles", `{"role":"Bad Slug"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = do(t, srv, http.MethodPost, "/subjects/u1/roles", `{"role":"editor","scope":{"type":"tenant"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "scope needs both type and id")

	resp = do(t, srv, http.MethodGet, "/subjects/u1/roles", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Assignments []assignmentResponse `json:"assignments"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Assignments, 1, "global listing excludes scoped rows")
	assert.Equal(t, "editor", out.Assignments[0].Role)

	resp = do(t, srv, http.MethodGet, "/subjects/u1/roles?scope_type=tenant&scope_id=7", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Assignments, 1)
	assert.Equal(t, "7", out.Assignments[0].ScopeID)
}

func TestUnassignRoleEndpoint(t *testing.T) {
	srv := newTestServer(t, "editor")

	resp := do(t, srv, http.MethodPost, "/subjects/u1/roles", `{"role":"editor","scope":{"type":"tenant","id":"7"}}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Scope mismatch: the global binding does not exist.
	resp = do(t, srv, http.MethodDelete, "/subjects/u1/roles/editor", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, "/subjects/u1/roles/editor?scope_type=tenant&scope_id=7", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDirectGrantEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/subjects/u1/permissions", `{"permission":"billing.view","granted":false}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/subjects/u1/permissions", `{"permission":"billing.view"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "polarity is mandatory")

	resp = do(t, srv, http.MethodPost, "/subjects/u1/permissions", `{"permission":"reports.*","granted":true}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "wildcard direct grants are accepted")

	resp = do(t, srv, http.MethodDelete, "/subjects/u1/permissions/billing.view", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, srv, http.MethodDelete, "/subjects/u1/permissions/billing.view", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
