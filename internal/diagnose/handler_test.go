package diagnose_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/rolemedic/rolemedic/internal/diagnose"
	"github.com/rolemedic/rolemedic/internal/rbac"
)

func newTestServer(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.Middleware{Service: rbac.NewService(f.store, nil, 0), Logger: logger}
	handler := diagnose.NewHandler(logger, f.checker, mw, nil)

	r := chi.NewRouter()
	r.Use(mw.ResolveActor)
	handler.MountRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func runCheck(t *testing.T, srv *httptest.Server, actor string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/health/check", nil)
	require.NoError(t, err)
	if actor != "" {
		req.Header.Set(rbac.ActorHeader, actor)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type reportPayload struct {
	ID         string   `json:"id"`
	OperatorID int64    `json:"operator_id"`
	IssueCodes []string `json:"issue_codes"`
	HasIssues  bool     `json:"has_issues"`
	Results    []struct {
		Name    string `json:"name"`
		Title   string `json:"title"`
		Status  string `json:"status"`
		Message string `json:"message"`
		Issue   string `json:"issue_code"`
	} `json:"results"`
}

func TestHandleRunChecksHealthy(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)

	resp := runCheck(t, srv, "1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload reportPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.NotEmpty(t, payload.ID)
	require.Equal(t, operatorID, payload.OperatorID)
	require.False(t, payload.HasIssues)
	require.NotNil(t, payload.IssueCodes)
	require.Empty(t, payload.IssueCodes)
	require.Len(t, payload.Results, 10)
	require.Equal(t, "storefront_module", payload.Results[0].Name)
	require.Equal(t, "Storefront Module", payload.Results[0].Title)
	for _, res := range payload.Results {
		require.Equal(t, "good", res.Status)
	}
}

func TestHandleRunChecksReportsIssues(t *testing.T) {
	f := newFixture(t)
	f.env.Active["storefront"] = false
	srv := newTestServer(t, f)

	resp := runCheck(t, srv, "1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload reportPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.True(t, payload.HasIssues)
	require.Contains(t, payload.IssueCodes, string(diagnose.IssueStorefrontInactive))
}

func TestHandleRunChecksRequiresActor(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)

	resp := runCheck(t, srv, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleRunChecksRequiresManageOptions(t *testing.T) {
	f := newFixture(t)
	f.store.SeedUser(7, "customer", "customer@example.com", []byte(`{"customer":true}`))
	srv := newTestServer(t, f)

	resp := runCheck(t, srv, "7")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
