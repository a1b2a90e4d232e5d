package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mossy-p/peercam/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRequest(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func adminToken(t *testing.T, h http.Handler) string {
	t.Helper()
	w := doRequest(t, h, http.MethodPost, "/api/auth/token", `{"username":"admin","password":"hunter2"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestHealth(t *testing.T) {
	deps := newDeps(testConfig())
	router := NewRouter(deps)
	_, err := deps.Registry.Register(context.Background())
	require.NoError(t, err)

	w := doRequest(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","peers":1}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	deps := newDeps(testConfig())
	router := NewRouter(deps)
	_, err := deps.Registry.Register(context.Background())
	require.NoError(t, err)

	w := doRequest(t, router, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "peercam_peers_registered 1")
}

func TestGetPeer(t *testing.T) {
	deps := newDeps(testConfig())
	router := NewRouter(deps)
	id, err := deps.Registry.Register(context.Background())
	require.NoError(t, err)

	w := doRequest(t, router, http.MethodGet, "/api/peers/"+id, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp models.PeerLookupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.ID)
	assert.True(t, resp.Registered)

	w = doRequest(t, router, http.MethodGet, "/api/peers/cam-XYZ", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "UNKNOWN_PEER")
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		password string
		body     string
		want     int
	}{
		{name: "valid", password: "hunter2", body: `{"username":"admin","password":"hunter2"}`, want: http.StatusOK},
		{name: "wrong password", password: "hunter2", body: `{"username":"admin","password":"nope"}`, want: http.StatusUnauthorized},
		{name: "wrong user", password: "hunter2", body: `{"username":"root","password":"hunter2"}`, want: http.StatusUnauthorized},
		{name: "login disabled", password: "", body: `{"username":"admin","password":""}`, want: http.StatusBadRequest},
		{name: "login disabled with any password", password: "", body: `{"username":"admin","password":"x"}`, want: http.StatusUnauthorized},
		{name: "malformed", password: "hunter2", body: `{`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Admin.Password = tt.password
			router := NewRouter(newDeps(cfg))

			w := doRequest(t, router, http.MethodPost, "/api/auth/token", tt.body, nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestSessionsAPI_RequiresAdminToken(t *testing.T) {
	cfg := testConfig()
	router := NewRouter(newDeps(cfg))

	w := doRequest(t, router, http.MethodGet, "/api/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, router, http.MethodGet, "/api/sessions", "", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, _, err := IssueToken("admin", "other-secret", time.Now())
	require.NoError(t, err)
	w = doRequest(t, router, http.MethodGet, "/api/sessions", "", map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := adminToken(t, router)
	w = doRequest(t, router, http.MethodGet, "/api/sessions", "", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"policy":"reject","sessions":[]}`, w.Body.String())
}

func TestSessionsAPI_InspectAndClose(t *testing.T) {
	deps := newDeps(testConfig())
	router := NewRouter(deps)
	ctx := context.Background()

	cam, err := deps.Registry.Register(ctx)
	require.NoError(t, err)
	viewer, err := deps.Registry.Register(ctx)
	require.NoError(t, err)
	info, err := deps.Sessions.Initiate(cam, viewer, "")
	require.NoError(t, err)

	auth := map[string]string{"Authorization": "Bearer " + adminToken(t, router)}

	w := doRequest(t, router, http.MethodGet, "/api/sessions/"+info.ID, "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.SessionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, cam, got.CameraID)
	assert.Equal(t, viewer, got.ViewerID)
	assert.Equal(t, models.SessionPending, got.State)

	w = doRequest(t, router, http.MethodDelete, "/api/sessions/"+info.ID, "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"`+info.ID+`","closed":true}`, w.Body.String())

	// Closed sessions stay inspectable for a while; closing again is a no-op.
	w = doRequest(t, router, http.MethodGet, "/api/sessions/"+info.ID, "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.SessionClosed, got.State)
	assert.Equal(t, models.ReasonAdmin, got.Reason)

	w = doRequest(t, router, http.MethodDelete, "/api/sessions/"+info.ID, "", auth)
	assert.JSONEq(t, `{"id":"`+info.ID+`","closed":false}`, w.Body.String())

	w = doRequest(t, router, http.MethodGet, "/api/sessions/nope", "", auth)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doRequest(t, router, http.MethodDelete, "/api/sessions/nope", "", auth)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionsAPI_FilterByPeer(t *testing.T) {
	deps := newDeps(testConfig())
	router := NewRouter(deps)
	ctx := context.Background()

	ids := make([]string, 4)
	for i := range ids {
		id, err := deps.Registry.Register(ctx)
		require.NoError(t, err)
		ids[i] = id
	}
	first, err := deps.Sessions.Initiate(ids[0], ids[1], "")
	require.NoError(t, err)
	_, err = deps.Sessions.Initiate(ids[2], ids[3], "")
	require.NoError(t, err)

	auth := map[string]string{"Authorization": "Bearer " + adminToken(t, router)}
	tests := []struct {
		query string
		want  int
	}{
		{"", 2},
		{"?peer=" + ids[1], 1},
		{"?peer=nobody", 0},
	}
	for _, tt := range tests {
		w := doRequest(t, router, http.MethodGet, "/api/sessions"+tt.query, "", auth)
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Sessions []models.SessionInfo `json:"sessions"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Len(t, body.Sessions, tt.want, "query %q", tt.query)
		assert.NotContains(t, w.Body.String(), `"sessions":null`)
		if tt.want == 1 {
			assert.Equal(t, first.ID, body.Sessions[0].ID)
		}
	}
}

func TestOriginFilter(t *testing.T) {
	router := NewRouter(newDeps(testConfig()))

	w := doRequest(t, router, http.MethodGet, "/health", "", map[string]string{"Origin": "http://evil.example"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, router, http.MethodGet, "/health", "", map[string]string{"Origin": "http://allowed.example"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://allowed.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = doRequest(t, router, http.MethodOptions, "/api/sessions", "", map[string]string{"Origin": "http://allowed.example"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginFilter_Wildcard(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"*"}
	router := NewRouter(newDeps(cfg))

	w := doRequest(t, router, http.MethodGet, "/health", "", map[string]string{"Origin": "http://anything.example"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://anything.example", w.Header().Get("Access-Control-Allow-Origin"))
}
