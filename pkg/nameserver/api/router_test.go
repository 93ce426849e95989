package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docfs/docfs/pkg/nameserver/access"
	"github.com/docfs/docfs/pkg/nameserver/directory"
	"github.com/docfs/docfs/pkg/nameserver/registry"
	"github.com/docfs/docfs/pkg/nameserver/session"
)

const testSecret = "test-secret-key-for-testing-only-32chars"

func testRouter(t *testing.T) (http.Handler, Deps) {
	t.Helper()

	deps := Deps{
		Directory: directory.New(directory.Config{}),
		Fleet:     registry.New(registry.Config{}),
		Sessions:  session.New(session.Config{}),
		Requests:  access.New(access.Config{}),
	}
	svc, err := NewJWTService(JWTConfig{
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: time.Hour,
	}, testSecret)
	require.NoError(t, err)

	return NewRouter(deps, svc, testSecret), deps
}

func login(t *testing.T, ts *httptest.Server, secret string) (*http.Response, TokenPair) {
	t.Helper()

	body, err := json.Marshal(map[string]string{"secret": secret})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var pair TokenPair
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&pair))
	}
	return resp, pair
}

func authedGet(t *testing.T, ts *httptest.Server, path, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := testRouter(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	resp2, err := http.Get(ts.URL + "/health/ready")
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var ready struct {
		Status  string `json:"status"`
		Servers int    `json:"active_storage_servers"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&ready))
	require.Equal(t, "ready", ready.Status)
	require.Zero(t, ready.Servers)
}

func TestRootRedirectsToHealth(t *testing.T) {
	router, _ := testRouter(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(ts.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	require.Equal(t, "/health", resp.Header.Get("Location"))
}

func TestLoginRejectsWrongSecret(t *testing.T) {
	router, _ := testRouter(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp, _ := login(t, ts, "not-the-secret")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, ContentTypeProblemJSON, resp.Header.Get("Content-Type"))
}

func TestLoginAndListServers(t *testing.T) {
	router, deps := testRouter(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	_, err := deps.Fleet.Register(3, "127.0.0.1", 9001, 9002)
	require.NoError(t, err)

	resp, pair := login(t, ts, testSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Bearer", pair.TokenType)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	got := authedGet(t, ts, "/api/v1/servers", pair.AccessToken)
	defer func() { _ = got.Body.Close() }()
	require.Equal(t, http.StatusOK, got.StatusCode)

	var body struct {
		Servers []ServerView `json:"servers"`
	}
	require.NoError(t, json.NewDecoder(got.Body).Decode(&body))
	require.Len(t, body.Servers, 1)
	require.Equal(t, 3, body.Servers[0].ID)
	require.Equal(t, "127.0.0.1", body.Servers[0].IP)
	require.Equal(t, 9001, body.Servers[0].ClientPort)
	require.True(t, body.Servers[0].Active)
}

func TestViewsRequireToken(t *testing.T) {
	router, _ := testRouter(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	for _, path := range []string{
		"/api/v1/servers",
		"/api/v1/files",
		"/api/v1/sessions",
		"/api/v1/requests",
	} {
		resp := authedGet(t, ts, path, "")
		_ = resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "path %s", path)
	}

	// A refresh token is not an access token.
	_, pair := login(t, ts, testSecret)
	resp := authedGet(t, ts, "/api/v1/servers", pair.RefreshToken)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListFilesIncludesTrash(t *testing.T) {
	router, deps := testRouter(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	require.NoError(t, deps.Directory.InsertFile("keep.txt", "alice", []int{1, 2}))
	require.NoError(t, deps.Directory.InsertFile("gone.txt", "alice", []int{1}))
	require.NoError(t, deps.Directory.SetTrash("gone.txt", true))

	_, pair := login(t, ts, testSecret)
	resp := authedGet(t, ts, "/api/v1/files", pair.AccessToken)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Files []FileView `json:"files"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Files, 2)

	byName := map[string]FileView{}
	for _, f := range body.Files {
		byName[f.Name] = f
	}
	require.False(t, byName["keep.txt"].InTrash)
	require.Equal(t, []int{1, 2}, byName["keep.txt"].Replicas)
	require.True(t, byName["gone.txt"].InTrash)
	require.Equal(t, "alice", byName["gone.txt"].Owner)
}

func TestListSessionsAndRequests(t *testing.T) {
	router, deps := testRouter(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	require.NoError(t, deps.Sessions.Register("alice"))
	require.NoError(t, deps.Sessions.Register("bob"))
	deps.Sessions.Disconnect("bob")

	id, err := deps.Requests.Submit("doc.txt", "bob", "alice", access.KindWrite)
	require.NoError(t, err)

	_, pair := login(t, ts, testSecret)

	resp := authedGet(t, ts, "/api/v1/sessions", pair.AccessToken)
	defer func() { _ = resp.Body.Close() }()
	var sessions struct {
		Sessions []SessionView `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	require.Len(t, sessions.Sessions, 2)

	resp2 := authedGet(t, ts, "/api/v1/requests", pair.AccessToken)
	defer func() { _ = resp2.Body.Close() }()
	var reqs struct {
		Requests []RequestView `json:"requests"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&reqs))
	require.Len(t, reqs.Requests, 1)
	require.Equal(t, id, reqs.Requests[0].ID)
	require.Equal(t, "WRITE", reqs.Requests[0].Kind)
	require.Equal(t, "PENDING", reqs.Requests[0].Status)
}

func TestRefreshRotatesTokens(t *testing.T) {
	router, _ := testRouter(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	_, pair := login(t, ts, testSecret)

	body, err := json.Marshal(map[string]string{"refresh_token": pair.RefreshToken})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/v1/auth/refresh", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fresh TokenPair
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fresh))
	require.NotEmpty(t, fresh.AccessToken)

	// Refreshing with an access token is rejected.
	body, err = json.Marshal(map[string]string{"refresh_token": pair.AccessToken})
	require.NoError(t, err)
	resp2, err := http.Post(ts.URL+"/api/v1/auth/refresh", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	require.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}
