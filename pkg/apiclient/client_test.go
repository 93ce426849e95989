package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginAndBearerToken(t *testing.T) {
	var sawAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			var req LoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Secret != "s3cret" {
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"title": "Unauthorized", "status": 401, "detail": "invalid admin secret",
				})
				return
			}
			_ = json.NewEncoder(w).Encode(TokenResponse{
				AccessToken: "tok", RefreshToken: "ref", TokenType: "Bearer", ExpiresIn: 900,
			})
		case "/api/v1/servers":
			sawAuth = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"servers": []Server{{ID: 1, IP: "127.0.0.1", ClientPort: 8100, Active: true}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := New(ts.URL)

	_, err := c.Login("wrong")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsAuthError())
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	tokens, err := c.Login("s3cret")
	require.NoError(t, err)
	assert.Equal(t, "tok", tokens.AccessToken)

	servers, err := c.WithToken(tokens.AccessToken).ListServers()
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, 1, servers[0].ID)
	assert.True(t, servers[0].Active)
	assert.Equal(t, "Bearer tok", sawAuth)
}

func TestListViews(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/files":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"files": []File{{Name: "notes.txt", Owner: "alice", Replicas: []int{1, 2}, InTrash: true}},
			})
		case "/api/v1/sessions":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"sessions": []Session{{Username: "alice", Active: true}},
			})
		case "/api/v1/requests":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"requests": []Request{{ID: 7, File: "notes.txt", Kind: "WRITE", Status: "PENDING"}},
			})
		case "/health/ready":
			_ = json.NewEncoder(w).Encode(Health{Status: "ready", ActiveStorageServers: 2})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := New(ts.URL).WithToken("tok")

	files, err := c.ListFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "notes.txt", files[0].Name)
	assert.True(t, files[0].InTrash)

	sessions, err := c.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "alice", sessions[0].Username)

	reqs, err := c.ListRequests()
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, 7, reqs[0].ID)
	assert.Equal(t, "PENDING", reqs[0].Status)

	ready, err := c.GetReadiness()
	require.NoError(t, err)
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, 2, ready.ActiveStorageServers)
}

func TestNonProblemErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer ts.Close()

	_, err := New(ts.URL).GetHealth()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "Bad Gateway", apiErr.Title)
	assert.Equal(t, "upstream exploded", apiErr.Detail)
}
