package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/docfs/docfs/pkg/nameserver/access"
	"github.com/docfs/docfs/pkg/nameserver/directory"
	"github.com/docfs/docfs/pkg/nameserver/registry"
	"github.com/docfs/docfs/pkg/nameserver/session"
)

// Deps are the name server components the API reads from. All views are
// snapshots; the API never mutates name server state.
type Deps struct {
	Directory *directory.Directory
	Fleet     *registry.Registry
	Sessions  *session.Table
	Requests  *access.Queue
}

// handler serves the admin API endpoints.
type handler struct {
	deps Deps
	jwt  *JWTService

	// adminSecret is the credential accepted by Login. It doubles as the JWT
	// signing key, so a caller who knows it could mint tokens anyway.
	adminSecret string
}

// ServerView is one storage server as reported by /api/v1/servers.
type ServerView struct {
	ID            int       `json:"id"`
	IP            string    `json:"ip"`
	ClientPort    int       `json:"client_port"`
	NMPort        int       `json:"nm_port"`
	Active        bool      `json:"active"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// FileView is one directory entry as reported by /api/v1/files.
type FileView struct {
	Name       string   `json:"name"`
	Owner      string   `json:"owner"`
	IsFolder   bool     `json:"is_folder"`
	InTrash    bool     `json:"in_trash"`
	Replicas   []int    `json:"replicas"`
	ReadUsers  []string `json:"read_users,omitempty"`
	WriteUsers []string `json:"write_users,omitempty"`
	Size       int64    `json:"size"`
	WordCount  int64    `json:"word_count"`
	CharCount  int64    `json:"char_count"`
	CreatedAt  int64    `json:"created_at"`
	ModifiedAt int64    `json:"modified_at"`
	AccessedAt int64    `json:"accessed_at,omitempty"`
}

// SessionView is one client session as reported by /api/v1/sessions.
type SessionView struct {
	Username    string    `json:"username"`
	Active      bool      `json:"active"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// RequestView is one access request as reported by /api/v1/requests.
type RequestView struct {
	ID        int       `json:"id"`
	File      string    `json:"file"`
	Requester string    `json:"requester"`
	Owner     string    `json:"owner"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Liveness handles GET /health. It answers as long as the process is up.
func (h *handler) Liveness(w http.ResponseWriter, _ *http.Request) {
	WriteJSONOK(w, map[string]string{"status": "ok"})
}

// Readiness handles GET /health/ready. The name server is ready once its
// components exist; the body reports the fleet so operators can see whether
// redirected commands will succeed.
func (h *handler) Readiness(w http.ResponseWriter, _ *http.Request) {
	WriteJSONOK(w, map[string]any{
		"status":                 "ready",
		"active_storage_servers": h.deps.Fleet.ActiveCount(),
		"files":                  h.deps.Directory.Len(),
	})
}

type loginRequest struct {
	Secret string `json:"secret"`
}

// Login handles POST /api/v1/auth/login. The credential is the admin secret
// itself; a constant-time match issues a token pair for the admin principal.
func (h *handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.adminSecret)) != 1 {
		Unauthorized(w, "invalid admin secret")
		return
	}

	pair, err := h.jwt.GenerateTokenPair()
	if err != nil {
		InternalServerError(w, "failed to generate tokens")
		return
	}
	WriteJSONOK(w, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /api/v1/auth/refresh. A valid refresh token yields a
// fresh pair; both tokens rotate.
func (h *handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if _, err := h.jwt.ValidateRefreshToken(req.RefreshToken); err != nil {
		Unauthorized(w, "invalid or expired refresh token")
		return
	}

	pair, err := h.jwt.GenerateTokenPair()
	if err != nil {
		InternalServerError(w, "failed to generate tokens")
		return
	}
	WriteJSONOK(w, pair)
}

// ListServers handles GET /api/v1/servers.
func (h *handler) ListServers(w http.ResponseWriter, _ *http.Request) {
	servers := h.deps.Fleet.Servers()
	out := make([]ServerView, 0, len(servers))
	for _, s := range servers {
		out = append(out, ServerView{
			ID:            s.ID,
			IP:            s.IP,
			ClientPort:    s.ClientPort,
			NMPort:        s.NMPort,
			Active:        s.Active,
			LastHeartbeat: s.LastHeartbeat,
		})
	}
	WriteJSONOK(w, map[string]any{"servers": out})
}

// ListFiles handles GET /api/v1/files. Trashed entries are included and
// flagged; the admin view skips permission filtering.
func (h *handler) ListFiles(w http.ResponseWriter, _ *http.Request) {
	nodes := h.deps.Directory.All()
	out := make([]FileView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, FileView{
			Name:       n.Name,
			Owner:      n.Owner,
			IsFolder:   n.IsFolder,
			InTrash:    n.InTrash,
			Replicas:   n.Replicas,
			ReadUsers:  n.ReadUsers,
			WriteUsers: n.WriteUsers,
			Size:       n.Size,
			WordCount:  n.WordCount,
			CharCount:  n.CharCount,
			CreatedAt:  n.CreatedAt,
			ModifiedAt: n.ModifiedAt,
			AccessedAt: n.AccessedAt,
		})
	}
	WriteJSONOK(w, map[string]any{"files": out})
}

// ListSessions handles GET /api/v1/sessions.
func (h *handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := h.deps.Sessions.Sessions()
	out := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionView{
			Username:    s.Username,
			Active:      s.Active,
			ConnectedAt: s.ConnectedAt,
			LastSeenAt:  s.LastSeenAt,
		})
	}
	WriteJSONOK(w, map[string]any{"sessions": out})
}

// ListRequests handles GET /api/v1/requests.
func (h *handler) ListRequests(w http.ResponseWriter, _ *http.Request) {
	reqs := h.deps.Requests.All()
	out := make([]RequestView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, RequestView{
			ID:        r.ID,
			File:      r.File,
			Requester: r.Requester,
			Owner:     r.Owner,
			Kind:      r.Kind.String(),
			Status:    r.Status.String(),
			CreatedAt: r.CreatedAt,
		})
	}
	WriteJSONOK(w, map[string]any{"requests": out})
}
