package apiclient

import "time"

// Health is the liveness/readiness report.
type Health struct {
	Status               string `json:"status"`
	ActiveStorageServers int    `json:"active_storage_servers,omitempty"`
	Files                int    `json:"files,omitempty"`
}

// Server is one storage server from /api/v1/servers.
type Server struct {
	ID            int       `json:"id"`
	IP            string    `json:"ip"`
	ClientPort    int       `json:"client_port"`
	NMPort        int       `json:"nm_port"`
	Active        bool      `json:"active"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// File is one directory entry from /api/v1/files.
type File struct {
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

// Session is one client session from /api/v1/sessions.
type Session struct {
	Username    string    `json:"username"`
	Active      bool      `json:"active"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Request is one access request from /api/v1/requests.
type Request struct {
	ID        int       `json:"id"`
	File      string    `json:"file"`
	Requester string    `json:"requester"`
	Owner     string    `json:"owner"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// GetHealth checks liveness.
func (c *Client) GetHealth() (*Health, error) {
	var h Health
	if err := c.get("/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// GetReadiness checks readiness, including the live fleet count.
func (c *Client) GetReadiness() (*Health, error) {
	var h Health
	if err := c.get("/health/ready", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ListServers fetches the storage server registry.
func (c *Client) ListServers() ([]Server, error) {
	var resp struct {
		Servers []Server `json:"servers"`
	}
	if err := c.get("/api/v1/servers", &resp); err != nil {
		return nil, err
	}
	return resp.Servers, nil
}

// ListFiles fetches the directory contents, trash included.
func (c *Client) ListFiles() ([]File, error) {
	var resp struct {
		Files []File `json:"files"`
	}
	if err := c.get("/api/v1/files", &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// ListSessions fetches the client session table.
func (c *Client) ListSessions() ([]Session, error) {
	var resp struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.get("/api/v1/sessions", &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// ListRequests fetches the access request queue.
func (c *Client) ListRequests() ([]Request, error) {
	var resp struct {
		Requests []Request `json:"requests"`
	}
	if err := c.get("/api/v1/requests", &resp); err != nil {
		return nil, err
	}
	return resp.Requests, nil
}
