package backend

import (
	"context"
	"time"
)

// GenerateRequest is one generation call against a backend
type GenerateRequest struct {
	Prompt string
	// Model overrides the backend's default model name in the wire request.
	// Empty uses the backend's configured name.
	Model string
	// MaxTokens caps the completion length (0 = backend default)
	MaxTokens int
}

// GenerateResponse is the result of a successful generation call
type GenerateResponse struct {
	Text    string
	Backend string
	Latency time.Duration
}

// Client is the transport-agnostic contract every inference backend
// satisfies. The engine treats all backends uniformly through it; the
// scheduler and fallback layers never see transport details.
type Client interface {
	// Name returns the backend id this client talks to
	Name() string

	// Generate issues one completion request. The context deadline bounds
	// the call; on expiry the returned error has kind KindTimeout.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// CheckHealth performs a lightweight liveness request. Used only by the
	// health monitor; never sends generation traffic.
	CheckHealth(ctx context.Context) error
}

// Pool holds one client per catalog backend, keyed by backend id.
// Built once at startup; read-only afterwards.
type Pool struct {
	clients map[string]Client
}

// NewPool creates an empty client pool
func NewPool() *Pool {
	return &Pool{clients: make(map[string]Client)}
}

// Add registers a client under its backend id
func (p *Pool) Add(c Client) {
	p.clients[c.Name()] = c
}

// Get returns the client for a backend id
func (p *Pool) Get(id string) (Client, bool) {
	c, ok := p.clients[id]
	return c, ok
}

// IDs returns the backend ids with a client attached
func (p *Pool) IDs() []string {
	ids := make([]string, 0, len(p.clients))
	for id := range p.clients {
		ids = append(ids, id)
	}
	return ids
}
