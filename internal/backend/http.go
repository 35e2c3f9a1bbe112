package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/model-arena/model-arena/internal/metrics"
	"github.com/model-arena/model-arena/pkg/models"
)

const (
	chatCompletionsPath = "/v1/chat/completions"
	modelsPath          = "/v1/models"

	// maxResponseBytes bounds how much of a backend reply we read
	maxResponseBytes = 4 << 20
)

// HTTPClient talks to an OpenAI-compatible inference server. Both GPU and
// CPU tiers expose the same wire surface, so one client covers all catalog
// entries.
type HTTPClient struct {
	id       string
	model    string
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
}

// HTTPOption configures the HTTP client
type HTTPOption func(*HTTPClient)

// WithHTTPClient sets a custom http.Client (for testing)
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.http = c
	}
}

// NewHTTPClient creates a client for one catalog backend. The per-backend
// rate limit comes from the catalog entry; zero means unlimited.
func NewHTTPClient(b models.Backend, opts ...HTTPOption) *HTTPClient {
	limit := rate.Inf
	burst := 1
	if b.MaxRequestsPerSec > 0 {
		limit = rate.Limit(b.MaxRequestsPerSec)
		burst = int(b.MaxRequestsPerSec)
		if burst < 1 {
			burst = 1
		}
	}

	c := &HTTPClient{
		id:       b.ID,
		model:    b.Name,
		endpoint: b.Endpoint,
		// No client-level timeout: per-call deadlines come from the context
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the backend id
func (c *HTTPClient) Name() string {
	return c.id
}

// chatRequest is the OpenAI-compatible completion request body
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate issues one chat-completion request
func (c *HTTPClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		// Deadline expired while queued behind the rate limit
		metrics.RecordGenerationError(c.id, string(KindRateLimited))
		return nil, NewGenerationError(c.id, "generate", KindRateLimited, 0,
			"rate limit wait aborted", err)
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(chatRequest{
		Model:     model,
		Messages:  []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, NewGenerationError(c.id, "generate", KindBadResponse, 0,
			"failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, NewGenerationError(c.id, "generate", KindBadResponse, 0,
			"failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		kind := classifyTransportError(ctx, err)
		metrics.RecordGenerationError(c.id, string(kind))
		metrics.RecordGeneration(c.id, string(kind), time.Since(start))
		return nil, NewGenerationError(c.id, "generate", kind, 0, err.Error(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		kind := classifyTransportError(ctx, err)
		metrics.RecordGenerationError(c.id, string(kind))
		return nil, NewGenerationError(c.id, "generate", kind, 0,
			"failed to read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		kind := KindBadResponse
		if resp.StatusCode == http.StatusTooManyRequests {
			kind = KindRateLimited
		}
		metrics.RecordGenerationError(c.id, string(kind))
		metrics.RecordGeneration(c.id, "error", time.Since(start))
		return nil, NewGenerationError(c.id, "generate", kind, resp.StatusCode,
			truncate(string(raw), 256), nil)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		metrics.RecordGenerationError(c.id, string(KindBadResponse))
		return nil, NewGenerationError(c.id, "generate", KindBadResponse, resp.StatusCode,
			"failed to decode response", err)
	}

	if len(parsed.Choices) == 0 {
		metrics.RecordGenerationError(c.id, string(KindBadResponse))
		return nil, NewGenerationError(c.id, "generate", KindBadResponse, resp.StatusCode,
			"response contained no choices", nil)
	}

	latency := time.Since(start)
	metrics.RecordGeneration(c.id, "ok", latency)

	return &GenerateResponse{
		Text:    parsed.Choices[0].Message.Content,
		Backend: c.id,
		Latency: latency,
	}, nil
}

// CheckHealth performs a GET against the model listing endpoint. Any 2xx
// counts as alive; everything else is a probe failure.
func (c *HTTPClient) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint+modelsPath, nil)
	if err != nil {
		return NewGenerationError(c.id, "health", KindBadResponse, 0,
			"failed to build probe request", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		kind := classifyTransportError(ctx, err)
		return NewGenerationError(c.id, "health", kind, 0, err.Error(), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NewGenerationError(c.id, "health", KindBadResponse, resp.StatusCode,
			fmt.Sprintf("probe returned HTTP %d", resp.StatusCode), nil)
	}

	return nil
}

// classifyTransportError maps a transport-level failure to an error kind.
// Context expiry takes precedence: a connection error after the deadline
// fired is reported as a timeout, not as the backend being down.
func classifyTransportError(ctx context.Context, err error) ErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return KindTimeout
	}
	return KindUnreachable
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// BuildPool creates one HTTP client per catalog backend
func BuildPool(backends []models.Backend, opts ...HTTPOption) *Pool {
	pool := NewPool()
	for _, b := range backends {
		pool.Add(NewHTTPClient(b, opts...))
	}
	return pool
}
