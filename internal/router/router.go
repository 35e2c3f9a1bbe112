// Package router classifies incoming queries and dispatches them to the
// arena pipeline or the designated tool provider. Every query yields a
// dispatch or a typed error; nothing is dropped.
package router

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/model-arena/model-arena/internal/arena"
	"github.com/model-arena/model-arena/internal/backend"
	"github.com/model-arena/model-arena/internal/fallback"
	"github.com/model-arena/model-arena/internal/metrics"
	"github.com/model-arena/model-arena/pkg/models"
)

// DefaultToolTimeout bounds a tool-path generation call
const DefaultToolTimeout = 60 * time.Second

// ArenaRunner runs one comparison turn. Satisfied by arena.Manager.
type ArenaRunner interface {
	Turn(ctx context.Context, sessionID, prompt string) (*arena.TurnResult, error)
}

// Resolver maps the tool provider to a usable backend.
// Satisfied by fallback.Policy.
type Resolver interface {
	Resolve(ctx context.Context, modelID string) (*fallback.Resolution, error)
}

// ClientSource hands out generation clients. Satisfied by backend.Pool.
type ClientSource interface {
	Get(id string) (backend.Client, bool)
}

// Router dispatches queries by prompt classification
type Router struct {
	arena    ArenaRunner
	resolver Resolver
	clients  ClientSource
	logger   *slog.Logger

	// toolProvider is the backend id serving tool-requiring queries.
	// Empty routes everything to the arena.
	toolProvider string

	toolTimeout time.Duration

	// newID mints session ids for first-contact queries
	newID func() string
}

// Option configures the router
type Option func(*Router)

// WithToolProvider designates the backend serving tool-path queries
func WithToolProvider(id string) Option {
	return func(r *Router) {
		r.toolProvider = id
	}
}

// WithToolTimeout bounds tool-path generation calls
func WithToolTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.toolTimeout = d
	}
}

// WithIDFunc sets the session id generator (for testing)
func WithIDFunc(fn func() string) Option {
	return func(r *Router) {
		r.newID = fn
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// New creates a router
func New(arenaRunner ArenaRunner, resolver Resolver, clients ClientSource, opts ...Option) *Router {
	r := &Router{
		arena:       arenaRunner,
		resolver:    resolver,
		clients:     clients,
		logger:      slog.Default(),
		toolTimeout: DefaultToolTimeout,
		newID:       uuid.NewString,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Route classifies the prompt and dispatches it. Arena is the default and
// the fallback: only prompts that clearly need external tooling, with a
// tool provider configured, take the tool path.
func (r *Router) Route(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = r.newID()
	}

	path, rule := Classify(req.Prompt)
	if path == models.PathTool && r.toolProvider == "" {
		r.logger.Debug("tool-path prompt with no tool provider, routing to arena",
			slog.String("rule", rule))
		path = models.PathArena
	}

	metrics.RecordRouterDispatch(string(path))

	if path == models.PathTool {
		r.logger.Debug("query routed to tool provider",
			slog.String("session_id", sessionID),
			slog.String("rule", rule))
		return r.dispatchTool(ctx, sessionID, req.Prompt)
	}

	return r.dispatchArena(ctx, sessionID, req.Prompt)
}

func (r *Router) dispatchArena(ctx context.Context, sessionID, prompt string) (*models.QueryResponse, error) {
	result, err := r.arena.Turn(ctx, sessionID, prompt)
	if err != nil {
		return nil, err
	}

	return &models.QueryResponse{
		Path:      models.PathArena,
		SessionID: sessionID,
		Turn:      result.Turn,
		Responses: result.Responses,
	}, nil
}

// dispatchTool issues a single generation call against the designated tool
// provider. Tool replies are never paired, anonymized, or vote-eligible.
func (r *Router) dispatchTool(ctx context.Context, sessionID, prompt string) (*models.QueryResponse, error) {
	res, err := r.resolver.Resolve(ctx, r.toolProvider)
	if err != nil {
		return nil, err
	}
	defer res.Release()

	client, ok := r.clients.Get(res.Backend.ID)
	if !ok {
		return nil, fallback.ErrBackendUnavailable
	}

	genCtx, cancel := context.WithTimeout(ctx, r.toolTimeout)
	defer cancel()

	resp, err := client.Generate(genCtx, backend.GenerateRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}

	return &models.QueryResponse{
		Path:      models.PathTool,
		SessionID: sessionID,
		Response: &models.ToolResponse{
			Text:    resp.Text,
			Backend: r.toolProvider,
		},
	}, nil
}

// rule is one ordered classifier entry. The first match wins.
type rule struct {
	name    string
	matches func(prompt string) bool
}

var toolRules = []rule{
	{"web-search", containsAny(
		"search the web", "search online", "web search", "google for",
		"google this", "look up online", "search for recent",
	)},
	{"code-execution", containsAny(
		"run this code", "execute this", "run the following", "eval this",
		"execute the script",
	)},
	{"url-fetch", containsAny(
		"http://", "https://", "fetch the page", "download the file",
		"read this file", "open this link",
	)},
	{"realtime-data", containsAny(
		"current weather", "weather right now", "stock price", "latest news",
		"today's date", "what time is it", "exchange rate right now",
	)},
}

// Classify decides the dispatch path for a prompt and names the matching
// rule. The heuristic is deliberately conservative: anything ambiguous
// stays in the arena.
func Classify(prompt string) (models.DispatchPath, string) {
	lowered := strings.ToLower(prompt)

	for _, r := range toolRules {
		if r.matches(lowered) {
			return models.PathTool, r.name
		}
	}

	return models.PathArena, ""
}

func containsAny(needles ...string) func(string) bool {
	return func(haystack string) bool {
		for _, n := range needles {
			if strings.Contains(haystack, n) {
				return true
			}
		}
		return false
	}
}
