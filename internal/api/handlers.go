package api

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/model-arena/model-arena/internal/arena"
	"github.com/model-arena/model-arena/internal/fallback"
	"github.com/model-arena/model-arena/internal/registry"
	"github.com/model-arena/model-arena/internal/scheduler"
	"github.com/model-arena/model-arena/internal/storage"
	"github.com/model-arena/model-arena/pkg/models"
)

// Request/Response types

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
}

// ReadyResponse is the readiness check response
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// VoteReply is the response to an accepted vote
type VoteReply struct {
	SessionID string              `json:"session_id"`
	Turn      int                 `json:"turn"`
	Outcome   models.Outcome      `json:"outcome"`
	Revealed  models.RevealedPair `json:"revealed"`
}

// BackendList is the catalog with live health
type BackendList struct {
	Backends []models.BackendStatus `json:"backends"`
}

// StandingsResponse is the leaderboard
type StandingsResponse struct {
	Standings []*models.Rating `json:"standings"`
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	if s.sessions != nil {
		response.Services["arena_sessions"] = fmt.Sprintf("%d active", s.sessions.ActiveSessions())
	}
	if s.catalog != nil {
		healthy := 0
		all := s.catalog.List()
		for _, b := range all {
			if b.Health == models.HealthHealthy {
				healthy++
			}
		}
		response.Services["backends"] = fmt.Sprintf("%d/%d healthy", healthy, len(all))
	}

	// Return 503 until initial probing has completed
	if !s.ready.Load() {
		response.Status = "unavailable"
		response.Services["ready"] = "false"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response.Services["ready"] = "true"
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleReady(c *gin.Context) {
	response := ReadyResponse{
		Ready:     s.ready.Load(),
		Timestamp: time.Now(),
	}

	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) handleQuery(c *gin.Context) {
	ctx := c.Request.Context()

	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     sanitizeValidationError(err),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	resp, err := s.queries.Route(ctx, req)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleVote(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	var req models.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     sanitizeValidationError(err),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	result, err := s.sessions.Vote(ctx, sessionID, models.Outcome(req.Outcome))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, VoteReply{
		SessionID: result.SessionID,
		Turn:      result.Turn,
		Outcome:   result.Outcome,
		Revealed:  result.Revealed,
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	view, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (s *Server) handleListBackends(c *gin.Context) {
	c.JSON(http.StatusOK, BackendList{Backends: s.catalog.List()})
}

func (s *Server) handleStandings(c *gin.Context) {
	standings, err := s.standings.Standings(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if standings == nil {
		standings = []*models.Rating{}
	}

	c.JSON(http.StatusOK, StandingsResponse{Standings: standings})
}

func (s *Server) handleSlots(c *gin.Context) {
	c.JSON(http.StatusOK, s.slots.Status())
}

// respondError maps domain errors to HTTP status codes
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, arena.ErrDuplicateVote),
		errors.Is(err, arena.ErrVotePending),
		errors.Is(err, arena.ErrNoPendingVote),
		errors.Is(err, arena.ErrTurnInProgress):
		status = http.StatusConflict

	case errors.Is(err, arena.ErrSessionNotFound),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound

	case errors.Is(err, arena.ErrNoBackendsAvailable),
		errors.Is(err, fallback.ErrBackendUnavailable),
		errors.Is(err, scheduler.ErrTimedOut),
		errors.Is(err, scheduler.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"error", err.Error(),
			"request_id", c.GetString("request_id"))
	}

	c.JSON(status, ErrorResponse{
		Error:     err.Error(),
		RequestID: c.GetString("request_id"),
	})
}

// sanitizeValidationError converts internal field names to JSON field names
// in validation error messages to avoid leaking internal implementation details.
func sanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err.Error()
	}

	var messages []string
	for _, fe := range validationErrs {
		// Convert field name to JSON tag name (snake_case)
		jsonFieldName := toSnakeCase(fe.Field())
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", jsonFieldName))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", jsonFieldName, fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", jsonFieldName, fe.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", jsonFieldName, fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation (%s)", jsonFieldName, fe.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}

// toSnakeCase converts a PascalCase or camelCase string to snake_case
func toSnakeCase(s string) string {
	fieldMappings := map[string]string{
		"SessionID": "session_id",
		"Prompt":    "prompt",
		"Outcome":   "outcome",
	}
	if mapped, ok := fieldMappings[s]; ok {
		return mapped
	}
	// Fallback: convert PascalCase to snake_case using regex
	re := regexp.MustCompile("([a-z0-9])([A-Z])")
	return strings.ToLower(re.ReplaceAllString(s, "${1}_${2}"))
}
