// Package mockbackend is an OpenAI-compatible inference backend for tests
// and local development. Behavior (reply text, latency, failures, hangs) is
// adjustable at runtime through _test endpoints.
package mockbackend

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

// Server is the mock inference server
type Server struct {
	state  *State
	router *gin.Engine
	logger *slog.Logger
}

// NewServer creates a mock backend serving one model
func NewServer(state *State) *Server {
	if state == nil {
		state = NewState("mock-model")
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		state:  state,
		router: router,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}

	s.setupRoutes()
	return s
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// State returns the underlying state for test manipulation
func (s *Server) State() *State {
	return s.state
}

func (s *Server) setupRoutes() {
	// OpenAI-compatible endpoints
	s.router.POST("/v1/chat/completions", s.handleChatCompletions)
	s.router.GET("/v1/models", s.handleListModels)

	// Test control endpoints
	s.router.POST("/_test/reset", s.handleTestReset)
	s.router.POST("/_test/config", s.handleTestConfig)
	s.router.GET("/_test/stats", s.handleTestStats)
}

// ChatRequest matches the OpenAI chat completion request format
type ChatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens int `json:"max_tokens,omitempty"`
}

// ChatResponse matches the OpenAI chat completion response format
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
}

// ChatChoice is one completion alternative
type ChatChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

func (s *Server) handleChatCompletions(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Content
	}

	reply, latency, failStatus, hang := s.state.recordChat(prompt)

	if hang {
		// Block until the client gives up
		<-c.Request.Context().Done()
		return
	}

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-c.Request.Context().Done():
			return
		}
	}

	if failStatus != 0 {
		c.JSON(failStatus, gin.H{"error": "simulated backend failure"})
		return
	}

	resp := ChatResponse{
		ID:      "chatcmpl-mock",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   s.state.ModelID(),
	}
	choice := ChatChoice{FinishReason: "stop"}
	choice.Message.Role = "assistant"
	choice.Message.Content = reply
	resp.Choices = []ChatChoice{choice}

	c.JSON(http.StatusOK, resp)
}

// ModelsResponse matches the OpenAI model listing format
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ModelInfo is one model listing entry
type ModelInfo struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

func (s *Server) handleListModels(c *gin.Context) {
	if s.state.recordHealth() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "simulated probe failure"})
		return
	}

	c.JSON(http.StatusOK, ModelsResponse{
		Object: "list",
		Data:   []ModelInfo{{ID: s.state.ModelID(), Object: "model"}},
	})
}

// Test control handlers

func (s *Server) handleTestReset(c *gin.Context) {
	s.state.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// TestConfig is the configuration for test behavior
type TestConfig struct {
	Reply      string `json:"reply"`
	LatencyMs  int    `json:"latency_ms"`
	FailChat   bool   `json:"fail_chat"`
	FailStatus int    `json:"fail_status"`
	FailHealth bool   `json:"fail_health"`
	Hang       bool   `json:"hang"`
}

func (s *Server) handleTestConfig(c *gin.Context) {
	var config TestConfig
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if config.Reply != "" {
		s.state.SetReply(config.Reply)
	}
	if config.LatencyMs > 0 {
		s.state.SetLatency(time.Duration(config.LatencyMs) * time.Millisecond)
	}
	s.state.SetFailChat(config.FailChat, config.FailStatus)
	s.state.SetFailHealth(config.FailHealth)
	s.state.SetHang(config.Hang)

	c.JSON(http.StatusOK, gin.H{"status": "configured"})
}

func (s *Server) handleTestStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.Stats())
}

// Run starts the server on the specified address
func (s *Server) Run(addr string) error {
	s.logger.Info("starting mock backend server",
		"addr", addr, "model", s.state.ModelID())
	return s.router.Run(addr)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
