package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/model-arena/model-arena/pkg/models"
)

func newChatServer(t *testing.T, reply string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case chatCompletionsPath:
			if status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.NotEmpty(t, req.Messages)

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]string{"role": "assistant", "content": reply}},
				},
			})
		case modelsPath:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func clientFor(srv *httptest.Server) *HTTPClient {
	return NewHTTPClient(models.Backend{
		ID:       "test-backend",
		Name:     "test-model",
		Tier:     models.TierCPU,
		Endpoint: srv.URL,
	})
}

func TestHTTPClient_Generate(t *testing.T) {
	srv := newChatServer(t, "hello from the model", http.StatusOK)
	defer srv.Close()

	c := clientFor(srv)
	resp, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello from the model", resp.Text)
	assert.Equal(t, "test-backend", resp.Backend)
}

func TestHTTPClient_Generate_BadStatus(t *testing.T) {
	srv := newChatServer(t, "", http.StatusInternalServerError)
	defer srv.Close()

	c := clientFor(srv)
	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Error(t, err)

	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, KindBadResponse, ge.Kind)
	assert.Equal(t, http.StatusInternalServerError, ge.StatusCode)
	assert.True(t, IsRetryable(err))
}

func TestHTTPClient_Generate_RateLimitStatus(t *testing.T) {
	srv := newChatServer(t, "", http.StatusTooManyRequests)
	defer srv.Close()

	c := clientFor(srv)
	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
}

func TestHTTPClient_Generate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := clientFor(srv)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestHTTPClient_Generate_Unreachable(t *testing.T) {
	srv := newChatServer(t, "", http.StatusOK)
	srv.Close() // Closed server refuses connections

	c := clientFor(srv)
	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
}

func TestHTTPClient_Generate_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := clientFor(srv)
	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Error(t, err)

	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, KindBadResponse, ge.Kind)
}

func TestHTTPClient_CheckHealth(t *testing.T) {
	srv := newChatServer(t, "", http.StatusOK)
	defer srv.Close()

	c := clientFor(srv)
	assert.NoError(t, c.CheckHealth(context.Background()))
}

func TestHTTPClient_CheckHealth_Down(t *testing.T) {
	srv := newChatServer(t, "", http.StatusOK)
	srv.Close()

	c := clientFor(srv)
	err := c.CheckHealth(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
}

func TestPool(t *testing.T) {
	srv := newChatServer(t, "", http.StatusOK)
	defer srv.Close()

	pool := BuildPool([]models.Backend{
		{ID: "a", Name: "a", Endpoint: srv.URL},
		{ID: "b", Name: "b", Endpoint: srv.URL},
	})

	c, ok := pool.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", c.Name())

	_, ok = pool.Get("missing")
	assert.False(t, ok)

	assert.Len(t, pool.IDs(), 2)
}
