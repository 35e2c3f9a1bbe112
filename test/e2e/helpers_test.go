package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/model-arena/model-arena/internal/api"
	"github.com/model-arena/model-arena/internal/arena"
	"github.com/model-arena/model-arena/internal/backend"
	"github.com/model-arena/model-arena/internal/fallback"
	"github.com/model-arena/model-arena/internal/health"
	"github.com/model-arena/model-arena/internal/rating"
	"github.com/model-arena/model-arena/internal/registry"
	"github.com/model-arena/model-arena/internal/router"
	"github.com/model-arena/model-arena/internal/scheduler"
	"github.com/model-arena/model-arena/internal/storage"
	"github.com/model-arena/model-arena/pkg/models"
	"github.com/model-arena/model-arena/test/mockbackend"
)

// backendSpec declares one catalog entry served by a mock backend
type backendSpec struct {
	id       string
	tier     models.Tier
	tags     []string
	fallback string
}

// env is a fully wired engine over httptest mock backends
type env struct {
	api     *api.Server
	monitor *health.Monitor
	ratings *rating.Store
	mocks   map[string]*mockbackend.Server
}

type poolProbers struct {
	pool *backend.Pool
}

func (p poolProbers) Prober(backendID string) (health.Prober, bool) {
	return p.pool.Get(backendID)
}

// newEngine wires the whole stack the way the server binary does, with every
// backend served by an in-process mock.
func newEngine(t *testing.T, specs []backendSpec, toolProvider string) *env {
	t.Helper()

	mocks := make(map[string]*mockbackend.Server, len(specs))
	catalog := make([]models.Backend, 0, len(specs))
	for _, spec := range specs {
		mock := mockbackend.NewServer(mockbackend.NewState(spec.id))
		ts := httptest.NewServer(mock)
		t.Cleanup(ts.Close)
		mocks[spec.id] = mock

		catalog = append(catalog, models.Backend{
			ID:         spec.id,
			Name:       spec.id,
			Tier:       spec.tier,
			Endpoint:   ts.URL,
			Tags:       spec.tags,
			FallbackID: spec.fallback,
		})
	}

	db, err := storage.New(filepath.Join(t.TempDir(), "arena.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))

	voteStore := storage.NewVoteStore(db)
	ratingStore := storage.NewRatingStore(db)

	reg := registry.New()
	for _, b := range catalog {
		require.NoError(t, reg.Register(b))
	}

	pool := backend.BuildPool(catalog)
	sched := scheduler.New(2, reg)

	monitor := health.New(reg, poolProbers{pool},
		health.WithProbeInterval(50*time.Millisecond),
		health.WithProbeTimeout(time.Second))

	ratingSvc := rating.New(voteStore, ratingStore)
	require.NoError(t, ratingSvc.Start(ctx))
	t.Cleanup(ratingSvc.Stop)

	policy := fallback.New(reg, sched,
		fallback.WithAcquireBudget(500*time.Millisecond))

	arenaOpts := []arena.Option{
		arena.WithGenerationTimeout(2 * time.Second),
	}
	if toolProvider != "" {
		arenaOpts = append(arenaOpts, arena.WithExcludedBackends(toolProvider))
	}
	arenaMgr := arena.New(reg, policy, pool, voteStore, ratingSvc, arenaOpts...)

	routerOpts := []router.Option{
		router.WithToolTimeout(2 * time.Second),
	}
	if toolProvider != "" {
		routerOpts = append(routerOpts, router.WithToolProvider(toolProvider))
	}
	queryRouter := router.New(arenaMgr, policy, pool, routerOpts...)

	apiSrv := api.New(queryRouter, arenaMgr, reg, ratingSvc, sched)

	e := &env{
		api:     apiSrv,
		monitor: monitor,
		ratings: ratingSvc,
		mocks:   mocks,
	}

	e.monitor.ProbeNow(ctx)
	apiSrv.SetReady(true)

	return e
}

// do issues one request against the engine's HTTP surface
func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.api.Router().ServeHTTP(w, req)
	return w
}

func (e *env) query(t *testing.T, sessionID, prompt string) (models.QueryResponse, *httptest.ResponseRecorder) {
	t.Helper()

	payload, err := json.Marshal(models.QueryRequest{SessionID: sessionID, Prompt: prompt})
	require.NoError(t, err)

	w := e.do(t, http.MethodPost, "/api/v1/queries", string(payload))

	var resp models.QueryResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return resp, w
}

func (e *env) vote(t *testing.T, sessionID, outcome string) (api.VoteReply, *httptest.ResponseRecorder) {
	t.Helper()

	w := e.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/vote",
		`{"outcome":"`+outcome+`"}`)

	var reply api.VoteReply
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	}
	return reply, w
}

// standings polls the leaderboard until every listed model has played at
// least minGames games. The rating applier is asynchronous, so fresh votes
// take a moment to land.
func (e *env) standings(t *testing.T, minModels, minGames int) []*models.Rating {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		w := e.do(t, http.MethodGet, "/api/v1/standings", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Standings []*models.Rating `json:"standings"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

		if len(resp.Standings) >= minModels {
			ready := true
			for _, r := range resp.Standings {
				if r.Games < minGames {
					ready = false
					break
				}
			}
			if ready {
				return resp.Standings
			}
		}

		if time.Now().After(deadline) {
			t.Fatalf("standings never reached %d models with %d games: %+v",
				minModels, minGames, resp.Standings)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// probeUntilUnreachable runs probe cycles until the failure threshold trips
func (e *env) probeUntilUnreachable(t *testing.T, cycles int) {
	t.Helper()

	ctx := context.Background()
	for i := 0; i < cycles; i++ {
		e.monitor.ProbeNow(ctx)
	}
}
