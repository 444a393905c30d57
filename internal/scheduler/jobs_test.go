package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottwelch968/Spork-V2-sub003/internal/action"
	"github.com/scottwelch968/Spork-V2-sub003/internal/batch"
	"github.com/scottwelch968/Spork-V2-sub003/internal/callback"
	"github.com/scottwelch968/Spork-V2-sub003/internal/db"
	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
	"github.com/scottwelch968/Spork-V2-sub003/internal/processor"
	"github.com/scottwelch968/Spork-V2-sub003/internal/prompt"
	"github.com/scottwelch968/Spork-V2-sub003/internal/queue"
	"github.com/scottwelch968/Spork-V2-sub003/internal/router"
)

type stubProvider struct{}

func (stubProvider) Complete(_ context.Context, _ []model.Message, modelID string) (*model.CompletionResult, error) {
	return &model.CompletionResult{Text: "ok", Model: modelID}, nil
}

func (s stubProvider) CompleteStream(ctx context.Context, messages []model.Message, modelID string, _ func(string)) (*model.CompletionResult, error) {
	return s.Complete(ctx, messages, modelID)
}

func TestQueuePassJob_DrainsQueue(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	store.SeedModels([]model.ModelCandidate{{ID: "gpt-4o-mini", Provider: "openai", Active: true}})

	q := queue.NewService(store, queue.Options{})
	id, err := q.Enqueue(ctx, model.ChatPayload{Content: "hello"}, queue.EnqueueOptions{})
	require.NoError(t, err)

	j := &QueuePassJob{Processor: processor.New(processor.Config{
		Store:    store,
		Queue:    q,
		Batches:  batch.NewCoordinator(store, batch.Options{}),
		Resolver: action.NewResolver(store, time.Minute),
		Router:   router.New(store),
		Enhancer: &prompt.Enhancer{},
		Provider: stubProvider{},
		Notifier: callback.NewNotifier(),
	})}
	assert.Equal(t, "queue_pass", j.Name())
	require.NoError(t, j.Run(ctx))

	req, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, req.Status)
}

type countingRefresher struct{ calls int }

func (c *countingRefresher) RefreshCache() { c.calls++ }

func TestMappingRefreshJob(t *testing.T) {
	r := &countingRefresher{}
	j := &MappingRefreshJob{Resolver: r}
	assert.Equal(t, "mapping_refresh", j.Name())
	require.NoError(t, j.Run(context.Background()))
	assert.Equal(t, 1, r.calls)
}

func TestHealthCheckJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	j := &HealthCheckJob{
		Endpoints: []string{srv.URL},
		Client:    srv.Client(),
	}
	assert.Equal(t, "health_check", j.Name())
	require.NoError(t, j.Run(context.Background()))
}

func TestHealthCheckJob_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	j := &HealthCheckJob{
		Endpoints: []string{srv.URL},
		Client:    srv.Client(),
	}
	require.NoError(t, j.Run(context.Background()))
}

func TestHealthCheckJob_Unreachable(t *testing.T) {
	j := &HealthCheckJob{
		Endpoints: []string{"http://127.0.0.1:1"},
		Client:    &http.Client{Timeout: 100 * time.Millisecond},
	}
	require.NoError(t, j.Run(context.Background()))
}
