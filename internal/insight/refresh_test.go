package insight_test

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/insightd/internal/insight"
	"github.com/flemzord/insightd/internal/insight/insighttest"
	"github.com/flemzord/insightd/internal/provider"
	"github.com/flemzord/insightd/internal/provider/providertest"
	"github.com/flemzord/insightd/internal/workflow"
)

var fixedNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newRefresher(store insight.Store, p provider.Provider, wf workflow.Store) *insight.Refresher {
	logger := slog.New(slog.DiscardHandler)
	return &insight.Refresher{
		Store:    store,
		Provider: p,
		Engine:   workflow.NewEngine(wf, workflow.Config{Logger: logger, Now: func() time.Time { return fixedNow }}),
		Logger:   logger,
		Now:      func() time.Time { return fixedNow },
	}
}

func TestRefresher_UpdatesEveryIndustry(t *testing.T) {
	t.Parallel()

	store := insighttest.NewMemoryStore("Technology", "Healthcare")
	model := &providertest.MockProvider{CompleteFunc: providertest.Text(insighttest.ValidJSON)}
	r := newRefresher(store, model, workflow.NewMemoryStore())

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if model.Calls() != 2 {
		t.Errorf("model calls = %d, want 2", model.Calls())
	}
	if len(store.Updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(store.Updates))
	}
	want, _ := insight.ParseInsights(insighttest.ValidJSON)
	for i, industry := range []string{"Technology", "Healthcare"} {
		u := store.Updates[i]
		if u.Industry != industry {
			t.Errorf("update %d industry = %q, want %q", i, u.Industry, industry)
		}
		if !reflect.DeepEqual(u.Insights, want) {
			t.Errorf("update %d insights differ from parsed payload", i)
		}
		if !u.LastUpdated.Equal(fixedNow) {
			t.Errorf("lastUpdated = %v, want %v", u.LastUpdated, fixedNow)
		}
		if got := u.NextUpdate.Sub(u.LastUpdated); got != 7*24*time.Hour {
			t.Errorf("nextUpdate - lastUpdated = %v, want 168h", got)
		}
	}
	if !strings.Contains(model.Requests[1].Messages[0].Content, "Healthcare industry") {
		t.Error("second prompt does not name Healthcare")
	}
}

func TestRefresher_FencedResponse(t *testing.T) {
	t.Parallel()

	store := insighttest.NewMemoryStore("Technology")
	model := &providertest.MockProvider{CompleteFunc: providertest.Text(insighttest.FencedJSON)}
	r := newRefresher(store, model, workflow.NewMemoryStore())

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.UpdateCount() != 1 {
		t.Fatalf("updates = %d, want 1", store.UpdateCount())
	}
}

func TestRefresher_MalformedResponseSkipsUpdate(t *testing.T) {
	t.Parallel()

	store := insighttest.NewMemoryStore("Technology", "Healthcare")
	model := &providertest.MockProvider{
		CompleteFunc: func(_ context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
			if strings.Contains(req.Messages[0].Content, "Technology industry") {
				return provider.CompletionResponse{Content: "I cannot answer that."}, nil
			}
			return provider.CompletionResponse{Content: insighttest.ValidJSON}, nil
		},
	}
	r := newRefresher(store, model, workflow.NewMemoryStore())

	err := r.Run(context.Background())
	if !errors.Is(err, insight.ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
	if !strings.Contains(err.Error(), `"Technology"`) {
		t.Errorf("error %q does not name the failed industry", err)
	}
	if len(store.Updates) != 1 || store.Updates[0].Industry != "Healthcare" {
		t.Errorf("updates = %+v, want only Healthcare", store.Updates)
	}
}

func TestRefresher_AbortOnError(t *testing.T) {
	t.Parallel()

	store := insighttest.NewMemoryStore("Technology", "Healthcare")
	model := &providertest.MockProvider{CompleteFunc: providertest.Text("not json")}
	r := newRefresher(store, model, workflow.NewMemoryStore())
	r.AbortOnError = true

	err := r.Run(context.Background())
	if !errors.Is(err, insight.ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
	if model.Calls() != 1 {
		t.Errorf("model calls = %d, want 1 (batch aborted)", model.Calls())
	}
	if store.UpdateCount() != 0 {
		t.Errorf("updates = %d, want 0", store.UpdateCount())
	}
}

func TestRefresher_EmptyIndustryList(t *testing.T) {
	t.Parallel()

	store := insighttest.NewMemoryStore()
	model := &providertest.MockProvider{CompleteFunc: providertest.Text(insighttest.ValidJSON)}
	r := newRefresher(store, model, workflow.NewMemoryStore())

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if model.Calls() != 0 || store.UpdateCount() != 0 {
		t.Errorf("calls=%d updates=%d, want 0/0", model.Calls(), store.UpdateCount())
	}
}

func TestRefresher_Idempotent(t *testing.T) {
	t.Parallel()

	store := insighttest.NewMemoryStore("Technology")
	model := &providertest.MockProvider{CompleteFunc: providertest.Text(insighttest.ValidJSON)}
	r := newRefresher(store, model, workflow.NewMemoryStore())

	now := fixedNow
	r.Now = func() time.Time { return now }

	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	first, _ := store.Get(context.Background(), "Technology")

	now = now.Add(7 * 24 * time.Hour)
	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	second, _ := store.Get(context.Background(), "Technology")

	if model.Calls() != 2 {
		t.Errorf("model calls = %d, want 2 (second run is a fresh run)", model.Calls())
	}
	if !reflect.DeepEqual(first.Insights, second.Insights) {
		t.Error("insight fields changed between identical runs")
	}
	if !second.LastUpdated.After(first.LastUpdated) {
		t.Error("lastUpdated did not advance")
	}
}

func TestRefresher_ModelErrorIsolated(t *testing.T) {
	t.Parallel()

	store := insighttest.NewMemoryStore("Technology", "Healthcare")
	model := &providertest.MockProvider{
		CompleteFunc: func(_ context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
			if strings.Contains(req.Messages[0].Content, "Technology industry") {
				return provider.CompletionResponse{}, provider.ErrProviderDown
			}
			return provider.CompletionResponse{Content: insighttest.ValidJSON}, nil
		},
	}
	r := newRefresher(store, model, workflow.NewMemoryStore())

	err := r.Run(context.Background())
	if !errors.Is(err, provider.ErrProviderDown) {
		t.Fatalf("err = %v, want ErrProviderDown", err)
	}
	if store.UpdateCount() != 1 {
		t.Errorf("updates = %d, want 1", store.UpdateCount())
	}
}

func TestRefresher_ListErrorFailsRun(t *testing.T) {
	t.Parallel()

	store := insighttest.NewMemoryStore("Technology")
	store.ListErr = errors.New("connection refused")
	model := &providertest.MockProvider{CompleteFunc: providertest.Text(insighttest.ValidJSON)}
	wf := workflow.NewMemoryStore()
	r := newRefresher(store, model, wf)

	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	latest, ok, _ := wf.LatestRun(context.Background(), insight.WorkflowName)
	if !ok || latest.State != workflow.StateFailed {
		t.Errorf("run = %+v, want failed", latest)
	}
}

func TestRefresher_ResumeSkipsCompletedSteps(t *testing.T) {
	t.Parallel()

	store := insighttest.NewMemoryStore("Technology", "Healthcare")
	wf := workflow.NewMemoryStore()

	// Simulate a crash an hour ago, after Technology was generated and
	// updated: the run stays "running" with the first industry's steps
	// checkpointed and its lease lapses.
	ctx, die := context.WithCancel(context.Background())
	crashedAt := fixedNow.Add(-time.Hour)
	engine := workflow.NewEngine(wf, workflow.Config{Logger: slog.New(slog.DiscardHandler), Now: func() time.Time { return crashedAt }})
	ctx, run, err := engine.Begin(ctx, insight.WorkflowName)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = workflow.Step(ctx, run, "fetch-industries", func(context.Context) ([]string, error) {
		return []string{"Technology", "Healthcare"}, nil
	})
	_, _ = workflow.Step(ctx, run, "generate:Technology", func(context.Context) (string, error) {
		return insighttest.ValidJSON, nil
	})
	_, _ = workflow.Step(ctx, run, "update:Technology", func(context.Context) (insight.Timestamps, error) {
		return insight.Timestamps{LastUpdated: fixedNow, NextUpdate: fixedNow.Add(insight.DefaultRefreshInterval)}, nil
	})
	die()

	model := &providertest.MockProvider{CompleteFunc: providertest.Text(insighttest.ValidJSON)}
	r := newRefresher(store, model, wf)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if model.Calls() != 1 {
		t.Errorf("model calls = %d, want 1 (Technology replayed)", model.Calls())
	}
	if len(store.Updates) != 1 || store.Updates[0].Industry != "Healthcare" {
		t.Errorf("updates = %+v, want only Healthcare", store.Updates)
	}
	latest, _, _ := wf.LatestRun(context.Background(), insight.WorkflowName)
	if latest.ID != run.ID() || latest.State != workflow.StateCompleted {
		t.Errorf("latest run = %+v, want %s completed", latest, run.ID())
	}
}

func TestRefresher_ConcurrentRunIsRefused(t *testing.T) {
	t.Parallel()

	store := insighttest.NewMemoryStore("Technology")
	wf := workflow.NewMemoryStore()

	entered := make(chan struct{})
	release := make(chan struct{})
	daemonModel := &providertest.MockProvider{
		CompleteFunc: func(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
			close(entered)
			<-release
			return providertest.Text(insighttest.ValidJSON)(ctx, req)
		},
	}
	daemon := newRefresher(store, daemonModel, wf)

	done := make(chan error, 1)
	go func() { done <- daemon.Run(context.Background()) }()
	<-entered

	// A second process, e.g. "insightd run insights" while the daemon is
	// mid-refresh, shares the database but not the daemon's job locks.
	cliModel := &providertest.MockProvider{CompleteFunc: providertest.Text(insighttest.ValidJSON)}
	cli := newRefresher(store, cliModel, wf)
	if err := cli.Run(context.Background()); !errors.Is(err, workflow.ErrRunInProgress) {
		t.Fatalf("concurrent Run = %v, want ErrRunInProgress", err)
	}
	if cliModel.Calls() != 0 {
		t.Errorf("concurrent run called the model %d times", cliModel.Calls())
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("daemon Run: %v", err)
	}
	runs, _ := wf.ListRuns(context.Background(), insight.WorkflowName, 0)
	if len(runs) != 1 || runs[0].State != workflow.StateCompleted {
		t.Errorf("runs = %+v, want one completed run", runs)
	}
	if store.UpdateCount() != 1 {
		t.Errorf("updates = %d, want 1", store.UpdateCount())
	}
}
