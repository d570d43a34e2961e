package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/flemzord/insightd/internal/core"
	"github.com/flemzord/insightd/internal/insight"
	"github.com/flemzord/insightd/internal/workflow"
)

func newTestModule(t *testing.T, seed ...string) (*Module, *core.AppContext) {
	t.Helper()

	dir := t.TempDir()
	m := &Module{
		config: Config{
			Path:        filepath.Join(dir, "test.db"),
			BusyTimeout: defaultBusyTimeout,
			Seed:        seed,
		},
	}
	m.config.defaults()

	ctx := core.NewAppContext(slog.New(slog.DiscardHandler), dir)

	if err := m.Provision(ctx); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	t.Cleanup(func() {
		_ = m.Stop(context.Background())
	})

	return m, ctx
}

func sampleInsights() insight.Insights {
	return insight.Insights{
		SalaryRanges: []insight.SalaryRange{
			{Role: "Nurse", Min: 50000, Max: 90000, Median: 70000, Location: "US"},
		},
		GrowthRate:        4.2,
		DemandLevel:       insight.DemandHigh,
		TopSkills:         []string{"Patient care"},
		MarketOutlook:     insight.OutlookNeutral,
		KeyTrends:         []string{"Telehealth"},
		RecommendedSkills: []string{"EHR systems"},
	}
}

// --- insight repository tests ---

func TestModule_RegistersServices(t *testing.T) {
	_, ctx := newTestModule(t)
	for _, name := range []string{ServiceDatabase, ServiceInsights, ServiceWorkflow} {
		if _, ok := ctx.Service(name); !ok {
			t.Errorf("service %q not registered", name)
		}
	}
	if _, ok := core.ServiceAs[insight.Store](ctx, ServiceInsights); !ok {
		t.Error("store.insights does not satisfy insight.Store")
	}
	if _, ok := core.ServiceAs[workflow.Store](ctx, ServiceWorkflow); !ok {
		t.Error("workflow.store does not satisfy workflow.Store")
	}
}

func TestInsights_SeedAndList(t *testing.T) {
	m, _ := newTestModule(t, "Technology", "Healthcare")
	ctx := context.Background()

	names, err := m.insights.ListIndustries(ctx)
	if err != nil {
		t.Fatalf("ListIndustries: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"Healthcare", "Technology"}) {
		t.Errorf("industries = %v", names)
	}

	rec, err := m.insights.Get(ctx, "Technology")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Refreshed() {
		t.Error("fresh record reported as refreshed")
	}
	if len(rec.TopSkills) != 0 {
		t.Errorf("top skills = %v, want empty", rec.TopSkills)
	}
}

func TestInsights_CreateDuplicate(t *testing.T) {
	m, _ := newTestModule(t, "Technology")
	err := m.insights.Create(context.Background(), "Technology")
	if !errors.Is(err, insight.ErrIndustryExists) {
		t.Fatalf("err = %v, want ErrIndustryExists", err)
	}
	if err := m.insights.Create(context.Background(), "  "); err == nil {
		t.Fatal("blank industry should be rejected")
	}
}

func TestInsights_UpdateRoundTrip(t *testing.T) {
	m, _ := newTestModule(t, "Healthcare")
	ctx := context.Background()

	last := time.Date(2026, 3, 1, 0, 0, 0, 123, time.UTC)
	next := last.Add(7 * 24 * time.Hour)
	in := sampleInsights()

	if err := m.insights.UpdateInsights(ctx, "Healthcare", in, last, next); err != nil {
		t.Fatalf("UpdateInsights: %v", err)
	}

	rec, err := m.insights.Get(ctx, "Healthcare")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(rec.Insights, in) {
		t.Errorf("insights = %+v, want %+v", rec.Insights, in)
	}
	if !rec.LastUpdated.Equal(last) || !rec.NextUpdate.Equal(next) {
		t.Errorf("timestamps = %v / %v", rec.LastUpdated, rec.NextUpdate)
	}
}

func TestInsights_UpdateUnknownIndustry(t *testing.T) {
	m, _ := newTestModule(t)
	err := m.insights.UpdateInsights(context.Background(), "Mining", sampleInsights(), time.Now(), time.Now())
	if !errors.Is(err, insight.ErrIndustryNotFound) {
		t.Fatalf("err = %v, want ErrIndustryNotFound", err)
	}
}

func TestInsights_GetUnknown(t *testing.T) {
	m, _ := newTestModule(t)
	_, err := m.insights.Get(context.Background(), "Mining")
	if !errors.Is(err, insight.ErrIndustryNotFound) {
		t.Fatalf("err = %v, want ErrIndustryNotFound", err)
	}
}

func TestInsights_List(t *testing.T) {
	m, _ := newTestModule(t, "B", "A")
	ctx := context.Background()
	if err := m.insights.UpdateInsights(ctx, "B", sampleInsights(), time.Now(), time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	recs, err := m.insights.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 || recs[0].Industry != "A" || recs[1].Industry != "B" {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].Refreshed() || !recs[1].Refreshed() {
		t.Error("refreshed flags wrong")
	}
}

// --- workflow store tests ---

func TestWorkflowStore_Lifecycle(t *testing.T) {
	m, _ := newTestModule(t)
	ctx := context.Background()
	s := m.workflow

	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2"} {
		run := workflow.RunRecord{ID: id, Workflow: "wf", State: workflow.StateRunning, StartedAt: t0.Add(time.Duration(i) * time.Minute), Owner: "daemon"}
		if err := s.CreateRun(ctx, run, t0); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	latest, ok, err := s.LatestRun(ctx, "wf")
	if err != nil || !ok {
		t.Fatalf("LatestRun: ok=%v err=%v", ok, err)
	}
	if latest.ID != "r2" || !latest.StartedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("latest = %+v", latest)
	}

	if _, ok, _ := s.LatestRun(ctx, "other"); ok {
		t.Error("unknown workflow should have no runs")
	}

	if err := s.SaveStep(ctx, "r2", "fetch", []byte(`["a"]`), t0); err != nil {
		t.Fatalf("SaveStep: %v", err)
	}
	out, ok, err := s.LoadStep(ctx, "r2", "fetch")
	if err != nil || !ok || string(out) != `["a"]` {
		t.Errorf("LoadStep = %s ok=%v err=%v", out, ok, err)
	}
	if _, ok, _ := s.LoadStep(ctx, "r1", "fetch"); ok {
		t.Error("step leaked across runs")
	}

	if err := s.FinishRun(ctx, "r2", "cli", workflow.StateCompleted, "", t0.Add(time.Hour)); !errors.Is(err, workflow.ErrLeaseLost) {
		t.Errorf("FinishRun(other owner) = %v, want ErrLeaseLost", err)
	}
	if err := s.FinishRun(ctx, "r2", "daemon", workflow.StateFailed, "boom", t0.Add(time.Hour)); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if err := s.FinishRun(ctx, "missing", "daemon", workflow.StateCompleted, "", t0); !errors.Is(err, workflow.ErrRunNotFound) {
		t.Errorf("FinishRun(missing) = %v, want ErrRunNotFound", err)
	}

	runs, err := s.ListRuns(ctx, "wf", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r2" || runs[0].State != workflow.StateFailed || runs[0].Error != "boom" {
		t.Errorf("runs = %+v", runs)
	}
	if !runs[1].FinishedAt.IsZero() {
		t.Error("unfinished run has a finish time")
	}
}

func TestWorkflowStore_LeaseOwnership(t *testing.T) {
	m, _ := newTestModule(t)
	ctx := context.Background()
	s := m.workflow

	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	lease := time.Minute
	daemon := workflow.RunRecord{ID: "daemon-run", Workflow: "generate-industry-insights", State: workflow.StateRunning, StartedAt: t0, Owner: "daemon", HeartbeatAt: t0}
	if err := s.CreateRun(ctx, daemon, t0.Add(-lease)); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	// A second process cannot start the workflow while the lease is live.
	now := t0.Add(30 * time.Second)
	cli := workflow.RunRecord{ID: "cli-run", Workflow: "generate-industry-insights", State: workflow.StateRunning, StartedAt: now, Owner: "cli", HeartbeatAt: now}
	if err := s.CreateRun(ctx, cli, now.Add(-lease)); !errors.Is(err, workflow.ErrRunInProgress) {
		t.Fatalf("CreateRun during live lease = %v, want ErrRunInProgress", err)
	}
	if ok, err := s.ClaimRun(ctx, "daemon-run", "cli", now.Add(-lease), now); err != nil || ok {
		t.Fatalf("ClaimRun on live lease = %v, %v; want false", ok, err)
	}

	// Heartbeats keep the lease; only the owner may renew it.
	if err := s.Heartbeat(ctx, "daemon-run", "daemon", now); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if err := s.Heartbeat(ctx, "daemon-run", "cli", now); !errors.Is(err, workflow.ErrLeaseLost) {
		t.Errorf("Heartbeat(other owner) = %v, want ErrLeaseLost", err)
	}

	// Once the lease lapses the run can be claimed, exactly once.
	now = now.Add(2 * lease)
	if ok, err := s.ClaimRun(ctx, "daemon-run", "cli", now.Add(-lease), now); err != nil || !ok {
		t.Fatalf("ClaimRun on expired lease = %v, %v; want true", ok, err)
	}
	if ok, _ := s.ClaimRun(ctx, "daemon-run", "third", now.Add(-lease), now); ok {
		t.Error("claimed run was claimed again")
	}
	latest, _, err := s.LatestRun(ctx, "generate-industry-insights")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Owner != "cli" || !latest.HeartbeatAt.Equal(now) {
		t.Errorf("latest = %+v, want owned by cli at %v", latest, now)
	}
	if err := s.Heartbeat(ctx, "daemon-run", "daemon", now); !errors.Is(err, workflow.ErrLeaseLost) {
		t.Errorf("Heartbeat(previous owner) = %v, want ErrLeaseLost", err)
	}
}

func TestWorkflowStore_ResumeThroughEngine(t *testing.T) {
	m, _ := newTestModule(t)

	// The first engine dies mid-run an hour ago.
	crashedAt := time.Now().Add(-time.Hour)
	crashed := workflow.NewEngine(m.workflow, workflow.Config{
		Logger: slog.New(slog.DiscardHandler),
		Now:    func() time.Time { return crashedAt },
	})
	ctx, die := context.WithCancel(context.Background())
	ctx, run, err := crashed.Begin(ctx, "wf")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := workflow.Step(ctx, run, "one", func(context.Context) (int, error) { return 1, nil }); err != nil {
		t.Fatal(err)
	}
	die()

	engine := workflow.NewEngine(m.workflow, workflow.Config{Logger: slog.New(slog.DiscardHandler)})
	ctx, resumed, err := engine.Begin(context.Background(), "wf")
	if err != nil {
		t.Fatal(err)
	}
	if !resumed.Resumed() || resumed.ID() != run.ID() {
		t.Fatalf("expected to resume %s", run.ID())
	}
	got, err := workflow.Step(ctx, resumed, "one", func(context.Context) (int, error) {
		t.Fatal("completed step re-executed")
		return 0, nil
	})
	if err != nil || got != 1 {
		t.Errorf("replayed = %d, %v", got, err)
	}
	if err := resumed.Finish(ctx, nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := run.Finish(context.Background(), nil); !errors.Is(err, workflow.ErrLeaseLost) {
		t.Errorf("Finish by crashed owner = %v, want ErrLeaseLost", err)
	}
}

func TestMigrate_AddsLeaseColumnsToVersion1(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "v1.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	// Lay down a version 1 database with an unfinished run.
	for _, stmt := range append([]string{"CREATE TABLE schema_version (version INTEGER PRIMARY KEY)"}, schemaStatements...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx,
		"INSERT INTO workflow_runs (id, workflow, state, started_at) VALUES ('old', 'keep-database-awake', 'running', ?)",
		formatTime(time.Now().Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}

	if err := migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := &workflowStore{db: db}
	latest, ok, err := s.LatestRun(ctx, "keep-database-awake")
	if err != nil || !ok {
		t.Fatalf("LatestRun = %v, %v", ok, err)
	}
	if latest.Owner != "" || !latest.HeartbeatAt.IsZero() {
		t.Errorf("migrated run = %+v, want no owner", latest)
	}
	// A run from before leases existed is claimable.
	now := time.Now()
	if ok, err := s.ClaimRun(ctx, "old", "daemon", now.Add(-time.Minute), now); err != nil || !ok {
		t.Errorf("ClaimRun(pre-lease run) = %v, %v", ok, err)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "insightd.db")
	ctx := context.Background()

	db, err := Open(ctx, path, true, defaultBusyTimeout)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := NewInsightRepository(db).Create(ctx, "Energy"); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	db, err = Open(ctx, path, true, defaultBusyTimeout)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = db.Close() }()

	names, err := NewInsightRepository(db).ListIndustries(ctx)
	if err != nil || len(names) != 1 || names[0] != "Energy" {
		t.Errorf("names = %v, err = %v", names, err)
	}
}

func TestConfig_Validate(t *testing.T) {
	c := Config{BusyTimeout: -1}
	if err := c.validate(); err == nil {
		t.Error("negative busy_timeout should fail")
	}
	c = Config{Seed: []string{""}}
	if err := c.validate(); err == nil {
		t.Error("empty seed should fail")
	}
}
