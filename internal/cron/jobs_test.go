package cron

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flemzord/insightd/internal/insight"
	"github.com/flemzord/insightd/internal/insight/insighttest"
	"github.com/flemzord/insightd/internal/provider/providertest"
	"github.com/flemzord/insightd/internal/workflow"
)

func newMockDB(t *testing.T) (*KeepAliveJob, sqlmock.Sqlmock, *bytes.Buffer) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	job := &KeepAliveJob{
		DB:     db,
		Engine: workflow.NewEngine(workflow.NewMemoryStore(), workflow.Config{Logger: logger}),
		Logger: logger,
	}
	return job, mock, &logs
}

func TestKeepAliveJob_NameAndSchedule(t *testing.T) {
	t.Parallel()
	j := &KeepAliveJob{}
	if j.Name() != "keepalive" {
		t.Errorf("name = %q, want keepalive", j.Name())
	}
	if j.Schedule() != "0 0 */6 * *" {
		t.Errorf("schedule = %q, want %q", j.Schedule(), "0 0 */6 * *")
	}
	j.ScheduleExpr = "@daily"
	if j.Schedule() != "@daily" {
		t.Errorf("schedule override ignored: %q", j.Schedule())
	}
}

func TestKeepAliveJob_IssuesOneQuery(t *testing.T) {
	t.Parallel()

	job, mock, logs := newMockDB(t)
	mock.ExpectQuery("SELECT 1 AS ping").
		WillReturnRows(sqlmock.NewRows([]string{"ping"}).AddRow(1))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
	if !strings.Contains(logs.String(), "database ping successful") || !strings.Contains(logs.String(), "result=1") {
		t.Errorf("ping result not logged: %s", logs.String())
	}
}

func TestKeepAliveJob_QueryErrorPropagates(t *testing.T) {
	t.Parallel()

	job, mock, _ := newMockDB(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT 1 AS ping").WillReturnError(boom)

	err := job.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	latest, _, _ := job.Engine.Store().LatestRun(context.Background(), KeepAliveWorkflow)
	if latest.State != workflow.StateFailed {
		t.Errorf("run state = %s, want failed", latest.State)
	}
}

func TestInsightRefreshJob(t *testing.T) {
	t.Parallel()

	store := insighttest.NewMemoryStore("Technology", "Healthcare")
	model := &providertest.MockProvider{CompleteFunc: providertest.Text(insighttest.FencedJSON)}
	logger := slog.New(slog.DiscardHandler)
	job := &InsightRefreshJob{Refresher: &insight.Refresher{
		Store:    store,
		Provider: model,
		Engine:   workflow.NewEngine(workflow.NewMemoryStore(), workflow.Config{Logger: logger}),
		Logger:   logger,
	}}

	if job.Name() != "insights" || job.Schedule() != "0 0 * * 0" {
		t.Errorf("name/schedule = %q/%q", job.Name(), job.Schedule())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.UpdateCount() != 2 {
		t.Errorf("updates = %d, want 2", store.UpdateCount())
	}
}
