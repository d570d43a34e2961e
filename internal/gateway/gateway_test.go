package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flemzord/insightd/internal/core"
	"github.com/flemzord/insightd/internal/cron"
	"github.com/flemzord/insightd/internal/cron/crontest"
	"github.com/flemzord/insightd/internal/insight"
	"github.com/flemzord/insightd/internal/insight/insighttest"
	"github.com/flemzord/insightd/internal/security"
	"github.com/flemzord/insightd/internal/telemetry"
	"gopkg.in/yaml.v3"
)

func TestGateway_ModuleInfo(t *testing.T) {
	t.Parallel()

	info := (&Gateway{}).ModuleInfo()
	if info.ID != "gateway.http" {
		t.Errorf("ID = %q, want %q", info.ID, "gateway.http")
	}
	if _, ok := info.New().(*Gateway); !ok {
		t.Error("New() should return *Gateway")
	}
}

func TestGateway_ConfigureDefaults(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	if err := g.Configure(mustYAMLNode(t, "{}")); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if g.config.Bind != "127.0.0.1:8080" {
		t.Errorf("Bind = %q, want default", g.config.Bind)
	}
	if g.config.ReadTimeout != 10*time.Second {
		t.Errorf("ReadTimeout = %v, want 10s", g.config.ReadTimeout)
	}
	if g.config.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", g.config.ShutdownTimeout)
	}
	if g.config.HealthTimeout != 2*time.Second {
		t.Errorf("HealthTimeout = %v, want 2s", g.config.HealthTimeout)
	}
}

func TestGateway_ConfigureCustom(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	node := mustYAMLNode(t, `
bind: "0.0.0.0:9090"
read_timeout: 5s
health_timeout: 500ms
auth:
  bearer_token: "my-token"
`)
	if err := g.Configure(node); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if g.config.Bind != "0.0.0.0:9090" {
		t.Errorf("Bind = %q, want custom", g.config.Bind)
	}
	if g.config.Auth.BearerToken != "my-token" {
		t.Errorf("BearerToken = %q", g.config.Auth.BearerToken)
	}
	if g.config.HealthTimeout != 500*time.Millisecond {
		t.Errorf("HealthTimeout = %v", g.config.HealthTimeout)
	}
}

func TestGateway_ProvisionRedactsCredentials(t *testing.T) {
	t.Parallel()

	appCtx := core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir())
	redactor := security.NewRedactor()
	appCtx.RegisterService(security.ServiceRedactor, redactor)

	g := &Gateway{config: Config{Auth: AuthConfig{BearerToken: "gateway-admin-token"}}}
	if err := g.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	if got := redactor.Redact("token gateway-admin-token"); strings.Contains(got, "gateway-admin-token") {
		t.Errorf("bearer token not redacted: %q", got)
	}
}

func TestGateway_Validate(t *testing.T) {
	t.Parallel()

	g := &Gateway{config: Config{Bind: "127.0.0.1:8080"}}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	g.config.Bind = "not a valid address::"
	if err := g.Validate(); err == nil {
		t.Error("expected validation error for bad address")
	}
}

func TestIsLoopback(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:8080":     true,
		"0.0.0.0:8080":   false,
		":8080":          false,
		"garbage":        false,
	}
	for bind, want := range tests {
		if got := isLoopback(bind); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", bind, got, want)
		}
	}
}

// newRoutedGateway builds a gateway with in-memory services and returns
// its router for httptest.
func newRoutedGateway(t *testing.T, auth AuthConfig) (http.Handler, *insighttest.MemoryStore) {
	t.Helper()

	store := insighttest.NewMemoryStore("Fintech", "Health Care")
	err := store.UpdateInsights(context.Background(), "Fintech", insight.Insights{
		GrowthRate:    7.5,
		DemandLevel:   insight.DemandHigh,
		MarketOutlook: insight.OutlookPositive,
		TopSkills:     []string{"Go"},
	}, time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	metrics := telemetry.NewMetrics()
	metrics.ObserveJob("keepalive", time.Millisecond, nil)

	g := &Gateway{
		config:   Config{Auth: auth},
		logger:   slog.New(slog.DiscardHandler),
		db:       fakePinger{},
		insights: store,
		metrics:  metrics,
		jobs: &crontest.MockTriggerer{Statuses: []cron.JobStatus{
			{Name: "keepalive", Schedule: cron.DefaultKeepAliveSchedule},
			{Name: "insights", Schedule: cron.DefaultInsightsSchedule, LastError: "boom"},
		}},
	}
	g.config.defaults()
	return g.buildRouter(), store
}

func get(t *testing.T, h http.Handler, path string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, m := range mutate {
		m(req)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_ListJobs(t *testing.T) {
	t.Parallel()

	h, _ := newRoutedGateway(t, AuthConfig{})
	rr := get(t, h, "/api/jobs")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var jobs []cron.JobStatus
	if err := json.NewDecoder(rr.Body).Decode(&jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(jobs) != 2 || jobs[1].LastError != "boom" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestRouter_ListInsights(t *testing.T) {
	t.Parallel()

	h, _ := newRoutedGateway(t, AuthConfig{})
	rr := get(t, h, "/api/insights")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var records []insight.Record
	if err := json.NewDecoder(rr.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
}

func TestRouter_GetInsight(t *testing.T) {
	t.Parallel()

	h, _ := newRoutedGateway(t, AuthConfig{})

	rr := get(t, h, "/api/insights/Fintech")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var rec insight.Record
	if err := json.NewDecoder(rr.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.GrowthRate != 7.5 || rec.DemandLevel != insight.DemandHigh {
		t.Errorf("record = %+v", rec)
	}
	if want := time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC); !rec.NextUpdate.Equal(want) {
		t.Errorf("nextUpdate = %v, want %v", rec.NextUpdate, want)
	}

	if rr := get(t, h, "/api/insights/Health%20Care"); rr.Code != http.StatusOK {
		t.Errorf("escaped name status = %d, want 200", rr.Code)
	}
	if rr := get(t, h, "/api/insights/Mining"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown industry status = %d, want 404", rr.Code)
	}
}

func TestRouter_InsightsUnavailable(t *testing.T) {
	t.Parallel()

	g := &Gateway{logger: slog.New(slog.DiscardHandler)}
	g.config.defaults()
	h := g.buildRouter()

	if rr := get(t, h, "/api/insights"); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
	if rr := get(t, h, "/api/jobs"); rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("jobs without scheduler = %d %q, want empty list", rr.Code, rr.Body.String())
	}
}

func TestRouter_Metrics(t *testing.T) {
	t.Parallel()

	h, _ := newRoutedGateway(t, AuthConfig{BearerToken: "t"})
	rr := get(t, h, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, metrics must stay public", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `insightd_job_runs_total{job="keepalive",status="ok"} 1`) {
		t.Errorf("metrics output missing job counter:\n%s", rr.Body.String())
	}
}

func TestRouter_APIRequiresAuthWhenConfigured(t *testing.T) {
	t.Parallel()

	h, _ := newRoutedGateway(t, AuthConfig{BearerToken: "test-token"})

	if rr := get(t, h, "/api/jobs"); rr.Code != http.StatusUnauthorized {
		t.Errorf("no-auth status = %d, want 401", rr.Code)
	}
	rr := get(t, h, "/api/jobs", func(r *http.Request) { r.Header.Set("Authorization", "Bearer test-token") })
	if rr.Code != http.StatusOK {
		t.Errorf("auth status = %d, want 200", rr.Code)
	}
	if rr := get(t, h, "/health"); rr.Code != http.StatusOK {
		t.Errorf("/health status = %d, must stay public", rr.Code)
	}
}

// freeAddr returns a free TCP address on localhost.
func freeAddr(t *testing.T) string {
	t.Helper()
	var lc net.ListenConfig
	ln, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatal(err)
	}
	return addr
}

func TestGateway_StartStopResolvesServices(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()
	mock.ExpectPing()

	appCtx := core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir())
	appCtx.RegisterService(cron.ServiceDatabase, db)
	appCtx.RegisterService(cron.ServiceInsights, insight.Repository(insighttest.NewMemoryStore("Fintech")))
	appCtx.RegisterService(cron.ServiceJobs, &crontest.MockTriggerer{})
	appCtx.RegisterService(telemetry.ServiceName, telemetry.NewMetrics())

	addr := freeAddr(t)
	g := &Gateway{}
	if err := g.Configure(mustYAMLNode(t, "bind: "+addr)); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := g.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = g.Stop(context.Background()) }()

	if g.db == nil || g.insights == nil || g.jobs == nil || g.metrics == nil {
		t.Fatalf("services not resolved: %+v", g)
	}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d: %s", resp.StatusCode, body)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGateway_StopNilServer(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	if err := g.Stop(context.Background()); err != nil {
		t.Errorf("Stop on nil server should not error: %v", err)
	}
}

// mustYAMLNode parses YAML text into a *yaml.Node for Configure calls.
func mustYAMLNode(t *testing.T, text string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		t.Fatalf("YAML parse: %v", err)
	}
	if len(node.Content) > 0 {
		return node.Content[0]
	}
	return &node
}
