// Package gateway provides the read-only HTTP surface of insightd: health,
// Prometheus metrics, job status and stored insights. It binds to loopback
// by default.
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/insightd/internal/core"
	"github.com/flemzord/insightd/internal/cron"
	"github.com/flemzord/insightd/internal/insight"
	"github.com/flemzord/insightd/internal/security"
	"github.com/flemzord/insightd/internal/telemetry"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Compile-time interface guards.
var (
	_ core.Module       = (*Gateway)(nil)
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Pinger is the database health probe.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// JobLister reports scheduled job status, including persisted run history.
type JobLister interface {
	Jobs(ctx context.Context) []cron.JobStatus
}

// Gateway is the HTTP gateway module. It is a leaf module; nothing
// imports it.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	// Resolved lazily at Start() via service registry. Any may be nil.
	db       Pinger
	insights insight.Repository
	jobs     JobLister
	metrics  *telemetry.Metrics
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger

	if r, ok := core.ServiceAs[*security.Redactor](ctx, security.ServiceRedactor); ok {
		r.AddLiteral(g.config.Auth.BearerToken)
		r.AddLiteral(g.config.Auth.BasicPass)
	}
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// resolve binds the optional services. Missing ones degrade the
// corresponding endpoints instead of failing Start.
func (g *Gateway) resolve() {
	if db, ok := core.ServiceAs[*sql.DB](g.appCtx, cron.ServiceDatabase); ok {
		g.db = db
	}
	if repo, ok := core.ServiceAs[insight.Repository](g.appCtx, cron.ServiceInsights); ok {
		g.insights = repo
	}
	if jobs, ok := core.ServiceAs[JobLister](g.appCtx, cron.ServiceJobs); ok {
		g.jobs = jobs
	}
	if m, ok := core.ServiceAs[*telemetry.Metrics](g.appCtx, telemetry.ServiceName); ok {
		g.metrics = m
	}
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	g.resolve()
	g.startedAt = time.Now()

	if !g.config.Auth.IsConfigured() && !isLoopback(g.config.Bind) {
		g.logger.Warn("gateway: /api is unauthenticated on a non-loopback address", "bind", g.config.Bind)
	}

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway: listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway: serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway: shutting down")
	return g.server.Shutdown(shutdownCtx)
}

func isLoopback(bind string) bool {
	host, _, err := net.SplitHostPort(bind)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
