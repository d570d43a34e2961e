// Package sqlite implements the store.sqlite module: industry insight
// records and workflow checkpoints in a single SQLite database. It uses
// modernc.org/sqlite (pure Go, no CGO) with WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/flemzord/insightd/internal/core"
	"github.com/flemzord/insightd/internal/insight"
	"github.com/flemzord/insightd/internal/workflow"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Service names registered by the module.
const (
	ServiceDatabase = "store.database"
	ServiceInsights = "store.insights"
	ServiceWorkflow = "workflow.store"
)

// Compile-time interface guards.
var (
	_ insight.Repository = (*insightStore)(nil)
	_ workflow.Store     = (*workflowStore)(nil)
	_ core.Configurable  = (*Module)(nil)
	_ core.Provisioner   = (*Module)(nil)
	_ core.Validator     = (*Module)(nil)
	_ core.Stopper       = (*Module)(nil)
)

// Module owns the database handle and registers the insight repository,
// the workflow store, and the raw *sql.DB as services.
type Module struct {
	config   Config
	db       *sql.DB
	logger   *slog.Logger
	insights *insightStore
	workflow *workflowStore
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	db, err := Open(context.TODO(), m.config.Path, m.config.walEnabled(), m.config.BusyTimeout)
	if err != nil {
		return err
	}

	m.db = db
	m.insights = &insightStore{db: db}
	m.workflow = &workflowStore{db: db}

	for _, name := range m.config.Seed {
		if err := m.insights.Create(context.TODO(), name); err != nil && !errors.Is(err, insight.ErrIndustryExists) {
			_ = db.Close()
			return err
		}
	}

	ctx.RegisterService(ServiceDatabase, db)
	ctx.RegisterService(ServiceInsights, insight.Repository(m.insights))
	ctx.RegisterService(ServiceWorkflow, workflow.Store(m.workflow))

	m.logger.Info("sqlite store provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
	)

	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}

	if err := m.db.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.db == nil {
		return nil
	}
	m.logger.Info("sqlite store stopping")
	return m.db.Close()
}

// Insights returns the insight repository.
func (m *Module) Insights() insight.Repository {
	return m.insights
}

// Workflow returns the workflow store.
func (m *Module) Workflow() workflow.Store {
	return m.workflow
}

// NewInsightRepository wraps an already-open database.
func NewInsightRepository(db *sql.DB) insight.Repository {
	return &insightStore{db: db}
}

// NewWorkflowStore wraps an already-open database.
func NewWorkflowStore(db *sql.DB) workflow.Store {
	return &workflowStore{db: db}
}
