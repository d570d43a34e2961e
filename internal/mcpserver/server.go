// Package mcpserver exposes stored industry insights and job status as
// Model Context Protocol tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/flemzord/insightd/internal/cron"
	"github.com/flemzord/insightd/internal/insight"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// JobLister reports scheduled job status, including persisted run history.
type JobLister interface {
	Jobs(ctx context.Context) []cron.JobStatus
}

// Server wraps the insight repository as MCP tools.
type Server struct {
	insights insight.Repository
	jobs     JobLister
	logger   *slog.Logger
	server   *server.MCPServer
}

// New creates a server. jobs may be nil, in which case list_jobs is not
// registered.
func New(insights insight.Repository, jobs JobLister, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		insights: insights,
		jobs:     jobs,
		logger:   logger,
		server: server.NewMCPServer(
			"insightd",
			version,
			server.WithToolCapabilities(true),
		),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool("list_industries",
		mcp.WithDescription("List every tracked industry with its outlook and refresh timestamps"),
	), s.handleListIndustries)

	s.server.AddTool(mcp.NewTool("get_industry_insights",
		mcp.WithDescription("Get the full market insights stored for one industry"),
		mcp.WithString("industry",
			mcp.Required(),
			mcp.Description("Industry name exactly as stored, e.g. \"tech-software-development\""),
		),
	), s.handleGetInsights)

	if s.jobs != nil {
		s.server.AddTool(mcp.NewTool("list_jobs",
			mcp.WithDescription("Show the scheduled jobs with their last and next run"),
		), s.handleListJobs)
	}
}

// industrySummary is the compact list_industries row.
type industrySummary struct {
	Industry      string                `json:"industry"`
	MarketOutlook insight.MarketOutlook `json:"marketOutlook,omitempty"`
	DemandLevel   insight.DemandLevel   `json:"demandLevel,omitempty"`
	GrowthRate    float64               `json:"growthRate"`
	LastUpdated   string                `json:"lastUpdated,omitempty"`
	NextUpdate    string                `json:"nextUpdate,omitempty"`
}

func (s *Server) handleListIndustries(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := s.insights.List(ctx)
	if err != nil {
		s.logger.Error("mcp: list industries failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list industries: %v", err)), nil
	}

	rows := make([]industrySummary, 0, len(records))
	for _, r := range records {
		row := industrySummary{
			Industry:      r.Industry,
			MarketOutlook: r.MarketOutlook,
			DemandLevel:   r.DemandLevel,
			GrowthRate:    r.GrowthRate,
		}
		if r.Refreshed() {
			row.LastUpdated = r.LastUpdated.UTC().Format("2006-01-02T15:04:05Z")
			row.NextUpdate = r.NextUpdate.UTC().Format("2006-01-02T15:04:05Z")
		}
		rows = append(rows, row)
	}
	return jsonResult(rows)
}

func (s *Server) handleGetInsights(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	industry, err := request.RequireString("industry")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := s.insights.Get(ctx, industry)
	if errors.Is(err, insight.ErrIndustryNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("Unknown industry %q", industry)), nil
	}
	if err != nil {
		s.logger.Error("mcp: get insights failed", "industry", industry, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load %q: %v", industry, err)), nil
	}
	if !rec.Refreshed() {
		return mcp.NewToolResultText(fmt.Sprintf("No insights generated yet for %q", industry)), nil
	}
	return jsonResult(rec)
}

func (s *Server) handleListJobs(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.jobs.Jobs(ctx))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: encode result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// Serve speaks MCP over the given streams until ctx is cancelled or in
// reaches EOF.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.server).Listen(ctx, in, out)
}
