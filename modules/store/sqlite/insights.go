package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flemzord/insightd/internal/insight"
)

// insightStore implements insight.Repository backed by SQLite.
type insightStore struct {
	db *sql.DB
}

const selectRecord = `SELECT industry, salary_ranges, growth_rate, demand_level, top_skills,
	market_outlook, key_trends, recommended_skills, last_updated, next_update
	FROM industry_insights`

// ListIndustries implements insight.Store.
func (s *insightStore) ListIndustries(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT industry FROM industry_insights ORDER BY industry")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list industries: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: scan industry: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpdateInsights implements insight.Store.
func (s *insightStore) UpdateInsights(ctx context.Context, industry string, in insight.Insights, lastUpdated, nextUpdate time.Time) error {
	salaries, err := json.Marshal(in.SalaryRanges)
	if err != nil {
		return fmt.Errorf("sqlite: encode salary ranges: %w", err)
	}
	top, err := encodeList(in.TopSkills)
	if err != nil {
		return err
	}
	trends, err := encodeList(in.KeyTrends)
	if err != nil {
		return err
	}
	recommended, err := encodeList(in.RecommendedSkills)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE industry_insights SET
			salary_ranges = ?, growth_rate = ?, demand_level = ?, top_skills = ?,
			market_outlook = ?, key_trends = ?, recommended_skills = ?,
			last_updated = ?, next_update = ?
		WHERE industry = ?`,
		string(salaries), in.GrowthRate, string(in.DemandLevel), top,
		string(in.MarketOutlook), trends, recommended,
		nullTime(lastUpdated), nullTime(nextUpdate),
		industry,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update %q: %w", industry, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update %q: %w", industry, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", insight.ErrIndustryNotFound, industry)
	}
	return nil
}

// Get implements insight.Repository.
func (s *insightStore) Get(ctx context.Context, industry string) (insight.Record, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+" WHERE industry = ?", industry)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return insight.Record{}, fmt.Errorf("%w: %q", insight.ErrIndustryNotFound, industry)
	}
	return rec, err
}

// List implements insight.Repository.
func (s *insightStore) List(ctx context.Context) ([]insight.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+" ORDER BY industry")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list records: %w", err)
	}
	defer rows.Close()

	var out []insight.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Create implements insight.Repository.
func (s *insightStore) Create(ctx context.Context, industry string) error {
	industry = strings.TrimSpace(industry)
	if industry == "" {
		return errors.New("sqlite: industry name is required")
	}
	res, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO industry_insights (industry) VALUES (?)", industry)
	if err != nil {
		return fmt.Errorf("sqlite: create %q: %w", industry, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", insight.ErrIndustryExists, industry)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (insight.Record, error) {
	var (
		rec                                insight.Record
		salaries, top, trends, recommended string
		demand, outlook                    string
		lastUpdated, nextUpdate            sql.NullString
	)
	if err := sc.Scan(&rec.Industry, &salaries, &rec.GrowthRate, &demand, &top,
		&outlook, &trends, &recommended, &lastUpdated, &nextUpdate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("sqlite: scan record: %w", err)
	}
	rec.DemandLevel = insight.DemandLevel(demand)
	rec.MarketOutlook = insight.MarketOutlook(outlook)

	if err := json.Unmarshal([]byte(salaries), &rec.SalaryRanges); err != nil {
		return rec, fmt.Errorf("sqlite: decode salary ranges of %q: %w", rec.Industry, err)
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{{top, &rec.TopSkills}, {trends, &rec.KeyTrends}, {recommended, &rec.RecommendedSkills}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return rec, fmt.Errorf("sqlite: decode list of %q: %w", rec.Industry, err)
		}
	}

	var err error
	if rec.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return rec, err
	}
	if rec.NextUpdate, err = parseTime(nextUpdate); err != nil {
		return rec, err
	}
	return rec, nil
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode list: %w", err)
	}
	return string(b), nil
}
