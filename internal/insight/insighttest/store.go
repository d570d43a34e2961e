// Package insighttest provides test helpers for the insight package.
package insighttest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/flemzord/insightd/internal/insight"
)

// Update is one recorded UpdateInsights call.
type Update struct {
	Industry    string
	Insights    insight.Insights
	LastUpdated time.Time
	NextUpdate  time.Time
}

// MemoryStore is an in-memory insight.Repository that records updates.
// Set the Err fields to inject failures. Safe for concurrent use.
type MemoryStore struct {
	ListErr   error
	UpdateErr error

	mu      sync.Mutex
	order   []string
	records map[string]insight.Record
	Updates []Update
}

// NewMemoryStore creates a store seeded with industries in the given order.
func NewMemoryStore(industries ...string) *MemoryStore {
	s := &MemoryStore{records: make(map[string]insight.Record)}
	for _, name := range industries {
		s.order = append(s.order, name)
		s.records[name] = insight.Record{Industry: name}
	}
	return s
}

// ListIndustries implements insight.Store.
func (s *MemoryStore) ListIndustries(context.Context) ([]string, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order), nil
}

// UpdateInsights implements insight.Store.
func (s *MemoryStore) UpdateInsights(_ context.Context, industry string, in insight.Insights, lastUpdated, nextUpdate time.Time) error {
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[industry]; !ok {
		return insight.ErrIndustryNotFound
	}
	s.records[industry] = insight.Record{
		Industry:    industry,
		Insights:    in,
		LastUpdated: lastUpdated,
		NextUpdate:  nextUpdate,
	}
	s.Updates = append(s.Updates, Update{
		Industry:    industry,
		Insights:    in,
		LastUpdated: lastUpdated,
		NextUpdate:  nextUpdate,
	})
	return nil
}

// Get implements insight.Repository.
func (s *MemoryStore) Get(_ context.Context, industry string) (insight.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[industry]
	if !ok {
		return insight.Record{}, insight.ErrIndustryNotFound
	}
	return rec, nil
}

// List implements insight.Repository.
func (s *MemoryStore) List(context.Context) ([]insight.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := slices.Clone(s.order)
	slices.Sort(names)
	out := make([]insight.Record, 0, len(names))
	for _, name := range names {
		out = append(out, s.records[name])
	}
	return out, nil
}

// Create implements insight.Repository.
func (s *MemoryStore) Create(_ context.Context, industry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[industry]; ok {
		return insight.ErrIndustryExists
	}
	s.order = append(s.order, industry)
	s.records[industry] = insight.Record{Industry: industry}
	return nil
}

// UpdateCount returns the number of successful updates so far.
func (s *MemoryStore) UpdateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Updates)
}

// Interface guard.
var _ insight.Repository = (*MemoryStore)(nil)
