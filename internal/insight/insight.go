// Package insight generates and stores per-industry market insights.
package insight

import (
	"context"
	"errors"
	"time"
)

// DemandLevel rates hiring demand in an industry.
type DemandLevel string

// Demand levels.
const (
	DemandHigh   DemandLevel = "HIGH"
	DemandMedium DemandLevel = "MEDIUM"
	DemandLow    DemandLevel = "LOW"
)

// MarketOutlook is the model's overall sentiment for an industry.
type MarketOutlook string

// Market outlooks.
const (
	OutlookPositive MarketOutlook = "POSITIVE"
	OutlookNeutral  MarketOutlook = "NEUTRAL"
	OutlookNegative MarketOutlook = "NEGATIVE"
)

// SalaryRange is the pay band of one role.
type SalaryRange struct {
	Role     string  `json:"role" validate:"required"`
	Min      float64 `json:"min" validate:"gte=0"`
	Max      float64 `json:"max" validate:"gtefield=Min"`
	Median   float64 `json:"median" validate:"gtefield=Min,ltefield=Max"`
	Location string  `json:"location"`
}

// Insights are the model-derived fields of an industry record.
type Insights struct {
	SalaryRanges      []SalaryRange `json:"salaryRanges" validate:"required,min=1,dive"`
	GrowthRate        float64       `json:"growthRate"`
	DemandLevel       DemandLevel   `json:"demandLevel" validate:"oneof=HIGH MEDIUM LOW"`
	TopSkills         []string      `json:"topSkills" validate:"required,min=1,dive,required"`
	MarketOutlook     MarketOutlook `json:"marketOutlook" validate:"oneof=POSITIVE NEUTRAL NEGATIVE"`
	KeyTrends         []string      `json:"keyTrends" validate:"required,min=1,dive,required"`
	RecommendedSkills []string      `json:"recommendedSkills" validate:"required,min=1,dive,required"`
}

// Record is a stored industry. Insights and timestamps are zero until the
// first refresh.
type Record struct {
	Industry string `json:"industry"`
	Insights
	LastUpdated time.Time `json:"lastUpdated,omitzero"`
	NextUpdate  time.Time `json:"nextUpdate,omitzero"`
}

// Refreshed reports whether the record has been populated by a refresh.
func (r Record) Refreshed() bool {
	return !r.LastUpdated.IsZero()
}

// Sentinel errors.
var (
	// ErrIndustryNotFound indicates no record exists for the industry.
	ErrIndustryNotFound = errors.New("insight: industry not found")

	// ErrIndustryExists indicates a record already exists for the industry.
	ErrIndustryExists = errors.New("insight: industry already exists")

	// ErrMalformedResponse indicates the model response is not valid JSON.
	ErrMalformedResponse = errors.New("insight: malformed model response")

	// ErrInvalidInsights indicates the response decoded but violates the
	// insight schema.
	ErrInvalidInsights = errors.New("insight: invalid insights")
)

// Store is the persistence used by the refresh job.
type Store interface {
	// ListIndustries returns every known industry name.
	ListIndustries(ctx context.Context) ([]string, error)

	// UpdateInsights overwrites the insight fields of an industry and sets
	// its timestamps. Returns ErrIndustryNotFound when no record matches.
	UpdateInsights(ctx context.Context, industry string, in Insights, lastUpdated, nextUpdate time.Time) error
}

// Repository is the full record store used by the CLI, gateway, and MCP server.
type Repository interface {
	Store

	// Get returns one record or ErrIndustryNotFound.
	Get(ctx context.Context, industry string) (Record, error)

	// List returns all records ordered by industry name.
	List(ctx context.Context) ([]Record, error)

	// Create adds an industry with empty insights. Returns ErrIndustryExists
	// when the industry is already known.
	Create(ctx context.Context, industry string) error
}
