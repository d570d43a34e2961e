package insight

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// fencePattern matches markdown code fence markers, optionally tagged json.
var fencePattern = regexp.MustCompile("```(?:json)?\n?")

var validate = validator.New(validator.WithRequiredStructEnabled())

// CleanResponse removes every code fence marker and surrounding whitespace
// from a model response.
func CleanResponse(text string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(text, ""))
}

// ParseInsights cleans a model response, decodes it, and validates the
// result. Enum values are matched case-insensitively.
func ParseInsights(text string) (Insights, error) {
	cleaned := CleanResponse(text)
	if cleaned == "" {
		return Insights{}, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	var in Insights
	if err := json.Unmarshal([]byte(cleaned), &in); err != nil {
		return Insights{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	in.DemandLevel = DemandLevel(strings.ToUpper(strings.TrimSpace(string(in.DemandLevel))))
	in.MarketOutlook = MarketOutlook(strings.ToUpper(strings.TrimSpace(string(in.MarketOutlook))))

	if err := Validate(in); err != nil {
		return Insights{}, err
	}
	return in, nil
}

// Validate checks in against the insight schema.
func Validate(in Insights) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidInsights, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInsights, strings.Join(msgs, "; "))
}
