package sync

import (
	"strings"
	"time"

	"github.com/neighborly/volunteerhub/internal/models"
)

// CategoryAll is the sentinel that disables category filtering.
const CategoryAll = "all"

// Filter is the search/filter state applied over the visible set. A
// zero value matches everything.
type Filter struct {
	Query    string
	Location string
	Date     time.Time // zero = unset; compared at day granularity
	Category string    // empty or CategoryAll = unset
}

// Apply returns the opportunities matching every active predicate, in
// input order. Pure: the same input always yields the same output, and
// the input slice is never modified.
func Apply(opportunities []models.Opportunity, f Filter) []models.Opportunity {
	out := make([]models.Opportunity, 0, len(opportunities))
	for _, o := range opportunities {
		if matches(o, f) {
			out = append(out, o)
		}
	}
	return out
}

func matches(o models.Opportunity, f Filter) bool {
	if q := strings.TrimSpace(f.Query); q != "" && !matchesQuery(o, q) {
		return false
	}
	if f.Location != "" && !containsFold(o.Location, f.Location) {
		return false
	}
	if !f.Date.IsZero() && !Today(o.Date).Equal(Today(f.Date)) {
		return false
	}
	if f.Category != "" && f.Category != CategoryAll && o.Category != f.Category {
		return false
	}
	return true
}

// matchesQuery checks title, description, organization and every
// required skill for a case-insensitive substring match.
func matchesQuery(o models.Opportunity, q string) bool {
	if containsFold(o.Title, q) || containsFold(o.Description, q) || containsFold(o.Organization, q) {
		return true
	}
	for _, skill := range o.RequiredSkills {
		if containsFold(skill, q) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
