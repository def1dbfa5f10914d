// Package matcher selects a random catalog entry that fits a budget.
package matcher

import (
	"math"
	"math/rand/v2"

	"github.com/aluiziolira/go-build-finder/models"
)

// Entry is anything with a price, a type and a purpose.
type Entry interface {
	MatchPrice() int
	MatchType() string
	MatchPurpose() models.Purpose
}

// Policy decides whether a price is acceptable for a budget.
type Policy interface {
	Accept(price, budget int) bool
}

// StrictCeiling accepts any price up to the budget.
type StrictCeiling struct{}

func (StrictCeiling) Accept(price, budget int) bool {
	return price >= 0 && price <= budget
}

// ToleranceBand accepts prices between LowerRatio of the budget (rounded up)
// and the budget.
type ToleranceBand struct {
	LowerRatio float64
}

// DefaultBand is the 65%-100% band.
var DefaultBand = ToleranceBand{LowerRatio: 0.65}

func (b ToleranceBand) Accept(price, budget int) bool {
	return price >= b.Lower(budget) && price <= budget
}

// Lower returns the smallest accepted price for budget.
func (b ToleranceBand) Lower(budget int) int {
	return int(math.Ceil(b.LowerRatio * float64(budget)))
}

// Query narrows the candidates. Empty Purpose and Type match everything; a
// nil Policy means StrictCeiling.
type Query struct {
	Budget  int
	Purpose models.Purpose
	Type    string
	Policy  Policy
}

// Matches reports whether e satisfies q.
func (q Query) Matches(e Entry) bool {
	policy := q.Policy
	if policy == nil {
		policy = StrictCeiling{}
	}
	if !policy.Accept(e.MatchPrice(), q.Budget) {
		return false
	}
	if q.Type != "" && e.MatchType() != q.Type {
		return false
	}
	if q.Purpose != models.PurposeAny && e.MatchPurpose() != q.Purpose {
		return false
	}
	return true
}

// Matcher picks uniformly among matching entries.
type Matcher struct {
	intn func(int) int
}

// New returns a matcher drawing from r. A nil r uses the global source.
func New(r *rand.Rand) *Matcher {
	if r == nil {
		return &Matcher{intn: rand.IntN}
	}
	return &Matcher{intn: r.IntN}
}

// Filter returns the entries matching q, in order.
func Filter[E Entry](entries []E, q Query) []E {
	var out []E
	for _, e := range entries {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Pick returns a uniformly random entry matching q. The second result is
// false when nothing matches or the budget is negative.
func Pick[E Entry](m *Matcher, entries []E, q Query) (E, bool) {
	var zero E
	if q.Budget < 0 {
		return zero, false
	}
	candidates := Filter(entries, q)
	if len(candidates) == 0 {
		return zero, false
	}
	if m == nil {
		m = New(nil)
	}
	return candidates[m.intn(len(candidates))], true
}
