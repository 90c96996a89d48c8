// Package plans defines the closed set of entitlement tiers and the static
// limits table that drives feature gating.
package plans

import (
	"database/sql/driver"
	"fmt"
)

type Plan string

const (
	Free    Plan = "free"
	Medium  Plan = "medium"
	Premium Plan = "premium"
)

// Unlimited marks a quota without an upper bound.
const Unlimited = -1

var ordered = []Plan{Free, Medium, Premium}

// All returns every plan, lowest tier first.
func All() []Plan {
	out := make([]Plan, len(ordered))
	copy(out, ordered)
	return out
}

// Parse converts a stored or user-supplied name into a Plan.
func Parse(s string) (Plan, error) {
	p := Plan(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown plan %q", s)
	}
	return p, nil
}

func (p Plan) Valid() bool {
	return p.Rank() >= 0
}

// Rank is the position of p in the ordering FREE < MEDIUM < PREMIUM, or -1.
func (p Plan) Rank() int {
	for i, candidate := range ordered {
		if candidate == p {
			return i
		}
	}
	return -1
}

func (p Plan) Less(other Plan) bool {
	return p.Rank() < other.Rank()
}

func (p Plan) String() string {
	return string(p)
}

func (p Plan) Value() (driver.Value, error) {
	return string(p), nil
}

func (p *Plan) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*p = Plan(v)
	case []byte:
		*p = Plan(v)
	case nil:
		*p = ""
	default:
		return fmt.Errorf("cannot scan %T into Plan", src)
	}
	return nil
}

// Limits are the capabilities a tier unlocks.
type Limits struct {
	DailyComments   int  `json:"daily_comments"`
	MaxTones        int  `json:"max_tones"`
	NewsEnrichment  bool `json:"news_enrichment"`
	CustomPrompts   bool `json:"custom_prompts"`
	PrioritySupport bool `json:"priority_support"`
}

var limits = map[Plan]Limits{
	Free: {
		DailyComments: 5,
		MaxTones:      2,
	},
	Medium: {
		DailyComments:  30,
		MaxTones:       5,
		NewsEnrichment: true,
	},
	Premium: {
		DailyComments:   Unlimited,
		MaxTones:        Unlimited,
		NewsEnrichment:  true,
		CustomPrompts:   true,
		PrioritySupport: true,
	},
}

// LimitsFor returns the limits of p. Unknown plans get the FREE limits.
func LimitsFor(p Plan) Limits {
	if l, ok := limits[p]; ok {
		return l
	}
	return limits[Free]
}
