package dto

import (
	"time"

	"github.com/commentpilot/user-service/internal/plans"
)

type StartTrialRequest struct {
	LinkedInProfileID string `json:"linkedin_profile_id"`
}

// StartTrialResponse carries a machine-readable reason the extension maps to
// its own copy.
type StartTrialResponse struct {
	Granted         bool       `json:"granted"`
	AlreadyCaptured bool       `json:"already_captured"`
	Reason          string     `json:"reason"`
	Plan            plans.Plan `json:"plan"`
	TrialStartedAt  *time.Time `json:"trial_started_at,omitempty"`
	TrialEndsAt     *time.Time `json:"trial_ends_at,omitempty"`
	GraceEndsAt     *time.Time `json:"grace_ends_at,omitempty"`
}

type PlanResponse struct {
	Plan   plans.Plan   `json:"plan"`
	Rank   int          `json:"rank"`
	Limits plans.Limits `json:"limits"`
}
