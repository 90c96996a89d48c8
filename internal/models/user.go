package models

import (
	"time"

	"github.com/commentpilot/user-service/internal/plans"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriptionStatusActive is the billing status that proves conversion.
const SubscriptionStatusActive = "active"

// User is the aggregate root of the user service. The profile hash is kept
// in the clear so the unique index can enforce one trial per profile.
type User struct {
	ID       uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email    string     `gorm:"not null;size:255;uniqueIndex" json:"email"`
	Password string     `gorm:"not null" json:"-"`
	Name     string     `gorm:"size:255" json:"name,omitempty"`
	Role     string     `gorm:"size:20;default:'user'" json:"role"`
	Plan     plans.Plan `gorm:"size:20;not null;default:'free';index:idx_users_plan_trial,priority:1;index:idx_users_plan_grace,priority:1" json:"plan"`

	LinkedInProfileID         *string    `gorm:"column:linkedin_profile_id;size:255" json:"-"`
	LinkedInProfileIDHash     *string    `gorm:"column:linkedin_profile_id_hash;size:64;uniqueIndex" json:"-"`
	LinkedInProfileCapturedAt *time.Time `gorm:"column:linkedin_profile_captured_at" json:"linkedin_profile_captured_at,omitempty"`

	TrialStartedAt      *time.Time `json:"trial_started_at,omitempty"`
	TrialEndsAt         *time.Time `gorm:"index:idx_users_plan_trial,priority:2" json:"trial_ends_at,omitempty"`
	GraceEndsAt         *time.Time `gorm:"index:idx_users_plan_grace,priority:2" json:"grace_ends_at,omitempty"`
	TrialReminderSentAt *time.Time `json:"-"`

	ExternalSubscriptionID     *string `gorm:"size:255;index" json:"-"`
	ExternalSubscriptionStatus *string `gorm:"size:50" json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Plan == "" {
		u.Plan = plans.Free
	}
	return nil
}

// HasActiveSubscription reports whether the billing collaborator has marked
// the user as a paying customer.
func (u *User) HasActiveSubscription() bool {
	return u.ExternalSubscriptionStatus != nil && *u.ExternalSubscriptionStatus == SubscriptionStatusActive
}

// TrialElapsed reports whether a PREMIUM trial window has run out at now.
func (u *User) TrialElapsed(now time.Time) bool {
	return u.Plan == plans.Premium && u.TrialEndsAt != nil && !u.TrialEndsAt.After(now)
}

// GraceElapsed reports whether a MEDIUM grace window has run out at now.
func (u *User) GraceElapsed(now time.Time) bool {
	return u.Plan == plans.Medium && u.GraceEndsAt != nil && !u.GraceEndsAt.After(now)
}

// WindowsOverlap reports whether trial and grace windows are both open,
// which only manual edits can produce.
func (u *User) WindowsOverlap(now time.Time) bool {
	return u.TrialEndsAt != nil && u.TrialEndsAt.After(now) &&
		u.GraceEndsAt != nil && u.GraceEndsAt.After(now)
}
