package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/commentpilot/user-service/internal/analytics"
	"github.com/commentpilot/user-service/internal/metrics"
	"github.com/commentpilot/user-service/internal/models"
	"github.com/commentpilot/user-service/internal/notify"
	"github.com/commentpilot/user-service/internal/plans"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	TrialDuration  = 30 * 24 * time.Hour
	GraceDuration  = 3 * 24 * time.Hour
	ReminderWindow = 3 * 24 * time.Hour

	notifyTimeout = 15 * time.Second
)

const (
	ActorTrialStart      = "system:trial_start"
	ActorTrialExpiration = "system:trial_expiration"
	ActorGraceExpiration = "system:grace_expiration"
)

var ErrEmptyProfileID = errors.New("linkedin profile id is required")

// errTransitionLost marks a conditional update that matched no row because a
// concurrent caller already performed the transition.
var errTransitionLost = errors.New("transition already applied")

type TrialOutcome string

const (
	TrialGranted         TrialOutcome = "granted"
	TrialAlreadyCaptured TrialOutcome = "profile_already_captured"
	TrialProfileInUse    TrialOutcome = "profile_already_used"
	TrialNotEligible     TrialOutcome = "not_free_user"
)

// TrialStartResult is the outcome of StartTrial. Every denial is a value,
// not an error.
type TrialStartResult struct {
	Outcome        TrialOutcome
	Plan           plans.Plan
	TrialStartedAt *time.Time
	TrialEndsAt    *time.Time
	GraceEndsAt    *time.Time
}

func (r TrialStartResult) Granted() bool {
	return r.Outcome == TrialGranted
}

func (r TrialStartResult) AlreadyCaptured() bool {
	return r.Outcome == TrialAlreadyCaptured
}

// TrialStatus is a read-only view of a user's trial bookkeeping.
type TrialStatus struct {
	Plan            plans.Plan `json:"plan"`
	HasHadTrial     bool       `json:"has_had_trial"`
	TrialActive     bool       `json:"trial_active"`
	GraceActive     bool       `json:"grace_active"`
	DaysRemaining   int        `json:"days_remaining"`
	TrialStartedAt  *time.Time `json:"trial_started_at,omitempty"`
	TrialEndsAt     *time.Time `json:"trial_ends_at,omitempty"`
	GraceEndsAt     *time.Time `json:"grace_ends_at,omitempty"`
	Converted       bool       `json:"converted"`
	ProfileCaptured bool       `json:"profile_captured"`
	WindowsOverlap  bool       `json:"windows_overlap,omitempty"`
}

type TrialService struct {
	db       *gorm.DB
	recorder *RoleRecorder
	billing  BillingChecker
	mailer   *notify.Mailer
	sink     analytics.Sink
	now      func() time.Time
}

func NewTrialService(db *gorm.DB, recorder *RoleRecorder, billing BillingChecker, mailer *notify.Mailer, sink analytics.Sink) *TrialService {
	return &TrialService{
		db:       db,
		recorder: recorder,
		billing:  billing,
		mailer:   mailer,
		sink:     sink,
		now:      utcNow,
	}
}

// WithClock replaces the time source of the service and its recorder.
func (s *TrialService) WithClock(now func() time.Time) *TrialService {
	s.now = now
	s.recorder.WithClock(now)
	return s
}

// Now is the service clock.
func (s *TrialService) Now() time.Time {
	return s.now()
}

// NormalizeProfileID trims and lowercases a raw profile id.
func NormalizeProfileID(profileID string) string {
	return strings.ToLower(strings.TrimSpace(profileID))
}

// HashProfileID returns the hex sha256 of an already normalized profile id.
func HashProfileID(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// StartTrial captures the user's LinkedIn profile and, for a FREE user whose
// profile has never been used, grants a 30-day PREMIUM trial. The unique
// index on the profile hash is what closes the race between two accounts
// claiming the same profile at once.
func (s *TrialService) StartTrial(ctx context.Context, user *models.User, profileID string) (TrialStartResult, error) {
	normalized := NormalizeProfileID(profileID)
	if normalized == "" {
		return TrialStartResult{}, ErrEmptyProfileID
	}

	if user.TrialStartedAt != nil {
		return s.deny(resultFor(TrialAlreadyCaptured, user)), nil
	}

	hash := HashProfileID(normalized)
	taken, err := s.profileOwnedByOther(ctx, user.ID, hash)
	if err != nil {
		return TrialStartResult{}, err
	}
	if taken {
		return s.deny(TrialStartResult{Outcome: TrialProfileInUse, Plan: user.Plan}), nil
	}

	now := s.now()
	var fresh models.User
	var result TrialStartResult

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&fresh, "id = ?", user.ID).Error; err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if fresh.TrialStartedAt != nil {
			result = resultFor(TrialAlreadyCaptured, &fresh)
			return nil
		}

		raw := strings.TrimSpace(profileID)
		capture := map[string]any{
			"linkedin_profile_id":      raw,
			"linkedin_profile_id_hash": hash,
		}
		if fresh.LinkedInProfileCapturedAt == nil {
			capture["linkedin_profile_captured_at"] = now
			fresh.LinkedInProfileCapturedAt = &now
		}
		if err := tx.Model(&models.User{}).Where("id = ?", fresh.ID).Updates(capture).Error; err != nil {
			return err
		}
		fresh.LinkedInProfileID = &raw
		fresh.LinkedInProfileIDHash = &hash

		if fresh.Plan != plans.Free {
			result = resultFor(TrialNotEligible, &fresh)
			return nil
		}

		endsAt := now.Add(TrialDuration)
		res := tx.Model(&models.User{}).
			Where("id = ? AND plan = ? AND trial_started_at IS NULL", fresh.ID, plans.Free).
			Updates(map[string]any{
				"trial_started_at":       now,
				"trial_ends_at":          endsAt,
				"grace_ends_at":          nil,
				"trial_reminder_sent_at": nil,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to start trial: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errTransitionLost
		}
		fresh.TrialStartedAt = &now
		fresh.TrialEndsAt = &endsAt
		fresh.GraceEndsAt = nil
		fresh.TrialReminderSentAt = nil

		if _, err := s.recorder.RecordChange(tx, &fresh, plans.Premium, ActorTrialStart, "trial started", map[string]any{
			"trial_ends_at": endsAt,
		}); err != nil {
			return err
		}

		result = resultFor(TrialGranted, &fresh)
		return nil
	})

	switch {
	case err == nil:
	case isDuplicateKey(err):
		return s.deny(TrialStartResult{Outcome: TrialProfileInUse, Plan: user.Plan}), nil
	case errors.Is(err, errTransitionLost):
		if reloadErr := s.db.WithContext(ctx).First(&fresh, "id = ?", user.ID).Error; reloadErr != nil {
			return TrialStartResult{}, fmt.Errorf("failed to reload user: %w", reloadErr)
		}
		*user = fresh
		return s.deny(resultFor(TrialAlreadyCaptured, &fresh)), nil
	default:
		return TrialStartResult{}, err
	}

	*user = fresh
	if !result.Granted() {
		return s.deny(result), nil
	}

	metrics.Trial().RecordTrialStarted()
	metrics.Trial().RecordTransition(string(plans.Free), string(plans.Premium))
	s.sink.Emit(ctx, user.ID, analytics.EventTrialStarted, map[string]any{
		"trial_ends_at": result.TrialEndsAt,
	})
	slog.Info("trial started", "user_id", user.ID.String(), "trial_ends_at", result.TrialEndsAt)
	return result, nil
}

// ExpireTrial moves a user whose trial has elapsed from PREMIUM to MEDIUM and
// opens the grace window. It returns false without side effects when the
// trial is not due, and clears the trial window without downgrading when
// billing reports an active subscription.
func (s *TrialService) ExpireTrial(ctx context.Context, user *models.User) (bool, error) {
	now := s.now()
	if !user.TrialElapsed(now) {
		return false, nil
	}

	converted, err := s.billing.HasActiveSubscription(ctx, user)
	if err != nil {
		return false, fmt.Errorf("failed to check billing: %w", err)
	}
	if converted {
		return false, s.clearWindow(ctx, user, "trial_ends_at")
	}

	graceEndsAt := now.Add(GraceDuration)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND plan = ? AND trial_ends_at IS NOT NULL AND trial_ends_at <= ?", user.ID, plans.Premium, now).
			Updates(map[string]any{
				"trial_ends_at": nil,
				"grace_ends_at": graceEndsAt,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to expire trial: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errTransitionLost
		}

		current := *user
		current.Plan = plans.Premium
		_, err := s.recorder.RecordChange(tx, &current, plans.Medium, ActorTrialExpiration, "trial expired, grace period started", map[string]any{
			"trial_ended_at": user.TrialEndsAt,
			"grace_ends_at":  graceEndsAt,
		})
		return err
	})
	if errors.Is(err, errTransitionLost) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	user.Plan = plans.Medium
	user.TrialEndsAt = nil
	user.GraceEndsAt = &graceEndsAt

	metrics.Trial().RecordTransition(string(plans.Premium), string(plans.Medium))
	s.sink.Emit(ctx, user.ID, analytics.EventTrialExpired, nil)
	s.sink.Emit(ctx, user.ID, analytics.EventGraceStarted, map[string]any{"grace_ends_at": graceEndsAt})
	s.notify(ctx, func(ctx context.Context) bool {
		return s.mailer.TrialExpired(ctx, user, int(GraceDuration/(24*time.Hour)))
	})
	slog.Info("trial expired", "user_id", user.ID.String(), "grace_ends_at", graceEndsAt)
	return true, nil
}

// ExpireGrace moves a user whose grace window has elapsed from MEDIUM to FREE.
func (s *TrialService) ExpireGrace(ctx context.Context, user *models.User) (bool, error) {
	now := s.now()
	if !user.GraceElapsed(now) {
		return false, nil
	}

	converted, err := s.billing.HasActiveSubscription(ctx, user)
	if err != nil {
		return false, fmt.Errorf("failed to check billing: %w", err)
	}
	if converted {
		return false, s.clearWindow(ctx, user, "grace_ends_at")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND plan = ? AND grace_ends_at IS NOT NULL AND grace_ends_at <= ?", user.ID, plans.Medium, now).
			Updates(map[string]any{
				"grace_ends_at": nil,
				"trial_ends_at": nil,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to expire grace period: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errTransitionLost
		}

		current := *user
		current.Plan = plans.Medium
		_, err := s.recorder.RecordChange(tx, &current, plans.Free, ActorGraceExpiration, "grace period expired", map[string]any{
			"grace_ended_at": user.GraceEndsAt,
		})
		return err
	})
	if errors.Is(err, errTransitionLost) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	user.Plan = plans.Free
	user.GraceEndsAt = nil
	user.TrialEndsAt = nil

	metrics.Trial().RecordTransition(string(plans.Medium), string(plans.Free))
	s.sink.Emit(ctx, user.ID, analytics.EventGraceExpired, nil)
	s.notify(ctx, func(ctx context.Context) bool {
		return s.mailer.GraceExpired(ctx, user)
	})
	slog.Info("grace period expired", "user_id", user.ID.String())
	return true, nil
}

// Status derives the trial view of user at the service clock.
func (s *TrialService) Status(user *models.User) TrialStatus {
	return StatusAt(user, s.now())
}

// StatusAt is Status with an explicit instant. Only the window that matches
// the current plan counts as active.
func StatusAt(user *models.User, now time.Time) TrialStatus {
	status := TrialStatus{
		Plan:            user.Plan,
		HasHadTrial:     user.TrialStartedAt != nil,
		TrialStartedAt:  user.TrialStartedAt,
		TrialEndsAt:     user.TrialEndsAt,
		GraceEndsAt:     user.GraceEndsAt,
		Converted:       user.HasActiveSubscription(),
		ProfileCaptured: user.LinkedInProfileCapturedAt != nil,
		WindowsOverlap:  user.WindowsOverlap(now),
	}

	switch {
	case user.Plan == plans.Premium && user.TrialEndsAt != nil && user.TrialEndsAt.After(now):
		status.TrialActive = true
		status.DaysRemaining = daysUntil(now, *user.TrialEndsAt)
	case user.Plan == plans.Medium && user.GraceEndsAt != nil && user.GraceEndsAt.After(now):
		status.GraceActive = true
		status.DaysRemaining = daysUntil(now, *user.GraceEndsAt)
	}
	return status
}

// daysUntil rounds partial days up, so an entitled user never sees 0.
func daysUntil(now, end time.Time) int {
	remaining := end.Sub(now).Seconds()
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining / 86400))
}

func (s *TrialService) profileOwnedByOther(ctx context.Context, userID uuid.UUID, hash string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("linkedin_profile_id_hash = ? AND id <> ?", hash, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check profile ownership: %w", err)
	}
	return count > 0, nil
}

// clearWindow drops a trial or grace deadline once billing has taken over.
func (s *TrialService) clearWindow(ctx context.Context, user *models.User, column string) error {
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update(column, nil).Error
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", column, err)
	}

	if column == "trial_ends_at" {
		user.TrialEndsAt = nil
	} else {
		user.GraceEndsAt = nil
	}
	s.sink.Emit(ctx, user.ID, analytics.EventTrialConverted, map[string]any{"cleared": column})
	slog.Info("billing covers user, window cleared", "user_id", user.ID.String(), "column", column)
	return nil
}

// notify sends outside any transaction and ignores the result beyond logging.
func (s *TrialService) notify(ctx context.Context, send func(context.Context) bool) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if !send(ctx) {
		slog.Warn("lifecycle email not delivered")
	}
}

func (s *TrialService) deny(result TrialStartResult) TrialStartResult {
	metrics.Trial().RecordStartDenied(string(result.Outcome))
	return result
}

func resultFor(outcome TrialOutcome, user *models.User) TrialStartResult {
	return TrialStartResult{
		Outcome:        outcome,
		Plan:           user.Plan,
		TrialStartedAt: user.TrialStartedAt,
		TrialEndsAt:    user.TrialEndsAt,
		GraceEndsAt:    user.GraceEndsAt,
	}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
