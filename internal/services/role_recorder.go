package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/commentpilot/user-service/internal/models"
	"github.com/commentpilot/user-service/internal/plans"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ErrNoOpTransition is returned when a caller asks to move a user to the
// plan they already have. Idempotent call sites treat it as a no-op.
var ErrNoOpTransition = errors.New("user already has the requested plan")

// RoleRecorder writes a user's plan together with its audit row. It never
// opens its own transaction: the caller passes the tx that also carries the
// other field changes of the same transition.
type RoleRecorder struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRoleRecorder(db *gorm.DB) *RoleRecorder {
	return &RoleRecorder{db: db, now: utcNow}
}

// WithClock replaces the time source used for changed_at.
func (r *RoleRecorder) WithClock(now func() time.Time) *RoleRecorder {
	r.now = now
	return r
}

func (r *RoleRecorder) RecordChange(tx *gorm.DB, user *models.User, newPlan plans.Plan, changedBy, reason string, metadata map[string]any) (*models.RoleChange, error) {
	if !newPlan.Valid() {
		return nil, fmt.Errorf("unknown plan %q", newPlan)
	}
	if user.Plan == newPlan {
		return nil, ErrNoOpTransition
	}

	oldPlan := user.Plan
	entry, err := r.append(tx, user.ID, &oldPlan, newPlan, changedBy, reason, metadata)
	if err != nil {
		return nil, err
	}

	if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Update("plan", newPlan).Error; err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}
	user.Plan = newPlan
	return entry, nil
}

// RecordInitial stores the first history row of a freshly created user.
func (r *RoleRecorder) RecordInitial(tx *gorm.DB, user *models.User, changedBy, reason string, metadata map[string]any) (*models.RoleChange, error) {
	plan := user.Plan
	if plan == "" {
		plan = plans.Free
	}
	return r.append(tx, user.ID, nil, plan, changedBy, reason, metadata)
}

// History returns the most recent changes first. limit <= 0 means the default.
func (r *RoleRecorder) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.RoleChange, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var entries []models.RoleChange
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("changed_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load role history: %w", err)
	}
	return entries, nil
}

func (r *RoleRecorder) append(tx *gorm.DB, userID uuid.UUID, oldPlan *plans.Plan, newPlan plans.Plan, changedBy, reason string, metadata map[string]any) (*models.RoleChange, error) {
	entry := models.RoleChange{
		UserID:    userID,
		OldPlan:   oldPlan,
		NewPlan:   newPlan,
		ChangedAt: r.now(),
		ChangedBy: changedBy,
		Reason:    reason,
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode role change metadata: %w", err)
		}
		entry.Metadata = datatypes.JSON(raw)
	}

	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("failed to record role change: %w", err)
	}
	return &entry, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
