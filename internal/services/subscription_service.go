package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/commentpilot/user-service/internal/analytics"
	"github.com/commentpilot/user-service/internal/dto"
	"github.com/commentpilot/user-service/internal/models"
	"github.com/commentpilot/user-service/internal/plans"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const ActorBilling = "system:billing"

const (
	subscriptionStatusCanceled = "canceled"
	subscriptionStatusExpired  = "expired"
)

var ErrUnknownUser = errors.New("no user matches billing event")

// SubscriptionService applies billing events to users. Billing is allowed to
// override the trial lifecycle: activation clears both trial windows.
type SubscriptionService struct {
	db       *gorm.DB
	recorder *RoleRecorder
	sink     analytics.Sink
}

func NewSubscriptionService(db *gorm.DB, recorder *RoleRecorder, sink analytics.Sink) *SubscriptionService {
	return &SubscriptionService{db: db, recorder: recorder, sink: sink}
}

func (s *SubscriptionService) HandleBillingEvent(ctx context.Context, event *dto.BillingEvent) error {
	switch event.Type {
	case dto.BillingSubscriptionActivated, dto.BillingSubscriptionRenewed:
		return s.handleActivated(ctx, event)
	case dto.BillingSubscriptionCanceled:
		return s.handleCanceled(ctx, event)
	case dto.BillingSubscriptionExpired:
		return s.handleExpired(ctx, event)
	default:
		slog.Debug("ignoring billing event", "type", event.Type, "id", event.ID)
		return nil
	}
}

func (s *SubscriptionService) handleActivated(ctx context.Context, event *dto.BillingEvent) error {
	var user models.User
	var wasInTrial bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := findBillingUser(tx, event, &user); err != nil {
			return err
		}
		wasInTrial = user.TrialEndsAt != nil || user.GraceEndsAt != nil

		updates := map[string]any{
			"external_subscription_status": models.SubscriptionStatusActive,
			"trial_ends_at":                nil,
			"grace_ends_at":                nil,
		}
		if event.SubscriptionID != "" {
			updates["external_subscription_id"] = event.SubscriptionID
		}
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to activate subscription: %w", err)
		}

		_, err := s.recorder.RecordChange(tx, &user, plans.Premium, ActorBilling, "subscription "+event.Type, map[string]any{
			"event_id":        event.ID,
			"subscription_id": event.SubscriptionID,
			"occurred_at":     msToTime(event.OccurredAtMs),
		})
		if errors.Is(err, ErrNoOpTransition) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	s.sink.Emit(ctx, user.ID, analytics.EventSubscriptionActivated, map[string]any{"subscription_id": event.SubscriptionID})
	if wasInTrial {
		s.sink.Emit(ctx, user.ID, analytics.EventTrialConverted, nil)
	}
	return nil
}

func (s *SubscriptionService) handleCanceled(ctx context.Context, event *dto.BillingEvent) error {
	var user models.User
	if err := findBillingUser(s.db.WithContext(ctx), event, &user); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("external_subscription_status", subscriptionStatusCanceled).Error; err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	s.sink.Emit(ctx, user.ID, analytics.EventSubscriptionCanceled, nil)
	return nil
}

// handleExpired downgrades to FREE unless the user is inside trial or grace
// bookkeeping, which then keeps driving the plan.
func (s *SubscriptionService) handleExpired(ctx context.Context, event *dto.BillingEvent) error {
	var user models.User

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := findBillingUser(tx, event, &user); err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Update("external_subscription_status", subscriptionStatusExpired).Error; err != nil {
			return fmt.Errorf("failed to expire subscription: %w", err)
		}

		if user.TrialEndsAt != nil || user.GraceEndsAt != nil {
			return nil
		}
		_, err := s.recorder.RecordChange(tx, &user, plans.Free, ActorBilling, "subscription expired", map[string]any{
			"event_id":        event.ID,
			"subscription_id": event.SubscriptionID,
		})
		if errors.Is(err, ErrNoOpTransition) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	s.sink.Emit(ctx, user.ID, analytics.EventSubscriptionExpired, nil)
	return nil
}

func findBillingUser(db *gorm.DB, event *dto.BillingEvent, user *models.User) error {
	var err error
	switch {
	case event.UserID != "":
		id, parseErr := uuid.Parse(event.UserID)
		if parseErr != nil {
			return fmt.Errorf("%w: invalid user_id %q", ErrUnknownUser, event.UserID)
		}
		err = db.First(user, "id = ?", id).Error
	case event.SubscriptionID != "":
		err = db.First(user, "external_subscription_id = ?", event.SubscriptionID).Error
	default:
		return fmt.Errorf("%w: event has neither user_id nor subscription_id", ErrUnknownUser)
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUnknownUser
	}
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	return nil
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond)).UTC()
}
