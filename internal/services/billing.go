package services

import (
	"context"

	"github.com/commentpilot/user-service/internal/models"
)

// BillingChecker tells the trial lifecycle whether a user has converted to a
// paid subscription. A converted user is never downgraded by trial bookkeeping.
type BillingChecker interface {
	HasActiveSubscription(ctx context.Context, user *models.User) (bool, error)
}

// UserFieldBilling reads the subscription status the billing webhook keeps
// on the user row.
type UserFieldBilling struct{}

func (UserFieldBilling) HasActiveSubscription(_ context.Context, user *models.User) (bool, error) {
	return user.HasActiveSubscription(), nil
}
