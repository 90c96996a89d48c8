package services

import (
	"context"
	"testing"
	"time"

	"github.com/commentpilot/user-service/internal/analytics"
	"github.com/commentpilot/user-service/internal/dto"
	"github.com/commentpilot/user-service/internal/plans"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingActivation_ConvertsTrialUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.startedTrial(t, "jane@example.com", "jane-doe-123")
	subs := NewSubscriptionService(f.db, f.recorder, f.sink)

	f.clock.Set(t0.Add(days(10)))
	require.NoError(t, subs.HandleBillingEvent(ctx, &dto.BillingEvent{
		ID: "evt_1", Type: dto.BillingSubscriptionActivated, UserID: user.ID.String(), SubscriptionID: "sub_123",
	}))

	stored := f.reload(t, user.ID)
	assert.Equal(t, plans.Premium, stored.Plan)
	assert.True(t, stored.HasActiveSubscription())
	require.NotNil(t, stored.ExternalSubscriptionID)
	assert.Equal(t, "sub_123", *stored.ExternalSubscriptionID)
	assert.Nil(t, stored.TrialEndsAt)
	assert.Len(t, f.history(t, user.ID), 2)
	assert.Contains(t, f.sink.all(), analytics.EventTrialConverted)

	// Trial bookkeeping is gone, so nothing is due later.
	f.clock.Set(t0.Add(days(60)))
	stats := f.sweeper(nil).Sweep(ctx)
	assert.Zero(t, stats.TrialsExpired)
	assert.Equal(t, plans.Premium, f.reload(t, user.ID).Plan)
}

func TestBillingActivation_UpgradesGraceUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.startedTrial(t, "jane@example.com", "jane-doe-123")
	f.clock.Set(t0.Add(TrialDuration))
	_, err := f.trials.ExpireTrial(ctx, user)
	require.NoError(t, err)

	subs := NewSubscriptionService(f.db, f.recorder, f.sink)
	require.NoError(t, subs.HandleBillingEvent(ctx, &dto.BillingEvent{
		Type: dto.BillingSubscriptionActivated, UserID: user.ID.String(), SubscriptionID: "sub_9",
	}))

	stored := f.reload(t, user.ID)
	assert.Equal(t, plans.Premium, stored.Plan)
	assert.Nil(t, stored.GraceEndsAt)

	history := f.history(t, user.ID)
	assert.Equal(t, ActorBilling, history[0].ChangedBy)
}

func TestBillingCancelThenExpire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "paid@example.com", plans.Free)
	subs := NewSubscriptionService(f.db, f.recorder, f.sink)

	require.NoError(t, subs.HandleBillingEvent(ctx, &dto.BillingEvent{
		Type: dto.BillingSubscriptionActivated, UserID: user.ID.String(), SubscriptionID: "sub_7",
	}))
	require.NoError(t, subs.HandleBillingEvent(ctx, &dto.BillingEvent{
		Type: dto.BillingSubscriptionCanceled, SubscriptionID: "sub_7",
	}))

	stored := f.reload(t, user.ID)
	assert.Equal(t, plans.Premium, stored.Plan)
	assert.Equal(t, "canceled", *stored.ExternalSubscriptionStatus)

	require.NoError(t, subs.HandleBillingEvent(ctx, &dto.BillingEvent{
		Type: dto.BillingSubscriptionExpired, SubscriptionID: "sub_7", OccurredAtMs: time.Now().UnixMilli(),
	}))
	stored = f.reload(t, user.ID)
	assert.Equal(t, plans.Free, stored.Plan)
	assert.Equal(t, "expired", *stored.ExternalSubscriptionStatus)
	assert.Len(t, f.history(t, user.ID), 3)
}

func TestBillingExpired_LeavesTrialUserAlone(t *testing.T) {
	f := newFixture(t)
	user := f.startedTrial(t, "jane@example.com", "jane-doe-123")
	subs := NewSubscriptionService(f.db, f.recorder, f.sink)

	require.NoError(t, subs.HandleBillingEvent(context.Background(), &dto.BillingEvent{
		Type: dto.BillingSubscriptionExpired, UserID: user.ID.String(),
	}))
	assert.Equal(t, plans.Premium, f.reload(t, user.ID).Plan)
}

func TestBillingEvent_UnknownUserAndType(t *testing.T) {
	f := newFixture(t)
	subs := NewSubscriptionService(f.db, f.recorder, f.sink)
	ctx := context.Background()

	err := subs.HandleBillingEvent(ctx, &dto.BillingEvent{Type: dto.BillingSubscriptionCanceled, SubscriptionID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownUser)

	err = subs.HandleBillingEvent(ctx, &dto.BillingEvent{Type: dto.BillingSubscriptionActivated, UserID: "not-a-uuid"})
	assert.ErrorIs(t, err, ErrUnknownUser)

	err = subs.HandleBillingEvent(ctx, &dto.BillingEvent{Type: dto.BillingSubscriptionActivated})
	assert.ErrorIs(t, err, ErrUnknownUser)

	assert.NoError(t, subs.HandleBillingEvent(ctx, &dto.BillingEvent{Type: "invoice.paid"}))
}

func TestMsToTime(t *testing.T) {
	assert.True(t, msToTime(0).IsZero())
	assert.Equal(t, time.Date(2026, 1, 10, 9, 0, 0, 500_000_000, time.UTC), msToTime(t0.UnixMilli()+500))
}
