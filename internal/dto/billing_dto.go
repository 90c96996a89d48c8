package dto

// BillingEvent is the provider-neutral event the billing bridge posts to
// /api/webhooks/billing. UserID is preferred; SubscriptionID is used to find
// the user when it is missing.
type BillingEvent struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	UserID         string `json:"user_id"`
	SubscriptionID string `json:"subscription_id"`
	OccurredAtMs   int64  `json:"occurred_at_ms"`
}

const (
	BillingSubscriptionActivated = "subscription.activated"
	BillingSubscriptionRenewed   = "subscription.renewed"
	BillingSubscriptionCanceled  = "subscription.canceled"
	BillingSubscriptionExpired   = "subscription.expired"
)
