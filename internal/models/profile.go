package models

import "time"

// Subscription lifecycle values stored on profiles.subscription_status.
const (
	SubscriptionNone     = "none"
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
)

// Profile is one user account: identity, credit balance and subscription
// state. Balance only moves through conditional updates issued by the
// wallet service; it is never read-then-written.
type Profile struct {
	ID                 string    `json:"id" db:"id"`
	Email              string    `json:"email" db:"email" example:"user@example.com"` // User email
	DisplayName        string    `json:"displayName" db:"display_name" example:"Jane Doe"`
	Balance            int64     `json:"balance" db:"balance"` // remaining credits
	SubscriptionStatus string    `json:"subscriptionStatus" db:"subscription_status"`
	SubscriptionPlanID string    `json:"subscriptionPlanId,omitempty" db:"subscription_plan_id"`
	MonthlyCredits     int64     `json:"monthlyCredits" db:"monthly_credits"`
	StripeCustomerID   string    `json:"-" db:"stripe_customer_id"`
	CreatedAt          time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time `json:"updatedAt" db:"updated_at"`
}
