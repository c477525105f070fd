package models

import "time"

// Transaction kinds. The table is append-only; the sum of deltas for a
// profile reconciles with profiles.balance because every balance mutation
// writes its row inside the same SQL transaction.
const (
	TxnKindPurchase = "purchase"
	TxnKindSpend    = "spend"
	TxnKindRefund   = "refund"
	TxnKindRenewal  = "renewal"
)

// Transaction is one balance-affecting event. Delta is signed: spends are
// negative, everything else positive. StripeRef carries the checkout
// session or invoice id for purchases and renewals.
type Transaction struct {
	ID          int64     `json:"id" db:"id"`
	ProfileID   string    `json:"profileId" db:"profile_id"`
	Delta       int64     `json:"delta" db:"delta"`
	Kind        string    `json:"kind" db:"kind"`
	Description string    `json:"description" db:"description"`
	StripeRef   string    `json:"stripeRef,omitempty" db:"stripe_ref"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}
