package models

import "time"

// AffiliateCode is created lazily the first time a user opens the
// affiliate page. Running totals are maintained in the same SQL
// transaction as the earning rows they summarize.
type AffiliateCode struct {
	ProfileID          string    `json:"profileId" db:"profile_id"`
	Code               string    `json:"code" db:"code"`
	CommissionRate     float64   `json:"commissionRate" db:"commission_rate"`
	TotalEarningsCents int64     `json:"totalEarningsCents" db:"total_earnings_cents"`
	TotalReferrals     int64     `json:"totalReferrals" db:"total_referrals"`
	CreatedAt          time.Time `json:"createdAt" db:"created_at"`
}

// Referral links a referred account to its referrer. At most one per
// referred account, enforced by a unique index on referred_id.
type Referral struct {
	ID            string    `json:"id" db:"id"`
	ReferrerID    string    `json:"referrerId" db:"referrer_id"`
	ReferredID    string    `json:"referredId" db:"referred_id"`
	ReferredEmail string    `json:"referredEmail,omitempty" db:"-"`
	CodeUsed      string    `json:"codeUsed" db:"code_used"`
	Status        string    `json:"status" db:"status"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// Earning statuses.
const (
	EarningPending = "pending"
	EarningPaid    = "paid"
)

// AffiliateEarning is one commission posting, keyed to the purchase
// transaction that produced it.
type AffiliateEarning struct {
	ID              int64     `json:"id" db:"id"`
	AffiliateID     string    `json:"affiliateId" db:"affiliate_id"`
	ReferredID      string    `json:"referredId" db:"referred_id"`
	TransactionID   int64     `json:"transactionId" db:"transaction_id"`
	CommissionCents int64     `json:"commissionCents" db:"commission_cents"`
	PaidAmountCents int64     `json:"paidAmountCents" db:"paid_amount_cents"`
	Status          string    `json:"status" db:"status"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}
