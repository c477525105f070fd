package models

import "time"

// Team member statuses.
const (
	MemberInvited = "invited"
	MemberActive  = "active"
)

// TeamMember is a seat on a subscriber's team. Seat limits come from the
// owner's subscription plan and count the owner as one seat.
type TeamMember struct {
	ID          string    `json:"id" db:"id"`
	OwnerID     string    `json:"ownerId" db:"owner_id"`
	Email       string    `json:"email" db:"email"`
	Status      string    `json:"status" db:"status"`
	InviteToken string    `json:"inviteToken,omitempty" db:"invite_token"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}
