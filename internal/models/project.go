package models

import (
	"encoding/json"
	"time"
)

// Project kinds, one per agent flow.
const (
	ProjectKindThumbnail = "thumbnail"
	ProjectKindViral     = "viral"
	ProjectKindSEO       = "seo"
)

// Project lifecycle.
const (
	ProjectGenerating = "generating"
	ProjectCompleted  = "completed"
	ProjectFailed     = "failed"
)

// ProjectTTL is how long a project stays listable after creation. The
// object store purges the underlying artifacts on the same schedule.
const ProjectTTL = 15 * 24 * time.Hour

// Project is the persisted record of one generation request. Image flows
// fill ResultURLs; text flows (viral ideas, keywords) store their payload
// in ResultJSON. CreditsCharged is the amount reserved up front;
// CreditsRefunded accumulates per-unit refunds.
type Project struct {
	ID              string          `json:"id" db:"id"`
	ProfileID       string          `json:"profileId" db:"profile_id"`
	Kind            string          `json:"kind" db:"kind"`
	Name            string          `json:"name" db:"name"`
	Prompt          string          `json:"prompt" db:"prompt"`
	Status          string          `json:"status" db:"status"`
	ResultURLs      []string        `json:"resultUrls" db:"result_urls"`
	ResultJSON      json.RawMessage `json:"resultJson,omitempty" db:"result_json"`
	Summary         string          `json:"summary" db:"summary"`
	CreditsCharged  int64           `json:"creditsCharged" db:"credits_charged"`
	CreditsRefunded int64           `json:"creditsRefunded" db:"credits_refunded"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	ExpiresAt       time.Time       `json:"expiresAt" db:"expires_at"`
}
