package config

import (
	"os"
	"strconv"
	"time"
)

// CreditPack is a one-time credit purchase offered at checkout.
type CreditPack struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int64  `json:"credits"`
	PriceCents int64  `json:"priceCents"`
}

// Plan is a recurring subscription: monthly credit allotment plus team
// seat limit (the owner counts as one seat).
type Plan struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	MonthlyCredits   int64  `json:"monthlyCredits"`
	MonthlyPriceCents int64 `json:"monthlyPriceCents"`
	AnnualPriceCents int64  `json:"annualPriceCents"`
	SeatLimit        int    `json:"seatLimit"`
}

type PricingConfig struct {
	// Per-generation credit costs. These are the amounts the dashboard
	// actually deducts; some marketing pages still advertise 10/10/20.
	// TODO: confirm with product whether the advertised amounts should
	// replace these before changing either side.
	ThumbnailCost int64
	ViralCost     int64
	KeywordsCost  int64

	SignupBonus int64

	MaxGenerationPerUser int
	RateLimitWindow      time.Duration

	AffiliateCommissionRate float64

	Packs []CreditPack
	Plans []Plan
}

func LoadPricingConfig() *PricingConfig {
	return &PricingConfig{
		ThumbnailCost: getEnvAsInt64("CREDITS_THUMBNAIL", 1),
		ViralCost:     getEnvAsInt64("CREDITS_VIRAL", 1),
		KeywordsCost:  getEnvAsInt64("CREDITS_KEYWORDS", 2),

		SignupBonus: getEnvAsInt64("SIGNUP_BONUS_CREDITS", 5),

		MaxGenerationPerUser: getEnvAsInt("GEN_MAX_PER_USER", 10),
		RateLimitWindow:      getEnvAsDuration("GEN_RATE_LIMIT_WINDOW", 1*time.Minute),

		AffiliateCommissionRate: 0.30,

		Packs: []CreditPack{
			{ID: "starter", Name: "Starter Pack", Credits: 50, PriceCents: 900},
			{ID: "creator", Name: "Creator Pack", Credits: 200, PriceCents: 2900},
			{ID: "studio", Name: "Studio Pack", Credits: 500, PriceCents: 5900},
		},
		Plans: []Plan{
			{ID: "creator-monthly", Name: "Creator", MonthlyCredits: 100, MonthlyPriceCents: 1900, AnnualPriceCents: 19000, SeatLimit: 3},
			{ID: "studio-monthly", Name: "Studio", MonthlyCredits: 300, MonthlyPriceCents: 4900, AnnualPriceCents: 49000, SeatLimit: 5},
		},
	}
}

// Pack returns the pack with the given id, or nil.
func (c *PricingConfig) Pack(id string) *CreditPack {
	for i := range c.Packs {
		if c.Packs[i].ID == id {
			return &c.Packs[i]
		}
	}
	return nil
}

// Plan returns the plan with the given id, or nil.
func (c *PricingConfig) Plan(id string) *Plan {
	for i := range c.Plans {
		if c.Plans[i].ID == id {
			return &c.Plans[i]
		}
	}
	return nil
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
