package database

import "database/sql"

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
    id UUID PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    subscription_status TEXT NOT NULL DEFAULT 'none',
    subscription_plan_id TEXT NOT NULL DEFAULT '',
    monthly_credits BIGINT NOT NULL DEFAULT 0,
    stripe_customer_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_profiles_stripe_customer ON profiles (stripe_customer_id);

CREATE TABLE IF NOT EXISTS transactions (
    id BIGSERIAL PRIMARY KEY,
    profile_id UUID NOT NULL REFERENCES profiles(id),
    delta BIGINT NOT NULL,
    kind TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    stripe_ref TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_transactions_profile ON transactions (profile_id, created_at DESC);

CREATE TABLE IF NOT EXISTS projects (
    id UUID PRIMARY KEY,
    profile_id UUID NOT NULL REFERENCES profiles(id),
    kind TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    prompt TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'generating',
    result_urls TEXT[] NOT NULL DEFAULT '{}',
    result_json JSONB,
    summary TEXT NOT NULL DEFAULT '',
    credits_charged BIGINT NOT NULL DEFAULT 0,
    credits_refunded BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_projects_profile ON projects (profile_id, created_at DESC);

CREATE TABLE IF NOT EXISTS affiliate_codes (
    profile_id UUID PRIMARY KEY REFERENCES profiles(id),
    code TEXT NOT NULL UNIQUE,
    commission_rate NUMERIC(4,2) NOT NULL DEFAULT 0.30,
    total_earnings_cents BIGINT NOT NULL DEFAULT 0,
    total_referrals BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS referrals (
    id UUID PRIMARY KEY,
    referrer_id UUID NOT NULL REFERENCES profiles(id),
    referred_id UUID NOT NULL UNIQUE REFERENCES profiles(id),
    code_used TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON referrals (referrer_id, created_at DESC);

CREATE TABLE IF NOT EXISTS affiliate_earnings (
    id BIGSERIAL PRIMARY KEY,
    affiliate_id UUID NOT NULL REFERENCES profiles(id),
    referred_id UUID NOT NULL REFERENCES profiles(id),
    transaction_id BIGINT NOT NULL REFERENCES transactions(id),
    commission_cents BIGINT NOT NULL,
    paid_amount_cents BIGINT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_affiliate_earnings_affiliate ON affiliate_earnings (affiliate_id, created_at DESC);

CREATE TABLE IF NOT EXISTS team_members (
    id UUID PRIMARY KEY,
    owner_id UUID NOT NULL REFERENCES profiles(id),
    email TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'invited',
    invite_token UUID NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (owner_id, email)
);

CREATE TABLE IF NOT EXISTS stripe_events (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// ApplySchema creates all tables if they do not exist yet. Statements are
// idempotent so this runs on every startup.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
