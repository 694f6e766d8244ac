package postgres

// Migrations returns the embedded schema migrations.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_benefits", UpSQL: migration001Up},
		{Version: 2, Name: "create_benefit_records", UpSQL: migration002Up},
		{Version: 3, Name: "create_catalog", UpSQL: migration003Up},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: BENEFIT DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS benefits (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    kind VARCHAR(20) NOT NULL,
    percentage NUMERIC(5,4),
    credit_limit NUMERIC(8,2),
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_kind CHECK (kind IN ('family', 'fixed', 'custom')),
    CONSTRAINT valid_percentage CHECK (percentage IS NULL OR (percentage >= 0 AND percentage <= 1)),
    CONSTRAINT valid_credit_limit CHECK (credit_limit IS NULL OR credit_limit >= 0)
);

CREATE INDEX IF NOT EXISTS idx_benefits_active ON benefits(active) WHERE active;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: GRANTED BENEFIT RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS benefit_records (
    id UUID PRIMARY KEY,
    national_id VARCHAR(32) NOT NULL,
    external_person_id VARCHAR(64) NOT NULL DEFAULT '',
    full_name VARCHAR(200) NOT NULL DEFAULT '',
    benefit_id VARCHAR(64) NOT NULL REFERENCES benefits(id),
    period_id VARCHAR(32) NOT NULL,
    request_id VARCHAR(64) NOT NULL DEFAULT '',
    discount_fraction NUMERIC(5,4) NOT NULL,
    total_credit_weight NUMERIC(8,2) NOT NULL DEFAULT 0,
    credits_under_discount NUMERIC(8,2) NOT NULL DEFAULT 0,
    discounted_tuition NUMERIC(12,2) NOT NULL DEFAULT 0,
    balance NUMERIC(12,2) NOT NULL DEFAULT 0,
    plan_type VARCHAR(20) NOT NULL,
    payment_reference TEXT NOT NULL DEFAULT '',
    supersedes_record_id UUID REFERENCES benefit_records(id),
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    deactivated_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_fraction CHECK (discount_fraction >= 0 AND discount_fraction <= 1),
    CONSTRAINT valid_plan CHECK (plan_type IN ('STANDARD', 'PLUS', 'NONE_ON_RECORD'))
);

-- one active benefit per student and period
CREATE UNIQUE INDEX IF NOT EXISTS uq_benefit_records_active
    ON benefit_records(national_id, period_id) WHERE active;

CREATE INDEX IF NOT EXISTS idx_benefit_records_period ON benefit_records(period_id, active);
CREATE INDEX IF NOT EXISTS idx_benefit_records_request ON benefit_records(request_id) WHERE request_id <> '';
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: COURSE CATALOG & TUITION RATES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS course_catalog (
    code VARCHAR(32) NOT NULL,
    title VARCHAR(300) NOT NULL,
    category VARCHAR(32) NOT NULL,
    credit_weight NUMERIC(8,2) NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (code, title, category),
    CONSTRAINT valid_weight CHECK (credit_weight >= 0)
);

CREATE TABLE IF NOT EXISTS tuition_rates (
    normalized_major VARCHAR(200) PRIMARY KEY,
    major VARCHAR(200) NOT NULL,
    rate NUMERIC(12,2) NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_rate CHECK (rate >= 0)
);
`
