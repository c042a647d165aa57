// Package postgres owns the relational schema shared by the postgres
// stores. Apply is idempotent so the daemon can run it at startup and the
// integration suites can run it against fresh containers.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS blood_units (
	unit_id          UUID PRIMARY KEY,
	blood_bank       TEXT NOT NULL,
	blood_group      TEXT NOT NULL,
	component        TEXT NOT NULL,
	quantity         INTEGER NOT NULL DEFAULT 1,
	collection_date  TIMESTAMPTZ NOT NULL,
	expiration_date  TIMESTAMPTZ NOT NULL,
	status           TEXT NOT NULL,
	test_status      TEXT NOT NULL,
	storage_location TEXT,
	donor_id         UUID,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blood_units_candidates
	ON blood_units (status, test_status, blood_group, component, expiration_date);

CREATE TABLE IF NOT EXISTS donors (
	donor_id           UUID PRIMARY KEY,
	name               TEXT NOT NULL,
	blood_group        TEXT NOT NULL,
	age                INTEGER NOT NULL,
	active             BOOLEAN NOT NULL DEFAULT TRUE,
	last_donation_date TIMESTAMPTZ,
	total_donations    INTEGER NOT NULL DEFAULT 0,
	registered_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS blood_requests (
	request_id      UUID PRIMARY KEY,
	blood_group     TEXT NOT NULL,
	component       TEXT NOT NULL,
	required_units  INTEGER NOT NULL,
	fulfilled_units INTEGER NOT NULL DEFAULT 0,
	urgency         TEXT NOT NULL,
	priority        INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	blood_bank      TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	fulfilled_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_blood_requests_open
	ON blood_requests (status, created_at);

CREATE TABLE IF NOT EXISTS allocations (
	allocation_id   UUID PRIMARY KEY,
	request_id      UUID NOT NULL,
	unit_id         UUID NOT NULL,
	allocated_at    TIMESTAMPTZ NOT NULL,
	delivery_status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_allocations_request
	ON allocations (request_id);

CREATE TABLE IF NOT EXISTS alerts (
	alert_id    UUID PRIMARY KEY,
	alert_type  TEXT NOT NULL,
	blood_bank  TEXT NOT NULL,
	blood_group TEXT NOT NULL,
	message     TEXT NOT NULL,
	severity    TEXT NOT NULL,
	resolved    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_unresolved
	ON alerts (alert_type, blood_bank, blood_group) WHERE NOT resolved;
`

// Apply creates the schema objects if they do not exist yet.
func Apply(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
