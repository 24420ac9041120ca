package store

import "strings"

// Schema notes:
//   - Surrogate ids are allocated per tenant via id_sequences, so every
//     primary key is the (tenant_id, id) pair and stays portable across
//     Postgres and SQLite.
//   - created_at/updated_at are maintained by the service layer, not by
//     triggers.
//   - Natural keys against the ERP are (tenant_id, external_id).
const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS id_sequences (
	tenant_id TEXT NOT NULL,
	entity TEXT NOT NULL,
	next_id BIGINT NOT NULL,
	PRIMARY KEY (tenant_id, entity)
);

CREATE TABLE IF NOT EXISTS purchase_requests (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	number TEXT NOT NULL,
	status TEXT NOT NULL,
	priority TEXT NOT NULL,
	requested_by TEXT NOT NULL,
	department TEXT NOT NULL,
	needed_at TIMESTAMP,
	external_id TEXT,
	erp_num_cot TEXT,
	erp_num_pct TEXT,
	erp_sent_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_purchase_requests_external
	ON purchase_requests (tenant_id, external_id) WHERE external_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS purchase_request_items (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	purchase_request_id BIGINT NOT NULL,
	line_no INTEGER NOT NULL,
	description TEXT NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	uom TEXT NOT NULL,
	category TEXT,
	PRIMARY KEY (tenant_id, id),
	UNIQUE (tenant_id, purchase_request_id, line_no)
);

CREATE TABLE IF NOT EXISTS rfqs (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	cancel_reason TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS rfq_items (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	rfq_id BIGINT NOT NULL,
	purchase_request_item_id BIGINT NOT NULL,
	description TEXT NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	uom TEXT NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS rfq_item_suppliers (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	rfq_item_id BIGINT NOT NULL,
	supplier_id BIGINT NOT NULL,
	PRIMARY KEY (tenant_id, id),
	UNIQUE (tenant_id, rfq_item_id, supplier_id)
);

CREATE TABLE IF NOT EXISTS rfq_supplier_invites (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	rfq_id BIGINT NOT NULL,
	supplier_id BIGINT NOT NULL,
	token TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	opened_at TIMESTAMP,
	submitted_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS quotes (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	rfq_id BIGINT NOT NULL,
	supplier_id BIGINT NOT NULL,
	currency TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, id),
	UNIQUE (tenant_id, rfq_id, supplier_id)
);

CREATE TABLE IF NOT EXISTS quote_items (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	quote_id BIGINT NOT NULL,
	rfq_item_id BIGINT NOT NULL,
	unit_price DOUBLE PRECISION NOT NULL,
	lead_time_days INTEGER,
	PRIMARY KEY (tenant_id, id),
	UNIQUE (tenant_id, quote_id, rfq_item_id)
);

CREATE TABLE IF NOT EXISTS awards (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	rfq_id BIGINT NOT NULL,
	supplier_name TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL,
	purchase_order_id BIGINT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS purchase_orders (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	number TEXT NOT NULL,
	award_id BIGINT,
	supplier_name TEXT NOT NULL,
	status TEXT NOT NULL,
	currency TEXT NOT NULL,
	total_amount DOUBLE PRECISION NOT NULL,
	erp_last_error TEXT,
	external_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_purchase_orders_external
	ON purchase_orders (tenant_id, external_id) WHERE external_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS purchase_order_lines (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	purchase_order_id BIGINT NOT NULL,
	line_no INTEGER NOT NULL,
	product_code TEXT,
	description TEXT NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	unit_price DOUBLE PRECISION NOT NULL,
	total_price DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (tenant_id, id),
	UNIQUE (tenant_id, purchase_order_id, line_no)
);

CREATE TABLE IF NOT EXISTS suppliers (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	external_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_suppliers_external
	ON suppliers (tenant_id, external_id) WHERE external_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS receipts (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	purchase_order_id BIGINT NOT NULL,
	external_id TEXT NOT NULL,
	status TEXT NOT NULL,
	received_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, id),
	UNIQUE (tenant_id, external_id)
);

CREATE TABLE IF NOT EXISTS status_events (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	entity TEXT NOT NULL,
	entity_id BIGINT NOT NULL,
	from_status TEXT,
	to_status TEXT NOT NULL,
	reason TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
CREATE INDEX IF NOT EXISTS ix_status_events_entity
	ON status_events (tenant_id, entity, entity_id);

CREATE TABLE IF NOT EXISTS sync_runs (
	tenant_id TEXT NOT NULL,
	id BIGINT NOT NULL,
	scope TEXT NOT NULL,
	status TEXT NOT NULL,
	attempt INTEGER NOT NULL DEFAULT 1,
	parent_sync_run_id BIGINT,
	outbox_order_id BIGINT,
	payload_ref TEXT,
	next_attempt_at TIMESTAMP,
	leased_by TEXT,
	leased_until TIMESTAMP,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	duration_ms BIGINT,
	records_in INTEGER NOT NULL DEFAULT 0,
	records_upserted INTEGER NOT NULL DEFAULT 0,
	records_failed INTEGER NOT NULL DEFAULT 0,
	error_summary TEXT,
	error_details TEXT,
	PRIMARY KEY (tenant_id, id)
);
CREATE INDEX IF NOT EXISTS ix_sync_runs_due
	ON sync_runs (scope, status, next_attempt_at);
CREATE UNIQUE INDEX IF NOT EXISTS ux_sync_runs_pending_outbox
	ON sync_runs (tenant_id, outbox_order_id)
	WHERE status = 'running' AND outbox_order_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS integration_watermarks (
	tenant_id TEXT NOT NULL,
	system TEXT NOT NULL,
	entity TEXT NOT NULL,
	last_success_source_updated_at TIMESTAMP,
	last_success_source_id TEXT,
	last_success_cursor TEXT,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, system, entity)
);
`

// schemaStatements splits the DDL so drivers that reject multi-statement
// Exec calls still initialize cleanly.
func schemaStatements() []string {
	parts := strings.Split(schema, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p+";")
	}
	return out
}
