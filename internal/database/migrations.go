package database

import "fmt"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id VARCHAR(50) PRIMARY KEY,
	kind VARCHAR(20) NOT NULL,
	display_name VARCHAR(200) NOT NULL,
	email VARCHAR(200) NOT NULL DEFAULT '',
	phone VARCHAR(50) NOT NULL DEFAULT '',
	payment_customer_ref VARCHAR(100) NOT NULL DEFAULT '',
	payment_method_ref VARCHAR(100) NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS plans (
	id VARCHAR(50) PRIMARY KEY,
	name VARCHAR(100) NOT NULL,
	priority_months INT NOT NULL DEFAULT 0,
	priority_shipping_percentage NUMERIC(5, 2) NOT NULL DEFAULT 0,
	first_shipping_free BOOLEAN NOT NULL DEFAULT FALSE,
	first_shipping_free_threshold NUMERIC(12, 2) NOT NULL DEFAULT 0,
	max_insurance_coverage NUMERIC(12, 2) NOT NULL DEFAULT 0,
	extra_insurance_price NUMERIC(12, 2) NOT NULL DEFAULT 0,
	shipping_discount NUMERIC(12, 2) NOT NULL DEFAULT 0,
	permanent_discount NUMERIC(12, 2) NOT NULL DEFAULT 0,
	small_package_permanent_discount NUMERIC(12, 2) NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id VARCHAR(50) PRIMARY KEY,
	user_id VARCHAR(50) NOT NULL REFERENCES users(id),
	plan_id VARCHAR(50) NOT NULL REFERENCES plans(id),
	start_date TIMESTAMP NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	first_shipping_free_used BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_active ON subscriptions(user_id) WHERE active;

CREATE TABLE IF NOT EXISTS shipments (
	id VARCHAR(50) PRIMARY KEY,
	requester_id VARCHAR(50) NOT NULL REFERENCES users(id),
	origin_city VARCHAR(100) NOT NULL,
	origin_address TEXT NOT NULL,
	origin_postal_code VARCHAR(20) NOT NULL DEFAULT '',
	origin_lat DOUBLE PRECISION NOT NULL DEFAULT 0,
	origin_lon DOUBLE PRECISION NOT NULL DEFAULT 0,
	origin_handling BOOLEAN NOT NULL DEFAULT FALSE,
	origin_elevator BOOLEAN NOT NULL DEFAULT FALSE,
	origin_floor INT NOT NULL DEFAULT 0,
	destination_city VARCHAR(100) NOT NULL,
	destination_address TEXT NOT NULL,
	destination_postal_code VARCHAR(20) NOT NULL DEFAULT '',
	destination_lat DOUBLE PRECISION NOT NULL DEFAULT 0,
	destination_lon DOUBLE PRECISION NOT NULL DEFAULT 0,
	destination_handling BOOLEAN NOT NULL DEFAULT FALSE,
	destination_elevator BOOLEAN NOT NULL DEFAULT FALSE,
	destination_floor INT NOT NULL DEFAULT 0,
	weight_kg NUMERIC(10, 2) NOT NULL DEFAULT 0,
	volume_m3 NUMERIC(10, 3) NOT NULL DEFAULT 0,
	declared_value NUMERIC(12, 2) NOT NULL DEFAULT 0,
	proposed_price NUMERIC(12, 2) NOT NULL,
	urgent BOOLEAN NOT NULL DEFAULT FALSE,
	recipient_name VARCHAR(200) NOT NULL DEFAULT '',
	recipient_email VARCHAR(200) NOT NULL DEFAULT '',
	recipient_phone VARCHAR(50) NOT NULL DEFAULT '',
	canceled_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_shipments_requester ON shipments(requester_id);

CREATE TABLE IF NOT EXISTS relay_points (
	id VARCHAR(50) PRIMARY KEY,
	warehouse_id VARCHAR(50),
	label VARCHAR(200) NOT NULL DEFAULT '',
	city VARCHAR(100) NOT NULL,
	address TEXT NOT NULL,
	postal_code VARCHAR(20) NOT NULL DEFAULT '',
	lat DOUBLE PRECISION NOT NULL,
	lon DOUBLE PRECISION NOT NULL,
	is_drop_box BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS relay_bindings (
	shipment_id VARCHAR(50) NOT NULL REFERENCES shipments(id),
	step INT NOT NULL CHECK (step BETWEEN 1 AND 999),
	relay_point_id VARCHAR(50) NOT NULL REFERENCES relay_points(id),
	created_at TIMESTAMP NOT NULL DEFAULT NOW(),
	PRIMARY KEY (shipment_id, step)
);

CREATE TABLE IF NOT EXISTS legs (
	id VARCHAR(50) PRIMARY KEY,
	shipment_id VARCHAR(50) NOT NULL REFERENCES shipments(id),
	step INT NOT NULL CHECK (step BETWEEN 0 AND 1000),
	status VARCHAR(20) NOT NULL,
	courier_id VARCHAR(50) NOT NULL REFERENCES users(id),
	amount NUMERIC(12, 2) NOT NULL,
	pickup_code VARCHAR(12) NOT NULL,
	picked_up_at TIMESTAMP,
	settlement_id VARCHAR(50),
	settle_claimed_at TIMESTAMP,
	settle_amount NUMERIC(12, 2),
	settle_free_benefit BOOLEAN NOT NULL DEFAULT FALSE,
	settle_subscription_id VARCHAR(50),
	canceled_by VARCHAR(50),
	created_at TIMESTAMP NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_legs_shipment ON legs(shipment_id, step);
CREATE INDEX IF NOT EXISTS idx_legs_courier ON legs(courier_id);

CREATE TABLE IF NOT EXISTS settlements (
	id VARCHAR(50) PRIMARY KEY,
	leg_id VARCHAR(50) NOT NULL UNIQUE REFERENCES legs(id),
	amount NUMERIC(12, 2) NOT NULL,
	amount_minor BIGINT NOT NULL,
	currency VARCHAR(3) NOT NULL,
	transaction_ref VARCHAR(100),
	invoice_key TEXT NOT NULL DEFAULT '',
	used_free_benefit BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS favorites (
	requester_id VARCHAR(50) NOT NULL REFERENCES users(id),
	courier_id VARCHAR(50) NOT NULL REFERENCES users(id),
	created_at TIMESTAMP NOT NULL DEFAULT NOW(),
	PRIMARY KEY (requester_id, courier_id)
);

CREATE TABLE IF NOT EXISTS reviews (
	id VARCHAR(50) PRIMARY KEY,
	leg_id VARCHAR(50) NOT NULL REFERENCES legs(id),
	author_id VARCHAR(50) NOT NULL REFERENCES users(id),
	courier_id VARCHAR(50) NOT NULL REFERENCES users(id),
	rating INT NOT NULL CHECK (rating BETWEEN 1 AND 5),
	comment TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT NOW(),
	UNIQUE (leg_id, author_id)
);

CREATE INDEX IF NOT EXISTS idx_reviews_courier ON reviews(courier_id);

CREATE TABLE IF NOT EXISTS geocode_cache (
	address TEXT PRIMARY KEY,
	lon DOUBLE PRECISION NOT NULL,
	lat DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS outbox_messages (
	id SERIAL PRIMARY KEY,
	aggregate_type VARCHAR(50) NOT NULL,
	aggregate_id VARCHAR(50) NOT NULL,
	event_type VARCHAR(50) NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT NOW(),
	processed_at TIMESTAMP,
	processing_attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	status VARCHAR(20) NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_messages(status);
CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_messages(aggregate_type, aggregate_id);
`

// RunMigrations creates the schema. Every statement is idempotent.
func (d *Database) RunMigrations() error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.logger.Info("Database migrations completed successfully")
	return nil
}
