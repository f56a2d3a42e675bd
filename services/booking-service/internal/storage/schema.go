package storage

// Instants are unix seconds; wall-clock times are minutes after midnight.

var postgresSchema = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,
	`CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		public_id TEXT NOT NULL UNIQUE,
		slug TEXT,
		name TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT 'UTC',
		currency TEXT NOT NULL DEFAULT 'USD',
		contact_email TEXT NOT NULL DEFAULT '',
		limit_one_upcoming BOOLEAN NOT NULL DEFAULT FALSE,
		prevent_same_service_same_day BOOLEAN NOT NULL DEFAULT FALSE,
		onboarding_completed BOOLEAN NOT NULL DEFAULT FALSE,
		config_version BIGINT NOT NULL DEFAULT 1,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		CONSTRAINT businesses_slug_key UNIQUE (slug)
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		name TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
		price BIGINT NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		position INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS services_business_idx ON services (business_id, position)`,
	`CREATE TABLE IF NOT EXISTS availability_days (
		business_id TEXT NOT NULL REFERENCES businesses(id),
		day INTEGER NOT NULL CHECK (day BETWEEN 0 AND 6),
		enabled BOOLEAN NOT NULL DEFAULT FALSE,
		windows TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (business_id, day)
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		full_name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		email_verified BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS customers_business_email_key ON customers (business_id, email) WHERE email <> ''`,
	`CREATE INDEX IF NOT EXISTS customers_business_phone_idx ON customers (business_id, phone)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		service_id TEXT NOT NULL REFERENCES services(id),
		service_name TEXT NOT NULL,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		customer_full_name TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		customer_email TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		start_min INTEGER NOT NULL,
		end_min INTEGER NOT NULL,
		start_unix BIGINT NOT NULL,
		end_unix BIGINT NOT NULL,
		status TEXT NOT NULL,
		cancelled_by TEXT NOT NULL DEFAULT '',
		cancelled_at BIGINT,
		notes TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		CONSTRAINT appointments_no_overlap EXCLUDE USING gist (
			business_id WITH =,
			int8range(start_unix, end_unix) WITH &&
		) WHERE (status = 'BOOKED')
	)`,
	`CREATE INDEX IF NOT EXISTS appointments_business_date_idx ON appointments (business_id, date, start_min)`,
	`CREATE INDEX IF NOT EXISTS appointments_customer_idx ON appointments (business_id, customer_id, start_unix)`,
	`CREATE TABLE IF NOT EXISTS business_entitlements (
		business_id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		max_monthly_appointments INTEGER NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS provider_events (
		provider TEXT NOT NULL,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		received_at BIGINT NOT NULL,
		PRIMARY KEY (provider, event_id)
	)`,
	`CREATE TABLE IF NOT EXISTS booking_idempotency_keys (
		business_id TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		appointment_id TEXT NOT NULL DEFAULT '',
		status_code INTEGER NOT NULL DEFAULT 0,
		response_payload BYTEA,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (business_id, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS customer_otp_codes (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		email TEXT NOT NULL,
		purpose TEXT NOT NULL,
		customer_id TEXT NOT NULL DEFAULT '',
		code_hash TEXT NOT NULL,
		expires_at BIGINT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		consumed_at BIGINT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS customer_otp_lookup_idx ON customer_otp_codes (business_id, email, purpose, created_at)`,
	`CREATE TABLE IF NOT EXISTS customer_sessions (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		token_hash TEXT NOT NULL UNIQUE,
		expires_at BIGINT NOT NULL,
		revoked_at BIGINT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id BIGSERIAL PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		traceparent TEXT NOT NULL DEFAULT '',
		tracestate TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		published_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_unpublished_idx ON outbox_events (id) WHERE published_at IS NULL`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		public_id TEXT NOT NULL UNIQUE,
		slug TEXT UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT 'UTC',
		currency TEXT NOT NULL DEFAULT 'USD',
		contact_email TEXT NOT NULL DEFAULT '',
		limit_one_upcoming BOOLEAN NOT NULL DEFAULT 0,
		prevent_same_service_same_day BOOLEAN NOT NULL DEFAULT 0,
		onboarding_completed BOOLEAN NOT NULL DEFAULT 0,
		config_version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		name TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
		price INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		position INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS services_business_idx ON services (business_id, position)`,
	`CREATE TABLE IF NOT EXISTS availability_days (
		business_id TEXT NOT NULL REFERENCES businesses(id),
		day INTEGER NOT NULL CHECK (day BETWEEN 0 AND 6),
		enabled BOOLEAN NOT NULL DEFAULT 0,
		windows TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (business_id, day)
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		full_name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		email_verified BOOLEAN NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS customers_business_email_key ON customers (business_id, email) WHERE email <> ''`,
	`CREATE INDEX IF NOT EXISTS customers_business_phone_idx ON customers (business_id, phone)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		service_id TEXT NOT NULL REFERENCES services(id),
		service_name TEXT NOT NULL,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		customer_full_name TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		customer_email TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		start_min INTEGER NOT NULL,
		end_min INTEGER NOT NULL,
		start_unix INTEGER NOT NULL,
		end_unix INTEGER NOT NULL,
		status TEXT NOT NULL,
		cancelled_by TEXT NOT NULL DEFAULT '',
		cancelled_at INTEGER,
		notes TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS appointments_booked_slot_key ON appointments (business_id, date, start_min) WHERE status = 'BOOKED'`,
	`CREATE INDEX IF NOT EXISTS appointments_business_date_idx ON appointments (business_id, date, start_min)`,
	`CREATE INDEX IF NOT EXISTS appointments_customer_idx ON appointments (business_id, customer_id, start_unix)`,
	`CREATE TABLE IF NOT EXISTS business_entitlements (
		business_id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		max_monthly_appointments INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS provider_events (
		provider TEXT NOT NULL,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		received_at INTEGER NOT NULL,
		PRIMARY KEY (provider, event_id)
	)`,
	`CREATE TABLE IF NOT EXISTS booking_idempotency_keys (
		business_id TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		appointment_id TEXT NOT NULL DEFAULT '',
		status_code INTEGER NOT NULL DEFAULT 0,
		response_payload BLOB,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (business_id, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS customer_otp_codes (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		email TEXT NOT NULL,
		purpose TEXT NOT NULL,
		customer_id TEXT NOT NULL DEFAULT '',
		code_hash TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		consumed_at INTEGER,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS customer_otp_lookup_idx ON customer_otp_codes (business_id, email, purpose, created_at)`,
	`CREATE TABLE IF NOT EXISTS customer_sessions (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		token_hash TEXT NOT NULL UNIQUE,
		expires_at INTEGER NOT NULL,
		revoked_at INTEGER,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		traceparent TEXT NOT NULL DEFAULT '',
		tracestate TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		published_at INTEGER
	)`,
}
