package db

// Monthly partitions of click_events and view_events are created on demand
// by the partition manager, not here.

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS links (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	order_key INTEGER NOT NULL,
	slug TEXT UNIQUE NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS texts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	order_key INTEGER NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS videos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	order_key INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS images (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	order_key INTEGER NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	alt TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS music (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	order_key INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	artist TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	order_key INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	order_key INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	starts_at TEXT,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_links_user_order ON links(user_id, order_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_texts_user_order ON texts(user_id, order_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_videos_user_order ON videos(user_id, order_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_images_user_order ON images(user_id, order_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_music_user_order ON music(user_id, order_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sections_user_order ON sections(user_id, order_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_user_order ON events(user_id, order_key);

CREATE TABLE IF NOT EXISTS intake_receipts (
	user_id TEXT NOT NULL,
	submission_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, submission_id)
);

CREATE TABLE IF NOT EXISTS event_totals (
	kind TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	total INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (kind, subject_id)
);

CREATE TABLE IF NOT EXISTS aggregate_counters (
	dimension TEXT NOT NULL,
	value TEXT NOT NULL,
	month TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (dimension, value, month)
);

CREATE TABLE IF NOT EXISTS stream_cursors (
	stream TEXT PRIMARY KEY,
	last_id TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS qr_records (
	id TEXT PRIMARY KEY,
	variant TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	format TEXT NOT NULL,
	size INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL,
	storage_path TEXT NOT NULL,
	serving_url TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (variant, owner_id)
);

CREATE INDEX IF NOT EXISTS idx_qr_records_owner ON qr_records(owner_id);

CREATE TABLE IF NOT EXISTS kv_counters (
	key TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_strings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_lists (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kv_lists_key ON kv_lists(key, id);

CREATE TABLE IF NOT EXISTS kv_sets (
	key TEXT NOT NULL,
	member TEXT NOT NULL,
	PRIMARY KEY (key, member)
);

CREATE TABLE IF NOT EXISTS kv_streams (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	stream TEXT NOT NULL,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kv_streams_stream ON kv_streams(stream, id);

CREATE TABLE IF NOT EXISTS kv_locks (
	key TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS links (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	order_key BIGINT NOT NULL,
	slug TEXT UNIQUE NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS texts (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	order_key BIGINT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS videos (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	order_key BIGINT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS images (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	order_key BIGINT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	alt TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS music (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	order_key BIGINT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	artist TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sections (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	order_key BIGINT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	order_key BIGINT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	starts_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_links_user_order ON links(user_id, order_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_texts_user_order ON texts(user_id, order_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_videos_user_order ON videos(user_id, order_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_images_user_order ON images(user_id, order_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_music_user_order ON music(user_id, order_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sections_user_order ON sections(user_id, order_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_user_order ON events(user_id, order_key);

CREATE TABLE IF NOT EXISTS click_events (
	id BIGSERIAL,
	subject_id TEXT NOT NULL,
	device TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	referrer TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
) PARTITION BY RANGE (occurred_at);

CREATE TABLE IF NOT EXISTS view_events (
	id BIGSERIAL,
	subject_id TEXT NOT NULL,
	device TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	referrer TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
) PARTITION BY RANGE (occurred_at);

CREATE TABLE IF NOT EXISTS intake_receipts (
	user_id TEXT NOT NULL,
	submission_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, submission_id)
);

CREATE TABLE IF NOT EXISTS event_totals (
	kind TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	total BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (kind, subject_id)
);

CREATE TABLE IF NOT EXISTS aggregate_counters (
	dimension TEXT NOT NULL,
	value TEXT NOT NULL,
	month TEXT NOT NULL,
	count BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (dimension, value, month)
);

CREATE TABLE IF NOT EXISTS stream_cursors (
	stream TEXT PRIMARY KEY,
	last_id TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS qr_records (
	id TEXT PRIMARY KEY,
	variant TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	format TEXT NOT NULL,
	size INTEGER NOT NULL,
	size_bytes BIGINT NOT NULL,
	storage_path TEXT NOT NULL,
	serving_url TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (variant, owner_id)
);

CREATE INDEX IF NOT EXISTS idx_qr_records_owner ON qr_records(owner_id);

CREATE TABLE IF NOT EXISTS kv_counters (
	key TEXT PRIMARY KEY,
	value BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_strings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_lists (
	id BIGSERIAL PRIMARY KEY,
	key TEXT NOT NULL,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kv_lists_key ON kv_lists(key, id);

CREATE TABLE IF NOT EXISTS kv_sets (
	key TEXT NOT NULL,
	member TEXT NOT NULL,
	PRIMARY KEY (key, member)
);

CREATE TABLE IF NOT EXISTS kv_streams (
	id BIGSERIAL PRIMARY KEY,
	stream TEXT NOT NULL,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kv_streams_stream ON kv_streams(stream, id);

CREATE TABLE IF NOT EXISTS kv_locks (
	key TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	expires_at BIGINT NOT NULL
);
`
