package database

// Schema for the shared gateway database. Every session-scoped table carries
// a cascading foreign key to sessions(id); the soft-deletable subset keeps
// deleted/deleted_at instead of physical removal so history survives under
// the foreign keys.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	api_key       TEXT NOT NULL UNIQUE,
	role          TEXT NOT NULL DEFAULT 'user',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	device_id  TEXT,
	phone      TEXT,
	platform   TEXT,
	status     TEXT NOT NULL DEFAULT 'disconnected',
	qr         TEXT,
	logged_in  INTEGER NOT NULL DEFAULT 0,
	creds      TEXT,
	last_seen  DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS user_sessions (
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	active     INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (user_id, session_id)
);

CREATE TABLE IF NOT EXISTS chats (
	session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	jid          TEXT NOT NULL,
	name         TEXT,
	unread_count INTEGER NOT NULL DEFAULT 0,
	archived     INTEGER NOT NULL DEFAULT 0,
	pinned       INTEGER NOT NULL DEFAULT 0,
	muted_until  DATETIME,
	last_msg_at  DATETIME,
	deleted      INTEGER NOT NULL DEFAULT 0,
	deleted_at   DATETIME,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	PRIMARY KEY (session_id, jid)
);

CREATE TABLE IF NOT EXISTS contacts (
	session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	jid           TEXT NOT NULL,
	lid           TEXT,
	name          TEXT,
	notify        TEXT,
	business_name TEXT,
	online        INTEGER NOT NULL DEFAULT 0,
	last_seen     DATETIME,
	blocked       INTEGER NOT NULL DEFAULT 0,
	deleted       INTEGER NOT NULL DEFAULT 0,
	deleted_at    DATETIME,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	PRIMARY KEY (session_id, jid)
);
CREATE INDEX IF NOT EXISTS idx_contacts_lid ON contacts(session_id, lid);

CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	id         TEXT NOT NULL,
	chat_jid   TEXT NOT NULL,
	sender_jid TEXT NOT NULL,
	from_me    INTEGER NOT NULL DEFAULT 0,
	type       TEXT NOT NULL DEFAULT 'text',
	body       TEXT,
	media_url  TEXT,
	status     TEXT,
	timestamp  DATETIME NOT NULL,
	meta       TEXT,
	deleted    INTEGER NOT NULL DEFAULT 0,
	deleted_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, id)
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(session_id, chat_jid, timestamp);

CREATE TABLE IF NOT EXISTS reactions (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	message_id TEXT NOT NULL,
	chat_jid   TEXT NOT NULL,
	sender_jid TEXT NOT NULL,
	emoji      TEXT NOT NULL,
	timestamp  DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, message_id, sender_jid)
);

CREATE TABLE IF NOT EXISTS groups (
	session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	jid          TEXT NOT NULL,
	name         TEXT,
	topic        TEXT,
	owner_jid    TEXT,
	announce     INTEGER NOT NULL DEFAULT 0,
	locked       INTEGER NOT NULL DEFAULT 0,
	participants INTEGER NOT NULL DEFAULT 0,
	deleted      INTEGER NOT NULL DEFAULT 0,
	deleted_at   DATETIME,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	PRIMARY KEY (session_id, jid)
);

CREATE TABLE IF NOT EXISTS group_members (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	group_jid  TEXT NOT NULL,
	member_jid TEXT NOT NULL,
	is_admin   INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, group_jid, member_jid)
);

CREATE TABLE IF NOT EXISTS calls (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	id         TEXT NOT NULL,
	chat_jid   TEXT NOT NULL,
	caller_jid TEXT NOT NULL,
	is_video   INTEGER NOT NULL DEFAULT 0,
	outcome    TEXT,
	timestamp  DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, id)
);

CREATE TABLE IF NOT EXISTS labels (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	id         TEXT NOT NULL,
	name       TEXT,
	color      INTEGER,
	deleted    INTEGER NOT NULL DEFAULT 0,
	deleted_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, id)
);

CREATE TABLE IF NOT EXISTS label_associations (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	label_id   TEXT NOT NULL,
	target_jid TEXT NOT NULL,
	message_id TEXT NOT NULL DEFAULT '',
	labeled    INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, label_id, target_jid, message_id)
);

CREATE TABLE IF NOT EXISTS webhooks (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	event          TEXT NOT NULL,
	url            TEXT NOT NULL,
	headers        TEXT,
	enabled        INTEGER NOT NULL DEFAULT 1,
	retry_count    INTEGER NOT NULL DEFAULT 3,
	retry_delay_ms INTEGER NOT NULL DEFAULT 1000,
	timeout_ms     INTEGER NOT NULL DEFAULT 10000,
	failure_count  INTEGER NOT NULL DEFAULT 0,
	last_success   DATETIME,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL,
	UNIQUE (session_id, event)
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id          TEXT PRIMARY KEY,
	webhook_id  TEXT NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
	session_id  TEXT NOT NULL,
	event       TEXT NOT NULL,
	attempt     INTEGER NOT NULL,
	status      TEXT NOT NULL,
	status_code INTEGER,
	error       TEXT,
	elapsed_ms  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON webhook_deliveries(webhook_id, created_at);

CREATE TABLE IF NOT EXISTS activity_logs (
	id         TEXT PRIMARY KEY,
	session_id TEXT REFERENCES sessions(id) ON DELETE SET NULL,
	user_id    TEXT REFERENCES users(id) ON DELETE SET NULL,
	action     TEXT NOT NULL,
	details    TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS backups (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	path       TEXT NOT NULL,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
`

func (db *DB) applySchema() error {
	_, err := db.Exec(schema)
	return err
}
