package sqlite

// Schema is applied on open. Statements are idempotent so re-opening an
// existing database is safe.
//
// The UNIQUE(patient_id, doctor_id) constraint is the single authority for
// conversation-pair uniqueness; application code never relies on a
// check-then-create sequence.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL CHECK (role IN ('patient', 'doctor')),
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversations (
	id               TEXT PRIMARY KEY,
	patient_id       INTEGER NOT NULL REFERENCES users(id),
	doctor_id        INTEGER NOT NULL REFERENCES users(id),
	is_active        BOOLEAN NOT NULL DEFAULT 1,
	last_activity_at DATETIME NOT NULL,
	created_at       DATETIME NOT NULL,
	UNIQUE (patient_id, doctor_id)
);

CREATE INDEX IF NOT EXISTS idx_conversations_activity
	ON conversations(last_activity_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	sender_id       INTEGER NOT NULL REFERENCES users(id),
	content         TEXT NOT NULL,
	sent_at         DATETIME NOT NULL,
	read            BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, id);

CREATE INDEX IF NOT EXISTS idx_messages_unread
	ON messages(conversation_id, read) WHERE read = 0;
`
