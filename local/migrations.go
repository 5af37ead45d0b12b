package local

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS folders (
	path       TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	uid               INTEGER PRIMARY KEY AUTOINCREMENT,
	folder            TEXT NOT NULL REFERENCES folders(path) ON DELETE CASCADE,
	header_message_id TEXT NOT NULL DEFAULT '',
	subject           TEXT NOT NULL DEFAULT '',
	author            TEXT NOT NULL DEFAULT '',
	date_unix         INTEGER NOT NULL DEFAULT 0,
	flagged           INTEGER NOT NULL DEFAULT 0,
	seen              INTEGER NOT NULL DEFAULT 0,
	tags              TEXT NOT NULL DEFAULT '[]',
	size              INTEGER NOT NULL DEFAULT 0,
	raw               BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_folder_mid ON messages(folder, header_message_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
