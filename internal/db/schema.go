package db

import "database/sql"

// Schema for the durable cache tier and the reporting event log.
// The cache consumes these tables through its own store interface; nothing
// above internal/cache depends on the table shapes.
const schema = `
CREATE TABLE IF NOT EXISTS tracks (
	uri TEXT PRIMARY KEY,
	title TEXT,
	artist TEXT,
	album TEXT,
	album_uri TEXT,
	artist_uri TEXT,
	duration_ms INTEGER,
	track_number INTEGER,
	disc_number INTEGER,
	is_playable INTEGER NOT NULL DEFAULT 1,
	is_explicit INTEGER NOT NULL DEFAULT 0,
	audio_key BLOB,
	head_data BLOB,
	expires_at INTEGER,
	accessed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cdn_urls (
	file_id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS contexts (
	context_uri TEXT PRIMARY KEY,
	track_uris TEXT NOT NULL,
	total_count INTEGER,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS playback_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	session_id TEXT NOT NULL,
	playback_id TEXT,
	track_id TEXT,
	context_uri TEXT,
	payload TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tracks_accessed ON tracks(accessed_at);
CREATE INDEX IF NOT EXISTS idx_cdn_expiry ON cdn_urls(expires_at);
CREATE INDEX IF NOT EXISTS idx_events_session ON playback_events(session_id);
`

func applySchema(writer *sql.DB) error {
	_, err := writer.Exec(schema)
	return err
}
