package cache

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/christosk92/wavee-go/internal/db"
)

// SQLiteStore is the durable cold tier over the shared database pair.
type SQLiteStore struct {
	reader *sql.DB
	writer *sql.DB
}

// NewSQLiteStore creates the cold store over an initialized DBPair.
func NewSQLiteStore(dbPair *db.DBPair) *SQLiteStore {
	return &SQLiteStore{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

const trackColumns = `uri, title, artist, album, album_uri, artist_uri, duration_ms,
	track_number, disc_number, is_playable, is_explicit, audio_key, head_data, expires_at, accessed_at`

// GetTrack fetches one track row; nil means not present.
func (s *SQLiteStore) GetTrack(ctx context.Context, trackURI string) (*TrackEntry, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE uri = ?`, trackURI)
	entry, err := scanTrack(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetTracks fetches a batch of rows in one query.
func (s *SQLiteStore) GetTracks(ctx context.Context, trackURIs []string) (map[string]TrackEntry, error) {
	if len(trackURIs) == 0 {
		return map[string]TrackEntry{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(trackURIs)), ",")
	args := make([]any, len(trackURIs))
	for i, trackURI := range trackURIs {
		args[i] = trackURI
	}

	rows, err := s.reader.QueryContext(ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE uri IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]TrackEntry, len(trackURIs))
	for rows.Next() {
		entry, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		found[entry.URI] = *entry
	}
	return found, rows.Err()
}

// PutTrack upserts one track row.
func (s *SQLiteStore) PutTrack(ctx context.Context, entry TrackEntry) error {
	return s.PutTracks(ctx, []TrackEntry{entry})
}

// PutTracks upserts a batch inside one transaction.
func (s *SQLiteStore) PutTracks(ctx context.Context, entries []TrackEntry) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracks (`+trackColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			title=excluded.title, artist=excluded.artist, album=excluded.album,
			album_uri=excluded.album_uri, artist_uri=excluded.artist_uri,
			duration_ms=excluded.duration_ms, track_number=excluded.track_number,
			disc_number=excluded.disc_number, is_playable=excluded.is_playable,
			is_explicit=excluded.is_explicit,
			audio_key=COALESCE(excluded.audio_key, tracks.audio_key),
			head_data=COALESCE(excluded.head_data, tracks.head_data),
			expires_at=excluded.expires_at, accessed_at=excluded.accessed_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, entry := range entries {
		if entry.URI == "" {
			continue
		}
		var expiresAt *int64
		if !entry.CDNExpiry.IsZero() {
			ms := entry.CDNExpiry.UnixMilli()
			expiresAt = &ms
		}
		_, err = stmt.ExecContext(ctx,
			entry.URI, entry.Title, entry.Artist, entry.Album, entry.AlbumURI,
			entry.ArtistURI, entry.DurationMs, entry.TrackNumber, entry.DiscNumber,
			entry.IsPlayable, entry.IsExplicit, nullableBytes(entry.AudioKey),
			nullableBytes(entry.HeadData), expiresAt, entry.AccessedAt.UnixMilli())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetCDN fetches a CDN URL row; empty url means not present.
func (s *SQLiteStore) GetCDN(ctx context.Context, fileID string) (string, time.Time, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT url, expires_at FROM cdn_urls WHERE file_id = ?`, fileID)
	var cdnURL string
	var expiresAt int64
	err := row.Scan(&cdnURL, &expiresAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return cdnURL, time.UnixMilli(expiresAt), nil
}

// PutCDN upserts a CDN URL row.
func (s *SQLiteStore) PutCDN(ctx context.Context, fileID, cdnURL string, expiresAt time.Time) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO cdn_urls (file_id, url, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET url=excluded.url, expires_at=excluded.expires_at
	`, fileID, cdnURL, expiresAt.UnixMilli())
	return err
}

// GetContext fetches a cached context resolution; nil means not present.
func (s *SQLiteStore) GetContext(ctx context.Context, contextURI string) (*ContextEntry, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT context_uri, track_uris, total_count, expires_at FROM contexts WHERE context_uri = ?`,
		contextURI)

	var entry ContextEntry
	var trackURIs string
	var totalCount sql.NullInt64
	var expiresAt int64
	err := row.Scan(&entry.ContextURI, &trackURIs, &totalCount, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if trackURIs != "" {
		entry.TrackURIs = strings.Split(trackURIs, "\n")
	}
	entry.TotalCount = int(totalCount.Int64)
	entry.ExpiresAt = time.UnixMilli(expiresAt)
	return &entry, nil
}

// PutContext upserts a context resolution.
func (s *SQLiteStore) PutContext(ctx context.Context, entry ContextEntry) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO contexts (context_uri, track_uris, total_count, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(context_uri) DO UPDATE SET
			track_uris=excluded.track_uris, total_count=excluded.total_count,
			expires_at=excluded.expires_at
	`, entry.ContextURI, strings.Join(entry.TrackURIs, "\n"), entry.TotalCount,
		entry.ExpiresAt.UnixMilli())
	return err
}

// DeleteExpired drops durable rows whose stored TTL has passed.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	nowMs := now.UnixMilli()
	var total int64

	result, err := s.writer.ExecContext(ctx, `DELETE FROM cdn_urls WHERE expires_at <= ?`, nowMs)
	if err != nil {
		return total, err
	}
	if n, err := result.RowsAffected(); err == nil {
		total += n
	}

	result, err = s.writer.ExecContext(ctx, `DELETE FROM contexts WHERE expires_at <= ?`, nowMs)
	if err != nil {
		return total, err
	}
	if n, err := result.RowsAffected(); err == nil {
		total += n
	}
	return total, nil
}

// Clear empties every cold table.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	for _, table := range []string{"tracks", "cdn_urls", "contexts"} {
		if _, err := s.writer.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (*TrackEntry, error) {
	var entry TrackEntry
	var title, artist, album, albumURI, artistURI sql.NullString
	var durationMs sql.NullInt64
	var trackNumber, discNumber sql.NullInt64
	var audioKey, headData []byte
	var expiresAt sql.NullInt64
	var accessedAt int64

	err := row.Scan(&entry.URI, &title, &artist, &album, &albumURI, &artistURI,
		&durationMs, &trackNumber, &discNumber, &entry.IsPlayable, &entry.IsExplicit,
		&audioKey, &headData, &expiresAt, &accessedAt)
	if err != nil {
		return nil, err
	}

	entry.Title = title.String
	entry.Artist = artist.String
	entry.Album = album.String
	entry.AlbumURI = albumURI.String
	entry.ArtistURI = artistURI.String
	entry.DurationMs = durationMs.Int64
	entry.TrackNumber = int(trackNumber.Int64)
	entry.DiscNumber = int(discNumber.Int64)
	entry.AudioKey = audioKey
	entry.HeadData = headData
	if expiresAt.Valid {
		entry.CDNExpiry = time.UnixMilli(expiresAt.Int64)
	}
	entry.AccessedAt = time.UnixMilli(accessedAt)
	return &entry, nil
}

func nullableBytes(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}
