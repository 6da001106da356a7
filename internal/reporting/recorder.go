package reporting

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/christosk92/wavee-go/internal/db"
)

// SQLiteRecorder persists reporting events so the client can show
// listening history. Failures are logged and swallowed; recording never
// disturbs playback.
type SQLiteRecorder struct {
	writer *sql.DB
	logger *log.Logger
}

// NewSQLiteRecorder creates a recorder over the shared database pair.
func NewSQLiteRecorder(dbPair *db.DBPair, logger *log.Logger) *SQLiteRecorder {
	if logger == nil {
		logger = log.Default()
	}
	return &SQLiteRecorder{writer: dbPair.Writer(), logger: logger}
}

// Record implements Sink.
func (r *SQLiteRecorder) Record(event Event) {
	var payload []byte
	var trackID string
	if event.Metrics != nil {
		trackID = event.Metrics.TrackID
		encoded, err := json.Marshal(event.Metrics)
		if err != nil {
			r.logger.Printf("reporting recorder: marshal metrics: %v", err)
			return
		}
		payload = encoded
	}

	playbackID := event.PlaybackID
	if playbackID == "" && event.Metrics != nil {
		playbackID = event.Metrics.PlaybackID
	}

	_, err := r.writer.Exec(`
		INSERT INTO playback_events (event_type, session_id, playback_id, track_id, context_uri, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.Type, event.SessionID, nullable(playbackID), nullable(trackID),
		nullable(event.ContextURI), nullableBytes(payload), time.Now().UnixMilli())
	if err != nil {
		r.logger.Printf("reporting recorder: insert failed: %v", err)
	}
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableBytes(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}
