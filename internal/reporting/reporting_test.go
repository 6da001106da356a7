package reporting

import (
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/christosk92/wavee-go/internal/config"
	"github.com/christosk92/wavee-go/internal/db"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Record(event Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *captureSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func defaultFilter() config.EventReporting {
	return config.EventReporting{SpotifyTracks: true, Podcasts: true}
}

var hex32 = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestTrackStarted_MintsSessionAndPlayback(t *testing.T) {
	sink := &captureSink{}
	reporter := New(defaultFilter(), "device-1", nil, sink)

	reporter.TrackStarted("spotify:track:a", "spotify:album:x", 10, ReasonPlayBtn)

	events := sink.all()
	require.Len(t, events, 2)
	require.Equal(t, EventNewSessionID, events[0].Type)
	require.Regexp(t, hex32, events[0].SessionID)
	require.Equal(t, "spotify:album:x", events[0].ContextURI)
	require.Equal(t, 10, events[0].ContextSize)

	require.Equal(t, EventNewPlaybackID, events[1].Type)
	require.Equal(t, events[0].SessionID, events[1].SessionID)
	require.Regexp(t, hex32, events[1].PlaybackID)
}

func TestSessionPersistsAcrossSameContext(t *testing.T) {
	sink := &captureSink{}
	reporter := New(defaultFilter(), "device-1", nil, sink)

	reporter.TrackStarted("spotify:track:a", "spotify:album:x", 3, ReasonPlayBtn)
	firstSession := reporter.SessionID()
	reporter.TrackEnded(ReasonTrackDone, nil, PlayerInfo{})

	reporter.TrackStarted("spotify:track:b", "spotify:album:x", 3, ReasonTrackDone)
	require.Equal(t, firstSession, reporter.SessionID())

	// A different context regenerates the session id.
	reporter.TrackStarted("spotify:track:c", "spotify:playlist:p", 5, ReasonPlayBtn)
	require.NotEqual(t, firstSession, reporter.SessionID())
}

func TestEveryStartMintsFreshPlaybackID(t *testing.T) {
	reporter := New(defaultFilter(), "device-1", nil)

	reporter.TrackStarted("spotify:track:a", "spotify:album:x", 2, ReasonPlayBtn)
	first := reporter.PlaybackID()
	reporter.TrackEnded(ReasonTrackDone, nil, PlayerInfo{})
	reporter.TrackStarted("spotify:track:b", "spotify:album:x", 2, ReasonTrackDone)
	second := reporter.PlaybackID()

	require.NotEqual(t, first, second)
}

func TestTrackTransition_PairsWithPlaybackID(t *testing.T) {
	sink := &captureSink{}
	reporter := New(defaultFilter(), "device-1", nil, sink)

	reporter.TrackStarted("spotify:track:a", "spotify:album:x", 2, ReasonPlayBtn)
	playbackID := reporter.PlaybackID()
	reporter.TrackEnded(ReasonFwdBtn, []Interval{{StartMs: 0, EndMs: 4000}}, PlayerInfo{DurationMs: 200000})

	events := sink.all()
	require.Len(t, events, 3)
	transition := events[2]
	require.Equal(t, EventTrackTransition, transition.Type)
	require.Equal(t, playbackID, transition.Metrics.PlaybackID)
	require.Equal(t, ReasonPlayBtn, transition.Metrics.ReasonStart)
	require.Equal(t, ReasonFwdBtn, transition.Metrics.ReasonEnd)
	require.Equal(t, "device-1", transition.DeviceID)

	// The playback is closed; a second end is a no-op.
	reporter.TrackEnded(ReasonEndPlay, nil, PlayerInfo{})
	require.Len(t, sink.all(), 3)
}

func TestFilter_BlocksDisabledSchemes(t *testing.T) {
	sink := &captureSink{}
	reporter := New(defaultFilter(), "device-1", nil, sink)

	reporter.TrackStarted("/music/a.mp3", "", 0, ReasonPlayBtn)
	reporter.TrackStarted("https://radio.example/live", "", 0, ReasonPlayBtn)
	require.Empty(t, sink.all())

	require.True(t, reporter.Enabled("spotify:track:a"))
	require.True(t, reporter.Enabled("spotify:episode:a"))
	require.False(t, reporter.Enabled("/music/a.mp3"))
	require.False(t, reporter.Enabled("https://radio.example/live"))
}

func TestSinkPanicIsContained(t *testing.T) {
	reporter := New(defaultFilter(), "device-1", nil, panicSink{})
	require.NotPanics(t, func() {
		reporter.TrackStarted("spotify:track:a", "spotify:album:x", 1, ReasonPlayBtn)
	})
}

type panicSink struct{}

func (panicSink) Record(Event) { panic("sink exploded") }

func TestSQLiteRecorder_PersistsEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	dbPair, err := db.Init(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	recorder := NewSQLiteRecorder(dbPair, nil)
	reporter := New(defaultFilter(), "device-1", nil, recorder)

	reporter.TrackStarted("spotify:track:a", "spotify:album:x", 2, ReasonPlayBtn)
	reporter.TrackEnded(ReasonTrackDone, []Interval{{EndMs: 1000}}, PlayerInfo{DurationMs: 1000})

	var count int
	err = dbPair.Reader().QueryRow(`SELECT COUNT(*) FROM playback_events`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	var eventType, sessionID string
	err = dbPair.Reader().QueryRow(
		`SELECT event_type, session_id FROM playback_events ORDER BY id LIMIT 1`).
		Scan(&eventType, &sessionID)
	require.NoError(t, err)
	require.Equal(t, EventNewSessionID, eventType)
	require.Regexp(t, hex32, sessionID)
}
