// Package reporting mints the session and playback identifiers that
// group played tracks for off-device analytics, and emits the
// transition events describing each play.
package reporting

import (
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/christosk92/wavee-go/internal/config"
	"github.com/christosk92/wavee-go/internal/uri"
)

// Reasons a track started or ended.
const (
	ReasonPlayBtn   = "playbtn"
	ReasonFwdBtn    = "fwdbtn"
	ReasonBackBtn   = "backbtn"
	ReasonTransfer  = "transfer"
	ReasonAutoplay  = "autoplay"
	ReasonTrackDone = "trackdone"
	ReasonEndPlay   = "endplay"
	ReasonRemote    = "remote"
)

// Interval is one contiguous played span within a track.
type Interval struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// PlayerInfo describes the decode of one playback.
type PlayerInfo struct {
	DurationMs        int64  `json:"duration_ms"`
	DecodedLength     int64  `json:"decoded_length"`
	Bitrate           int    `json:"bitrate"`
	Encoding          string `json:"encoding"`
	Transition        string `json:"transition"`
	PreloadedAudioKey bool   `json:"preloaded_audio_key"`
	AudioKeyTimeMs    int64  `json:"audio_key_time_ms"`
}

// Metrics is the per-playback payload of a TrackTransition event.
type Metrics struct {
	TrackID     string     `json:"track_id"`
	PlaybackID  string     `json:"playback_id"`
	ContextURI  string     `json:"context_uri"`
	SourceStart string     `json:"source_start"`
	ReasonStart string     `json:"reason_start"`
	SourceEnd   string     `json:"source_end"`
	ReasonEnd   string     `json:"reason_end"`
	Intervals   []Interval `json:"intervals"`
	Player      PlayerInfo `json:"player"`
}

// Event is one reporting-channel record.
type Event struct {
	// Type is one of "new_session_id", "new_playback_id",
	// "track_transition".
	Type string `json:"type"`

	SessionID   string `json:"session_id,omitempty"`
	PlaybackID  string `json:"playback_id,omitempty"`
	ContextURI  string `json:"context_uri,omitempty"`
	ContextSize int    `json:"context_size,omitempty"`

	DeviceID          string   `json:"device_id,omitempty"`
	LastCommandDevice string   `json:"last_command_device,omitempty"`
	Metrics           *Metrics `json:"metrics,omitempty"`
}

const (
	EventNewSessionID    = "new_session_id"
	EventNewPlaybackID   = "new_playback_id"
	EventTrackTransition = "track_transition"
)

// Sink receives emitted events. Delivery is best-effort; a sink must
// never block the audio path for long.
type Sink interface {
	Record(event Event)
}

// Reporter owns the session/playback id lifecycle: one session per
// context transition, one playback id per track start.
type Reporter struct {
	mu sync.Mutex

	filter   config.EventReporting
	deviceID string
	sinks    []Sink
	logger   *log.Logger

	sessionID      string
	sessionContext string
	playbackID     string
	trackID        string
	startReason    string
}

// New creates a Reporter emitting to the given sinks.
func New(filter config.EventReporting, deviceID string, logger *log.Logger, sinks ...Sink) *Reporter {
	if logger == nil {
		logger = log.Default()
	}
	return &Reporter{filter: filter, deviceID: deviceID, sinks: sinks, logger: logger}
}

// AddSink registers another event consumer.
func (r *Reporter) AddSink(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
}

// Enabled reports whether the URI's scheme passes the reporting filter.
func (r *Reporter) Enabled(trackURI string) bool {
	switch uri.KindOf(trackURI) {
	case uri.KindTrack:
		return r.filter.SpotifyTracks
	case uri.KindEpisode, uri.KindShow:
		return r.filter.Podcasts
	case uri.KindStream:
		return r.filter.HTTPStreams
	case uri.KindLocal:
		return r.filter.LocalFiles
	default:
		return false
	}
}

// TrackStarted mints the identifiers for a starting track: a new
// session id when the context URI changed, and always a new playback
// id. No-op when the URI fails the filter.
func (r *Reporter) TrackStarted(trackURI, contextURI string, contextSize int, startReason string) {
	if !r.Enabled(trackURI) {
		return
	}

	r.mu.Lock()
	if contextURI != r.sessionContext || r.sessionID == "" {
		r.sessionID = newHex32()
		r.sessionContext = contextURI
		session := Event{
			Type:        EventNewSessionID,
			SessionID:   r.sessionID,
			ContextURI:  contextURI,
			ContextSize: contextSize,
		}
		r.emitLocked(session)
	}

	r.playbackID = newHex32()
	r.trackID = trackURI
	r.startReason = startReason
	playback := Event{
		Type:       EventNewPlaybackID,
		SessionID:  r.sessionID,
		PlaybackID: r.playbackID,
	}
	r.emitLocked(playback)
	r.mu.Unlock()
}

// TrackEnded emits the transition event closing the current playback.
// No-op when no playback is open.
func (r *Reporter) TrackEnded(endReason string, intervals []Interval, player PlayerInfo) {
	r.mu.Lock()
	if r.playbackID == "" {
		r.mu.Unlock()
		return
	}
	transition := Event{
		Type:              EventTrackTransition,
		SessionID:         r.sessionID,
		DeviceID:          r.deviceID,
		LastCommandDevice: r.deviceID,
		Metrics: &Metrics{
			TrackID:     r.trackID,
			PlaybackID:  r.playbackID,
			ContextURI:  r.sessionContext,
			SourceStart: "context",
			ReasonStart: r.startReason,
			SourceEnd:   "context",
			ReasonEnd:   endReason,
			Intervals:   intervals,
			Player:      player,
		},
	}
	r.playbackID = ""
	r.trackID = ""
	r.emitLocked(transition)
	r.mu.Unlock()
}

// SessionID returns the current session id, empty before any start.
func (r *Reporter) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// PlaybackID returns the open playback id, empty between tracks.
func (r *Reporter) PlaybackID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playbackID
}

// emitLocked fans the event out; sink panics are contained so event
// emission stays isolated from the audio path.
func (r *Reporter) emitLocked(event Event) {
	for _, sink := range r.sinks {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					r.logger.Printf("reporting sink panic: %v", recovered)
				}
			}()
			sink.Record(event)
		}()
	}
}

// newHex32 returns a uniformly formatted 32-char lowercase hex id.
func newHex32() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
