package player

import (
	"sync"
	"time"

	"github.com/christosk92/wavee-go/internal/track"
)

// PlaybackState is the snapshot published after every state-changing
// operation. Subscribers see each state as an indivisible value, in the
// order produced.
type PlaybackState struct {
	TrackURI  string `json:"track_uri"`
	TrackUID  string `json:"track_uid"`
	AlbumURI  string `json:"album_uri"`
	ArtistURI string `json:"artist_uri"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Album     string `json:"album"`

	ContextURI string `json:"context_uri"`
	ContextURL string `json:"context_url"`

	PositionMs int64 `json:"position_ms"`
	DurationMs int64 `json:"duration_ms"`

	IsPlaying   bool `json:"is_playing"`
	IsPaused    bool `json:"is_paused"`
	IsBuffering bool `json:"is_buffering"`

	Shuffling        bool `json:"shuffling"`
	RepeatingContext bool `json:"repeating_context"`
	RepeatingTrack   bool `json:"repeating_track"`
	CanSeek          bool `json:"can_seek"`

	CurrentIndex int                `json:"current_index"`
	PrevTracks   []track.Descriptor `json:"prev_tracks"`
	NextTracks   []track.Descriptor `json:"next_tracks"`

	QueueRevision uint64  `json:"queue_revision"`
	PlaybackSpeed float64 `json:"playback_speed"`
	TimestampMs   int64   `json:"timestamp_ms"`
}

// stateBufferSize bounds each subscriber's pending updates. A slow
// subscriber loses its oldest pending states but never sees them out of
// order.
const stateBufferSize = 64

// StateSubject is a current-value cell with multicast of updates and
// last-value replay on subscribe.
type StateSubject struct {
	mu          sync.Mutex
	current     PlaybackState
	hasValue    bool
	subscribers map[int]chan PlaybackState
	nextID      int
}

// NewStateSubject creates an empty subject.
func NewStateSubject() *StateSubject {
	return &StateSubject{subscribers: make(map[int]chan PlaybackState)}
}

// Publish atomically stores the state and multicasts it.
func (s *StateSubject) Publish(state PlaybackState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = state
	s.hasValue = true
	for _, subscriber := range s.subscribers {
		deliver(subscriber, state)
	}
}

// deliver pushes onto the subscriber's channel, dropping its oldest
// pending state when full so ordering is preserved.
func deliver(subscriber chan PlaybackState, state PlaybackState) {
	for {
		select {
		case subscriber <- state:
			return
		default:
			select {
			case <-subscriber:
			default:
			}
		}
	}
}

// Current returns the latest published state.
func (s *StateSubject) Current() (PlaybackState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasValue
}

// Subscribe registers a consumer. The latest state, if any, is replayed
// immediately. The returned cancel func releases the subscription.
func (s *StateSubject) Subscribe() (<-chan PlaybackState, func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	subscriber := make(chan PlaybackState, stateBufferSize)
	s.subscribers[id] = subscriber
	if s.hasValue {
		subscriber <- s.current
	}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
	return subscriber, cancel
}

func nowUTCMs() int64 {
	return time.Now().UTC().UnixMilli()
}
