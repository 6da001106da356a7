package player

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/christosk92/wavee-go/internal/pipeline"
	"github.com/christosk92/wavee-go/internal/resolver"
	"github.com/christosk92/wavee-go/internal/track"
)

// The fake pipeline produces 16 bytes per millisecond of PCM
// (8 kHz mono 16-bit) in 100 ms buffers, so a 400 ms track is 4 buffers.
var fakeFormat = pipeline.AudioFormat{SampleRate: 8000, Channels: 1, BitDepth: 16}

const fakeBufferMs = 100

type fakeStream struct {
	metadata pipeline.Metadata
	canSeek  bool
	reader   *bytes.Reader
}

func (s *fakeStream) Metadata() pipeline.Metadata { return s.metadata }
func (s *fakeStream) CanSeek() bool               { return s.canSeek }
func (s *fakeStream) Reader() io.Reader           { return s.reader }
func (s *fakeStream) PrefetchForSeek(context.Context, int64) error {
	return nil
}
func (s *fakeStream) Close() error { return nil }

type fakeSource struct {
	mu       sync.Mutex
	tracks   map[string]pipeline.Metadata // durations per URI
	failURIs map[string]bool
	loads    []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{tracks: map[string]pipeline.Metadata{}, failURIs: map[string]bool{}}
}

func (s *fakeSource) addTrack(trackURI string, durationMs int64) {
	s.tracks[trackURI] = pipeline.Metadata{DurationMs: durationMs}
}

func (s *fakeSource) CanHandle(trackURI string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tracks[trackURI]
	return ok || s.failURIs[trackURI]
}

func (s *fakeSource) Load(_ context.Context, trackURI string) (pipeline.TrackStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads = append(s.loads, trackURI)
	if s.failURIs[trackURI] {
		return nil, errors.New("source rejected track")
	}
	metadata := s.tracks[trackURI]
	return &fakeStream{metadata: metadata, canSeek: true, reader: bytes.NewReader([]byte("PCM!"))}, nil
}

type fakeDecoder struct {
	perBufferDelay time.Duration
}

func (d *fakeDecoder) CanDecode(io.Reader) bool { return true }

func (d *fakeDecoder) Open(_ io.Reader, startMs int64, _ func(string)) (pipeline.Session, error) {
	// durationMs -1 produces an endless session, useful for seek and
	// pause tests.
	return &fakeSession{durationMs: -1, positionMs: startMs, delay: d.perBufferDelay}, nil
}

// durationDecoder builds sessions that end at the track duration.
type durationDecoder struct {
	durationMs int64
	delay      time.Duration
}

func (d *durationDecoder) CanDecode(io.Reader) bool { return true }

func (d *durationDecoder) Open(_ io.Reader, startMs int64, _ func(string)) (pipeline.Session, error) {
	return &fakeSession{durationMs: d.durationMs, positionMs: startMs, delay: d.delay}, nil
}

type fakeSession struct {
	mu         sync.Mutex
	durationMs int64
	positionMs int64
	delay      time.Duration
	closed     bool
}

func (s *fakeSession) Format() pipeline.AudioFormat { return fakeFormat }

func (s *fakeSession) NextBuffer(ctx context.Context) (*pipeline.PCMBuffer, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.durationMs >= 0 && s.positionMs >= s.durationMs {
		return nil, io.EOF
	}
	buffer := &pipeline.PCMBuffer{
		Data:       make([]byte, fakeFormat.BytesPerMs()*fakeBufferMs),
		PositionMs: s.positionMs,
	}
	s.positionMs += fakeBufferMs
	return buffer, nil
}

func (s *fakeSession) Rewind(startMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positionMs = startMs
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeSink struct {
	mu         sync.Mutex
	resumeOK   bool
	paused     bool
	writes     int
	flushes    int
	pauses     int
	resumes    int
	positionMs int64
}

func newFakeSink() *fakeSink { return &fakeSink{resumeOK: true} }

func (s *fakeSink) Initialize(pipeline.AudioFormat, int) error { return nil }

// Write models device back-pressure: while paused the buffer never
// drains, so writes block until resume or cancellation.
func (s *fakeSink) Write(ctx context.Context, data []byte) error {
	for {
		s.mu.Lock()
		paused := s.paused
		s.mu.Unlock()
		if !paused {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	s.writes++
	s.positionMs += int64(len(data) / fakeFormat.BytesPerMs())
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Pause() error {
	s.mu.Lock()
	s.pauses++
	s.paused = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumes++
	if s.resumeOK {
		s.paused = false
	}
	return s.resumeOK
}

func (s *fakeSink) Flush() error {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Status() pipeline.SinkStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pipeline.SinkStatus{PositionMs: s.positionMs, Playing: true}
}

func (s *fakeSink) Close() error { return nil }

// fakeLoader is a canned ContextLoader.
type fakeLoader struct {
	mu       sync.Mutex
	results  map[string]*resolver.LoadResult
	pages    map[string]*resolver.LoadResult
	loads    int
	pageHits int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{results: map[string]*resolver.LoadResult{}, pages: map[string]*resolver.LoadResult{}}
}

func (l *fakeLoader) LoadContext(_ context.Context, contextURI string, _ int, _ bool) (*resolver.LoadResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	result, ok := l.results[contextURI]
	if !ok {
		return nil, errors.New("unknown context")
	}
	return result, nil
}

func (l *fakeLoader) LoadNextPage(_ context.Context, token string, _ bool) (*resolver.LoadResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pageHits++
	result, ok := l.pages[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return result, nil
}

func (l *fakeLoader) EnrichTracks(_ context.Context, descriptors []track.Descriptor) []track.Descriptor {
	return descriptors
}

type replyCapture struct {
	mu      sync.Mutex
	replies []replyRecord
}

type replyRecord struct {
	key string
	err error
}

func (r *replyCapture) SendReply(key string, commandErr error) {
	r.mu.Lock()
	r.replies = append(r.replies, replyRecord{key: key, err: commandErr})
	r.mu.Unlock()
}

func (r *replyCapture) all() []replyRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]replyRecord(nil), r.replies...)
}

var _ pipeline.Decoder = (*fakeDecoder)(nil)
var _ pipeline.Decoder = (*durationDecoder)(nil)
