// Package pipeline defines the pluggable playback stages: track
// sources, decoders, the processor chain and the audio sink. Stages
// report failure by returning errors or false, never by interrupting
// the audio path mid-buffer.
package pipeline

import (
	"context"
	"io"
)

// Metadata is what a track source knows about the stream it loaded.
type Metadata struct {
	Title               string
	Artist              string
	Album               string
	DurationMs          int64
	NormalizationGainDb float64
	FileID              string
}

// TrackStream is an open, loaded track: its metadata, its byte stream,
// and whether that stream supports seeking.
type TrackStream interface {
	Metadata() Metadata
	CanSeek() bool
	// Reader returns the byte stream. When CanSeek is true it also
	// implements io.Seeker.
	Reader() io.Reader
	// PrefetchForSeek warms the source around the target position so a
	// seek does not stall the decode loop. Best-effort.
	PrefetchForSeek(ctx context.Context, positionMs int64) error
	Close() error
}

// TrackSource loads playable streams for the URI shapes it handles.
type TrackSource interface {
	CanHandle(uri string) bool
	Load(ctx context.Context, uri string) (TrackStream, error)
}

// SourceRegistry is an ordered lookup-by-capability list of sources.
type SourceRegistry struct {
	sources []TrackSource
}

// NewSourceRegistry creates a registry probing sources in order.
func NewSourceRegistry(sources ...TrackSource) *SourceRegistry {
	return &SourceRegistry{sources: sources}
}

// Register appends a source after those already present.
func (r *SourceRegistry) Register(source TrackSource) {
	r.sources = append(r.sources, source)
}

// Find returns the first source that can handle the URI, or nil.
func (r *SourceRegistry) Find(uri string) TrackSource {
	for _, source := range r.sources {
		if source.CanHandle(uri) {
			return source
		}
	}
	return nil
}
