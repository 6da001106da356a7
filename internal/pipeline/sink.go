package pipeline

import "context"

// SinkStatus reports the output device's playback position and buffer
// fill.
type SinkStatus struct {
	PositionMs int64
	BufferMs   int
	Playing    bool
}

// Sink is the audio output device boundary. Write blocks while the
// device buffer is full, providing back-pressure to the decode loop.
// Resume returns false when the device has gone away.
type Sink interface {
	Initialize(format AudioFormat, bufferMs int) error
	Write(ctx context.Context, data []byte) error
	Pause() error
	Resume() bool
	Flush() error
	Status() SinkStatus
	Close() error
}
