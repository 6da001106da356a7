package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// AudioFormat is the negotiated PCM output format of a decoder.
type AudioFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// BytesPerMs returns the PCM byte rate for one millisecond of audio.
func (f AudioFormat) BytesPerMs() int {
	return f.SampleRate * f.Channels * (f.BitDepth / 8) / 1000
}

// PCMBuffer is one decoded chunk with the stream position of its first
// sample.
type PCMBuffer struct {
	Data       []byte
	PositionMs int64
}

// Session is an active decode of one stream. NextBuffer returns io.EOF
// when the stream ends; Rewind re-enters the stream at a position and is
// only supported over seekable inputs.
type Session interface {
	Format() AudioFormat
	NextBuffer(ctx context.Context) (*PCMBuffer, error)
	Rewind(startMs int64) error
	Close() error
}

// Decoder sniffs and decodes one encoding. CanDecode may consume a
// prefix of the reader it probes; the registry rewinds around it.
type Decoder interface {
	CanDecode(probe io.Reader) bool
	Open(stream io.Reader, startMs int64, onIcyTitle func(string)) (Session, error)
}

// probeSnapshotSize is how many header bytes the registry buffers to
// probe decoders over non-seekable streams.
const probeSnapshotSize = 8192

// DecoderRegistry is an ordered lookup-by-capability list of decoders.
type DecoderRegistry struct {
	decoders []Decoder
}

// NewDecoderRegistry creates a registry probing decoders in order.
func NewDecoderRegistry(decoders ...Decoder) *DecoderRegistry {
	return &DecoderRegistry{decoders: decoders}
}

// Register appends a decoder after those already present.
func (r *DecoderRegistry) Register(decoder Decoder) {
	r.decoders = append(r.decoders, decoder)
}

// Find probes the registered decoders against the stream. For seekable
// streams each probe is rewound in place; for non-seekable streams a
// buffered header snapshot is probed instead and the returned reader
// prepends that snapshot so no bytes are lost.
func (r *DecoderRegistry) Find(stream io.Reader, canSeek bool) (Decoder, io.Reader, error) {
	if canSeek {
		seeker, ok := stream.(io.Seeker)
		if !ok {
			return nil, nil, fmt.Errorf("stream reports seekable but implements no io.Seeker")
		}
		for _, decoder := range r.decoders {
			ok := decoder.CanDecode(stream)
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return nil, nil, fmt.Errorf("rewind after probe: %w", err)
			}
			if ok {
				return decoder, stream, nil
			}
		}
		return nil, nil, nil
	}

	header := make([]byte, probeSnapshotSize)
	n, err := io.ReadFull(stream, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, nil, err
	}
	header = header[:n]

	for _, decoder := range r.decoders {
		if decoder.CanDecode(bytes.NewReader(header)) {
			// Hand back a stream that replays the snapshot first.
			return decoder, io.MultiReader(bytes.NewReader(header), stream), nil
		}
	}
	return nil, nil, nil
}
