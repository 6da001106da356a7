package pipeline

import (
	"encoding/binary"
	"math"
	"sync"
)

// Processor transforms PCM buffers in place on the decode path.
type Processor interface {
	Initialize(format AudioFormat) error
	Process(buffer PCMBuffer) PCMBuffer
}

// Chain runs buffers through an ordered list of processors.
type Chain struct {
	processors []Processor
}

// NewChain builds a processor chain.
func NewChain(processors ...Processor) *Chain {
	return &Chain{processors: processors}
}

// Initialize prepares every processor for the negotiated format.
func (c *Chain) Initialize(format AudioFormat) error {
	for _, processor := range c.processors {
		if err := processor.Initialize(format); err != nil {
			return err
		}
	}
	return nil
}

// Process runs one buffer through the chain.
func (c *Chain) Process(buffer PCMBuffer) PCMBuffer {
	for _, processor := range c.processors {
		buffer = processor.Process(buffer)
	}
	return buffer
}

// NormalizationProcessor applies a per-track gain so tracks play at a
// consistent loudness target. Gain is set from track metadata before
// each track starts; zero gain passes buffers through untouched.
type NormalizationProcessor struct {
	enabled  bool
	bitDepth int
	scale    float64
}

// NewNormalizationProcessor creates the processor; disabled instances
// pass audio through unchanged.
func NewNormalizationProcessor(enabled bool) *NormalizationProcessor {
	return &NormalizationProcessor{enabled: enabled, scale: 1}
}

// Initialize records the sample layout.
func (p *NormalizationProcessor) Initialize(format AudioFormat) error {
	p.bitDepth = format.BitDepth
	return nil
}

// SetTrackGain installs the track's normalization gain in dB.
func (p *NormalizationProcessor) SetTrackGain(gainDb float64) {
	if !p.enabled || gainDb == 0 {
		p.scale = 1
		return
	}
	p.scale = math.Pow(10, gainDb/20)
}

// Process scales 16-bit samples by the track gain, clamping at the
// sample range. Other bit depths pass through.
func (p *NormalizationProcessor) Process(buffer PCMBuffer) PCMBuffer {
	if p.scale == 1 || p.bitDepth != 16 {
		return buffer
	}
	data := buffer.Data
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(data[i:]))
		scaled := float64(sample) * p.scale
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		} else if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}
		binary.LittleEndian.PutUint16(data[i:], uint16(int16(scaled)))
	}
	return buffer
}

// VolumeProcessor applies the device volume as a linear factor.
//
// SetVolume is called from a command-handling goroutine while Process
// runs on the detached decode loop, so volume is guarded by a mutex
// rather than left as a plain field.
type VolumeProcessor struct {
	bitDepth int

	mu     sync.Mutex
	volume float64
}

// NewVolumeProcessor creates the processor at the given initial volume.
func NewVolumeProcessor(initial float64) *VolumeProcessor {
	if initial < 0 {
		initial = 0
	}
	if initial > 1 {
		initial = 1
	}
	return &VolumeProcessor{volume: initial}
}

// Initialize records the sample layout.
func (p *VolumeProcessor) Initialize(format AudioFormat) error {
	p.bitDepth = format.BitDepth
	return nil
}

// SetVolume updates the factor, clamped to [0, 1].
func (p *VolumeProcessor) SetVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
}

// Volume returns the current factor.
func (p *VolumeProcessor) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Process scales 16-bit samples by the volume factor.
func (p *VolumeProcessor) Process(buffer PCMBuffer) PCMBuffer {
	p.mu.Lock()
	volume := p.volume
	p.mu.Unlock()

	if volume == 1 || p.bitDepth != 16 {
		return buffer
	}
	data := buffer.Data
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(data[i:]))
		binary.LittleEndian.PutUint16(data[i:], uint16(int16(float64(sample)*volume)))
	}
	return buffer
}
