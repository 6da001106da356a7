package main

import (
	"context"
	"sync"
	"time"

	"github.com/christosk92/wavee-go/internal/pipeline"
)

// nullSink is the built-in headless output: it paces writes at real
// time so the engine behaves like it is driving a device, without any
// platform audio dependency. A real device sink is registered by the
// embedding client.
type nullSink struct {
	mu         sync.Mutex
	format     pipeline.AudioFormat
	positionMs int64
	paused     bool
	resumeCh   chan struct{}
}

func (s *nullSink) Initialize(format pipeline.AudioFormat, _ int) error {
	s.mu.Lock()
	s.format = format
	s.positionMs = 0
	s.mu.Unlock()
	return nil
}

func (s *nullSink) Write(ctx context.Context, data []byte) error {
	for {
		s.mu.Lock()
		paused := s.paused
		resumeCh := s.resumeCh
		s.mu.Unlock()
		if !paused {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resumeCh:
		}
	}

	s.mu.Lock()
	bytesPerMs := s.format.BytesPerMs()
	s.mu.Unlock()
	if bytesPerMs <= 0 {
		return nil
	}

	wait := time.Duration(len(data)/bytesPerMs) * time.Millisecond
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}

	s.mu.Lock()
	s.positionMs += int64(len(data) / bytesPerMs)
	s.mu.Unlock()
	return nil
}

func (s *nullSink) Pause() error {
	s.mu.Lock()
	if !s.paused {
		s.paused = true
		s.resumeCh = make(chan struct{})
	}
	s.mu.Unlock()
	return nil
}

func (s *nullSink) Resume() bool {
	s.mu.Lock()
	if s.paused {
		s.paused = false
		close(s.resumeCh)
	}
	s.mu.Unlock()
	return true
}

func (s *nullSink) Flush() error { return nil }

func (s *nullSink) Status() pipeline.SinkStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pipeline.SinkStatus{PositionMs: s.positionMs, Playing: !s.paused}
}

func (s *nullSink) Close() error { return nil }
