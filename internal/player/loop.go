package player

import (
	"context"
	"io"

	"github.com/christosk92/wavee-go/internal/apperrors"
	"github.com/christosk92/wavee-go/internal/pipeline"
	"github.com/christosk92/wavee-go/internal/reporting"
	"github.com/christosk92/wavee-go/internal/track"
)

// statePublishIntervalMs rate-limits position snapshots to roughly one
// per half second of decoded audio, independent of wall clock.
const statePublishIntervalMs = 500

// loopOutcome is how one track's playback ended.
type loopOutcome int

const (
	outcomeTrackDone loopOutcome = iota
	outcomeTrackFailed
	outcomeCancelled
	outcomeDeviceLost
)

// runLoop is the detached playback task. It never awaits its own task:
// end-of-context, empty queue and fatal errors all use the in-loop
// cleanup path instead of the command-side stop helper.
func (e *Engine) runLoop(ctx context.Context, done chan struct{}, descriptor track.Descriptor, startMs int64, startReason string) {
	defer close(done)

	current := descriptor
	reason := startReason
	positionMs := startMs

	for {
		outcome := e.playTrack(ctx, current, positionMs, reason)

		switch outcome {
		case outcomeCancelled:
			// The cancelling command owns sink and state cleanup.
			return

		case outcomeDeviceLost:
			e.finishLoop(true)
			return

		case outcomeTrackDone, outcomeTrackFailed:
			e.mu.Lock()
			repeatTrack := e.repeatingTrack
			repeatContext := e.repeatingContext
			e.mu.Unlock()

			if outcome == outcomeTrackDone && repeatTrack {
				positionMs = 0
				reason = reporting.ReasonTrackDone
				continue
			}

			next := e.queue.MoveNext()
			if next != nil {
				e.setLoopTrack(next)
				current = *next
				positionMs = 0
				reason = reporting.ReasonTrackDone
				continue
			}

			if repeatContext {
				if first := e.queue.SkipTo(0); first != nil {
					e.setLoopTrack(first)
					current = *first
					positionMs = 0
					reason = reporting.ReasonTrackDone
					continue
				}
			}

			e.finishLoop(false)
			return
		}
	}
}

// playTrack runs the load → decode → process → sink pipeline for one
// track and reports how it ended.
func (e *Engine) playTrack(ctx context.Context, descriptor track.Descriptor, startMs int64, startReason string) loopOutcome {
	if !descriptor.IsPlayable {
		e.emitError(apperrors.NewTrackUnavailable(descriptor.URI, nil))
		return outcomeTrackFailed
	}

	source := e.sources.Find(descriptor.URI)
	if source == nil {
		e.emitError(apperrors.NewTrackUnavailable(descriptor.URI, nil))
		return outcomeTrackFailed
	}

	stream, err := source.Load(ctx, descriptor.URI)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeCancelled
		}
		e.emitError(apperrors.NewTrackUnavailable(descriptor.URI, err))
		return outcomeTrackFailed
	}
	defer stream.Close()

	metadata := stream.Metadata()
	e.mergeStreamMetadata(&descriptor, metadata, stream.CanSeek())

	decoder, reader, err := e.decoders.Find(stream.Reader(), stream.CanSeek())
	if err != nil || decoder == nil {
		if err != nil {
			e.logger.Printf("engine: decoder probe failed for %s: %v", descriptor.URI, err)
		}
		e.emitError(apperrors.NewAppError(apperrors.ErrorCodeDecoderMissing,
			"no decoder accepts this stream: "+descriptor.URI, nil))
		return outcomeTrackFailed
	}

	session, err := decoder.Open(reader, startMs, e.onIcyTitle)
	if err != nil {
		e.emitError(apperrors.NewTrackUnavailable(descriptor.URI, err))
		return outcomeTrackFailed
	}
	defer session.Close()

	format := session.Format()
	if err := e.sink.Initialize(format, e.cfg.SinkBufferMs); err != nil {
		e.emitError(apperrors.NewAudioDeviceGone("audio sink could not be initialized: " + err.Error()))
		return outcomeDeviceLost
	}
	if err := e.chain.Initialize(format); err != nil {
		e.emitError(apperrors.NewTrackUnavailable(descriptor.URI, err))
		return outcomeTrackFailed
	}
	e.normalization.SetTrackGain(metadata.NormalizationGainDb)

	e.mu.Lock()
	e.isPlaying = true
	e.isPaused = false
	e.isBuffering = false
	e.positionMs = startMs
	e.mu.Unlock()

	if e.reporter != nil {
		e.reporter.TrackStarted(descriptor.URI, e.queue.ContextURI(), e.queue.Len(), startReason)
	}
	e.publishState()

	bytesPerMs := format.BytesPerMs()
	publishEvery := bytesPerMs * statePublishIntervalMs
	if publishEvery <= 0 {
		publishEvery = 1 << 16
	}

	var intervals []reporting.Interval
	intervalStart := startMs
	positionMs := startMs
	var decodedBytes int64
	bytesSincePublish := 0

	endPlayback := func(endReason string) {
		if e.reporter == nil {
			return
		}
		intervals = append(intervals, reporting.Interval{StartMs: intervalStart, EndMs: positionMs})
		e.reporter.TrackEnded(endReason, intervals, reporting.PlayerInfo{
			DurationMs:    e.loadedDurationMs(),
			DecodedLength: decodedBytes,
			Bitrate:       format.SampleRate * format.Channels * format.BitDepth,
			Encoding:      "pcm",
			Transition:    endReason,
		})
	}

	for {
		if ctx.Err() != nil {
			endPlayback(e.takeEndReason())
			return outcomeCancelled
		}

		if target, pending := e.takePendingSeek(); pending {
			if err := stream.PrefetchForSeek(ctx, target); err != nil {
				e.logger.Printf("engine: seek prefetch failed: %v", err)
			}
			if stream.CanSeek() {
				if err := session.Rewind(target); err != nil {
					e.logger.Printf("engine: decoder rewind failed: %v", err)
				} else {
					intervals = append(intervals, reporting.Interval{StartMs: intervalStart, EndMs: positionMs})
					intervalStart = target
					positionMs = target
					e.mu.Lock()
					e.positionMs = target
					e.mu.Unlock()
					e.publishState()
				}
			} else {
				e.logger.Printf("engine: seek ignored on non-seekable stream")
			}
		}

		buffer, err := session.NextBuffer(ctx)
		if err == io.EOF {
			e.mu.Lock()
			if e.durationMs > 0 {
				e.positionMs = e.durationMs
				positionMs = e.durationMs
			}
			e.mu.Unlock()
			endPlayback(reporting.ReasonTrackDone)
			return outcomeTrackDone
		}
		if err != nil {
			if ctx.Err() != nil {
				endPlayback(e.takeEndReason())
				return outcomeCancelled
			}
			e.emitError(apperrors.NewTrackUnavailable(descriptor.URI, err))
			endPlayback(reporting.ReasonEndPlay)
			return outcomeTrackFailed
		}

		processed := e.chain.Process(*buffer)
		if err := e.sink.Write(ctx, processed.Data); err != nil {
			if ctx.Err() != nil {
				endPlayback(e.takeEndReason())
				return outcomeCancelled
			}
			e.emitError(apperrors.NewAudioDeviceGone("audio sink write failed: " + err.Error()))
			endPlayback(reporting.ReasonEndPlay)
			return outcomeDeviceLost
		}

		decodedBytes += int64(len(processed.Data))
		if bytesPerMs > 0 {
			positionMs = buffer.PositionMs + int64(len(processed.Data)/bytesPerMs)
		}
		e.mu.Lock()
		e.positionMs = positionMs
		e.mu.Unlock()

		bytesSincePublish += len(processed.Data)
		if bytesSincePublish >= publishEvery {
			bytesSincePublish = 0
			e.publishState()
		}
	}
}

// finishLoop is the in-loop cleanup shortcut for end-of-context, empty
// queue and device loss: flush the sink, drop the loop registration,
// set the stop flags and publish. Never joins the loop's own task.
func (e *Engine) finishLoop(deviceLost bool) {
	if err := e.sink.Flush(); err != nil {
		e.logger.Printf("engine: sink flush failed: %v", err)
	}
	e.mu.Lock()
	cancel := e.loopCancel
	e.loopCancel = nil
	e.loopDone = nil
	e.isPlaying = false
	e.isPaused = deviceLost
	e.isBuffering = false
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.publishState()
}

// setLoopTrack records the loop's new current descriptor.
func (e *Engine) setLoopTrack(descriptor *track.Descriptor) {
	e.mu.Lock()
	e.current = descriptor
	e.positionMs = 0
	e.durationMs = descriptor.DurationMs
	e.mu.Unlock()
}

// mergeStreamMetadata folds source metadata into the playing descriptor
// and the engine position fields. Descriptor fields win; the stream
// only fills gaps.
func (e *Engine) mergeStreamMetadata(descriptor *track.Descriptor, metadata pipeline.Metadata, canSeek bool) {
	if descriptor.Title == "" {
		descriptor.Title = metadata.Title
	}
	if descriptor.Artist == "" {
		descriptor.Artist = metadata.Artist
	}
	if descriptor.Album == "" {
		descriptor.Album = metadata.Album
	}
	if descriptor.DurationMs == 0 {
		descriptor.DurationMs = metadata.DurationMs
	}

	e.mu.Lock()
	updated := *descriptor
	e.current = &updated
	e.durationMs = descriptor.DurationMs
	e.canSeek = canSeek
	e.mu.Unlock()
}

// onIcyTitle updates the displayed title from ICY stream metadata.
func (e *Engine) onIcyTitle(title string) {
	if title == "" {
		return
	}
	e.mu.Lock()
	if e.current != nil {
		updated := *e.current
		updated.Title = title
		e.current = &updated
	}
	e.mu.Unlock()
	e.publishState()
}

// loadedDurationMs reads the duration of the loaded track.
func (e *Engine) loadedDurationMs() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.durationMs
}
