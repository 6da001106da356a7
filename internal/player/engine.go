// Package player is the playback engine: it serializes mutating
// commands, drives the decode loop, owns the queue and publishes state.
package player

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/christosk92/wavee-go/internal/apperrors"
	"github.com/christosk92/wavee-go/internal/config"
	"github.com/christosk92/wavee-go/internal/pipeline"
	"github.com/christosk92/wavee-go/internal/queue"
	"github.com/christosk92/wavee-go/internal/reporting"
	"github.com/christosk92/wavee-go/internal/resolver"
	"github.com/christosk92/wavee-go/internal/track"
	"github.com/christosk92/wavee-go/internal/uri"
)

// ContextLoader is the resolver boundary the engine depends on.
type ContextLoader interface {
	LoadContext(ctx context.Context, contextURI string, maxInitial int, enrich bool) (*resolver.LoadResult, error)
	LoadNextPage(ctx context.Context, token string, enrich bool) (*resolver.LoadResult, error)
	EnrichTracks(ctx context.Context, descriptors []track.Descriptor) []track.Descriptor
}

// DeviceManager marks this device active on play/transfer. Optional.
type DeviceManager interface {
	MarkActive(deviceID string)
}

// restartThresholdMs is how far into a track skip-previous restarts it
// instead of moving back.
const restartThresholdMs = 3000

// errorBufferSize bounds the error channel; when UI consumers fall
// behind and the channel is full, newly emitted errors are dropped.
const errorBufferSize = 16

// Params wires an Engine.
type Params struct {
	Config   config.Config
	Queue    *queue.Queue
	Resolver ContextLoader // may be nil
	Sources  *pipeline.SourceRegistry
	Decoders *pipeline.DecoderRegistry
	Sink     pipeline.Sink
	Reporter *reporting.Reporter
	Devices  DeviceManager // may be nil
	Replies  ReplySender   // may be nil
	Logger   *log.Logger
}

// Engine accepts commands from local callers and the remote stream,
// serialized by one command lock, and runs the playback loop as a
// detached task with its own cancellation.
type Engine struct {
	cfg      config.Config
	queue    *queue.Queue
	resolver ContextLoader
	sources  *pipeline.SourceRegistry
	decoders *pipeline.DecoderRegistry
	sink     pipeline.Sink
	reporter *reporting.Reporter
	devices  DeviceManager
	replies  ReplySender
	logger   *log.Logger

	chain         *pipeline.Chain
	normalization *pipeline.NormalizationProcessor
	volume        *pipeline.VolumeProcessor

	subject *StateSubject
	errorCh chan *apperrors.AppError

	// commandLock is a binary semaphore; waiters may be cancelled.
	commandLock chan struct{}

	mu          sync.Mutex
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	current     *track.Descriptor
	positionMs  int64
	durationMs  int64
	canSeek     bool
	isPlaying   bool
	isPaused    bool
	isBuffering bool

	shuffling        bool
	repeatingContext bool
	repeatingTrack   bool

	nextPageToken     string
	fetchingMore      bool
	endReasonOverride string

	// pendingSeekMs has its own micro-lock so the decode loop never
	// contends with the command lock.
	seekMu        sync.Mutex
	pendingSeekMs *int64
}

// New creates an Engine and registers it on the queue's signals.
func New(params Params) *Engine {
	if params.Logger == nil {
		params.Logger = log.Default()
	}
	normalization := pipeline.NewNormalizationProcessor(params.Config.EnableNormalization)
	volume := pipeline.NewVolumeProcessor(params.Config.InitialVolume)

	engine := &Engine{
		cfg:           params.Config,
		queue:         params.Queue,
		resolver:      params.Resolver,
		sources:       params.Sources,
		decoders:      params.Decoders,
		sink:          params.Sink,
		reporter:      params.Reporter,
		devices:       params.Devices,
		replies:       params.Replies,
		logger:        params.Logger,
		chain:         pipeline.NewChain(normalization, volume),
		normalization: normalization,
		volume:        volume,
		subject:       NewStateSubject(),
		errorCh:       make(chan *apperrors.AppError, errorBufferSize),
		commandLock:   make(chan struct{}, 1),
	}
	engine.queue.OnNeedsMore(engine.fetchMoreTracks)
	return engine
}

// States returns the state subject for subscription.
func (e *Engine) States() *StateSubject { return e.subject }

// Errors returns the error channel. Mid-playback failures arrive here,
// never through command results.
func (e *Engine) Errors() <-chan *apperrors.AppError { return e.errorCh }

// CurrentState returns the latest published snapshot.
func (e *Engine) CurrentState() (PlaybackState, bool) { return e.subject.Current() }

// Execute runs one command to completion. Remote commands get exactly
// one reply on their transport key; local/ keys never do.
func (e *Engine) Execute(ctx context.Context, command Command) error {
	err := e.execute(ctx, command)
	if e.replies != nil && !command.IsLocal() {
		e.replies.SendReply(command.Key, err)
	}
	return err
}

func (e *Engine) execute(ctx context.Context, command Command) error {
	select {
	case e.commandLock <- struct{}{}:
	case <-ctx.Done():
		return apperrors.NewAppError(apperrors.ErrorCodeCancelled, "command cancelled while queued", nil)
	}
	defer func() { <-e.commandLock }()

	switch command.Type {
	case CommandPlay:
		return e.handlePlay(ctx, command)
	case CommandPause:
		return e.handlePause()
	case CommandResume:
		return e.handleResume()
	case CommandStop:
		return e.handleStop()
	case CommandSeek:
		return e.handleSeek(command.PositionMs)
	case CommandSkipNext:
		return e.handleSkipNext()
	case CommandSkipPrevious:
		return e.handleSkipPrevious()
	case CommandSetShuffle:
		return e.handleSetShuffle(command.Enabled)
	case CommandSetRepeatContext:
		return e.handleSetRepeat(&command.Enabled, nil)
	case CommandSetRepeatTrack:
		return e.handleSetRepeat(nil, &command.Enabled)
	case CommandAddToQueue:
		return e.handleAddToQueue(ctx, command.TrackURI)
	case CommandSetOptions:
		return e.handleSetOptions(command.Options)
	case CommandSetVolume:
		return e.handleSetVolume(command.Volume)
	case CommandTransfer:
		return e.handleTransfer()
	case CommandUpdateContext:
		return e.handleUpdateContext(ctx, command.ContextURI)
	default:
		return apperrors.NewValidationError("unknown command type: "+string(command.Type), nil)
	}
}

// handlePlay implements the full play sequence: same-context fast path
// first, then resolve-and-install.
func (e *Engine) handlePlay(ctx context.Context, command Command) error {
	if e.devices != nil {
		e.devices.MarkActive(e.cfg.DeviceID)
	}

	contextURI := uri.Canonicalize(command.ContextURI)
	trackURI := uri.Canonicalize(command.TrackURI)
	e.applyOptions(command.Options)

	// Same-context fast path: no round-trip to the context service.
	if contextURI != "" && contextURI == e.queue.ContextURI() && e.queue.Len() > 0 {
		index := e.resolveTarget(command, trackURI)
		e.closePlayback(reporting.ReasonEndPlay)
		e.queue.SetShuffle(e.optShuffling())
		descriptor := e.queue.SkipTo(index)
		if descriptor == nil {
			descriptor = e.queue.SkipTo(0)
		}
		if descriptor == nil {
			return apperrors.NewContextUnavailable(contextURI, nil)
		}
		e.startLoop(*descriptor, command.PositionMs, reporting.ReasonPlayBtn)
		return nil
	}

	// Slow path: stop whatever is playing, resolve, install, start.
	e.closePlayback(reporting.ReasonEndPlay)

	if trackURI == "" {
		trackURI = contextURI
	}

	if contextURI != "" && !uri.IsPlayable(contextURI) {
		if e.resolver == nil {
			return apperrors.NewResolverUnavailable(contextURI)
		}
		result, err := e.resolver.LoadContext(ctx, contextURI, 0, true)
		if err != nil {
			return err
		}

		e.queue.SetContext(contextURI, result.IsInfinite, result.TotalCount)
		startIndex := 0
		if command.SkipToIndex != nil {
			startIndex = *command.SkipToIndex
		} else if position := indexOf(result.Tracks, command.TrackUID, trackURI); position >= 0 {
			startIndex = position
		}
		e.queue.SetTracks(result.Tracks, startIndex)
		e.setNextPageToken(result.NextPageToken)
		e.queue.SetShuffle(e.optShuffling())

		descriptor := e.firstPlayable()
		if descriptor == nil {
			return apperrors.NewContextUnavailable(contextURI, nil)
		}
		e.startLoop(*descriptor, command.PositionMs, reporting.ReasonPlayBtn)
		return nil
	}

	// Single-track playback: the track is its own context.
	if !uri.IsPlayable(trackURI) {
		return apperrors.NewInvalidURI(trackURI)
	}
	descriptor := track.Descriptor{URI: trackURI, IsPlayable: true}
	if e.resolver != nil {
		enriched := e.resolver.EnrichTracks(ctx, []track.Descriptor{descriptor})
		if len(enriched) == 1 && enriched[0].IsPlayable {
			descriptor = enriched[0]
		}
	}
	e.queue.SetContext("", false, nil)
	e.queue.SetTracks([]track.Descriptor{descriptor}, 0)
	e.setNextPageToken("")
	e.startLoop(descriptor, command.PositionMs, reporting.ReasonPlayBtn)
	return nil
}

// resolveTarget picks the fast-path target: uid match, then canonical
// URI match, then explicit index, then the head of the context.
func (e *Engine) resolveTarget(command Command, trackURI string) int {
	if index := e.queue.IndexOfUID(command.TrackUID); index >= 0 {
		return index
	}
	if index := e.queue.IndexOfURI(trackURI); index >= 0 {
		return index
	}
	if command.SkipToIndex != nil && *command.SkipToIndex >= 0 && *command.SkipToIndex < e.queue.Len() {
		return *command.SkipToIndex
	}
	return 0
}

// firstPlayable returns the queue's current track, skipping forward
// past unplayable entries.
func (e *Engine) firstPlayable() *track.Descriptor {
	descriptor := e.queue.Current()
	for descriptor != nil && !descriptor.IsPlayable {
		descriptor = e.queue.MoveNext()
	}
	return descriptor
}

func (e *Engine) handlePause() error {
	e.mu.Lock()
	active := e.isPlaying
	e.mu.Unlock()
	if !active {
		return nil
	}
	if err := e.sink.Pause(); err != nil {
		e.logger.Printf("engine: sink pause failed: %v", err)
	}
	e.mu.Lock()
	e.isPlaying = false
	e.isPaused = true
	e.mu.Unlock()
	e.publishState()
	return nil
}

func (e *Engine) handleResume() error {
	e.mu.Lock()
	paused := e.isPaused
	active := e.loopDone != nil
	current := e.current
	positionMs := e.positionMs
	durationMs := e.durationMs
	e.mu.Unlock()

	if paused && active {
		if !e.sink.Resume() {
			e.emitError(apperrors.NewAudioDeviceGone("audio device could not be resumed"))
			return nil
		}
		e.mu.Lock()
		e.isPaused = false
		e.isPlaying = true
		e.mu.Unlock()
		e.publishState()
		return nil
	}

	// The loop ended naturally: restart the loaded track where it was.
	if current != nil && !active {
		startMs := positionMs
		if durationMs > 0 && startMs >= durationMs {
			startMs = 0
		}
		e.startLoop(*current, startMs, reporting.ReasonPlayBtn)
	}
	return nil
}

func (e *Engine) handleStop() error {
	e.closePlayback(reporting.ReasonEndPlay)
	e.mu.Lock()
	e.isPlaying = false
	e.isPaused = false
	e.mu.Unlock()
	if err := e.sink.Flush(); err != nil {
		e.logger.Printf("engine: sink flush failed: %v", err)
	}
	e.publishState()
	return nil
}

// handleSeek installs a pending seek for the decode loop, or restarts
// playback when no loop is active.
func (e *Engine) handleSeek(positionMs int64) error {
	e.mu.Lock()
	canSeek := e.canSeek
	active := e.loopDone != nil
	current := e.current
	e.mu.Unlock()

	if current == nil {
		return nil
	}
	if active && !canSeek {
		e.logger.Printf("engine: seek ignored, current track is not seekable")
		return nil
	}

	if !active {
		e.startLoop(*current, positionMs, reporting.ReasonPlayBtn)
		return nil
	}

	e.setPendingSeek(positionMs)
	if err := e.sink.Flush(); err != nil {
		e.logger.Printf("engine: sink flush failed: %v", err)
	}
	e.mu.Lock()
	e.positionMs = positionMs
	e.mu.Unlock()
	e.publishState()
	return nil
}

func (e *Engine) handleSkipNext() error {
	e.closePlayback(reporting.ReasonFwdBtn)
	next := e.queue.MoveNext()
	if next == nil {
		return e.endOfContextCommand(reporting.ReasonFwdBtn)
	}
	e.startLoop(*next, 0, reporting.ReasonFwdBtn)
	return nil
}

func (e *Engine) handleSkipPrevious() error {
	e.mu.Lock()
	positionMs := e.positionMs
	active := e.loopDone != nil
	current := e.current
	e.mu.Unlock()

	// Deep into the track this is a restart, not a move.
	if positionMs > restartThresholdMs {
		if active {
			e.setPendingSeek(0)
			if err := e.sink.Flush(); err != nil {
				e.logger.Printf("engine: sink flush failed: %v", err)
			}
			e.mu.Lock()
			e.positionMs = 0
			e.mu.Unlock()
			e.publishState()
		} else if current != nil {
			e.startLoop(*current, 0, reporting.ReasonBackBtn)
		}
		return nil
	}

	e.closePlayback(reporting.ReasonBackBtn)
	previous := e.queue.MovePrevious()
	if previous == nil {
		// At the head of the context: restart the current track.
		if current != nil {
			e.startLoop(*current, 0, reporting.ReasonBackBtn)
		}
		return nil
	}
	e.startLoop(*previous, 0, reporting.ReasonBackBtn)
	return nil
}

func (e *Engine) handleSetShuffle(enabled bool) error {
	e.mu.Lock()
	e.shuffling = enabled
	e.mu.Unlock()
	e.queue.SetShuffle(enabled)
	e.publishState()
	return nil
}

func (e *Engine) handleSetRepeat(repeatContext, repeatTrack *bool) error {
	e.mu.Lock()
	if repeatContext != nil {
		e.repeatingContext = *repeatContext
	}
	if repeatTrack != nil {
		e.repeatingTrack = *repeatTrack
	}
	e.mu.Unlock()
	e.publishState()
	return nil
}

func (e *Engine) handleAddToQueue(ctx context.Context, rawURI string) error {
	trackURI := uri.Canonicalize(rawURI)
	if !uri.IsPlayable(trackURI) {
		return apperrors.NewInvalidURI(rawURI)
	}
	descriptor := track.Descriptor{URI: trackURI, IsPlayable: true}
	if e.resolver != nil {
		enriched := e.resolver.EnrichTracks(ctx, []track.Descriptor{descriptor})
		if len(enriched) == 1 && enriched[0].IsPlayable {
			descriptor = enriched[0]
		}
	}
	e.queue.AddToQueue(descriptor)
	e.publishState()
	return nil
}

func (e *Engine) handleSetOptions(options *Options) error {
	e.applyOptions(options)
	e.queue.SetShuffle(e.optShuffling())
	e.publishState()
	return nil
}

func (e *Engine) handleSetVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return apperrors.NewValidationError("volume must be within [0.0, 1.0]", nil)
	}
	e.volume.SetVolume(volume)
	e.publishState()
	return nil
}

// handleTransfer accepts the transfer and marks this device active. The
// embedded remote state is not rehydrated.
func (e *Engine) handleTransfer() error {
	if e.devices != nil {
		e.devices.MarkActive(e.cfg.DeviceID)
	}
	e.publishState()
	return nil
}

// handleUpdateContext re-resolves the context and refreshes the queue
// without interrupting the playing track.
func (e *Engine) handleUpdateContext(ctx context.Context, rawURI string) error {
	contextURI := uri.Canonicalize(rawURI)
	if contextURI == "" {
		contextURI = e.queue.ContextURI()
	}
	if contextURI == "" {
		return nil
	}
	if e.resolver == nil {
		return apperrors.NewResolverUnavailable(contextURI)
	}

	result, err := e.resolver.LoadContext(ctx, contextURI, 0, true)
	if err != nil {
		return err
	}

	startIndex := 0
	if current := e.queue.Current(); current != nil {
		if position := indexOf(result.Tracks, current.UID, current.URI); position >= 0 {
			startIndex = position
		}
	}
	e.queue.SetContext(contextURI, result.IsInfinite, result.TotalCount)
	e.queue.SetTracks(result.Tracks, startIndex)
	e.setNextPageToken(result.NextPageToken)
	e.publishState()
	return nil
}

// endOfContextCommand handles an exhausted queue from the command path
// (never from inside the loop).
func (e *Engine) endOfContextCommand(reason string) error {
	e.mu.Lock()
	repeatContext := e.repeatingContext
	e.mu.Unlock()

	if repeatContext {
		if first := e.queue.SkipTo(0); first != nil {
			e.startLoop(*first, 0, reason)
			return nil
		}
	}
	if err := e.sink.Flush(); err != nil {
		e.logger.Printf("engine: sink flush failed: %v", err)
	}
	e.mu.Lock()
	e.isPlaying = false
	e.isPaused = false
	e.mu.Unlock()
	e.publishState()
	return nil
}

// applyOptions folds incoming option bits into the engine modes.
func (e *Engine) applyOptions(options *Options) {
	if options == nil {
		return
	}
	e.mu.Lock()
	if options.Shuffling != nil {
		e.shuffling = *options.Shuffling
	}
	if options.RepeatingContext != nil {
		e.repeatingContext = *options.RepeatingContext
	}
	if options.RepeatingTrack != nil {
		e.repeatingTrack = *options.RepeatingTrack
	}
	e.mu.Unlock()
}

func (e *Engine) optShuffling() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shuffling
}

// closePlayback stops the loop, recording which end reason the loop's
// cleanup should report instead of the generic end-play. Only command
// handlers call it; the loop uses its in-loop cleanup.
func (e *Engine) closePlayback(endReason string) {
	e.mu.Lock()
	e.endReasonOverride = endReason
	e.mu.Unlock()
	e.stopLoop()
	e.mu.Lock()
	e.endReasonOverride = ""
	e.mu.Unlock()
}

// takeEndReason returns the override set by the stopping command, or
// the generic end-play reason.
func (e *Engine) takeEndReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.endReasonOverride != "" {
		return e.endReasonOverride
	}
	return reporting.ReasonEndPlay
}

// stopLoop cancels the playback task and awaits its exit.
func (e *Engine) stopLoop() {
	e.mu.Lock()
	cancel := e.loopCancel
	done := e.loopDone
	e.loopCancel = nil
	e.loopDone = nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	if err := e.sink.Flush(); err != nil {
		e.logger.Printf("engine: sink flush failed: %v", err)
	}
}

// startLoop spawns the playback task for one descriptor.
func (e *Engine) startLoop(descriptor track.Descriptor, startMs int64, startReason string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.mu.Lock()
	e.loopCancel = cancel
	e.loopDone = done
	e.current = &descriptor
	e.positionMs = startMs
	e.durationMs = descriptor.DurationMs
	e.isBuffering = true
	e.mu.Unlock()

	go e.runLoop(ctx, done, descriptor, startMs, startReason)
}

// fetchMoreTracks answers the queue's needs-more signal by loading the
// next context page. Runs on the queue's callback goroutine.
func (e *Engine) fetchMoreTracks() {
	e.mu.Lock()
	token := e.nextPageToken
	busy := e.fetchingMore
	if token == "" || busy || e.resolver == nil {
		e.mu.Unlock()
		return
	}
	e.fetchingMore = true
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	result, err := e.resolver.LoadNextPage(ctx, token, true)
	cancel()

	e.mu.Lock()
	e.fetchingMore = false
	if err == nil {
		e.nextPageToken = result.NextPageToken
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Printf("engine: loading next context page failed: %v", err)
		return
	}
	e.queue.AppendTracks(result.Tracks)
	e.publishState()
}

func (e *Engine) setNextPageToken(token string) {
	e.mu.Lock()
	e.nextPageToken = token
	e.mu.Unlock()
}

func (e *Engine) setPendingSeek(positionMs int64) {
	e.seekMu.Lock()
	e.pendingSeekMs = &positionMs
	e.seekMu.Unlock()
}

func (e *Engine) takePendingSeek() (int64, bool) {
	e.seekMu.Lock()
	defer e.seekMu.Unlock()
	if e.pendingSeekMs == nil {
		return 0, false
	}
	target := *e.pendingSeekMs
	e.pendingSeekMs = nil
	return target, true
}

// publishState composes and publishes a full snapshot.
func (e *Engine) publishState() {
	e.mu.Lock()
	current := e.current
	state := PlaybackState{
		PositionMs:       e.positionMs,
		DurationMs:       e.durationMs,
		IsPlaying:        e.isPlaying,
		IsPaused:         e.isPaused,
		IsBuffering:      e.isBuffering,
		Shuffling:        e.shuffling,
		RepeatingContext: e.repeatingContext,
		RepeatingTrack:   e.repeatingTrack,
		CanSeek:          e.canSeek,
		PlaybackSpeed:    1,
	}
	e.mu.Unlock()

	if current != nil {
		state.TrackURI = current.URI
		state.TrackUID = current.UID
		state.AlbumURI = current.AlbumURI
		state.ArtistURI = current.ArtistURI
		state.Title = current.Title
		state.Artist = current.Artist
		state.Album = current.Album
	}

	contextURI := e.queue.ContextURI()
	state.ContextURI = contextURI
	if contextURI != "" {
		state.ContextURL = "context://" + contextURI
	}
	state.CurrentIndex = e.queue.CurrentIndex()
	state.PrevTracks = e.queue.PrevTracks()
	state.NextTracks = e.queue.NextTracks()
	state.QueueRevision = e.queue.Revision()
	state.TimestampMs = nowUTCMs()

	e.subject.Publish(state)
}

// emitError pushes onto the error channel without ever blocking the
// caller.
func (e *Engine) emitError(appErr *apperrors.AppError) {
	select {
	case e.errorCh <- appErr:
	default:
		e.logger.Printf("engine: error channel full, dropping: %s", appErr.Message)
	}
}

func indexOf(descriptors []track.Descriptor, uid, trackURI string) int {
	if uid != "" {
		for i, descriptor := range descriptors {
			if descriptor.UID == uid {
				return i
			}
		}
	}
	if trackURI != "" {
		for i, descriptor := range descriptors {
			if descriptor.URI == trackURI {
				return i
			}
		}
	}
	return -1
}
