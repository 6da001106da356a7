// Package remote consumes the remote command stream: a single consumer
// loop pulls tagged command records and calls the engine's typed
// handlers, which makes command ordering obvious.
package remote

import (
	"context"
	"log"
	"sync"

	"github.com/christosk92/wavee-go/internal/player"
)

// CommandExecutor runs one command to completion. The engine satisfies
// this.
type CommandExecutor interface {
	Execute(ctx context.Context, command player.Command) error
}

// queueDepth bounds commands waiting for the consumer loop.
const queueDepth = 64

// Stream is the ordered command pipe between a transport and the
// engine. Commands execute strictly in arrival order.
type Stream struct {
	executor CommandExecutor
	logger   *log.Logger

	commands chan player.Command

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewStream creates a stream over the given executor.
func NewStream(executor CommandExecutor, logger *log.Logger) *Stream {
	if logger == nil {
		logger = log.Default()
	}
	return &Stream{
		executor: executor,
		logger:   logger,
		commands: make(chan player.Command, queueDepth),
		done:     make(chan struct{}),
	}
}

// Start launches the consumer loop.
func (s *Stream) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop closes the pipe; queued commands still execute before the loop
// exits.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.commands)
	})
	<-s.done
}

// Enqueue hands a command to the consumer loop. Returns false when the
// queue is full; the transport reports the overload to its peer.
func (s *Stream) Enqueue(command player.Command) bool {
	select {
	case s.commands <- command:
		return true
	default:
		s.logger.Printf("remote: command queue full, rejecting %s (%s)", command.Type, command.Key)
		return false
	}
}

func (s *Stream) run() {
	defer close(s.done)
	for command := range s.commands {
		if err := s.executor.Execute(context.Background(), command); err != nil {
			// The reply already carried the failure; this is operator
			// visibility only.
			s.logger.Printf("remote: command %s (%s) failed: %v", command.Type, command.Key, err)
		}
	}
}
