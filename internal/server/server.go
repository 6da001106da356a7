// Package server exposes the local HTTP surface the desktop shell
// consumes: the current playback state, a command endpoint, and the
// websocket carrying the remote command stream.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/christosk92/wavee-go/internal/api"
	"github.com/christosk92/wavee-go/internal/apperrors"
	"github.com/christosk92/wavee-go/internal/cache"
	"github.com/christosk92/wavee-go/internal/player"
	"github.com/christosk92/wavee-go/internal/remote"
)

// Options wires the HTTP handler.
type Options struct {
	Engine      *player.Engine
	Cache       *cache.MetadataCache
	Connections *remote.ConnectionManager
	Logger      *log.Logger
}

// errorHandler adapts a handler that returns an error into http.Handler,
// writing the error through api.WriteError.
type errorHandler func(w http.ResponseWriter, r *http.Request) error

func (h errorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h(w, r); err != nil {
		api.WriteError(w, err)
	}
}

// recovererMiddleware converts panics in the handler chain into 500
// responses instead of crashing the daemon.
func recovererMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Printf("server: panic recovered: %v", recovered)
				api.WriteError(w, apperrors.NewInternalError("Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// NewHandler builds the router.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	srv := &server{
		engine:      opts.Engine,
		cache:       opts.Cache,
		connections: opts.Connections,
		logger:      opts.Logger,
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	router := chi.NewRouter()
	router.Use(recovererMiddleware)
	router.Method(http.MethodGet, "/v1/state", errorHandler(srv.getState))
	router.Method(http.MethodGet, "/v1/cache/statistics", errorHandler(srv.getCacheStatistics))
	router.Method(http.MethodPost, "/v1/commands", errorHandler(srv.postCommand))
	router.Get("/v1/ws", srv.handleWebsocket)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}

type server struct {
	engine      *player.Engine
	cache       *cache.MetadataCache
	connections *remote.ConnectionManager
	logger      *log.Logger
	upgrader    websocket.Upgrader
	localSeq    atomic.Uint64
}

func (s *server) getState(w http.ResponseWriter, _ *http.Request) error {
	state, ok := s.engine.CurrentState()
	if !ok {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"state": nil})
	}
	return api.WriteJSON(w, http.StatusOK, map[string]any{"state": state})
}

func (s *server) getCacheStatistics(w http.ResponseWriter, _ *http.Request) error {
	return api.WriteJSON(w, http.StatusOK, s.cache.Statistics())
}

// postCommand executes one command on behalf of the local shell. The
// minted key is local/ so the engine never replies on the remote stream.
func (s *server) postCommand(w http.ResponseWriter, r *http.Request) error {
	var command player.Command
	if err := json.NewDecoder(r.Body).Decode(&command); err != nil {
		return apperrors.NewValidationError("invalid command payload: "+err.Error(), nil)
	}
	command.Key = fmt.Sprintf("local/http-%d", s.localSeq.Add(1))

	if err := s.engine.Execute(r.Context(), command); err != nil {
		return err
	}
	return api.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleWebsocket upgrades the remote controller's connection and hands
// it to the connection manager.
func (s *server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.connections == nil {
		api.WriteError(w, apperrors.NewInternalError("remote command stream not configured"))
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("server: websocket upgrade failed: %v", err)
		return
	}
	s.connections.SetConnection(conn)
}
