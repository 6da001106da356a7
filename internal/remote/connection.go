package remote

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/christosk92/wavee-go/internal/apperrors"
	"github.com/christosk92/wavee-go/internal/player"
)

// Reply is the wire record answering one remote command.
type Reply struct {
	Type    string `json:"type"` // always "reply"
	Key     string `json:"key"`
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ConnectionManager owns the websocket connection carrying the remote
// command stream. A new connection replaces the previous one; replies
// go out over whichever connection is current.
type ConnectionManager struct {
	mu     sync.RWMutex
	conn   *websocket.Conn
	stream *Stream
	logger *log.Logger

	writeMu      sync.Mutex
	pingInterval time.Duration
	stopPing     chan struct{}
}

// NewConnectionManager creates a manager feeding the given stream.
func NewConnectionManager(stream *Stream, logger *log.Logger) *ConnectionManager {
	if logger == nil {
		logger = log.Default()
	}
	return &ConnectionManager{
		stream:       stream,
		logger:       logger,
		pingInterval: 30 * time.Second,
	}
}

// SetConnection registers a new websocket connection from the remote
// controller, closing any previous one.
func (m *ConnectionManager) SetConnection(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	if m.stopPing != nil {
		close(m.stopPing)
	}
	m.conn = conn
	m.stopPing = make(chan struct{})
	stopPing := m.stopPing
	m.mu.Unlock()

	go m.pingLoop(stopPing)
	go m.readCommands(conn)

	m.logger.Printf("remote: controller connected")
}

func (m *ConnectionManager) pingLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()
			if conn == nil {
				return
			}
			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Printf("remote: ping failed: %v", err)
				return
			}
		case <-stop:
			return
		}
	}
}

// readCommands decodes command records and hands them to the stream in
// arrival order.
func (m *ConnectionManager) readCommands(conn *websocket.Conn) {
	defer m.clearConnection(conn)

	for {
		var command player.Command
		if err := conn.ReadJSON(&command); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Printf("remote: connection closed: %v", err)
			}
			return
		}
		if command.Key == "" {
			m.logger.Printf("remote: dropping command without key: %s", command.Type)
			continue
		}
		if !m.stream.Enqueue(command) {
			m.SendReply(command.Key, apperrors.NewInternalError("command queue overloaded"))
		}
	}
}

func (m *ConnectionManager) clearConnection(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
		if m.stopPing != nil {
			close(m.stopPing)
			m.stopPing = nil
		}
	}
	m.mu.Unlock()
	conn.Close()
}

// SendReply implements player.ReplySender: exactly one reply per remote
// command, addressed to its transport key.
func (m *ConnectionManager) SendReply(key string, commandErr error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		m.logger.Printf("remote: no connection, dropping reply for %s", key)
		return
	}

	reply := Reply{Type: "reply", Key: key, Success: commandErr == nil}
	if commandErr != nil {
		appErr := apperrors.EnsureAppError(commandErr)
		reply.Code = string(appErr.Code)
		reply.Message = appErr.Message
	}

	m.writeMu.Lock()
	err := conn.WriteJSON(reply)
	m.writeMu.Unlock()
	if err != nil {
		m.logger.Printf("remote: reply write failed for %s: %v", key, err)
	}
}
