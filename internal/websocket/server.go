package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"lerian-entity-resolver/internal/api/response"
	"lerian-entity-resolver/internal/engine"
	"lerian-entity-resolver/internal/logging"
	"lerian-entity-resolver/internal/types"
)

// ServerConfig represents WebSocket server configuration
type ServerConfig struct {
	ReadBufferSize   int           `json:"read_buffer_size"`
	WriteBufferSize  int           `json:"write_buffer_size"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	PingInterval     time.Duration `json:"ping_interval"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	ReadTimeout      time.Duration `json:"read_timeout"`
	MaxMessageSize   int64         `json:"max_message_size"`
	AllowedOrigins   []string      `json:"allowed_origins"`
}

// DefaultServerConfig returns default WebSocket server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     54 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		MaxMessageSize:   512,
	}
}

// Server upgrades /events requests and publishes engine events to them
type Server struct {
	config   *ServerConfig
	upgrader websocket.Upgrader
	hub      *Hub
	cancel   context.CancelFunc
	stopped  chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewServer creates a new WebSocket server
func NewServer(config *ServerConfig, logger logging.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}

	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
			HandshakeTimeout: config.HandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, config.AllowedOrigins)
			},
		},
		hub: NewHub(logger),
	}
}

// Start runs the hub until Stop is called
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("websocket server is already running")
	}
	if s.stopped != nil {
		return errors.New("websocket server cannot be restarted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.stopped)
		s.hub.Run(ctx)
	}()
	return nil
}

// Stop disconnects every client and waits for the hub to exit
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	<-s.stopped
	s.running = false
}

// Publish implements engine.Publisher
func (s *Server) Publish(event engine.Event) {
	s.hub.Publish(event)
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// ServeHTTP upgrades the request; the user_id query parameter selects the
// events the client receives
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := types.UserID(strings.TrimSpace(r.URL.Query().Get("user_id")))
	if err := userID.Validate(); err != nil {
		response.WriteBadRequest(w, "user_id query parameter is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the error response
		return
	}

	client := NewClient(uuid.New().String(), userID, conn, s.hub)
	if !s.hub.RegisterClient(client) {
		_ = conn.Close()
		return
	}

	go client.WritePump(s.config.PingInterval, s.config.WriteTimeout)
	go client.ReadPump(s.config.MaxMessageSize, s.config.ReadTimeout)
}

// checkOrigin allows requests without an Origin header, such as CLI tools
func checkOrigin(r *http.Request, allowedOrigins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(allowedOrigins) == 0 {
		return sameHost(origin, r.Host)
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func sameHost(origin, host string) bool {
	origin = strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	return strings.EqualFold(origin, host)
}
