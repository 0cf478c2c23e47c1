package live

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coachcall/edge/pkg/authsession"
	"github.com/coachcall/edge/pkg/guard"
)

// MessageType identifies a live protocol message.
type MessageType string

const (
	// Client to server.
	TypeHello    MessageType = "hello"
	TypeNavigate MessageType = "navigate"
	TypeLogout   MessageType = "logout"
	TypePing     MessageType = "ping"

	// Server to client.
	TypeWelcome        MessageType = "welcome"
	TypeNavigation     MessageType = "navigation"
	TypeLoggedOut      MessageType = "logged_out"
	TypeSessionExpired MessageType = "session_expired"
	TypePong           MessageType = "pong"
	TypeError          MessageType = "error"
)

// Message is the JSON frame exchanged over a live connection. Fields are
// populated per message type.
type Message struct {
	Type MessageType `json:"type"`

	// Hydration carries the page's hydration payload on hello.
	Hydration json.RawMessage `json:"hydration,omitempty"`

	// Target is the navigation target on navigate/navigation.
	Target string `json:"target,omitempty"`

	// Allow and RedirectTo carry the navigation decision.
	Allow      bool   `json:"allow,omitempty"`
	RedirectTo string `json:"redirectTo,omitempty"`

	// User is the session profile on welcome.
	User *authsession.UserProfile `json:"user,omitempty"`

	Error string `json:"error,omitempty"`
}

// Default connection timing.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadTimeout      = 60 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
)

// Config configures the live server.
type Config struct {
	// Sessions builds the client-context session manager for a connection.
	Sessions guard.SessionFactory

	// Guard evaluates navigation targets over the socket.
	Guard *guard.Guard

	Logger *slog.Logger

	// CheckOrigin guards the upgrade. Defaults to same-origin
	// (gorilla's default).
	CheckOrigin func(*http.Request) bool

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

// Server upgrades page connections to live sessions. Each connection owns a
// client-context session manager; the hello message adopts the page's
// hydration payload so the socket starts from the rendered state.
type Server struct {
	sessions guard.SessionFactory
	guard    *guard.Guard
	log      *slog.Logger
	upgrader websocket.Upgrader

	handshakeTimeout time.Duration
	readTimeout      time.Duration
	writeTimeout     time.Duration
	pingInterval     time.Duration
}

// NewServer creates a live server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("live: Sessions is required")
	}
	if cfg.Guard == nil {
		return nil, errors.New("live: Guard is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		sessions:         cfg.Sessions,
		guard:            cfg.Guard,
		log:              logger.With(slog.String("component", "live")),
		handshakeTimeout: cfg.HandshakeTimeout,
		readTimeout:      cfg.ReadTimeout,
		writeTimeout:     cfg.WriteTimeout,
		pingInterval:     cfg.PingInterval,
	}
	if s.handshakeTimeout <= 0 {
		s.handshakeTimeout = DefaultHandshakeTimeout
	}
	if s.readTimeout <= 0 {
		s.readTimeout = DefaultReadTimeout
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = DefaultWriteTimeout
	}
	if s.pingInterval <= 0 {
		s.pingInterval = DefaultPingInterval
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     cfg.CheckOrigin,
	}
	return s, nil
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m, err := s.sessions(r)
	if err != nil {
		s.log.Error("building session", errAttr(err))
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.log.Error("websocket upgrade failed", errAttr(err))
		return
	}

	c := newConn(s, conn, m)
	if err := c.handshake(r.Context()); err != nil {
		s.log.Warn("handshake failed", errAttr(err))
		c.close()
		return
	}

	go c.writeLoop()
	c.readLoop(r.Context())
}

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }
