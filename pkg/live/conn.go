package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coachcall/edge/pkg/authsession"
)

// sendBuffer bounds queued outbound messages per connection.
const sendBuffer = 16

// conn is one live connection with its session manager.
type conn struct {
	srv *Server
	ws  *websocket.Conn
	m   *authsession.Manager
	log *slog.Logger

	send chan Message

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(srv *Server, ws *websocket.Conn, m *authsession.Manager) *conn {
	return &conn{
		srv:  srv,
		ws:   ws,
		m:    m,
		log:  srv.log,
		send: make(chan Message, sendBuffer),
		done: make(chan struct{}),
	}
}

// handshake reads the hello message and initializes the session from its
// hydration payload. The first frame must be a hello.
func (c *conn) handshake(ctx context.Context) error {
	c.ws.SetReadDeadline(time.Now().Add(c.srv.handshakeTimeout))

	var hello Message
	if err := c.ws.ReadJSON(&hello); err != nil {
		return err
	}
	if hello.Type != TypeHello {
		c.writeNow(Message{Type: TypeError, Error: "expected hello"})
		return errors.New("first message was " + string(hello.Type))
	}

	payload, err := authsession.DecodeHydration(hello.Hydration)
	if err != nil {
		c.log.Warn("discarding invalid hydration payload", errAttr(err))
		payload = nil
	}
	c.m.InitializeClient(ctx, payload)

	welcome := Message{Type: TypeWelcome, User: c.m.Store().User()}
	return c.writeNow(welcome)
}

// readLoop processes inbound messages until the connection closes.
func (c *conn) readLoop(ctx context.Context) {
	defer c.close()

	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.srv.readTimeout))
		return nil
	})

	for {
		c.ws.SetReadDeadline(time.Now().Add(c.srv.readTimeout))

		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Error("read error", errAttr(err))
			}
			return
		}

		switch msg.Type {
		case TypeNavigate:
			c.handleNavigate(ctx, msg.Target)

		case TypeLogout:
			c.handleLogout(ctx)

		case TypePing:
			c.enqueue(Message{Type: TypePong})

		default:
			c.log.Warn("unknown message type", slog.String("type", string(msg.Type)))
			c.enqueue(Message{Type: TypeError, Error: "unknown message type"})
		}
	}
}

// handleNavigate evaluates the target and answers with the decision. If the
// evaluation invalidated the session (a refresh that the backend rejected),
// the client is told the session expired before the decision arrives.
func (c *conn) handleNavigate(ctx context.Context, target string) {
	wasAuthenticated := c.m.Store().IsAuthenticated()

	d := c.srv.guard.Decide(ctx, c.m, target)

	if wasAuthenticated && !c.m.Store().IsAuthenticated() {
		c.enqueue(Message{Type: TypeSessionExpired})
	}
	c.enqueue(Message{
		Type:       TypeNavigation,
		Target:     target,
		Allow:      d.Allow,
		RedirectTo: d.RedirectTo,
	})
}

func (c *conn) handleLogout(ctx context.Context) {
	if err := c.m.Logout(ctx); err != nil {
		c.log.Warn("logout", errAttr(err))
	}
	c.enqueue(Message{Type: TypeLoggedOut})
}

// writeLoop drains the send queue and keeps the connection alive with pings.
func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.srv.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			if err := c.writeNow(msg); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.srv.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *conn) writeNow(msg Message) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.srv.writeTimeout))
	return c.ws.WriteJSON(msg)
}

// enqueue queues an outbound message, dropping the connection if the client
// cannot keep up.
func (c *conn) enqueue(msg Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warn("send queue full, closing connection")
		c.close()
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
