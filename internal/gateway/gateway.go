// Package gateway exposes the approval channel to external
// subscribers over a websocket broadcast and a JWT-authenticated HTTP
// decision endpoint.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/agentor/internal/approval"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 45 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	sendBuffer   = 64
)

// requestFrame is the JSON shape broadcast to subscribers when a new
// approval request is published.
type requestFrame struct {
	Type    string            `json:"type"`
	Request approval.Request  `json:"request"`
}

// decisionPayload is the JSON body of a POST /approvals/{id}/decide
// request.
type decisionPayload struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// Server hosts the broadcast websocket and the decision HTTP endpoint
// over one approval.BroadcastChannel.
type Server struct {
	Channel   *approval.BroadcastChannel
	Logger    *slog.Logger
	JWTSecret []byte // empty disables authentication, for tests

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewServer constructs a Server broadcasting ch's requests to every
// connected websocket subscriber.
func NewServer(ch *approval.BroadcastChannel, jwtSecret []byte, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Channel:   ch,
		Logger:    logger,
		JWTSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	ch.Publish = s.broadcast
	return s
}

// broadcast fans out req to every connected subscriber, dropping the
// connection's frame if its send buffer is full rather than blocking
// the publisher.
func (s *Server) broadcast(req approval.Request) {
	frame, err := json.Marshal(requestFrame{Type: "approval_request", Request: req})
	if err != nil {
		s.Logger.Error("gateway: marshal approval request", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- frame:
		default:
			s.Logger.Warn("gateway: dropping approval broadcast, client buffer full")
		}
	}
}

// ServeWS upgrades the request to a websocket and streams approval
// requests to it until the connection closes.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer s.dropClient(c)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// ServeDecision handles POST /approvals/{id}/decide, resolving the
// matching outstanding request with the decoded decision.
func (s *Server) ServeDecision(w http.ResponseWriter, r *http.Request, requestID string) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload decisionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid decision payload", http.StatusBadRequest)
		return
	}

	if ok := s.Channel.Resolve(requestID, approval.Decision{Approved: payload.Approved, Reason: payload.Reason}); !ok {
		http.Error(w, "no outstanding request with that id", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authorized(r *http.Request) bool {
	if len(s.JWTSecret) == 0 {
		return true
	}
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return false
	}
	raw := strings.TrimSpace(authHeader[len("bearer "):])

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.JWTSecret, nil
	})
	return err == nil && token.Valid
}
