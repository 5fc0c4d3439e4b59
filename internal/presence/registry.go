// Package presence tracks the push connections of online users and
// delivers push notifications over them.
package presence

import (
	"context"
	"errors"
	"sync"

	"github.com/vaidashi/relay-freight-api/internal/clients"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// Conn is the write side of a push connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// session serializes writes to one connection.
type session struct {
	mu   sync.Mutex
	conn Conn
}

func (s *session) write(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Registry maps user ids to their open push connections. A user may hold
// several connections, one per device.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[Conn]*session
	logger   logger.Logger
}

func NewRegistry(logger logger.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]map[Conn]*session),
		logger:   logger,
	}
}

// Register binds conn to userID until Unregister is called.
func (r *Registry) Register(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[userID]
	if !ok {
		conns = make(map[Conn]*session)
		r.sessions[userID] = conns
	}
	conns[conn] = &session{conn: conn}

	r.logger.Debug("Push connection registered", "userID", userID, "connections", len(conns))
}

// Unregister drops conn. It does not close it.
func (r *Registry) Unregister(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[userID]
	if !ok {
		return
	}

	delete(conns, conn)
	if len(conns) == 0 {
		delete(r.sessions, userID)
	}

	r.logger.Debug("Push connection unregistered", "userID", userID)
}

// Online reports whether userID holds at least one connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID]) > 0
}

func (r *Registry) snapshot(userID string) []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*session, 0, len(r.sessions[userID]))
	for _, s := range r.sessions[userID] {
		out = append(out, s)
	}
	return out
}

// Send pushes n to every connection of its user. Other channels and
// offline users are skipped. A failed connection is closed and dropped.
func (r *Registry) Send(_ context.Context, n clients.Notification) error {
	if n.Channel != clients.ChannelPush || n.UserID == "" {
		return nil
	}

	var errs []error

	for _, s := range r.snapshot(n.UserID) {
		if err := s.write(n); err != nil {
			r.logger.Warn("Push delivery failed, dropping connection", "error", err, "userID", n.UserID)
			r.Unregister(n.UserID, s.conn)
			s.conn.Close()
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
