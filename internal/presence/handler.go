package presence

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler upgrades authenticated requests to websocket push connections.
type Handler struct {
	registry *Registry
	userID   func(r *http.Request) (string, bool)
	upgrader websocket.Upgrader
	logger   logger.Logger
}

// NewHandler creates a push endpoint. userID extracts the caller resolved
// by the authentication middleware.
func NewHandler(registry *Registry, userID func(r *http.Request) (string, bool), logger logger.Logger) *Handler {
	return &Handler{
		registry: registry,
		userID:   userID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err, "userID", userID)
		return
	}

	h.registry.Register(userID, conn)

	done := make(chan struct{})
	go h.ping(conn, done)

	// the read loop only drains control frames; clients never send data
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Websocket closed unexpectedly", "error", err, "userID", userID)
			}
			break
		}
	}

	close(done)
	h.registry.Unregister(userID, conn)
	conn.Close()
}

func (h *Handler) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
