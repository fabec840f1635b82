package relay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echodial/echodial/pkg/agent"
	"github.com/echodial/echodial/pkg/logger"
	"github.com/echodial/echodial/pkg/numberpool"
	"github.com/echodial/echodial/pkg/session"
)

// Server upgrades carrier relay connections and hands each one to its own
// bridge.
type Server struct {
	registry     *session.Registry
	pool         *numberpool.Pool
	responder    agent.Responder
	setupTimeout time.Duration
	upgrader     websocket.Upgrader
}

func NewServer(registry *session.Registry, pool *numberpool.Pool, responder agent.Responder, setupTimeout time.Duration) *Server {
	return &Server{
		registry:     registry,
		pool:         pool,
		responder:    responder,
		setupTimeout: setupTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The carrier connects server-to-server; there is no browser
			// origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleRelay is the websocket endpoint the carrier is pointed at when a
// call is placed.
func (s *Server) HandleRelay(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("relay", "Websocket upgrade failed", map[string]interface{}{
			"remote": r.RemoteAddr, "error": err.Error(),
		})
		return
	}

	logger.DebugCF("relay", "Relay connection opened", map[string]interface{}{"remote": r.RemoteAddr})
	bridge := NewBridge(&wsTransport{conn: conn}, s.registry, s.pool, s.responder, s.setupTimeout)
	bridge.Run(r.Context())
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteJSON(v interface{}) error {
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
