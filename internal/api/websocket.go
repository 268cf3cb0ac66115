package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/valuedesk/backend/internal/batch"
)

// WebSocket message types for the batch stream
const (
	// Client -> Server messages
	MsgTypePing    = "ping"
	MsgTypeExtract = "extract"
	MsgTypeRemove  = "remove"

	// Server -> Client messages
	MsgTypePong  = "pong"
	MsgTypeAck   = "ack"
	MsgTypeError = "error"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 4 * 1024
)

// WSMessage is a client command or a control reply
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// WSErrorResponse reports a failed client command
type WSErrorResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler streams batch events to connected clients
type WebSocketHandler struct {
	batches    *batch.Manager
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
	log        *slog.Logger
}

// NewWebSocketHandler creates a batch stream handler. Pings are sent every
// pingPeriod; the connection is dropped if no pong arrives in twice that.
func NewWebSocketHandler(batches *batch.Manager, pingPeriod time.Duration, log *slog.Logger) *WebSocketHandler {
	if pingPeriod <= 0 {
		pingPeriod = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &WebSocketHandler{
		batches: batches,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		pingPeriod: pingPeriod,
		log:        log,
	}
}

// HandleBatchStream upgrades the connection and relays batch events. The
// first message is the current snapshot.
func (wsh *WebSocketHandler) HandleBatchStream(c echo.Context) error {
	id := c.Param("id")
	events, cancel, err := wsh.batches.Subscribe(id)
	if err != nil {
		return fromDomainError(err, "batch", id)
	}
	defer cancel()

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	log := wsh.log.With(slog.String("batch", id))
	log.Debug("stream client connected")

	conn := &wsConn{ws: ws}
	pongWait := 2 * wsh.pingPeriod
	ws.SetReadLimit(wsMaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		wsh.writeLoop(conn, events, done)
	}()

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("stream read ended", slog.Any("error", err))
			}
			break
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		wsh.batches.Touch(id)
		wsh.handleCommand(conn, id, msg)
	}

	close(done)
	wg.Wait()
	log.Debug("stream client disconnected")
	return nil
}

// writeLoop forwards events and keeps the connection alive with pings.
func (wsh *WebSocketHandler) writeLoop(conn *wsConn, events <-chan batch.Event, done <-chan struct{}) {
	ticker := time.NewTicker(wsh.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				conn.close(websocket.CloseGoingAway, "batch closed")
				return
			}
			if err := conn.writeJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (wsh *WebSocketHandler) handleCommand(conn *wsConn, batchID string, msg WSMessage) {
	switch msg.Type {
	case MsgTypePing:
		conn.writeJSON(WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
	case MsgTypeExtract, MsgTypeRemove:
		b, err := wsh.batches.Get(batchID)
		if err != nil {
			conn.writeJSON(WSErrorResponse{Type: MsgTypeError, ID: msg.ID, Message: err.Error(), Code: "NOT_FOUND"})
			return
		}
		if msg.Type == MsgTypeRemove {
			b.Coordinator().Remove(msg.ID)
			conn.writeJSON(WSMessage{Type: MsgTypeAck, ID: msg.ID, Timestamp: time.Now().UnixMilli()})
			return
		}
		if err := b.Coordinator().RequestExtraction(msg.ID); err != nil {
			apiErr := fromDomainError(err, "file", msg.ID)
			conn.writeJSON(WSErrorResponse{Type: MsgTypeError, ID: msg.ID, Message: err.Error(), Code: apiErr.Code})
			return
		}
		conn.writeJSON(WSMessage{Type: MsgTypeAck, ID: msg.ID, Timestamp: time.Now().UnixMilli()})
	default:
		conn.writeJSON(WSErrorResponse{Type: MsgTypeError, Message: "Unknown message type: " + msg.Type, Code: "INVALID_TYPE"})
	}
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (c *wsConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
