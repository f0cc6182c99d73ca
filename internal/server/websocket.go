package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/musinsa-manager/internal/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI runs from a local origin that differs per build.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer. Review batches carry full templates.
	maxMessageSize = 1 << 20
	// Buffered events and replies per connection.
	sendChannelSize = 256
)

// wsClient is one event-stream connection.
type wsClient struct {
	server  *Server
	conn    *websocket.Conn
	logger  *zap.Logger
	events  <-chan service.Event
	replies chan WSMessage
	// Closed when the read side is gone; pending replies are dropped after that.
	done chan struct{}
	// Command goroutines still running.
	inflight sync.WaitGroup
}

// handleEvents upgrades the connection, streams every controller event to it and runs
// commands sent as WSMessage frames, replying with the same request_id.
func (s *Server) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already answered the request.
			s.logger.Error("Failed to upgrade connection to WebSocket", zap.Error(err))
			return
		}
		s.clients.Add(1)
		defer s.clients.Done()

		events, unsubscribe := s.ctrl.Subscribe(sendChannelSize)
		client := &wsClient{
			server:  s,
			conn:    conn,
			logger:  s.logger.With(zap.String("remote_addr", r.RemoteAddr)),
			events:  events,
			replies: make(chan WSMessage, sendChannelSize),
			done:    make(chan struct{}),
		}
		client.logger.Info("WebSocket connection established (/ws/v1/events).")

		ctx, cancel := context.WithCancel(r.Context())
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			client.writePump()
		}()
		client.readPump(ctx)

		close(client.done)
		cancel()
		unsubscribe()
		client.inflight.Wait()
		<-writerDone
		client.logger.Debug("WebSocket handler finished.")
	}
}

// readPump reads client frames until the connection fails or closes.
func (c *wsClient) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("Failed to set initial read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket closed unexpectedly", zap.Error(err))
			} else {
				c.logger.Info("WebSocket connection closed.")
			}
			return
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.queue(WSMessage{Type: MsgTypeSystemError, Error: "invalid frame: " + err.Error()})
			continue
		}
		c.processMessage(ctx, msg)
	}
}

// writePump is the only writer on the connection. It exits when the event subscription
// closes, when the reader is gone, or on the first failed write.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.events:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.writeJSON(ev); err != nil {
				c.logger.Debug("Error writing event to WebSocket", zap.Error(err))
				return
			}

		case msg := <-c.replies:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.writeJSON(msg); err != nil {
				c.logger.Debug("Error writing reply to WebSocket", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Error sending ping", zap.Error(err))
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *wsClient) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) processMessage(ctx context.Context, msg WSMessage) {
	switch msg.Type {
	case MsgTypeCommand:
		if msg.RequestID == "" || msg.Command == "" {
			c.queue(WSMessage{Type: MsgTypeSystemError, RequestID: msg.RequestID, Error: "command frames need request_id and command"})
			return
		}
		// Commands run off the read loop so pongs keep being handled during long batches.
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			reply := WSMessage{Type: MsgTypeCommandResult, RequestID: msg.RequestID, Command: msg.Command}
			res, err := c.server.ctrl.Dispatch(ctx, msg.Command, msg.Payload)
			if err != nil {
				reply.Error = err.Error()
			} else {
				reply.Data = res
			}
			c.queue(reply)
		}()
	default:
		c.logger.Warn("Received unknown message type from client", zap.String("type", string(msg.Type)))
		c.queue(WSMessage{Type: MsgTypeSystemError, RequestID: msg.RequestID, Error: "unknown message type: " + string(msg.Type)})
	}
}

func (c *wsClient) queue(msg WSMessage) {
	select {
	case c.replies <- msg:
	case <-c.done:
	default:
		c.logger.Error("WebSocket send buffer full, dropping reply.", zap.String("request_id", msg.RequestID))
	}
}
