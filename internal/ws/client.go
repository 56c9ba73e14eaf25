package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"watchparty-service/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 64
)

var errClientClosed = errors.New("websocket client closed")

// Client wraps one room socket. Writes go through a buffered queue drained by
// a single writer goroutine; Close may be called from any goroutine.
type Client struct {
	info ConnInfo

	conn *websocket.Conn
	send chan outbound
	once sync.Once
	done chan struct{}
}

// outbound is a queued text frame, or a close request when close is set.
type outbound struct {
	payload []byte
	close   bool
	code    int
	reason  string
}

// NewClient wraps conn. Start must be called before anything is sent.
func NewClient(info ConnInfo, conn *websocket.Conn) *Client {
	return &Client{
		info: info,
		conn: conn,
		send: make(chan outbound, sendBuffer),
		done: make(chan struct{}),
	}
}

// Info describes the connection.
func (c *Client) Info() ConnInfo { return c.info }

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Start launches the write loop.
func (c *Client) Start() {
	go c.writeLoop()
}

// SendEvent queues event for delivery. A client whose queue is full is closed
// rather than allowed to stall the publisher.
func (c *Client) SendEvent(event models.RoomEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.enqueue(outbound{payload: payload})
}

// CloseGracefully closes the socket once the frames already queued are sent.
func (c *Client) CloseGracefully(code int, reason string) {
	_ = c.enqueue(outbound{close: true, code: code, reason: reason})
}

func (c *Client) enqueue(msg outbound) error {
	select {
	case <-c.done:
		return errClientClosed
	case c.send <- msg:
		return nil
	default:
		c.Close(websocket.CloseTryAgainLater, "send buffer full")
		return errors.New("websocket send buffer exceeded")
	}
}

// Close sends a close frame with code and reason and tears the socket down.
func (c *Client) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.conn.Close()
	})
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if msg.close {
				c.Close(msg.code, msg.reason)
				return
			}
			if err := c.write(websocket.TextMessage, msg.payload); err != nil {
				log.Debug().Err(err).Str("conn_id", c.info.ConnID).Msg("websocket write failed")
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseInternalServerErr, "ping failed")
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}

// readCommands decodes client frames until the socket fails and returns the
// error that ended the loop.
func (c *Client) readCommands(handle func(models.ClientCommand)) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		var cmd models.ClientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			_ = c.SendEvent(models.RoomEvent{Type: models.EventError, Error: "invalid command"})
			continue
		}
		handle(cmd)
	}
}
