// Websocket transport wrapper used by the Carewire gateway.
// One buffered outbound channel and one write pump per connection keeps
// frame writes serialized, gorilla allows a single concurrent writer.

package gateway

import (
	"Carewire/internal/entity"
	"Carewire/internal/errors"
	"Carewire/pkg/log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Deadline applied to every frame and control write
	writeWait = 5 * time.Second
	// Outbound frames buffered per connection before pushes fail fast
	sendBuffer = 256
)

type conn struct {
	ws   *websocket.Conn
	send chan entity.Push
	done chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:   ws,
		send: make(chan entity.Push, sendBuffer),
		done: make(chan struct{}),
	}
}

// writePump serializes all outbound frames onto the transport.
// Runs in its own goroutine until the connection is closed.
func (c *conn) writePump(logger log.Logger) {
	defer closeQuiet(c.ws)
	for {
		select {
		case <-c.done:
			return
		case push := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(push); err != nil {
				logger.Debug().Err(err).Msg("Write pump stopping after failed frame write")
				c.close()
				return
			}
		}
	}
}

// push hands an outbound frame to the write pump, failing fast when the
// connection is gone or its buffer is full.
func (c *conn) push(p entity.Push) error {
	select {
	case <-c.done:
		return errors.ConnectionError("Connection is closed.", nil)
	default:
	}
	select {
	case c.send <- p:
		return nil
	default:
		return errors.ConnectionError("Outbound write buffer is full.", map[string]interface{}{
			"reason": "buffer full",
			"event":  p.Event,
		})
	}
}

// ping sends a transport level heartbeat probe stamped with its send time.
// WriteControl is safe concurrently with the write pump.
func (c *conn) ping(sentAt time.Time) error {
	payload := []byte(strconv.FormatInt(sentAt.UnixNano(), 10))
	return c.ws.WriteControl(websocket.PingMessage, payload, time.Now().Add(writeWait))
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

func closeQuiet(ws *websocket.Conn) {
	if ws != nil {
		_ = ws.Close()
	}
}

// pongSentAt decodes the probe send time echoed back inside a pong frame.
func pongSentAt(appData string) (time.Time, bool) {
	nanos, prserr := strconv.ParseInt(appData, 10, 64)
	if prserr != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}
