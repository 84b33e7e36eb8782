package realtime

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Viewers never send payloads, only control frames
	maxMessageSize = 512
)

// Client is one websocket viewer attached to one room.
type Client struct {
	Conn   *websocket.Conn
	Sub    *Subscription
	UserID int64
	Log    *logger.Logger
}

// Serve sends the established signal and runs both pumps until the
// connection or the subscription ends.
func (c *Client) Serve() {
	go c.WritePump()
	c.ReadPump()
}

// ReadPump drains the connection so control frames are processed. Any
// client payload is ignored; a read error ends the session.
func (c *Client) ReadPump() {
	defer func() {
		c.Sub.Close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Log.Warn("Websocket closed unexpectedly", "error", err)
			}
			return
		}
	}
}

// WritePump forwards room signals to the peer and keeps the connection alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	if err := c.writeSignal(models.Signal{Type: models.SignalEstablished, SenderID: c.UserID}); err != nil {
		return
	}

	for {
		select {
		case sig, ok := <-c.Sub.C:
			if !ok {
				c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeSignal(sig); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeSignal(sig models.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(websocket.TextMessage, payload)
}
