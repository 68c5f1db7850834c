package socket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"coscribe/internal/collab"
	"coscribe/pkg/logger"
)

const pingInterval = 30 * time.Second

// Client pumps one websocket connection in and out of a collab session.
type Client struct {
	conn    *websocket.Conn
	coord   *collab.Coordinator
	session *collab.Session
	// direct carries frames produced by the read side (errors mostly);
	// all conn writes happen on writePump.
	direct chan []byte
}

func newClient(conn *websocket.Conn, coord *collab.Coordinator, session *collab.Session) *Client {
	return &Client{
		conn:    conn,
		coord:   coord,
		session: session,
		direct:  make(chan []byte, 16),
	}
}

func (c *Client) readPump() {
	defer func() {
		c.coord.Close(context.Background(), c.session)
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("websocket read error on session %s: %v", c.session.ID, err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Sugar.Errorf("bad client message on session %s: %v", c.session.ID, err)
			continue
		}

		// Any inbound traffic proves liveness.
		c.coord.Heartbeat(c.session)

		switch msg.Type {
		case TypeHeartbeat:
			// Refreshed above.
		case TypeContentUpdate:
			if err := c.coord.ApplyLocalEdit(context.Background(), c.session, msg.Content); err != nil {
				c.pushDirect(errorFrame(err))
			}
		case TypeSave:
			if _, err := c.coord.Save(context.Background(), c.session); err != nil {
				c.pushDirect(errorFrame(err))
			}
			// The ack arrives through the session event stream.
		default:
			logger.Sugar.Warnf("unknown message type %q on session %s", msg.Type, c.session.ID)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.session.Done():
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case ev := <-c.session.Events():
			payload, err := json.Marshal(ev)
			if err != nil {
				logger.Sugar.Errorf("failed to marshal event for session %s: %v", c.session.ID, err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case frame := <-c.direct:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) pushDirect(frame []byte) {
	select {
	case c.direct <- frame:
	default:
		logger.Sugar.Warnf("direct buffer full on session %s, dropping frame", c.session.ID)
	}
}
