package widget

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/kite-relay/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

// Client is one widget websocket. Its route is ws:<connection id>.
type Client struct {
	conn     *websocket.Conn
	provider *Provider
	log      *slog.Logger
	route    types.Route
	send     chan *ServerFrame
	stop     chan struct{}
	stopOnce sync.Once

	mu     sync.RWMutex
	member *types.MemberId
}

func NewClient(route types.Route, conn *websocket.Conn, p *Provider, l *slog.Logger) *Client {
	return &Client{
		conn:     conn,
		provider: p,
		log:      l.With("route", route.String()),
		route:    route,
		send:     make(chan *ServerFrame, sendQueueSize),
		stop:     make(chan struct{}),
	}
}

func (c *Client) Route() types.Route {
	return c.route
}

// Member returns the member this socket joined as, if any.
func (c *Client) Member() (types.MemberId, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.member == nil {
		return types.MemberId{}, false
	}
	return *c.member, true
}

func (c *Client) setMember(id types.MemberId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.member = &id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("failed to serialize frame", "error", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read(ctx context.Context) {
	defer func() {
		c.conn.Close()
		c.provider.unregister(c)
		c.stopClient()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn("ws read", "error", err)
			}
			break
		}

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.log.Debug("error parsing frame", "error", err)
			c.queueMessage(ErrInvalidFrame(""))
			continue
		}

		// frames of one socket are handled in order
		c.provider.handleFrame(ctx, c, &frame)
	}
}

func (c *Client) queueMessage(msg *ServerFrame) bool {
	select {
	case c.send <- msg:
	case <-c.stop:
		return false
	default:
		c.log.Warn("failed to send frame to client, queue is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn("write message", "error", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}
