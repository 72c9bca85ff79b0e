package hub

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"

	"mockrelay/internal/channel"
	"mockrelay/pkg/domain"

	"github.com/gobwas/ws/wsutil"
	"github.com/tidwall/gjson"
)

// conn 一个 WebSocket 客户端，实现 clients.Client
type conn struct {
	hub *Hub
	nc  net.Conn

	writeMu sync.Mutex

	infoMu sync.RWMutex
	info   domain.ClientInfo

	pendingMu sync.Mutex
	pending   map[string]*channel.Port

	done      chan struct{}
	closeOnce sync.Once
	replaced  atomic.Bool
	closedMsg atomic.Bool
}

func newConn(h *Hub, nc net.Conn, info domain.ClientInfo) *conn {
	return &conn{
		hub:     h,
		nc:      nc,
		info:    info,
		pending: make(map[string]*channel.Port),
		done:    make(chan struct{}),
	}
}

// Info 实现 clients.Client
func (c *conn) Info() domain.ClientInfo {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	return c.info
}

// Done 实现 channel.Target
func (c *conn) Done() <-chan struct{} { return c.done }

// PostMessage 实现 channel.Target，二进制缓冲区已包含在消息体中
func (c *conn) PostMessage(env channel.Envelope) error {
	select {
	case <-c.done:
		return domain.ErrTargetGone
	default:
	}

	msg := env.Data
	if env.Port != nil {
		msg.ReplyTo = env.Port.ID()
		c.pendingMu.Lock()
		c.pending[msg.ReplyTo] = env.Port
		c.pendingMu.Unlock()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.forget(msg.ReplyTo)
		return err
	}

	c.writeMu.Lock()
	err = wsutil.WriteServerText(c.nc, data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(msg.ReplyTo)
		return err
	}
	return nil
}

func (c *conn) forget(portID string) {
	if portID == "" {
		return
	}
	c.pendingMu.Lock()
	delete(c.pending, portID)
	c.pendingMu.Unlock()
}

// readLoop 读取客户端消息：回复交给等待中的端口，其余交给处理方
func (c *conn) readLoop(ctx context.Context) {
	defer func() {
		c.close()
		c.hub.disconnected(c)
	}()

	id := c.Info().ID
	for {
		data, err := wsutil.ReadClientText(c.nc)
		if err != nil {
			c.hub.log.Debug("客户端读取结束", "clientId", id, "error", err)
			return
		}

		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.log.Debug("忽略无法解析的客户端消息", "clientId", id, "error", err)
			continue
		}

		if port := gjson.GetBytes(data, "inReplyTo"); port.Exists() {
			c.deliver(port.String(), msg)
			continue
		}

		switch msg.Type {
		case domain.MsgVisibilityChange:
			var p domain.VisibilityPayload
			if err := json.Unmarshal(msg.Payload, &p); err == nil && p.Visibility != "" {
				c.infoMu.Lock()
				c.info.Visibility = p.Visibility
				c.infoMu.Unlock()
			}
			continue
		case domain.MsgClientClosed:
			c.closedMsg.Store(true)
		}

		if handler := c.hub.current(); handler != nil {
			if err := handler.HandleMessage(ctx, id, msg); err != nil {
				c.hub.log.Debug("处理客户端消息失败", "clientId", id, "type", msg.Type, "error", err)
			}
		}
	}
}

func (c *conn) deliver(portID string, msg domain.Message) {
	c.pendingMu.Lock()
	port, ok := c.pending[portID]
	delete(c.pending, portID)
	c.pendingMu.Unlock()

	if !ok {
		c.hub.log.Debug("忽略未知端口的回复", "clientId", c.Info().ID, "port", portID)
		return
	}
	port.Deliver(msg)
}

func (c *conn) replace() {
	c.replaced.Store(true)
	c.close()
}

func (c *conn) isReplaced() bool { return c.replaced.Load() }

func (c *conn) closedExplicitly() bool { return c.closedMsg.Load() }

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.nc.Close()
		c.pendingMu.Lock()
		c.pending = make(map[string]*channel.Port)
		c.pendingMu.Unlock()
	})
}
