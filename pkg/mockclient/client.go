// Package mockclient 页面端协议实现：接入 mockrelay、启用模拟并应答 REQUEST。
package mockclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"mockrelay/internal/logger"
	"mockrelay/pkg/domain"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// ErrClosed 客户端已关闭
var ErrClosed = errors.New("mock client closed")

// Handler 对被拦截的请求给出决策
type Handler func(ctx context.Context, req domain.RequestPayload) domain.MockDecision

// Options 客户端配置
type Options struct {
	// URL WebSocket 接入地址，例如 ws://127.0.0.1:8787/__mockrelay/ws
	URL        string
	ClientID   domain.ClientID
	Type       domain.ClientType
	FrameType  domain.FrameType
	Visibility domain.VisibilityState
	// PageURL 页面地址，仅用于展示
	PageURL string

	// Handler 为 nil 时一律放行
	Handler Handler
	// OnResponse 收到生命周期通知时回调
	OnResponse func(evt domain.LifecycleEvent)
	// KeepaliveInterval 大于 0 时定期发送心跳
	KeepaliveInterval time.Duration

	Logger logger.Logger
}

// Client 页面端客户端
type Client struct {
	opts Options
	nc   net.Conn
	log  logger.Logger

	writeMu sync.Mutex

	waitMu  sync.Mutex
	waiters map[domain.MessageType][]chan domain.Message

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Dial 连接到 mockrelay
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.ClientID == "" {
		opts.ClientID = domain.ClientID(uuid.NewString())
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("clientId", string(opts.ClientID))
	setIf(q, "type", string(opts.Type))
	setIf(q, "frameType", string(opts.FrameType))
	setIf(q, "visibility", string(opts.Visibility))
	setIf(q, "url", opts.PageURL)
	u.RawQuery = q.Encode()

	nc, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:    opts,
		nc:      nc,
		log:     opts.Logger.With("clientId", opts.ClientID),
		waiters: make(map[domain.MessageType][]chan domain.Message),
		ctx:     cctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.readLoop()
	if opts.KeepaliveInterval > 0 {
		go c.keepaliveLoop(opts.KeepaliveInterval)
	}
	return c, nil
}

func setIf(q url.Values, k, v string) {
	if v != "" {
		q.Set(k, v)
	}
}

// ID 客户端ID
func (c *Client) ID() domain.ClientID { return c.opts.ClientID }

// Done 连接断开后关闭
func (c *Client) Done() <-chan struct{} { return c.done }

// CheckIntegrity 完整性校验握手
func (c *Client) CheckIntegrity(ctx context.Context) (domain.IntegrityPayload, error) {
	var p domain.IntegrityPayload
	msg, err := c.call(ctx, domain.MsgIntegrityCheckRequest, domain.MsgIntegrityCheckResponse)
	if err != nil {
		return p, err
	}
	err = json.Unmarshal(msg.Payload, &p)
	return p, err
}

// Activate 启用模拟，返回拦截上下文记录的客户端信息
func (c *Client) Activate(ctx context.Context) (domain.MockingEnabledPayload, error) {
	var p domain.MockingEnabledPayload
	msg, err := c.call(ctx, domain.MsgMockActivate, domain.MsgMockingEnabled)
	if err != nil {
		return p, err
	}
	err = json.Unmarshal(msg.Payload, &p)
	return p, err
}

// Keepalive 发送一次心跳并等待响应
func (c *Client) Keepalive(ctx context.Context) error {
	_, err := c.call(ctx, domain.MsgKeepaliveRequest, domain.MsgKeepaliveResponse)
	return err
}

// SetVisibility 上报可见性变化
func (c *Client) SetVisibility(v domain.VisibilityState) error {
	msg, err := domain.NewMessage(domain.MsgVisibilityChange, domain.VisibilityPayload{Visibility: v})
	if err != nil {
		return err
	}
	return c.write(msg)
}

// Close 发送 CLIENT_CLOSED 后断开
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	err := c.write(domain.Message{Type: domain.MsgClientClosed})
	c.shutdown()
	return err
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		c.cancel()
		_ = c.nc.Close()
		close(c.done)
	})
}

// call 发送消息并等待指定类型的响应
func (c *Client) call(ctx context.Context, send, want domain.MessageType) (domain.Message, error) {
	ch := make(chan domain.Message, 1)
	c.waitMu.Lock()
	c.waiters[want] = append(c.waiters[want], ch)
	c.waitMu.Unlock()

	if err := c.write(domain.Message{Type: send}); err != nil {
		c.dropWaiter(want, ch)
		return domain.Message{}, err
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-c.done:
		return domain.Message{}, ErrClosed
	case <-ctx.Done():
		c.dropWaiter(want, ch)
		return domain.Message{}, ctx.Err()
	}
}

func (c *Client) dropWaiter(t domain.MessageType, ch chan domain.Message) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	list := c.waiters[t]
	for i, w := range list {
		if w == ch {
			c.waiters[t] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// wake 唤醒最早的等待者
func (c *Client) wake(msg domain.Message) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	list := c.waiters[msg.Type]
	if len(list) == 0 {
		return
	}
	list[0] <- msg
	c.waiters[msg.Type] = list[1:]
}

func (c *Client) write(msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientText(c.nc, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		data, err := wsutil.ReadServerText(c.nc)
		if err != nil {
			c.log.Debug("连接读取结束", "error", err)
			return
		}
		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("忽略无法解析的消息", "error", err)
			continue
		}

		switch msg.Type {
		case domain.MsgRequest:
			go c.answer(msg)
		case domain.MsgResponse:
			if c.opts.OnResponse != nil {
				var evt domain.LifecycleEvent
				if err := json.Unmarshal(msg.Payload, &evt); err == nil {
					c.opts.OnResponse(evt)
				}
			}
		default:
			c.wake(msg)
		}
	}
}

// answer 调用处理函数并回复，处理函数 panic 时回复错误
func (c *Client) answer(msg domain.Message) {
	var payload domain.RequestPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.reply(msg, domain.Message{Error: "malformed request payload"})
		return
	}

	reply, err := c.decide(payload).Reply(msg.ID)
	if err != nil {
		reply = domain.Message{Error: err.Error()}
	}
	c.reply(msg, reply)
}

func (c *Client) decide(payload domain.RequestPayload) (d domain.MockDecision) {
	if c.opts.Handler == nil {
		return domain.Passthrough()
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("请求处理函数异常", "traceID", payload.ID, "panic", r)
			d = domain.MockDecision{Kind: -1}
		}
	}()
	return c.opts.Handler(c.ctx, payload)
}

func (c *Client) reply(req, reply domain.Message) {
	reply.InReplyTo = req.ReplyTo
	if reply.ID == "" {
		reply.ID = req.ID
	}
	if err := c.write(reply); err != nil {
		c.log.Debug("回复失败", "traceID", req.ID, "error", err)
	}
}

func (c *Client) keepaliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, interval)
			if err := c.Keepalive(ctx); err != nil && !errors.Is(err, ErrClosed) {
				c.log.Warn("心跳失败", "error", err)
			}
			cancel()
		}
	}
}
