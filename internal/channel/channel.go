// Package channel 实现跨执行上下文的一次性请求/应答通道。
//
// 每次调用创建一个独立的 Port，调用方持有接收端，
// 目标通过 Envelope 中的 Port 回复且只能回复一次。
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mockrelay/internal/logger"
	"mockrelay/pkg/domain"

	"github.com/google/uuid"
)

// Envelope 投递给目标的消息信封
type Envelope struct {
	Data domain.Message
	// Port 回复端口，nil 表示无需回复
	Port *Port
	// Transfer 随消息移交所有权的二进制缓冲区，发送后调用方不得再修改
	Transfer [][]byte
}

// Target 能接收消息的一端（例如一个浏览器标签页）
type Target interface {
	// PostMessage 投递消息，不等待处理
	PostMessage(env Envelope) error
	// Done 目标断开时关闭
	Done() <-chan struct{}
}

// Port 一次性回复端口
type Port struct {
	id   string
	ch   chan domain.Message
	once sync.Once
}

// NewPort 创建回复端口
func NewPort() *Port {
	return &Port{id: uuid.NewString(), ch: make(chan domain.Message, 1)}
}

// ID 端口ID，跨进程传输时用于关联回复
func (p *Port) ID() string { return p.id }

// Deliver 投递回复，只有第一次有效
func (p *Port) Deliver(msg domain.Message) bool {
	delivered := false
	p.once.Do(func() {
		p.ch <- msg
		delivered = true
	})
	return delivered
}

// ReplyError 对端在回复中携带的错误
type ReplyError struct {
	Type   domain.MessageType
	Reason string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("client replied with error to %s: %s", e.Type, e.Reason)
}

// Options 传输配置
type Options struct {
	// ReplyTimeout 等待回复的超时，0 表示无限等待
	ReplyTimeout time.Duration
	Logger       logger.Logger
}

// Transport 消息通道传输
type Transport struct {
	timeout time.Duration
	log     logger.Logger
}

// New 创建传输实例
func New(opts Options) *Transport {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Transport{timeout: opts.ReplyTimeout, log: opts.Logger}
}

// Send 发送消息并等待唯一的回复
func (t *Transport) Send(ctx context.Context, target Target, msg domain.Message, transfer ...[]byte) (domain.Message, error) {
	if target == nil {
		return domain.Message{}, domain.ErrClientNotFound
	}

	port := NewPort()
	msg.ReplyTo = port.ID()
	if err := target.PostMessage(Envelope{Data: msg, Port: port, Transfer: compact(transfer)}); err != nil {
		return domain.Message{}, fmt.Errorf("post %s: %w", msg.Type, err)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	select {
	case reply := <-port.ch:
		return t.settle(msg, reply)
	case <-target.Done():
		// 断开与回复同时发生时优先采用回复
		select {
		case reply := <-port.ch:
			return t.settle(msg, reply)
		default:
		}
		return domain.Message{}, domain.ErrTargetGone
	case <-ctx.Done():
		if t.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Message{}, fmt.Errorf("%w after %s", domain.ErrReplyTimeout, t.timeout)
		}
		return domain.Message{}, ctx.Err()
	}
}

// Post 只投递不等待回复
func (t *Transport) Post(target Target, msg domain.Message, transfer ...[]byte) error {
	if target == nil {
		return domain.ErrClientNotFound
	}
	return target.PostMessage(Envelope{Data: msg, Transfer: compact(transfer)})
}

func (t *Transport) settle(sent, reply domain.Message) (domain.Message, error) {
	if reply.Error != "" {
		t.log.Debug("客户端回复错误", "type", sent.Type, "error", reply.Error)
		return reply, &ReplyError{Type: sent.Type, Reason: reply.Error}
	}
	return reply, nil
}

func compact(bufs [][]byte) [][]byte {
	out := bufs[:0:0]
	for _, b := range bufs {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}
