package cdp

import (
	"context"
	"time"

	"mockrelay/internal/logger"
	"mockrelay/pkg/domain"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

// actionTimeout 单次 Fetch 指令的超时
const actionTimeout = 5 * time.Second

// Actions 暂停请求的终结动作
type Actions struct {
	log logger.Logger
}

// NewActions 创建终结动作执行器
func NewActions(l logger.Logger) *Actions {
	if l == nil {
		l = logger.NewNop()
	}
	return &Actions{log: l}
}

// Enable 开启请求阶段拦截
func (a *Actions) Enable(ctx context.Context, client *cdp.Client) error {
	p := "*"
	return client.Fetch.Enable(ctx, &fetch.EnableArgs{
		Patterns: []fetch.RequestPattern{{URLPattern: &p, RequestStage: fetch.RequestStageRequest}},
	})
}

// Disable 关闭拦截
func (a *Actions) Disable(ctx context.Context, client *cdp.Client) error {
	return client.Fetch.Disable(ctx)
}

// Continue 原样放行
func (a *Actions) Continue(ctx context.Context, client *cdp.Client, id fetch.RequestID) error {
	ctx2, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	err := client.Fetch.ContinueRequest(ctx2, &fetch.ContinueRequestArgs{RequestID: id})
	if err != nil {
		a.log.Err(err, "放行请求失败", "requestID", id)
	}
	return err
}

// Fulfill 以给定响应完成请求
func (a *Actions) Fulfill(ctx context.Context, client *cdp.Client, id fetch.RequestID, resp *domain.Response) error {
	ctx2, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	err := client.Fetch.FulfillRequest(ctx2, ToFulfillArgs(id, resp))
	if err != nil {
		a.log.Err(err, "填充响应失败", "requestID", id, "status", resp.Status)
	}
	return err
}

// Fail 以网络错误结束请求
func (a *Actions) Fail(ctx context.Context, client *cdp.Client, id fetch.RequestID) error {
	ctx2, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	err := client.Fetch.FailRequest(ctx2, &fetch.FailRequestArgs{RequestID: id, ErrorReason: network.ErrorReasonFailed})
	if err != nil {
		a.log.Err(err, "中断请求失败", "requestID", id)
	}
	return err
}

// Apply 按拦截结果执行终结动作
func (a *Actions) Apply(ctx context.Context, client *cdp.Client, id fetch.RequestID, bypass bool, resp *domain.Response) error {
	switch {
	case bypass:
		return a.Continue(ctx, client, id)
	case resp == nil || resp.IsNetworkError():
		return a.Fail(ctx, client, id)
	default:
		return a.Fulfill(ctx, client, id, resp)
	}
}
