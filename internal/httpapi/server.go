// Package httpapi 提供管理接口：客户端、在途请求、生命周期事件与浏览器目标。
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"mockrelay/internal/logger"
	api "mockrelay/pkg/api"
	"mockrelay/pkg/domain"
	"mockrelay/pkg/errx"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options 管理接口选项
type Options struct {
	Service api.Service
	Version string
	Logger  logger.Logger
}

// NewServer 创建管理接口，路由相对于挂载点
func NewServer(opts Options) http.Handler {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(l))
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("mockrelay admin API", opts.Version)
	cfg.DocsPath = ""
	humaAPI := humachi.New(router, cfg)

	registerStatusHandlers(humaAPI, opts.Service)
	registerClientHandlers(humaAPI, opts.Service)
	registerEventHandlers(humaAPI, opts.Service)
	return router
}

// mapErr 将错误码映射为 HTTP 状态
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrClientNotFound), errors.Is(err, domain.ErrTargetNotFound), errors.Is(err, domain.ErrRecordNotFound):
		return huma.Error404NotFound(err.Error())
	}
	switch errx.CodeOf(err) {
	case errx.CodeInvalidParams:
		return huma.Error400BadRequest(err.Error())
	case errx.CodeClientNotFound:
		return huma.Error404NotFound(err.Error())
	case errx.CodeDevTools:
		return huma.Error502BadGateway(err.Error())
	case errx.CodeStorage:
		return huma.Error503ServiceUnavailable(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}

func registerStatusHandlers(humaAPI huma.API, svc api.Service) {
	type healthOutput struct {
		Body api.Response[api.Health]
	}
	huma.Register(humaAPI, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Worker status", Tags: []string{"Status"}},
		func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
			return &healthOutput{Body: api.OK(svc.Health(ctx))}, nil
		})

	type auditOutput struct {
		Body api.Response[api.EmptyData]
	}
	huma.Register(humaAPI, huma.Operation{OperationID: "set-audit", Method: http.MethodPut, Path: "/audit", Summary: "Enable or disable lifecycle recording", Tags: []string{"Status"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Enabled bool `json:"enabled"`
			}
		}) (*auditOutput, error) {
			svc.SetAuditEnabled(input.Body.Enabled)
			return &auditOutput{Body: api.OK(api.EmptyData{})}, nil
		})

	type targetsOutput struct {
		Body api.Response[[]api.TargetView]
	}
	huma.Register(humaAPI, huma.Operation{OperationID: "list-targets", Method: http.MethodGet, Path: "/targets", Summary: "List browser page targets", Tags: []string{"Browser"}},
		func(ctx context.Context, _ *struct{}) (*targetsOutput, error) {
			targets, err := svc.ListTargets(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &targetsOutput{Body: api.OK(targets)}, nil
		})
}

func registerClientHandlers(humaAPI huma.API, svc api.Service) {
	type clientsOutput struct {
		Body api.Response[[]api.ClientView]
	}
	huma.Register(humaAPI, huma.Operation{OperationID: "list-clients", Method: http.MethodGet, Path: "/clients", Summary: "List connected clients", Tags: []string{"Clients"}},
		func(ctx context.Context, _ *struct{}) (*clientsOutput, error) {
			return &clientsOutput{Body: api.OK(svc.ListClients(ctx))}, nil
		})

	type disconnectOutput struct {
		Body api.Response[api.EmptyData]
	}
	huma.Register(humaAPI, huma.Operation{OperationID: "disconnect-client", Method: http.MethodDelete, Path: "/clients/{client_id}", Summary: "Disconnect a client as if its page closed", Tags: []string{"Clients"}},
		func(ctx context.Context, input *struct {
			ClientID string `path:"client_id"`
		}) (*disconnectOutput, error) {
			if err := svc.DisconnectClient(ctx, domain.ClientID(input.ClientID)); err != nil {
				return nil, mapErr(err)
			}
			return &disconnectOutput{Body: api.OK(api.EmptyData{})}, nil
		})

	type inflightOutput struct {
		Body api.Response[[]api.InflightView]
	}
	huma.Register(humaAPI, huma.Operation{OperationID: "list-inflight", Method: http.MethodGet, Path: "/inflight", Summary: "List requests awaiting a client or the network", Tags: []string{"Clients"}},
		func(ctx context.Context, _ *struct{}) (*inflightOutput, error) {
			return &inflightOutput{Body: api.OK(svc.ListInflight(ctx))}, nil
		})

	type sessionsOutput struct {
		Body api.Response[[]api.SessionView]
	}
	huma.Register(humaAPI, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/sessions", Summary: "List client activation history", Tags: []string{"Clients"}},
		func(ctx context.Context, input *struct {
			Active bool `query:"active" doc:"Only sessions that have not closed"`
			Limit  int  `query:"limit" default:"100" minimum:"1" maximum:"1000"`
		}) (*sessionsOutput, error) {
			sessions, err := svc.ListSessions(ctx, input.Active, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			return &sessionsOutput{Body: api.OK(sessions)}, nil
		})
}
