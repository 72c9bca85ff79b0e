package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"mockrelay/internal/export"
	api "mockrelay/pkg/api"
	"mockrelay/pkg/errx"

	"github.com/danielgtaylor/huma/v2"
)

type eventQueryInput struct {
	ClientID  string `query:"clientId"`
	URL       string `query:"url" doc:"Substring match on the request URL"`
	Method    string `query:"method"`
	Mocked    string `query:"mocked" doc:"Filter by mocked responses (true or false)"`
	StartTime int64  `query:"start" doc:"Intercepted at or after (unix ms)"`
	EndTime   int64  `query:"end" doc:"Intercepted at or before (unix ms)"`
	Offset    int    `query:"offset" minimum:"0"`
	Limit     int    `query:"limit" default:"50" minimum:"1" maximum:"1000"`
}

func (in *eventQueryInput) query() (api.EventQuery, error) {
	q := api.EventQuery{
		ClientID:  in.ClientID,
		URL:       in.URL,
		Method:    in.Method,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		Offset:    in.Offset,
		Limit:     in.Limit,
	}
	if in.Mocked != "" {
		v, err := strconv.ParseBool(in.Mocked)
		if err != nil {
			return q, errx.Wrap(errx.CodeInvalidParams, err, "mocked")
		}
		q.Mocked = &v
	}
	if q.EndTime > 0 && q.StartTime > q.EndTime {
		return q, errx.New(errx.CodeInvalidParams, "start is after end")
	}
	return q, nil
}

func registerEventHandlers(humaAPI huma.API, svc api.Service) {
	type eventsOutput struct {
		Body api.Response[api.EventPage]
	}
	huma.Register(humaAPI, huma.Operation{OperationID: "list-events", Method: http.MethodGet, Path: "/events", Summary: "Query lifecycle events", Tags: []string{"Events"}},
		func(ctx context.Context, input *eventQueryInput) (*eventsOutput, error) {
			q, err := input.query()
			if err != nil {
				return nil, mapErr(err)
			}
			page, err := svc.QueryEvents(ctx, q)
			if err != nil {
				return nil, mapErr(err)
			}
			return &eventsOutput{Body: api.OK(page)}, nil
		})

	type clearResult struct {
		Deleted int64 `json:"deleted"`
	}
	type clearOutput struct {
		Body api.Response[clearResult]
	}
	huma.Register(humaAPI, huma.Operation{OperationID: "clear-events", Method: http.MethodDelete, Path: "/events", Summary: "Delete all lifecycle events", Tags: []string{"Events"}},
		func(ctx context.Context, _ *struct{}) (*clearOutput, error) {
			n, err := svc.ClearEvents(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &clearOutput{Body: api.OK(clearResult{Deleted: n})}, nil
		})

	type harOutput struct {
		ContentDisposition string `header:"Content-Disposition"`
		Body               export.Log
	}
	huma.Register(humaAPI, huma.Operation{OperationID: "export-har", Method: http.MethodGet, Path: "/events/har", Summary: "Export lifecycle events as HAR 1.2", Tags: []string{"Events"}},
		func(ctx context.Context, input *eventQueryInput) (*harOutput, error) {
			q, err := input.query()
			if err != nil {
				return nil, mapErr(err)
			}
			log, err := svc.ExportHAR(ctx, q)
			if err != nil {
				return nil, mapErr(err)
			}
			return &harOutput{ContentDisposition: `attachment; filename="mockrelay.har"`, Body: log}, nil
		})
}
