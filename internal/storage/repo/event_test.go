package repo_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"mockrelay/internal/storage/db"
	"mockrelay/internal/storage/model"
	"mockrelay/internal/storage/repo"
	"mockrelay/pkg/domain"

	"gorm.io/gorm"
)

// setupDB 创建已迁移的内存数据库
func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.New(db.Options{FullPath: db.MemoryPath, Prefix: "test_"})
	if err != nil {
		t.Fatalf("创建内存数据库失败: %v", err)
	}
	if err := db.Migrate(gdb, model.All()...); err != nil {
		t.Fatalf("迁移数据库失败: %v", err)
	}
	return gdb
}

func setupEventRepo(t *testing.T, opts repo.EventRepoOptions) *repo.EventRepo {
	t.Helper()
	r := repo.NewEventRepo(setupDB(t), nil, opts)
	t.Cleanup(r.Stop)
	return r
}

func lifecycle(id, client string, mocked bool, at int64) domain.LifecycleEvent {
	return domain.LifecycleEvent{
		ClientID:         domain.ClientID(client),
		InterceptedAt:    at,
		RespondedAt:      at + 5,
		IsMockedResponse: mocked,
		Request: domain.LifecycleRequest{
			ID: domain.CorrelationID(id),
			RequestDescriptor: domain.RequestDescriptor{
				URL:     "http://app/api/jobs?page=1",
				Method:  "POST",
				Headers: domain.Header{"content-type": "application/json"},
				Body:    []byte(`{"title":"engineer"}`),
				Mode:    domain.ModeCORS,
			},
		},
		Response: domain.Response{
			Type:    domain.ResponseTypeDefault,
			Status:  201,
			Headers: domain.Header{"content-type": "image/png"},
			Body:    []byte{0x89, 'P', 'N', 'G'},
		},
	}
}

// TestEventRepo_AsyncWrite 达到批量大小时自动写入
func TestEventRepo_AsyncWrite(t *testing.T) {
	r := setupEventRepo(t, repo.EventRepoOptions{BatchSize: 5, FlushInterval: 50 * time.Millisecond})

	for i := 0; i < 10; i++ {
		r.Record(lifecycle("id-"+string(rune('a'+i)), "c1", i%2 == 0, int64(1000+i)))
	}

	deadline := time.Now().Add(2 * time.Second)
	var total int64
	for time.Now().Before(deadline) {
		_, total, _ = r.Query(context.Background(), repo.QueryOptions{})
		if total == 10 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if total != 10 {
		t.Fatalf("预期写入 10 条记录，实际为 %d", total)
	}
}

// TestEventRepo_RoundTrip 消息体单独存储后可完整还原
func TestEventRepo_RoundTrip(t *testing.T) {
	r := setupEventRepo(t, repo.EventRepoOptions{})
	r.Record(lifecycle("id-1", "c1", true, 1000))
	r.Flush()

	rec, err := r.GetByCorrelationID(context.Background(), "id-1")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if strings.Contains(rec.RequestJSON, "body") || strings.Contains(rec.ResponseJSON, "body") {
		t.Error("描述 JSON 不应包含 body")
	}
	if rec.ResponseBodyEncoding != "base64" || rec.RequestBodyEncoding != "" {
		t.Errorf("编码 = %q / %q", rec.RequestBodyEncoding, rec.ResponseBodyEncoding)
	}

	evt, err := repo.Decode(rec)
	if err != nil {
		t.Fatalf("还原失败: %v", err)
	}
	if string(evt.Request.Body) != `{"title":"engineer"}` || evt.Request.Method != "POST" || evt.Request.Mode != domain.ModeCORS {
		t.Errorf("请求 = %+v", evt.Request)
	}
	if evt.Response.Status != 201 || string(evt.Response.Body) != "\x89PNG" || !evt.IsMockedResponse {
		t.Errorf("响应 = %+v", evt.Response)
	}
}

func TestEventRepo_NotFound(t *testing.T) {
	r := setupEventRepo(t, repo.EventRepoOptions{})
	if _, err := r.GetByCorrelationID(context.Background(), "missing"); err != domain.ErrRecordNotFound {
		t.Errorf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestEventRepo_TruncatesBody(t *testing.T) {
	r := setupEventRepo(t, repo.EventRepoOptions{MaxBodyBytes: 4})
	r.Record(lifecycle("id-1", "c1", true, 1000))
	r.Flush()

	rec, _ := r.GetByCorrelationID(context.Background(), "id-1")
	if !rec.BodyTruncated || rec.RequestBody != `{"ti` {
		t.Errorf("truncated = %v, body = %q", rec.BodyTruncated, rec.RequestBody)
	}
}

func TestEventRepo_QueryFilters(t *testing.T) {
	r := setupEventRepo(t, repo.EventRepoOptions{})
	r.Record(lifecycle("a", "c1", true, 1000))
	r.Record(lifecycle("b", "c2", false, 2000))
	r.Record(lifecycle("c", "c1", false, 3000))
	r.Flush()

	ctx := context.Background()
	mocked := true
	tests := []struct {
		name string
		opts repo.QueryOptions
		want []string
	}{
		{"all newest first", repo.QueryOptions{}, []string{"c", "b", "a"}},
		{"by client", repo.QueryOptions{ClientID: "c1"}, []string{"c", "a"}},
		{"mocked only", repo.QueryOptions{Mocked: &mocked}, []string{"a"}},
		{"time range", repo.QueryOptions{StartTime: 1500, EndTime: 2500}, []string{"b"}},
		{"url like", repo.QueryOptions{URL: "/api/jobs"}, []string{"c", "b", "a"}},
		{"paged", repo.QueryOptions{Offset: 1, Limit: 1}, []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, _, err := r.Query(ctx, tt.opts)
			if err != nil {
				t.Fatalf("查询失败: %v", err)
			}
			if len(records) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(records), len(tt.want))
			}
			for i, id := range tt.want {
				if records[i].CorrelationID != id {
					t.Errorf("records[%d] = %s, want %s", i, records[i].CorrelationID, id)
				}
			}
		})
	}
}

func TestEventRepo_Cleanup(t *testing.T) {
	r := setupEventRepo(t, repo.EventRepoOptions{})
	now := time.Now().UnixMilli()
	r.Record(lifecycle("old", "c1", false, time.Now().AddDate(0, 0, -10).UnixMilli()))
	r.Record(lifecycle("new", "c1", false, now))
	r.Flush()

	ctx := context.Background()
	n, err := r.CleanupOldEvents(ctx, 7)
	if err != nil || n != 1 {
		t.Fatalf("CleanupOldEvents() = %d, %v", n, err)
	}

	n, err = r.ClearAll(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ClearAll() = %d, %v", n, err)
	}
}

func TestEventRepo_Consume(t *testing.T) {
	r := setupEventRepo(t, repo.EventRepoOptions{})
	events := make(chan domain.LifecycleEvent, 2)
	events <- lifecycle("a", "c1", false, 1)
	events <- lifecycle("b", "c1", false, 2)
	close(events)

	r.Consume(context.Background(), events)
	r.Flush()

	_, total, _ := r.Query(context.Background(), repo.QueryOptions{})
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
}
