package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mockrelay/internal/logger"
	"mockrelay/internal/storage/model"
	"mockrelay/internal/transformer"
	"mockrelay/pkg/domain"

	"github.com/tidwall/sjson"
	"gorm.io/gorm"
)

// EventRepoOptions 事件仓库配置
type EventRepoOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	// MaxBufferSize 缓冲区上限，超出时丢弃最旧的记录
	MaxBufferSize int
	// MaxBodyBytes 存储的消息体上限，0 表示不限制
	MaxBodyBytes int
}

// EventRepo 生命周期事件仓库，异步批量写入
type EventRepo struct {
	BaseRepository[model.LifecycleRecord]
	opts EventRepoOptions
	log  logger.Logger

	bufferMu sync.Mutex
	buffer   []*model.LifecycleRecord

	flushCh  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEventRepo 创建事件仓库并启动异步写入协程
func NewEventRepo(db *gorm.DB, l logger.Logger, opts EventRepoOptions) *EventRepo {
	if l == nil {
		l = logger.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = 5000
	}
	r := &EventRepo{
		BaseRepository: *NewBaseRepository[model.LifecycleRecord](db),
		opts:           opts,
		log:            l,
		buffer:         make([]*model.LifecycleRecord, 0, opts.BatchSize),
		flushCh:        make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
	r.wg.Add(1)
	go r.asyncWriter()
	return r
}

// asyncWriter 异步批量写入协程
func (r *EventRepo) asyncWriter() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.Flush()
			return
		case <-ticker.C:
			r.Flush()
		case <-r.flushCh:
			r.Flush()
		}
	}
}

// Flush 将缓冲区写入数据库
func (r *EventRepo) Flush() {
	r.bufferMu.Lock()
	if len(r.buffer) == 0 {
		r.bufferMu.Unlock()
		return
	}
	toWrite := r.buffer
	r.buffer = make([]*model.LifecycleRecord, 0, r.opts.BatchSize)
	r.bufferMu.Unlock()

	if err := r.CreateBatch(context.Background(), toWrite, 100); err != nil {
		r.log.Err(err, "批量写入生命周期事件失败", "count", len(toWrite))
	}
}

// Stop 停止异步写入，停止前刷新剩余数据
func (r *EventRepo) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Consume 持续消费事件通道，直到通道关闭或 ctx 结束
func (r *EventRepo) Consume(ctx context.Context, events <-chan domain.LifecycleEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			r.Record(evt)
		}
	}
}

// Record 记录生命周期事件（异步写入数据库）
func (r *EventRepo) Record(evt domain.LifecycleEvent) {
	record, err := r.toRecord(evt)
	if err != nil {
		r.log.Err(err, "序列化生命周期事件失败", "traceID", evt.Request.ID)
		return
	}

	r.bufferMu.Lock()
	if len(r.buffer) >= r.opts.MaxBufferSize {
		r.buffer = r.buffer[1:]
		r.log.Warn("事件缓冲区已满，丢弃最旧的记录")
	}
	r.buffer = append(r.buffer, record)
	needFlush := len(r.buffer) >= r.opts.BatchSize
	r.bufferMu.Unlock()

	if needFlush {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

func (r *EventRepo) toRecord(evt domain.LifecycleEvent) (*model.LifecycleRecord, error) {
	// 消息体单独存储，描述 JSON 中去掉 body
	reqJSON, err := json.Marshal(evt.Request)
	if err != nil {
		return nil, err
	}
	if reqJSON, err = sjson.DeleteBytes(reqJSON, "body"); err != nil {
		return nil, err
	}
	resJSON, err := json.Marshal(evt.Response)
	if err != nil {
		return nil, err
	}
	if resJSON, err = sjson.DeleteBytes(resJSON, "body"); err != nil {
		return nil, err
	}

	reqBody, cutReq := transformer.Truncate(evt.Request.Body, r.opts.MaxBodyBytes)
	resBody, cutRes := transformer.Truncate(evt.Response.Body, r.opts.MaxBodyBytes)
	reqText, reqEnc := transformer.EncodeBody(reqBody, evt.Request.Headers.Get("content-type"))
	resText, resEnc := transformer.EncodeBody(resBody, evt.Response.Headers.Get("content-type"))

	return &model.LifecycleRecord{
		CorrelationID:        string(evt.Request.ID),
		ClientID:             string(evt.ClientID),
		URL:                  evt.Request.URL,
		Method:               evt.Request.Method,
		Status:               evt.Response.Status,
		ResponseType:         evt.Response.Type,
		Mocked:               evt.IsMockedResponse,
		RequestJSON:          string(reqJSON),
		ResponseJSON:         string(resJSON),
		RequestBody:          reqText,
		RequestBodyEncoding:  reqEnc,
		ResponseBody:         resText,
		ResponseBodyEncoding: resEnc,
		BodyTruncated:        cutReq || cutRes,
		InterceptedAt:        evt.InterceptedAt,
		RespondedAt:          evt.RespondedAt,
		CreatedAt:            time.Now(),
	}, nil
}

// Decode 将记录还原为生命周期事件
func Decode(rec *model.LifecycleRecord) (domain.LifecycleEvent, error) {
	evt := domain.LifecycleEvent{
		ClientID:         domain.ClientID(rec.ClientID),
		InterceptedAt:    rec.InterceptedAt,
		RespondedAt:      rec.RespondedAt,
		IsMockedResponse: rec.Mocked,
	}
	if err := json.Unmarshal([]byte(rec.RequestJSON), &evt.Request); err != nil {
		return evt, fmt.Errorf("decode request of %s: %w", rec.CorrelationID, err)
	}
	if err := json.Unmarshal([]byte(rec.ResponseJSON), &evt.Response); err != nil {
		return evt, fmt.Errorf("decode response of %s: %w", rec.CorrelationID, err)
	}
	var err error
	if evt.Request.Body, err = transformer.DecodeBody(rec.RequestBody, rec.RequestBodyEncoding); err != nil {
		return evt, err
	}
	if evt.Response.Body, err = transformer.DecodeBody(rec.ResponseBody, rec.ResponseBodyEncoding); err != nil {
		return evt, err
	}
	return evt, nil
}

// QueryOptions 查询选项
type QueryOptions struct {
	ClientID  string
	URL       string
	Method    string
	Mocked    *bool
	StartTime int64
	EndTime   int64
	Offset    int
	Limit     int
}

// Apply 实现 Filter
func (o QueryOptions) Apply(query *gorm.DB) *gorm.DB {
	if o.ClientID != "" {
		query = query.Where("client_id = ?", o.ClientID)
	}
	if o.URL != "" {
		query = query.Where("url LIKE ?", "%"+o.URL+"%")
	}
	if o.Method != "" {
		query = query.Where("method = ?", o.Method)
	}
	if o.Mocked != nil {
		query = query.Where("mocked = ?", *o.Mocked)
	}
	if o.StartTime > 0 {
		query = query.Where("intercepted_at >= ?", o.StartTime)
	}
	if o.EndTime > 0 {
		query = query.Where("intercepted_at <= ?", o.EndTime)
	}
	return query
}

// Query 查询生命周期事件，按拦截时间倒序
func (r *EventRepo) Query(ctx context.Context, opts QueryOptions) ([]*model.LifecycleRecord, int64, error) {
	total, err := r.Count(ctx, opts)
	if err != nil {
		return nil, 0, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	records, err := r.FindAll(ctx, opts,
		&Pagination{Offset: opts.Offset, Limit: opts.Limit},
		Orders{{Field: "intercepted_at", Sort: "DESC"}, {Field: "id", Sort: "DESC"}},
	)
	return records, total, err
}

// GetByCorrelationID 按关联ID查询
func (r *EventRepo) GetByCorrelationID(ctx context.Context, id domain.CorrelationID) (*model.LifecycleRecord, error) {
	return r.FindOne(ctx, FilterFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("correlation_id = ?", string(id))
	}))
}

// DeleteOldEvents 删除指定时间之前的事件
func (r *EventRepo) DeleteOldEvents(ctx context.Context, beforeTimestamp int64) (int64, error) {
	return r.DeleteWhere(ctx, FilterFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("intercepted_at < ?", beforeTimestamp)
	}))
}

// CleanupOldEvents 根据保留天数清理旧事件
func (r *EventRepo) CleanupOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	return r.DeleteOldEvents(ctx, cutoff)
}

// ClearAll 清空所有事件
func (r *EventRepo) ClearAll(ctx context.Context) (int64, error) {
	return r.DeleteWhere(ctx, nil)
}
