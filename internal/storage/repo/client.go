package repo

import (
	"context"
	"time"

	"mockrelay/internal/logger"
	"mockrelay/internal/storage/model"
	"mockrelay/pkg/domain"

	"gorm.io/gorm"
)

// ClientRepo 客户端模拟会话仓库
type ClientRepo struct {
	BaseRepository[model.ClientSessionRecord]
	log logger.Logger
}

// NewClientRepo 创建客户端会话仓库
func NewClientRepo(db *gorm.DB, l logger.Logger) *ClientRepo {
	if l == nil {
		l = logger.NewNop()
	}
	return &ClientRepo{
		BaseRepository: *NewBaseRepository[model.ClientSessionRecord](db),
		log:            l,
	}
}

// Activated 记录客户端启用模拟，同一代内重复启用不新增记录
func (r *ClientRepo) Activated(generation string, info domain.ClientInfo) {
	ctx := context.Background()
	open := openSession(generation, info.ID)
	if n, err := r.Count(ctx, open); err == nil && n > 0 {
		return
	}

	err := r.Create(ctx, &model.ClientSessionRecord{
		Generation:  generation,
		ClientID:    string(info.ID),
		Type:        string(info.Type),
		FrameType:   string(info.FrameType),
		URL:         info.URL,
		ActivatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		r.log.Err(err, "记录客户端会话失败", "clientId", info.ID)
	}
}

// Closed 关闭客户端的活动会话
func (r *ClientRepo) Closed(generation string, id domain.ClientID) {
	err := openSession(generation, id).
		Apply(r.Db.WithContext(context.Background()).Model(&model.ClientSessionRecord{})).
		Update("closed_at", time.Now().UnixMilli()).Error
	if err != nil {
		r.log.Err(err, "关闭客户端会话失败", "clientId", id)
	}
}

// List 按启用时间倒序列出会话，activeOnly 仅列出未关闭的会话
func (r *ClientRepo) List(ctx context.Context, activeOnly bool, limit int) ([]*model.ClientSessionRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var filter Filter
	if activeOnly {
		filter = FilterFunc(func(db *gorm.DB) *gorm.DB { return db.Where("closed_at = 0") })
	}
	return r.FindAll(ctx, filter, &Pagination{Limit: limit}, Orders{{Field: "activated_at", Sort: "DESC"}, {Field: "id", Sort: "DESC"}})
}

func openSession(generation string, id domain.ClientID) Filter {
	return FilterFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("generation = ? AND client_id = ? AND closed_at = 0", generation, string(id))
	})
}
