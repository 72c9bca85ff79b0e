package repo

import (
	"context"
	"errors"

	"mockrelay/pkg/domain"

	"gorm.io/gorm"
)

// Filter 筛选器接口
type Filter interface {
	Apply(db *gorm.DB) *gorm.DB
}

// Pagination 分页参数
type Pagination struct {
	Offset int
	Limit  int
}

// Order 排序参数
type Order struct {
	Field string
	Sort  string
}

// Orders 排序参数切片
type Orders []Order

// BaseRepository 基础DAO层
type BaseRepository[T any] struct {
	Db *gorm.DB
}

// NewBaseRepository 创建基础DAO层
func NewBaseRepository[T any](db *gorm.DB) *BaseRepository[T] {
	return &BaseRepository[T]{Db: db}
}

// Create 创建记录
func (r *BaseRepository[T]) Create(ctx context.Context, item *T) error {
	if r.Db == nil {
		return domain.ErrDatabaseNotInitialized
	}
	return r.Db.WithContext(ctx).Create(item).Error
}

// CreateBatch 批量创建记录
func (r *BaseRepository[T]) CreateBatch(ctx context.Context, items []*T, batchSize int) error {
	if len(items) == 0 {
		return nil
	}
	if r.Db == nil {
		return domain.ErrDatabaseNotInitialized
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return r.Db.WithContext(ctx).CreateInBatches(items, batchSize).Error
}

// FindOne 按筛选器查询一条记录，不存在返回 domain.ErrRecordNotFound
func (r *BaseRepository[T]) FindOne(ctx context.Context, filter Filter) (*T, error) {
	item := new(T)
	err := r.query(ctx, filter).First(item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// FindAll 按筛选器、分页与排序查询
func (r *BaseRepository[T]) FindAll(ctx context.Context, filter Filter, page *Pagination, orders Orders) ([]*T, error) {
	list := make([]*T, 0)
	query := r.query(ctx, filter)
	for _, order := range orders {
		query = query.Order(order.Field + " " + order.Sort)
	}
	if page != nil {
		query = query.Offset(page.Offset).Limit(page.Limit)
	}
	if err := query.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// Count 统计记录数量
func (r *BaseRepository[T]) Count(ctx context.Context, filter Filter) (int64, error) {
	var count int64
	if err := r.query(ctx, filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteWhere 按筛选器删除，返回删除数量
func (r *BaseRepository[T]) DeleteWhere(ctx context.Context, filter Filter) (int64, error) {
	if r.Db == nil {
		return 0, domain.ErrDatabaseNotInitialized
	}
	query := r.Db.WithContext(ctx)
	if filter != nil {
		query = filter.Apply(query)
	} else {
		query = query.Where("1 = 1")
	}
	result := query.Delete(new(T))
	return result.RowsAffected, result.Error
}

func (r *BaseRepository[T]) query(ctx context.Context, filter Filter) *gorm.DB {
	query := r.Db.WithContext(ctx).Model(new(T))
	if filter != nil {
		query = filter.Apply(query)
	}
	return query
}

// FilterFunc 函数形式的筛选器
type FilterFunc func(db *gorm.DB) *gorm.DB

// Apply 实现 Filter
func (f FilterFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }
