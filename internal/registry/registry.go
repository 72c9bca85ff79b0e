package registry

import (
	"sort"
	"sync"

	"mockrelay/pkg/domain"
)

// Registry 已激活模拟的客户端集合
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.ClientID]struct{}
}

// New 创建空的客户端注册表
func New() *Registry {
	return &Registry{clients: make(map[domain.ClientID]struct{})}
}

// Activate 标记客户端已激活，重复调用无副作用
func (r *Registry) Activate(id domain.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = struct{}{}
}

// Deactivate 移除客户端，返回此前是否处于激活状态
func (r *Registry) Deactivate(id domain.ClientID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	return true
}

// IsActive 客户端是否已激活
func (r *Registry) IsActive(id domain.ClientID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[id]
	return ok
}

// Count 已激活客户端数量
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// IDs 获取所有已激活客户端ID（按字典序）
func (r *Registry) IDs() []domain.ClientID {
	r.mu.RLock()
	ids := make([]domain.ClientID, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
