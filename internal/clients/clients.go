// Package clients 描述拦截上下文可见的页面客户端，以及按 ID/类型查找客户端的目录。
package clients

import (
	"context"
	"sync"

	"mockrelay/internal/channel"
	"mockrelay/pkg/domain"
)

// Client 一个已连接的页面客户端
type Client interface {
	channel.Target
	Info() domain.ClientInfo
}

// Directory 客户端目录
type Directory interface {
	// Get 按ID查找，不存在返回 domain.ErrClientNotFound
	Get(ctx context.Context, id domain.ClientID) (Client, error)
	// MatchAll 按连接顺序列出指定类型的客户端，typ 为空时列出全部
	MatchAll(ctx context.Context, typ domain.ClientType) ([]Client, error)
}

// Set 按连接顺序保存客户端的内存目录
type Set struct {
	mu    sync.RWMutex
	order []Client
	byID  map[domain.ClientID]Client
}

// NewSet 创建空目录
func NewSet() *Set {
	return &Set{byID: make(map[domain.ClientID]Client)}
}

// Add 加入客户端，同ID的旧客户端被替换并移到末尾
func (s *Set) Add(c Client) {
	id := c.Info().ID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; ok {
		s.removeLocked(id)
	}
	s.byID[id] = c
	s.order = append(s.order, c)
}

// Remove 移除客户端
func (s *Set) Remove(id domain.ClientID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

// RemoveIf 仅当目录中的客户端就是 c 时移除
func (s *Set) RemoveIf(c Client) bool {
	id := c.Info().ID
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID[id] != c {
		return false
	}
	return s.removeLocked(id)
}

func (s *Set) removeLocked(id domain.ClientID) bool {
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, c := range s.order {
		if c.Info().ID == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Get 实现 Directory
func (s *Set) Get(_ context.Context, id domain.ClientID) (Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrClientNotFound
	}
	return c, nil
}

// MatchAll 实现 Directory
func (s *Set) MatchAll(_ context.Context, typ domain.ClientType) ([]Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Client, 0, len(s.order))
	for _, c := range s.order {
		if typ == "" || c.Info().Type == typ {
			out = append(out, c)
		}
	}
	return out, nil
}

// Len 客户端数量
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Infos 按连接顺序列出客户端描述
func (s *Set) Infos() []domain.ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ClientInfo, 0, len(s.order))
	for _, c := range s.order {
		out = append(out, c.Info())
	}
	return out
}
