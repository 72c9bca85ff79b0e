package resolver_test

import (
	"context"
	"testing"

	"mockrelay/internal/clients"
	"mockrelay/internal/registry"
	"mockrelay/internal/resolver"
	"mockrelay/pkg/domain"
)

func add(s *clients.Set, id string, frame domain.FrameType, vis domain.VisibilityState) {
	s.Add(clients.NewLocal(domain.ClientInfo{
		ID:         domain.ClientID(id),
		Type:       domain.ClientTypeWindow,
		FrameType:  frame,
		Visibility: vis,
	}, nil))
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(s *clients.Set, r *registry.Registry)
		requester domain.ClientID
		want      domain.ClientID
		wantOK    bool
	}{
		{
			name: "active requester",
			setup: func(s *clients.Set, r *registry.Registry) {
				add(s, "c1", domain.FrameTypeNested, domain.VisibilityHidden)
				r.Activate("c1")
			},
			requester: "c1",
			want:      "c1",
			wantOK:    true,
		},
		{
			name: "inactive top-level requester",
			setup: func(s *clients.Set, r *registry.Registry) {
				add(s, "c1", domain.FrameTypeTopLevel, domain.VisibilityVisible)
				add(s, "c2", domain.FrameTypeTopLevel, domain.VisibilityVisible)
				r.Activate("c2")
			},
			requester: "c1",
			want:      "c1",
			wantOK:    true,
		},
		{
			name: "nested requester falls back to visible active window",
			setup: func(s *clients.Set, r *registry.Registry) {
				add(s, "c0", domain.FrameTypeTopLevel, domain.VisibilityHidden)
				add(s, "c1", domain.FrameTypeNested, domain.VisibilityVisible)
				add(s, "c2", domain.FrameTypeTopLevel, domain.VisibilityVisible)
				add(s, "c3", domain.FrameTypeTopLevel, domain.VisibilityVisible)
				r.Activate("c0")
				r.Activate("c2")
				r.Activate("c3")
			},
			requester: "c1",
			want:      "c2",
			wantOK:    true,
		},
		{
			name: "unknown requester with hidden active window",
			setup: func(s *clients.Set, r *registry.Registry) {
				add(s, "c1", domain.FrameTypeTopLevel, domain.VisibilityHidden)
				r.Activate("c1")
			},
			requester: "ghost",
			wantOK:    false,
		},
		{
			name: "active requester missing from directory",
			setup: func(s *clients.Set, r *registry.Registry) {
				add(s, "c2", domain.FrameTypeTopLevel, domain.VisibilityVisible)
				r.Activate("gone")
				r.Activate("c2")
			},
			requester: "gone",
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := clients.NewSet()
			reg := registry.New()
			tt.setup(s, reg)

			got, ok := resolver.New(s, reg, nil).Resolve(context.Background(), tt.requester)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.Info().ID != tt.want {
				t.Errorf("got %s, want %s", got.Info().ID, tt.want)
			}
		})
	}
}
