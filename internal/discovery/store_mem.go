// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemAgentStore 内存注册表（开发与测试用）
type MemAgentStore struct {
	mu     sync.RWMutex
	byID   map[string]*Agent
	byPkg  map[string]string // package_name -> id
}

// NewMemAgentStore 创建内存注册表
func NewMemAgentStore() *MemAgentStore {
	return &MemAgentStore{
		byID:  make(map[string]*Agent),
		byPkg: make(map[string]string),
	}
}

func (s *MemAgentStore) Insert(ctx context.Context, a *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byPkg[a.PackageName]; dup {
		return ErrDuplicatePackage
	}
	if a.ID == "" {
		a.ID = "agent-" + uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	s.byID[a.ID] = &cp
	s.byPkg[a.PackageName] = a.ID
	return nil
}

func (s *MemAgentStore) Get(ctx context.Context, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemAgentStore) List(ctx context.Context, f AgentFilter) ([]*Agent, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*Agent
	for _, a := range s.byID {
		if f.VerifiedOnly && !a.Verified {
			continue
		}
		all = append(all, a)
	}
	sort.Slice(all, func(i, k int) bool { return all[i].CreatedAt.Before(all[k].CreatedAt) })
	total := len(all)
	if f.Offset > len(all) {
		return nil, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	out := make([]*Agent, 0, len(all))
	for _, a := range all {
		cp := *a
		out = append(out, &cp)
	}
	return out, total, nil
}

func (s *MemAgentStore) All(ctx context.Context) ([]*Agent, error) {
	list, _, err := s.List(ctx, AgentFilter{})
	return list, err
}

func (s *MemAgentStore) TouchIndexed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}
