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

package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 内存 API Key 存储（开发与测试用）
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*APIKey
	byHash map[string]string // hash -> id
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*APIKey),
		byHash: make(map[string]string),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.byID[key.ID] = &cp
	s.byHash[key.KeyHash] = key.ID
	return nil
}

func (s *MemoryStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byID[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *key
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, f KeyFilter) ([]*APIKey, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*APIKey, 0, len(s.byID))
	for _, k := range s.byID {
		if f.ActiveOnly && !k.Active {
			continue
		}
		cp := *k
		keys = append(keys, &cp)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	total := len(keys)
	if f.Offset > 0 {
		if f.Offset >= len(keys) {
			keys = nil
		} else {
			keys = keys[f.Offset:]
		}
	}
	if f.Limit > 0 && len(keys) > f.Limit {
		keys = keys[:f.Limit]
	}
	return keys, total, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return ErrKeyNotFound
	}
	if key.RevokedAt == nil {
		now := time.Now().UTC()
		key.RevokedAt = &now
		key.RevokedReason = reason
		key.Active = false
	}
	return nil
}

func (s *MemoryStore) TouchUsage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return ErrKeyNotFound
	}
	now := time.Now().UTC()
	key.LastUsedAt = &now
	key.UsageCount++
	return nil
}
