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
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agent-engine/pkg/log"
)

const (
	prefixLive = "engine_live_"
	prefixTest = "engine_test_"

	// 展示用前缀长度，如 "engine_live_ab"
	displayPrefixLen = 14

	keyRandomBytes = 24

	defaultRateLimit = 60
)

// ErrInvalidKey 认证失败（格式错误、未知、吊销或过期），对外统一为 401
var ErrInvalidKey = errors.New("invalid api key")

// Service API Key 签发与校验
type Service struct {
	store       Store
	environment string // live | test
	logger      *log.Logger
}

// NewService 创建 key 服务；environment 决定签发前缀
func NewService(store Store, environment string, logger *log.Logger) *Service {
	if environment != "live" {
		environment = "test"
	}
	return &Service{store: store, environment: environment, logger: logger}
}

// HashKey 原始 key 的 SHA-256 十六进制摘要
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (s *Service) keyPrefix() string {
	if s.environment == "live" {
		return prefixLive
	}
	return prefixTest
}

// IssueResult 签发结果；Key 字段只在此处出现一次
type IssueResult struct {
	Key    *APIKey
	RawKey string
}

// Issue 签发新 key。原始 key 不落库，只返回一次。
// scopes 为空时默认 {jobs:write, jobs:read}。
func (s *Service) Issue(ctx context.Context, name, ownerEmail string, scopes []Scope, rateLimit int, expiresAt *time.Time) (*IssueResult, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("key name is required")
	}
	if len(scopes) == 0 {
		scopes = []Scope{ScopeJobsWrite, ScopeJobsRead}
	}
	for _, sc := range scopes {
		if !IsValidScope(sc) {
			return nil, fmt.Errorf("unknown scope: %s", sc)
		}
	}
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}

	buf := make([]byte, keyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}
	raw := s.keyPrefix() + base64.RawURLEncoding.EncodeToString(buf)

	key := &APIKey{
		ID:         "key-" + uuid.New().String(),
		Name:       name,
		OwnerEmail: ownerEmail,
		KeyHash:    HashKey(raw),
		KeyPrefix:  raw[:displayPrefixLen],
		Scopes:     scopes,
		RateLimit:  rateLimit,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  expiresAt,
	}
	if err := s.store.Insert(ctx, key); err != nil {
		return nil, err
	}
	s.logger.Info("签发 API Key", "key_id", key.ID, "name", name, "prefix", key.KeyPrefix)
	return &IssueResult{Key: key, RawKey: raw}, nil
}

// Validate 校验原始 key；成功后异步记录使用。
// 前缀不匹配时不查库直接拒绝。
func (s *Service) Validate(ctx context.Context, raw string) (*APIKey, error) {
	if !strings.HasPrefix(raw, prefixLive) && !strings.HasPrefix(raw, prefixTest) {
		return nil, ErrInvalidKey
	}
	key, err := s.store.GetByHash(ctx, HashKey(raw))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, err
	}
	if !key.Usable(time.Now()) {
		return nil, ErrInvalidKey
	}

	// 使用记录不阻塞请求路径
	go func(id string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.TouchUsage(ctx, id); err != nil {
			s.logger.Warn("TouchUsage failed", "key_id", id, "error", err)
		}
	}(key.ID)

	return key, nil
}

// Revoke 吊销 key 并记录原因，幂等
func (s *Service) Revoke(ctx context.Context, id string, reason string) error {
	if err := s.store.Revoke(ctx, id, reason); err != nil {
		return err
	}
	s.logger.Info("吊销 API Key", "key_id", id, "reason", reason)
	return nil
}

// Get 按 ID 读取 key 元数据
func (s *Service) Get(ctx context.Context, id string) (*APIKey, error) {
	return s.store.GetByID(ctx, id)
}

// List 按过滤条件列出 key 元数据
func (s *Service) List(ctx context.Context, f KeyFilter) ([]*APIKey, int, error) {
	return s.store.List(ctx, f)
}
