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

	"agent-engine/pkg/log"
)

// DefaultThreshold 默认相似度阈值
const DefaultThreshold = 0.7

// ReindexResult reindex 执行结果
type ReindexResult struct {
	Updated int      `json:"updated"`
	Total   int      `json:"total"`
	Errors  []string `json:"errors,omitempty"`
}

// Service agent 注册与语义检索
type Service struct {
	store  AgentStore
	client Client
	logger *log.Logger
}

// NewService 创建检索服务
func NewService(store AgentStore, client Client, logger *log.Logger) *Service {
	return &Service{store: store, client: client, logger: logger}
}

// Register 注册 agent 工具包
func (s *Service) Register(ctx context.Context, a *Agent) error {
	if err := s.store.Insert(ctx, a); err != nil {
		return err
	}
	s.logger.Info("注册 agent", "agent_id", a.ID, "package", a.PackageName)
	return nil
}

// Get 按 ID 读取
func (s *Service) Get(ctx context.Context, id string) (*Agent, error) {
	return s.store.Get(ctx, id)
}

// List 按过滤条件分页
func (s *Service) List(ctx context.Context, f AgentFilter) ([]*Agent, int, error) {
	return s.store.List(ctx, f)
}

// Discover 语义检索候选 agent；threshold <= 0 时用默认值
func (s *Service) Discover(ctx context.Context, task string, threshold float64, limit int) ([]Match, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if limit <= 0 {
		limit = 5
	}
	matches, err := s.client.Discover(ctx, task, threshold, limit)
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// Reindex 为全部 agent 重建向量。单条失败不中断，收集到 Errors。
func (s *Service) Reindex(ctx context.Context) (*ReindexResult, error) {
	agents, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}
	result := &ReindexResult{Total: len(agents)}
	for _, a := range agents {
		if _, err := s.client.Embed(ctx, a.Description); err != nil {
			s.logger.Warn("reindex agent failed", "agent_id", a.ID, "error", err)
			result.Errors = append(result.Errors, a.ID+": "+err.Error())
			continue
		}
		if err := s.store.TouchIndexed(ctx, a.ID); err != nil {
			result.Errors = append(result.Errors, a.ID+": "+err.Error())
			continue
		}
		result.Updated++
	}
	s.logger.Info("reindex 完成", "updated", result.Updated, "total", result.Total)
	return result, nil
}
