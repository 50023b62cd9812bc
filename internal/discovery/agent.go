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

// Package discovery 维护可发现的 agent 工具包注册表与语义检索。
package discovery

import (
	"context"
	"errors"
	"time"
)

// Agent 注册的工具包
type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PackageName string    `json:"package_name"`
	Version     string    `json:"version"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Match 语义检索命中
type Match struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	PackageName string  `json:"package_name"`
	Similarity  float64 `json:"similarity"`
}

// ErrDuplicatePackage package_name 唯一性冲突
var ErrDuplicatePackage = errors.New("agent package name already registered")

// ErrAgentNotFound agent 不存在
var ErrAgentNotFound = errors.New("agent not found")

// AgentFilter 列表过滤
type AgentFilter struct {
	VerifiedOnly bool
	Limit        int
	Offset       int
}

// AgentStore agent 注册表
type AgentStore interface {
	// Insert 注册 agent；package_name 冲突返回 ErrDuplicatePackage
	Insert(ctx context.Context, a *Agent) error

	// Get 按 ID 读取
	Get(ctx context.Context, id string) (*Agent, error)

	// List 按过滤条件分页；返回本页与总数
	List(ctx context.Context, f AgentFilter) ([]*Agent, int, error)

	// All 全量读取（reindex 用）
	All(ctx context.Context) ([]*Agent, error)

	// TouchIndexed 标记 reindex 时间
	TouchIndexed(ctx context.Context, id string) error
}
