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
	"errors"
)

// ErrKeyNotFound key 不存在
var ErrKeyNotFound = errors.New("api key not found")

// KeyFilter key 列表过滤；Limit <=0 表示不分页
type KeyFilter struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}

// Store API Key 持久化接口
type Store interface {
	// Insert 写入新 key 记录
	Insert(ctx context.Context, key *APIKey) error

	// GetByHash 按 key hash 查找
	GetByHash(ctx context.Context, hash string) (*APIKey, error)

	// GetByID 按 ID 查找
	GetByID(ctx context.Context, id string) (*APIKey, error)

	// List 按过滤条件分页列出 key 元数据；返回本页与总数
	List(ctx context.Context, f KeyFilter) ([]*APIKey, int, error)

	// Revoke 吊销 key 并记录原因；重复吊销为幂等操作
	Revoke(ctx context.Context, id string, reason string) error

	// TouchUsage 更新最近使用时间并累加使用计数
	TouchUsage(ctx context.Context, id string) error
}
