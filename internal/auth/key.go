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

import "time"

// APIKey API Key 记录。原始 key 只在签发时返回一次，存储侧只保留 SHA-256。
type APIKey struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	OwnerEmail    string     `json:"owner_email,omitempty"`
	KeyHash       string     `json:"-"`          // SHA-256 hex，不出现在任何响应中
	KeyPrefix     string     `json:"key_prefix"` // 前 14 个字符，用于展示与排查
	Scopes        []Scope    `json:"scopes"`
	RateLimit     int        `json:"rate_limit"` // 每分钟请求上限
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	UsageCount    int64      `json:"usage_count"`
}

// Usable key 是否可用于认证
func (k *APIKey) Usable(now time.Time) bool {
	if !k.Active || k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return false
	}
	return true
}
