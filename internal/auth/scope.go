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

// Scope 权限范围
type Scope string

const (
	ScopeJobsRead    Scope = "jobs:read"
	ScopeJobsWrite   Scope = "jobs:write"
	ScopeJobsDelete  Scope = "jobs:delete"
	ScopeAgentsRead  Scope = "agents:read"
	ScopeAgentsWrite Scope = "agents:write"
	ScopeAdmin       Scope = "admin" // 全部权限
)

// ValidScopes 全部合法 scope
var ValidScopes = map[Scope]bool{
	ScopeJobsRead:    true,
	ScopeJobsWrite:   true,
	ScopeJobsDelete:  true,
	ScopeAgentsRead:  true,
	ScopeAgentsWrite: true,
	ScopeAdmin:       true,
}

// IsValidScope 检查 scope 是否合法
func IsValidScope(s Scope) bool {
	return ValidScopes[s]
}

// HasScope 检查持有的 scopes 是否满足任一 required scope。
// admin scope 隐含全部权限；required 为空视为无需授权。
func HasScope(held []Scope, required ...Scope) bool {
	if len(required) == 0 {
		return true
	}
	for _, h := range held {
		if h == ScopeAdmin {
			return true
		}
		for _, r := range required {
			if h == r {
				return true
			}
		}
	}
	return false
}
