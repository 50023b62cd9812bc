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

import "context"

type contextKey string

const apiKeyCtxKey contextKey = "auth.api_key"

// WithAPIKey 将已校验的 API Key 注入 context
func WithAPIKey(ctx context.Context, key *APIKey) context.Context {
	return context.WithValue(ctx, apiKeyCtxKey, key)
}

// APIKeyFromContext 从 context 获取已校验的 API Key
func APIKeyFromContext(ctx context.Context) (*APIKey, bool) {
	k, ok := ctx.Value(apiKeyCtxKey).(*APIKey)
	return k, ok
}
