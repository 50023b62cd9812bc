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

// Package middleware 实现 API 准入流水线：
// parseAuthHeader → validate → rateLimitCheck → scopeCheck。
// 任一步失败即终止请求并返回对应状态码。
package middleware

import (
	"context"
	"strconv"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"

	"agent-engine/internal/auth"
	"agent-engine/internal/ratelimit"
	"agent-engine/pkg/errors"
	"agent-engine/pkg/log"
	"agent-engine/pkg/metrics"
)

// Middleware 认证与限流中间件
type Middleware struct {
	keys    *auth.Service
	limiter ratelimit.Limiter
	logger  *log.Logger
}

// NewMiddleware 创建中间件
func NewMiddleware(keys *auth.Service, limiter ratelimit.Limiter, logger *log.Logger) *Middleware {
	return &Middleware{keys: keys, limiter: limiter, logger: logger}
}

func abortWith(c *app.RequestContext, ae *errors.APIError) {
	c.JSON(ae.Status, ae)
	c.Abort()
}

// Authenticate 解析 Bearer 凭证、校验 key 并做滑动窗限流；
// 通过后把 key 写入请求 context。
func (m *Middleware) Authenticate() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		header := string(c.GetHeader("Authorization"))
		raw, ok := bearerToken(header)
		if !ok {
			abortWith(c, errors.Unauthorized("missing or malformed authorization header"))
			return
		}

		key, err := m.keys.Validate(ctx, raw)
		if err != nil {
			// no-such-key / revoked / expired 对外不可区分
			abortWith(c, errors.Unauthorized("invalid api key"))
			return
		}

		decision, err := m.limiter.Check(ctx, key.ID, key.RateLimit)
		if err != nil {
			// 限流是 best-effort：后端异常时放行
			m.logger.Warn("限流检查异常，放行请求", "key_id", key.ID, "error", err)
			decision = ratelimit.Decision{Allowed: true, Limit: key.RateLimit}
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			abortWith(c, errors.RateLimited("rate limit exceeded"))
			return
		}

		c.Next(auth.WithAPIKey(ctx, key))
	}
}

// RequireScope 要求任一给定 scope；admin 永远满足
func (m *Middleware) RequireScope(required ...auth.Scope) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		key, ok := auth.APIKeyFromContext(ctx)
		if !ok {
			abortWith(c, errors.Unauthorized("authentication required"))
			return
		}
		if !auth.HasScope(key.Scopes, required...) {
			abortWith(c, errors.Forbidden("insufficient scope"))
			return
		}
		c.Next(ctx)
	}
}

// RequestMetrics 按路由模板与状态码计数
func RequestMetrics() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.Next(ctx)
		path := c.FullPath()
		if path == "" {
			path = string(c.Path())
		}
		metrics.APIRequests.WithLabelValues(path, strconv.Itoa(c.Response.StatusCode())).Inc()
	}
}

func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
