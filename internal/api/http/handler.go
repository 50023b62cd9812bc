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

// Package http 实现 /api/v1 HTTP 接口。
package http

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"agent-engine/internal/auth"
	"agent-engine/internal/discovery"
	"agent-engine/internal/queue"
	"agent-engine/internal/storage/object"
	"agent-engine/pkg/errors"
	"agent-engine/pkg/log"
)

// 分页上限与默认页大小
const (
	maxPageLimit     = 100
	defaultPageLimit = 20
)

// Handler HTTP 处理器
type Handler struct {
	jobs         queue.Store
	objects      object.Store
	agents       *discovery.Service
	keys         *auth.Service
	logger       *log.Logger
	defaultModel string
}

// NewHandler 创建 HTTP 处理器
func NewHandler(jobs queue.Store, objects object.Store, agents *discovery.Service,
	keys *auth.Service, defaultModel string, logger *log.Logger) *Handler {
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &Handler{
		jobs:         jobs,
		objects:      objects,
		agents:       agents,
		keys:         keys,
		logger:       logger,
		defaultModel: defaultModel,
	}
}

// Health 健康检查，无需认证
func (h *Handler) Health(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]interface{}{"ok": true})
}

// writeError 统一错误出口；状态机冲突与唯一约束映射到对应错误码
func (h *Handler) writeError(c *app.RequestContext, err error) {
	var te *queue.TransitionError
	if stderrors.As(err, &te) {
		ae := errors.InvalidState("cannot transition job from %s to %s", te.From, te.To)
		c.JSON(ae.Status, ae)
		return
	}
	if stderrors.Is(err, discovery.ErrDuplicatePackage) {
		ae := errors.Duplicate("package name already registered")
		c.JSON(ae.Status, ae)
		return
	}
	if stderrors.Is(err, auth.ErrKeyNotFound) {
		ae := errors.NotFoundErr("api key")
		c.JSON(ae.Status, ae)
		return
	}
	ae := errors.AsAPIError(err)
	if ae.Status >= 500 {
		h.logger.Error("请求处理failed", "error", err)
	}
	c.JSON(ae.Status, ae)
}

// loadOwnedJob 读取 Job 并做归属检查。Job 不存在、或调用方不是属主且无
// admin scope 时都返回 404，避免探测资源是否存在。
func (h *Handler) loadOwnedJob(ctx context.Context, id string) (*queue.Job, *errors.APIError) {
	job, err := h.jobs.Get(ctx, id)
	if err != nil {
		return nil, errors.Internal(err.Error())
	}
	if job == nil {
		return nil, errors.NotFoundErr("job")
	}
	key, ok := auth.APIKeyFromContext(ctx)
	if !ok {
		return nil, errors.Unauthorized("authentication required")
	}
	if job.CredentialID != key.ID && !auth.HasScope(key.Scopes, auth.ScopeAdmin) {
		return nil, errors.NotFoundErr("job")
	}
	return job, nil
}

// queryInt 解析查询参数整数，空或非法时返回 fallback
func queryInt(c *app.RequestContext, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// pagination 裁剪 limit/offset：limit 默认 20、上限 100，offset 非负
func pagination(c *app.RequestContext) (limit, offset int) {
	limit = queryInt(c, "limit", defaultPageLimit)
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset = queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func nowUTC() time.Time { return time.Now().UTC() }
