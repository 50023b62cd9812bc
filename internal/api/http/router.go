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

package http

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"agent-engine/internal/api/http/middleware"
	"agent-engine/internal/auth"
	"agent-engine/pkg/metrics"
)

// Router /api/v1 路由装配
type Router struct {
	handler *Handler
	mw      *middleware.Middleware
}

// NewRouter 创建路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, mw: mw}
}

// Build 构建 Hertz Server 并注册全部路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	options := append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.New(options...)
	h.Use(middleware.RequestMetrics())

	// Prometheus 文本格式，不走 /api/v1 认证
	h.GET("/metrics", func(ctx context.Context, c *app.RequestContext) {
		c.Response.Header.SetContentType("text/plain; version=0.0.4; charset=utf-8")
		if err := metrics.WritePrometheus(c.Response.BodyWriter()); err != nil {
			c.AbortWithStatus(consts.StatusInternalServerError)
		}
	})

	v1 := h.Group("/api/v1")
	v1.GET("/health", r.handler.Health)

	jobs := v1.Group("/jobs", r.mw.Authenticate())
	jobs.POST("", r.mw.RequireScope(auth.ScopeJobsWrite), r.handler.CreateJob)
	jobs.GET("", r.mw.RequireScope(auth.ScopeJobsRead), r.handler.ListJobs)
	jobs.POST("/upload", r.mw.RequireScope(auth.ScopeJobsWrite), r.handler.Upload)
	jobs.GET("/:id", r.mw.RequireScope(auth.ScopeJobsRead), r.handler.GetJob)
	jobs.DELETE("/:id", r.mw.RequireScope(auth.ScopeJobsDelete), r.handler.CancelJob)
	jobs.POST("/:id/respond", r.mw.RequireScope(auth.ScopeJobsWrite), r.handler.RespondJob)
	jobs.GET("/:id/logs", r.mw.RequireScope(auth.ScopeJobsRead), r.handler.JobLogs)
	jobs.GET("/:id/artifacts", r.mw.RequireScope(auth.ScopeJobsRead), r.handler.JobArtifacts)

	agents := v1.Group("/agents", r.mw.Authenticate())
	agents.POST("/discover", r.mw.RequireScope(auth.ScopeAgentsRead), r.handler.DiscoverAgents)
	agents.GET("", r.mw.RequireScope(auth.ScopeAgentsRead), r.handler.ListAgents)
	agents.POST("", r.mw.RequireScope(auth.ScopeAgentsWrite), r.handler.CreateAgent)

	admin := v1.Group("/admin", r.mw.Authenticate(), r.mw.RequireScope(auth.ScopeAdmin))
	admin.POST("/agents/reindex", r.handler.Reindex)
	admin.GET("/keys", r.handler.ListKeys)
	admin.POST("/keys", r.handler.CreateKey)
	admin.GET("/keys/:id", r.handler.GetKey)
	admin.DELETE("/keys/:id", r.handler.RevokeKey)
	admin.GET("/metrics", r.handler.MetricsSnapshot)
	admin.GET("/workers", r.handler.Workers)

	return h
}
