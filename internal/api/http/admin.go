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
	"encoding/json"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"agent-engine/internal/auth"
	"agent-engine/internal/discovery"
	"agent-engine/internal/queue"
	"agent-engine/pkg/errors"
)

// ListKeys GET /api/v1/admin/keys
func (h *Handler) ListKeys(ctx context.Context, c *app.RequestContext) {
	limit, offset := pagination(c)
	keys, total, err := h.keys.List(ctx, auth.KeyFilter{
		ActiveOnly: c.Query("active_only") == "true",
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if keys == nil {
		keys = []*auth.APIKey{}
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"keys":   keys,
		"count":  total,
		"offset": offset,
		"limit":  limit,
	})
}

type createKeyRequest struct {
	Name         string   `json:"name"`
	OwnerEmail   string   `json:"owner_email"`
	Scopes       []string `json:"scopes"`
	RateLimitRPM int      `json:"rate_limit_rpm"`
}

// CreateKey POST /api/v1/admin/keys；原始 key 只在这一个响应里出现
func (h *Handler) CreateKey(ctx context.Context, c *app.RequestContext) {
	var req createKeyRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		h.writeError(c, errors.Validation("invalid json body"))
		return
	}
	scopes := make([]auth.Scope, 0, len(req.Scopes))
	for _, s := range req.Scopes {
		scopes = append(scopes, auth.Scope(s))
	}
	res, err := h.keys.Issue(ctx, req.Name, req.OwnerEmail, scopes, req.RateLimitRPM, nil)
	if err != nil {
		h.writeError(c, errors.Validation("%s", err.Error()))
		return
	}
	c.JSON(consts.StatusCreated, map[string]interface{}{
		"id":      res.Key.ID,
		"key":     res.RawKey,
		"message": "store this key now; it will not be shown again",
	})
}

// GetKey GET /api/v1/admin/keys/:id
func (h *Handler) GetKey(ctx context.Context, c *app.RequestContext) {
	key, err := h.keys.Get(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, key)
}

// RevokeKey DELETE /api/v1/admin/keys/:id
func (h *Handler) RevokeKey(ctx context.Context, c *app.RequestContext) {
	var req struct {
		Reason string `json:"reason"`
	}
	if body := c.Request.Body(); len(body) > 0 {
		_ = json.Unmarshal(body, &req)
	}
	id := c.Param("id")
	if err := h.keys.Revoke(ctx, id, req.Reason); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"id":     id,
		"status": "revoked",
	})
}

// Reindex POST /api/v1/admin/agents/reindex
func (h *Handler) Reindex(ctx context.Context, c *app.RequestContext) {
	res, err := h.agents.Reindex(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

// MetricsSnapshot GET /api/v1/admin/metrics 运营数据快照
func (h *Handler) MetricsSnapshot(ctx context.Context, c *app.RequestContext) {
	now := nowUTC()

	jobsByStatus := map[string]int{}
	jobsTotal := 0
	for _, status := range []queue.Status{
		queue.StatusQueued, queue.StatusRunning, queue.StatusWaitingForUser,
		queue.StatusCompleted, queue.StatusFailed, queue.StatusCancelled,
	} {
		_, n, err := h.jobs.List(ctx, queue.ListFilter{Status: status, Limit: 1})
		if err != nil {
			h.writeError(c, err)
			return
		}
		jobsByStatus[string(status)] = n
		jobsTotal += n
	}

	lastHour, err := h.countJobsSince(ctx, now.Add(-time.Hour))
	if err != nil {
		h.writeError(c, err)
		return
	}

	workers, err := h.jobs.ListWorkers(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	workersByStatus := map[string]int{}
	for _, w := range workers {
		workersByStatus[w.Health(now)]++
	}

	_, agentsTotal, err := h.agents.List(ctx, discovery.AgentFilter{Limit: 1})
	if err != nil {
		h.writeError(c, err)
		return
	}
	_, agentsVerified, err := h.agents.List(ctx, discovery.AgentFilter{VerifiedOnly: true, Limit: 1})
	if err != nil {
		h.writeError(c, err)
		return
	}

	_, keysTotal, err := h.keys.List(ctx, auth.KeyFilter{Limit: 1})
	if err != nil {
		h.writeError(c, err)
		return
	}
	_, keysActive, err := h.keys.List(ctx, auth.KeyFilter{ActiveOnly: true, Limit: 1})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(consts.StatusOK, map[string]interface{}{
		"jobs": map[string]interface{}{
			"by_status": jobsByStatus,
			"total":     jobsTotal,
			"last_hour": lastHour,
		},
		"workers": map[string]interface{}{
			"by_status": workersByStatus,
			"total":     len(workers),
		},
		"agents": map[string]interface{}{
			"total":    agentsTotal,
			"verified": agentsVerified,
		},
		"api_keys": map[string]interface{}{
			"total":  keysTotal,
			"active": keysActive,
		},
		"timestamp": now,
	})
}

// countJobsSince 统计 cutoff 之后创建的 Job。列表按 created_at 降序，
// 翻页到第一条早于 cutoff 的记录即可停。
func (h *Handler) countJobsSince(ctx context.Context, cutoff time.Time) (int, error) {
	count := 0
	offset := 0
	for {
		jobs, total, err := h.jobs.List(ctx, queue.ListFilter{Limit: maxPageLimit, Offset: offset})
		if err != nil {
			return 0, err
		}
		for _, j := range jobs {
			if j.CreatedAt.Before(cutoff) {
				return count, nil
			}
			count++
		}
		offset += len(jobs)
		if len(jobs) == 0 || offset >= total {
			return count, nil
		}
	}
}

type workerWithHealth struct {
	*queue.WorkerRecord
	Health string `json:"health"`
}

// Workers GET /api/v1/admin/workers；health 由 last_heartbeat 推导
func (h *Handler) Workers(ctx context.Context, c *app.RequestContext) {
	workers, err := h.jobs.ListWorkers(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	now := nowUTC()
	filter := c.Query("status")

	out := make([]*workerWithHealth, 0, len(workers))
	summary := map[string]int{"healthy": 0, "warning": 0, "dead": 0}
	for _, w := range workers {
		health := w.Health(now)
		summary[health]++
		if filter != "" && filter != health {
			continue
		}
		out = append(out, &workerWithHealth{WorkerRecord: w, Health: health})
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"workers": out,
		"count":   len(out),
		"summary": summary,
	})
}
