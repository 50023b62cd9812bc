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
	"regexp"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"agent-engine/internal/discovery"
	"agent-engine/pkg/errors"
)

const (
	minDescriptionLen = 10
	maxDescriptionLen = 5000
	maxAgentNameLen   = 200
	maxDiscoverLimit  = 20
)

var packageNamePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

type discoverRequest struct {
	Task      string  `json:"task"`
	Threshold float64 `json:"threshold"`
	Limit     int     `json:"limit"`
}

// DiscoverAgents POST /api/v1/agents/discover
func (h *Handler) DiscoverAgents(ctx context.Context, c *app.RequestContext) {
	var req discoverRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		h.writeError(c, errors.Validation("invalid json body"))
		return
	}
	if len(req.Task) < 1 || len(req.Task) > maxTaskLen {
		h.writeError(c, errors.Validation("task must be 1..%d characters", maxTaskLen))
		return
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		h.writeError(c, errors.Validation("threshold must be 0..1"))
		return
	}
	if req.Limit < 0 || req.Limit > maxDiscoverLimit {
		h.writeError(c, errors.Validation("limit must be 1..%d", maxDiscoverLimit))
		return
	}

	matches, err := h.agents.Discover(ctx, req.Task, req.Threshold, req.Limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if matches == nil {
		matches = []discovery.Match{}
	}
	threshold := req.Threshold
	if threshold == 0 {
		threshold = discovery.DefaultThreshold
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"agents":    matches,
		"count":     len(matches),
		"threshold": threshold,
	})
}

// ListAgents GET /api/v1/agents
func (h *Handler) ListAgents(ctx context.Context, c *app.RequestContext) {
	limit, offset := pagination(c)
	f := discovery.AgentFilter{
		VerifiedOnly: c.Query("verified_only") == "true",
		Limit:        limit,
		Offset:       offset,
	}
	agents, total, err := h.agents.List(ctx, f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if agents == nil {
		agents = []*discovery.Agent{}
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"agents": agents,
		"count":  total,
		"offset": offset,
		"limit":  limit,
	})
}

type createAgentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PackageName string `json:"package_name"`
	Version     string `json:"version"`
}

// CreateAgent POST /api/v1/agents
func (h *Handler) CreateAgent(ctx context.Context, c *app.RequestContext) {
	var req createAgentRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		h.writeError(c, errors.Validation("invalid json body"))
		return
	}
	if len(req.Name) < 1 || len(req.Name) > maxAgentNameLen {
		h.writeError(c, errors.Validation("name must be 1..%d characters", maxAgentNameLen))
		return
	}
	if len(req.PackageName) < 1 || len(req.PackageName) > maxAgentNameLen || !packageNamePattern.MatchString(req.PackageName) {
		h.writeError(c, errors.Validation("package_name must match ^[a-z0-9_-]+$ and be 1..%d characters", maxAgentNameLen))
		return
	}
	if len(req.Description) < minDescriptionLen || len(req.Description) > maxDescriptionLen {
		h.writeError(c, errors.Validation("description must be %d..%d characters", minDescriptionLen, maxDescriptionLen))
		return
	}

	agent := &discovery.Agent{
		Name:        req.Name,
		Description: req.Description,
		PackageName: req.PackageName,
		Version:     req.Version,
	}
	if err := h.agents.Register(ctx, agent); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(consts.StatusCreated, agent)
}
