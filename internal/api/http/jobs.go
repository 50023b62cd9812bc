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
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"agent-engine/internal/auth"
	"agent-engine/internal/queue"
	"agent-engine/pkg/errors"
)

const (
	maxTaskLen       = 10000
	maxUploadBytes   = 10 << 20
	defaultTimeout   = 300
	defaultRetries   = 3
	minTimeoutSec    = 30
	maxTimeoutSec    = 3600
	maxPriorityValue = 100
)

type attachmentRef struct {
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	StoragePath string `json:"storage_path"`
	PublicURL   string `json:"public_url"`
	SizeBytes   int64  `json:"size_bytes"`
}

type createJobRequest struct {
	Task           string          `json:"task"`
	Priority       *int            `json:"priority"`
	TimeoutSeconds *int            `json:"timeout_seconds"`
	Model          string          `json:"model"`
	HITLMode       string          `json:"hitl_mode"`
	Attachments    []attachmentRef `json:"attachments"`
}

// CreateJob POST /api/v1/jobs
func (h *Handler) CreateJob(ctx context.Context, c *app.RequestContext) {
	var req createJobRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		h.writeError(c, errors.Validation("invalid json body"))
		return
	}
	if len(req.Task) < 1 || len(req.Task) > maxTaskLen {
		h.writeError(c, errors.Validation("task must be 1..%d characters", maxTaskLen))
		return
	}

	priority := 0
	if req.Priority != nil {
		priority = *req.Priority
	}
	if priority < 0 || priority > maxPriorityValue {
		h.writeError(c, errors.Validation("priority must be 0..%d", maxPriorityValue))
		return
	}

	timeout := defaultTimeout
	if req.TimeoutSeconds != nil {
		timeout = *req.TimeoutSeconds
	}
	if timeout < minTimeoutSec || timeout > maxTimeoutSec {
		h.writeError(c, errors.Validation("timeout_seconds must be %d..%d", minTimeoutSec, maxTimeoutSec))
		return
	}

	hitl := req.HITLMode
	if hitl == "" {
		hitl = queue.HITLPlanApproval
	}
	if !queue.ValidHITLMode(hitl) {
		h.writeError(c, errors.Validation("unknown hitl_mode: %s", hitl))
		return
	}

	model := req.Model
	if model == "" {
		model = h.defaultModel
	}

	key, _ := auth.APIKeyFromContext(ctx)
	job, err := h.jobs.Enqueue(ctx, &queue.Job{
		Task:           req.Task,
		CredentialID:   key.ID,
		Priority:       priority,
		TimeoutSeconds: timeout,
		Model:          model,
		HITLMode:       hitl,
		MaxRetries:     defaultRetries,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	for _, a := range req.Attachments {
		if a.Filename == "" || a.StoragePath == "" {
			h.writeError(c, errors.Validation("attachment requires filename and storage_path"))
			return
		}
		if err := h.jobs.AddAttachment(ctx, &queue.JobAttachment{
			JobID:       job.ID,
			Filename:    a.Filename,
			MimeType:    a.MimeType,
			StoragePath: a.StoragePath,
			PublicURL:   a.PublicURL,
			SizeBytes:   a.SizeBytes,
		}); err != nil {
			h.writeError(c, err)
			return
		}
	}

	c.JSON(consts.StatusCreated, map[string]interface{}{
		"id":         job.ID,
		"status":     job.Status,
		"task":       job.Task,
		"created_at": job.CreatedAt,
	})
}

// ListJobs GET /api/v1/jobs
func (h *Handler) ListJobs(ctx context.Context, c *app.RequestContext) {
	limit, offset := pagination(c)
	f := queue.ListFilter{Limit: limit, Offset: offset}

	if s := c.Query("status"); s != "" {
		status := queue.Status(s)
		switch status {
		case queue.StatusQueued, queue.StatusRunning, queue.StatusWaitingForUser,
			queue.StatusCompleted, queue.StatusFailed, queue.StatusCancelled:
			f.Status = status
		default:
			h.writeError(c, errors.Validation("unknown status: %s", s))
			return
		}
	}

	// 非 admin 只能看到自己的 Job
	key, _ := auth.APIKeyFromContext(ctx)
	if !auth.HasScope(key.Scopes, auth.ScopeAdmin) {
		f.CredentialID = key.ID
	}

	jobs, total, err := h.jobs.List(ctx, f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"count":  total,
		"offset": offset,
		"limit":  limit,
	})
}

type jobWithArtifacts struct {
	*queue.Job
	Artifacts []*queue.JobArtifact `json:"artifacts"`
}

// GetJob GET /api/v1/jobs/:id
func (h *Handler) GetJob(ctx context.Context, c *app.RequestContext) {
	job, ae := h.loadOwnedJob(ctx, c.Param("id"))
	if ae != nil {
		c.JSON(ae.Status, ae)
		return
	}
	artifacts, err := h.jobs.ListArtifacts(ctx, job.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if artifacts == nil {
		artifacts = []*queue.JobArtifact{}
	}
	c.JSON(consts.StatusOK, &jobWithArtifacts{Job: job, Artifacts: artifacts})
}

// CancelJob DELETE /api/v1/jobs/:id
func (h *Handler) CancelJob(ctx context.Context, c *app.RequestContext) {
	job, ae := h.loadOwnedJob(ctx, c.Param("id"))
	if ae != nil {
		c.JSON(ae.Status, ae)
		return
	}
	if err := h.jobs.Cancel(ctx, job.ID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"id":     job.ID,
		"status": queue.StatusCancelled,
	})
}

type respondRequest struct {
	Answer     string `json:"answer"`
	Action     string `json:"action"`
	EditedPlan string `json:"editedPlan"`
}

// RespondJob POST /api/v1/jobs/:id/respond
// 用户回答进入会话历史，Job 回到 queued 等待 Worker 续跑。
func (h *Handler) RespondJob(ctx context.Context, c *app.RequestContext) {
	job, ae := h.loadOwnedJob(ctx, c.Param("id"))
	if ae != nil {
		c.JSON(ae.Status, ae)
		return
	}

	var req respondRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		h.writeError(c, errors.Validation("invalid json body"))
		return
	}
	switch req.Action {
	case "", "approve", "reject", "edit", "respond":
	default:
		h.writeError(c, errors.Validation("unknown action: %s", req.Action))
		return
	}

	answer := req.Answer
	if answer == "" {
		switch req.Action {
		case "approve":
			answer = "approved"
		case "reject":
			answer = "rejected"
		default:
			h.writeError(c, errors.Validation("answer is required"))
			return
		}
	}
	if req.Action == "edit" && req.EditedPlan != "" {
		answer = fmt.Sprintf("%s\n\nEdited plan:\n%s", answer, req.EditedPlan)
	}

	if err := h.jobs.Respond(ctx, job.ID, answer); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"id":     job.ID,
		"status": queue.StatusQueued,
	})
}

// JobLogs GET /api/v1/jobs/:id/logs
func (h *Handler) JobLogs(ctx context.Context, c *app.RequestContext) {
	job, ae := h.loadOwnedJob(ctx, c.Param("id"))
	if ae != nil {
		c.JSON(ae.Status, ae)
		return
	}
	logs, err := h.jobs.ListLogs(ctx, job.ID, 0)
	if err != nil {
		h.writeError(c, err)
		return
	}
	limit, offset := pagination(c)
	total := len(logs)
	if offset >= len(logs) {
		logs = nil
	} else {
		logs = logs[offset:]
	}
	if len(logs) > limit {
		logs = logs[:limit]
	}
	if logs == nil {
		logs = []*queue.JobLog{}
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"logs":   logs,
		"count":  total,
		"offset": offset,
		"limit":  limit,
	})
}

// JobArtifacts GET /api/v1/jobs/:id/artifacts
func (h *Handler) JobArtifacts(ctx context.Context, c *app.RequestContext) {
	job, ae := h.loadOwnedJob(ctx, c.Param("id"))
	if ae != nil {
		c.JSON(ae.Status, ae)
		return
	}
	artifacts, err := h.jobs.ListArtifacts(ctx, job.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if artifacts == nil {
		artifacts = []*queue.JobArtifact{}
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"artifacts": artifacts,
		"count":     len(artifacts),
	})
}

// Upload POST /api/v1/jobs/upload
// multipart：file 必填；jobId 可选，给出时登记为该 Job 的附件。
func (h *Handler) Upload(ctx context.Context, c *app.RequestContext) {
	fh, err := c.FormFile("file")
	if err != nil {
		h.writeError(c, errors.MissingFile("multipart field 'file' is required"))
		return
	}
	if fh.Size > maxUploadBytes {
		h.writeError(c, errors.FileTooLarge("file exceeds 10 MiB limit"))
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.writeError(c, errors.Upload("cannot read uploaded file"))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		h.writeError(c, errors.Upload("cannot read uploaded file"))
		return
	}
	if len(data) > maxUploadBytes {
		h.writeError(c, errors.FileTooLarge("file exceeds 10 MiB limit"))
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(fh.Filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	jobID := c.PostForm("jobId")
	var path string
	if jobID != "" {
		job, ae := h.loadOwnedJob(ctx, jobID)
		if ae != nil {
			c.JSON(ae.Status, ae)
			return
		}
		path = fmt.Sprintf("attachments/%s/%s", job.ID, fh.Filename)
	} else {
		path = fmt.Sprintf("uploads/%s/%s", uuid.New().String(), fh.Filename)
	}

	if err := h.objects.Upload(ctx, path, data, contentType); err != nil {
		h.writeError(c, errors.Upload(err.Error()))
		return
	}
	publicURL := h.objects.PublicURL(path)

	if jobID != "" {
		if err := h.jobs.AddAttachment(ctx, &queue.JobAttachment{
			JobID:       jobID,
			Filename:    fh.Filename,
			MimeType:    contentType,
			StoragePath: path,
			PublicURL:   publicURL,
			SizeBytes:   int64(len(data)),
		}); err != nil {
			h.writeError(c, err)
			return
		}
	}

	c.JSON(consts.StatusOK, map[string]interface{}{
		"filename":     fh.Filename,
		"mime_type":    contentType,
		"size_bytes":   len(data),
		"storage_path": path,
		"public_url":   publicURL,
	})
}
