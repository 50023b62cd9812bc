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

// Package queue 提供 Job 的持久化：入队、原子认领、状态转移与孤儿租约回收。
package queue

import (
	"time"

	"agent-engine/internal/model/llm"
)

// Status Job 状态
type Status string

const (
	StatusQueued         Status = "queued"
	StatusRunning        Status = "running"
	StatusWaitingForUser Status = "waiting_for_user"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// IsTerminal 是否终态
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// HITL 模式
const (
	HITLPlanApproval = "plan_approval" // 执行前须用户批准计划
	HITLAutoExecute  = "auto_execute"  // 不需要批准
	HITLAlwaysAsk    = "always_ask"    // 每个关键步骤前询问
)

// ValidHITLMode 校验 HITL 模式
func ValidHITLMode(m string) bool {
	return m == HITLPlanApproval || m == HITLAutoExecute || m == HITLAlwaysAsk
}

// Job 一个工作单元
type Job struct {
	ID string `json:"id"`

	// 创建时固定
	Task           string    `json:"task"`
	CredentialID   string    `json:"credential_id"`
	Priority       int       `json:"priority"`        // 0..100
	TimeoutSeconds int       `json:"timeout_seconds"` // 30..3600
	Model          string    `json:"model"`
	HITLMode       string    `json:"hitl_mode"`
	MaxRetries     int       `json:"max_retries"`
	CreatedAt      time.Time `json:"created_at"`

	// 执行中可变
	Status          Status          `json:"status"`
	WorkerID        string          `json:"worker_id,omitempty"`
	ToolsDiscovered []string        `json:"tools_discovered,omitempty"`
	ExecutionState  *ExecutionState `json:"execution_state,omitempty"`
	Result          string          `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	AgentQuestion   string          `json:"agent_question,omitempty"`
	UserAnswer      string          `json:"user_answer,omitempty"`
	RetryCount      int             `json:"retry_count"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	PausedAt        *time.Time      `json:"paused_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ExecutionState 暂停 Job 时保存的检查点
type ExecutionState struct {
	ConversationHistory []llm.Message `json:"conversation_history"`
	Files               []string      `json:"files,omitempty"`    // 已产出文件名
	Packages            []string      `json:"packages,omitempty"` // 已安装的工具包
	Checkpoint          string        `json:"checkpoint,omitempty"`
	ResumedCount        int           `json:"resumed_count"`
	LastCheckpointAt    time.Time     `json:"last_checkpoint_at"`
}

// JobLog 按 Job 追加的日志行；seq 单调递增
type JobLog struct {
	JobID     string                 `json:"job_id"`
	Seq       int64                  `json:"seq"`
	Level     string                 `json:"level"` // debug, info, warn, error
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// JobArtifact Job 产出的文件
type JobArtifact struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	StoragePath string    `json:"storage_path"`
	PublicURL   string    `json:"public_url"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// JobAttachment 提交方附带的输入文件
type JobAttachment struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	StoragePath string    `json:"storage_path"`
	PublicURL   string    `json:"public_url"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// Worker 状态
const (
	WorkerActive   = "active"
	WorkerDraining = "draining"
	WorkerDead     = "dead"
)

// WorkerRecord Worker 注册记录，每次心跳 upsert
type WorkerRecord struct {
	WorkerID      string    `json:"worker_id"` // hostname-pid
	Hostname      string    `json:"hostname"`
	Version       string    `json:"version"`
	Status        string    `json:"status"` // active | draining | dead
	ActiveJobs    int       `json:"active_jobs"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Worker 活性阈值
const (
	WorkerHealthyWithin = 60 * time.Second
	WorkerDeadAfter     = 120 * time.Second
)

// AppendGrace 终态后仍允许追加日志与产物的宽限期，
// 覆盖终态写入与收尾日志之间的竞争
const AppendGrace = 5 * time.Minute

// Health 按 last_heartbeat 推导活性：healthy < 60s，warning 60-120s，dead >= 120s
func (w *WorkerRecord) Health(now time.Time) string {
	age := now.Sub(w.LastHeartbeat)
	switch {
	case age < WorkerHealthyWithin:
		return "healthy"
	case age < WorkerDeadAfter:
		return "warning"
	default:
		return "dead"
	}
}
