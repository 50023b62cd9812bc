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

package queue

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound Job 不存在
var ErrJobNotFound = errors.New("job not found")

// ErrJobClosed 终态超过宽限期后禁止追加日志与产物；读取不受限
var ErrJobClosed = errors.New("job closed for appends")

// ListFilter 查询过滤；Limit 上限由 API 层裁剪
type ListFilter struct {
	CredentialID string
	Status       Status
	Limit        int
	Offset       int
}

// Store Job 持久化接口。所有状态转移都是针对 (id, 当前状态) 的条件更新，
// 非法转移返回 *TransitionError。
type Store interface {
	// Enqueue 创建 queued Job
	Enqueue(ctx context.Context, job *Job) (*Job, error)

	// ClaimNext 原子取出一条 queued Job 并置为 running：priority 降序、created_at 升序，
	// 跳过正被其他 worker 认领的行。无可认领时返回 nil, nil。
	ClaimNext(ctx context.Context, workerID string) (*Job, error)

	// Complete running → completed；已是 completed 时幂等
	Complete(ctx context.Context, id string, result string) error

	// Fail running → failed；已是 failed 时幂等
	Fail(ctx context.Context, id string, errText string) error

	// Release running → queued，清除 worker 与 started_at（worker 退出时用）
	Release(ctx context.Context, id string) error

	// Park running → waiting_for_user，记录 agent 提问与检查点
	Park(ctx context.Context, id string, question string, state *ExecutionState) error

	// Respond waiting_for_user → queued：用户消息进历史，resumed_count+1
	Respond(ctx context.Context, id string, userAnswer string) error

	// Cancel 仅允许从 queued / waiting_for_user 取消
	Cancel(ctx context.Context, id string) error

	// Get 读取 Job；不存在返回 nil, nil
	Get(ctx context.Context, id string) (*Job, error)

	// List 按过滤条件分页；返回本页与总数
	List(ctx context.Context, f ListFilter) ([]*Job, int, error)

	// SetDiscoveredTools 写入 tools_discovered
	SetDiscoveredTools(ctx context.Context, id string, names []string) error

	// AppendLog 追加日志；失败不得影响 Job 执行
	AppendLog(ctx context.Context, jobID, level, message string, metadata map[string]interface{}) error

	// ListLogs 读取日志（seq 升序），afterSeq 之后的行
	ListLogs(ctx context.Context, jobID string, afterSeq int64) ([]*JobLog, error)

	// AddArtifact 记录产出文件
	AddArtifact(ctx context.Context, a *JobArtifact) error

	// ListArtifacts 列出产出文件
	ListArtifacts(ctx context.Context, jobID string) ([]*JobArtifact, error)

	// AddAttachment 记录输入附件
	AddAttachment(ctx context.Context, a *JobAttachment) error

	// ListAttachments 列出输入附件
	ListAttachments(ctx context.Context, jobID string) ([]*JobAttachment, error)

	// RecoverStale 回收孤儿租约：running 超过 staleThreshold 且其 worker 心跳超过
	// livenessThreshold 的 Job。retry_count < max_retries 则重新入队并递增，
	// 否则置为 failed（"worker lost"）。返回处理条数；可并发安全地重复执行。
	RecoverStale(ctx context.Context, staleThreshold, livenessThreshold time.Duration) (int, error)

	// UpsertWorker 心跳写入 Worker 注册记录
	UpsertWorker(ctx context.Context, w *WorkerRecord) error

	// ListWorkers 列出全部 Worker 记录
	ListWorkers(ctx context.Context) ([]*WorkerRecord, error)
}
