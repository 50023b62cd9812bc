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

// Package agentloop 驱动与模型的多轮工具调用会话，直到产出最终结果、
// 向用户提问、不可恢复错误或达到迭代上限。
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"agent-engine/internal/discovery"
	"agent-engine/internal/model/llm"
	"agent-engine/internal/queue"
	"agent-engine/internal/sandbox"
	"agent-engine/internal/storage/object"
	"agent-engine/pkg/log"
)

// MaxIterations 循环硬上限
const MaxIterations = 20

// 附件预载大小上限
const maxAttachmentBytes = 10 << 20

// OutcomeKind 循环出口类别
type OutcomeKind string

const (
	OutcomeFinal   OutcomeKind = "final"
	OutcomeAskUser OutcomeKind = "ask_user"
)

// Outcome 循环结果；失败通过 error 返回
type Outcome struct {
	Kind     OutcomeKind
	Text     string                // final 的结果文本
	Question string                // ask_user 的提问
	State    *queue.ExecutionState // ask_user 时的完整检查点
}

// Loop Agent 循环
type Loop struct {
	model      llm.Client
	sandboxes  sandbox.Provider
	objects    object.Store
	discovery  *discovery.Service
	store      queue.Store
	logger     *log.Logger
	httpClient *resty.Client
	maxTokens  int
}

// NewLoop 创建 Agent 循环
func NewLoop(model llm.Client, sandboxes sandbox.Provider, objects object.Store,
	disc *discovery.Service, store queue.Store, logger *log.Logger) *Loop {
	httpClient := resty.New()
	httpClient.SetTimeout(fetchTimeout)
	return &Loop{
		model:      model,
		sandboxes:  sandboxes,
		objects:    objects,
		discovery:  disc,
		store:      store,
		logger:     logger,
		httpClient: httpClient,
		maxTokens:  4096,
	}
}

// session 单个 Job 一次执行的状态；不跨执行存活
type session struct {
	job         *queue.Job
	messages    []llm.Message
	attachments map[string]string // filename -> 内容
	staged      map[string]string // write_file 暂存的产物
	installed   map[string]bool
	box         sandbox.Box
}

// jobLog 尽力写 Job 日志；失败只告警，不影响执行
func (l *Loop) jobLog(s *session, level, message string, metadata map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.AppendLog(ctx, s.job.ID, level, message, metadata); err != nil {
		l.logger.Warn("AppendLog failed", "job_id", s.job.ID, "error", err)
	}
}

// Run 执行 Agent 循环。沙箱在任何出口都会销毁。
func (l *Loop) Run(ctx context.Context, job *queue.Job) (outcome *Outcome, err error) {
	s := &session{
		job:         job,
		attachments: make(map[string]string),
		staged:      make(map[string]string),
		installed:   make(map[string]bool),
	}
	defer l.teardown(s)

	l.preloadAttachments(ctx, s)
	l.buildConversation(s)

	for iter := 0; iter < MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reply, err := l.model.ChatTools(ctx, &llm.ChatRequest{
			Model:      job.Model,
			Messages:   s.messages,
			Tools:      toolInventory(),
			ToolChoice: "auto",
			MaxTokens:  l.maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("chat provider: %w", err)
		}
		s.messages = append(s.messages, *reply)

		if len(reply.ToolCalls) == 0 {
			if reply.Content == "" {
				return nil, fmt.Errorf("model returned an empty message with no tool calls")
			}
			l.jobLog(s, "warn", "模型未调用 final_answer，以普通回复收尾", nil)
			l.persistArtifacts(s)
			return &Outcome{Kind: OutcomeFinal, Text: reply.Content}, nil
		}

		for _, call := range reply.ToolCalls {
			out, done, err := l.dispatch(ctx, s, call)
			if err != nil {
				return nil, err
			}
			if done != nil {
				return done, nil
			}
			s.messages = append(s.messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    out,
			})
		}
	}

	return nil, fmt.Errorf("max iterations reached (%d)", MaxIterations)
}

// dispatch 执行单个工具调用。终结性工具返回非空 Outcome；
// 普通工具错误作为 tool 消息回给模型，循环继续。
func (l *Loop) dispatch(ctx context.Context, s *session, call llm.ToolCall) (string, *Outcome, error) {
	name := call.Function.Name
	raw := call.Function.Arguments

	fail := func(err error) (string, *Outcome, error) {
		l.jobLog(s, "warn", "工具调用失败", map[string]interface{}{"tool": name, "error": err.Error()})
		return "tool error: " + err.Error(), nil, nil
	}

	switch name {
	case "discover_tools":
		var args queryArgs
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fail(fmt.Errorf("bad arguments: %w", err))
		}
		out, err := l.discoverTools(ctx, s, args.Query)
		if err != nil {
			return fail(err)
		}
		return out, nil, nil

	case "fetch_url":
		var args fetchArgs
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fail(fmt.Errorf("bad arguments: %w", err))
		}
		l.jobLog(s, "info", "fetch_url", map[string]interface{}{"url": args.URL, "method": args.Method})
		out, err := l.fetchURL(ctx, &args)
		if err != nil {
			return fail(err)
		}
		return out, nil, nil

	case "run_python":
		var args pythonArgs
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fail(fmt.Errorf("bad arguments: %w", err))
		}
		out, err := l.runPython(ctx, s, &args)
		if err != nil {
			return fail(err)
		}
		return out, nil, nil

	case "read_file":
		var args fileArgs
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fail(fmt.Errorf("bad arguments: %w", err))
		}
		content, ok := s.attachments[args.Filename]
		if !ok {
			return fail(fmt.Errorf("unknown file: %s", args.Filename))
		}
		return content, nil, nil

	case "write_file":
		var args fileArgs
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fail(fmt.Errorf("bad arguments: %w", err))
		}
		if args.Filename == "" {
			return fail(fmt.Errorf("filename is required"))
		}
		s.staged[args.Filename] = args.Content
		return fmt.Sprintf("staged %s (%d bytes)", args.Filename, len(args.Content)), nil, nil

	case "ask_user":
		var args askArgs
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fail(fmt.Errorf("bad arguments: %w", err))
		}
		l.persistArtifacts(s)
		state := &queue.ExecutionState{
			ConversationHistory: s.messages,
			Files:               stagedNames(s.staged),
			Packages:            installedNames(s.installed),
			Checkpoint:          "awaiting_user",
			ResumedCount:        resumedCount(s.job),
			LastCheckpointAt:    time.Now().UTC(),
		}
		return "", &Outcome{Kind: OutcomeAskUser, Question: args.Question, State: state}, nil

	case "final_answer":
		var args answerArgs
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fail(fmt.Errorf("bad arguments: %w", err))
		}
		l.persistArtifacts(s)
		return "", &Outcome{Kind: OutcomeFinal, Text: args.Answer}, nil

	default:
		return fail(fmt.Errorf("unknown tool: %s", name))
	}
}

// buildConversation 新任务拼装系统提示词；续跑任务回放历史并追加用户回答
func (l *Loop) buildConversation(s *session) {
	job := s.job
	if job.ExecutionState != nil && len(job.ExecutionState.ConversationHistory) > 0 && job.UserAnswer != "" {
		s.messages = answerDanglingToolCalls(
			append([]llm.Message(nil), job.ExecutionState.ConversationHistory...), job.UserAnswer)
		for _, p := range job.ExecutionState.Packages {
			s.installed[p] = true
		}
		l.jobLog(s, "info", fmt.Sprintf("resuming with %d previous messages", len(s.messages)), nil)
		return
	}

	names := make([]string, 0, len(s.attachments))
	for n := range s.attachments {
		names = append(names, n)
	}
	sort.Strings(names)

	task := job.Task
	if job.UserAnswer != "" {
		task += "\n\nUser guidance from a previous round: " + job.UserAnswer
	}
	s.messages = []llm.Message{
		{Role: llm.RoleSystem, Content: buildSystemPrompt(job, names)},
		{Role: llm.RoleUser, Content: task},
	}
}

// answerDanglingToolCalls 给历史末尾未应答的 tool_calls 补上 tool 消息。
// 暂停时历史止于 ask_user 的 assistant 调用，OpenAI 接口拒绝没有对应
// tool 消息的会话；用用户回答作为该调用的结果。
func answerDanglingToolCalls(messages []llm.Message, answer string) []llm.Message {
	idx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleAssistant && len(messages[i].ToolCalls) > 0 {
			idx = i
			break
		}
	}
	if idx == -1 {
		return messages
	}
	answered := make(map[string]bool)
	for _, m := range messages[idx+1:] {
		if m.Role == llm.RoleTool {
			answered[m.ToolCallID] = true
		}
	}
	var fills []llm.Message
	for _, call := range messages[idx].ToolCalls {
		if answered[call.ID] {
			continue
		}
		fills = append(fills, llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Name:       call.Function.Name,
			Content:    answer,
		})
	}
	if len(fills) == 0 {
		return messages
	}
	// tool 消息必须紧跟发起调用的 assistant 消息
	out := make([]llm.Message, 0, len(messages)+len(fills))
	out = append(out, messages[:idx+1]...)
	out = append(out, fills...)
	out = append(out, messages[idx+1:]...)
	return out
}

// preloadAttachments 预载 ≤10MiB 的附件内容；跳过与失败记 warn
func (l *Loop) preloadAttachments(ctx context.Context, s *session) {
	attachments, err := l.store.ListAttachments(ctx, s.job.ID)
	if err != nil {
		l.jobLog(s, "warn", "读取附件列表失败", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, a := range attachments {
		if a.SizeBytes > maxAttachmentBytes {
			l.jobLog(s, "warn", "附件过大，跳过", map[string]interface{}{"filename": a.Filename, "size_bytes": a.SizeBytes})
			continue
		}
		data, err := l.objects.Download(ctx, a.StoragePath)
		if err != nil {
			l.jobLog(s, "warn", "附件下载失败", map[string]interface{}{"filename": a.Filename, "error": err.Error()})
			continue
		}
		s.attachments[a.Filename] = string(data)
	}
}

// persistArtifacts 上传暂存产物并登记 JobArtifact；失败记 warn，不中断
func (l *Loop) persistArtifacts(s *session) {
	if len(s.staged) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, filename := range stagedNames(s.staged) {
		content := s.staged[filename]
		path := fmt.Sprintf("artifacts/%s/%s", s.job.ID, filename)
		contentType := mime.TypeByExtension(filepath.Ext(filename))
		if contentType == "" {
			contentType = "text/plain"
		}
		if err := l.objects.Upload(ctx, path, []byte(content), contentType); err != nil {
			l.jobLog(s, "warn", "产物上传失败", map[string]interface{}{"filename": filename, "error": err.Error()})
			continue
		}
		artifact := &queue.JobArtifact{
			JobID:       s.job.ID,
			Filename:    filename,
			MimeType:    contentType,
			StoragePath: path,
			PublicURL:   l.objects.PublicURL(path),
			SizeBytes:   int64(len(content)),
		}
		if err := l.store.AddArtifact(ctx, artifact); err != nil {
			l.jobLog(s, "warn", "产物登记失败", map[string]interface{}{"filename": filename, "error": err.Error()})
			continue
		}
		l.jobLog(s, "info", "产物已保存", map[string]interface{}{"filename": filename, "url": artifact.PublicURL})
	}
}

// teardown 销毁沙箱；任何出口都会执行
func (l *Loop) teardown(s *session) {
	if s.box == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.box.Kill(ctx); err != nil {
		l.logger.Warn("销毁沙箱失败", "job_id", s.job.ID, "error", err)
	}
	s.box = nil
}

func stagedNames(staged map[string]string) []string {
	names := make([]string, 0, len(staged))
	for n := range staged {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func installedNames(installed map[string]bool) []string {
	names := make([]string, 0, len(installed))
	for n := range installed {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func resumedCount(job *queue.Job) int {
	if job.ExecutionState != nil {
		return job.ExecutionState.ResumedCount
	}
	return 0
}
