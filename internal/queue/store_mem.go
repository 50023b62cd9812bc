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
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-engine/internal/model/llm"
)

// MemStore 内存实现：单节点开发与测试用，语义与 PgStore 一致
type MemStore struct {
	mu          sync.Mutex
	jobs        map[string]*Job
	logs        map[string][]*JobLog
	artifacts   map[string][]*JobArtifact
	attachments map[string][]*JobAttachment
	workers     map[string]*WorkerRecord
	now         func() time.Time
}

// NewMemStore 创建内存 Store
func NewMemStore() *MemStore {
	return &MemStore{
		jobs:        make(map[string]*Job),
		logs:        make(map[string][]*JobLog),
		artifacts:   make(map[string][]*JobArtifact),
		attachments: make(map[string][]*JobAttachment),
		workers:     make(map[string]*WorkerRecord),
		now:         time.Now,
	}
}

func cloneState(s *ExecutionState) *ExecutionState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.ConversationHistory = append([]llm.Message(nil), s.ConversationHistory...)
	cp.Files = append([]string(nil), s.Files...)
	cp.Packages = append([]string(nil), s.Packages...)
	return &cp
}

func cloneJob(j *Job) *Job {
	cp := *j
	cp.ToolsDiscovered = append([]string(nil), j.ToolsDiscovered...)
	cp.ExecutionState = cloneState(j.ExecutionState)
	return &cp
}

func (s *MemStore) Enqueue(ctx context.Context, job *Job) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = "job-" + uuid.New().String()
	}
	now := s.now().UTC()
	job.Status = StatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = cloneJob(job)
	return cloneJob(job), nil
}

func (s *MemStore) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *Job
	for _, j := range s.jobs {
		if j.Status != StatusQueued {
			continue
		}
		if next == nil ||
			j.Priority > next.Priority ||
			(j.Priority == next.Priority && j.CreatedAt.Before(next.CreatedAt)) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}
	now := s.now().UTC()
	next.Status = StatusRunning
	next.WorkerID = workerID
	next.StartedAt = &now
	next.UpdatedAt = now
	return cloneJob(next), nil
}

func (s *MemStore) transition(id string, to Status, mutate func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status == to && to.IsTerminal() {
		return nil // 幂等
	}
	if !CanTransition(j.Status, to) {
		return &TransitionError{JobID: id, From: j.Status, To: to}
	}
	j.Status = to
	j.UpdatedAt = s.now().UTC()
	if mutate != nil {
		mutate(j)
	}
	return nil
}

func (s *MemStore) Complete(ctx context.Context, id string, result string) error {
	return s.transition(id, StatusCompleted, func(j *Job) {
		now := s.now().UTC()
		j.Result = result
		j.CompletedAt = &now
	})
}

func (s *MemStore) Fail(ctx context.Context, id string, errText string) error {
	return s.transition(id, StatusFailed, func(j *Job) {
		now := s.now().UTC()
		j.Error = errText
		j.CompletedAt = &now
	})
}

func (s *MemStore) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != StatusRunning {
		return &TransitionError{JobID: id, From: j.Status, To: StatusQueued}
	}
	j.Status = StatusQueued
	j.WorkerID = ""
	j.StartedAt = nil
	j.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemStore) Park(ctx context.Context, id string, question string, state *ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != StatusRunning {
		return &TransitionError{JobID: id, From: j.Status, To: StatusWaitingForUser}
	}
	now := s.now().UTC()
	j.Status = StatusWaitingForUser
	j.AgentQuestion = question
	j.ExecutionState = cloneState(state)
	j.PausedAt = &now
	j.WorkerID = ""
	j.UpdatedAt = now
	return nil
}

func (s *MemStore) Respond(ctx context.Context, id string, userAnswer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != StatusWaitingForUser {
		return &TransitionError{JobID: id, From: j.Status, To: StatusQueued}
	}
	if j.ExecutionState == nil {
		j.ExecutionState = &ExecutionState{}
	}
	j.ExecutionState.ConversationHistory = append(j.ExecutionState.ConversationHistory,
		llm.Message{Role: llm.RoleUser, Content: userAnswer})
	j.ExecutionState.ResumedCount++
	j.UserAnswer = userAnswer
	j.AgentQuestion = ""
	j.PausedAt = nil
	j.Status = StatusQueued
	j.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != StatusQueued && j.Status != StatusWaitingForUser {
		return &TransitionError{JobID: id, From: j.Status, To: StatusCancelled}
	}
	now := s.now().UTC()
	j.Status = StatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (s *MemStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return cloneJob(j), nil
}

func (s *MemStore) List(ctx context.Context, f ListFilter) ([]*Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*Job
	for _, j := range s.jobs {
		if f.CredentialID != "" && j.CredentialID != f.CredentialID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		all = append(all, j)
	}
	sort.Slice(all, func(i, k int) bool { return all[i].CreatedAt.After(all[k].CreatedAt) })
	total := len(all)

	if f.Offset > len(all) {
		return nil, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	out := make([]*Job, 0, len(all))
	for _, j := range all {
		out = append(out, cloneJob(j))
	}
	return out, total, nil
}

func (s *MemStore) SetDiscoveredTools(ctx context.Context, id string, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.ToolsDiscovered = append([]string(nil), names...)
	j.UpdatedAt = s.now().UTC()
	return nil
}

// appendClosed 终态超过宽限期的 Job 不再接受追加
func (s *MemStore) appendClosed(j *Job) bool {
	return j.Status.IsTerminal() && j.CompletedAt != nil &&
		s.now().UTC().Sub(*j.CompletedAt) > AppendGrace
}

func (s *MemStore) AppendLog(ctx context.Context, jobID, level, message string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if s.appendClosed(j) {
		return ErrJobClosed
	}
	seq := int64(len(s.logs[jobID]) + 1)
	s.logs[jobID] = append(s.logs[jobID], &JobLog{
		JobID:     jobID,
		Seq:       seq,
		Level:     level,
		Message:   message,
		Timestamp: s.now().UTC(),
		Metadata:  metadata,
	})
	return nil
}

func (s *MemStore) ListLogs(ctx context.Context, jobID string, afterSeq int64) ([]*JobLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*JobLog
	for _, l := range s.logs[jobID] {
		if l.Seq > afterSeq {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) AddArtifact(ctx context.Context, a *JobArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[a.JobID]
	if !ok {
		return ErrJobNotFound
	}
	if s.appendClosed(j) {
		return ErrJobClosed
	}
	if a.ID == "" {
		a.ID = "art-" + uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	cp := *a
	s.artifacts[a.JobID] = append(s.artifacts[a.JobID], &cp)
	return nil
}

func (s *MemStore) ListArtifacts(ctx context.Context, jobID string) ([]*JobArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*JobArtifact, 0, len(s.artifacts[jobID]))
	for _, a := range s.artifacts[jobID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) AddAttachment(ctx context.Context, a *JobAttachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[a.JobID]; !ok {
		return ErrJobNotFound
	}
	if a.ID == "" {
		a.ID = "att-" + uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	cp := *a
	s.attachments[a.JobID] = append(s.attachments[a.JobID], &cp)
	return nil
}

func (s *MemStore) ListAttachments(ctx context.Context, jobID string) ([]*JobAttachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*JobAttachment, 0, len(s.attachments[jobID]))
	for _, a := range s.attachments[jobID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) RecoverStale(ctx context.Context, staleThreshold, livenessThreshold time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	count := 0
	for _, j := range s.jobs {
		if j.Status != StatusRunning || j.StartedAt == nil {
			continue
		}
		if now.Sub(*j.StartedAt) < staleThreshold {
			continue
		}
		// 未注册的 worker 视为已死
		if w, ok := s.workers[j.WorkerID]; ok && now.Sub(w.LastHeartbeat) < livenessThreshold {
			continue
		}
		if j.RetryCount < j.MaxRetries {
			j.Status = StatusQueued
			j.WorkerID = ""
			j.StartedAt = nil
			j.RetryCount++
		} else {
			j.Status = StatusFailed
			j.Error = "worker lost"
			j.CompletedAt = &now
		}
		j.UpdatedAt = now
		count++
	}
	return count, nil
}

func (s *MemStore) UpsertWorker(ctx context.Context, w *WorkerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workers[w.WorkerID] = &cp
	return nil
}

func (s *MemStore) ListWorkers(ctx context.Context) ([]*WorkerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*WorkerRecord, 0, len(s.workers))
	for _, w := range s.workers {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].WorkerID < out[k].WorkerID })
	return out, nil
}
