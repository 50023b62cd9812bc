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
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agent-engine/internal/model/llm"
)

// PgStore Postgres 实现：jobs / job_logs / job_artifacts / job_attachments / workers 表，
// API 与 Worker 共享。
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore 创建基于 PostgreSQL 的 Store
func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PgStore{pool: pool}, nil
}

// NewPgStoreWithPool 复用已有连接池
func NewPgStoreWithPool(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Pool 暴露连接池供同库组件复用
func (s *PgStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close 关闭连接池
func (s *PgStore) Close() {
	s.pool.Close()
}

func toolsToPg(names []string) interface{} {
	if len(names) == 0 {
		return nil
	}
	return strings.Join(names, ",")
}

func pgToTools(s *string) []string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	parts := strings.Split(*s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func stateToPg(state *ExecutionState) (interface{}, error) {
	if state == nil {
		return nil, nil
	}
	return json.Marshal(state)
}

const jobColumns = `id, task, credential_id, priority, timeout_seconds, model, hitl_mode, max_retries,
	status, worker_id, tools_discovered, execution_state, result, error, agent_question, user_answer,
	retry_count, created_at, started_at, completed_at, paused_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var status string
	var workerID, tools, result, errText, question, answer *string
	var state []byte
	err := row.Scan(&j.ID, &j.Task, &j.CredentialID, &j.Priority, &j.TimeoutSeconds, &j.Model,
		&j.HITLMode, &j.MaxRetries, &status, &workerID, &tools, &state, &result, &errText,
		&question, &answer, &j.RetryCount, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
		&j.PausedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = Status(status)
	if workerID != nil {
		j.WorkerID = *workerID
	}
	j.ToolsDiscovered = pgToTools(tools)
	if len(state) > 0 {
		var es ExecutionState
		if err := json.Unmarshal(state, &es); err != nil {
			return nil, err
		}
		j.ExecutionState = &es
	}
	if result != nil {
		j.Result = *result
	}
	if errText != nil {
		j.Error = *errText
	}
	if question != nil {
		j.AgentQuestion = *question
	}
	if answer != nil {
		j.UserAnswer = *answer
	}
	return &j, nil
}

func (s *PgStore) Enqueue(ctx context.Context, job *Job) (*Job, error) {
	if job.ID == "" {
		job.ID = "job-" + uuid.New().String()
	}
	now := time.Now().UTC()
	job.Status = StatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now
	state, err := stateToPg(job.ExecutionState)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, task, credential_id, priority, timeout_seconds, model, hitl_mode, max_retries,
			status, tools_discovered, execution_state, user_answer, retry_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, job.Task, job.CredentialID, job.Priority, job.TimeoutSeconds, job.Model, job.HITLMode,
		job.MaxRetries, string(StatusQueued), toolsToPg(job.ToolsDiscovered), state,
		job.UserAnswer, job.RetryCount, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PgStore) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	query := `UPDATE jobs SET status = $1, worker_id = $2, started_at = now(), updated_at = now()
		 WHERE id = (SELECT id FROM jobs WHERE status = $3
		             ORDER BY priority DESC, created_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED)
		 RETURNING ` + jobColumns
	j, err := scanJob(s.pool.QueryRow(ctx, query, string(StatusRunning), workerID, string(StatusQueued)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

// casTransition 针对 (id, fromStatus) 的条件更新；0 行时区分幂等终态 / 缺失 / 非法转移
func (s *PgStore) casTransition(ctx context.Context, id string, from, to Status, set string, args ...interface{}) error {
	query := `UPDATE jobs SET status = $1, updated_at = now()` + set + ` WHERE id = $2 AND status = $3`
	full := append([]interface{}{string(to), id, string(from)}, args...)
	tag, err := s.pool.Exec(ctx, query, full...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrJobNotFound
	}
	if current.Status == to && to.IsTerminal() {
		return nil // 幂等
	}
	return &TransitionError{JobID: id, From: current.Status, To: to}
}

func (s *PgStore) Complete(ctx context.Context, id string, result string) error {
	return s.casTransition(ctx, id, StatusRunning, StatusCompleted,
		`, result = $4, completed_at = now()`, result)
}

func (s *PgStore) Fail(ctx context.Context, id string, errText string) error {
	return s.casTransition(ctx, id, StatusRunning, StatusFailed,
		`, error = $4, completed_at = now()`, errText)
}

func (s *PgStore) Release(ctx context.Context, id string) error {
	return s.casTransition(ctx, id, StatusRunning, StatusQueued,
		`, worker_id = NULL, started_at = NULL`)
}

func (s *PgStore) Park(ctx context.Context, id string, question string, state *ExecutionState) error {
	blob, err := stateToPg(state)
	if err != nil {
		return err
	}
	return s.casTransition(ctx, id, StatusRunning, StatusWaitingForUser,
		`, agent_question = $4, execution_state = $5, paused_at = now(), worker_id = NULL`, question, blob)
}

func (s *PgStore) Respond(ctx context.Context, id string, userAnswer string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status string
	var stateBlob []byte
	err = tx.QueryRow(ctx,
		`SELECT status, execution_state FROM jobs WHERE id = $1 FOR UPDATE`, id).
		Scan(&status, &stateBlob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrJobNotFound
		}
		return err
	}
	if Status(status) != StatusWaitingForUser {
		return &TransitionError{JobID: id, From: Status(status), To: StatusQueued}
	}

	var state ExecutionState
	if len(stateBlob) > 0 {
		if err := json.Unmarshal(stateBlob, &state); err != nil {
			return err
		}
	}
	state.ConversationHistory = append(state.ConversationHistory,
		llm.Message{Role: llm.RoleUser, Content: userAnswer})
	state.ResumedCount++
	newBlob, err := json.Marshal(&state)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE jobs SET status = $2, execution_state = $3, user_answer = $4,
			agent_question = NULL, paused_at = NULL, updated_at = now()
		 WHERE id = $1`,
		id, string(StatusQueued), newBlob, userAnswer)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PgStore) Cancel(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, completed_at = now(), updated_at = now()
		 WHERE id = $1 AND status IN ($3, $4)`,
		id, string(StatusCancelled), string(StatusQueued), string(StatusWaitingForUser))
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrJobNotFound
	}
	return &TransitionError{JobID: id, From: current.Status, To: StatusCancelled}
}

func (s *PgStore) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

func (s *PgStore) List(ctx context.Context, f ListFilter) ([]*Job, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	if f.CredentialID != "" {
		args = append(args, f.CredentialID)
		where += ` AND credential_id = $` + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where += ` AND status = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + jobColumns + ` FROM jobs` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, j)
	}
	return list, total, rows.Err()
}

func (s *PgStore) SetDiscoveredTools(ctx context.Context, id string, names []string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET tools_discovered = $2, updated_at = now() WHERE id = $1`,
		id, toolsToPg(names))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PgStore) AppendLog(ctx context.Context, jobID, level, message string, metadata map[string]interface{}) error {
	var meta interface{}
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		meta = b
	}
	cutoff := time.Now().UTC().Add(-AppendGrace)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO job_logs (job_id, seq, level, message, ts, metadata)
		 SELECT $1, COALESCE((SELECT MAX(seq) FROM job_logs WHERE job_id = $1), 0) + 1, $2, $3, now(), $4
		 FROM jobs WHERE id = $1 AND (completed_at IS NULL OR completed_at > $5)`,
		jobID, level, message, meta, cutoff)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.appendRefused(ctx, jobID)
	}
	return nil
}

// appendRefused 区分 Job 缺失与终态超宽限
func (s *PgStore) appendRefused(ctx context.Context, jobID string) error {
	current, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrJobNotFound
	}
	return ErrJobClosed
}

func (s *PgStore) ListLogs(ctx context.Context, jobID string, afterSeq int64) ([]*JobLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, seq, level, message, ts, metadata FROM job_logs
		 WHERE job_id = $1 AND seq > $2 ORDER BY seq ASC`, jobID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []*JobLog
	for rows.Next() {
		var l JobLog
		var meta []byte
		if err := rows.Scan(&l.JobID, &l.Seq, &l.Level, &l.Message, &l.Timestamp, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &l.Metadata); err != nil {
				return nil, err
			}
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func (s *PgStore) AddArtifact(ctx context.Context, a *JobArtifact) error {
	if a.ID == "" {
		a.ID = "art-" + uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cutoff := time.Now().UTC().Add(-AppendGrace)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO job_artifacts (id, job_id, filename, mime_type, storage_path, public_url, size_bytes, created_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8
		 FROM jobs WHERE id = $2 AND (completed_at IS NULL OR completed_at > $9)`,
		a.ID, a.JobID, a.Filename, a.MimeType, a.StoragePath, a.PublicURL, a.SizeBytes, a.CreatedAt, cutoff)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.appendRefused(ctx, a.JobID)
	}
	return nil
}

func (s *PgStore) ListArtifacts(ctx context.Context, jobID string) ([]*JobArtifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, filename, mime_type, storage_path, public_url, size_bytes, created_at
		 FROM job_artifacts WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*JobArtifact
	for rows.Next() {
		var a JobArtifact
		if err := rows.Scan(&a.ID, &a.JobID, &a.Filename, &a.MimeType, &a.StoragePath, &a.PublicURL, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

func (s *PgStore) AddAttachment(ctx context.Context, a *JobAttachment) error {
	if a.ID == "" {
		a.ID = "att-" + uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_attachments (id, job_id, filename, mime_type, storage_path, public_url, size_bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.JobID, a.Filename, a.MimeType, a.StoragePath, a.PublicURL, a.SizeBytes, a.CreatedAt)
	return err
}

func (s *PgStore) ListAttachments(ctx context.Context, jobID string) ([]*JobAttachment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, filename, mime_type, storage_path, public_url, size_bytes, created_at
		 FROM job_attachments WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*JobAttachment
	for rows.Next() {
		var a JobAttachment
		if err := rows.Scan(&a.ID, &a.JobID, &a.Filename, &a.MimeType, &a.StoragePath, &a.PublicURL, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

func (s *PgStore) RecoverStale(ctx context.Context, staleThreshold, livenessThreshold time.Duration) (int, error) {
	now := time.Now().UTC()
	staleCutoff := now.Add(-staleThreshold)
	liveCutoff := now.Add(-livenessThreshold)

	deadWorker := `(worker_id IS NULL
		OR NOT EXISTS (SELECT 1 FROM workers w WHERE w.worker_id = jobs.worker_id)
		OR EXISTS (SELECT 1 FROM workers w WHERE w.worker_id = jobs.worker_id AND w.last_heartbeat < $2))`

	requeued, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $3, worker_id = NULL, started_at = NULL,
			retry_count = retry_count + 1, updated_at = now()
		 WHERE status = $4 AND started_at < $1 AND retry_count < max_retries AND `+deadWorker,
		staleCutoff, liveCutoff, string(StatusQueued), string(StatusRunning))
	if err != nil {
		return 0, err
	}

	failed, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $3, error = 'worker lost', completed_at = now(), updated_at = now()
		 WHERE status = $4 AND started_at < $1 AND retry_count >= max_retries AND `+deadWorker,
		staleCutoff, liveCutoff, string(StatusFailed), string(StatusRunning))
	if err != nil {
		return int(requeued.RowsAffected()), err
	}

	return int(requeued.RowsAffected() + failed.RowsAffected()), nil
}

func (s *PgStore) UpsertWorker(ctx context.Context, w *WorkerRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workers (worker_id, hostname, version, status, active_jobs, last_heartbeat)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (worker_id) DO UPDATE SET
			hostname = EXCLUDED.hostname, version = EXCLUDED.version, status = EXCLUDED.status,
			active_jobs = EXCLUDED.active_jobs, last_heartbeat = EXCLUDED.last_heartbeat`,
		w.WorkerID, w.Hostname, w.Version, w.Status, w.ActiveJobs, w.LastHeartbeat)
	return err
}

func (s *PgStore) ListWorkers(ctx context.Context) ([]*WorkerRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT worker_id, hostname, version, status, active_jobs, last_heartbeat
		 FROM workers ORDER BY worker_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*WorkerRecord
	for rows.Next() {
		var w WorkerRecord
		if err := rows.Scan(&w.WorkerID, &w.Hostname, &w.Version, &w.Status, &w.ActiveJobs, &w.LastHeartbeat); err != nil {
			return nil, err
		}
		list = append(list, &w)
	}
	return list, rows.Err()
}
