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

package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agent-engine/internal/agentloop"
	"agent-engine/internal/queue"
	"agent-engine/pkg/log"
)

type fakeEngine struct {
	fn   func(ctx context.Context, j *queue.Job) (*agentloop.Outcome, error)
	runs int32
}

func (e *fakeEngine) Run(ctx context.Context, j *queue.Job) (*agentloop.Outcome, error) {
	atomic.AddInt32(&e.runs, 1)
	return e.fn(ctx, j)
}

func testOptions() Options {
	return Options{
		WorkerID:          "w-test",
		Concurrency:       2,
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		ShutdownTimeout:   time.Second,
		StaleThreshold:    time.Minute,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func jobStatus(t *testing.T, store queue.Store, id string) queue.Status {
	t.Helper()
	j, err := store.Get(context.Background(), id)
	if err != nil || j == nil {
		t.Fatalf("Get(%s): %+v, %v", id, j, err)
	}
	return j.Status
}

func TestRunner_CompletesJob(t *testing.T) {
	store := queue.NewMemStore()
	engine := &fakeEngine{fn: func(ctx context.Context, j *queue.Job) (*agentloop.Outcome, error) {
		return &agentloop.Outcome{Kind: agentloop.OutcomeFinal, Text: "done: " + j.Task}, nil
	}}
	r := NewRunner(testOptions(), store, engine, log.NewNop())

	job, _ := store.Enqueue(context.Background(), &queue.Job{Task: "t1", TimeoutSeconds: 300, MaxRetries: 3})
	r.Start(context.Background())
	defer r.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return jobStatus(t, store, job.ID) == queue.StatusCompleted
	})
	got, _ := store.Get(context.Background(), job.ID)
	if got.Result != "done: t1" {
		t.Errorf("Result = %q", got.Result)
	}
	if got.WorkerID != "w-test" {
		t.Errorf("WorkerID = %q", got.WorkerID)
	}
}

func TestRunner_ParksJobOnAskUser(t *testing.T) {
	store := queue.NewMemStore()
	engine := &fakeEngine{fn: func(ctx context.Context, j *queue.Job) (*agentloop.Outcome, error) {
		return &agentloop.Outcome{
			Kind:     agentloop.OutcomeAskUser,
			Question: "which format?",
			State:    &queue.ExecutionState{Checkpoint: "awaiting_user"},
		}, nil
	}}
	r := NewRunner(testOptions(), store, engine, log.NewNop())

	job, _ := store.Enqueue(context.Background(), &queue.Job{Task: "t1", TimeoutSeconds: 300, MaxRetries: 3})
	r.Start(context.Background())
	defer r.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return jobStatus(t, store, job.ID) == queue.StatusWaitingForUser
	})
	got, _ := store.Get(context.Background(), job.ID)
	if got.AgentQuestion != "which format?" {
		t.Errorf("AgentQuestion = %q", got.AgentQuestion)
	}
	if got.PausedAt == nil {
		t.Errorf("PausedAt not set")
	}
}

func TestRunner_FailsJobOnError(t *testing.T) {
	store := queue.NewMemStore()
	engine := &fakeEngine{fn: func(ctx context.Context, j *queue.Job) (*agentloop.Outcome, error) {
		return nil, errors.New("chat provider: boom")
	}}
	r := NewRunner(testOptions(), store, engine, log.NewNop())

	job, _ := store.Enqueue(context.Background(), &queue.Job{Task: "t1", TimeoutSeconds: 300, MaxRetries: 3})
	r.Start(context.Background())
	defer r.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return jobStatus(t, store, job.ID) == queue.StatusFailed
	})
	got, _ := store.Get(context.Background(), job.ID)
	if got.Error != "chat provider: boom" {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestRunner_TimeoutFailsJob(t *testing.T) {
	store := queue.NewMemStore()
	engine := &fakeEngine{fn: func(ctx context.Context, j *queue.Job) (*agentloop.Outcome, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r := NewRunner(testOptions(), store, engine, log.NewNop())

	job, _ := store.Enqueue(context.Background(), &queue.Job{Task: "t1", TimeoutSeconds: 1, MaxRetries: 3})
	r.Start(context.Background())
	defer r.Stop()

	waitFor(t, 3*time.Second, func() bool {
		return jobStatus(t, store, job.ID) == queue.StatusFailed
	})
	got, _ := store.Get(context.Background(), job.ID)
	if got.Error != "timeout after 1s" {
		t.Errorf("Error = %q, want timeout after 1s", got.Error)
	}
}

func TestRunner_ShutdownReleasesRunningJob(t *testing.T) {
	store := queue.NewMemStore()
	started := make(chan struct{}, 1)
	engine := &fakeEngine{fn: func(ctx context.Context, j *queue.Job) (*agentloop.Outcome, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	opts := testOptions()
	opts.ShutdownTimeout = 50 * time.Millisecond
	r := NewRunner(opts, store, engine, log.NewNop())

	job, _ := store.Enqueue(context.Background(), &queue.Job{Task: "t1", TimeoutSeconds: 300, MaxRetries: 3})
	r.Start(context.Background())

	<-started
	r.Stop()

	got, _ := store.Get(context.Background(), job.ID)
	if got.Status != queue.StatusQueued {
		t.Fatalf("Status after shutdown = %s, want queued", got.Status)
	}
	if got.WorkerID != "" || got.StartedAt != nil {
		t.Errorf("lease not cleared: worker=%q started=%v", got.WorkerID, got.StartedAt)
	}
	if got.RetryCount != 0 {
		t.Errorf("RetryCount = %d, release must not consume a retry", got.RetryCount)
	}
}

func TestRunner_ConcurrencyLimit(t *testing.T) {
	store := queue.NewMemStore()
	var inFlight, peak int32
	engine := &fakeEngine{fn: func(ctx context.Context, j *queue.Job) (*agentloop.Outcome, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &agentloop.Outcome{Kind: agentloop.OutcomeFinal, Text: "ok"}, nil
	}}
	r := NewRunner(testOptions(), store, engine, log.NewNop())

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		j, _ := store.Enqueue(context.Background(), &queue.Job{Task: "t", TimeoutSeconds: 300, MaxRetries: 3})
		ids = append(ids, j.ID)
	}
	r.Start(context.Background())
	defer r.Stop()

	waitFor(t, 5*time.Second, func() bool {
		for _, id := range ids {
			if jobStatus(t, store, id) != queue.StatusCompleted {
				return false
			}
		}
		return true
	})
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestRunner_HeartbeatRegistersWorker(t *testing.T) {
	store := queue.NewMemStore()
	engine := &fakeEngine{fn: func(ctx context.Context, j *queue.Job) (*agentloop.Outcome, error) {
		return &agentloop.Outcome{Kind: agentloop.OutcomeFinal, Text: "ok"}, nil
	}}
	opts := testOptions()
	opts.Version = "1.2.3"
	r := NewRunner(opts, store, engine, log.NewNop())

	r.Start(context.Background())

	waitFor(t, time.Second, func() bool {
		workers, _ := store.ListWorkers(context.Background())
		return len(workers) == 1 && workers[0].Status == queue.WorkerActive
	})
	workers, _ := store.ListWorkers(context.Background())
	if workers[0].WorkerID != "w-test" || workers[0].Version != "1.2.3" {
		t.Errorf("worker record = %+v", workers[0])
	}

	r.Stop()
	workers, _ = store.ListWorkers(context.Background())
	if workers[0].Status != queue.WorkerDead {
		t.Errorf("Status after Stop = %s, want dead", workers[0].Status)
	}
}

// recordingStore 记录每次 UpsertWorker，便于断言心跳时机
type recordingStore struct {
	queue.Store
	mu      sync.Mutex
	upserts []queue.WorkerRecord
}

func (s *recordingStore) UpsertWorker(ctx context.Context, w *queue.WorkerRecord) error {
	s.mu.Lock()
	s.upserts = append(s.upserts, *w)
	s.mu.Unlock()
	return s.Store.UpsertWorker(ctx, w)
}

func (s *recordingStore) snapshot() []queue.WorkerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]queue.WorkerRecord(nil), s.upserts...)
}

func TestRunner_StopMarksWorkerDead(t *testing.T) {
	store := &recordingStore{Store: queue.NewMemStore()}
	engine := &fakeEngine{fn: func(ctx context.Context, j *queue.Job) (*agentloop.Outcome, error) {
		return &agentloop.Outcome{Kind: agentloop.OutcomeFinal, Text: "ok"}, nil
	}}
	r := NewRunner(testOptions(), store, engine, log.NewNop())

	r.Start(context.Background())
	r.Stop()

	upserts := store.snapshot()
	if len(upserts) < 2 {
		t.Fatalf("upserts = %d, want at least startup + dead", len(upserts))
	}
	last := upserts[len(upserts)-1]
	if last.Status != queue.WorkerDead {
		t.Errorf("final upsert status = %s, want dead", last.Status)
	}
	var sawDraining bool
	for _, u := range upserts[:len(upserts)-1] {
		if u.Status == queue.WorkerDraining {
			sawDraining = true
		}
	}
	if !sawDraining {
		t.Errorf("no draining heartbeat before the dead record: %+v", upserts)
	}
}

func TestRunner_HeartbeatAfterJobFinish(t *testing.T) {
	store := &recordingStore{Store: queue.NewMemStore()}
	engine := &fakeEngine{fn: func(ctx context.Context, j *queue.Job) (*agentloop.Outcome, error) {
		return &agentloop.Outcome{Kind: agentloop.OutcomeFinal, Text: "ok"}, nil
	}}
	// 周期心跳设到不可能触发，只剩启动与 Job 结束两个来源
	opts := testOptions()
	opts.HeartbeatInterval = time.Hour
	r := NewRunner(opts, store, engine, log.NewNop())

	job, _ := store.Enqueue(context.Background(), &queue.Job{Task: "t1", TimeoutSeconds: 300, MaxRetries: 3})
	r.Start(context.Background())
	defer r.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return jobStatus(t, store, job.ID) == queue.StatusCompleted
	})
	waitFor(t, time.Second, func() bool {
		return len(store.snapshot()) >= 2
	})
	upserts := store.snapshot()
	last := upserts[len(upserts)-1]
	if last.ActiveJobs != 0 {
		t.Errorf("post-job heartbeat active_jobs = %d, want 0", last.ActiveJobs)
	}
	if last.Status != queue.WorkerActive {
		t.Errorf("post-job heartbeat status = %s, want active", last.Status)
	}
}

func TestRunner_SweepRecoversOrphanedJob(t *testing.T) {
	store := queue.NewMemStore()
	engine := &fakeEngine{fn: func(ctx context.Context, j *queue.Job) (*agentloop.Outcome, error) {
		return &agentloop.Outcome{Kind: agentloop.OutcomeFinal, Text: "recovered run"}, nil
	}}
	opts := testOptions()
	opts.StaleThreshold = 20 * time.Millisecond
	r := NewRunner(opts, store, engine, log.NewNop())

	// 由未注册的 ghost worker 认领后无人续命，等同 worker 失联
	job, _ := store.Enqueue(context.Background(), &queue.Job{Task: "t1", TimeoutSeconds: 300, MaxRetries: 3})
	if claimed, err := store.ClaimNext(context.Background(), "w-ghost"); err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %+v, %v", claimed, err)
	}
	time.Sleep(30 * time.Millisecond)

	r.Start(context.Background())
	defer r.Stop()

	waitFor(t, 3*time.Second, func() bool {
		return jobStatus(t, store, job.ID) == queue.StatusCompleted
	})
	got, _ := store.Get(context.Background(), job.ID)
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1 (one recovery)", got.RetryCount)
	}
	if got.Result != "recovered run" {
		t.Errorf("Result = %q", got.Result)
	}
}
