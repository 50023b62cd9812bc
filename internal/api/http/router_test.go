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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"strings"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"

	"agent-engine/internal/api/http/middleware"
	"agent-engine/internal/auth"
	"agent-engine/internal/discovery"
	"agent-engine/internal/queue"
	"agent-engine/internal/ratelimit"
	"agent-engine/internal/storage/object"
	"agent-engine/pkg/log"
)

type fakeDiscoveryClient struct {
	matches []discovery.Match
	embeds  int
}

func (f *fakeDiscoveryClient) Discover(ctx context.Context, task string, threshold float64, limit int) ([]discovery.Match, error) {
	return f.matches, nil
}

func (f *fakeDiscoveryClient) Embed(ctx context.Context, description string) ([]float64, error) {
	f.embeds++
	return []float64{0.1, 0.2}, nil
}

type apiFixture struct {
	server  *server.Hertz
	jobs    queue.Store
	objects *object.MemoryStore
	keys    *auth.Service
	client  *fakeDiscoveryClient
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := log.NewNop()
	jobs := queue.NewMemStore()
	objects := object.NewMemoryStore()
	keys := auth.NewService(auth.NewMemoryStore(), "test", logger)
	client := &fakeDiscoveryClient{}
	agents := discovery.NewService(discovery.NewMemAgentStore(), client, logger)

	handler := NewHandler(jobs, objects, agents, keys, "gpt-4o-mini", logger)
	mw := middleware.NewMiddleware(keys, ratelimit.NewMemoryLimiter(), logger)
	return &apiFixture{
		server:  NewRouter(handler, mw).Build(":0"),
		jobs:    jobs,
		objects: objects,
		keys:    keys,
		client:  client,
	}
}

func (f *apiFixture) issueKey(t *testing.T, scopes []auth.Scope, rpm int) (*auth.APIKey, string) {
	t.Helper()
	res, err := f.keys.Issue(context.Background(), "test-key", "", scopes, rpm, nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return res.Key, res.RawKey
}

func (f *apiFixture) do(method, url, rawKey, body string) *ut.ResponseRecorder {
	b := []byte(body)
	headers := []ut.Header{{Key: "Content-Type", Value: "application/json"}}
	if rawKey != "" {
		headers = append(headers, ut.Header{Key: "Authorization", Value: "Bearer " + rawKey})
	}
	return ut.PerformRequest(f.server.Engine, method, url, &ut.Body{Body: bytes.NewReader(b), Len: len(b)}, headers...)
}

func decodeBody(t *testing.T, w *ut.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Result().Body(), &out); err != nil {
		t.Fatalf("unmarshal response %q: %v", w.Result().Body(), err)
	}
	return out
}

func TestHealth_NoAuth(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do("GET", "/api/v1/health", "", "")
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("GET /health status = %d, want 200", got)
	}
}

func TestMetricsEndpoint_NoAuth(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do("GET", "/metrics", "", "")
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("GET /metrics status = %d, want 200", got)
	}
	if !bytes.Contains(w.Result().Body(), []byte("engine_")) {
		t.Errorf("metrics body missing engine_ series: %.200s", w.Result().Body())
	}
}

func TestAuth_MissingHeader(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do("GET", "/api/v1/jobs", "", "")
	if got := w.Result().StatusCode(); got != 401 {
		t.Fatalf("status = %d, want 401", got)
	}
	if got := decodeBody(t, w)["code"]; got != "UNAUTHORIZED" {
		t.Errorf("code = %v, want UNAUTHORIZED", got)
	}
}

func TestAuth_UnknownKey(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do("GET", "/api/v1/jobs", "engine_test_nosuchkey", "")
	if got := w.Result().StatusCode(); got != 401 {
		t.Fatalf("status = %d, want 401", got)
	}
}

func TestAuth_RevokedKeyRejected(t *testing.T) {
	f := newAPIFixture(t)
	key, raw := f.issueKey(t, nil, 0)
	if err := f.keys.Revoke(context.Background(), key.ID, "leaked"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	w := f.do("GET", "/api/v1/jobs", raw, "")
	if got := w.Result().StatusCode(); got != 401 {
		t.Fatalf("status = %d, want 401", got)
	}
}

func TestScope_Forbidden(t *testing.T) {
	f := newAPIFixture(t)
	_, raw := f.issueKey(t, []auth.Scope{auth.ScopeJobsRead}, 0)
	w := f.do("POST", "/api/v1/jobs", raw, `{"task":"summarize the report"}`)
	if got := w.Result().StatusCode(); got != 403 {
		t.Fatalf("status = %d, want 403", got)
	}
	if got := decodeBody(t, w)["code"]; got != "FORBIDDEN" {
		t.Errorf("code = %v, want FORBIDDEN", got)
	}
}

func TestRateLimit_Exceeded(t *testing.T) {
	f := newAPIFixture(t)
	_, raw := f.issueKey(t, []auth.Scope{auth.ScopeJobsRead}, 2)

	for i := 0; i < 2; i++ {
		w := f.do("GET", "/api/v1/jobs", raw, "")
		if got := w.Result().StatusCode(); got != 200 {
			t.Fatalf("request %d status = %d, want 200", i, got)
		}
	}
	w := f.do("GET", "/api/v1/jobs", raw, "")
	if got := w.Result().StatusCode(); got != 429 {
		t.Fatalf("status = %d, want 429", got)
	}
	if got := decodeBody(t, w)["code"]; got != "RATE_LIMITED" {
		t.Errorf("code = %v, want RATE_LIMITED", got)
	}
	if got := w.Result().Header.Get("Retry-After"); got == "" {
		t.Error("Retry-After header missing on 429")
	}
	if got := w.Result().Header.Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if got := w.Result().Header.Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("X-RateLimit-Limit = %q, want 2", got)
	}
}

func TestCreateJob_Defaults(t *testing.T) {
	f := newAPIFixture(t)
	_, raw := f.issueKey(t, nil, 0)

	w := f.do("POST", "/api/v1/jobs", raw, `{"task":"summarize Q3 sales data"}`)
	if got := w.Result().StatusCode(); got != 201 {
		t.Fatalf("status = %d, want 201: %s", got, w.Result().Body())
	}
	body := decodeBody(t, w)
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatal("response missing job id")
	}
	if got := body["status"]; got != "queued" {
		t.Errorf("status = %v, want queued", got)
	}

	job, err := f.jobs.Get(context.Background(), id)
	if err != nil || job == nil {
		t.Fatalf("Get(%s) = %v, %v", id, job, err)
	}
	if job.TimeoutSeconds != 300 {
		t.Errorf("TimeoutSeconds = %d, want 300", job.TimeoutSeconds)
	}
	if job.HITLMode != queue.HITLPlanApproval {
		t.Errorf("HITLMode = %q, want %q", job.HITLMode, queue.HITLPlanApproval)
	}
	if job.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q, want default gpt-4o-mini", job.Model)
	}
	if job.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", job.MaxRetries)
	}
}

func TestCreateJob_Validation(t *testing.T) {
	f := newAPIFixture(t)
	_, raw := f.issueKey(t, nil, 0)

	tests := []struct {
		name string
		body string
	}{
		{"empty task", `{"task":""}`},
		{"task too long", fmt.Sprintf(`{"task":%q}`, strings.Repeat("x", 10001))},
		{"priority too high", `{"task":"do it","priority":101}`},
		{"negative priority", `{"task":"do it","priority":-1}`},
		{"timeout too small", `{"task":"do it","timeout_seconds":10}`},
		{"timeout too large", `{"task":"do it","timeout_seconds":4000}`},
		{"unknown hitl mode", `{"task":"do it","hitl_mode":"yolo"}`},
		{"attachment without path", `{"task":"do it","attachments":[{"filename":"a.csv"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do("POST", "/api/v1/jobs", raw, tt.body)
			if got := w.Result().StatusCode(); got != 400 {
				t.Fatalf("status = %d, want 400: %s", got, w.Result().Body())
			}
			if got := decodeBody(t, w)["code"]; got != "VALIDATION_ERROR" {
				t.Errorf("code = %v, want VALIDATION_ERROR", got)
			}
		})
	}
}

func TestJobOwnership_HiddenFromOtherKeys(t *testing.T) {
	f := newAPIFixture(t)
	_, rawA := f.issueKey(t, nil, 0)
	_, rawB := f.issueKey(t, nil, 0)
	_, rawAdmin := f.issueKey(t, []auth.Scope{auth.ScopeAdmin}, 0)

	w := f.do("POST", "/api/v1/jobs", rawA, `{"task":"analyze churn for May"}`)
	id := decodeBody(t, w)["id"].(string)

	if got := f.do("GET", "/api/v1/jobs/"+id, rawB, "").Result().StatusCode(); got != 404 {
		t.Errorf("other key GET status = %d, want 404", got)
	}
	if got := f.do("GET", "/api/v1/jobs/"+id, rawA, "").Result().StatusCode(); got != 200 {
		t.Errorf("owner GET status = %d, want 200", got)
	}
	if got := f.do("GET", "/api/v1/jobs/"+id, rawAdmin, "").Result().StatusCode(); got != 200 {
		t.Errorf("admin GET status = %d, want 200", got)
	}
}

func TestListJobs_ScopedToCaller(t *testing.T) {
	f := newAPIFixture(t)
	_, rawA := f.issueKey(t, nil, 0)
	_, rawB := f.issueKey(t, nil, 0)

	f.do("POST", "/api/v1/jobs", rawA, `{"task":"first job for key A"}`)
	f.do("POST", "/api/v1/jobs", rawA, `{"task":"second job for key A"}`)
	f.do("POST", "/api/v1/jobs", rawB, `{"task":"only job for key B"}`)

	body := decodeBody(t, f.do("GET", "/api/v1/jobs", rawB, ""))
	if got := body["count"].(float64); got != 1 {
		t.Errorf("key B count = %v, want 1", got)
	}
	body = decodeBody(t, f.do("GET", "/api/v1/jobs", rawA, ""))
	if got := body["count"].(float64); got != 2 {
		t.Errorf("key A count = %v, want 2", got)
	}
}

func TestCancelJob_Flow(t *testing.T) {
	f := newAPIFixture(t)
	_, raw := f.issueKey(t, []auth.Scope{auth.ScopeJobsWrite, auth.ScopeJobsRead, auth.ScopeJobsDelete}, 0)

	w := f.do("POST", "/api/v1/jobs", raw, `{"task":"cancel me before running"}`)
	id := decodeBody(t, w)["id"].(string)

	w = f.do("DELETE", "/api/v1/jobs/"+id, raw, "")
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("DELETE status = %d, want 200: %s", got, w.Result().Body())
	}
	if got := decodeBody(t, w)["status"]; got != "cancelled" {
		t.Errorf("status = %v, want cancelled", got)
	}

	// 第二次取消是非法转移
	w = f.do("DELETE", "/api/v1/jobs/"+id, raw, "")
	if got := w.Result().StatusCode(); got != 409 {
		t.Fatalf("second DELETE status = %d, want 409", got)
	}
	if got := decodeBody(t, w)["code"]; got != "INVALID_STATE" {
		t.Errorf("code = %v, want INVALID_STATE", got)
	}
}

func TestRespondJob_ResumesParkedJob(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	_, raw := f.issueKey(t, nil, 0)

	w := f.do("POST", "/api/v1/jobs", raw, `{"task":"plan then wait for approval"}`)
	id := decodeBody(t, w)["id"].(string)

	if _, err := f.jobs.ClaimNext(ctx, "w-test"); err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if err := f.jobs.Park(ctx, id, "approve this plan?", &queue.ExecutionState{Checkpoint: "after_plan"}); err != nil {
		t.Fatalf("Park() error = %v", err)
	}

	w = f.do("POST", "/api/v1/jobs/"+id+"/respond", raw, `{"action":"approve"}`)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("respond status = %d, want 200: %s", got, w.Result().Body())
	}
	if got := decodeBody(t, w)["status"]; got != "queued" {
		t.Errorf("status = %v, want queued", got)
	}

	// 已经回到 queued，再答一次是非法转移
	w = f.do("POST", "/api/v1/jobs/"+id+"/respond", raw, `{"answer":"again"}`)
	if got := w.Result().StatusCode(); got != 409 {
		t.Fatalf("second respond status = %d, want 409", got)
	}
}

func TestRespondJob_Validation(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	_, raw := f.issueKey(t, nil, 0)

	w := f.do("POST", "/api/v1/jobs", raw, `{"task":"needs user input soon"}`)
	id := decodeBody(t, w)["id"].(string)
	if _, err := f.jobs.ClaimNext(ctx, "w-test"); err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if err := f.jobs.Park(ctx, id, "which region?", &queue.ExecutionState{}); err != nil {
		t.Fatalf("Park() error = %v", err)
	}

	w = f.do("POST", "/api/v1/jobs/"+id+"/respond", raw, `{"action":"teleport"}`)
	if got := w.Result().StatusCode(); got != 400 {
		t.Errorf("unknown action status = %d, want 400", got)
	}
	w = f.do("POST", "/api/v1/jobs/"+id+"/respond", raw, `{"action":"respond"}`)
	if got := w.Result().StatusCode(); got != 400 {
		t.Errorf("empty answer status = %d, want 400", got)
	}
}

func TestJobLogs_Pagination(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	_, raw := f.issueKey(t, nil, 0)

	w := f.do("POST", "/api/v1/jobs", raw, `{"task":"emit some log lines"}`)
	id := decodeBody(t, w)["id"].(string)
	for i := 0; i < 5; i++ {
		if err := f.jobs.AppendLog(ctx, id, "info", fmt.Sprintf("line %d", i), nil); err != nil {
			t.Fatalf("AppendLog() error = %v", err)
		}
	}

	body := decodeBody(t, f.do("GET", "/api/v1/jobs/"+id+"/logs?limit=2&offset=3", raw, ""))
	if got := body["count"].(float64); got != 5 {
		t.Errorf("count = %v, want 5", got)
	}
	logs := body["logs"].([]interface{})
	if len(logs) != 2 {
		t.Fatalf("page size = %d, want 2", len(logs))
	}
	first := logs[0].(map[string]interface{})
	if got := first["message"]; got != "line 3" {
		t.Errorf("first page message = %v, want line 3", got)
	}
}

func TestAgents_RegisterAndDuplicate(t *testing.T) {
	f := newAPIFixture(t)
	_, raw := f.issueKey(t, []auth.Scope{auth.ScopeAgentsRead, auth.ScopeAgentsWrite}, 0)

	agentBody := `{"name":"CSV Analyzer","package_name":"csv-analyzer","description":"Parses CSV files and produces summary statistics","version":"1.0.0"}`
	w := f.do("POST", "/api/v1/agents", raw, agentBody)
	if got := w.Result().StatusCode(); got != 201 {
		t.Fatalf("create status = %d, want 201: %s", got, w.Result().Body())
	}

	w = f.do("POST", "/api/v1/agents", raw, agentBody)
	if got := w.Result().StatusCode(); got != 409 {
		t.Fatalf("duplicate status = %d, want 409", got)
	}
	if got := decodeBody(t, w)["code"]; got != "DUPLICATE" {
		t.Errorf("code = %v, want DUPLICATE", got)
	}

	body := decodeBody(t, f.do("GET", "/api/v1/agents", raw, ""))
	if got := body["count"].(float64); got != 1 {
		t.Errorf("list count = %v, want 1", got)
	}
}

func TestAgents_Validation(t *testing.T) {
	f := newAPIFixture(t)
	_, raw := f.issueKey(t, []auth.Scope{auth.ScopeAgentsWrite}, 0)

	tests := []struct {
		name string
		body string
	}{
		{"bad package name", `{"name":"A","package_name":"Bad Name!","description":"long enough description here"}`},
		{"short description", `{"name":"A","package_name":"pkg-a","description":"short"}`},
		{"missing name", `{"package_name":"pkg-a","description":"long enough description here"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do("POST", "/api/v1/agents", raw, tt.body)
			if got := w.Result().StatusCode(); got != 400 {
				t.Fatalf("status = %d, want 400: %s", got, w.Result().Body())
			}
		})
	}
}

func TestDiscoverAgents_DefaultThreshold(t *testing.T) {
	f := newAPIFixture(t)
	f.client.matches = []discovery.Match{
		{ID: "agent-1", Name: "CSV Analyzer", PackageName: "csv-analyzer", Similarity: 0.91},
	}
	_, raw := f.issueKey(t, []auth.Scope{auth.ScopeAgentsRead}, 0)

	w := f.do("POST", "/api/v1/agents/discover", raw, `{"task":"analyze this csv file"}`)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("status = %d, want 200: %s", got, w.Result().Body())
	}
	body := decodeBody(t, w)
	if got := body["count"].(float64); got != 1 {
		t.Errorf("count = %v, want 1", got)
	}
	if got := body["threshold"].(float64); got != discovery.DefaultThreshold {
		t.Errorf("threshold = %v, want %v", got, discovery.DefaultThreshold)
	}
}

func TestAdmin_RequiresAdminScope(t *testing.T) {
	f := newAPIFixture(t)
	_, raw := f.issueKey(t, nil, 0)
	if got := f.do("GET", "/api/v1/admin/keys", raw, "").Result().StatusCode(); got != 403 {
		t.Fatalf("status = %d, want 403", got)
	}
}

func TestAdmin_KeyLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	_, rawAdmin := f.issueKey(t, []auth.Scope{auth.ScopeAdmin}, 0)

	w := f.do("POST", "/api/v1/admin/keys", rawAdmin, `{"name":"ci-pipeline","owner_email":"ci@example.com"}`)
	if got := w.Result().StatusCode(); got != 201 {
		t.Fatalf("create status = %d, want 201: %s", got, w.Result().Body())
	}
	body := decodeBody(t, w)
	newID := body["id"].(string)
	rawNew, _ := body["key"].(string)
	if !strings.HasPrefix(rawNew, "engine_test_") {
		t.Errorf("raw key = %q, want engine_test_ prefix", rawNew)
	}

	// 列表与单条里都不能出现原始 key
	w = f.do("GET", "/api/v1/admin/keys/"+newID, rawAdmin, "")
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("get status = %d, want 200", got)
	}
	if bytes.Contains(w.Result().Body(), []byte(rawNew)) {
		t.Error("raw key leaked in GET /admin/keys/:id response")
	}

	w = f.do("DELETE", "/api/v1/admin/keys/"+newID, rawAdmin, `{"reason":"owner offboarded"}`)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("revoke status = %d, want 200", got)
	}
	key, err := f.keys.Get(context.Background(), newID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if key.Active || key.RevokedReason != "owner offboarded" {
		t.Errorf("after revoke: active = %v, reason = %q", key.Active, key.RevokedReason)
	}

	w = f.do("GET", "/api/v1/admin/keys/nope", rawAdmin, "")
	if got := w.Result().StatusCode(); got != 404 {
		t.Errorf("unknown key status = %d, want 404", got)
	}
}

func TestAdmin_Workers(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	_, rawAdmin := f.issueKey(t, []auth.Scope{auth.ScopeAdmin}, 0)

	if err := f.jobs.UpsertWorker(ctx, &queue.WorkerRecord{
		WorkerID:      "w-1",
		Hostname:      "host-1",
		Status:        "active",
		LastHeartbeat: nowUTC(),
	}); err != nil {
		t.Fatalf("UpsertWorker() error = %v", err)
	}

	body := decodeBody(t, f.do("GET", "/api/v1/admin/workers", rawAdmin, ""))
	if got := body["count"].(float64); got != 1 {
		t.Fatalf("count = %v, want 1", got)
	}
	summary := body["summary"].(map[string]interface{})
	if got := summary["healthy"].(float64); got != 1 {
		t.Errorf("healthy = %v, want 1", got)
	}
}

func TestAdmin_MetricsSnapshot(t *testing.T) {
	f := newAPIFixture(t)
	_, raw := f.issueKey(t, nil, 0)
	_, rawAdmin := f.issueKey(t, []auth.Scope{auth.ScopeAdmin}, 0)

	f.do("POST", "/api/v1/jobs", raw, `{"task":"first snapshot job"}`)
	f.do("POST", "/api/v1/jobs", raw, `{"task":"second snapshot job"}`)

	body := decodeBody(t, f.do("GET", "/api/v1/admin/metrics", rawAdmin, ""))
	jobs := body["jobs"].(map[string]interface{})
	if got := jobs["total"].(float64); got != 2 {
		t.Errorf("jobs.total = %v, want 2", got)
	}
	if got := jobs["last_hour"].(float64); got != 2 {
		t.Errorf("jobs.last_hour = %v, want 2", got)
	}
	byStatus := jobs["by_status"].(map[string]interface{})
	if got := byStatus["queued"].(float64); got != 2 {
		t.Errorf("jobs.by_status.queued = %v, want 2", got)
	}
	apiKeys := body["api_keys"].(map[string]interface{})
	if got := apiKeys["total"].(float64); got != 2 {
		t.Errorf("api_keys.total = %v, want 2", got)
	}
}

func multipartBody(t *testing.T, fields map[string]string, fileField, filename string, content []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s) error = %v", k, err)
		}
	}
	fw, err := mw.CreateFormFile(fileField, filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return buf.Bytes(), mw.FormDataContentType()
}

func TestUpload_MissingFile(t *testing.T) {
	f := newAPIFixture(t)
	_, raw := f.issueKey(t, nil, 0)

	body, contentType := multipartBody(t, map[string]string{"note": "no file here"}, "other", "x.txt", []byte("x"))
	w := ut.PerformRequest(f.server.Engine, "POST", "/api/v1/jobs/upload",
		&ut.Body{Body: bytes.NewReader(body), Len: len(body)},
		ut.Header{Key: "Content-Type", Value: contentType},
		ut.Header{Key: "Authorization", Value: "Bearer " + raw},
	)
	// 字段名不对等同缺失
	if got := w.Result().StatusCode(); got != 400 {
		t.Fatalf("status = %d, want 400: %s", got, w.Result().Body())
	}
	if got := decodeBody(t, w)["code"]; got != "MISSING_FILE" {
		t.Errorf("code = %v, want MISSING_FILE", got)
	}
}

func TestUpload_StoresObjectAndRegistersAttachment(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	_, raw := f.issueKey(t, nil, 0)

	w := f.do("POST", "/api/v1/jobs", raw, `{"task":"process the uploaded csv"}`)
	jobID := decodeBody(t, w)["id"].(string)

	body, contentType := multipartBody(t, map[string]string{"jobId": jobID}, "file", "data.csv", []byte("a,b\n1,2\n"))
	w = ut.PerformRequest(f.server.Engine, "POST", "/api/v1/jobs/upload",
		&ut.Body{Body: bytes.NewReader(body), Len: len(body)},
		ut.Header{Key: "Content-Type", Value: contentType},
		ut.Header{Key: "Authorization", Value: "Bearer " + raw},
	)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("status = %d, want 200: %s", got, w.Result().Body())
	}
	resp := decodeBody(t, w)
	wantPath := "attachments/" + jobID + "/data.csv"
	if got := resp["storage_path"]; got != wantPath {
		t.Errorf("storage_path = %v, want %s", got, wantPath)
	}

	data, err := f.objects.Download(ctx, wantPath)
	if err != nil {
		t.Fatalf("Download(%s) error = %v", wantPath, err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("stored content = %q", data)
	}

	attachments, err := f.jobs.ListAttachments(ctx, jobID)
	if err != nil {
		t.Fatalf("ListAttachments() error = %v", err)
	}
	if len(attachments) != 1 || attachments[0].Filename != "data.csv" {
		t.Fatalf("attachments = %+v, want one data.csv", attachments)
	}
}
