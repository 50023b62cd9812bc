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

package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"agent-engine/pkg/log"
)

func newTestService(env string) *Service {
	return NewService(NewMemoryStore(), env, log.NewNop())
}

func TestIssue_KeyFormat(t *testing.T) {
	svc := newTestService("test")
	res, err := svc.Issue(context.Background(), "ci", "", []Scope{ScopeJobsRead}, 0, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(res.RawKey, "engine_test_") {
		t.Errorf("raw key = %q, want engine_test_ prefix", res.RawKey)
	}
	if got := len(res.Key.KeyPrefix); got != 14 {
		t.Errorf("key prefix length = %d, want 14", got)
	}
	if res.Key.KeyPrefix != res.RawKey[:14] {
		t.Errorf("key prefix = %q, want first 14 chars of raw key", res.Key.KeyPrefix)
	}
	if res.Key.KeyHash != HashKey(res.RawKey) {
		t.Errorf("stored hash does not match raw key hash")
	}
	if res.Key.RateLimit != defaultRateLimit {
		t.Errorf("rate limit = %d, want default %d", res.Key.RateLimit, defaultRateLimit)
	}

	live := newTestService("live")
	res2, err := live.Issue(context.Background(), "prod", "", []Scope{ScopeAdmin}, 120, nil)
	if err != nil {
		t.Fatalf("Issue live: %v", err)
	}
	if !strings.HasPrefix(res2.RawKey, "engine_live_") {
		t.Errorf("raw key = %q, want engine_live_ prefix", res2.RawKey)
	}
}

func TestIssue_Validation(t *testing.T) {
	svc := newTestService("test")
	if _, err := svc.Issue(context.Background(), "", "", []Scope{ScopeJobsRead}, 0, nil); err == nil {
		t.Errorf("empty name should fail")
	}
	if _, err := svc.Issue(context.Background(), "x", "", []Scope{"bogus"}, 0, nil); err == nil {
		t.Errorf("unknown scope should fail")
	}

	// 未指定 scopes 时默认 jobs:write + jobs:read
	res, err := svc.Issue(context.Background(), "defaulted", "", nil, 0, nil)
	if err != nil {
		t.Fatalf("Issue with default scopes: %v", err)
	}
	if len(res.Key.Scopes) != 2 || !HasScope(res.Key.Scopes, ScopeJobsWrite) || !HasScope(res.Key.Scopes, ScopeJobsRead) {
		t.Errorf("default scopes = %v", res.Key.Scopes)
	}
}

func TestValidate(t *testing.T) {
	svc := newTestService("test")
	ctx := context.Background()
	res, err := svc.Issue(ctx, "ci", "", []Scope{ScopeJobsRead, ScopeJobsWrite}, 0, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	key, err := svc.Validate(ctx, res.RawKey)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if key.ID != res.Key.ID {
		t.Errorf("validated key id = %s, want %s", key.ID, res.Key.ID)
	}

	// 前缀不对：不查库直接拒绝
	if _, err := svc.Validate(ctx, "sk-whatever"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("bad prefix: err = %v, want ErrInvalidKey", err)
	}
	// 前缀对但 key 未登记
	if _, err := svc.Validate(ctx, "engine_test_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("unknown key: err = %v, want ErrInvalidKey", err)
	}
}

func TestValidate_RevokedAndExpired(t *testing.T) {
	svc := newTestService("test")
	ctx := context.Background()

	res, _ := svc.Issue(ctx, "revoke-me", "", []Scope{ScopeJobsRead}, 0, nil)
	if err := svc.Revoke(ctx, res.Key.ID, "leaked"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Validate(ctx, res.RawKey); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("revoked key: err = %v, want ErrInvalidKey", err)
	}
	revoked, _ := svc.Get(ctx, res.Key.ID)
	if revoked.RevokedReason != "leaked" {
		t.Errorf("RevokedReason = %q", revoked.RevokedReason)
	}
	// 重复吊销幂等，且不覆盖首次原因
	if err := svc.Revoke(ctx, res.Key.ID, "again"); err != nil {
		t.Errorf("second Revoke: %v", err)
	}
	revoked, _ = svc.Get(ctx, res.Key.ID)
	if revoked.RevokedReason != "leaked" {
		t.Errorf("RevokedReason after second revoke = %q", revoked.RevokedReason)
	}

	past := time.Now().Add(-time.Hour)
	res2, _ := svc.Issue(ctx, "expired", "", []Scope{ScopeJobsRead}, 0, &past)
	if _, err := svc.Validate(ctx, res2.RawKey); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expired key: err = %v, want ErrInvalidKey", err)
	}
}

func TestValidate_TouchesUsage(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, "test", log.NewNop())
	ctx := context.Background()
	res, _ := svc.Issue(ctx, "ci", "", []Scope{ScopeJobsRead}, 0, nil)

	if _, err := svc.Validate(ctx, res.RawKey); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// 使用记录是异步写入
	deadline := time.Now().Add(2 * time.Second)
	for {
		k, err := store.GetByID(ctx, res.Key.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if k.UsageCount == 1 && k.LastUsedAt != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("usage not recorded: count=%d", k.UsageCount)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestList(t *testing.T) {
	svc := newTestService("test")
	ctx := context.Background()
	_, _ = svc.Issue(ctx, "a", "", []Scope{ScopeJobsRead}, 0, nil)
	resB, _ := svc.Issue(ctx, "b", "", []Scope{ScopeAdmin}, 0, nil)
	_, _ = svc.Issue(ctx, "c", "", []Scope{ScopeJobsRead}, 0, nil)
	_ = svc.Revoke(ctx, resB.Key.ID, "rotated")

	keys, total, err := svc.List(ctx, KeyFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 3 || total != 3 {
		t.Fatalf("len(keys) = %d total = %d, want 3/3", len(keys), total)
	}

	active, total, err := svc.List(ctx, KeyFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("List active: %v", err)
	}
	if len(active) != 2 || total != 2 {
		t.Errorf("active keys = %d total = %d, want 2/2", len(active), total)
	}

	page, total, err := svc.List(ctx, KeyFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List paged: %v", err)
	}
	if len(page) != 1 || total != 3 {
		t.Errorf("paged keys = %d total = %d, want 1/3", len(page), total)
	}
}
