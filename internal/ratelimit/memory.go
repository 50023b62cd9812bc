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

package ratelimit

import (
	"context"
	"sync"
	"time"

	"agent-engine/pkg/metrics"
)

// MemoryLimiter 进程内滑动窗口限流（单实例部署与测试用），
// 语义与 Redis 实现一致。
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time // 按请求时间升序
	now     func() time.Time
}

// NewMemoryLimiter 创建内存限流器
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string][]time.Time), now: time.Now}
}

func (l *MemoryLimiter) Check(ctx context.Context, key string, limit int) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-Window)
	window := l.windows[key]

	// 剔除窗口外的记录
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	window = window[i:]

	if len(window) >= limit {
		l.windows[key] = window
		metrics.RateLimitDecisions.WithLabelValues("denied").Inc()
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: retryAfter(window[0], now)}, nil
	}

	window = append(window, now)
	l.windows[key] = window
	metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	return Decision{Allowed: true, Limit: limit, Remaining: limit - len(window)}, nil
}

func (l *MemoryLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
	return nil
}
