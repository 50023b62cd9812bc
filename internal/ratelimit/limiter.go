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

// Package ratelimit 提供按 API Key 的 60 秒滑动窗口限流。
package ratelimit

import (
	"context"
	"time"
)

// Window 滑动窗口长度
const Window = 60 * time.Second

// Decision 单次限流判定结果
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // 拒绝时下一次可重试的等待时间，至少 1s
}

// Limiter 限流器接口
type Limiter interface {
	// Check 记录一次请求并返回判定；key 通常为 API Key ID
	Check(ctx context.Context, key string, limit int) (Decision, error)

	// Reset 清空 key 的窗口（测试与管理用）
	Reset(ctx context.Context, key string) error
}

// retryAfter 距窗口内最老请求过期还需等待的时间，向上取整到秒，至少 1s
func retryAfter(oldest, now time.Time) time.Duration {
	d := oldest.Add(Window).Sub(now)
	if d <= 0 {
		return time.Second
	}
	rounded := d.Truncate(time.Second)
	if rounded < d {
		rounded += time.Second
	}
	if rounded < time.Second {
		rounded = time.Second
	}
	return rounded
}
