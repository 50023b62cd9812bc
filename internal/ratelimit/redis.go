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
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"agent-engine/pkg/log"
	"agent-engine/pkg/metrics"
)

// 窗口数据保留比窗口稍长，避免 TTL 截断正在统计的成员
const keyTTL = 70 * time.Second

// RedisLimiter Redis ZSET 滑动窗口限流。score 为请求时间戳（纳秒），
// member 带随机后缀保证同一纳秒内的请求不去重。
type RedisLimiter struct {
	client *redis.Client
	logger *log.Logger
	now    func() time.Time
}

// NewRedisLimiter 创建 Redis 限流器
func NewRedisLimiter(client *redis.Client, logger *log.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, logger: logger, now: time.Now}
}

func limiterKey(key string) string {
	return "ratelimit:" + key
}

// Check 实现 Limiter。Redis 不可用时放行（fail-open）并记录告警。
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int) (Decision, error) {
	now := l.now()
	rkey := limiterKey(key)
	cutoff := now.Add(-Window).UnixNano()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String()[:8])

	// 驱逐、写入、计数在同一事务内完成：并发 Check 串行观察到彼此的写入，
	// 窗口内放行数不会超过 limit
	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	countCmd := pipe.ZCard(ctx, rkey)
	pipe.Expire(ctx, rkey, keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return l.failOpen(key, limit, err), nil
	}

	count := int(countCmd.Val())
	if count > limit {
		// 被拒绝的请求不占窗口
		if err := l.client.ZRem(ctx, rkey, member).Err(); err != nil {
			l.logger.Warn("清理被拒成员失败", "key", key, "error", err)
		}
		wait := time.Second
		if oldest, err := l.client.ZRangeWithScores(ctx, rkey, 0, 0).Result(); err == nil && len(oldest) > 0 {
			wait = retryAfter(time.Unix(0, int64(oldest[0].Score)), now)
		}
		metrics.RateLimitDecisions.WithLabelValues("denied").Inc()
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: wait}, nil
	}

	metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	return Decision{Allowed: true, Limit: limit, Remaining: limit - count}, nil
}

func (l *RedisLimiter) failOpen(key string, limit int, err error) Decision {
	l.logger.Warn("限流检查失败，放行请求", "key", key, "error", err)
	metrics.RateLimitDecisions.WithLabelValues("fail_open").Inc()
	return Decision{Allowed: true, Limit: limit, Remaining: limit - 1}
}

// Reset 清空 key 的窗口
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, limiterKey(key)).Err()
}
