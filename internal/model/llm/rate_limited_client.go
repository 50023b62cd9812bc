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

package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedClient 包装 Client，按 provider RPM 配额节流请求
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimitedClient 创建节流客户端；rpm <= 0 表示不节流
func NewRateLimitedClient(inner Client, rpm int) *RateLimitedClient {
	if rpm <= 0 {
		return &RateLimitedClient{inner: inner, limiter: nil}
	}
	return &RateLimitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
	}
}

func (c *RateLimitedClient) Model() string {
	return c.inner.Model()
}

// ChatTools 先等待配额再转发请求；等待可被 ctx 取消
func (c *RateLimitedClient) ChatTools(ctx context.Context, req *ChatRequest) (*Message, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return c.inner.ChatTools(ctx, req)
}
