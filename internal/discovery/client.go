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

package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client 语义检索服务契约
type Client interface {
	// Discover 按任务文本检索候选 agent
	Discover(ctx context.Context, task string, threshold float64, limit int) ([]Match, error)

	// Embed 为描述文本生成向量（reindex 用）
	Embed(ctx context.Context, description string) ([]float64, error)
}

// ClientConfig 检索服务配置
type ClientConfig struct {
	BaseURL   string  `yaml:"base_url"`
	APIKey    string  `yaml:"api_key"`
	Threshold float64 `yaml:"threshold"` // 默认相似度阈值
}

// RESTClient 检索服务 REST 客户端
type RESTClient struct {
	baseURL string
	client  *resty.Client
}

// NewRESTClient 创建检索服务客户端
func NewRESTClient(cfg ClientConfig) *RESTClient {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	return &RESTClient{baseURL: cfg.BaseURL, client: client}
}

func (c *RESTClient) Discover(ctx context.Context, task string, threshold float64, limit int) ([]Match, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{"task": task, "threshold": threshold, "limit": limit}).
		Post(c.baseURL + "/discover")
	if err != nil {
		return nil, fmt.Errorf("调用检索服务 failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("检索服务返回错误 (%d): %s", resp.StatusCode(), resp.String())
	}
	var result struct {
		Agents []Match `json:"agents"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("解析检索响应failed: %w", err)
	}
	return result.Agents, nil
}

func (c *RESTClient) Embed(ctx context.Context, description string) ([]float64, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{"input": description}).
		Post(c.baseURL + "/embed")
	if err != nil {
		return nil, fmt.Errorf("调用向量服务 failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("向量服务返回错误 (%d): %s", resp.StatusCode(), resp.String())
	}
	var result struct {
		Vector []float64 `json:"vector"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("解析向量响应failed: %w", err)
	}
	return result.Vector, nil
}
