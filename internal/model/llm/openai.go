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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"agent-engine/pkg/metrics"
)

// OpenAIClient OpenAI 兼容客户端（支持 DashScope 等兼容端点）
type OpenAIClient struct {
	model   string
	apiKey  string
	baseURL string
	client  *resty.Client
}

// NewOpenAIClient 创建 OpenAI 兼容客户端；baseURL 为空时用默认或 OPENAI_BASE_URL
func NewOpenAIClient(model, apiKey, baseURL string) (*OpenAIClient, error) {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
		if envURL := os.Getenv("OPENAI_BASE_URL"); envURL != "" {
			baseURL = envURL
		}
	}

	client := resty.New()
	client.SetTimeout(120 * time.Second)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(5 * time.Second)

	return &OpenAIClient{
		model:   model,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
	}, nil
}

// Model 返回默认模型名
func (c *OpenAIClient) Model() string {
	return c.model
}

// ChatTools 带工具声明的一次补全
func (c *OpenAIClient) ChatTools(ctx context.Context, req *ChatRequest) (*Message, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetBody(req).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("调用 chat API failed: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("chat API 返回错误 (%d): %s", response.StatusCode(), response.String())
	}

	var result struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return nil, fmt.Errorf("解析 chat 响应failed: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("chat API 没有返回结果")
	}

	metrics.LLMTokensTotal.WithLabelValues("prompt").Add(float64(result.Usage.PromptTokens))
	metrics.LLMTokensTotal.WithLabelValues("completion").Add(float64(result.Usage.CompletionTokens))

	msg := result.Choices[0].Message
	return &msg, nil
}
