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

package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// RESTProvider 远程沙箱服务的 REST 客户端
type RESTProvider struct {
	baseURL string
	client  *resty.Client
}

// NewRESTProvider 创建沙箱客户端
func NewRESTProvider(cfg Config) *RESTProvider {
	client := resty.New()
	client.SetTimeout(150 * time.Second) // 要容纳 run_python 的 120s 上限
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	return &RESTProvider{baseURL: cfg.BaseURL, client: client}
}

func (p *RESTProvider) Create(ctx context.Context, timeout time.Duration) (Box, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{"timeout_ms": timeout.Milliseconds()}).
		Post(p.baseURL + "/sandboxes")
	if err != nil {
		return nil, fmt.Errorf("创建沙箱 failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("沙箱服务返回错误 (%d): %s", resp.StatusCode(), resp.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body(), &created); err != nil {
		return nil, fmt.Errorf("解析沙箱响应failed: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("沙箱服务未返回 id")
	}
	return &restBox{provider: p, id: created.ID}, nil
}

type restBox struct {
	provider *RESTProvider
	id       string
	killed   bool
}

func (b *restBox) ID() string {
	return b.id
}

func (b *restBox) Run(ctx context.Context, cmd string, timeout time.Duration, onStdout, onStderr func(string)) (*RunResult, error) {
	resp, err := b.provider.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{"cmd": cmd, "timeout_ms": timeout.Milliseconds()}).
		Post(fmt.Sprintf("%s/sandboxes/%s/commands", b.provider.baseURL, b.id))
	if err != nil {
		return nil, fmt.Errorf("执行命令 failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("沙箱服务返回错误 (%d): %s", resp.StatusCode(), resp.String())
	}
	var result struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exit_code"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("解析命令结果failed: %w", err)
	}
	if onStdout != nil && result.Stdout != "" {
		onStdout(result.Stdout)
	}
	if onStderr != nil && result.Stderr != "" {
		onStderr(result.Stderr)
	}
	return &RunResult{Stdout: result.Stdout, Stderr: result.Stderr, ExitCode: result.ExitCode}, nil
}

func (b *restBox) WriteFile(ctx context.Context, path string, content []byte) error {
	resp, err := b.provider.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{"path": path, "content": string(content)}).
		Post(fmt.Sprintf("%s/sandboxes/%s/files", b.provider.baseURL, b.id))
	if err != nil {
		return fmt.Errorf("写入沙箱文件 failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("沙箱服务返回错误 (%d): %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (b *restBox) Kill(ctx context.Context) error {
	if b.killed {
		return nil
	}
	resp, err := b.provider.client.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("%s/sandboxes/%s", b.provider.baseURL, b.id))
	if err != nil {
		return fmt.Errorf("销毁沙箱 failed: %w", err)
	}
	if resp.IsError() && resp.StatusCode() != 404 {
		return fmt.Errorf("沙箱服务返回错误 (%d): %s", resp.StatusCode(), resp.String())
	}
	b.killed = true
	return nil
}
