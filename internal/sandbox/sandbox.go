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

// Package sandbox 定义远程代码执行沙箱的契约。
package sandbox

import (
	"context"
	"time"
)

// RunResult 一次命令执行的结果
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Box 一个已创建的沙箱实例；每个 Job 至多一个
type Box interface {
	// ID 沙箱标识
	ID() string

	// Run 执行命令；onStdout/onStderr 可为 nil
	Run(ctx context.Context, cmd string, timeout time.Duration, onStdout, onStderr func(string)) (*RunResult, error)

	// WriteFile 写入文件
	WriteFile(ctx context.Context, path string, content []byte) error

	// Kill 销毁沙箱；重复调用幂等
	Kill(ctx context.Context) error
}

// Provider 沙箱提供方
type Provider interface {
	// Create 创建沙箱；timeout 为沙箱整体存活上限
	Create(ctx context.Context, timeout time.Duration) (Box, error)
}

// Config 沙箱提供方配置
type Config struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}
