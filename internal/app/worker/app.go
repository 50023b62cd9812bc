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

// Package worker 装配 Worker 进程：Claim 循环、Agent 循环与其外部依赖。
package worker

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"agent-engine/internal/agentloop"
	"agent-engine/internal/discovery"
	"agent-engine/internal/model/llm"
	"agent-engine/internal/queue"
	"agent-engine/internal/sandbox"
	"agent-engine/internal/storage/object"
	jobworker "agent-engine/internal/worker"
	"agent-engine/pkg/config"
	"agent-engine/pkg/log"
	"agent-engine/pkg/secrets"
)

// Version 随构建注入（-ldflags "-X ...worker.Version=v1.2.3"）
var Version = "dev"

// App Worker 应用（数据面：认领并执行 Job）
type App struct {
	config *config.Config
	logger *log.Logger
	runner *jobworker.Runner
	pgPool *pgxpool.Pool
}

// NewApp 创建 Worker 应用
func NewApp(cfg *config.Config) (*App, error) {
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	secretStore, err := secrets.NewStore(secrets.Config{
		Provider: cfg.Secrets.Provider,
		Address:  cfg.Secrets.Address,
		Token:    cfg.Secrets.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 Secret Store 失败: %w", err)
	}
	ctx := context.Background()
	modelKey, err := secrets.Resolve(ctx, secretStore, cfg.Model.APIKey)
	if err != nil {
		return nil, fmt.Errorf("解析模型 API Key 失败: %w", err)
	}
	sandboxKey, err := secrets.Resolve(ctx, secretStore, cfg.Sandbox.APIKey)
	if err != nil {
		return nil, fmt.Errorf("解析沙箱 API Key 失败: %w", err)
	}
	discoveryKey, err := secrets.Resolve(ctx, secretStore, cfg.Discovery.APIKey)
	if err != nil {
		return nil, fmt.Errorf("解析 Discovery API Key 失败: %w", err)
	}
	objectToken, err := secrets.Resolve(ctx, secretStore, cfg.Storage.Object.AdminToken)
	if err != nil {
		return nil, fmt.Errorf("解析对象存储令牌失败: %w", err)
	}

	appObj := &App{config: cfg, logger: logger}

	// Job 存储：跨进程执行要求 postgres；内存实现只在单进程演示时有意义
	var store queue.Store
	if cfg.Queue.Type == "postgres" && cfg.Queue.DSN != "" {
		pgStore, err := queue.NewPgStore(ctx, cfg.Queue.DSN)
		if err != nil {
			return nil, fmt.Errorf("初始化 Job 存储(postgres) 失败: %w", err)
		}
		appObj.pgPool = pgStore.Pool()
		store = pgStore
		logger.Info("Job 存储使用 PostgreSQL 后端")
	} else {
		store = queue.NewMemStore()
		logger.Warn("Job 存储使用进程内实现，API 进程创建的 Job 对本 Worker 不可见")
	}

	// 聊天模型：OpenAI 兼容客户端 + 提供商侧请求平滑
	openaiClient, err := llm.NewOpenAIClient(cfg.Model.DefaultModel, modelKey, cfg.Model.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("初始化模型客户端失败: %w", err)
	}
	var model llm.Client = openaiClient
	if cfg.Model.RPM > 0 {
		model = llm.NewRateLimitedClient(openaiClient, int(cfg.Model.RPM))
	}

	sandboxes := sandbox.NewRESTProvider(sandbox.Config{
		BaseURL: cfg.Sandbox.BaseURL,
		APIKey:  sandboxKey,
	})

	objects, err := object.NewStore(object.Config{
		Type:       cfg.Storage.Object.Type,
		Endpoint:   cfg.Storage.Object.Endpoint,
		Bucket:     cfg.Storage.Object.Bucket,
		AdminToken: objectToken,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化对象存储失败: %w", err)
	}

	var agentStore discovery.AgentStore
	if appObj.pgPool != nil {
		agentStore = discovery.NewPgAgentStore(appObj.pgPool)
	} else {
		agentStore = discovery.NewMemAgentStore()
	}
	agents := discovery.NewService(agentStore, discovery.NewRESTClient(discovery.ClientConfig{
		BaseURL:   cfg.Discovery.BaseURL,
		APIKey:    discoveryKey,
		Threshold: cfg.Discovery.Threshold,
	}), logger)

	loop := agentloop.NewLoop(model, sandboxes, objects, agents, store, logger)

	// 未配置的参数交给 Runner 的默认值（3 并发 / 1s 轮询 / 30s 心跳 / 30s 关闭 / 2m 孤儿阈值）
	appObj.runner = jobworker.NewRunner(jobworker.Options{
		WorkerID:          jobworker.DefaultWorkerID(),
		Version:           Version,
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      config.Duration(cfg.Worker.PollInterval, 0),
		HeartbeatInterval: config.Duration(cfg.Worker.HeartbeatInterval, 0),
		ShutdownTimeout:   config.Duration(cfg.Worker.ShutdownTimeout, 0),
		StaleThreshold:    config.Duration(cfg.Worker.StaleThreshold, 0),
	}, store, loop, logger)

	return appObj, nil
}

// Start 启动 Claim / 心跳 / 孤儿回收循环
func (a *App) Start() error {
	a.logger.Info("启动 worker 应用",
		"worker_id", jobworker.DefaultWorkerID(),
		"concurrency", a.config.Worker.Concurrency,
	)
	a.runner.Start(context.Background())
	return nil
}

// Shutdown 优雅关闭：停止认领、等待在执行的 Job、释放未完成的租约
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("关闭 worker 应用")
	a.runner.Stop()
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	a.logger.Info("worker 应用关闭成功")
	return nil
}
