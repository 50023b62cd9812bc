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

// Package api 装配 API 进程：存储、认证、限流、HTTP Router。
package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	apihttp "agent-engine/internal/api/http"
	"agent-engine/internal/api/http/middleware"
	"agent-engine/internal/auth"
	"agent-engine/internal/discovery"
	"agent-engine/internal/queue"
	"agent-engine/internal/ratelimit"
	"agent-engine/internal/storage/object"
	"agent-engine/pkg/config"
	"agent-engine/pkg/log"
	"agent-engine/pkg/secrets"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（控制面：只读写存储，不执行 Job）
type App struct {
	config       *config.Config
	logger       *log.Logger
	router       *apihttp.Router
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
	pgPool       *pgxpool.Pool
	redisClient  *redis.Client
}

// NewApp 创建 API 应用（由 cmd/api 调用）
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
	discoveryKey, err := secrets.Resolve(ctx, secretStore, cfg.Discovery.APIKey)
	if err != nil {
		return nil, fmt.Errorf("解析 Discovery API Key 失败: %w", err)
	}
	objectToken, err := secrets.Resolve(ctx, secretStore, cfg.Storage.Object.AdminToken)
	if err != nil {
		return nil, fmt.Errorf("解析对象存储令牌失败: %w", err)
	}

	appObj := &App{config: cfg, logger: logger}

	// Job / Key / Agent 存储：postgres 时共享一个连接池，否则进程内存储
	var jobStore queue.Store
	var keyStore auth.Store
	var agentStore discovery.AgentStore
	if cfg.Queue.Type == "postgres" && cfg.Queue.DSN != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.Queue.DSN)
		if err != nil {
			return nil, fmt.Errorf("解析 Postgres DSN 失败: %w", err)
		}
		if cfg.Queue.PoolSize > 0 {
			poolCfg.MaxConns = int32(cfg.Queue.PoolSize)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("初始化 Postgres 连接池失败: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("Postgres 连接失败: %w", err)
		}
		appObj.pgPool = pool
		jobStore = queue.NewPgStoreWithPool(pool)
		keyStore = auth.NewPgStoreWithPool(pool)
		agentStore = discovery.NewPgAgentStore(pool)
		logger.Info("Queue 使用 PostgreSQL 后端")
	} else {
		jobStore = queue.NewMemStore()
		keyStore = auth.NewMemoryStore()
		agentStore = discovery.NewMemAgentStore()
		logger.Warn("Queue 使用进程内存储，重启后数据丢失（仅限开发环境）")
	}

	// 限流：Redis 滑动窗；未配置时退化为进程内实现（多副本下各算各的）
	var limiter ratelimit.Limiter
	if cfg.RateLimit.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RateLimit.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("解析 Redis URL 失败: %w", err)
		}
		if cfg.RateLimit.RedisPassword != "" {
			redisOpts.Password = cfg.RateLimit.RedisPassword
		}
		client := redis.NewClient(redisOpts)
		appObj.redisClient = client
		limiter = ratelimit.NewRedisLimiter(client, logger)
		logger.Info("限流使用 Redis 滑动窗口", "addr", redisOpts.Addr)
	} else {
		limiter = ratelimit.NewMemoryLimiter()
		logger.Warn("未配置 Redis，限流退化为进程内滑动窗口")
	}

	objects, err := object.NewStore(object.Config{
		Type:       cfg.Storage.Object.Type,
		Endpoint:   cfg.Storage.Object.Endpoint,
		Bucket:     cfg.Storage.Object.Bucket,
		AdminToken: objectToken,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化对象存储失败: %w", err)
	}

	keys := auth.NewService(keyStore, cfg.Environment(), logger)
	agents := discovery.NewService(agentStore, discovery.NewRESTClient(discovery.ClientConfig{
		BaseURL:   cfg.Discovery.BaseURL,
		APIKey:    discoveryKey,
		Threshold: cfg.Discovery.Threshold,
	}), logger)

	handler := apihttp.NewHandler(jobStore, objects, agents, keys, cfg.Model.DefaultModel, logger)
	mw := middleware.NewMiddleware(keys, limiter, logger)
	appObj.router = apihttp.NewRouter(handler, mw)
	return appObj, nil
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	a.logger.Info("API 服务启动", "addr", addr, "environment", a.config.Environment())

	// Hertz 框架日志走 slog 扩展，与应用日志配置对齐
	output := os.Stdout
	if a.config.Log.File != "" {
		f, err := os.OpenFile(a.config.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	switch a.config.Log.Level {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))

	// 可选：启用链路追踪（OpenTelemetry）
	if a.config.Monitoring.Tracing.Enable {
		serviceName := a.config.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "agent-engine-api"
		}
		exportEndpoint := a.config.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			opts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if a.config.Monitoring.Tracing.Insecure {
				opts = append(opts, provider.WithInsecure())
			}
			a.otelProvider = provider.NewOpenTelemetryProvider(opts...)
			tracerOpt, tracerCfg := hertztracing.NewServerTracer()
			a.hertz = a.router.Build(addr, tracerOpt)
			a.hertz.Use(hertztracing.ServerMiddleware(tracerCfg))
			a.logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
		} else {
			a.hertz = a.router.Build(addr)
		}
	} else {
		a.hertz = a.router.Build(addr)
	}

	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时）
func (a *App) Shutdown(ctx context.Context) error {
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	a.logger.Info("API 服务已关闭")
	return nil
}
