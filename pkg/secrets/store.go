// Copyright 2026 fanjia1024
// Secret management abstraction

package secrets

import (
	"context"
	"fmt"
	"strings"
)

// Store Secret 存储接口
type Store interface {
	// Get 获取 secret 值
	Get(ctx context.Context, key string) (string, error)

	// Set 设置 secret 值
	Set(ctx context.Context, key string, value string) error

	// Delete 删除 secret
	Delete(ctx context.Context, key string) error

	// List 列出所有 secret keys
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config Secret Store 配置
type Config struct {
	Provider string `yaml:"provider"` // vault | env | memory
	Address  string `yaml:"address"`  // vault 服务地址
	Token    string `yaml:"token"`    // vault 令牌
}

// NewStore 创建 Secret Store；空 Provider 默认 env
func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "memory":
		return NewMemoryStore(), nil
	case "", "env":
		return NewEnvStore(), nil
	case "vault":
		return NewVaultStore(VaultConfig{Address: config.Address, Token: config.Token})
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", config.Provider)
	}
}

// Resolve 解析带 "vault:" 前缀的值为 secret 引用，其余原样返回。
// 配置文件中 api_key: "vault:model/api_key" 即可从 Store 取值。
func Resolve(ctx context.Context, store Store, value string) (string, error) {
	if store == nil || !strings.HasPrefix(value, "vault:") {
		return value, nil
	}
	return store.Get(ctx, strings.TrimPrefix(value, "vault:"))
}
