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

// Package object 封装产物与附件的对象存储。
package object

import "context"

// Store 对象存储接口
type Store interface {
	// Upload 上传对象（存在则覆盖）
	Upload(ctx context.Context, path string, data []byte, contentType string) error

	// Download 下载对象
	Download(ctx context.Context, path string) ([]byte, error)

	// PublicURL 对象的公开访问 URL
	PublicURL(path string) string
}

// Config 对象存储配置
type Config struct {
	Type       string `yaml:"type"` // memory | rest
	Endpoint   string `yaml:"endpoint"`
	Bucket     string `yaml:"bucket"`
	AdminToken string `yaml:"admin_token"`
}

// NewStore 按配置创建对象存储；空 Type 默认 memory
func NewStore(cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	default:
		return NewRESTStore(cfg), nil
	}
}
