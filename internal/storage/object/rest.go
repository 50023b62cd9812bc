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

package object

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// RESTStore S3 兼容网关的 REST 实现。上传带 upsert 语义，
// 公开 URL 走 /object/public/ 前缀。
type RESTStore struct {
	endpoint string
	bucket   string
	client   *resty.Client
}

// NewRESTStore 创建 REST 对象存储客户端
func NewRESTStore(cfg Config) *RESTStore {
	client := resty.New()
	client.SetTimeout(60 * time.Second)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	if cfg.AdminToken != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.AdminToken)
	}
	return &RESTStore{endpoint: cfg.Endpoint, bucket: cfg.Bucket, client: client}
}

func (s *RESTStore) objectURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.endpoint, s.bucket, path)
}

func (s *RESTStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetHeader("x-upsert", "true").
		SetBody(data).
		Post(s.objectURL(path))
	if err != nil {
		return fmt.Errorf("上传对象 failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("对象存储返回错误 (%d): %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (s *RESTStore) Download(ctx context.Context, path string) ([]byte, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		Get(s.objectURL(path))
	if err != nil {
		return nil, fmt.Errorf("下载对象 failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("对象存储返回错误 (%d): %s", resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}

func (s *RESTStore) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.endpoint, s.bucket, path)
}
