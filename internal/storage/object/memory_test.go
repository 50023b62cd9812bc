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
	"strings"
	"testing"
)

func TestMemoryStore_UploadDownload(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Upload(ctx, "artifacts/job-1/out.csv", []byte("a,b\n1,2"), "text/csv"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	data, err := s.Download(ctx, "artifacts/job-1/out.csv")
	if err != nil || string(data) != "a,b\n1,2" {
		t.Fatalf("Download = %q, %v", data, err)
	}
	if got := s.ContentType("artifacts/job-1/out.csv"); got != "text/csv" {
		t.Errorf("ContentType = %q, want text/csv", got)
	}

	// 覆盖写
	if err := s.Upload(ctx, "artifacts/job-1/out.csv", []byte("x"), "text/plain"); err != nil {
		t.Fatalf("re-Upload: %v", err)
	}
	data, _ = s.Download(ctx, "artifacts/job-1/out.csv")
	if string(data) != "x" {
		t.Errorf("after upsert = %q, want x", data)
	}

	if _, err := s.Download(ctx, "missing"); err == nil {
		t.Errorf("Download missing object should fail")
	}
}

func TestMemoryStore_PublicURL(t *testing.T) {
	s := NewMemoryStore()
	if got := s.PublicURL("artifacts/j/f.txt"); !strings.HasSuffix(got, "artifacts/j/f.txt") {
		t.Errorf("PublicURL = %q", got)
	}
}
