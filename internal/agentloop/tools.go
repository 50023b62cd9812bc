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

package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"agent-engine/internal/model/llm"
	"agent-engine/pkg/metrics"
)

const (
	fetchTimeout  = 30 * time.Second
	pythonTimeout = 120 * time.Second

	// fetch_url 响应文本截断阈值
	fetchBodyLimit = 50 * 1024

	maxExtraPackages = 10

	scriptPath = "/home/user/script.py"
)

// 沙箱预装的科学计算基线
var baselinePackages = []string{"numpy", "pandas", "requests", "beautifulsoup4"}

// 额外安装的包名白名单模式
var packagePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// toolInventory 暴露给模型的工具清单
func toolInventory() []llm.Tool {
	obj := func(props map[string]interface{}, required ...string) map[string]interface{} {
		return map[string]interface{}{"type": "object", "properties": props, "required": required}
	}
	str := map[string]interface{}{"type": "string"}
	return []llm.Tool{
		llm.NewFunctionTool("discover_tools",
			"Find external agent capabilities relevant to a task",
			obj(map[string]interface{}{"query": str}, "query")),
		llm.NewFunctionTool("fetch_url",
			"Perform an HTTP request; JSON responses are pretty-printed, long text truncated",
			obj(map[string]interface{}{
				"url":    str,
				"method": map[string]interface{}{"type": "string", "enum": []string{"GET", "POST", "PUT", "DELETE"}},
				"headers": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": str,
				},
				"body": str,
			}, "url")),
		llm.NewFunctionTool("run_python",
			"Run Python code in a per-job sandbox; optional extra packages",
			obj(map[string]interface{}{
				"code":     str,
				"packages": map[string]interface{}{"type": "array", "items": str},
			}, "code")),
		llm.NewFunctionTool("read_file",
			"Read the contents of a provided attachment",
			obj(map[string]interface{}{"filename": str}, "filename")),
		llm.NewFunctionTool("write_file",
			"Stage an output artifact to be persisted with the result",
			obj(map[string]interface{}{"filename": str, "content": str}, "filename", "content")),
		llm.NewFunctionTool("ask_user",
			"Pause the job and ask the user a question",
			obj(map[string]interface{}{"question": str}, "question")),
		llm.NewFunctionTool("final_answer",
			"Finish the job with the complete result",
			obj(map[string]interface{}{"answer": str}, "answer")),
	}
}

type fetchArgs struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

type pythonArgs struct {
	Code     string   `json:"code"`
	Packages []string `json:"packages"`
}

type fileArgs struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type askArgs struct {
	Question string `json:"question"`
}

type answerArgs struct {
	Answer string `json:"answer"`
}

type queryArgs struct {
	Query string `json:"query"`
}

// fetchURL 执行 HTTP 请求：30 秒上限，JSON 美化，超长截断
func (l *Loop) fetchURL(ctx context.Context, args *fetchArgs) (string, error) {
	method := strings.ToUpper(args.Method)
	switch method {
	case "":
		method = "GET"
	case "GET", "POST", "PUT", "DELETE":
	default:
		return "", fmt.Errorf("unsupported method: %s", args.Method)
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req := l.httpClient.R().SetContext(ctx)
	for k, v := range args.Headers {
		req.SetHeader(k, v)
	}
	if args.Body != "" {
		req.SetBody(args.Body)
	}

	var resp *resty.Response
	var err error
	switch method {
	case "GET":
		resp, err = req.Get(args.URL)
	case "POST":
		resp, err = req.Post(args.URL)
	case "PUT":
		resp, err = req.Put(args.URL)
	case "DELETE":
		resp, err = req.Delete(args.URL)
	}
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}

	body := formatBody(resp.Body(), resp.Header().Get("Content-Type"))
	return fmt.Sprintf("HTTP %d\n%s", resp.StatusCode(), body), nil
}

// formatBody JSON 美化输出；文本超过 50KB 截断并加标记
func formatBody(body []byte, contentType string) string {
	if strings.Contains(contentType, "application/json") {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			body = buf.Bytes()
		}
	}
	if len(body) > fetchBodyLimit {
		return string(body[:fetchBodyLimit]) + "\n... [truncated]"
	}
	return string(body)
}

// runPython 懒创建沙箱，装包，写入脚本，执行
func (l *Loop) runPython(ctx context.Context, s *session, args *pythonArgs) (string, error) {
	if len(args.Packages) > maxExtraPackages {
		return "", fmt.Errorf("too many packages: %d (max %d)", len(args.Packages), maxExtraPackages)
	}
	for _, p := range args.Packages {
		if !packagePattern.MatchString(p) {
			return "", fmt.Errorf("invalid package name: %q", p)
		}
	}

	if s.box == nil {
		box, err := l.sandboxes.Create(ctx, time.Duration(s.job.TimeoutSeconds)*time.Second)
		if err != nil {
			return "", fmt.Errorf("sandbox unavailable: %w", err)
		}
		s.box = box
		l.jobLog(s, "info", "沙箱已创建", map[string]interface{}{"sandbox_id": box.ID()})
		install := "pip install -q " + strings.Join(baselinePackages, " ")
		if _, err := box.Run(ctx, install, pythonTimeout, nil, nil); err != nil {
			l.jobLog(s, "warn", "基线包安装失败", map[string]interface{}{"error": err.Error()})
		}
	}

	var toInstall []string
	for _, p := range args.Packages {
		if !s.installed[p] {
			toInstall = append(toInstall, p)
		}
	}
	if len(toInstall) > 0 {
		install := "pip install -q " + strings.Join(toInstall, " ")
		if res, err := s.box.Run(ctx, install, pythonTimeout, nil, nil); err != nil {
			return "", fmt.Errorf("package install failed: %w", err)
		} else if res.ExitCode != 0 {
			return "", fmt.Errorf("package install failed: %s", res.Stderr)
		}
		for _, p := range toInstall {
			s.installed[p] = true
		}
	}

	if err := s.box.WriteFile(ctx, scriptPath, []byte(args.Code)); err != nil {
		return "", fmt.Errorf("write script failed: %w", err)
	}

	// 执行输出边产生边进 Job 日志；写失败只告警
	onStdout := func(line string) {
		l.jobLog(s, "info", line, map[string]interface{}{"stream": "stdout"})
	}
	onStderr := func(line string) {
		l.jobLog(s, "warn", line, map[string]interface{}{"stream": "stderr"})
	}

	start := time.Now()
	res, err := s.box.Run(ctx, "python3 "+scriptPath, pythonTimeout, onStdout, onStderr)
	metrics.ToolDuration.WithLabelValues("run_python").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("execution failed: %w", err)
	}

	out := res.Stdout
	if res.Stderr != "" {
		out += "\n" + res.Stderr
	}
	return fmt.Sprintf("exit code: %d\n%s", res.ExitCode, out), nil
}

// discoverTools 调用检索服务并把命中的包名写回 Job
func (l *Loop) discoverTools(ctx context.Context, s *session, query string) (string, error) {
	matches, err := l.discovery.Discover(ctx, query, 0, 5)
	if err != nil {
		return "", fmt.Errorf("discovery failed: %w", err)
	}
	if len(matches) == 0 {
		return "No matching capabilities found.", nil
	}

	names := make([]string, 0, len(matches))
	var b strings.Builder
	b.WriteString("Candidate capabilities (ranked):\n")
	for i, m := range matches {
		fmt.Fprintf(&b, "%d. %s (%s) similarity=%.2f\n", i+1, m.Name, m.PackageName, m.Similarity)
		names = append(names, m.PackageName)
	}
	if err := l.store.SetDiscoveredTools(ctx, s.job.ID, names); err != nil {
		l.jobLog(s, "warn", "记录 tools_discovered 失败", map[string]interface{}{"error": err.Error()})
	}
	return b.String(), nil
}
