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

// enginectl：agent-engine API 的运维 CLI。
// 认证通过 ENGINE_API_KEY，地址通过 ENGINE_API_URL（默认 http://localhost:8080）。
package main

import (
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}
	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "version":
		fmt.Println("enginectl 0.1.0")
	case "submit":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: enginectl submit <task...>\n")
			os.Exit(1)
		}
		runSubmit(strings.Join(args, " "))
	case "status":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: enginectl status <job_id>\n")
			os.Exit(1)
		}
		runStatus(args[0])
	case "watch":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: enginectl watch <job_id>\n")
			os.Exit(1)
		}
		runWatch(args[0])
	case "logs":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: enginectl logs <job_id>\n")
			os.Exit(1)
		}
		runLogs(args[0])
	case "respond":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Usage: enginectl respond <job_id> <answer...>\n")
			os.Exit(1)
		}
		runRespond(args[0], strings.Join(args[1:], " "))
	case "cancel":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: enginectl cancel <job_id>\n")
			os.Exit(1)
		}
		runCancel(args[0])
	case "workers":
		runWorkers()
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: enginectl <command> [args]")
	fmt.Println("  version              - 显示版本")
	fmt.Println("  submit <task...>     - 提交 Job，返回 job_id")
	fmt.Println("  status <job_id>      - 查询 Job 状态")
	fmt.Println("  watch <job_id>       - 轮询直到 Job 结束或等待用户输入")
	fmt.Println("  logs <job_id>        - 输出 Job 执行日志")
	fmt.Println("  respond <job_id> <answer...> - 回答等待中的 Job")
	fmt.Println("  cancel <job_id>      - 取消排队或等待中的 Job")
	fmt.Println("  workers              - 列出 Worker 与健康状态（需 admin key）")
}

// terminalStatus Job 是否已到终态
func terminalStatus(status string) bool {
	return status == "completed" || status == "failed" || status == "cancelled"
}

func runSubmit(task string) {
	out, err := submitJob(task, 0, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "提交失败: %v\n", err)
		os.Exit(1)
	}
	id, _ := out["id"].(string)
	fmt.Println(id)
}

func runStatus(jobID string) {
	job, err := getJob(jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(job))
}

func runWatch(jobID string) {
	for {
		job, err := getJob(jobID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "查询失败: %v\n", err)
			os.Exit(1)
		}
		status, _ := job["status"].(string)
		fmt.Printf("status: %s\n", status)
		if terminalStatus(status) {
			if result, ok := job["result"].(string); ok && result != "" {
				fmt.Println(result)
			}
			if errText, ok := job["error"].(string); ok && errText != "" {
				fmt.Fprintln(os.Stderr, errText)
			}
			return
		}
		if status == "waiting_for_user" {
			if q, ok := job["agent_question"].(string); ok && q != "" {
				fmt.Printf("Agent 提问: %s\n", q)
				fmt.Printf("回复: enginectl respond %s <answer>\n", jobID)
			}
			return
		}
		time.Sleep(2 * time.Second)
	}
}

func runLogs(jobID string) {
	logs, err := getJobLogs(jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "获取日志失败: %v\n", err)
		os.Exit(1)
	}
	for _, line := range logs {
		level, _ := line["level"].(string)
		msg, _ := line["message"].(string)
		fmt.Printf("[%s] %s\n", level, msg)
	}
}

func runRespond(jobID, answer string) {
	out, err := respondJob(jobID, answer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "回答失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(out))
}

func runCancel(jobID string) {
	out, err := cancelJob(jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "取消失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(out))
}

func runWorkers() {
	out, err := listWorkers()
	if err != nil {
		fmt.Fprintf(os.Stderr, "列出 Worker 失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(out))
}
