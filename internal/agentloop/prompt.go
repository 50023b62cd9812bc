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
	"fmt"
	"strings"

	"agent-engine/internal/queue"
)

// buildSystemPrompt 组装系统提示词。HITL 模式只影响提示词，不影响循环机制。
func buildSystemPrompt(job *queue.Job, attachmentNames []string) string {
	var b strings.Builder
	b.WriteString("You are an autonomous task agent. Work through the task using the available tools.\n\n")
	b.WriteString("Mandated workflow: discover_tools -> plan -> ")
	switch job.HITLMode {
	case queue.HITLAutoExecute:
		b.WriteString("execute -> final_answer.\n")
		b.WriteString("You may execute immediately without asking for approval.\n")
	case queue.HITLAlwaysAsk:
		b.WriteString("ask for approval -> execute -> final_answer.\n")
		b.WriteString("Before EACH side-effectful tool call (fetch_url, run_python), call ask_user and wait for confirmation.\n")
	default: // plan_approval
		b.WriteString("ask for approval -> execute -> final_answer.\n")
		b.WriteString("On your first turn call discover_tools, then present your plan with ask_user before any side-effectful tool.\n")
	}

	b.WriteString("\nAvailable tools:\n")
	b.WriteString("- discover_tools(query): rank external capabilities relevant to the task\n")
	b.WriteString("- fetch_url(url, method, headers?, body?): HTTP request, 30s cap\n")
	b.WriteString("- run_python(code, packages?): run Python in a sandbox, 120s cap\n")
	b.WriteString("- read_file(filename): read a provided attachment\n")
	b.WriteString("- write_file(filename, content): stage an output artifact\n")
	b.WriteString("- ask_user(question): pause and ask the user\n")
	b.WriteString("- final_answer(answer): finish with the result\n")

	if len(attachmentNames) > 0 {
		fmt.Fprintf(&b, "\nAttached files: %s\n", strings.Join(attachmentNames, ", "))
	}
	b.WriteString("\nAlways finish by calling final_answer with the complete result.")
	return b.String()
}
