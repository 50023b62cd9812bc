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

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

func apiBaseURL() string {
	if u := os.Getenv("ENGINE_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func newClient() *resty.Client {
	c := resty.New().
		SetBaseURL(apiBaseURL()).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	if key := os.Getenv("ENGINE_API_KEY"); key != "" {
		c.SetHeader("Authorization", "Bearer "+key)
	}
	return c
}

func submitJob(task string, priority, timeoutSeconds int) (map[string]interface{}, error) {
	body := map[string]interface{}{"task": task}
	if priority > 0 {
		body["priority"] = priority
	}
	if timeoutSeconds > 0 {
		body["timeout_seconds"] = timeoutSeconds
	}
	var out map[string]interface{}
	resp, err := newClient().R().
		SetBody(body).
		SetResult(&out).
		Post("/api/v1/jobs")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("POST /api/v1/jobs: %s", resp.String())
	}
	return out, nil
}

func getJob(jobID string) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := newClient().R().
		SetResult(&out).
		Get("/api/v1/jobs/" + jobID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/v1/jobs/%s: %s", jobID, resp.String())
	}
	return out, nil
}

func getJobLogs(jobID string) ([]map[string]interface{}, error) {
	var out struct {
		Logs []map[string]interface{} `json:"logs"`
	}
	resp, err := newClient().R().
		SetQueryParam("limit", "100").
		SetResult(&out).
		Get("/api/v1/jobs/" + jobID + "/logs")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET logs: %s", resp.String())
	}
	return out.Logs, nil
}

func respondJob(jobID, answer string) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := newClient().R().
		SetBody(map[string]string{"answer": answer}).
		SetResult(&out).
		Post("/api/v1/jobs/" + jobID + "/respond")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("POST respond: %s", resp.String())
	}
	return out, nil
}

func cancelJob(jobID string) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := newClient().R().
		SetResult(&out).
		Delete("/api/v1/jobs/" + jobID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("DELETE job: %s", resp.String())
	}
	return out, nil
}

func listWorkers() (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := newClient().R().
		SetResult(&out).
		Get("/api/v1/admin/workers")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/v1/admin/workers: %s", resp.String())
	}
	return out, nil
}

func prettyJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
