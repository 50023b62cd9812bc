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

package auth

import "testing"

func TestHasScope(t *testing.T) {
	tests := []struct {
		name     string
		held     []Scope
		required []Scope
		want     bool
	}{
		{"exact match", []Scope{ScopeJobsRead}, []Scope{ScopeJobsRead}, true},
		{"missing scope", []Scope{ScopeJobsRead}, []Scope{ScopeJobsWrite}, false},
		{"admin covers everything", []Scope{ScopeAdmin}, []Scope{ScopeJobsDelete}, true},
		{"any-of semantics", []Scope{ScopeAgentsRead}, []Scope{ScopeAgentsWrite, ScopeAgentsRead}, true},
		{"no required scopes", []Scope{}, nil, true},
		{"empty held", nil, []Scope{ScopeJobsRead}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasScope(tc.held, tc.required...); got != tc.want {
				t.Errorf("HasScope(%v, %v) = %v, want %v", tc.held, tc.required, got, tc.want)
			}
		})
	}
}

func TestIsValidScope(t *testing.T) {
	for _, s := range []Scope{ScopeJobsRead, ScopeJobsWrite, ScopeJobsDelete, ScopeAgentsRead, ScopeAgentsWrite, ScopeAdmin} {
		if !IsValidScope(s) {
			t.Errorf("IsValidScope(%q) = false, want true", s)
		}
	}
	if IsValidScope("jobs:execute") {
		t.Errorf("IsValidScope(jobs:execute) = true, want false")
	}
}
