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

package queue

import "fmt"

// transitions 合法状态转移表。终态不再转移；queued → cancelled 仅在未被认领时成立，
// 由存储层的条件更新保证。
var transitions = map[Status][]Status{
	StatusQueued:         {StatusRunning, StatusCancelled},
	StatusRunning:        {StatusCompleted, StatusFailed, StatusWaitingForUser, StatusQueued},
	StatusWaitingForUser: {StatusQueued, StatusCancelled},
}

// CanTransition from → to 是否合法
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// TransitionError 非法状态转移
type TransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}
