/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package lifecycle

import (
	"fmt"

	"github.com/carverauto/runtime-agent/pkg/identity"
)

// AgentContext is the per-process agent state, built once after identity
// resolution and shared by the controller and the publication loop.
type AgentContext struct {
	Identity  string
	ListKey   string
	RecordKey string
}

func NewAgentContext(id, listKey, recordKey string) (*AgentContext, error) {
	if err := identity.Validate(id); err != nil {
		return nil, err
	}

	if listKey == "" {
		return nil, errEmptyListKey
	}

	if recordKey == "" {
		return nil, errEmptyRecordKey
	}

	return &AgentContext{Identity: id, ListKey: listKey, RecordKey: recordKey}, nil
}

func (a *AgentContext) String() string {
	return fmt.Sprintf("%s (list=%s record=%s)", a.Identity, a.ListKey, a.RecordKey)
}
