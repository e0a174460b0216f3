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

package collector

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/carverauto/runtime-agent/pkg/models"
)

const (
	stateRunning  = "running"
	stateSleeping = "sleeping"
	stateBlocked  = "blocked"
	stateZombie   = "zombie"
	stateStopped  = "stopped"
	stateUnknown  = "unknown"

	maxCommandLength = 256
)

// readProcesses walks the process table. Processes that exit mid-walk are skipped.
func readProcesses(ctx context.Context) ([]models.ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.ProcessInfo, 0, len(procs))

	for _, p := range procs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}

		info := models.ProcessInfo{PID: p.Pid, Name: name, State: stateUnknown}

		if ppid, err := p.PpidWithContext(ctx); err == nil {
			info.ParentPID = ppid
		}

		if status, err := p.StatusWithContext(ctx); err == nil && len(status) > 0 {
			info.State = normalizeState(status[0])
		}

		if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
			info.CPUPercent = cpu
		}

		if mem, err := p.MemoryPercentWithContext(ctx); err == nil {
			info.MemPercent = mem
		}

		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			info.RSS, info.VSZ = mi.RSS, mi.VMS
		}

		if nice, err := p.NiceWithContext(ctx); err == nil {
			info.Nice = nice
		}

		if created, err := p.CreateTimeWithContext(ctx); err == nil && created > 0 {
			info.Started = time.UnixMilli(created).UTC().Format(time.RFC3339)
		}

		if user, err := p.UsernameWithContext(ctx); err == nil {
			info.User = user
		}

		if cmd, err := p.CmdlineWithContext(ctx); err == nil {
			info.Command = truncate(cmd, maxCommandLength)
		}

		out = append(out, info)
	}

	return out, nil
}

// normalizeState maps gopsutil status names onto the counts the snapshot reports.
func normalizeState(status string) string {
	switch strings.ToLower(status) {
	case "running", "r":
		return stateRunning
	case "sleep", "idle", "s", "i":
		return stateSleeping
	case "blocked", "wait", "lock", "d", "w", "l":
		return stateBlocked
	case "zombie", "z":
		return stateZombie
	case "stop", "t":
		return stateStopped
	default:
		return stateUnknown
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return strings.ToValidUTF8(s[:limit], "")
}
