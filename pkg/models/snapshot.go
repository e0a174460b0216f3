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

package models

import "time"

// RuntimeSnapshot is one observation of the container, published as the
// agent's record. Field names follow the shape dashboards already consume.
type RuntimeSnapshot struct {
	Timestamp    time.Time       `json:"timestamp"`
	Identity     string          `json:"identity"`
	AgentVersion string          `json:"agentVersion,omitempty"`
	Sequence     uint64          `json:"sequence"`
	Processes    *ProcessSummary `json:"processes"`
	DisksIO      *DisksIO        `json:"disksIO"`
	NetworkStats []NetworkStat   `json:"networkStats"`
	Users        []UserSession   `json:"users"`
	Host         *HostInfo       `json:"host,omitempty"`
}

// ProcessSummary holds the process table counts and the (bounded) list.
type ProcessSummary struct {
	All      int           `json:"all"`
	Running  int           `json:"running"`
	Blocked  int           `json:"blocked"`
	Sleeping int           `json:"sleeping"`
	Unknown  int           `json:"unknown"`
	List     []ProcessInfo `json:"list"`
}

type ProcessInfo struct {
	PID        int32   `json:"pid"`
	ParentPID  int32   `json:"parentPid"`
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpu"`
	MemPercent float32 `json:"mem"`
	RSS        uint64  `json:"memRss"`
	VSZ        uint64  `json:"memVsz"`
	Nice       int32   `json:"nice"`
	Started    string  `json:"started,omitempty"`
	State      string  `json:"state"`
	User       string  `json:"user,omitempty"`
	Command    string  `json:"command,omitempty"`
}

// DisksIO carries cumulative operation counts and per-second rates computed
// against the previous sample. Rates are nil on the first sample.
type DisksIO struct {
	ReadIO       uint64   `json:"rIO"`
	WriteIO      uint64   `json:"wIO"`
	TotalIO      uint64   `json:"tIO"`
	ReadIOSec    *float64 `json:"rIO_sec"`
	WriteIOSec   *float64 `json:"wIO_sec"`
	TotalIOSec   *float64 `json:"tIO_sec"`
	ReadBytes    uint64   `json:"rBytes"`
	WriteBytes   uint64   `json:"wBytes"`
	Milliseconds int64    `json:"ms"`
}

type NetworkStat struct {
	Interface    string   `json:"iface"`
	RxBytes      uint64   `json:"rx_bytes"`
	TxBytes      uint64   `json:"tx_bytes"`
	RxDropped    uint64   `json:"rx_dropped"`
	TxDropped    uint64   `json:"tx_dropped"`
	RxErrors     uint64   `json:"rx_errors"`
	TxErrors     uint64   `json:"tx_errors"`
	RxSec        *float64 `json:"rx_sec"`
	TxSec        *float64 `json:"tx_sec"`
	Milliseconds int64    `json:"ms"`
}

type UserSession struct {
	User     string `json:"user"`
	Terminal string `json:"tty"`
	Host     string `json:"ip,omitempty"`
	Started  string `json:"date,omitempty"`
}

// HostInfo is informational only and never used as the agent identity.
type HostInfo struct {
	Hostname      string  `json:"hostname"`
	UptimeSeconds uint64  `json:"uptime"`
	Load1         float64 `json:"load1"`
	Load5         float64 `json:"load5"`
	Load15        float64 `json:"load15"`
}
