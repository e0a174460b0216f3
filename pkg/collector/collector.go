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

// Package collector samples the container's runtime state with gopsutil.
package collector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/carverauto/runtime-agent/pkg/logger"
	"github.com/carverauto/runtime-agent/pkg/models"
	"github.com/carverauto/runtime-agent/pkg/version"
)

const defaultMaxProcesses = 256

var (
	errCollectProcesses = errors.New("failed to collect process table")

	partitionPattern = regexp.MustCompile(`^((sd|vd|xvd|hd)[a-z]+\d+|(nvme\d+n\d+|mmcblk\d+)p\d+)$`)
	virtualPattern   = regexp.MustCompile(`^(loop|ram|zram|sr|fd)\d*$`)
)

// Config bounds what a snapshot carries.
type Config struct {
	MaxProcesses int  `json:"max_processes"`
	SkipUsers    bool `json:"skip_users"`
	SkipHost     bool `json:"skip_host"`
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.MaxProcesses <= 0 {
		c.MaxProcesses = defaultMaxProcesses
	}
}

type diskSample struct {
	at    time.Time
	reads uint64
	write uint64
}

type netSample struct {
	at time.Time
	rx uint64
	tx uint64
}

// Collector produces RuntimeSnapshots. Rates are computed against the
// previous call, so a single Collector should serve one publication loop.
type Collector struct {
	cfg      Config
	identity string
	logger   logger.Logger

	processes func(context.Context) ([]models.ProcessInfo, error)
	diskIO    func(context.Context) (map[string]disk.IOCountersStat, error)
	netIO     func(context.Context) ([]net.IOCountersStat, error)
	users     func(context.Context) ([]host.UserStat, error)
	hostInfo  func(context.Context) (*models.HostInfo, error)
	now       func() time.Time

	mu       sync.Mutex
	prevDisk *diskSample
	prevNet  map[string]netSample
}

// New creates a collector whose snapshots carry identity.
func New(cfg Config, identity string, log logger.Logger) *Collector {
	cfg.Normalize()

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Collector{
		cfg:       cfg,
		identity:  identity,
		logger:    log,
		processes: readProcesses,
		diskIO: func(ctx context.Context) (map[string]disk.IOCountersStat, error) {
			return disk.IOCountersWithContext(ctx)
		},
		netIO: func(ctx context.Context) ([]net.IOCountersStat, error) {
			return net.IOCountersWithContext(ctx, true)
		},
		users:    host.UsersWithContext,
		hostInfo: readHostInfo,
		now:      time.Now,
		prevNet:  make(map[string]netSample),
	}
}

// Collect takes one snapshot. Only a failure to read the process table fails
// the snapshot; other sections are logged and left empty.
func (c *Collector) Collect(ctx context.Context) (models.RuntimeSnapshot, error) {
	now := c.now()

	procs, err := c.processes(ctx)
	if err != nil {
		return models.RuntimeSnapshot{}, fmt.Errorf("%w: %w", errCollectProcesses, err)
	}

	snap := models.RuntimeSnapshot{
		Timestamp:    now.UTC(),
		Identity:     c.identity,
		AgentVersion: version.GetVersion(),
		Processes:    summarize(procs, c.cfg.MaxProcesses),
		NetworkStats: []models.NetworkStat{},
		Users:        []models.UserSession{},
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if counters, err := c.diskIO(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Disk I/O counters unavailable")
	} else {
		snap.DisksIO = c.diskRates(counters, now)
	}

	if counters, err := c.netIO(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Network counters unavailable")
	} else {
		snap.NetworkStats = c.netRates(counters, now)
	}

	if !c.cfg.SkipUsers {
		if sessions, err := c.users(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("User sessions unavailable")
		} else {
			snap.Users = toSessions(sessions)
		}
	}

	if !c.cfg.SkipHost {
		if info, err := c.hostInfo(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("Host info unavailable")
		} else {
			snap.Host = info
		}
	}

	return snap, nil
}

func summarize(procs []models.ProcessInfo, limit int) *models.ProcessSummary {
	summary := &models.ProcessSummary{All: len(procs)}

	for _, p := range procs {
		switch p.State {
		case stateRunning:
			summary.Running++
		case stateSleeping:
			summary.Sleeping++
		case stateBlocked:
			summary.Blocked++
		default:
			summary.Unknown++
		}
	}

	sorted := append([]models.ProcessInfo(nil), procs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CPUPercent != sorted[j].CPUPercent {
			return sorted[i].CPUPercent > sorted[j].CPUPercent
		}

		return sorted[i].PID < sorted[j].PID
	})

	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	summary.List = sorted

	return summary
}

func (c *Collector) diskRates(counters map[string]disk.IOCountersStat, now time.Time) *models.DisksIO {
	out := &models.DisksIO{}

	for name, stat := range counters {
		if partitionPattern.MatchString(name) || virtualPattern.MatchString(name) {
			continue
		}

		out.ReadIO += stat.ReadCount
		out.WriteIO += stat.WriteCount
		out.ReadBytes += stat.ReadBytes
		out.WriteBytes += stat.WriteBytes
	}

	out.TotalIO = out.ReadIO + out.WriteIO

	if prev := c.prevDisk; prev != nil && now.After(prev.at) {
		elapsed := now.Sub(prev.at)
		out.Milliseconds = elapsed.Milliseconds()

		if out.ReadIO >= prev.reads && out.WriteIO >= prev.write {
			r := perSecond(out.ReadIO-prev.reads, elapsed)
			w := perSecond(out.WriteIO-prev.write, elapsed)
			total := r + w
			out.ReadIOSec, out.WriteIOSec, out.TotalIOSec = &r, &w, &total
		}
	}

	c.prevDisk = &diskSample{at: now, reads: out.ReadIO, write: out.WriteIO}

	return out
}

func (c *Collector) netRates(counters []net.IOCountersStat, now time.Time) []models.NetworkStat {
	out := make([]models.NetworkStat, 0, len(counters))
	seen := make(map[string]netSample, len(counters))

	for _, stat := range counters {
		ns := models.NetworkStat{
			Interface: stat.Name,
			RxBytes:   stat.BytesRecv,
			TxBytes:   stat.BytesSent,
			RxDropped: stat.Dropin,
			TxDropped: stat.Dropout,
			RxErrors:  stat.Errin,
			TxErrors:  stat.Errout,
		}

		if prev, ok := c.prevNet[stat.Name]; ok && now.After(prev.at) {
			elapsed := now.Sub(prev.at)
			ns.Milliseconds = elapsed.Milliseconds()

			if stat.BytesRecv >= prev.rx && stat.BytesSent >= prev.tx {
				rx := perSecond(stat.BytesRecv-prev.rx, elapsed)
				tx := perSecond(stat.BytesSent-prev.tx, elapsed)
				ns.RxSec, ns.TxSec = &rx, &tx
			}
		}

		seen[stat.Name] = netSample{at: now, rx: stat.BytesRecv, tx: stat.BytesSent}
		out = append(out, ns)
	}

	c.prevNet = seen

	sort.Slice(out, func(i, j int) bool { return out[i].Interface < out[j].Interface })

	return out
}

func perSecond(delta uint64, elapsed time.Duration) float64 {
	return float64(delta) / elapsed.Seconds()
}

func toSessions(stats []host.UserStat) []models.UserSession {
	out := make([]models.UserSession, 0, len(stats))

	for _, u := range stats {
		s := models.UserSession{User: u.User, Terminal: u.Terminal, Host: u.Host}
		if u.Started > 0 {
			s.Started = time.Unix(int64(u.Started), 0).UTC().Format(time.RFC3339)
		}

		out = append(out, s)
	}

	return out
}

func readHostInfo(ctx context.Context) (*models.HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := &models.HostInfo{Hostname: info.Hostname, UptimeSeconds: info.Uptime}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.Load1, out.Load5, out.Load15 = avg.Load1, avg.Load5, avg.Load15
	}

	return out, nil
}
