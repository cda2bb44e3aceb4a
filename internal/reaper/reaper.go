/*
Copyright 2017 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package reaper implements the process-wide background worker that
// reconciles tags monitors have recorded as leaked against the live
// pod inventory on a fixed interval, killing every live driver pod that
// carries a leaked tag and expiring tags with no live pod once they are
// older than the timeout.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/livy-project/spark-k8s-monitor/internal/app"
	"github.com/livy-project/spark-k8s-monitor/internal/k8sclient"
	"github.com/livy-project/spark-k8s-monitor/internal/metrics"
	"github.com/livy-project/spark-k8s-monitor/internal/retry"
)

// Reaper is the single, process-wide leak garbage collector.
type Reaper struct {
	client   k8sclient.Client
	table    *LeakTable
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
	interval time.Duration
	timeout  time.Duration

	namespaces []string

	now func() time.Time
}

// Options configures a Reaper. Now defaults to time.Now when nil.
type Options struct {
	Interval   time.Duration
	Timeout    time.Duration
	Namespaces []string
	Now        func() time.Time
}

// New constructs a Reaper over table, using client to list and kill
// live pods.
func New(client k8sclient.Client, table *LeakTable, m *metrics.Metrics, log *zap.SugaredLogger, opts Options) *Reaper {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Reaper{
		client:     client,
		table:      table,
		metrics:    m,
		log:        log,
		interval:   opts.Interval,
		timeout:    opts.Timeout,
		namespaces: opts.Namespaces,
		now:        now,
	}
}

// Run loops forever at r.interval until ctx is cancelled. It is
// single-threaded and never exits for a recoverable condition:
// transient cluster errors are logged and the loop continues.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes exactly one reconciliation pass. It never returns
// an error: every failure path is logged and absorbed so the reaper's
// own loop is immune to a single bad cycle.
func (r *Reaper) runCycle(ctx context.Context) {
	now := r.now()

	leaked := r.table.Snapshot()
	if r.metrics != nil {
		defer r.metrics.SetLeakedTagCount(r.table.Len())
	}
	if len(leaked) == 0 {
		r.recordCycleCompleted(now)
		return
	}

	groups, err := r.groupLiveDriversByTag(ctx)
	if err != nil {
		r.log.Warnw("reaper cycle failed to list live driver pods, will retry next cycle", "error", err)
		return
	}

	for tag, recordedAt := range leaked {
		group, found := groups[tag]
		if !found {
			r.log.Warnw("leaked tag has no matching live pod", "tag", tag)
			if now.Sub(recordedAt) > r.timeout {
				r.table.Remove(tag)
				if r.metrics != nil {
					r.metrics.ReaperExpired()
				}
				r.log.Infow("leaked tag expired without a driver ever appearing", "tag", tag)
			}
			continue
		}

		r.killGroup(ctx, tag, group)
	}

	r.recordCycleCompleted(now)
}

// killGroup attempts to kill every application carrying tag — the
// reaper's half of the duplicate-tag contract is all-matches, in
// contrast to resolution's first-match. Removal from the table
// requires every match in the group to succeed, since a survivor is
// still a leak.
func (r *Reaper) killGroup(ctx context.Context, tag string, group []app.Application) {
	allKilled := true
	for _, a := range group {
		err := retry.Do(ctx, 3, time.Second, func(ctx context.Context) error {
			ok, err := r.client.KillApplication(ctx, a)
			if err != nil {
				return err
			}
			if !ok {
				return errNotKilled
			}
			return nil
		})
		if err != nil {
			r.log.Warnw("reaper failed to kill leaked application", "tag", tag, "error", err)
			allKilled = false
			continue
		}
	}

	if allKilled {
		r.table.Remove(tag)
		if r.metrics != nil {
			r.metrics.ReaperKilled()
		}
		r.log.Infow("reaper killed leaked application", "tag", tag)
	}
}

func (r *Reaper) groupLiveDriversByTag(ctx context.Context) (map[string][]app.Application, error) {
	var apps []app.Application
	err := retry.Do(ctx, 3, time.Second, func(ctx context.Context) error {
		listed, err := r.client.ListApplications(ctx, r.namespaces)
		if err != nil {
			return err
		}
		apps = listed
		return nil
	})
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]app.Application, len(apps))
	for _, a := range apps {
		groups[a.Tag] = append(groups[a.Tag], a)
	}
	return groups, nil
}

func (r *Reaper) recordCycleCompleted(now time.Time) {
	if r.metrics != nil {
		r.metrics.ReaperCycleCompleted(float64(now.Unix()))
	}
}

type reaperError string

func (e reaperError) Error() string { return string(e) }

const errNotKilled = reaperError("cluster reported kill as unsuccessful")
