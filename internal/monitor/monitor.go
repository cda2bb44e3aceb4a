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

// Package monitor implements the per-application worker: tag
// resolution with a deadline, ingress provisioning, the poll loop,
// state transitions and listener notifications, and termination. One
// goroutine per application resolves its driver pod, polls it, and
// calls a listener directly rather than feeding a shared controller
// queue.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livy-project/spark-k8s-monitor/internal/app"
	"github.com/livy-project/spark-k8s-monitor/internal/k8sclient"
	"github.com/livy-project/spark-k8s-monitor/internal/metrics"
	"github.com/livy-project/spark-k8s-monitor/internal/reaper"
	"github.com/livy-project/spark-k8s-monitor/internal/report"
	"github.com/livy-project/spark-k8s-monitor/internal/retry"
	"github.com/livy-project/spark-k8s-monitor/pkg/config"
)

var errResolutionTimeout = errors.New("driver pod did not appear before the lookup deadline")

// Monitor is a per-application worker. A Monitor is used exactly
// once: construct with New, call Start in its own goroutine, and
// optionally call Kill from another goroutine.
type Monitor struct {
	tag          string
	submissionID uuid.UUID

	client    k8sclient.Client
	leakTable *reaper.LeakTable
	listener  Listener
	child     ChildProcess
	cfg       config.Config
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger

	res *resolution

	mu          sync.Mutex
	cancel      context.CancelFunc
	lastInfo    app.AppInfo
	diagnostics string

	destroyOnce sync.Once
}

// New constructs a Monitor for tag. submissionID is minted by the
// caller (a uuid.New() per submission) purely for structured-logging
// correlation.
func New(tag string, submissionID uuid.UUID, client k8sclient.Client, leakTable *reaper.LeakTable, listener Listener, child ChildProcess, cfg config.Config, m *metrics.Metrics, log *zap.SugaredLogger) *Monitor {
	return &Monitor{
		tag:          tag,
		submissionID: submissionID,
		client:       client,
		leakTable:    leakTable,
		listener:     listener,
		child:        child,
		cfg:          cfg,
		metrics:      m,
		log:          log.With("tag", tag, "submissionId", submissionID.String()),
		res:          newResolution(),
	}
}

// Start runs the monitor to completion: resolution, ingress
// provisioning, poll loop, and termination. It returns once the
// application reaches a terminal state or ctx is cancelled. Callers
// run it in its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.setCancel(cancel)
	defer cancel()

	if m.metrics != nil {
		m.metrics.MonitorStarted()
		defer m.metrics.MonitorStopped()
	}
	defer m.destroyChild()
	defer m.emitFinalInfo()

	state := app.StateStarting

	resolved, err := m.resolvePhase(ctx)
	if err != nil {
		newState := m.handleResolutionFailure(err)
		m.transition(&state, newState)
		return
	}
	m.res.setResult(resolved)
	if resolved.AppID != "" {
		m.listener.AppIDKnown(resolved.AppID)
	}

	if m.cfg.IngressCreate {
		if err := m.provisionIngress(ctx, resolved); err != nil {
			m.log.Errorw("ingress provisioning failed, failing monitor", "error", err)
			m.setDiagnostics(err.Error())
			m.transition(&state, app.StateFailed)
			return
		}
	}

	m.transition(&state, app.StateRunning)
	m.runPollLoop(ctx, resolved, &state)
}

// resolvePhase repeatedly lists driver pods until one carrying m.tag
// is found or app_lookup_timeout elapses. The deadline is an exclusive
// upper bound: resolution exactly at the deadline fails.
func (m *Monitor) resolvePhase(ctx context.Context) (app.Application, error) {
	deadline := time.Now().Add(m.cfg.AppLookupTimeout)

	for {
		if !time.Now().Before(deadline) {
			return app.Application{}, errResolutionTimeout
		}

		found, err := m.lookupDriver(ctx)
		if err != nil {
			m.log.Warnw("transient error while resolving driver pod", "error", err)
		} else if found != nil {
			return *found, nil
		}

		select {
		case <-ctx.Done():
			return app.Application{}, ctx.Err()
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

// lookupDriver lists driver pods and returns the first whose tag
// matches m.tag, or nil if none match yet. Duplicate tags resolve to
// the first match; the reaper kills all matches.
func (m *Monitor) lookupDriver(ctx context.Context) (*app.Application, error) {
	var apps []app.Application
	err := retry.Do(ctx, retry.DefaultAttempts, retry.DefaultBackoff, func(ctx context.Context) error {
		listed, err := m.client.ListApplications(ctx, m.cfg.Namespaces)
		if err != nil {
			return err
		}
		apps = listed
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range apps {
		if apps[i].Tag == m.tag {
			return &apps[i], nil
		}
	}
	return nil, nil
}

// handleResolutionFailure destroys the child process, records the
// resolution outcome, and returns the terminal state the monitor
// transitions to: Killed on cancellation, Failed on timeout (with the
// tag recorded as leaked).
func (m *Monitor) handleResolutionFailure(err error) app.State {
	m.destroyChild()
	m.res.setError(err)

	if errors.Is(err, context.Canceled) {
		m.setDiagnostics("Application stopped by user")
		return app.StateKilled
	}

	m.leakTable.Record(m.tag, time.Now())
	m.setDiagnostics(fmt.Sprintf(
		"driver pod for tag %q did not appear within the lookup timeout: either the submission failed, or the cluster lacks capacity to schedule it",
		m.tag))
	return app.StateFailed
}

// provisionIngress creates the Spark UI Service/Ingress pair exactly
// once, retried up to the standard attempt budget; failure after
// retries is fatal to the monitor.
func (m *Monitor) provisionIngress(ctx context.Context, resolved app.Application) error {
	cfg := k8sclient.IngressConfig{
		Host:          m.cfg.IngressHost,
		Protocol:      m.cfg.IngressProtocol,
		TLSSecretName: m.cfg.IngressTLSSecretName,
		Annotations:   config.ParseKVList(m.cfg.IngressAnnotations),
		ConfSnippet:   m.cfg.IngressConfSnippet,
	}
	return retry.Do(ctx, retry.DefaultAttempts, retry.DefaultBackoff, func(ctx context.Context) error {
		return m.client.CreateSparkUIIngress(ctx, resolved, cfg)
	})
}

// runPollLoop fetches an Application Report on each poll, translates
// it to a state, and notifies the listener of state and info changes
// until a terminal state is reached or ctx is cancelled.
func (m *Monitor) runPollLoop(ctx context.Context, resolved app.Application, state *app.State) {
	for {
		select {
		case <-ctx.Done():
			m.setDiagnostics("Application stopped by user")
			m.transition(state, app.StateKilled)
			return
		default:
		}

		rpt, err := m.fetchReport(ctx, resolved)
		if err != nil {
			m.log.Errorw("failed to fetch application report after retries", "error", err)
			m.setDiagnostics(err.Error())
			m.transition(state, app.StateFailed)
			return
		}

		m.setDiagnostics(rpt.Diagnostics)

		if rpt.State != *state {
			m.transition(state, rpt.State)
			if rpt.State.IsTerminal() {
				return
			}
		}

		info := report.BuildAppInfo(rpt)
		m.maybeEmitInfo(info)

		select {
		case <-ctx.Done():
			m.setDiagnostics("Application stopped by user")
			m.transition(state, app.StateKilled)
			return
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

func (m *Monitor) fetchReport(ctx context.Context, resolved app.Application) (report.Report, error) {
	var rpt report.Report
	err := retry.Do(ctx, retry.DefaultAttempts, retry.DefaultBackoff, func(ctx context.Context) error {
		r, err := m.client.GetReport(ctx, resolved, m.cfg.SparkLogsCacheSize)
		if err != nil {
			return err
		}
		rpt = r
		return nil
	})
	return rpt, err
}

func (m *Monitor) transition(state *app.State, newState app.State) {
	old := *state
	if old == newState {
		return
	}
	*state = newState
	if m.metrics != nil {
		m.metrics.ObserveStateTransition(string(newState))
	}
	m.listener.StateChanged(old, newState)
}

func (m *Monitor) maybeEmitInfo(info app.AppInfo) {
	m.mu.Lock()
	changed := !info.Equal(m.lastInfo)
	if changed {
		m.lastInfo = info
	}
	m.mu.Unlock()

	if changed {
		m.listener.InfoChanged(info)
	}
}

// emitFinalInfo unconditionally emits one last AppInfo whose
// SparkUIURL points at the history server for the (possibly unknown)
// app id, run from Start's guaranteed-cleanup block.
func (m *Monitor) emitFinalInfo() {
	appID := m.resolvedAppID()

	m.mu.Lock()
	final := m.lastInfo
	m.mu.Unlock()

	final.SparkUIURL = historyServerURL(m.cfg.UIHistoryServerURL, appID)
	m.listener.InfoChanged(final)
}

func historyServerURL(base, appID string) string {
	if appID == "" {
		appID = "unknown"
	}
	return strings.TrimRight(base, "/") + "/history/" + appID
}

func (m *Monitor) resolvedAppID() string {
	select {
	case <-m.res.ch:
		return m.res.app.AppID
	default:
		return ""
	}
}

func (m *Monitor) setDiagnostics(d string) {
	m.mu.Lock()
	m.diagnostics = d
	m.mu.Unlock()
}

// Diagnostics returns the most recently recorded diagnostic text.
func (m *Monitor) Diagnostics() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.diagnostics
}

func (m *Monitor) setCancel(cancel context.CancelFunc) {
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
}

func (m *Monitor) cancelWorker() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Monitor) destroyChild() {
	m.destroyOnce.Do(func() {
		if m.child != nil {
			m.child.Destroy()
		}
	})
}

// Kill requests termination of the application. It awaits resolution
// up to app_lookup_timeout; a timeout or cancellation while awaiting
// is swallowed with a warning, and the monitor worker is cancelled
// either way. The child process is destroyed in a guaranteed-cleanup
// block regardless of kill outcome.
func (m *Monitor) Kill(ctx context.Context) {
	defer m.destroyChild()
	defer m.cancelWorker()

	resolved, err := m.res.await(ctx, m.cfg.AppLookupTimeout)
	if err != nil {
		m.log.Warnw("kill requested before the application resolved; cancelling monitor", "error", err)
		return
	}

	err = retry.Do(ctx, retry.DefaultAttempts, retry.DefaultBackoff, func(ctx context.Context) error {
		ok, err := m.client.KillApplication(ctx, resolved)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("cluster reported kill as unsuccessful for tag %q", m.tag)
		}
		return nil
	})
	if err != nil {
		m.log.Warnw("failed to kill application", "error", err)
	}
}
