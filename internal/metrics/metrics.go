/*
Copyright 2018 Google LLC

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

// Package metrics exposes the Prometheus counters and gauges the
// monitor and reaper export: a counter per state transition plus a
// running gauge for active monitors and leaked tags.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge this module registers. A Metrics
// built by NewMetrics is safe to call methods on; the zero value is not.
type Metrics struct {
	stateTransitions  *prometheus.CounterVec
	activeMonitors    prometheus.Gauge
	reaperCycles      prometheus.Counter
	reaperKills       prometheus.Counter
	reaperExpirations prometheus.Counter
	reaperLastCycle   prometheus.Gauge
	leakedTagsGauge   prometheus.Gauge
}

// NewMetrics constructs a fresh, unregistered Metrics bundle.
func NewMetrics() *Metrics {
	return &Metrics{
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spark_monitor_state_transitions_total",
			Help: "Number of application state transitions observed, by resulting state.",
		}, []string{"state"}),
		activeMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spark_monitor_active_monitors",
			Help: "Number of per-application monitor goroutines currently running.",
		}),
		reaperCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spark_monitor_reaper_cycles_total",
			Help: "Number of leak-reaper cycles completed.",
		}),
		reaperKills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spark_monitor_reaper_kills_total",
			Help: "Number of leaked applications successfully killed by the reaper.",
		}),
		reaperExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spark_monitor_reaper_expirations_total",
			Help: "Number of leaked tags expired by the reaper without a live pod ever appearing.",
		}),
		// reaperLastCycle answers the open question of how to surface
		// reaper health: a liveness probe can alert on this gauge going
		// stale instead of relying on the reaper's own silent retry loop.
		reaperLastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reaper_last_cycle_timestamp_seconds",
			Help: "Unix timestamp of the last completed leak-reaper cycle.",
		}),
		leakedTagsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spark_monitor_leaked_tags",
			Help: "Number of tags currently recorded in the leaked-tag table.",
		}),
	}
}

// Register registers every collector against reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.stateTransitions,
		m.activeMonitors,
		m.reaperCycles,
		m.reaperKills,
		m.reaperExpirations,
		m.reaperLastCycle,
		m.leakedTagsGauge,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveStateTransition increments the counter for the resulting state.
func (m *Metrics) ObserveStateTransition(state string) {
	m.stateTransitions.WithLabelValues(state).Inc()
}

// MonitorStarted/MonitorStopped track the number of live monitor goroutines.
func (m *Metrics) MonitorStarted() { m.activeMonitors.Inc() }
func (m *Metrics) MonitorStopped() { m.activeMonitors.Dec() }

// ReaperCycleCompleted records a completed cycle at unixSeconds.
func (m *Metrics) ReaperCycleCompleted(unixSeconds float64) {
	m.reaperCycles.Inc()
	m.reaperLastCycle.Set(unixSeconds)
}

// ReaperKilled/ReaperExpired record the two ways a leaked tag leaves the table.
func (m *Metrics) ReaperKilled()  { m.reaperKills.Inc() }
func (m *Metrics) ReaperExpired() { m.reaperExpirations.Inc() }

// SetLeakedTagCount reports the current size of the leaked-tag table.
func (m *Metrics) SetLeakedTagCount(n int) {
	m.leakedTagsGauge.Set(float64(n))
}
