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

// Package report derives an immutable snapshot of a single
// application's cluster state: state, tracking URL, log URLs and
// diagnostics, built from the driver and executor pods backing it.
package report

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"

	"github.com/livy-project/spark-k8s-monitor/internal/app"
	"github.com/livy-project/spark-k8s-monitor/pkg/config"
)

// maxDiagnosticsBytes caps the pretty-printed diagnostics text; beyond
// this the report is truncated and DiagnosticsTruncated is set, so a
// pathological number of executors never produces unbounded output.
const maxDiagnosticsBytes = 64 * 1024

// Report is the immutable snapshot the monitor derives on every poll.
type Report struct {
	DriverPod  *corev1.Pod
	Executors  []corev1.Pod
	LogWindow  []string
	Ingress    *networkingv1.Ingress

	State                app.State
	TrackingURL          string
	DriverLogURL         string
	ExecutorsLogURLs     string
	Diagnostics          string
	DiagnosticsTruncated bool
}

// Config is the subset of pkg/config.Config the report builder reads.
type Config struct {
	GrafanaLokiEnabled    bool
	GrafanaURL            string
	GrafanaTimeRange      string
	GrafanaLokiDatasource string
	IngressProtocol       string
}

// Build derives a Report from the raw cluster objects fetched by the
// cluster client. executors is sorted by pod name before use, matching
// the ordering requirement on ApplicationReport.
func Build(driver *corev1.Pod, executors []corev1.Pod, logWindow []string, ingress *networkingv1.Ingress, tag string, cfg Config) Report {
	sorted := append([]corev1.Pod(nil), executors...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	r := Report{
		DriverPod: driver,
		Executors: sorted,
		LogWindow: logWindow,
		Ingress:   ingress,
	}

	r.State = stateOf(driver)
	r.TrackingURL = trackingURL(driver, ingress, tag, cfg.IngressProtocol)
	r.DriverLogURL = driverLogURL(driver, cfg)
	r.ExecutorsLogURLs = executorsLogURLs(sorted, cfg)
	r.Diagnostics, r.DiagnosticsTruncated = diagnostics(driver, sorted)

	return r
}

// stateOf maps the driver pod's phase to an application state; an
// absent driver pod is the "unknown" phase, which the translator maps
// to Failed.
func stateOf(driver *corev1.Pod) app.State {
	if driver == nil {
		return app.PodPhaseToState("unknown")
	}
	return app.PodPhaseToState(string(driver.Status.Phase))
}

// trackingURL returns "<protocol>://<host>/<tag>" when ingress exists
// and its first rule carries a host, falling back to the driver pod's
// spark-ui-url label when the ingress lookup came back empty (e.g. a
// transient Get failure on an already-provisioned ingress).
func trackingURL(driver *corev1.Pod, ingress *networkingv1.Ingress, tag, protocol string) string {
	if ingress != nil && len(ingress.Spec.Rules) > 0 && ingress.Spec.Rules[0].Host != "" {
		return BuildTrackingURL(ingress.Spec.Rules[0].Host, tag, protocol)
	}
	if driver != nil {
		return driver.Labels[config.SparkUIURLLabel]
	}
	return ""
}

// BuildTrackingURL renders the externally reachable Spark UI URL for
// host/tag/protocol. internal/k8sclient uses the same format when it
// stamps the spark-ui-url label onto the driver pod once the ingress
// exists, so the label and the report's TrackingURL stay bit-exact.
func BuildTrackingURL(host, tag, protocol string) string {
	return fmt.Sprintf("%s://%s/%s", protocol, host, tag)
}

// driverLogURL builds a Grafana explore URL selecting {tag=…, role="driver"}
// for the driver pod, or "" if Grafana/Loki is disabled or the driver
// carries no tag label.
func driverLogURL(driver *corev1.Pod, cfg Config) string {
	if !cfg.GrafanaLokiEnabled || driver == nil {
		return ""
	}
	tag, ok := driver.Labels[config.SparkAppTagLabel]
	if !ok || tag == "" {
		return ""
	}
	return grafanaExploreURL(cfg, map[string]string{
		config.SparkAppTagLabel: tag,
		config.SparkRoleLabel:   config.SparkRoleDriver,
	})
}

// executorsLogURLs builds one Grafana explore URL per executor that
// carries both a tag and an executor-id label, each prefixed with
// "executor-<execId>#" and joined by ";". Executors missing either
// label are skipped; the empty string is returned if none qualify.
func executorsLogURLs(executors []corev1.Pod, cfg Config) string {
	if !cfg.GrafanaLokiEnabled {
		return ""
	}
	var parts []string
	for _, pod := range executors {
		tag, hasTag := pod.Labels[config.SparkAppTagLabel]
		execID, hasExecID := pod.Labels[config.SparkExecutorIDLabel]
		if !hasTag || !hasExecID || tag == "" || execID == "" {
			continue
		}
		u := grafanaExploreURL(cfg, map[string]string{
			config.SparkAppTagLabel: tag,
			config.SparkRoleLabel:   config.SparkRoleExecutor,
		})
		parts = append(parts, fmt.Sprintf("executor-%s#%s", execID, u))
	}
	return strings.Join(parts, ";")
}

// grafanaExploreURL builds "{grafana_url}/explore?left={URL-encoded JSON array}"
// per the monitor's external Grafana/Loki contract: the JSON array is
// ["now-{range}","now","{datasource}",{"expr":"{…labels…}"},{"ui":[true,true,true,"exact"]}],
// with label keys carrying '-' replaced by '_' in the LogQL selector.
func grafanaExploreURL(cfg Config, labels map[string]string) string {
	expr := logQLSelector(labels)
	left := []interface{}{
		"now-" + cfg.GrafanaTimeRange,
		"now",
		cfg.GrafanaLokiDatasource,
		map[string]string{"expr": expr},
		map[string]interface{}{"ui": []interface{}{true, true, true, "exact"}},
	}
	payload, err := json.Marshal(left)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s/explore?left=%s", cfg.GrafanaURL, url.QueryEscape(string(payload)))
}

// logQLSelector renders labels as a LogQL stream selector with keys
// sorted for determinism, replacing '-' with '_' in each key.
func logQLSelector(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strings.ReplaceAll(k, "-", "_"))
		b.WriteString(`="`)
		b.WriteString(labels[k])
		b.WriteString(`"`)
	}
	b.WriteByte('}')
	return b.String()
}

// diagnostics pretty-prints the driver followed by executors sorted by
// pod name, each describing name.namespace, node, hostname, podIp,
// startTime, phase, reason, message, labels, container specs and
// conditions. Output is capped at maxDiagnosticsBytes.
func diagnostics(driver *corev1.Pod, executors []corev1.Pod) (string, bool) {
	var b strings.Builder
	if driver != nil {
		writePodDiagnostics(&b, driver)
	}
	for _, pod := range executors {
		b.WriteByte('\n')
		writePodDiagnostics(&b, &pod)
	}

	out := b.String()
	if len(out) > maxDiagnosticsBytes {
		return out[:maxDiagnosticsBytes], true
	}
	return out, false
}

func writePodDiagnostics(b *strings.Builder, pod *corev1.Pod) {
	fmt.Fprintf(b, "%s.%s\n", pod.Name, pod.Namespace)
	fmt.Fprintf(b, "  node: %s\n", pod.Spec.NodeName)
	fmt.Fprintf(b, "  hostname: %s\n", pod.Spec.Hostname)
	fmt.Fprintf(b, "  podIp: %s\n", pod.Status.PodIP)
	fmt.Fprintf(b, "  startTime: %s\n", startTimeString(pod))
	fmt.Fprintf(b, "  phase: %s\n", pod.Status.Phase)
	fmt.Fprintf(b, "  reason: %s\n", pod.Status.Reason)
	fmt.Fprintf(b, "  message: %s\n", pod.Status.Message)
	fmt.Fprintf(b, "  labels: %s\n", formatLabels(pod.Labels))
	for _, c := range pod.Spec.Containers {
		fmt.Fprintf(b, "  container %s:\n", c.Name)
		fmt.Fprintf(b, "    image: %s\n", c.Image)
		fmt.Fprintf(b, "    requests: %s\n", formatResourceList(c.Resources.Requests))
		fmt.Fprintf(b, "    limits: %s\n", formatResourceList(c.Resources.Limits))
		fmt.Fprintf(b, "    command: %s\n", strings.Join(c.Command, " "))
		fmt.Fprintf(b, "    args: %s\n", strings.Join(c.Args, " "))
	}
	for _, cond := range pod.Status.Conditions {
		fmt.Fprintf(b, "  condition %s: %s (%s: %s)\n", cond.Type, cond.Status, cond.Reason, cond.Message)
	}
}

func startTimeString(pod *corev1.Pod) string {
	if pod.Status.StartTime == nil {
		return ""
	}
	return pod.Status.StartTime.Format("2006-01-02T15:04:05Z07:00")
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+labels[k])
	}
	return strings.Join(pairs, ",")
}

func formatResourceList(rl corev1.ResourceList) string {
	if len(rl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(rl))
	for k := range rl {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		q := rl[corev1.ResourceName(k)]
		pairs = append(pairs, k+"="+q.String())
	}
	return strings.Join(pairs, ",")
}

// LogLines assembles the full log output contract: driver stdout,
// child-process stdout/stderr, and Kubernetes diagnostics, each on its
// own labelled section.
func LogLines(driverLog []string, childStdout, childStderr []string, diagnostics string) []string {
	var out []string
	for i, line := range driverLog {
		if i == 0 {
			out = append(out, "stdout:"+line)
		} else {
			out = append(out, line)
		}
	}
	var childLines []string
	childLines = append(childLines, childStdout...)
	childLines = append(childLines, childStderr...)
	for i, line := range childLines {
		if i == 0 {
			out = append(out, "\nstderr:"+line)
		} else {
			out = append(out, line)
		}
	}
	for i, line := range strings.Split(diagnostics, "\n") {
		if i == 0 {
			out = append(out, "\nKubernetes Diagnostics:"+line)
		} else {
			out = append(out, line)
		}
	}
	return out
}

// BuildAppInfo derives the listener-facing AppInfo from a report,
// leaving SparkUIURL for the caller to set once known (it is derived
// from configuration the report builder does not see).
func BuildAppInfo(r Report) app.AppInfo {
	return app.AppInfo{
		DriverLogURL:     r.DriverLogURL,
		TrackingURL:      r.TrackingURL,
		ExecutorsLogURLs: r.ExecutorsLogURLs,
	}
}
