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

// Package app holds the core domain types shared by the cluster client,
// report translator, ingress builder, monitor and reaper: an Application
// is identified by (Tag, Namespace) and gains an AppID and a driver pod
// reference once the driver is discovered in the cluster.
package app

import (
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/livy-project/spark-k8s-monitor/pkg/config"
)

// Application identifies a single Spark submission tracked by the
// monitor. Tag is the only join key available before the driver pod is
// discovered; AppID and DriverPod are populated once resolution succeeds.
type Application struct {
	Tag       string
	Namespace string
	AppID     string
	DriverPod *corev1.Pod
}

// State is the finite lifecycle of a monitored application.
type State string

const (
	StateStarting State = "Starting"
	StateRunning  State = "Running"
	StateFinished State = "Finished"
	StateFailed   State = "Failed"
	StateKilled   State = "Killed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s State) IsTerminal() bool {
	switch s {
	case StateFinished, StateFailed, StateKilled:
		return true
	default:
		return false
	}
}

// PodPhaseToState maps a Kubernetes pod phase (case-insensitive) to the
// application state it implies, per the driver-pod phase contract. Any
// phase that isn't one of the four recognized values — including the
// pseudo-phase "unknown" used when there is no driver pod at all — maps
// to Failed.
func PodPhaseToState(phase string) State {
	switch strings.ToLower(phase) {
	case "pending":
		return StateStarting
	case "running":
		return StateRunning
	case "succeeded":
		return StateFinished
	case "failed":
		return StateFailed
	default:
		return StateFailed
	}
}

// IsDriver reports whether pod carries the driver role label.
func IsDriver(pod *corev1.Pod) bool {
	return pod.Labels[config.SparkRoleLabel] == config.SparkRoleDriver
}

// IsExecutor reports whether pod carries the executor role label.
func IsExecutor(pod *corev1.Pod) bool {
	return pod.Labels[config.SparkRoleLabel] == config.SparkRoleExecutor
}

// AppInfo is the listener-facing summary of URLs known about a running
// application. It is only emitted when it differs from the previously
// emitted value.
type AppInfo struct {
	DriverLogURL     string
	TrackingURL      string
	ExecutorsLogURLs string
	SparkUIURL       string
}

// Equal reports whether a and b carry the same URLs.
func (a AppInfo) Equal(b AppInfo) bool {
	return a.DriverLogURL == b.DriverLogURL &&
		a.TrackingURL == b.TrackingURL &&
		a.ExecutorsLogURLs == b.ExecutorsLogURLs &&
		a.SparkUIURL == b.SparkUIURL
}
