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

package monitor

import "github.com/livy-project/spark-k8s-monitor/internal/app"

// Listener receives callbacks from a Monitor's own goroutine. Callbacks
// are invoked synchronously and must not block: re-entrancy into the
// monitor is not supported, and a blocking listener stalls the poll
// loop it was called from.
type Listener interface {
	// AppIDKnown is called at most once, as soon as the driver pod is
	// resolved and its Spark application id is known.
	AppIDKnown(appID string)
	// StateChanged is called on every observed (old, new) transition.
	// A monitor never calls this after reaching a terminal state.
	StateChanged(old, new app.State)
	// InfoChanged is called whenever the derived AppInfo differs from
	// the last value emitted.
	InfoChanged(info app.AppInfo)
}

// ChildProcess is the handle to the external process that submitted
// this application, owned and destroyed exactly once by the monitor.
type ChildProcess interface {
	// Destroy terminates the child process. Must be safe to call
	// multiple times; the monitor itself only calls it once.
	Destroy()
	// InputLines streams the child process's captured stdout.
	InputLines() []string
	// ErrorLines streams the child process's captured stderr.
	ErrorLines() []string
}
