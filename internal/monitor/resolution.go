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

import (
	"context"
	"sync"
	"time"

	"github.com/livy-project/spark-k8s-monitor/internal/app"
)

// resolution is a one-shot future for the Application a monitor
// resolves during its Starting phase. It is produced exactly once by
// Start and awaited by Kill(), the Go
// substitute for a promise/one-shot cell with set_result/set_error/await
// semantics.
type resolution struct {
	done sync.Once
	ch   chan struct{}

	app app.Application
	err error
}

func newResolution() *resolution {
	return &resolution{ch: make(chan struct{})}
}

// setResult resolves the future successfully. Only the first call
// (result or error) has any effect.
func (r *resolution) setResult(a app.Application) {
	r.done.Do(func() {
		r.app = a
		close(r.ch)
	})
}

// setError resolves the future with a failure. Only the first call
// (result or error) has any effect.
func (r *resolution) setError(err error) {
	r.done.Do(func() {
		r.err = err
		close(r.ch)
	})
}

// await blocks until the future is resolved, ctx is cancelled, or
// timeout elapses, whichever happens first.
func (r *resolution) await(ctx context.Context, timeout time.Duration) (app.Application, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.ch:
		return r.app, r.err
	case <-ctx.Done():
		return app.Application{}, ctx.Err()
	case <-timer.C:
		return app.Application{}, context.DeadlineExceeded
	}
}
