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

// Package retry wraps a single operation with bounded-attempt, fixed
// backoff retry, replacing the retry counter each cluster-facing call
// site would otherwise inline by hand.
package retry

import (
	"context"
	"fmt"
	"time"
)

// DefaultAttempts and DefaultBackoff match the defaults named in the
// retry wrapper contract: 3 attempts, 1 second fixed backoff.
const (
	DefaultAttempts = 3
	DefaultBackoff  = 1 * time.Second
)

// Op is the operation retried by Do.
type Op func(ctx context.Context) error

// Do invokes op; on error it sleeps backoff and retries, up to attempts
// total invocations. Backoff is fixed, never exponential. If ctx is
// cancelled while sleeping between attempts, Do returns ctx.Err()
// immediately instead of swallowing the cancellation.
func Do(ctx context.Context, attempts int, backoff time.Duration, op Op) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}
