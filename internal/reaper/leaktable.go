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

package reaper

import (
	"sync"
	"time"
)

// LeakTable maps a leaked tag to the wall-clock time it was first
// recorded. Monitors insert, the Reaper iterates and removes;
// Snapshot returns a copy so the reaper's iteration never observes a
// concurrent insert.
type LeakTable struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewLeakTable returns an empty table.
func NewLeakTable() *LeakTable {
	return &LeakTable{entries: make(map[string]time.Time)}
}

// Record inserts tag with recordedAt if it is not already present; a
// tag already recorded keeps its original timestamp.
func (t *LeakTable) Record(tag string, recordedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[tag]; !exists {
		t.entries[tag] = recordedAt
	}
}

// Remove deletes tag, if present.
func (t *LeakTable) Remove(tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, tag)
}

// Snapshot returns a copy of the table's current contents.
func (t *LeakTable) Snapshot() map[string]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]time.Time, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Len reports the number of tags currently recorded.
func (t *LeakTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
