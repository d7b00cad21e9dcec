// Copyright 2026 The Hive Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ExecutionContext is the shared state of one workflow/agent/team run. The
// broker creates it, engines borrow it for the duration of the run. The
// cancellation flag is a shared atomic; engines observe it at suspension
// points. Completed node results accumulate here for parameter resolution.
type ExecutionContext struct {
	SessionID   string
	ExecutionID string
	StartTime   time.Time

	cancelled *atomic.Bool

	mu      sync.RWMutex
	results map[string]json.RawMessage

	events chan Event
}

// NewExecutionContext creates a context with a fresh execution id.
func NewExecutionContext(sessionID string) *ExecutionContext {
	return &ExecutionContext{
		SessionID:   sessionID,
		ExecutionID: uuid.NewString(),
		StartTime:   time.Now(),
		cancelled:   &atomic.Bool{},
		results:     make(map[string]json.RawMessage),
		events:      make(chan Event, 100),
	}
}

// Child creates a context that shares this context's cancellation flag but
// carries its own event stream. Team runs give each member agent a child so
// member events can be annotated before forwarding to the parent stream.
func (ec *ExecutionContext) Child() *ExecutionContext {
	return &ExecutionContext{
		SessionID:   ec.SessionID,
		ExecutionID: ec.ExecutionID,
		StartTime:   ec.StartTime,
		cancelled:   ec.cancelled,
		results:     make(map[string]json.RawMessage),
		events:      make(chan Event, 100),
	}
}

// Emit queues an event for delivery to the client. Events are delivered in
// emission order within the session.
func (ec *ExecutionContext) Emit(ev Event) {
	ec.events <- ev
}

// Events is the ordered event stream consumed by the broker.
func (ec *ExecutionContext) Events() <-chan Event {
	return ec.events
}

// Close signals that no further events will be emitted.
func (ec *ExecutionContext) Close() {
	close(ec.events)
}

// Cancel sets the cancellation flag. In-progress engines observe it at their
// next suspension point.
func (ec *ExecutionContext) Cancel() {
	ec.cancelled.Store(true)
}

// Cancelled reports whether a cancel request has been received.
func (ec *ExecutionContext) Cancelled() bool {
	return ec.cancelled.Load()
}

// SetResult records a completed node's result.
func (ec *ExecutionContext) SetResult(nodeID string, result json.RawMessage) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.results[nodeID] = result
}

// Result returns a completed node's result.
func (ec *ExecutionContext) Result(nodeID string) (json.RawMessage, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	r, ok := ec.results[nodeID]
	return r, ok
}

// Results returns a copy of all completed node results.
func (ec *ExecutionContext) Results() map[string]json.RawMessage {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(ec.results))
	for k, v := range ec.results {
		out[k] = v
	}
	return out
}
