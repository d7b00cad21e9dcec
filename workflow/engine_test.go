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

package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphive/hive/errs"
	"github.com/mcphive/hive/session"
	"github.com/mcphive/hive/worker"
)

// stubWorker answers call_tool from a per-tool handler and records the
// arguments each tool received.
type stubWorker struct {
	mu       sync.Mutex
	handlers map[string]func(args map[string]any) (any, int)
	received map[string][]map[string]any
	server   *httptest.Server
}

func newStubWorker(t *testing.T) *stubWorker {
	t.Helper()
	s := &stubWorker{
		handlers: map[string]func(args map[string]any) (any, int){},
		received: map[string][]map[string]any{},
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ToolName  string         `json:"tool_name"`
			Arguments map[string]any `json:"arguments"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		s.mu.Lock()
		s.received[req.ToolName] = append(s.received[req.ToolName], req.Arguments)
		handler := s.handlers[req.ToolName]
		s.mu.Unlock()

		if handler == nil {
			http.Error(w, `{"error":"unknown tool"}`, http.StatusNotFound)
			return
		}
		result, status := handler(req.Arguments)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(result)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *stubWorker) on(tool string, handler func(args map[string]any) (any, int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[tool] = handler
}

func (s *stubWorker) argsFor(tool string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[tool]
}

func testRegistry(t *testing.T, stub *stubWorker, names ...string) *worker.Registry {
	t.Helper()
	registry := worker.NewRegistry()
	for _, name := range names {
		require.NoError(t, registry.Register(worker.Worker{Name: name, Endpoint: stub.server.URL}))
	}
	return registry
}

func mcpNode(id, workerName, tool string, params map[string]any) Node {
	return Node{ID: id, Type: NodeTypeMCPCall, Worker: workerName, Tool: tool, Params: params}
}

func collectEvents(ec *session.ExecutionContext) []session.Event {
	ec.Close()
	var events []session.Event
	for ev := range ec.Events() {
		events = append(events, ev)
	}
	return events
}

func nodeStates(events []session.Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == session.EventNodeState {
			out = append(out, ev.NodeID+":"+ev.Status)
		}
	}
	return out
}

func TestExecuteLinearChain(t *testing.T) {
	stub := newStubWorker(t)
	stub.on("scan", func(map[string]any) (any, int) {
		return map[string]any{"open_ports": []int{22, 80}}, http.StatusOK
	})
	stub.on("analyze", func(args map[string]any) (any, int) {
		return args, http.StatusOK
	})

	engine := NewEngine(testRegistry(t, stub, "scanner"), "")
	wf := &Workflow{
		Name: "recon",
		Nodes: []Node{
			mcpNode("scan", "scanner", "scan", map[string]any{"target": "example.com"}),
			mcpNode("analyze", "scanner", "analyze", map[string]any{"ports": "${scan.open_ports}"}),
		},
		Edges: []Edge{{Source: "scan", Target: "analyze"}},
	}

	ec := session.NewExecutionContext("s1")
	result, err := engine.Execute(context.Background(), wf, nil, ec)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Contains(t, result.Results, "scan")
	assert.Contains(t, result.Results, "analyze")

	events := collectEvents(ec)
	assert.Equal(t, []string{
		"scan:running", "scan:completed",
		"analyze:running", "analyze:completed",
	}, nodeStates(events))

	// The downstream node received the typed resolved value.
	received := stub.argsFor("analyze")
	require.Len(t, received, 1)
	assert.Equal(t, []any{float64(22), float64(80)}, received[0]["ports"])
}

func TestExecuteEmbeddedReference(t *testing.T) {
	stub := newStubWorker(t)
	stub.on("scan", func(map[string]any) (any, int) {
		return map[string]any{"open_ports": []int{22, 80}}, http.StatusOK
	})
	stub.on("analyze", func(args map[string]any) (any, int) {
		return args, http.StatusOK
	})

	engine := NewEngine(testRegistry(t, stub, "scanner"), "")
	wf := &Workflow{
		Name: "recon",
		Nodes: []Node{
			mcpNode("scan", "scanner", "scan", nil),
			mcpNode("analyze", "scanner", "analyze", map[string]any{"prompt": "Summary: ${scan}"}),
		},
		Edges: []Edge{{Source: "scan", Target: "analyze"}},
	}

	ec := session.NewExecutionContext("s1")
	_, err := engine.Execute(context.Background(), wf, nil, ec)
	require.NoError(t, err)

	received := stub.argsFor("analyze")
	require.Len(t, received, 1)
	assert.Equal(t, "Summary: {\n  \"open_ports\": [\n    22,\n    80\n  ]\n}", received[0]["prompt"])
}

func TestExecuteHaltsOnFailure(t *testing.T) {
	stub := newStubWorker(t)
	stub.on("a", func(map[string]any) (any, int) { return map[string]any{"ok": true}, http.StatusOK })
	stub.on("b", func(map[string]any) (any, int) {
		return map[string]any{"error": "boom"}, http.StatusInternalServerError
	})
	stub.on("c", func(map[string]any) (any, int) { return map[string]any{"ok": true}, http.StatusOK })

	engine := NewEngine(testRegistry(t, stub, "w"), "")
	wf := &Workflow{
		Name: "chain",
		Nodes: []Node{
			mcpNode("A", "w", "a", nil),
			mcpNode("B", "w", "b", nil),
			mcpNode("C", "w", "c", nil),
		},
		Edges: []Edge{{Source: "A", Target: "B"}, {Source: "B", Target: "C"}},
	}

	ec := session.NewExecutionContext("s1")
	result, err := engine.Execute(context.Background(), wf, nil, ec)
	require.NoError(t, err, "node failure is a failed result, not an engine error")

	assert.Equal(t, StatusFailed, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "boom")

	events := collectEvents(ec)
	assert.Equal(t, []string{
		"A:running", "A:completed",
		"B:running", "B:failed",
		"C:skipped",
	}, nodeStates(events))

	assert.Empty(t, stub.argsFor("c"), "skipped nodes never call their worker")
}

func TestExecuteStripsInstallRootFromNodeErrors(t *testing.T) {
	stub := newStubWorker(t)
	stub.on("t", func(map[string]any) (any, int) {
		return map[string]any{"error": "cannot read /srv/hive/data/packages/scanner/run.log"}, http.StatusInternalServerError
	})

	engine := NewEngine(testRegistry(t, stub, "w"), "/srv/hive/data")
	wf := &Workflow{Name: "p", Nodes: []Node{mcpNode("a", "w", "t", nil)}}

	ec := session.NewExecutionContext("s1")
	result, err := engine.Execute(context.Background(), wf, nil, ec)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)

	require.Len(t, result.Errors, 1)
	assert.NotContains(t, result.Errors[0], "/srv/hive/data")
	assert.Contains(t, result.Errors[0], "packages/scanner/run.log")

	for _, ev := range collectEvents(ec) {
		if ev.Type == session.EventNodeState && ev.Status == string(NodeFailed) {
			assert.NotContains(t, ev.Error, "/srv/hive/data")
		}
	}
}

func TestExecuteStartingParams(t *testing.T) {
	stub := newStubWorker(t)
	stub.on("echo", func(args map[string]any) (any, int) { return args, http.StatusOK })

	engine := NewEngine(testRegistry(t, stub, "w"), "")
	wf := &Workflow{
		Name:  "params",
		Nodes: []Node{mcpNode("n", "w", "echo", map[string]any{"target": "${input.host}"})},
	}

	ec := session.NewExecutionContext("s1")
	_, err := engine.Execute(context.Background(), wf, map[string]any{"host": "example.com"}, ec)
	require.NoError(t, err)

	received := stub.argsFor("echo")
	require.Len(t, received, 1)
	assert.Equal(t, "example.com", received[0]["target"])
}

func TestExecuteTopologicalOrder(t *testing.T) {
	stub := newStubWorker(t)
	var mu sync.Mutex
	var order []string
	record := func(id string) func(map[string]any) (any, int) {
		return func(map[string]any) (any, int) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return map[string]any{}, http.StatusOK
		}
	}
	stub.on("t1", record("left"))
	stub.on("t2", record("right"))
	stub.on("t3", record("join"))

	engine := NewEngine(testRegistry(t, stub, "w"), "")
	// join depends on both; left precedes right by insertion order.
	wf := &Workflow{
		Name: "diamond",
		Nodes: []Node{
			mcpNode("left", "w", "t1", nil),
			mcpNode("right", "w", "t2", nil),
			mcpNode("join", "w", "t3", nil),
		},
		Edges: []Edge{
			{Source: "left", Target: "join"},
			{Source: "right", Target: "join"},
		},
	}

	ec := session.NewExecutionContext("s1")
	_, err := engine.Execute(context.Background(), wf, nil, ec)
	require.NoError(t, err)
	assert.Equal(t, []string{"left", "right", "join"}, order)
}

func TestExecuteValidation(t *testing.T) {
	stub := newStubWorker(t)
	engine := NewEngine(testRegistry(t, stub, "w"), "")

	tests := []struct {
		name string
		wf   *Workflow
	}{
		{"empty workflow", &Workflow{Name: "e"}},
		{"duplicate id", &Workflow{Name: "d", Nodes: []Node{
			mcpNode("n", "w", "t", nil), mcpNode("n", "w", "t", nil),
		}}},
		{"unknown worker", &Workflow{Name: "u", Nodes: []Node{
			mcpNode("n", "ghost", "t", nil),
		}}},
		{"unsupported node type", &Workflow{Name: "t", Nodes: []Node{
			{ID: "n", Type: "loop", Worker: "w", Tool: "t"},
		}}},
		{"self edge", &Workflow{Name: "s",
			Nodes: []Node{mcpNode("n", "w", "t", nil)},
			Edges: []Edge{{Source: "n", Target: "n"}},
		}},
		{"dangling edge", &Workflow{Name: "g",
			Nodes: []Node{mcpNode("n", "w", "t", nil)},
			Edges: []Edge{{Source: "n", Target: "ghost"}},
		}},
		{"cycle", &Workflow{Name: "c",
			Nodes: []Node{mcpNode("a", "w", "t", nil), mcpNode("b", "w", "t", nil)},
			Edges: []Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := session.NewExecutionContext("s1")
			_, err := engine.Execute(context.Background(), tt.wf, nil, ec)
			require.Error(t, err)
			assert.Equal(t, errs.KindInvalidWorkflow, errs.KindOf(err))

			assert.Empty(t, nodeStates(collectEvents(ec)), "no node runs after failed validation")
		})
	}
}

func TestExecuteCancelledBeforeNode(t *testing.T) {
	stub := newStubWorker(t)
	stub.on("t", func(map[string]any) (any, int) { return map[string]any{}, http.StatusOK })

	engine := NewEngine(testRegistry(t, stub, "w"), "")
	wf := &Workflow{
		Name:  "c",
		Nodes: []Node{mcpNode("a", "w", "t", nil), mcpNode("b", "w", "t", nil)},
		Edges: []Edge{{Source: "a", Target: "b"}},
	}

	ec := session.NewExecutionContext("s1")
	ec.Cancel()

	_, err := engine.Execute(context.Background(), wf, nil, ec)
	require.Error(t, err)
	assert.Equal(t, errs.KindCancelled, errs.KindOf(err))

	events := collectEvents(ec)
	assert.Equal(t, []string{"a:skipped", "b:skipped"}, nodeStates(events))
	assert.Empty(t, stub.argsFor("t"))
}

func TestExecuteCancelDuringWorkerCall(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"done":true}`))
	}))
	defer slow.Close()
	defer close(release)

	registry := worker.NewRegistry()
	require.NoError(t, registry.Register(worker.Worker{Name: "slow", Endpoint: slow.URL}))

	engine := NewEngine(registry, "")
	wf := &Workflow{
		Name:  "slow",
		Nodes: []Node{mcpNode("a", "slow", "wait", nil), mcpNode("b", "slow", "wait", nil)},
		Edges: []Edge{{Source: "a", Target: "b"}},
	}

	ec := session.NewExecutionContext("s1")
	go func() {
		time.Sleep(300 * time.Millisecond)
		ec.Cancel()
	}()

	start := time.Now()
	_, err := engine.Execute(context.Background(), wf, nil, ec)
	require.Error(t, err)
	assert.Equal(t, errs.KindCancelled, errs.KindOf(err))
	assert.Less(t, time.Since(start), 3*time.Second,
		"cancel is observed at the poll interval, not the call timeout")

	events := collectEvents(ec)
	states := nodeStates(events)
	assert.Contains(t, states, "a:running")
	assert.Contains(t, states, "a:failed")
	assert.Contains(t, states, "b:skipped")
}
