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
	"fmt"
	"log/slog"
	"time"

	"github.com/mcphive/hive/errs"
	"github.com/mcphive/hive/session"
	"github.com/mcphive/hive/worker"
)

// cancelPollInterval is how often an in-flight worker call is checked against
// the session's cancellation flag. The call itself is never aborted; workers
// have no cancellation contract, so their results are simply discarded.
const cancelPollInterval = 100 * time.Millisecond

// InputNodeID is the reserved id under which the starting parameter map is
// exposed to node references (${input.field}).
const InputNodeID = "input"

// Engine executes workflows: it validates the graph, orders nodes
// topologically, and drives them one at a time, emitting per-node lifecycle
// events. One node at a time keeps event ordering trivial to reason about;
// concurrent sessions each get their own run.
type Engine struct {
	workers *worker.Registry
	// installRoot is stripped from node error messages before they reach
	// clients; worker errors may quote paths under it.
	installRoot string
}

// NewEngine creates a workflow engine dispatching to the given registry.
func NewEngine(workers *worker.Registry, installRoot string) *Engine {
	return &Engine{workers: workers, installRoot: installRoot}
}

// Execute runs the workflow to completion. Node failures halt the run (first
// failure wins, the rest are skipped) and yield a failed Result with a nil
// error; only pre-flight validation and cancellation surface as errors.
func (e *Engine) Execute(ctx context.Context, wf *Workflow, params map[string]any, ec *session.ExecutionContext) (*Result, error) {
	if err := e.validate(wf); err != nil {
		return nil, err
	}

	order, err := topoOrder(wf)
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, errs.New(errs.KindInvalidWorkflow, "workflow", "starting parameters are not JSON-encodable", err)
		}
		ec.SetResult(InputNodeID, raw)
	}

	result := &Result{
		WorkflowName: wf.Name,
		Status:       StatusCompleted,
		Results:      make(map[string]json.RawMessage),
	}
	resolver := NewResolver(ec)

	for i, node := range order {
		if ec.Cancelled() {
			e.skipFrom(order[i:], ec)
			return nil, errs.New(errs.KindCancelled, "workflow", "execution cancelled", nil)
		}

		ec.Emit(session.NewNodeState(node.ID, string(NodeRunning), nil, ""))
		result.Logs = append(result.Logs, fmt.Sprintf("node %s: calling %s.%s", node.ID, node.Worker, node.Tool))

		raw, nodeErr := e.executeNode(ctx, node, resolver, ec)
		if nodeErr != nil {
			if errs.IsKind(nodeErr, errs.KindCancelled) {
				ec.Emit(session.NewNodeState(node.ID, string(NodeFailed), nil, "execution_cancelled"))
				e.skipFrom(order[i+1:], ec)
				return nil, nodeErr
			}

			msg := errs.Sanitize(nodeErr.Error(), e.installRoot)
			ec.Emit(session.NewNodeState(node.ID, string(NodeFailed), nil, msg))
			e.skipFrom(order[i+1:], ec)

			result.Status = StatusFailed
			result.Errors = append(result.Errors, msg)
			return result, nil
		}

		ec.SetResult(node.ID, raw)
		result.Results[node.ID] = raw
		ec.Emit(session.NewNodeState(node.ID, string(NodeCompleted), raw, ""))
	}

	return result, nil
}

// executeNode resolves the node's parameters and forwards the tool call.
func (e *Engine) executeNode(ctx context.Context, node Node, resolver *Resolver, ec *session.ExecutionContext) (json.RawMessage, error) {
	resolved, err := resolver.ResolveParams(node.ID, node.Params)
	if err != nil {
		return nil, err
	}

	client, err := e.workers.Client(node.Worker)
	if err != nil {
		return nil, errs.New(errs.KindInvalidWorkflow, "workflow",
			fmt.Sprintf("node '%s' references unknown worker '%s'", node.ID, node.Worker), err)
	}

	type callResult struct {
		raw json.RawMessage
		err error
	}
	done := make(chan callResult, 1)
	go func() {
		raw, callErr := client.CallTool(ctx, node.Tool, resolved)
		done <- callResult{raw, callErr}
	}()

	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case res := <-done:
			return res.raw, res.err
		case <-ticker.C:
			if ec.Cancelled() {
				// The outstanding call completes in the background; its
				// result is discarded.
				slog.Debug("Discarding in-flight worker call after cancel",
					"node", node.ID, "worker", node.Worker, "tool", node.Tool)
				return nil, errs.New(errs.KindCancelled, "workflow", "execution cancelled", nil)
			}
		}
	}
}

func (e *Engine) skipFrom(nodes []Node, ec *session.ExecutionContext) {
	for _, node := range nodes {
		ec.Emit(session.NewNodeState(node.ID, string(NodeSkipped), nil, ""))
	}
}

// validate checks the whole graph before any node starts: ids unique, edge
// endpoints present and distinct, graph acyclic, worker names registered.
func (e *Engine) validate(wf *Workflow) error {
	if len(wf.Nodes) == 0 {
		return errs.New(errs.KindInvalidWorkflow, "workflow", "workflow has no nodes", nil)
	}

	ids := make(map[string]bool, len(wf.Nodes))
	for _, node := range wf.Nodes {
		if node.ID == "" {
			return errs.New(errs.KindInvalidWorkflow, "workflow", "node with empty id", nil)
		}
		if ids[node.ID] {
			return errs.New(errs.KindInvalidWorkflow, "workflow",
				fmt.Sprintf("duplicate node id '%s'", node.ID), nil)
		}
		ids[node.ID] = true

		if node.Type != NodeTypeMCPCall {
			return errs.New(errs.KindInvalidWorkflow, "workflow",
				fmt.Sprintf("node '%s' has unsupported type '%s'", node.ID, node.Type), nil)
		}
		if _, ok := e.workers.Get(node.Worker); !ok {
			return errs.New(errs.KindInvalidWorkflow, "workflow",
				fmt.Sprintf("node '%s' references unknown worker '%s'", node.ID, node.Worker), nil)
		}
	}

	for _, edge := range wf.Edges {
		if edge.Source == edge.Target {
			return errs.New(errs.KindInvalidWorkflow, "workflow",
				fmt.Sprintf("self-edge on node '%s'", edge.Source), nil)
		}
		if !ids[edge.Source] || !ids[edge.Target] {
			return errs.New(errs.KindInvalidWorkflow, "workflow",
				fmt.Sprintf("edge %s->%s references unknown node", edge.Source, edge.Target), nil)
		}
	}

	if _, err := topoOrder(wf); err != nil {
		return err
	}
	return nil
}

// topoOrder computes the execution order: topological, ties broken
// left-to-right by node insertion order.
func topoOrder(wf *Workflow) ([]Node, error) {
	indegree := make(map[string]int, len(wf.Nodes))
	for _, node := range wf.Nodes {
		indegree[node.ID] = 0
	}
	for _, edge := range wf.Edges {
		indegree[edge.Target]++
	}

	executed := make(map[string]bool, len(wf.Nodes))
	order := make([]Node, 0, len(wf.Nodes))

	for len(order) < len(wf.Nodes) {
		progressed := false
		for _, node := range wf.Nodes {
			if executed[node.ID] || indegree[node.ID] != 0 {
				continue
			}
			executed[node.ID] = true
			order = append(order, node)
			for _, edge := range wf.Edges {
				if edge.Source == node.ID {
					indegree[edge.Target]--
				}
			}
			progressed = true
			break
		}
		if !progressed {
			return nil, errs.New(errs.KindInvalidWorkflow, "workflow", "workflow graph contains a cycle", nil)
		}
	}
	return order, nil
}
