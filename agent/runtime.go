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

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mcphive/hive/errs"
	"github.com/mcphive/hive/llms"
	"github.com/mcphive/hive/session"
	"github.com/mcphive/hive/worker"
)

// ToolNameSeparator joins worker and tool into the synthetic catalog name
// offered to the model. Double underscore is reserved; worker and tool names
// must not contain it.
const ToolNameSeparator = "__"

// cancelPollInterval is how often an in-flight worker call is checked against
// the session's cancellation flag.
const cancelPollInterval = 100 * time.Millisecond

// summaryMaxLen caps tool-execution summaries shown in the event stream.
const summaryMaxLen = 200

// Runtime drives the tool-use loop for one agent: offer the in-scope tool
// catalog, generate, execute requested tools, feed results back, repeat until
// the model stops or the iteration budget runs out.
type Runtime struct {
	def      Definition
	provider llms.Provider
	workers  *worker.Registry
	// installRoot is stripped from tool errors before they are fed back to
	// the model; the transcript is client-visible.
	installRoot string
	logger      *slog.Logger
}

// NewRuntime creates a runtime for one agent definition.
func NewRuntime(def Definition, provider llms.Provider, workers *worker.Registry, installRoot string) *Runtime {
	return &Runtime{
		def:         def,
		provider:    provider,
		workers:     workers,
		installRoot: installRoot,
		logger:      slog.Default().With("agent", def.ID),
	}
}

// Definition returns the agent's definition.
func (r *Runtime) Definition() Definition {
	return r.def
}

// Run executes the loop for one user message on top of the prior transcript
// and returns the agent's final text. Cancellation observed at a suspension
// point surfaces as an execution_cancelled error after an agent_complete
// event carrying the partial text.
func (r *Runtime) Run(ctx context.Context, userMessage string, history []llms.Message, ec *session.ExecutionContext) (string, error) {
	tools := r.ToolCatalog()
	maxIterations := r.def.EffectiveMaxIterations()

	messages := append(append([]llms.Message{}, history...), llms.Message{
		Role:    llms.RoleUser,
		Content: userMessage,
	})

	var lastText string
	failedLastIteration := map[string]bool{}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if ec.Cancelled() {
			ec.Emit(session.NewAgentComplete(lastText, string(errs.KindCancelled)))
			return lastText, errs.New(errs.KindCancelled, "agent", "execution cancelled", nil)
		}

		response, err := r.provider.Generate(ctx, r.def.SystemPrompt, messages, tools)
		if err != nil {
			return lastText, err
		}
		if response.Text != "" {
			lastText = response.Text
		}

		toolsUsed := make([]session.ToolUse, 0, len(response.ToolCalls))
		for _, call := range response.ToolCalls {
			toolsUsed = append(toolsUsed, session.ToolUse{Name: call.Name, Summary: argsSummary(call.Arguments)})
		}
		ec.Emit(session.NewAgentIteration(iteration, maxIterations, response.StopReason,
			session.TokenUsage{Input: response.Usage.InputTokens, Output: response.Usage.OutputTokens},
			response.Model, toolsUsed))

		if response.StopReason != llms.StopToolUse {
			ec.Emit(session.NewAgentComplete(lastText, ""))
			return lastText, nil
		}

		messages = append(messages, llms.Message{
			Role:      llms.RoleAssistant,
			Content:   response.Text,
			ToolCalls: response.ToolCalls,
		})

		failedThisIteration := map[string]bool{}
		for _, call := range response.ToolCalls {
			if ec.Cancelled() {
				ec.Emit(session.NewAgentComplete(lastText, string(errs.KindCancelled)))
				return lastText, errs.New(errs.KindCancelled, "agent", "execution cancelled", nil)
			}

			content, callErr := r.executeTool(ctx, call, ec)
			if callErr != nil {
				if errs.IsKind(callErr, errs.KindCancelled) {
					ec.Emit(session.NewAgentComplete(lastText, string(errs.KindCancelled)))
					return lastText, callErr
				}
				// Repeated failure of the same tool means the model is not
				// self-correcting; stop feeding it errors.
				if failedLastIteration[call.Name] {
					return lastText, callErr
				}
				failedThisIteration[call.Name] = true
				content = fmt.Sprintf("Tool %s failed: %s", call.Name, errs.Sanitize(callErr.Error(), r.installRoot))
				r.logger.Warn("Tool call failed, feeding error back to model",
					"tool", call.Name, "error", callErr)
			}

			messages = append(messages, llms.Message{
				Role:       llms.RoleTool,
				Content:    content,
				ToolCallID: call.ID,
			})
		}
		failedLastIteration = failedThisIteration
	}

	ec.Emit(session.NewAgentComplete(lastText, string(errs.KindMaxIterations)))
	return lastText, nil
}

// ToolCatalog flattens the cached schemas of every in-scope worker into the
// list offered to the model, one entry per (worker, tool) pair.
func (r *Runtime) ToolCatalog() []llms.ToolDefinition {
	var catalog []llms.ToolDefinition
	for _, name := range r.def.ToolScope {
		w, ok := r.workers.Get(name)
		if !ok {
			r.logger.Warn("Tool scope references unknown worker", "worker", name)
			continue
		}
		for _, tool := range w.Tools {
			var params map[string]any
			if len(tool.InputSchema) > 0 {
				if err := json.Unmarshal(tool.InputSchema, &params); err != nil {
					r.logger.Warn("Skipping tool with invalid input schema",
						"worker", name, "tool", tool.Name, "error", err)
					continue
				}
			}
			catalog = append(catalog, llms.ToolDefinition{
				Name:        name + ToolNameSeparator + tool.Name,
				Description: tool.Description,
				Parameters:  params,
			})
		}
	}
	return catalog
}

// executeTool parses the synthetic name back into (worker, tool), forwards
// the call, and emits the tool_execution event. An in-flight call outlives
// cancellation; its result is discarded.
func (r *Runtime) executeTool(ctx context.Context, call llms.ToolCall, ec *session.ExecutionContext) (string, error) {
	workerName, toolName, ok := strings.Cut(call.Name, ToolNameSeparator)
	if !ok || workerName == "" || toolName == "" {
		return "", errs.New(errs.KindToolError, "agent",
			fmt.Sprintf("malformed tool name '%s'", call.Name), nil)
	}

	client, err := r.workers.Client(workerName)
	if err != nil {
		return "", errs.New(errs.KindToolError, "agent",
			fmt.Sprintf("tool '%s' references unknown worker '%s'", call.Name, workerName), err)
	}

	type callResult struct {
		raw json.RawMessage
		err error
	}
	done := make(chan callResult, 1)
	go func() {
		raw, callErr := client.CallTool(ctx, toolName, call.Arguments)
		done <- callResult{raw, callErr}
	}()

	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case res := <-done:
			if res.err != nil {
				return "", res.err
			}
			content := string(res.raw)
			ec.Emit(session.NewToolExecution(workerName, toolName, truncate(content, summaryMaxLen)))
			return content, nil
		case <-ticker.C:
			if ec.Cancelled() {
				r.logger.Debug("Discarding in-flight tool call after cancel",
					"worker", workerName, "tool", toolName)
				return "", errs.New(errs.KindCancelled, "agent", "execution cancelled", nil)
			}
		}
	}
}

func argsSummary(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return truncate(string(encoded), summaryMaxLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
