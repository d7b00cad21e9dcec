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

package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mcphive/hive/llms"
	"github.com/mcphive/hive/session"
	"github.com/mcphive/hive/workflow"
)

// Streaming run types accepted in a StartRequest.
const (
	RunWorkflow = "execute_workflow"
	RunAgent    = "run_agent"
	RunTeam     = "run_team"
)

// StartRequest is the first client message on a freshly opened stream. It
// selects the run and carries its inputs; subsequent client messages are
// control messages handled by the broker.
type StartRequest struct {
	Type string `json:"type"`

	// execute_workflow
	Workflow   *workflow.Workflow `json:"workflow,omitempty"`
	WorkflowID string             `json:"workflow_id,omitempty"`
	Params     map[string]any     `json:"params,omitempty"`

	// run_agent / run_team
	AgentID string         `json:"agent_id,omitempty"`
	TeamID  string         `json:"team_id,omitempty"`
	Message string         `json:"message,omitempty"`
	History []llms.Message `json:"history,omitempty"`
}

var upgrader = websocket.Upgrader{
	// The orchestrator fronts a local UI; auth is out of scope here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream upgrades the connection and serves one run over it. The
// session id comes from the client; event ordering is guaranteed within it.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "session", sessionID, "error", err)
		return
	}

	var start StartRequest
	if err := conn.ReadJSON(&start); err != nil {
		_ = conn.WriteJSON(session.NewError("invalid start request", ""))
		_ = conn.Close()
		return
	}

	run, err := s.buildRun(start)
	if err != nil {
		_ = conn.WriteJSON(session.NewError(err.Error(), ""))
		_ = conn.Close()
		return
	}

	s.metrics.activeSessions.Inc()
	defer s.metrics.activeSessions.Dec()

	broker := session.NewBroker(sessionID, s.cfg.DataDir)
	if err := broker.Serve(conn, run); err != nil {
		s.logger.Debug("Stream ended with write error", "session", sessionID, "error", err)
	}
}

// buildRun translates a start request into a RunFunc for the broker. The run
// gets a background context: cancellation travels through the execution
// context's flag, and outstanding worker calls are allowed to finish.
func (s *Server) buildRun(start StartRequest) (session.RunFunc, error) {
	switch start.Type {
	case RunWorkflow:
		wf := start.Workflow
		if wf == nil {
			if start.WorkflowID == "" {
				return nil, fmt.Errorf("execute_workflow needs a workflow or a workflow_id")
			}
			saved, ok := s.deps.Workflows.Get(start.WorkflowID)
			if !ok {
				return nil, fmt.Errorf("workflow '%s' not found", start.WorkflowID)
			}
			wf = &saved
		}
		return func(ec *session.ExecutionContext) (any, error) {
			result, err := s.deps.Engine.Execute(context.Background(), wf, start.Params, ec)
			s.metrics.recordExecution("workflow", err)
			return result, err
		}, nil

	case RunAgent:
		if start.AgentID == "" || start.Message == "" {
			return nil, fmt.Errorf("run_agent needs agent_id and message")
		}
		def, ok := s.deps.Agents.Get(start.AgentID)
		if !ok {
			return nil, fmt.Errorf("agent '%s' not found", start.AgentID)
		}
		runtime, err := s.agentRuntime(def)
		if err != nil {
			return nil, err
		}
		return func(ec *session.ExecutionContext) (any, error) {
			text, err := runtime.Run(context.Background(), start.Message, start.History, ec)
			s.metrics.recordExecution("agent", err)
			return text, err
		}, nil

	case RunTeam:
		if start.TeamID == "" || start.Message == "" {
			return nil, fmt.Errorf("run_team needs team_id and message")
		}
		runtime, _, err := s.buildTeam(start.TeamID)
		if err != nil {
			return nil, err
		}
		return func(ec *session.ExecutionContext) (any, error) {
			text, err := runtime.Run(context.Background(), start.Message, start.History, ec)
			s.metrics.recordExecution("team", err)
			return text, err
		}, nil

	default:
		return nil, fmt.Errorf("unknown run type '%s'", start.Type)
	}
}
