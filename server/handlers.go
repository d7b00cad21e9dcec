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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mcphive/hive/config"
	"github.com/mcphive/hive/errs"
	"github.com/mcphive/hive/installer"
	"github.com/mcphive/hive/llms"
	"github.com/mcphive/hive/session"
	"github.com/mcphive/hive/workflow"
)

// chatHistoryWindow is how many trailing history turns /chat forwards to the
// model. Older turns are dropped silently.
const chatHistoryWindow = 10

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// --- Workers ---

type workerSummary struct {
	Name        string `json:"name"`
	Endpoint    string `json:"endpoint"`
	Description string `json:"description,omitempty"`
	ToolCount   int    `json:"tool_count"`
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := s.deps.Workers.List()
	out := make([]workerSummary, 0, len(workers))
	for _, wk := range workers {
		out = append(out, workerSummary{
			Name:        wk.Name,
			Endpoint:    wk.Endpoint,
			Description: wk.Description,
			ToolCount:   len(wk.Tools),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"servers": out})
}

// handleWorkerTools serves the cached tool schemas; it never round-trips to
// the worker.
func (s *Server) handleWorkerTools(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	wk, ok := s.deps.Workers.Get(name)
	if !ok {
		respondErrorMessage(w, http.StatusNotFound, fmt.Sprintf("worker '%s' not found", name))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tools": wk.Tools})
}

// --- Workflows ---

type executeWorkflowRequest struct {
	Workflow   *workflow.Workflow `json:"workflow,omitempty"`
	WorkflowID string             `json:"workflow_id,omitempty"`
	Params     map[string]any     `json:"params,omitempty"`
}

func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	var req executeWorkflowRequest
	if err := decodeBody(r, &req); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	wf := req.Workflow
	if wf == nil {
		if req.WorkflowID == "" {
			respondErrorMessage(w, http.StatusBadRequest, "request must carry a workflow or a workflow_id")
			return
		}
		saved, ok := s.deps.Workflows.Get(req.WorkflowID)
		if !ok {
			respondErrorMessage(w, http.StatusNotFound, fmt.Sprintf("workflow '%s' not found", req.WorkflowID))
			return
		}
		wf = &saved
	}

	result, err := s.runSync(func(ec *session.ExecutionContext) (any, error) {
		return s.deps.Engine.Execute(r.Context(), wf, req.Params, ec)
	})
	s.metrics.recordExecution("workflow", err)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"workflows": s.deps.Workflows.List()})
}

func (s *Server) handleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf workflow.Workflow
	if err := decodeBody(r, &wf); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if wf.Name == "" {
		respondErrorMessage(w, http.StatusBadRequest, "workflow must have a name")
		return
	}
	if err := s.deps.Workflows.Save(wf.Name, wf); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"name": wf.Name})
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.deps.Workflows.Delete(name); err != nil {
		respondErrorMessage(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"name": name})
}

// --- Agents / teams / chat ---

type runAgentRequest struct {
	AgentID string         `json:"agent_id"`
	Message string         `json:"message"`
	History []llms.Message `json:"history,omitempty"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"agents": s.deps.Agents.List()})
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	var req runAgentRequest
	if err := decodeBody(r, &req); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentID == "" || req.Message == "" {
		respondErrorMessage(w, http.StatusBadRequest, "agent_id and message are required")
		return
	}

	def, ok := s.deps.Agents.Get(req.AgentID)
	if !ok {
		respondErrorMessage(w, http.StatusNotFound, fmt.Sprintf("agent '%s' not found", req.AgentID))
		return
	}
	runtime, err := s.agentRuntime(def)
	if err != nil {
		respondErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	text, err := s.runSyncText(func(ec *session.ExecutionContext) (string, error) {
		return runtime.Run(r.Context(), req.Message, req.History, ec)
	})
	s.metrics.recordExecution("agent", err)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"agent_id": req.AgentID, "text": text})
}

type runTeamRequest struct {
	TeamID  string         `json:"team_id"`
	Message string         `json:"message"`
	History []llms.Message `json:"history,omitempty"`
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"teams": s.deps.Teams.List()})
}

func (s *Server) handleRunTeam(w http.ResponseWriter, r *http.Request) {
	var req runTeamRequest
	if err := decodeBody(r, &req); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TeamID == "" || req.Message == "" {
		respondErrorMessage(w, http.StatusBadRequest, "team_id and message are required")
		return
	}

	runtime, status, err := s.buildTeam(req.TeamID)
	if err != nil {
		respondErrorMessage(w, status, err.Error())
		return
	}

	text, err := s.runSyncText(func(ec *session.ExecutionContext) (string, error) {
		return runtime.Run(r.Context(), req.Message, req.History, ec)
	})
	s.metrics.recordExecution("team", err)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"team_id": req.TeamID, "text": text})
}

type chatRequest struct {
	TeamID  string        `json:"team_id"`
	Message string        `json:"message"`
	History []chatMessage `json:"history,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TeamID == "" || req.Message == "" {
		respondErrorMessage(w, http.StatusBadRequest, "team_id and message are required")
		return
	}

	runtime, status, err := s.buildTeam(req.TeamID)
	if err != nil {
		respondErrorMessage(w, status, err.Error())
		return
	}

	history := req.History
	if len(history) > chatHistoryWindow {
		history = history[len(history)-chatHistoryWindow:]
	}
	messages := make([]llms.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, llms.Message{Role: m.Role, Content: m.Content})
	}

	text, err := s.runSyncText(func(ec *session.ExecutionContext) (string, error) {
		return runtime.Run(r.Context(), req.Message, messages, ec)
	})
	s.metrics.recordExecution("team", err)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"team_id": req.TeamID, "reply": text})
}

// --- Registry ---

type installRequest struct {
	Version    string            `json:"version,omitempty"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	TeamID     string            `json:"team_id,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	name := chi.URLParam(r, "package_id")

	var req installRequest
	if err := decodeBody(r, &req); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Version == "" {
		req.Version = "latest"
	}
	if kind == installer.KindTrigger && (req.WorkflowID == "") == (req.TeamID == "") {
		respondErrorMessage(w, http.StatusBadRequest,
			"trigger install requires exactly one of workflow_id or team_id")
		return
	}

	installed, err := s.deps.Installer.Install(r.Context(), kind, name, req.Version, installer.InstallOptions{
		WorkflowID: req.WorkflowID,
		TeamID:     req.TeamID,
		Env:        req.Env,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, installed)
}

func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	name := chi.URLParam(r, "package_id")

	if err := s.deps.Installer.Uninstall(kind, name); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"kind": kind, "name": name})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.deps.Installer.FetchCatalog(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(catalog)
}

func (s *Server) handleListPublishers(w http.ResponseWriter, r *http.Request) {
	publishers, err := s.deps.Installer.Keyring().Publishers()
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"publishers": publishers})
}

type trustPublisherRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleTrustPublisher(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req trustPublisherRequest
	if err := decodeBody(r, &req); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Key == "" {
		respondErrorMessage(w, http.StatusBadRequest, "key is required")
		return
	}
	if err := s.deps.Installer.Keyring().Trust(id, []byte(req.Key)); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, errs.Sanitize(err.Error(), s.cfg.DataDir))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

// --- Models ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"models": s.deps.Models.List()})
}

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var m config.ModelConfig
	if err := decodeBody(r, &m); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Models.Create(m); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": m.ID})
}

func (s *Server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var m config.ModelConfig
	if err := decodeBody(r, &m); err != nil {
		respondErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Models.Update(id, m); err != nil {
		respondErrorMessage(w, modelErrStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Models.Delete(id); err != nil {
		respondErrorMessage(w, modelErrStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleSetDefaultModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Models.SetDefault(id); err != nil {
		respondErrorMessage(w, modelErrStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

// --- Containers ---

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	resources, err := s.deps.Containers.List()
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"containers": resources})
}

func (s *Server) handleContainerStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Containers.Status(chi.URLParam(r, "name"))
	if err != nil {
		respondErrorMessage(w, http.StatusNotFound, errs.Sanitize(err.Error(), s.cfg.DataDir))
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleContainerAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	action := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	var err error
	switch action {
	case "start":
		err = s.deps.Containers.Start(name)
	case "stop":
		err = s.deps.Containers.Stop(name)
	case "restart":
		err = s.deps.Containers.Restart(name)
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"name": name, "action": action})
}

// --- Shared plumbing ---

// buildTeam loads a team definition and assembles its runtime, distinguishing
// a missing team (404) from a misconfigured one (400).
func (s *Server) buildTeam(teamID string) (teamRunner, int, error) {
	def, ok := s.deps.Teams.Get(teamID)
	if !ok {
		return nil, http.StatusNotFound, fmt.Errorf("team '%s' not found", teamID)
	}
	runtime, err := s.teamRuntime(def)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	return runtime, 0, nil
}

type teamRunner interface {
	Run(ctx context.Context, message string, history []llms.Message, ec *session.ExecutionContext) (string, error)
}

// runSync drives a run without a streaming client: events are drained and
// discarded, only the final result is returned.
func (s *Server) runSync(run session.RunFunc) (any, error) {
	ec := session.NewExecutionContext(uuid.NewString())

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range ec.Events() {
		}
	}()

	result, err := run(ec)
	ec.Close()
	<-drained
	return result, err
}

func (s *Server) runSyncText(run func(ec *session.ExecutionContext) (string, error)) (string, error) {
	result, err := s.runSync(func(ec *session.ExecutionContext) (any, error) {
		return run(ec)
	})
	if err != nil {
		return "", err
	}
	text, _ := result.(string)
	return text, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func respondErrorMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondError maps a classified error onto an HTTP status and a sanitized
// payload.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	respondJSON(w, statusForKind(kind), errorResponse{
		Error: errs.Sanitize(err.Error(), s.cfg.DataDir),
		Kind:  string(kind),
	})
}

// statusForKind: client-fixable kinds map to 400, upstream failures to 502,
// everything else to 500.
func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidWorkflow, errs.KindUnresolvedReference,
		errs.KindUntrustedPublisher, errs.KindInvalidSignature, errs.KindChecksumMismatch,
		errs.KindLLMAuth:
		return http.StatusBadRequest
	case errs.KindWorkerUnreachable, errs.KindWorkerProtocol, errs.KindToolError,
		errs.KindLLMQuota, errs.KindLLMTimeout, errs.KindLLMBlocked:
		return http.StatusBadGateway
	case errs.KindCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func modelErrStatus(err error) int {
	if strings.Contains(err.Error(), "not found") {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}
