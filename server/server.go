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

// Package server exposes the orchestrator over HTTP and WebSocket: worker and
// workflow surfaces, synchronous agent/team runs, chat, package installation,
// model configuration, and the streaming session endpoint. Handlers validate
// and dispatch; business logic lives in the engine packages.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mcphive/hive/agent"
	"github.com/mcphive/hive/config"
	"github.com/mcphive/hive/container"
	"github.com/mcphive/hive/installer"
	"github.com/mcphive/hive/llms"
	"github.com/mcphive/hive/store"
	"github.com/mcphive/hive/team"
	"github.com/mcphive/hive/worker"
	"github.com/mcphive/hive/workflow"
)

// Deps are the engine-side components the server dispatches to.
type Deps struct {
	Workers    *worker.Registry
	Engine     *workflow.Engine
	Models     *config.ModelRegistry
	Agents     *store.FileStore[agent.Definition]
	Teams      *store.FileStore[team.Definition]
	Workflows  *store.FileStore[workflow.Workflow]
	Installer  *installer.Installer
	Containers *container.Manager
}

// Server is the HTTP and streaming surface of the orchestrator.
type Server struct {
	cfg     *config.Config
	deps    Deps
	metrics *metrics
	logger  *slog.Logger

	httpServer *http.Server
}

// New creates a server over the given components.
func New(cfg *config.Config, deps Deps) *Server {
	return &Server{
		cfg:     cfg,
		deps:    deps,
		metrics: newMetrics(),
		logger:  slog.Default().With("component", "server"),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.middleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())

	r.Route("/mcp/servers", func(r chi.Router) {
		r.Get("/", s.handleListWorkers)
		r.Post("/{name}/tools", s.handleWorkerTools)
	})

	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", s.handleListWorkflows)
		r.Post("/", s.handleSaveWorkflow)
		r.Delete("/{name}", s.handleDeleteWorkflow)
		r.Post("/execute", s.handleExecuteWorkflow)
	})

	r.Get("/agents", s.handleListAgents)
	r.Post("/agents/run", s.handleRunAgent)
	r.Get("/teams", s.handleListTeams)
	r.Post("/teams/run", s.handleRunTeam)
	r.Post("/chat", s.handleChat)

	r.Route("/registries", func(r chi.Router) {
		r.Get("/catalog", s.handleCatalog)
		r.Post("/install/{kind}/{package_id}", s.handleInstall)
		r.Delete("/{kind}/{package_id}", s.handleUninstall)
		r.Get("/publishers", s.handleListPublishers)
		r.Post("/publishers/{id}/trust", s.handleTrustPublisher)
	})

	r.Route("/models", func(r chi.Router) {
		r.Get("/", s.handleListModels)
		r.Post("/", s.handleCreateModel)
		r.Put("/{id}", s.handleUpdateModel)
		r.Delete("/{id}", s.handleDeleteModel)
		r.Post("/{id}/set-default", s.handleSetDefaultModel)
	})

	r.Route("/containers", func(r chi.Router) {
		r.Get("/", s.handleListContainers)
		r.Get("/{name}/status", s.handleContainerStatus)
		r.Post("/{name}/start", s.handleContainerAction)
		r.Post("/{name}/stop", s.handleContainerAction)
		r.Post("/{name}/restart", s.handleContainerAction)
	})

	r.Get("/ws/{session_id}", s.handleStream)

	return r
}

// ListenAndServe runs the server until the context is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// resolveModel picks the model to drive an agent: the explicit id when set,
// otherwise the registry default. Models without their own timeout inherit
// the orchestrator-wide llm_timeout.
func (s *Server) resolveModel(modelID string) (config.ModelConfig, error) {
	var m config.ModelConfig
	var ok bool
	if modelID != "" {
		if m, ok = s.deps.Models.Get(modelID); !ok {
			return config.ModelConfig{}, fmt.Errorf("model '%s' not found", modelID)
		}
	} else if m, ok = s.deps.Models.Default(); !ok {
		return config.ModelConfig{}, fmt.Errorf("no default model configured")
	}
	if m.Timeout == 0 {
		m.Timeout = s.cfg.LLMTimeout
	}
	return m, nil
}

// agentRuntime builds a ready-to-run runtime for one agent definition. An
// agent-level model_driver overrides the wire driver of the resolved model.
func (s *Server) agentRuntime(def agent.Definition) (*agent.Runtime, error) {
	model, err := s.resolveModel(def.ModelID)
	if err != nil {
		return nil, err
	}
	if def.ModelDriver != "" {
		model.Driver = def.ModelDriver
	}
	provider, err := llms.NewProvider(model)
	if err != nil {
		return nil, err
	}
	return agent.NewRuntime(def, provider, s.deps.Workers, s.cfg.DataDir), nil
}

// teamRuntime assembles member runtimes for a team definition, applying the
// per-member system prompt prefix and the team-wide iteration override.
func (s *Server) teamRuntime(def team.Definition) (*team.Runtime, error) {
	members := make([]team.Member, 0, len(def.Agents))
	for _, ref := range def.Agents {
		agentDef, ok := s.deps.Agents.Get(ref.AgentID)
		if !ok {
			return nil, fmt.Errorf("team '%s' references unknown agent '%s'", def.ID, ref.AgentID)
		}
		if ref.SystemPromptPrefix != "" {
			agentDef.SystemPrompt = ref.SystemPromptPrefix + "\n\n" + agentDef.SystemPrompt
		}
		if def.MaxIterations > 0 {
			agentDef.MaxIterations = def.MaxIterations
		}
		runtime, err := s.agentRuntime(agentDef)
		if err != nil {
			return nil, err
		}
		members = append(members, team.Member{Ref: ref, Runtime: runtime})
	}
	return team.NewRuntime(def, members)
}
