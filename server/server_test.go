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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphive/hive/agent"
	"github.com/mcphive/hive/config"
	"github.com/mcphive/hive/container"
	"github.com/mcphive/hive/installer"
	"github.com/mcphive/hive/session"
	"github.com/mcphive/hive/store"
	"github.com/mcphive/hive/team"
	"github.com/mcphive/hive/worker"
	"github.com/mcphive/hive/workflow"
)

type env struct {
	cfg       *config.Config
	workers   *worker.Registry
	models    *config.ModelRegistry
	agents    *store.FileStore[agent.Definition]
	teams     *store.FileStore[team.Definition]
	workflows *store.FileStore[workflow.Workflow]
	srv       *Server
	ts        *httptest.Server
}

// calcWorker answers add requests so workflows and agents have something real
// to call.
func calcWorker(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/list_tools":
			_, _ = w.Write([]byte(`{"tools":[{"name":"add","description":"Add two numbers","input_schema":{"type":"object"}}]}`))
		case "/call_tool":
			var req struct {
				Arguments map[string]float64 `json:"arguments"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			_, _ = fmt.Fprintf(w, `{"sum":%g}`, req.Arguments["a"]+req.Arguments["b"])
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dataDir := t.TempDir()
	cfg := &config.Config{DataDir: dataDir, Network: "test-net"}
	cfg.SetDefaults()

	workers := worker.NewRegistry()
	calc := calcWorker(t)
	require.NoError(t, workers.Register(worker.Worker{
		Name:     "calc",
		Endpoint: calc.URL,
		Tools: []worker.ToolSchema{
			{Name: "add", Description: "Add two numbers", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}))

	models, err := config.NewModelRegistry(cfg.ModelsConfigPath())
	require.NoError(t, err)

	agents, err := store.NewFileStore[agent.Definition](cfg.AgentDefinitionsDir(), func(d *agent.Definition) error { return d.Validate() })
	require.NoError(t, err)
	teams, err := store.NewFileStore[team.Definition](cfg.TeamDefinitionsDir(), func(d *team.Definition) error { return d.Validate() })
	require.NoError(t, err)
	workflows, err := store.NewFileStore[workflow.Workflow](cfg.UserWorkflowsDir(), nil)
	require.NoError(t, err)

	containers := container.NewManager(cfg, &container.FakeCommandRunner{})
	ins := installer.New(cfg, containers, workers)

	srv := New(cfg, Deps{
		Workers:    workers,
		Engine:     workflow.NewEngine(workers, dataDir),
		Models:     models,
		Agents:     agents,
		Teams:      teams,
		Workflows:  workflows,
		Installer:  ins,
		Containers: containers,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &env{
		cfg: cfg, workers: workers, models: models,
		agents: agents, teams: teams, workflows: workflows, srv: srv, ts: ts,
	}
}

// anthropicStub serves a canned end_turn reply and records request bodies.
func anthropicStub(t *testing.T, reply string) (*httptest.Server, *[][]byte) {
	t.Helper()
	var bodies [][]byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)
		_, _ = fmt.Fprintf(w, `{"content":[{"type":"text","text":%q}],"model":"claude-test","stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":2}}`, reply)
	}))
	t.Cleanup(server.Close)
	return server, &bodies
}

func (e *env) addStubModel(t *testing.T, llmURL string) {
	t.Helper()
	t.Setenv("HIVE_TEST_LLM_KEY", "test-key")
	require.NoError(t, e.models.Create(config.ModelConfig{
		ID: "stub", Driver: config.DriverAnthropic, Model: "claude-test",
		Host: llmURL, APIKeyEnv: "HIVE_TEST_LLM_KEY",
	}))
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestWorkerEndpoints(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.ts.URL + "/mcp/servers")
	require.NoError(t, err)
	var list struct {
		Servers []workerSummary `json:"servers"`
	}
	decodeJSON(t, resp, &list)
	require.Len(t, list.Servers, 1)
	assert.Equal(t, "calc", list.Servers[0].Name)
	assert.Equal(t, 1, list.Servers[0].ToolCount)

	resp = postJSON(t, e.ts.URL+"/mcp/servers/calc/tools", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var tools struct {
		Tools []worker.ToolSchema `json:"tools"`
	}
	decodeJSON(t, resp, &tools)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "add", tools.Tools[0].Name)

	resp = postJSON(t, e.ts.URL+"/mcp/servers/ghost/tools", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func addWorkflow() workflow.Workflow {
	return workflow.Workflow{
		Name: "sum",
		Nodes: []workflow.Node{
			{ID: "a", Type: workflow.NodeTypeMCPCall, Worker: "calc", Tool: "add",
				Params: map[string]any{"a": 2, "b": 3}},
		},
	}
}

func TestExecuteWorkflowSync(t *testing.T) {
	e := newEnv(t)

	wf := addWorkflow()
	resp := postJSON(t, e.ts.URL+"/workflows/execute", executeWorkflowRequest{Workflow: &wf})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result workflow.Result
	decodeJSON(t, resp, &result)
	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.JSONEq(t, `{"sum":5}`, string(result.Results["a"]))
}

func TestExecuteWorkflowValidationError(t *testing.T) {
	e := newEnv(t)

	wf := addWorkflow()
	wf.Nodes[0].Worker = "ghost"
	resp := postJSON(t, e.ts.URL+"/workflows/execute", executeWorkflowRequest{Workflow: &wf})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorResponse
	decodeJSON(t, resp, &body)
	assert.Equal(t, "invalid_workflow", body.Kind)
	assert.Contains(t, body.Error, "ghost")
}

func TestExecuteWorkflowBySavedID(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.workflows.Save("sum", addWorkflow()))

	resp := postJSON(t, e.ts.URL+"/workflows/execute", executeWorkflowRequest{WorkflowID: "sum"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var result workflow.Result
	decodeJSON(t, resp, &result)
	assert.Equal(t, workflow.StatusCompleted, result.Status)

	resp = postJSON(t, e.ts.URL+"/workflows/execute", executeWorkflowRequest{WorkflowID: "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestWorkflowCRUD(t *testing.T) {
	e := newEnv(t)

	resp := postJSON(t, e.ts.URL+"/workflows", addWorkflow())
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err := http.Get(e.ts.URL + "/workflows")
	require.NoError(t, err)
	var list struct {
		Workflows []workflow.Workflow `json:"workflows"`
	}
	decodeJSON(t, resp, &list)
	require.Len(t, list.Workflows, 1)
	assert.Equal(t, "sum", list.Workflows[0].Name)

	req, _ := http.NewRequest(http.MethodDelete, e.ts.URL+"/workflows/sum", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	assert.Empty(t, e.workflows.List())
}

func TestRunAgentSync(t *testing.T) {
	e := newEnv(t)
	llm, _ := anthropicStub(t, "all done")
	e.addStubModel(t, llm.URL)
	require.NoError(t, e.agents.Save("helper", agent.Definition{ID: "helper", SystemPrompt: "be brief"}))

	resp := postJSON(t, e.ts.URL+"/agents/run", runAgentRequest{AgentID: "helper", Message: "hi"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, "all done", body["text"])
}

func TestRunAgentUnknown(t *testing.T) {
	e := newEnv(t)

	resp := postJSON(t, e.ts.URL+"/agents/run", runAgentRequest{AgentID: "ghost", Message: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	resp = postJSON(t, e.ts.URL+"/agents/run", runAgentRequest{AgentID: "ghost"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestRunAgentWithoutModel(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.agents.Save("helper", agent.Definition{ID: "helper"}))

	resp := postJSON(t, e.ts.URL+"/agents/run", runAgentRequest{AgentID: "helper", Message: "hi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorResponse
	decodeJSON(t, resp, &body)
	assert.Contains(t, body.Error, "no default model")
}

func TestRunTeamSync(t *testing.T) {
	e := newEnv(t)
	llm, _ := anthropicStub(t, "team says hi")
	e.addStubModel(t, llm.URL)
	require.NoError(t, e.agents.Save("helper", agent.Definition{ID: "helper"}))
	require.NoError(t, e.teams.Save("crew", team.Definition{
		ID: "crew", Routing: team.RoutingSingle,
		Agents: []team.AgentRef{{AgentID: "helper"}},
	}))

	resp := postJSON(t, e.ts.URL+"/teams/run", runTeamRequest{TeamID: "crew", Message: "go"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, "team says hi", body["text"])
}

func TestChatForwardsOnlyLastTenTurns(t *testing.T) {
	e := newEnv(t)
	llm, bodies := anthropicStub(t, "reply")
	e.addStubModel(t, llm.URL)
	require.NoError(t, e.agents.Save("helper", agent.Definition{ID: "helper"}))
	require.NoError(t, e.teams.Save("crew", team.Definition{
		ID: "crew", Routing: team.RoutingSingle,
		Agents: []team.AgentRef{{AgentID: "helper"}},
	}))

	history := make([]chatMessage, 15)
	for i := range history {
		history[i] = chatMessage{Role: "user", Content: fmt.Sprintf("turn %d", i)}
	}

	resp := postJSON(t, e.ts.URL+"/chat", chatRequest{TeamID: "crew", Message: "latest", History: history})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, "reply", body["reply"])

	require.Len(t, *bodies, 1)
	var sent struct {
		Messages []struct {
			Content any `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal((*bodies)[0], &sent))
	// 10 history turns plus the new message.
	assert.Len(t, sent.Messages, 11)
	assert.Equal(t, "turn 5", sent.Messages[0].Content)
}

func TestInstallTriggerRequiresExactlyOneTarget(t *testing.T) {
	e := newEnv(t)

	resp := postJSON(t, e.ts.URL+"/registries/install/trigger/alerts", installRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body errorResponse
	decodeJSON(t, resp, &body)
	assert.Contains(t, body.Error, "exactly one")

	resp = postJSON(t, e.ts.URL+"/registries/install/trigger/alerts",
		installRequest{WorkflowID: "wf", TeamID: "crew"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestModelsCRUDOverHTTP(t *testing.T) {
	e := newEnv(t)

	resp := postJSON(t, e.ts.URL+"/models", config.ModelConfig{ID: "m1", Driver: config.DriverAnthropic, Model: "claude", APIKeyEnv: "K"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()
	resp = postJSON(t, e.ts.URL+"/models", config.ModelConfig{ID: "m2", Driver: config.DriverOpenAI, Model: "gpt", APIKeyEnv: "K"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err := http.Get(e.ts.URL + "/models")
	require.NoError(t, err)
	var list struct {
		Models []config.ModelConfig `json:"models"`
	}
	decodeJSON(t, resp, &list)
	require.Len(t, list.Models, 2)
	assert.True(t, list.Models[0].IsDefault, "first created model is the default")

	// Deleting the default is refused with 400.
	req, _ := http.NewRequest(http.MethodDelete, e.ts.URL+"/models/m1", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp = postJSON(t, e.ts.URL+"/models/m2/set-default", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	req, _ = http.NewRequest(http.MethodDelete, e.ts.URL+"/models/m1", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = postJSON(t, e.ts.URL+"/models/ghost/set-default", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestContainerEndpoints(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.ts.URL + "/containers")
	require.NoError(t, err)
	var list struct {
		Containers []container.InstalledResource `json:"containers"`
	}
	decodeJSON(t, resp, &list)
	assert.Empty(t, list.Containers)

	resp, err = http.Get(e.ts.URL + "/containers/ghost/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)

	_, err := http.Get(e.ts.URL + "/health")
	require.NoError(t, err)

	resp, err := http.Get(e.ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hive_http_requests_total")
}

func dialStream(t *testing.T, e *env, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestStreamWorkflowRun(t *testing.T) {
	e := newEnv(t)
	conn := dialStream(t, e, "s1")

	wf := addWorkflow()
	require.NoError(t, conn.WriteJSON(StartRequest{Type: RunWorkflow, Workflow: &wf}))

	var events []session.Event
	for {
		var ev session.Event
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
		if ev.IsTerminal() {
			break
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, session.EventExecutionStarted, events[0].Type)
	assert.NotEmpty(t, events[0].ExecutionID)

	var nodeStates []string
	for _, ev := range events {
		if ev.Type == session.EventNodeState {
			nodeStates = append(nodeStates, ev.NodeID+":"+ev.Status)
		}
	}
	assert.Equal(t, []string{"a:running", "a:completed"}, nodeStates)

	terminal := events[len(events)-1]
	assert.Equal(t, session.EventComplete, terminal.Type)
}

func TestStreamRejectsUnknownRunType(t *testing.T) {
	e := newEnv(t)
	conn := dialStream(t, e, "s2")

	require.NoError(t, conn.WriteJSON(StartRequest{Type: "bogus"}))

	var ev session.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, session.EventError, ev.Type)
	assert.Contains(t, ev.Message, "unknown run type")
}

func TestStreamAgentRun(t *testing.T) {
	e := newEnv(t)
	llm, _ := anthropicStub(t, "streamed answer")
	e.addStubModel(t, llm.URL)
	require.NoError(t, e.agents.Save("helper", agent.Definition{ID: "helper"}))

	conn := dialStream(t, e, "s3")
	require.NoError(t, conn.WriteJSON(StartRequest{Type: RunAgent, AgentID: "helper", Message: "hi"}))

	var sawAgentComplete bool
	for {
		var ev session.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == session.EventAgentComplete {
			sawAgentComplete = true
			assert.Equal(t, "streamed answer", ev.FinalText)
		}
		if ev.IsTerminal() {
			assert.Equal(t, session.EventComplete, ev.Type)
			assert.Equal(t, "streamed answer", ev.Result)
			break
		}
	}
	assert.True(t, sawAgentComplete)
}

func TestResolveModelInheritsConfigLLMTimeout(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.models.Create(config.ModelConfig{ID: "plain", Driver: config.DriverAnthropic, APIKeyEnv: "K"}))
	require.NoError(t, e.models.Create(config.ModelConfig{ID: "tuned", Driver: config.DriverAnthropic, APIKeyEnv: "K", Timeout: 30}))

	m, err := e.srv.resolveModel("plain")
	require.NoError(t, err)
	assert.Equal(t, e.cfg.LLMTimeout, m.Timeout, "models without a timeout use the orchestrator-wide one")

	m, err = e.srv.resolveModel("tuned")
	require.NoError(t, err)
	assert.Equal(t, 30, m.Timeout, "per-model timeout wins")
}

func TestAgentModelDriverOverridesResolvedModel(t *testing.T) {
	e := newEnv(t)
	llm, _ := anthropicStub(t, "hi")
	e.addStubModel(t, llm.URL)

	def := agent.Definition{ID: "a", ModelID: "stub", ModelDriver: "bogus"}
	_, err := e.srv.agentRuntime(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")

	def.ModelDriver = config.DriverOpenAI
	_, err = e.srv.agentRuntime(def)
	require.NoError(t, err, "a known driver override builds the matching provider")

	def.ModelDriver = ""
	_, err = e.srv.agentRuntime(def)
	require.NoError(t, err, "no override keeps the model entry's driver")
}

func TestModelsFileLandsUnderDataDir(t *testing.T) {
	e := newEnv(t)

	resp := postJSON(t, e.ts.URL+"/models", config.ModelConfig{ID: "m1", APIKeyEnv: "K"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	assert.FileExists(t, filepath.Join(e.cfg.DataDir, "configs", "models.yaml"))
}
