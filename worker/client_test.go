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

package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphive/hive/errs"
)

func TestListTools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/list_tools", r.URL.Path)
		_, _ = w.Write([]byte(`{"tools":[
			{"name":"scan","description":"Port scan","input_schema":{"type":"object"}},
			{"name":"probe","description":"Service probe","input_schema":{"type":"object"}}
		]}`))
	}))
	defer server.Close()

	tools, err := NewClient(server.URL).ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "scan", tools[0].Name)
	assert.Equal(t, "probe", tools[1].Name)
	assert.JSONEq(t, `{"type":"object"}`, string(tools[0].InputSchema))
}

func TestListToolsErrors(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		_, err := NewClient("http://127.0.0.1:1").ListTools(context.Background())
		require.Error(t, err)
		assert.Equal(t, errs.KindWorkerUnreachable, errs.KindOf(err))
	})

	t.Run("bad payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer server.Close()

		_, err := NewClient(server.URL).ListTools(context.Background())
		require.Error(t, err)
		assert.Equal(t, errs.KindWorkerProtocol, errs.KindOf(err))
	})
}

func TestCallToolForwardsArgumentsVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/call_tool", r.URL.Path)

		var req struct {
			ToolName  string          `json:"tool_name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "scan", req.ToolName)
		assert.JSONEq(t, `{"target":"example.com","depth":3}`, string(req.Arguments))

		_, _ = w.Write([]byte(`{"open_ports":[22,80]}`))
	}))
	defer server.Close()

	raw, err := NewClient(server.URL).CallTool(context.Background(), "scan",
		map[string]any{"target": "example.com", "depth": 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"open_ports":[22,80]}`, string(raw))
}

func TestCallToolErrorMapping(t *testing.T) {
	t.Run("tool error preserves body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := NewClient(server.URL).CallTool(context.Background(), "scan", nil)
		require.Error(t, err)
		assert.Equal(t, errs.KindToolError, errs.KindOf(err))
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("invalid json is a protocol error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{{{`))
		}))
		defer server.Close()

		_, err := NewClient(server.URL).CallTool(context.Background(), "scan", nil)
		require.Error(t, err)
		assert.Equal(t, errs.KindWorkerProtocol, errs.KindOf(err))
	})

	t.Run("transport failure is unreachable", func(t *testing.T) {
		_, err := NewClient("http://127.0.0.1:1").CallTool(context.Background(), "scan", nil)
		require.Error(t, err)
		assert.Equal(t, errs.KindWorkerUnreachable, errs.KindOf(err))
	})
}

func TestRegistryHonorsConfiguredCallTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer slow.Close()

	r := NewRegistry()
	r.SetCallTimeout(20 * time.Millisecond)
	require.NoError(t, r.Register(Worker{Name: "slow", Endpoint: slow.URL}))

	client, err := r.Client("slow")
	require.NoError(t, err)

	start := time.Now()
	_, err = client.CallTool(context.Background(), "scan", nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindWorkerUnreachable, errs.KindOf(err))
	assert.Less(t, time.Since(start), 150*time.Millisecond, "timed out well before the worker answered")
}

func TestRegistryRegisterUnregister(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(Worker{Name: "scanner", Endpoint: "http://scanner:8080"}))
	assert.Error(t, r.Register(Worker{Name: "scanner", Endpoint: "http://other:8080"}), "duplicate name")
	assert.Error(t, r.Register(Worker{Endpoint: "http://x:1"}), "empty name")
	assert.Error(t, r.Register(Worker{Name: "x"}), "empty endpoint")

	w, ok := r.Get("scanner")
	require.True(t, ok)
	assert.Equal(t, "http://scanner:8080", w.Endpoint)

	require.NoError(t, r.Unregister("scanner"))
	_, ok = r.Get("scanner")
	assert.False(t, ok)
	assert.Error(t, r.Unregister("scanner"))
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, r.Register(Worker{Name: name, Endpoint: "http://" + name}))
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "bravo", list[1].Name)
	assert.Equal(t, "charlie", list[2].Name)
}

func TestRegistryRefreshTools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tools":[{"name":"scan","input_schema":{"type":"object"}}]}`))
	}))
	defer server.Close()

	r := NewRegistry()
	require.NoError(t, r.Register(Worker{Name: "scanner", Endpoint: server.URL}))

	require.NoError(t, r.RefreshTools(context.Background(), "scanner"))
	w, _ := r.Get("scanner")
	require.Len(t, w.Tools, 1)
	assert.Equal(t, "scan", w.Tools[0].Name)
	assert.False(t, w.LastHealthyAt.IsZero())

	assert.Error(t, r.RefreshTools(context.Background(), "ghost"))
}

func TestLoadCatalogRegistersUnresponsiveWorkers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tools":[{"name":"scan","input_schema":{}}]}`))
	}))
	defer server.Close()

	catalog := []byte(`workers:
  - name: live
    endpoint: ` + server.URL + `
  - name: dead
    endpoint: http://127.0.0.1:1
`)
	path := t.TempDir() + "/workers.yaml"
	require.NoError(t, os.WriteFile(path, catalog, 0644))

	r := NewRegistry()
	require.NoError(t, r.LoadCatalog(context.Background(), path))

	live, ok := r.Get("live")
	require.True(t, ok)
	assert.Len(t, live.Tools, 1)

	// The dead worker is still registered, with no tools.
	dead, ok := r.Get("dead")
	require.True(t, ok)
	assert.Empty(t, dead.Tools)
}

func TestLoadCatalogMissingFileIsFine(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.LoadCatalog(context.Background(), t.TempDir()+"/nope.yaml"))
	assert.Empty(t, r.List())
}
