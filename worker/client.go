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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mcphive/hive/errs"
)

// DefaultCallTimeout is the tool-call budget. Long enough for the slowest
// real tools such as vulnerability scans.
const DefaultCallTimeout = 600 * time.Second

// Client is a typed HTTP client for one worker. Tool arguments and results
// are forwarded as opaque JSON so workers can evolve their schemas without
// orchestrator changes.
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient creates a client for the worker at the given base URL.
func NewClient(endpoint string) *Client {
	return NewClientWithTimeout(endpoint, DefaultCallTimeout)
}

// NewClientWithTimeout creates a client with a custom call timeout.
func NewClientWithTimeout(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the worker's base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type listToolsResponse struct {
	Tools []ToolSchema `json:"tools"`
}

// ListTools fetches the worker's advertised tool schemas.
func (c *Client) ListTools(ctx context.Context) ([]ToolSchema, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/list_tools", nil)
	if err != nil {
		return nil, errs.New(errs.KindWorkerUnreachable, "worker", "failed to create request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindWorkerUnreachable, "worker",
			fmt.Sprintf("list_tools against %s failed", c.endpoint), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.KindWorkerUnreachable, "worker", "failed to read list_tools response", err)
	}

	if resp.StatusCode >= 400 {
		return nil, errs.New(errs.KindWorkerProtocol, "worker",
			fmt.Sprintf("list_tools returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var parsed listToolsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errs.New(errs.KindWorkerProtocol, "worker", "invalid list_tools payload", err)
	}
	return parsed.Tools, nil
}

type callToolRequest struct {
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CallTool invokes a tool on the worker. The call is a black-box forward:
// arguments pass through unchanged and the result comes back as raw JSON.
// Transport failures are worker_unreachable, status >= 400 is tool_error with
// the worker's body preserved verbatim, and unparsable bodies are
// worker_protocol_error.
func (c *Client) CallTool(ctx context.Context, toolName string, arguments any) (json.RawMessage, error) {
	rawArgs, err := json.Marshal(arguments)
	if err != nil {
		return nil, errs.New(errs.KindWorkerProtocol, "worker", "failed to encode tool arguments", err)
	}

	payload, err := json.Marshal(callToolRequest{ToolName: toolName, Arguments: rawArgs})
	if err != nil {
		return nil, errs.New(errs.KindWorkerProtocol, "worker", "failed to encode call_tool request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/call_tool", bytes.NewReader(payload))
	if err != nil {
		return nil, errs.New(errs.KindWorkerUnreachable, "worker", "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindWorkerUnreachable, "worker",
			fmt.Sprintf("call_tool %s against %s failed", toolName, c.endpoint), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.KindWorkerUnreachable, "worker", "failed to read call_tool response", err)
	}

	if resp.StatusCode >= 400 {
		return nil, errs.New(errs.KindToolError, "worker",
			fmt.Sprintf("tool %s failed with status %d: %s", toolName, resp.StatusCode, string(body)), nil)
	}

	if !json.Valid(body) {
		return nil, errs.New(errs.KindWorkerProtocol, "worker",
			fmt.Sprintf("tool %s returned invalid JSON", toolName), nil)
	}
	return json.RawMessage(body), nil
}

// Health probes the worker with a short-deadline list_tools call.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.ListTools(ctx)
	return err
}
