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

// Package container owns the lifecycle of worker and trigger containers and
// the shared network that makes their endpoints resolvable from the
// orchestrator. All container operations shell out to the docker CLI through
// a CommandRunner so tests can substitute a fake.
package container

import (
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// CommandRunner executes a command and returns its combined output.
type CommandRunner interface {
	RunCommand(args ...string) (string, error)
}

// DefaultCommandRunner executes commands via os/exec.
type DefaultCommandRunner struct{}

var _ CommandRunner = &DefaultCommandRunner{}

func (d *DefaultCommandRunner) RunCommand(args ...string) (string, error) {
	slog.Debug("Running command", "args", args)
	cmd := exec.Command(args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	slog.Debug("Command output", "output", string(out))
	return string(out), err
}

// FakeCommandRunner records every command and answers from canned outputs
// keyed by the first two arguments ("docker run", "docker inspect", ...).
type FakeCommandRunner struct {
	mu       sync.Mutex
	Commands [][]string
	Outputs  map[string]string
	Errors   map[string]string
}

var _ CommandRunner = &FakeCommandRunner{}

func (f *FakeCommandRunner) RunCommand(args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Commands = append(f.Commands, args)

	key := strings.Join(args[:min(2, len(args))], " ")
	if f.Errors != nil && f.Errors[key] != "" {
		return f.Outputs[key], errors.New(f.Errors[key])
	}
	if f.Outputs != nil {
		return f.Outputs[key], nil
	}
	return "", nil
}

// Ran reports whether a command starting with the given prefix was executed.
func (f *FakeCommandRunner) Ran(prefix ...string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, cmd := range f.Commands {
		if len(cmd) < len(prefix) {
			continue
		}
		match := true
		for i, p := range prefix {
			if cmd[i] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
