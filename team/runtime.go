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

package team

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"github.com/mcphive/hive/agent"
	"github.com/mcphive/hive/errs"
	"github.com/mcphive/hive/llms"
	"github.com/mcphive/hive/session"
)

// colorPaletteSize bounds the stable color index attached to member events.
const colorPaletteSize = 8

// Member pairs one agent reference with its ready-to-run runtime.
type Member struct {
	Ref     AgentRef
	Runtime *agent.Runtime
}

// Runtime executes a team: it routes the user message to member agents per
// the definition's policy and aggregates their replies. Member events are
// forwarded unchanged, annotated with the emitting agent's id and a stable
// color index.
type Runtime struct {
	def     Definition
	members []Member
	logger  *slog.Logger
}

// NewRuntime creates a team runtime over pre-built member runtimes. Members
// must be in the definition's agent order.
func NewRuntime(def Definition, members []Member) (*Runtime, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if len(members) != len(def.Agents) {
		return nil, fmt.Errorf("team '%s' expects %d members, got %d", def.ID, len(def.Agents), len(members))
	}
	return &Runtime{
		def:     def,
		members: members,
		logger:  slog.Default().With("team", def.ID),
	}, nil
}

// Definition returns the team's definition.
func (r *Runtime) Definition() Definition {
	return r.def
}

// Run produces one combined reply for the user message.
func (r *Runtime) Run(ctx context.Context, message string, history []llms.Message, ec *session.ExecutionContext) (string, error) {
	switch r.def.Routing {
	case RoutingSingle:
		return r.runSingle(ctx, message, history, ec)
	case RoutingSequential:
		return r.runSequential(ctx, message, history, ec)
	case RoutingBroadcast:
		return r.runBroadcast(ctx, message, history, ec)
	default:
		return "", fmt.Errorf("team '%s' has unknown routing policy '%s'", r.def.ID, r.def.Routing)
	}
}

// runSingle routes to the first member.
func (r *Runtime) runSingle(ctx context.Context, message string, history []llms.Message, ec *session.ExecutionContext) (string, error) {
	return r.runMember(ctx, r.members[0], message, history, ec)
}

// runSequential invokes members one at a time, each seeing the prior
// members' labeled answers appended to the transcript. The first failure
// aborts the team.
func (r *Runtime) runSequential(ctx context.Context, message string, history []llms.Message, ec *session.ExecutionContext) (string, error) {
	transcript := append([]llms.Message{}, history...)
	sections := make([]string, 0, len(r.members))

	for _, member := range r.members {
		if ec.Cancelled() {
			return "", errs.New(errs.KindCancelled, "team", "execution cancelled", nil)
		}

		label := memberLabel(member.Ref)
		ec.Emit(session.NewStatus(fmt.Sprintf("Running agent %s", label)))

		text, err := r.runMember(ctx, member, message, transcript, ec)
		if err != nil {
			return "", err
		}

		transcript = append(transcript, llms.Message{
			Role:    llms.RoleAssistant,
			Content: fmt.Sprintf("%s: %s", label, text),
		})
		sections = append(sections, formatSection(label, text))
	}
	return strings.Join(sections, "\n\n"), nil
}

// runBroadcast invokes all members concurrently with the original message.
// Individual failures are noted in the combined reply; the other members'
// results are still returned. Cancellation aborts the whole team.
func (r *Runtime) runBroadcast(ctx context.Context, message string, history []llms.Message, ec *session.ExecutionContext) (string, error) {
	texts := make([]string, len(r.members))
	failures := make([]error, len(r.members))

	var wg sync.WaitGroup
	for i, member := range r.members {
		wg.Add(1)
		go func(i int, member Member) {
			defer wg.Done()
			texts[i], failures[i] = r.runMember(ctx, member, message, history, ec)
		}(i, member)
	}
	wg.Wait()

	sections := make([]string, 0, len(r.members))
	for i, member := range r.members {
		label := memberLabel(member.Ref)
		if failures[i] != nil {
			if errs.IsKind(failures[i], errs.KindCancelled) {
				return "", failures[i]
			}
			r.logger.Warn("Broadcast member failed", "agent", member.Ref.AgentID, "error", failures[i])
			sections = append(sections, formatSection(label,
				fmt.Sprintf("(failed: %s)", errs.Sanitize(failures[i].Error(), ""))))
			continue
		}
		sections = append(sections, formatSection(label, texts[i]))
	}
	return strings.Join(sections, "\n\n"), nil
}

// runMember runs one agent on a child context and forwards its events to the
// parent stream annotated with the agent id and color index.
func (r *Runtime) runMember(ctx context.Context, member Member, message string, history []llms.Message, ec *session.ExecutionContext) (string, error) {
	child := ec.Child()
	color := ColorIndex(member.Ref.AgentID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range child.Events() {
			ev.Agent = member.Ref.AgentID
			ev.Color = color
			ec.Emit(ev)
		}
	}()

	text, err := member.Runtime.Run(ctx, message, history, child)
	child.Close()
	<-done
	return text, err
}

// ColorIndex derives a stable color slot from an agent id so downstream
// consumers can color-code without coordination.
func ColorIndex(agentID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(agentID))
	return int(h.Sum32() % colorPaletteSize)
}

func memberLabel(ref AgentRef) string {
	if ref.Role != "" {
		return ref.Role
	}
	return ref.AgentID
}

func formatSection(label, text string) string {
	return fmt.Sprintf("## %s\n\n%s", label, text)
}
