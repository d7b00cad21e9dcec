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

package session

import (
	"log/slog"

	"github.com/mcphive/hive/errs"
)

// Conn is the bidirectional message stream to one client. Satisfied by
// *websocket.Conn.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// ControlMessage is a client-to-server message on the stream.
type ControlMessage struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// ControlCancelExecution requests cancellation of the in-flight run.
const ControlCancelExecution = "cancel_execution"

// RunFunc executes one run against a borrowed context and returns the final
// result for the terminal complete event.
type RunFunc func(ec *ExecutionContext) (any, error)

// Broker owns one streaming session: it creates the execution context,
// relays engine events to the client in emission order, and honors cancel
// requests arriving on the same stream.
type Broker struct {
	sessionID   string
	installRoot string
}

// NewBroker creates a broker for one client connection. installRoot is
// stripped from client-facing error messages.
func NewBroker(sessionID, installRoot string) *Broker {
	return &Broker{sessionID: sessionID, installRoot: installRoot}
}

// Serve drives one run over the connection and closes it when a terminal
// event has been delivered.
func (b *Broker) Serve(conn Conn, run RunFunc) error {
	ec := NewExecutionContext(b.sessionID)

	// Control reader: a cancel_execution message sets the context's flag;
	// engines observe it at their next suspension point. A read failure means
	// the client went away, which cancels the run too.
	go func() {
		for {
			var ctl ControlMessage
			if err := conn.ReadJSON(&ctl); err != nil {
				ec.Cancel()
				return
			}
			if ctl.Type == ControlCancelExecution &&
				(ctl.ExecutionID == "" || ctl.ExecutionID == ec.ExecutionID) {
				slog.Info("Cancel requested", "session", b.sessionID, "execution", ec.ExecutionID)
				ec.Cancel()
			}
		}
	}()

	go func() {
		defer ec.Close()

		ec.Emit(NewExecutionStarted(ec.ExecutionID))
		result, err := run(ec)
		switch {
		case err != nil && errs.IsKind(err, errs.KindCancelled):
			ec.Emit(NewCancelled())
		case ec.Cancelled():
			ec.Emit(NewCancelled())
		case err != nil:
			ec.Emit(NewError(errs.Sanitize(err.Error(), b.installRoot), string(errs.KindOf(err))))
		default:
			ec.Emit(NewComplete(result))
		}
	}()

	defer func() { _ = conn.Close() }()
	for ev := range ec.Events() {
		if err := conn.WriteJSON(ev); err != nil {
			ec.Cancel()
			return err
		}
		if ev.IsTerminal() {
			return nil
		}
	}
	return nil
}
