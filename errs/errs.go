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

// Package errs defines the orchestrator's error taxonomy.
//
// Every failure that crosses a component boundary is classified into a Kind
// so that engines and the API layer can react without string matching.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for propagation and client reporting.
type Kind string

const (
	KindInvalidWorkflow     Kind = "invalid_workflow"
	KindUnresolvedReference Kind = "unresolved_reference"
	KindWorkerUnreachable   Kind = "worker_unreachable"
	KindWorkerProtocol      Kind = "worker_protocol_error"
	KindToolError           Kind = "tool_error"
	KindUntrustedPublisher  Kind = "untrusted_publisher"
	KindInvalidSignature    Kind = "invalid_signature"
	KindChecksumMismatch    Kind = "checksum_mismatch"
	KindLLMAuth             Kind = "llm_auth_error"
	KindLLMQuota            Kind = "llm_quota"
	KindLLMTimeout          Kind = "llm_timeout"
	KindLLMBlocked          Kind = "llm_blocked"
	KindMaxIterations       Kind = "max_iterations_exceeded"
	KindCancelled           Kind = "execution_cancelled"
	KindInternal            Kind = "internal"
)

// Error is a classified error carrying the component and operation that
// produced it.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, component, message string, err error) *Error {
	return &Error{
		Kind:      kind,
		Component: component,
		Message:   message,
		Err:       err,
	}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MaxClientMessageLen caps the length of user-visible error messages.
const MaxClientMessageLen = 500

// Sanitize prepares an error message for a client-facing payload. Internal
// filesystem paths under installRoot are stripped and the result is truncated
// to MaxClientMessageLen characters. Stack traces never pass through here;
// callers must hand in the message only.
func Sanitize(message, installRoot string) string {
	if installRoot != "" {
		message = strings.ReplaceAll(message, installRoot+"/", "")
		message = strings.ReplaceAll(message, installRoot, "")
	}
	if len(message) > MaxClientMessageLen {
		message = message[:MaxClientMessageLen]
	}
	return message
}
