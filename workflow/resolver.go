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

package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/mcphive/hive/errs"
)

// Reference syntaxes recognized inside string parameter values:
//
//	${node_id}            a prior node's whole result
//	${node_id.a.b}        a subfield of a prior node's result
//	${env:NAME}           an environment variable
//	${env:NAME:-default}  with a fallback
//
// A reference that is the entire string substitutes the original JSON value.
// A reference embedded in a larger string is serialized and spliced in as
// text, so prompts like "Analyze: ${scan}" receive readable JSON rather than
// a placeholder. String results splice without quotes: the surrounding text
// is prompt material, not a JSON document, and quoting would leak into it.
var referencePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// embedIndent is the indentation used when serializing embedded references.
// Two spaces, matching what downstream prompts were tuned against.
const embedIndent = "  "

// ResultLookup resolves a completed node's result by id.
type ResultLookup interface {
	Result(nodeID string) (json.RawMessage, bool)
}

// Resolver substitutes node-result and environment references in workflow
// parameters.
type Resolver struct {
	lookup ResultLookup
}

// NewResolver creates a resolver reading prior results from lookup.
func NewResolver(lookup ResultLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// ResolveParams resolves every value in a node's parameter map. Non-string
// values pass through unchanged (containers are walked). Unresolvable
// references fail with the offending token and the requesting node.
func (r *Resolver) ResolveParams(nodeID string, params map[string]any) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	resolved, err := r.resolveValue(nodeID, params)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func (r *Resolver) resolveValue(nodeID string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(nodeID, v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			resolved, err := r.resolveValue(nodeID, item)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := r.resolveValue(nodeID, item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func (r *Resolver) resolveString(nodeID, s string) (any, error) {
	matches := referencePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// A reference spanning the whole string substitutes the typed value.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return r.resolveReference(nodeID, s[matches[0][2]:matches[0][3]], false)
	}

	var out strings.Builder
	last := 0
	for _, m := range matches {
		out.WriteString(s[last:m[0]])
		text, err := r.resolveReference(nodeID, s[m[2]:m[3]], true)
		if err != nil {
			return nil, err
		}
		out.WriteString(text.(string))
		last = m[1]
	}
	out.WriteString(s[last:])
	return out.String(), nil
}

// resolveReference resolves one token body. When embedded is true the result
// is always a string spliced into the surrounding text.
func (r *Resolver) resolveReference(nodeID, token string, embedded bool) (any, error) {
	if name, ok := strings.CutPrefix(token, "env:"); ok {
		return r.resolveEnv(nodeID, name)
	}

	parts := strings.Split(token, ".")
	raw, ok := r.lookup.Result(parts[0])
	if !ok {
		return nil, errs.New(errs.KindUnresolvedReference, "resolver",
			fmt.Sprintf("node '%s' references '${%s}' but node '%s' has no completed result", nodeID, token, parts[0]), nil)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, errs.New(errs.KindUnresolvedReference, "resolver",
			fmt.Sprintf("node '%s' references '${%s}' but the result is not valid JSON", nodeID, token), err)
	}

	value, err := drill(value, parts[1:])
	if err != nil {
		return nil, errs.New(errs.KindUnresolvedReference, "resolver",
			fmt.Sprintf("node '%s' references '${%s}': %v", nodeID, token, err), nil)
	}

	if embedded {
		return serializeEmbedded(value), nil
	}
	return value, nil
}

func (r *Resolver) resolveEnv(nodeID, name string) (any, error) {
	name, fallback, hasFallback := strings.Cut(name, ":-")
	if val := os.Getenv(name); val != "" {
		return val, nil
	}
	if hasFallback {
		return fallback, nil
	}
	return nil, errs.New(errs.KindUnresolvedReference, "resolver",
		fmt.Sprintf("node '%s' references '${env:%s}' but the variable is not set", nodeID, name), nil)
}

// drill walks a dotted path into decoded JSON. Numeric segments index arrays.
func drill(value any, path []string) (any, error) {
	for _, segment := range path {
		switch v := value.(type) {
		case map[string]any:
			next, ok := v[segment]
			if !ok {
				return nil, fmt.Errorf("field '%s' not found", segment)
			}
			value = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("index '%s' out of range", segment)
			}
			value = v[idx]
		default:
			return nil, fmt.Errorf("cannot descend into '%s'", segment)
		}
	}
	return value, nil
}

// serializeEmbedded renders a resolved value for splicing into surrounding
// text. Plain strings splice bare; everything else becomes indented JSON.
func serializeEmbedded(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(value, "", embedIndent)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
