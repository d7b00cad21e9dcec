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

package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestInitWritesSimpleFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive.log")
	file, cleanup, err := OpenLogFile(path)
	require.NoError(t, err)

	Init(slog.LevelInfo, file, "simple")
	slog.Info("server started", "port", 8080)
	slog.Debug("hidden at info level")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "INFO server started port=8080")
	assert.NotContains(t, out, "hidden at info level")
	// Simple format carries no timestamp prefix.
	assert.True(t, strings.HasPrefix(out, "INFO "), "got: %q", out)
}

func TestOpenLogFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive.log")

	file, cleanup, err := OpenLogFile(path)
	require.NoError(t, err)
	_, _ = file.WriteString("first\n")
	cleanup()

	file, cleanup, err = OpenLogFile(path)
	require.NoError(t, err)
	_, _ = file.WriteString("second\n")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}
