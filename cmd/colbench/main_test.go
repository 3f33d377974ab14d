// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRun(t *testing.T) {
	var stdout, stderr bytes.Buffer
	rc := newRootCommand(strings.NewReader(""), &stdout, &stderr)
	rc.SetArgs([]string{
		"--benchmark", "spin",
		"--threads", "2",
		"--elements", "16",
		"--iteration-count", "2",
	})

	require.NoError(t, rc.Execute())
	assert.Contains(t, stdout.String(), "Algorithm:   spin")
	assert.Contains(t, stdout.String(), "16")
}

func TestRootCommandMissingBenchmark(t *testing.T) {
	var stdout, stderr bytes.Buffer
	rc := newRootCommand(strings.NewReader(""), &stdout, &stderr)
	rc.SetArgs([]string{})
	assert.Error(t, rc.Execute())
}

func TestRootCommandConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
benchmark = "spin"
elements = 64
iteration-count = 2
threads = 4
`), 0o644))

	var stdout, stderr bytes.Buffer
	rc := newRootCommand(strings.NewReader(""), &stdout, &stderr)
	// The explicit flag overrides the file's threads=4; the file supplies
	// everything else.
	rc.SetArgs([]string{"-c", path, "--threads", "1"})

	require.NoError(t, rc.Execute())
	out := stdout.String()
	assert.Contains(t, out, "Algorithm:   spin")
	assert.Contains(t, out, "threads=1")
	assert.Contains(t, out, "64")
}
