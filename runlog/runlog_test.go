// Copyright 2023 Versity Software
// This file is licensed under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package runlog

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/versity/s3compat/checker"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logrus.Level
		wantErr bool
	}{
		{"", logrus.InfoLevel, false},
		{"DEBUG", logrus.DebugLevel, false},
		{"warning", logrus.WarnLevel, false},
		{"warn", logrus.WarnLevel, false},
		{"error", logrus.ErrorLevel, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lv, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, lv)
		})
	}
}

func TestConsoleLevels(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		info    bool
		errLine bool
	}{
		{"info", Options{Level: "info", Console: true}, true, true},
		{"quiet", Options{Level: "debug", Console: true, Quiet: true}, false, true},
		{"no console", Options{Level: "info"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.opts.Stderr = &buf
			l, err := New(tt.opts)
			require.NoError(t, err)
			defer l.Close()

			l.Info("connection successful")
			l.Error("connection refused")
			assert.Equal(t, tt.info, strings.Contains(buf.String(), "connection successful"))
			assert.Equal(t, tt.errLine, strings.Contains(buf.String(), "connection refused"))
		})
	}
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checker.log")
	l, err := New(Options{Level: "warning", File: path})
	require.NoError(t, err)

	l.Info("dropped")
	l.WithError(errors.New("boom")).Warn("cleanup failed")

	p := NewProgress(l, WithOutput(nil))
	p.UnitFinished(checker.Result{
		Name:      "object_download",
		Category:  "objects",
		Outcome:   checker.Fail,
		Message:   "content mismatch",
		StartedAt: time.Now(),
		Duration:  1500 * time.Millisecond,
		Detail:    map[string]any{"status": 200},
	})
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "cleanup failed", lines[0]["msg"])
	assert.Equal(t, "boom", lines[0]["error"])

	assert.Equal(t, "object_download", lines[1]["name"])
	assert.Equal(t, "FAIL", lines[1]["status"])
	assert.Equal(t, float64(1500), lines[1]["duration"])
	assert.Equal(t, "content mismatch", lines[1]["message"])
	assert.NotContains(t, lines[1], "msg")
}

func TestProgress(t *testing.T) {
	var out bytes.Buffer
	p := NewProgress(nil, WithOutput(&out), WithColor(false), WithDetail())

	p.CategoryStarted(&checker.Category{Name: "objects", Units: make([]checker.Unit, 3)})
	p.UnitFinished(checker.Result{Name: "a", Category: "objects", Outcome: checker.Pass})
	p.UnitFinished(checker.Result{Name: "b", Category: "objects", Outcome: checker.Skipped, Message: "not supported"})
	p.UnitFinished(checker.Result{Name: "c", Category: "objects", Outcome: checker.Fail, Message: "mismatch", Detail: map[string]any{"etag": "abc"}})
	p.CategoryFinished(checker.CategoryResult{Name: "objects"})
	p.RunFinished(checker.Summary{})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, "RUN  objects (3 checks)", lines[0])
	assert.Equal(t, "PASS objects.a", lines[1])
	assert.Equal(t, "SKIP objects.b: not supported", lines[2])
	assert.Equal(t, "FAIL objects.c: mismatch", lines[3])
	assert.Contains(t, out.String(), `"etag"`)
	assert.Equal(t, "RUN 3, PASS 1, FAIL 1, SKIP 1", lines[len(lines)-1])
	assert.Equal(t, 3, p.RunCount)
}

func TestProgressQuietColor(t *testing.T) {
	var out bytes.Buffer
	p := NewProgress(nil, WithOutput(&out), WithColor(true), WithQuiet())

	p.CategoryStarted(&checker.Category{Name: "objects"})
	p.UnitFinished(checker.Result{Name: "a", Category: "objects", Outcome: checker.Pass})
	p.UnitFinished(checker.Result{Name: "c", Category: "objects", Outcome: checker.Fail, Message: "mismatch"})
	p.RunFinished(checker.Summary{})

	assert.Equal(t, colorRed+"FAIL "+colorReset+"objects.c: mismatch\n", out.String())
	assert.Equal(t, 1, p.PassCount)
}
