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

package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/versity/s3compat/checker"
	"gopkg.in/yaml.v3"
)

func summary() checker.Summary {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return checker.Summary{
		RunID:     "run-1",
		Endpoint:  "http://localhost:7070",
		StartedAt: start,
		Duration:  3 * time.Second,
		Categories: []checker.CategoryResult{
			{
				Name:     "objects",
				Duration: 2 * time.Second,
				Passed:   1,
				Failed:   1,
				Results: []checker.Result{
					{Name: "object_upload_small", Category: "objects", Outcome: checker.Pass, Message: "ok", StartedAt: start, Duration: time.Second},
					{Name: "object_download", Category: "objects", Outcome: checker.Fail, Message: "content mismatch", StartedAt: start, Duration: 250 * time.Millisecond, Detail: map[string]any{"status": 200}},
				},
			},
			{
				Name:       "tagging",
				Duration:   time.Second,
				Skipped:    1,
				SetupError: "FixtureSetupError: CreateBucket: access denied",
				Results: []checker.Result{
					{Name: "object_tagging_put_get", Category: "tagging", Outcome: checker.Skipped, Message: "setup failed"},
				},
			},
		},
		Total:   3,
		Passed:  1,
		Failed:  1,
		Skipped: 1,
	}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, summary()))
	out := buf.String()

	for _, want := range []string{
		"S3 COMPATIBILITY CHECK SUMMARY",
		"Total Categories: 2",
		"Total Checks: 3",
		"Success Rate: 33.3%",
		"Duration: 3.00s",
		"✗ objects: 1/2 (50.0%) [2.00s]",
		"✓ tagging: 0/1 (0.0%) [1.00s]",
		"  Setup: FixtureSetupError: CreateBucket: access denied",
		"FAILED CHECKS:",
		"✗ objects.object_download",
		"  Message: content mismatch",
		`  Details: {"status":200}`,
		"SKIPPED CHECKS:",
		"- tagging.object_tagging_put_get: setup failed",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "All checks passed!")
	assert.NotContains(t, out, "Partial run")
}

func TestTextAllPassedAndPartial(t *testing.T) {
	s := checker.Summary{
		Categories:  []checker.CategoryResult{{Name: "buckets", Passed: 2, Results: []checker.Result{{}, {}}}},
		Total:       2,
		Passed:      2,
		Partial:     true,
		Interrupted: []string{"multipart"},
	}
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, s))
	assert.Contains(t, buf.String(), "All checks passed!")
	assert.Contains(t, buf.String(), "Partial run, interrupted: multipart")
	assert.NotContains(t, buf.String(), "FAILED CHECKS:")
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name, format, path string
		want               Format
		wantErr            bool
	}{
		{"explicit", "YAML", "out.json", FormatYAML, false},
		{"from extension", "", "results.parquet", FormatParquet, false},
		{"text extension", "", "results.txt", FormatText, false},
		{"yml", "", "r.YML", FormatYAML, false},
		{"unknown extension", "", "results.out", FormatJSON, false},
		{"bad format", "xml", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFormat(tt.format, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f)
		})
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, summary()))

	var decoded struct {
		RunID      string `json:"run_id"`
		Failed     int    `json:"failed"`
		Categories []struct {
			Name    string `json:"name"`
			Results []struct {
				Name    string `json:"name"`
				Outcome string `json:"outcome"`
			} `json:"results"`
		} `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Equal(t, 1, decoded.Failed)
	require.Len(t, decoded.Categories, 2)
	assert.Equal(t, "FAIL", decoded.Categories[0].Results[1].Outcome)
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatYAML, summary()))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, 3, decoded["total"])
	assert.Contains(t, buf.String(), "outcome: SKIP")
}

func TestWriteParquet(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatParquet, summary()))

	got, err := parquet.Read[Row](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "object_download", got[1].Name)
	assert.Equal(t, "FAIL", got[1].Outcome)
	assert.Equal(t, int64(250), got[1].DurationMs)
	assert.Equal(t, `{"status":200}`, got[1].Detail)
	assert.Equal(t, "run-1", got[2].RunID)
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.txt")
	require.NoError(t, Export(path, FormatText, summary()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "S3 COMPATIBILITY CHECK SUMMARY")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Error(t, Export(filepath.Join(dir, "missing", "r.json"), FormatJSON, summary()))
}
