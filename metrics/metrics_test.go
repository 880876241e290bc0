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

package metrics

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/versity/s3compat/checker"
)

type point struct {
	kind  string
	name  string
	value int64
	tags  []Tag
}

type recorder struct {
	mu     sync.Mutex
	points []point
	closed bool
}

func (r *recorder) record(kind, module, key string, value int64, tags []Tag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, point{kind, module + "." + key, value, tags})
}

func (r *recorder) Add(module, key string, value int64, tags ...Tag) {
	r.record("add", module, key, value, tags)
}

func (r *recorder) Gauge(module, key string, value int64, tags ...Tag) {
	r.record("gauge", module, key, value, tags)
}

func (r *recorder) Close() error {
	r.closed = true
	return nil
}

func (r *recorder) find(kind, name string) []point {
	var out []point
	for _, p := range r.points {
		if p.kind == kind && p.name == name {
			out = append(out, p)
		}
	}
	return out
}

func TestNewManagerDisabled(t *testing.T) {
	m, err := NewManager(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestManagerObserver(t *testing.T) {
	rec := &recorder{}
	m := newManager(context.Background(), rec)

	m.UnitFinished(checker.Result{Category: "objects", Outcome: checker.Pass, Duration: 20 * time.Millisecond})
	m.UnitFinished(checker.Result{Category: "objects", Outcome: checker.Fail, Duration: 5 * time.Millisecond})
	m.UnitFinished(checker.Result{Category: "objects", Outcome: checker.Skipped})
	m.CategoryFinished(checker.CategoryResult{Name: "objects", Passed: 1, Failed: 1, Skipped: 1})
	m.RunFinished(checker.Summary{Total: 4, Passed: 3, Failed: 1})
	require.NoError(t, m.Close())
	assert.True(t, rec.closed)

	for _, name := range []string{"check.pass_count", "check.fail_count", "check.skip_count"} {
		got := rec.find("add", name)
		require.Len(t, got, 1, name)
		assert.Equal(t, int64(1), got[0].value)
		assert.Equal(t, []Tag{{Key: "category", Value: "objects"}}, got[0].tags)
	}

	var total int64
	for _, p := range rec.find("add", "check.duration_ms") {
		total += p.value
	}
	assert.Equal(t, int64(25), total)

	failed := rec.find("gauge", "category.failed")
	require.Len(t, failed, 1)
	assert.Equal(t, int64(1), failed[0].value)

	rate := rec.find("gauge", "run.success_permille")
	require.Len(t, rate, 1)
	assert.Equal(t, int64(750), rate[0].value)

	// a closed manager may be closed again
	assert.NoError(t, m.Close())
}

func TestManagerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	m := newManager(ctx, rec)
	cancel()

	m.Increment("check", "pass_count")
	m.Gauge("run", "total", 1)
	require.NoError(t, m.Close())
	assert.Empty(t, rec.points)
}

func TestPromName(t *testing.T) {
	assert.Equal(t, "s3compat_check_pass_count", promName("check", "pass_count"))
	assert.Equal(t, "s3compat_run_a_b", promName("run", "a-b"))
}

func TestPrometheusTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s3compat.prom")
	m, err := NewManager(context.Background(), Config{ServiceName: "ci", PrometheusFile: path})
	require.NoError(t, err)
	require.NotNil(t, m)

	m.UnitFinished(checker.Result{Category: "buckets", Outcome: checker.Pass})
	m.UnitFinished(checker.Result{Category: "buckets", Outcome: checker.Pass})
	m.RunFinished(checker.Summary{Total: 2, Passed: 2})
	require.NoError(t, m.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, `s3compat_check_pass_count{category="buckets",service="ci"} 2`)
	assert.Contains(t, out, `s3compat_run_passed{service="ci"} 2`)
	assert.Contains(t, out, "# TYPE s3compat_run_total gauge")
}
