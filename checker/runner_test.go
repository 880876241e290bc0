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

package checker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/versity/s3compat/multipart"
	"github.com/versity/s3compat/s3err"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestRunner(reg *Registry, opts ...Option) *Runner {
	s := DefaultSettings()
	s.TeardownTimeout = 5 * time.Second
	return NewRunner(reg, append([]Option{WithLogger(quietLogger()), WithSettings(s)}, opts...)...)
}

type recorder struct {
	mu         sync.Mutex
	started    []string
	units      []string
	finished   []string
	summaries  int
	concurrent atomic.Int32
	maxSeen    atomic.Int32
}

func (r *recorder) CategoryStarted(c *Category) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, c.Name)
}
func (r *recorder) UnitFinished(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units = append(r.units, res.Category+"/"+res.Name)
}
func (r *recorder) CategoryFinished(c CategoryResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, c.Name)
}
func (r *recorder) RunFinished(Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries++
}

func TestUnitFaultIsolation(t *testing.T) {
	tests := []struct {
		name  string
		fault func(context.Context, *T) error
		msg   string
	}{
		{"panic", func(context.Context, *T) error { panic("boom") }, "unexpected fault: boom"},
		{"error", func(context.Context, *T) error { return errors.New("boom") }, "boom"},
		{"nil map write", func(context.Context, *T) error {
			var m map[string]int
			m["x"] = 1
			return nil
		}, "unexpected fault: assignment to entry in nil map"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			var ran []string
			unit := func(name string) Unit {
				return Unit{Name: name, Run: func(context.Context, *T) error {
					ran = append(ran, name)
					return nil
				}}
			}
			require.NoError(t, reg.Register("five", func() *Category {
				return &Category{Name: "five", Units: []Unit{
					unit("one"), unit("two"),
					{Name: "three", Run: tt.fault},
					unit("four"), unit("five"),
				}}
			}))

			sum, err := newTestRunner(reg).Run(context.Background(), []string{"all"})
			require.NoError(t, err)

			require.Len(t, sum.Categories, 1)
			cr := sum.Categories[0]
			require.Len(t, cr.Results, 5)
			assert.Equal(t, 4, cr.Passed)
			assert.Equal(t, 1, cr.Failed)
			assert.Equal(t, Fail, cr.Results[2].Outcome)
			assert.Equal(t, "three", cr.Results[2].Name)
			assert.Equal(t, tt.msg, cr.Results[2].Message)
			assert.Equal(t, []string{"one", "two", "four", "five"}, ran)
			assert.Equal(t, 1, sum.ExitCode())
			assert.Equal(t, cr.Total(), cr.Passed+cr.Failed+cr.Skipped)
		})
	}
}

func TestPanicDetail(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("p", func() *Category {
		return &Category{Name: "p", Units: []Unit{{Name: "bad", Run: func(context.Context, *T) error { panic("kaboom") }}}}
	}))

	sum, err := newTestRunner(reg).Run(context.Background(), nil)
	require.NoError(t, err)
	res := sum.Categories[0].Results[0]
	assert.Equal(t, "unexpected fault: kaboom", res.Message)
	assert.Equal(t, "kaboom", res.Detail["panic"])
	assert.Contains(t, res.Detail["stack"], "runUnit")
}

func TestUnknownScopeRunsNothing(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry()
	for _, n := range []string{"buckets", "objects"} {
		require.NoError(t, reg.Register(n, func() *Category {
			return &Category{Name: n, Units: []Unit{{Name: "u", Run: func(context.Context, *T) error {
				calls.Add(1)
				return nil
			}}}}
		}))
	}
	preflight := false

	sum, err := newTestRunner(reg, WithPreflight(func(context.Context) error {
		preflight = true
		return nil
	})).Run(context.Background(), []string{"all", "buckets", "nonexistent"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, s3err.Configuration))
	assert.Zero(t, sum.Total)
	assert.Empty(t, sum.Categories)
	assert.Zero(t, calls.Load())
	assert.False(t, preflight)
}

func TestPreflightFailure(t *testing.T) {
	reg := testRegistry(t, "buckets")
	sum, err := newTestRunner(reg, WithPreflight(func(context.Context) error {
		return errors.New("connection refused")
	})).Run(context.Background(), nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, s3err.Configuration))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Zero(t, sum.Total)
}

func TestOutcomes(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("mixed", func() *Category {
		return &Category{Name: "mixed", Units: []Unit{
			{Name: "pass", Run: func(_ context.Context, t *T) error {
				t.Messagef("all %d good", 3)
				t.Detail("size", 3)
				return nil
			}},
			{Name: "skip", Run: func(context.Context, *T) error { return Skipf("backend has no %v", "versioning") }},
			{Name: "mismatch", Run: func(context.Context, *T) error { return s3err.Mismatch("content length", 10, 9) }},
		}}
	}))

	sum, err := newTestRunner(reg).Run(context.Background(), nil)
	require.NoError(t, err)

	r := sum.Categories[0].Results
	assert.Equal(t, Pass, r[0].Outcome)
	assert.Equal(t, "all 3 good", r[0].Message)
	assert.Equal(t, 3, r[0].Detail["size"])

	assert.Equal(t, Skipped, r[1].Outcome)
	assert.Equal(t, "skipped: backend has no versioning", r[1].Message)

	assert.Equal(t, Fail, r[2].Outcome)
	assert.Equal(t, "AssertionMismatch", r[2].Detail["error_kind"])

	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Skipped)
	assert.InDelta(t, 1.0/3.0, sum.SuccessRate(), 1e-9)
	assert.Len(t, sum.FailedResults(), 1)
	assert.Len(t, sum.SkippedResults(), 1)
	assert.Equal(t, 1, sum.ExitCode())
}

func TestSkippedDoesNotFailRun(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("s", func() *Category {
		return &Category{Name: "s", Units: []Unit{{Name: "u", Run: func(context.Context, *T) error { return Skipf("n/a") }}}}
	}))
	sum, err := newTestRunner(reg).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.ExitCode())
	assert.Equal(t, 1, sum.Skipped)
}

func TestSetupFailureSkipsUnits(t *testing.T) {
	var torn, ran atomic.Int32
	reg := NewRegistry()
	require.NoError(t, reg.Register("broken", func() *Category {
		return &Category{
			Name:  "broken",
			Setup: func(context.Context, *Env) error { return errors.New("bucket quota exceeded") },
			Teardown: func(context.Context, *Env) error {
				torn.Add(1)
				return errors.New("nothing to tear down")
			},
			Units: []Unit{
				{Name: "a", Run: func(context.Context, *T) error { ran.Add(1); return nil }},
				{Name: "b", Run: func(context.Context, *T) error { ran.Add(1); return nil }},
			},
		}
	}))
	require.NoError(t, reg.Register("healthy", simple("healthy", "x")))

	rec := &recorder{}
	sum, err := newTestRunner(reg, WithObservers(rec)).Run(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, sum.Categories, 2)
	broken := sum.Categories[0]
	assert.Equal(t, 2, broken.Skipped)
	assert.Contains(t, broken.SetupError, "FixtureSetupError")
	for _, r := range broken.Results {
		assert.Equal(t, Skipped, r.Outcome)
		assert.Contains(t, r.Message, "bucket quota exceeded")
	}
	assert.Zero(t, ran.Load())
	assert.Equal(t, int32(1), torn.Load())

	assert.Equal(t, 1, sum.Categories[1].Passed)
	assert.Equal(t, 0, sum.ExitCode())
	assert.Equal(t, []string{"broken", "healthy"}, rec.finished)
	assert.Equal(t, 1, rec.summaries)
}

func TestSetupPanic(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("p", func() *Category {
		return &Category{
			Name:  "p",
			Setup: func(context.Context, *Env) error { panic("nil client") },
			Units: []Unit{{Name: "u", Run: noop}},
		}
	}))
	sum, err := newTestRunner(reg).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Contains(t, sum.Categories[0].SetupError, "nil client")
}

func TestEmptySummary(t *testing.T) {
	var s Summary
	assert.Zero(t, s.SuccessRate())
	assert.Zero(t, s.ExitCode())
	assert.Zero(t, CategoryResult{}.SuccessRate())
}

// fakeMultipart implements just enough of multipart.API to open and abort
// sessions.
type fakeMultipart struct {
	multipart.API
	aborts atomic.Int32
}

func (f *fakeMultipart) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	id := "upload-" + *in.Key
	return &s3.CreateMultipartUploadOutput{UploadId: &id}, nil
}

func (f *fakeMultipart) AbortMultipartUpload(ctx context.Context, _ *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.aborts.Add(1)
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestCancellationPartialSummary(t *testing.T) {
	api := &fakeMultipart{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var torn atomic.Int32
	reg := NewRegistry()
	require.NoError(t, reg.Register("first", simple("first", "a", "b")))
	require.NoError(t, reg.Register("second", func() *Category {
		return &Category{
			Name:     "second",
			Teardown: func(context.Context, *Env) error { torn.Add(1); return nil },
			Units: []Unit{
				{Name: "ok", Run: noop},
				{Name: "upload", Run: func(ctx context.Context, t *T) error {
					_, err := multipart.Begin(ctx, api, "bucket", "key", t.MultipartOptions()...)
					if err != nil {
						return err
					}
					cancel()
					return ctx.Err()
				}},
				{Name: "never", Run: func(context.Context, *T) error {
					panic("ran after cancellation")
				}},
			},
		}
	}))
	require.NoError(t, reg.Register("third", simple("third", "c")))

	r := newTestRunner(reg)
	sum, err := r.Run(ctx, nil)
	require.NoError(t, err)

	assert.True(t, sum.Partial)
	assert.Equal(t, []string{"second"}, sum.Interrupted)
	require.Len(t, sum.Categories, 1)
	assert.Equal(t, "first", sum.Categories[0].Name)
	assert.Equal(t, 2, sum.Passed)
	assert.Equal(t, 0, sum.ExitCode())

	assert.Equal(t, int32(1), api.aborts.Load())
	assert.Equal(t, int32(1), torn.Load())
	_, _, uploads := r.Ledger().Len()
	assert.Zero(t, uploads)
}

func TestParallelDeterministicOrder(t *testing.T) {
	reg := NewRegistry()
	var active, peak atomic.Int32
	var mu sync.Mutex
	var finished []string
	sleepy := func(name string, d time.Duration, independent bool) Factory {
		return func() *Category {
			return &Category{Name: name, Independent: independent, Units: []Unit{{Name: name + "_unit", Run: func(context.Context, *T) error {
				defer func() {
					mu.Lock()
					finished = append(finished, name)
					mu.Unlock()
				}()
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(d)
				active.Add(-1)
				return nil
			}}}}
		}
	}
	require.NoError(t, reg.Register("slow", sleepy("slow", 60*time.Millisecond, true)))
	require.NoError(t, reg.Register("ordered", sleepy("ordered", time.Millisecond, false)))
	require.NoError(t, reg.Register("medium", sleepy("medium", 30*time.Millisecond, true)))
	require.NoError(t, reg.Register("fast", sleepy("fast", time.Millisecond, true)))

	for range 3 {
		finished = nil
		sum, err := newTestRunner(reg, WithParallel(3)).Run(context.Background(), nil)
		require.NoError(t, err)

		var names []string
		for _, c := range sum.Categories {
			names = append(names, c.Name)
		}
		assert.Equal(t, []string{"slow", "ordered", "medium", "fast"}, names)
		assert.Equal(t, 4, sum.Passed)
		// sequential categories still run after the parallel group
		require.Len(t, finished, 4)
		assert.Equal(t, "ordered", finished[3])
	}
	assert.Greater(t, peak.Load(), int32(1))
}

type fakeReleaser struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeReleaser) DeleteObject(_ context.Context, bucket, key, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("object %v/%v@%v", bucket, key, version))
	return nil
}

func (f *fakeReleaser) DeleteBucket(_ context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "bucket "+bucket)
	if bucket == "stuck" {
		return errors.New("BucketNotEmpty")
	}
	return nil
}

func fixtureCategory(name string) Factory {
	return func() *Category {
		return &Category{
			Name: name,
			Setup: func(_ context.Context, env *Env) error {
				env.Fixtures.Bucket(name + "-bucket")
				return nil
			},
			Units: []Unit{{Name: "put", Run: func(_ context.Context, t *T) error {
				t.Fixtures.Object(name+"-bucket", "key", "")
				return nil
			}}},
		}
	}
}

func TestCleanupPolicy(t *testing.T) {
	tests := []struct {
		name    string
		cleanup bool
		want    []string
	}{
		{"enabled", true, []string{"object a-bucket/key@", "bucket a-bucket", "object b-bucket/key@", "bucket b-bucket"}},
		{"disabled", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			require.NoError(t, reg.Register("a", fixtureCategory("a")))
			require.NoError(t, reg.Register("b", fixtureCategory("b")))

			rel := &fakeReleaser{}
			s := DefaultSettings()
			s.Cleanup = tt.cleanup
			r := NewRunner(reg, WithLogger(quietLogger()), WithSettings(s), WithReleaser(rel))
			_, err := r.Run(context.Background(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rel.calls)
		})
	}
}
