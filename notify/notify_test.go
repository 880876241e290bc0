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

package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/versity/s3compat/checker"
)

type recordSender struct {
	mu     sync.Mutex
	events []Event
	bodies [][]byte
	err    error
	closed bool
}

func (r *recordSender) Name() string { return "record" }

func (r *recordSender) Send(_ context.Context, ev Event, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.bodies = append(r.bodies, body)
	return r.err
}

func (r *recordSender) Close() error {
	r.closed = true
	return nil
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    Filter
		wantErr bool
	}{
		{"", FilterAll, false},
		{"all", FilterAll, false},
		{" Failed ", FilterFailed, false},
		{"NONE", FilterNone, false},
		{"passed", FilterAll, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f, err := ParseFilter(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f)
		})
	}
}

func TestFilterCheck(t *testing.T) {
	assert.True(t, FilterAll.Check(checker.Pass))
	assert.True(t, FilterAll.Check(checker.Skipped))
	assert.False(t, FilterFailed.Check(checker.Pass))
	assert.True(t, FilterFailed.Check(checker.Fail))
	assert.False(t, FilterNone.Check(checker.Fail))
	assert.True(t, FilterFailed.Summaries())
	assert.False(t, FilterNone.Summaries())
}

func TestEvents(t *testing.T) {
	r := checker.Result{
		Name:     "object_download",
		Category: "objects",
		Outcome:  checker.Fail,
		Message:  "content mismatch",
		Duration: 1500 * time.Millisecond,
	}
	ev := checkEvent("run-1", "http://localhost:7070", r)
	assert.Equal(t, EventCheckFinished, ev.EventName)
	assert.Equal(t, "objects", ev.Category)
	assert.Equal(t, "FAIL", ev.Check.Outcome)
	assert.Equal(t, int64(1500), ev.Check.DurationMs)
	assert.NotEmpty(t, ev.ID)

	next := checkEvent("run-1", "", r)
	assert.NotEqual(t, ev.ID, next.ID)
	assert.NotEqual(t, ev.Sequencer, next.Sequencer)

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "s3compat:Check:Finished", decoded["eventName"])
	assert.NotContains(t, decoded, "counts")

	s := checker.Summary{RunID: "run-2", Total: 4, Passed: 3, Failed: 1, Partial: true}
	rev := runEvent(s)
	assert.Equal(t, "run-2", rev.RunID)
	assert.Equal(t, 0.75, rev.Counts.Rate)
	assert.True(t, rev.Partial)

	cev := categoryEvent("run-2", "", checker.CategoryResult{Name: "tagging", Passed: 2, Skipped: 2})
	assert.Equal(t, 4, cev.Counts.Total)
	assert.Equal(t, 0.5, cev.Counts.Rate)
}

func TestNotifier(t *testing.T) {
	results := []checker.Result{
		{Name: "a", Category: "objects", Outcome: checker.Pass},
		{Name: "b", Category: "objects", Outcome: checker.Fail},
		{Name: "c", Category: "objects", Outcome: checker.Skipped},
	}
	tests := []struct {
		filter Filter
		names  []EventType
	}{
		{FilterAll, []EventType{EventCheckFinished, EventCheckFinished, EventCheckFinished, EventCategoryFinished, EventRunFinished}},
		{FilterFailed, []EventType{EventCheckFinished, EventCategoryFinished, EventRunFinished}},
		{FilterNone, nil},
	}
	for _, tt := range tests {
		t.Run(tt.filter.String(), func(t *testing.T) {
			log, _ := test.NewNullLogger()
			rec := &recordSender{}
			n := newNotifier("run", "", tt.filter, log, rec)

			n.CategoryStarted(&checker.Category{Name: "objects"})
			for _, r := range results {
				n.UnitFinished(r)
			}
			n.CategoryFinished(checker.CategoryResult{Name: "objects"})
			n.RunFinished(checker.Summary{RunID: "run"})
			require.NoError(t, n.Close(context.Background()))

			var got []EventType
			for _, ev := range rec.events {
				got = append(got, ev.EventName)
			}
			assert.Equal(t, tt.names, got)
			assert.True(t, rec.closed)
		})
	}
}

func TestNotifierSendFailure(t *testing.T) {
	log, hook := test.NewNullLogger()
	rec := &recordSender{err: errors.New("broker down")}
	n := newNotifier("run", "", FilterAll, log, rec)

	n.UnitFinished(checker.Result{Name: "a", Outcome: checker.Pass})
	require.NoError(t, n.Close(context.Background()))

	require.Len(t, rec.events, 1)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "failed to send result event", hook.LastEntry().Message)
}

func TestNewWithoutDestinations(t *testing.T) {
	log, _ := test.NewNullLogger()
	n, err := New(context.Background(), Config{Filter: "failed"}, log)
	require.NoError(t, err)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Close(context.Background()))

	_, err = New(context.Background(), Config{Filter: "bogus"}, log)
	assert.Error(t, err)

	_, err = New(context.Background(), Config{NatsURL: "nats://127.0.0.1:4222"}, log)
	assert.ErrorContains(t, err, "topic should be specified")
}
