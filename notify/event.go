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

// Package notify publishes check results to message brokers and webhooks
// while a run progresses.
package notify

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/versity/s3compat/checker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type EventType string

const (
	EventCheckFinished    EventType = "s3compat:Check:Finished"
	EventCategoryFinished EventType = "s3compat:Category:Finished"
	EventRunFinished      EventType = "s3compat:Run:Finished"
	EventTest             EventType = "s3compat:TestEvent"
)

// Counts is the pass/fail/skip tally of a category or run.
type Counts struct {
	Total   int     `json:"total"`
	Passed  int     `json:"passed"`
	Failed  int     `json:"failed"`
	Skipped int     `json:"skipped"`
	Rate    float64 `json:"successRate"`
}

type CheckData struct {
	Name       string `json:"name"`
	Outcome    string `json:"outcome"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// Event is one published message.
type Event struct {
	ID        string     `json:"id"`
	EventName EventType  `json:"eventName"`
	EventTime string     `json:"eventTime"`
	RunID     string     `json:"runId"`
	Endpoint  string     `json:"endpoint,omitempty"`
	Category  string     `json:"category,omitempty"`
	Check     *CheckData `json:"check,omitempty"`
	Counts    *Counts    `json:"counts,omitempty"`
	Partial   bool       `json:"partial,omitempty"`
	Sequencer string     `json:"sequencer"`
}

var sequencer atomic.Uint64

func genSequencer() string {
	return fmt.Sprintf("%X", sequencer.Add(1))
}

func newEvent(name EventType, runID, endpoint string) Event {
	return Event{
		ID:        uuid.NewString(),
		EventName: name,
		EventTime: time.Now().UTC().Format(time.RFC3339),
		RunID:     runID,
		Endpoint:  endpoint,
		Sequencer: genSequencer(),
	}
}

func checkEvent(runID, endpoint string, r checker.Result) Event {
	ev := newEvent(EventCheckFinished, runID, endpoint)
	ev.Category = r.Category
	ev.Check = &CheckData{
		Name:       r.Name,
		Outcome:    r.Outcome.String(),
		Message:    r.Message,
		DurationMs: r.Duration.Milliseconds(),
	}
	return ev
}

func categoryEvent(runID, endpoint string, c checker.CategoryResult) Event {
	ev := newEvent(EventCategoryFinished, runID, endpoint)
	ev.Category = c.Name
	ev.Counts = &Counts{
		Total:   c.Total(),
		Passed:  c.Passed,
		Failed:  c.Failed,
		Skipped: c.Skipped,
		Rate:    c.SuccessRate(),
	}
	return ev
}

func runEvent(s checker.Summary) Event {
	ev := newEvent(EventRunFinished, s.RunID, s.Endpoint)
	ev.Counts = &Counts{
		Total:   s.Total,
		Passed:  s.Passed,
		Failed:  s.Failed,
		Skipped: s.Skipped,
		Rate:    s.SuccessRate(),
	}
	ev.Partial = s.Partial
	return ev
}

func generateTestEvent() ([]byte, error) {
	return json.Marshal(map[string]string{
		"Service": "s3compat",
		"Event":   string(EventTest),
		"Time":    time.Now().UTC().Format(time.RFC3339),
	})
}
