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
	"fmt"
	"strings"
	"time"
)

// Outcome is the verdict of one check unit.
type Outcome int

const (
	Pass Outcome = iota
	Fail
	Skipped
)

var outcomeNames = []string{"PASS", "FAIL", "SKIP"}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	for i, n := range outcomeNames {
		if strings.EqualFold(n, string(b)) {
			*o = Outcome(i)
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// Result is the record of one executed check unit.
type Result struct {
	Name      string         `json:"name" yaml:"name"`
	Category  string         `json:"category" yaml:"category"`
	Outcome   Outcome        `json:"outcome" yaml:"outcome"`
	Message   string         `json:"message" yaml:"message"`
	StartedAt time.Time      `json:"started_at" yaml:"started_at"`
	Duration  time.Duration  `json:"duration" yaml:"duration"`
	Detail    map[string]any `json:"raw_detail,omitempty" yaml:"raw_detail,omitempty"`
}

// CategoryResult aggregates the results of one category in execution order.
type CategoryResult struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Results     []Result      `json:"results" yaml:"results"`
	Passed      int           `json:"passed" yaml:"passed"`
	Failed      int           `json:"failed" yaml:"failed"`
	Skipped     int           `json:"skipped" yaml:"skipped"`
	StartedAt   time.Time     `json:"started_at" yaml:"started_at"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	SetupError  string        `json:"setup_error,omitempty" yaml:"setup_error,omitempty"`
}

func (c *CategoryResult) add(r Result) {
	c.Results = append(c.Results, r)
	switch r.Outcome {
	case Pass:
		c.Passed++
	case Fail:
		c.Failed++
	case Skipped:
		c.Skipped++
	}
}

func (c CategoryResult) Total() int {
	return c.Passed + c.Failed + c.Skipped
}

func (c CategoryResult) SuccessRate() float64 {
	return rate(c.Passed, c.Total())
}

// Summary is the aggregate of a run. It is built by the Runner and must not
// be modified once Run returns.
type Summary struct {
	RunID       string           `json:"run_id" yaml:"run_id"`
	Endpoint    string           `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	StartedAt   time.Time        `json:"started_at" yaml:"started_at"`
	Duration    time.Duration    `json:"duration" yaml:"duration"`
	Categories  []CategoryResult `json:"categories" yaml:"categories"`
	Total       int              `json:"total" yaml:"total"`
	Passed      int              `json:"passed" yaml:"passed"`
	Failed      int              `json:"failed" yaml:"failed"`
	Skipped     int              `json:"skipped" yaml:"skipped"`
	Partial     bool             `json:"partial,omitempty" yaml:"partial,omitempty"`
	Interrupted []string         `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
}

func (s *Summary) append(c CategoryResult) {
	s.Categories = append(s.Categories, c)
	s.Passed += c.Passed
	s.Failed += c.Failed
	s.Skipped += c.Skipped
	s.Total += c.Total()
}

// SuccessRate is passed/total, 0 for an empty run.
func (s Summary) SuccessRate() float64 {
	return rate(s.Passed, s.Total)
}

// ExitCode is non-zero iff at least one unit failed.
func (s Summary) ExitCode() int {
	if s.Failed > 0 {
		return 1
	}
	return 0
}

func (s Summary) FailedResults() []Result {
	return s.filter(Fail)
}

func (s Summary) SkippedResults() []Result {
	return s.filter(Skipped)
}

func (s Summary) filter(o Outcome) []Result {
	var out []Result
	for _, c := range s.Categories {
		for _, r := range c.Results {
			if r.Outcome == o {
				out = append(out, r)
			}
		}
	}
	return out
}

func rate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total)
}
