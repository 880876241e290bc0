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
	"strings"

	"github.com/versity/s3compat/checker"
)

const (
	moduleCheck    = "check"
	moduleCategory = "category"
	moduleRun      = "run"
)

func outcomeKey(o checker.Outcome) string {
	return strings.ToLower(o.String()) + "_count"
}

func (m *Manager) CategoryStarted(*checker.Category) {}

// UnitFinished counts the outcome and the time spent, tagged by category.
func (m *Manager) UnitFinished(r checker.Result) {
	tags := []Tag{{Key: "category", Value: r.Category}}
	m.Increment(moduleCheck, outcomeKey(r.Outcome), tags...)
	m.Add(moduleCheck, "duration_ms", r.Duration.Milliseconds(), tags...)
}

func (m *Manager) CategoryFinished(c checker.CategoryResult) {
	tags := []Tag{{Key: "category", Value: c.Name}}
	m.Gauge(moduleCategory, "passed", int64(c.Passed), tags...)
	m.Gauge(moduleCategory, "failed", int64(c.Failed), tags...)
	m.Gauge(moduleCategory, "skipped", int64(c.Skipped), tags...)
	m.Gauge(moduleCategory, "duration_ms", c.Duration.Milliseconds(), tags...)
}

func (m *Manager) RunFinished(s checker.Summary) {
	m.Gauge(moduleRun, "total", int64(s.Total))
	m.Gauge(moduleRun, "passed", int64(s.Passed))
	m.Gauge(moduleRun, "failed", int64(s.Failed))
	m.Gauge(moduleRun, "skipped", int64(s.Skipped))
	m.Gauge(moduleRun, "success_permille", int64(s.SuccessRate()*1000))
	m.Gauge(moduleRun, "duration_ms", s.Duration.Milliseconds())
}
