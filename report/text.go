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

// Package report renders a run Summary for people and exports it for
// machines.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/versity/s3compat/checker"
)

const (
	wide   = 60
	narrow = 40
)

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func percent(r float64) string {
	return fmt.Sprintf("%.1f%%", r*100)
}

// Text writes the human readable summary.
func Text(w io.Writer, s checker.Summary) error {
	var b strings.Builder
	line := func(format string, a ...any) {
		fmt.Fprintf(&b, format+"\n", a...)
	}
	rule := func(c string, n int) {
		b.WriteString(strings.Repeat(c, n) + "\n")
	}

	rule("=", wide)
	line("S3 COMPATIBILITY CHECK SUMMARY")
	rule("=", wide)
	line("")
	if s.Endpoint != "" {
		line("Endpoint: %v", s.Endpoint)
	}
	if s.RunID != "" {
		line("Run ID: %v", s.RunID)
	}
	line("Total Categories: %d", len(s.Categories))
	line("Total Checks: %d", s.Total)
	line("Passed: %d", s.Passed)
	line("Failed: %d", s.Failed)
	line("Skipped: %d", s.Skipped)
	line("Success Rate: %v", percent(s.SuccessRate()))
	line("Duration: %v", seconds(s.Duration))
	if s.Partial {
		line("Partial run, interrupted: %v", strings.Join(s.Interrupted, ", "))
	}
	line("")

	line("CATEGORY RESULTS:")
	rule("-", narrow)
	for _, c := range s.Categories {
		mark := "✓"
		if c.Failed > 0 {
			mark = "✗"
		}
		line("%v %v: %d/%d (%v) [%v]", mark, c.Name, c.Passed, c.Total(), percent(c.SuccessRate()), seconds(c.Duration))
		if c.SetupError != "" {
			line("  Setup: %v", c.SetupError)
		}
	}
	line("")

	if failed := s.FailedResults(); len(failed) > 0 {
		line("FAILED CHECKS:")
		rule("-", narrow)
		for _, r := range failed {
			line("✗ %v.%v", r.Category, r.Name)
			line("  Message: %v", r.Message)
			if len(r.Detail) > 0 {
				line("  Details: %v", detailString(r.Detail))
			}
			line("")
		}
	} else if s.Total > 0 {
		line("All checks passed!")
		line("")
	}

	if skipped := s.SkippedResults(); len(skipped) > 0 {
		line("SKIPPED CHECKS:")
		rule("-", narrow)
		for _, r := range skipped {
			line("- %v.%v: %v", r.Category, r.Name, r.Message)
		}
		line("")
	}

	rule("=", wide)
	_, err := io.WriteString(w, b.String())
	return err
}

// detailString renders a detail map as JSON with sorted keys.
func detailString(d map[string]any) string {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Sprint(d)
	}
	return string(b)
}
