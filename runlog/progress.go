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
	"fmt"
	"io"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/versity/s3compat/checker"
)

var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

var dumper = spew.ConfigState{
	Indent:                  "  ",
	SortKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Progress prints one line per category and check as the run goes and
// writes each result to the log file. It is a checker.Observer.
type Progress struct {
	out      io.Writer
	log      *Logger
	color    bool
	quiet    bool
	detailed bool

	RunCount  int
	PassCount int
	FailCount int
	SkipCount int
}

type ProgressOption func(*Progress)

// WithOutput sets the progress destination, stdout by default. A nil
// writer silences progress lines.
func WithOutput(w io.Writer) ProgressOption {
	return func(p *Progress) { p.out = w }
}

func WithColor(c bool) ProgressOption {
	return func(p *Progress) { p.color = c }
}

// WithQuiet only prints failures.
func WithQuiet() ProgressOption {
	return func(p *Progress) { p.quiet = true }
}

// WithDetail dumps the raw detail of failed checks.
func WithDetail() ProgressOption {
	return func(p *Progress) { p.detailed = true }
}

func NewProgress(log *Logger, opts ...ProgressOption) *Progress {
	p := &Progress{
		out:   os.Stdout,
		log:   log,
		color: os.Getenv("NO_COLOR") == "",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Progress) label(color, label string) string {
	if !p.color || color == "" {
		return label
	}
	return color + label + colorReset
}

func (p *Progress) printf(color, label, format string, a ...any) {
	if p.out == nil {
		return
	}
	fmt.Fprintf(p.out, p.label(color, label)+format+"\n", a...)
}

func (p *Progress) CategoryStarted(c *checker.Category) {
	if p.quiet {
		return
	}
	p.printf(colorCyan, "RUN  ", "%v (%d checks)", c.Name, len(c.Units))
}

func (p *Progress) UnitFinished(r checker.Result) {
	p.RunCount++
	if p.log != nil {
		p.log.logResult(r)
	}

	switch r.Outcome {
	case checker.Pass:
		p.PassCount++
		if !p.quiet {
			p.printf(colorGreen, "PASS ", "%v.%v", r.Category, r.Name)
		}
	case checker.Skipped:
		p.SkipCount++
		if !p.quiet {
			p.printf(colorYellow, "SKIP ", "%v.%v: %v", r.Category, r.Name, r.Message)
		}
	default:
		p.FailCount++
		p.printf(colorRed, "FAIL ", "%v.%v: %v", r.Category, r.Name, r.Message)
		if p.detailed && len(r.Detail) > 0 && p.out != nil {
			dumper.Fdump(p.out, r.Detail)
		}
	}
}

func (p *Progress) CategoryFinished(c checker.CategoryResult) {
	if p.log != nil {
		entry := p.log.WithField("category", c.Name).
			WithField("passed", c.Passed).
			WithField("failed", c.Failed).
			WithField("skipped", c.Skipped).
			WithField("duration", c.Duration)
		if c.SetupError != "" {
			entry.WithField("setup_error", c.SetupError).Warn("category setup failed")
		} else {
			entry.Info("category finished")
		}
	}
}

func (p *Progress) RunFinished(s checker.Summary) {
	if p.log != nil {
		entry := p.log.WithField("passed", s.Passed).
			WithField("failed", s.Failed).
			WithField("skipped", s.Skipped).
			WithField("total", s.Total)
		if s.Partial {
			entry.WithField("interrupted", s.Interrupted).Warn("run interrupted, summary is partial")
		} else {
			entry.Info("all checks completed")
		}
	}
	if !p.quiet {
		p.printf("", "", "RUN %d, PASS %d, FAIL %d, SKIP %d", p.RunCount, p.PassCount, p.FailCount, p.SkipCount)
	}
}
