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

// Package runlog sets up the run logger and prints check progress.
package runlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type Options struct {
	// Level is debug, info, warning or error.
	Level string
	// File receives every log entry and one JSON entry per check result.
	File string
	// Console enables log output on stderr.
	Console bool
	// Quiet limits console output to errors.
	Quiet bool
	// Console output for tests.
	Stderr io.Writer
}

// Logger is the run logger. Entries are routed by hooks so the console and
// the log file can filter independently.
type Logger struct {
	*logrus.Logger
	results *logrus.Logger
	file    *os.File
}

// ParseLevel accepts logrus level names, "warn" and "warning" included.
func ParseLevel(s string) (logrus.Level, error) {
	if s == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(strings.ToLower(s))
}

func New(o Options) (*Logger, error) {
	level, err := ParseLevel(o.Level)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(level)

	l := &Logger{Logger: log}

	if o.Console {
		w := o.Stderr
		if w == nil {
			w = os.Stderr
		}
		consoleLevel := level
		if o.Quiet {
			consoleLevel = logrus.ErrorLevel
		}
		log.AddHook(&writerHook{
			w:         w,
			formatter: &logrus.TextFormatter{FullTimestamp: true},
			levels:    levelsUpTo(consoleLevel),
		})
	}

	if o.File != "" {
		f, err := os.OpenFile(o.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		log.AddHook(&writerHook{
			w:         f,
			formatter: &logrus.JSONFormatter{},
			levels:    levelsUpTo(level),
		})

		l.results = logrus.New()
		l.results.SetOutput(f)
		l.results.SetFormatter(&resultFormatter{})
		l.results.SetLevel(logrus.InfoLevel)
	}

	return l, nil
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

func levelsUpTo(max logrus.Level) []logrus.Level {
	var out []logrus.Level
	for _, lv := range logrus.AllLevels {
		if lv <= max {
			out = append(out, lv)
		}
	}
	return out
}

// writerHook formats entries of the given levels onto w.
type writerHook struct {
	mu        sync.Mutex
	w         io.Writer
	formatter logrus.Formatter
	levels    []logrus.Level
}

func (h *writerHook) Levels() []logrus.Level {
	return h.levels
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(b)
	return err
}
