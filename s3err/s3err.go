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

package s3err

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the run. Only ErrConfiguration escapes the
// engine; every other kind ends up as a CheckResult.
type Kind int

const (
	ErrNone Kind = iota
	ErrConfiguration
	ErrSessionInit
	ErrPartUpload
	ErrCompletion
	ErrTransport
	ErrAssertionMismatch
	ErrFixtureSetup
)

var kindNames = map[Kind]string{
	ErrNone:              "None",
	ErrConfiguration:     "ConfigurationError",
	ErrSessionInit:       "SessionInitError",
	ErrPartUpload:        "PartUploadError",
	ErrCompletion:        "CompletionError",
	ErrTransport:         "TransportError",
	ErrAssertionMismatch: "AssertionMismatch",
	ErrFixtureSetup:      "FixtureSetupError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a classified failure. Op names the operation that failed
// (e.g. "UploadPart", "scope"), Err is the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Op == "":
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Op)
	}
	return fmt.Sprintf("%v: %v: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match for any *Error of the same Kind, so callers can test
// errors.Is(err, s3err.Configuration) without caring about Op or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Bare kind values for errors.Is comparisons.
var (
	Configuration     = &Error{Kind: ErrConfiguration}
	SessionInit       = &Error{Kind: ErrSessionInit}
	PartUpload        = &Error{Kind: ErrPartUpload}
	Completion        = &Error{Kind: ErrCompletion}
	Transport         = &Error{Kind: ErrTransport}
	AssertionMismatch = &Error{Kind: ErrAssertionMismatch}
	FixtureSetup      = &Error{Kind: ErrFixtureSetup}
)

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op, format string, a ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, a...)}
}

// Mismatch builds an AssertionMismatch carrying both values.
func Mismatch(what string, expected, observed any) *Error {
	return &Error{
		Kind: ErrAssertionMismatch,
		Op:   what,
		Err:  fmt.Errorf("expected %v, got %v", expected, observed),
	}
}

// KindOf returns the Kind of the outermost classified error in the chain,
// or ErrNone.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrNone
}
