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
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/versity/s3compat/s3client"
	"github.com/versity/s3compat/s3err"
)

// Tolerance is the verdict of a partial compliance check: Matched of Total
// expected fields were observed intact.
type Tolerance struct {
	Total      int
	Matched    int
	Threshold  float64
	Missing    []string
	Mismatched []string
}

// Ratio is Matched/Total. Nothing expected counts as fully preserved.
func (t Tolerance) Ratio() float64 {
	if t.Total == 0 {
		return 1
	}
	return float64(t.Matched) / float64(t.Total)
}

// Pass reports whether the ratio reaches the threshold, boundary included.
func (t Tolerance) Pass() bool {
	return t.Ratio() >= t.Threshold
}

func (t Tolerance) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d fields preserved (ratio %.2f, threshold %.2f)",
		t.Matched, t.Total, t.Ratio(), t.Threshold)
	if len(t.Missing) > 0 {
		fmt.Fprintf(&b, "; missing: %v", t.Missing)
	}
	if len(t.Mismatched) > 0 {
		fmt.Fprintf(&b, "; mismatched: %v", t.Mismatched)
	}
	return b.String()
}

// Err is nil when the check passes and an AssertionMismatch otherwise.
func (t Tolerance) Err() error {
	if t.Pass() {
		return nil
	}
	return s3err.New(s3err.ErrAssertionMismatch, "tolerance", errors.New(t.String()))
}

// CompareFields counts the expected fields present in observed with an
// equal value. eq defaults to string equality.
func CompareFields(expected, observed map[string]string, threshold float64, eq func(want, got string) bool) Tolerance {
	if eq == nil {
		eq = func(want, got string) bool { return want == got }
	}

	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := Tolerance{Total: len(expected), Threshold: threshold}
	for _, k := range keys {
		got, ok := observed[k]
		switch {
		case !ok:
			t.Missing = append(t.Missing, k)
		case !eq(expected[k], got):
			t.Mismatched = append(t.Mismatched, fmt.Sprintf("%v=%q (want %q)", k, got, expected[k]))
		default:
			t.Matched++
		}
	}
	return t
}

// ExpectStatus judges a negative check. The response passes when its status
// is one of acceptable. A success outside the set fails, so does a transport
// fault. A request the sdk refused to send never reached the backend and is
// Skipped.
func ExpectStatus(resp s3client.Response, acceptable ...int) error {
	if resp.Status == 0 && resp.Err != nil {
		if s3err.IsClientSide(resp.Err) {
			return Skipf("%v rejected before reaching backend: %v", resp.Operation, resp.Err)
		}
		return resp.Err
	}
	if slices.Contains(acceptable, resp.Status) {
		return nil
	}
	if resp.Err == nil && resp.Status >= 200 && resp.Status < 300 {
		return s3err.Errorf(s3err.ErrAssertionMismatch, resp.Operation,
			"request unexpectedly succeeded with %v, expected one of %v", resp.Status, acceptable)
	}
	return s3err.Mismatch(resp.Operation+" status", statusSet(acceptable), statusText(resp))
}

// ExpectRejection is ExpectStatus for requests that must never be accepted:
// a refusal by the sdk itself also counts.
func ExpectRejection(resp s3client.Response, acceptable ...int) error {
	if resp.Status == 0 && resp.Err != nil && s3err.IsClientSide(resp.Err) {
		return nil
	}
	return ExpectStatus(resp, acceptable...)
}

// ExpectOK fails unless resp is a 2xx without error.
func ExpectOK(resp s3client.Response) error {
	if resp.OK() {
		return nil
	}
	if resp.Err != nil {
		return fmt.Errorf("%v: %w", resp.Operation, resp.Err)
	}
	return s3err.Mismatch(resp.Operation+" status", "2xx", resp.Status)
}

// Equal returns an AssertionMismatch naming what differs.
func Equal[V comparable](what string, expected, observed V) error {
	if expected == observed {
		return nil
	}
	return s3err.Mismatch(what, expected, observed)
}

// Same compares structured values and reports the diff.
func Same(what string, expected, observed any, opts ...cmp.Option) error {
	if diff := cmp.Diff(expected, observed, opts...); diff != "" {
		return s3err.Errorf(s3err.ErrAssertionMismatch, what, "(-want +got):\n%v", diff)
	}
	return nil
}

func statusSet(s []int) string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = fmt.Sprint(v)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func statusText(resp s3client.Response) string {
	s := fmt.Sprintf("%d %v", resp.Status, http.StatusText(resp.Status))
	if resp.Code != "" {
		s += " (" + resp.Code + ")"
	}
	return s
}
