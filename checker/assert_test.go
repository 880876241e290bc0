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
	"net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/versity/s3compat/s3client"
	"github.com/versity/s3compat/s3err"
)

func TestToleranceBoundary(t *testing.T) {
	expected := map[string]string{}
	observed := map[string]string{}
	for i, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		expected[k] = "v"
		if i < 8 {
			observed[k] = "v"
		}
	}
	observed["i"] = "other"

	tol := CompareFields(expected, observed, 0.8, nil)
	assert.Equal(t, 10, tol.Total)
	assert.Equal(t, 8, tol.Matched)
	assert.True(t, tol.Pass())
	assert.NoError(t, tol.Err())
	assert.Equal(t, `8/10 fields preserved (ratio 0.80, threshold 0.80); missing: [j]; mismatched: [i="other" (want "v")]`, tol.String())

	tests := []struct {
		name      string
		matched   int
		total     int
		threshold float64
		pass      bool
	}{
		{"exactly at threshold", 8, 10, 0.8, true},
		{"just below", 7999, 10000, 0.8, false},
		{"above", 9, 10, 0.8, true},
		{"custom metadata", 9, 10, 0.9, true},
		{"custom metadata below", 8, 10, 0.9, false},
		{"nothing expected", 0, 0, 0.9, true},
		{"nothing matched", 0, 4, 0.1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tol := Tolerance{Total: tt.total, Matched: tt.matched, Threshold: tt.threshold}
			assert.Equal(t, tt.pass, tol.Pass())
			if !tt.pass {
				err := tol.Err()
				require.Error(t, err)
				assert.True(t, errors.Is(err, s3err.AssertionMismatch))
				assert.Contains(t, err.Error(), "ratio")
			}
		})
	}
}

func TestCompareFieldsCustomEq(t *testing.T) {
	expected := map[string]string{"Content-Type": "text/plain", "Cache-Control": "no-cache"}
	observed := map[string]string{"Content-Type": "TEXT/PLAIN", "Cache-Control": "no-cache"}

	assert.False(t, CompareFields(expected, observed, 1, nil).Pass())
	assert.True(t, CompareFields(expected, observed, 1, strings.EqualFold).Pass())
}

func TestExpectStatus(t *testing.T) {
	clientSide := &smithy.OperationError{
		ServiceID:     "S3",
		OperationName: "CreateBucket",
		Err:           &smithy.InvalidParamsError{Context: "CreateBucketInput"},
	}
	transport := s3err.New(s3err.ErrTransport, "HeadBucket", errors.New("connection reset"))
	apiErr := errors.New("api error")

	tests := []struct {
		name       string
		resp       s3client.Response
		acceptable []int
		want       Outcome
		match      string
	}{
		{"in set", s3client.Response{Operation: "HeadBucket", Status: 404, Err: apiErr}, []int{404}, Pass, ""},
		{"out of set", s3client.Response{Operation: "HeadBucket", Status: 500, Code: "InternalError", Err: apiErr}, []int{404}, Fail, `expected \{404\}, got 500 Internal Server Error \(InternalError\)`},
		{"unexpected success", s3client.Response{Operation: "CreateBucket", Status: 200}, []int{400, 403}, Fail, "unexpectedly succeeded"},
		{"idempotent delete", s3client.Response{Operation: "DeleteObject", Status: 204}, []int{200, 204, 404}, Pass, ""},
		{"client side", s3client.Response{Operation: "CreateBucket", Err: clientSide}, []int{400}, Skipped, "before reaching backend"},
		{"transport", s3client.Response{Operation: "HeadBucket", Err: transport}, []int{404}, Fail, "connection reset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ExpectStatus(tt.resp, tt.acceptable...)
			switch tt.want {
			case Pass:
				assert.NoError(t, err)
				return
			case Skipped:
				assert.True(t, errors.Is(err, ErrSkip))
			case Fail:
				require.Error(t, err)
				assert.False(t, errors.Is(err, ErrSkip))
			}
			assert.Regexp(t, regexp.MustCompile(tt.match), err.Error())
		})
	}
}

func TestExpectRejection(t *testing.T) {
	clientSide := s3client.Response{
		Operation: "CreateBucket",
		Err:       &smithy.OperationError{Err: &smithy.InvalidParamsError{Context: "CreateBucketInput"}},
	}
	assert.NoError(t, ExpectRejection(clientSide, http.StatusBadRequest))
	assert.NoError(t, ExpectRejection(s3client.Response{Status: 400, Err: errors.New("x")}, 400, 403))
	assert.Error(t, ExpectRejection(s3client.Response{Status: 200}, 400, 403))
}

func TestExpectOK(t *testing.T) {
	assert.NoError(t, ExpectOK(s3client.Response{Operation: "PutObject", Status: 200}))
	assert.Error(t, ExpectOK(s3client.Response{Operation: "PutObject", Status: 500, Err: errors.New("x")}))
	assert.Error(t, ExpectOK(s3client.Response{Operation: "PutObject", Status: 304}))
}

func TestSame(t *testing.T) {
	assert.NoError(t, Same("tags", map[string]string{"a": "1"}, map[string]string{"a": "1"}))
	err := Same("tags", map[string]string{"a": "1"}, map[string]string{"a": "2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(-want +got)")
	assert.NoError(t, Equal("size", int64(3), int64(3)))
	assert.EqualError(t, Equal("size", 3, 4), "AssertionMismatch: size: expected 3, got 4")
}
