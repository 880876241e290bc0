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

package checks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/versity/s3compat/checker"
)

const (
	rangeLines    = 100
	rangeLineSize = 100
)

// rangeFixture is 100 lines of exactly 100 bytes, so any offset names a
// line and column.
func rangeFixture() []byte {
	var b bytes.Buffer
	for i := range rangeLines {
		line := fmt.Sprintf("Line %03d: This is line number %03d with predictable content for range testing.", i, i)
		fmt.Fprintf(&b, "%-*.*s\n", rangeLineSize-1, rangeLineSize-1, line)
	}
	return b.Bytes()
}

type byteRange struct {
	name       string
	start, end int
	fromEnd    int
}

func (r byteRange) header() string {
	if r.fromEnd > 0 {
		return fmt.Sprintf("bytes=-%d", r.fromEnd)
	}
	return fmt.Sprintf("bytes=%d-%d", r.start, r.end)
}

// span resolves the range against an object of size bytes.
func (r byteRange) span(size int) (int, int) {
	if r.fromEnd > 0 {
		return max(size-r.fromEnd, 0), size - 1
	}
	return r.start, min(r.end, size-1)
}

func newRangeRequests() *checker.Category {
	var (
		key  string
		data = rangeFixture()
		etag string
	)
	size := len(data)

	valid := []byteRange{
		{name: "range_single_byte_first", start: 0, end: 0},
		{name: "range_single_byte_100th", start: 99, end: 99},
		{name: "range_single_byte_middle", start: 500, end: 500},
		{name: "range_single_byte_last", fromEnd: 1},
		{name: "range_partial_0_99", start: 0, end: 99},
		{name: "range_partial_100_299", start: 100, end: 299},
		{name: "range_partial_1000_1999", start: 1000, end: 1999},
		{name: "range_partial_5000_7499", start: 5000, end: 7499},
		{name: "range_partial_9900_9999", start: size - 100, end: size - 1},
		{name: "range_suffix_1", fromEnd: 1},
		{name: "range_suffix_10", fromEnd: 10},
		{name: "range_suffix_100", fromEnd: 100},
		{name: "range_suffix_1000", fromEnd: 1000},
		{name: "range_suffix_10000", fromEnd: size},
		// a last byte past the end is clamped, not rejected
		{name: "range_end_beyond_size", start: 0, end: 999999},
	}
	invalid := []struct{ name, header string }{
		{"range_invalid_non_numeric", "bytes=abc-def"},
		{"range_invalid_end_before_start", "bytes=100-50"},
		{"range_invalid_beyond_size", "bytes=999999-999999"},
		{"range_invalid_malformed", "invalid-range-header"},
		{"range_invalid_empty", "bytes="},
		{"range_invalid_bare_suffix", "bytes=-"},
	}
	multiple := []struct{ name, header string }{
		{"range_multiple_two", "bytes=0-99,200-299"},
		{"range_multiple_three", "bytes=0-49,100-149,200-249"},
		{"range_multiple_with_suffix", "bytes=0-9,-10"},
	}

	ready := func() error { return requires(key != "", "range fixture object") }

	units := []checker.Unit{
		{Name: "range_fixture_upload", Run: func(ctx context.Context, t *checker.T) error {
			k := t.Names.Key("ranges")
			out, resp := putObject(ctx, t, t.Bucket, k, data, func(in *s3.PutObjectInput) {
				in.ContentType = aws.String("text/plain")
			})
			if err := checker.ExpectOK(resp); err != nil {
				return err
			}
			key, etag = k, aws.ToString(out.ETag)
			return nil
		}},
	}
	for _, r := range valid {
		units = append(units, checker.Unit{Name: r.name, Run: func(ctx context.Context, t *checker.T) error {
			if err := ready(); err != nil {
				return err
			}
			in := getInput(t.Bucket, key)
			in.Range = aws.String(r.header())
			out, body, resp := getObject(ctx, t, in)
			if err := checker.ExpectOK(resp); err != nil {
				return err
			}
			start, end := r.span(size)
			return expectPartial(resp.Status, aws.ToString(out.ContentRange), body, data, start, end)
		}})
	}
	for _, r := range invalid {
		units = append(units, checker.Unit{Name: r.name, Run: func(ctx context.Context, t *checker.T) error {
			if err := ready(); err != nil {
				return err
			}
			in := getInput(t.Bucket, key)
			in.Range = aws.String(r.header)
			_, body, resp := getObject(ctx, t, in)
			if err := checker.ExpectStatus(resp, http.StatusOK, http.StatusBadRequest, http.StatusRequestedRangeNotSatisfiable); err != nil {
				return err
			}
			if resp.Status == http.StatusOK && !bytes.Equal(data, body) {
				return fmt.Errorf("range %q ignored but body is %d bytes, not the whole object", r.header, len(body))
			}
			t.Messagef("%q answered with %d", r.header, resp.Status)
			return nil
		}})
	}
	for _, r := range multiple {
		units = append(units, checker.Unit{Name: r.name, Run: func(ctx context.Context, t *checker.T) error {
			if err := ready(); err != nil {
				return err
			}
			in := getInput(t.Bucket, key)
			in.Range = aws.String(r.header)
			out, body, resp := getObject(ctx, t, in)
			switch {
			case resp.OK() && strings.HasPrefix(aws.ToString(out.ContentType), "multipart/byteranges"):
				t.Messagef("multipart/byteranges response of %d bytes", len(body))
				return nil
			case resp.OK() && resp.Status == http.StatusPartialContent:
				t.Messagef("first range only (%v)", aws.ToString(out.ContentRange))
				return nil
			case resp.OK() && resp.Status == http.StatusOK:
				if !bytes.Equal(data, body) {
					return fmt.Errorf("ranges ignored but body is %d bytes, not the whole object", len(body))
				}
				t.Messagef("ranges ignored, whole object returned")
				return nil
			}
			return checker.ExpectStatus(resp, http.StatusBadRequest, http.StatusNotImplemented)
		}})
	}
	units = append(units,
		checker.Unit{Name: "range_with_matching_etag", Run: func(ctx context.Context, t *checker.T) error {
			if err := ready(); err != nil {
				return err
			}
			in := getInput(t.Bucket, key)
			in.Range = aws.String("bytes=0-99")
			out, body, resp := getObject(ctx, t, in, withHeader("If-Range", etag))
			if err := checker.ExpectOK(resp); err != nil {
				return err
			}
			return expectPartial(resp.Status, aws.ToString(out.ContentRange), body, data, 0, 99)
		}},
		checker.Unit{Name: "range_with_nonmatching_etag", Run: func(ctx context.Context, t *checker.T) error {
			if err := ready(); err != nil {
				return err
			}
			in := getInput(t.Bucket, key)
			in.Range = aws.String("bytes=0-99")
			_, body, resp := getObject(ctx, t, in, withHeader("If-Range", `"00000000000000000000000000000000"`))
			if err := checker.ExpectOK(resp); err != nil {
				return err
			}
			// a stale validator turns the request into a plain GET
			if err := checker.Equal("status", http.StatusOK, resp.Status); err != nil {
				return err
			}
			return checker.Equal("body length", len(data), len(body))
		}},
	)

	return &checker.Category{
		Name:        RangeRequests,
		Description: "byte range GETs on a 10,000 byte line fixture",
		Independent: true,
		Setup:       checker.SetupBucket("ranges"),
		Units:       units,
	}
}

// expectPartial checks a 206 response carrying data[start:end+1].
func expectPartial(status int, contentRange string, body, data []byte, start, end int) error {
	if err := checker.Equal("status", http.StatusPartialContent, status); err != nil {
		return err
	}
	want := fmt.Sprintf("bytes %d-%d/%d", start, end, len(data))
	if err := checker.Equal("content range", want, contentRange); err != nil {
		return err
	}
	if !bytes.Equal(data[start:end+1], body) {
		return fmt.Errorf("range %d-%d returned %v, expected %v", start, end, short(body), short(data[start:end+1]))
	}
	return nil
}
