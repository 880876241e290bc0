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
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/gzip"
	"github.com/versity/s3compat/checker"
)

// Preservation thresholds for the partial compliance checks.
const (
	standardHeadersThreshold = 0.8
	customMetadataThreshold  = 0.9
	encodingThreshold        = 0.7
	copyThreshold            = 0.8
)

var (
	customMetadata = map[string]string{
		"author":        "S3CompatibilityChecker",
		"project":       "metadata-testing",
		"version":       "1.0.0",
		"environment":   "test",
		"numeric-value": "42",
		"boolean-value": "true",
		"special-chars": "test@example.com",
	}
	encodedMetadata = map[string]string{
		"ascii-text":      "simple-ascii-value",
		"utf8-text":       "café-München-日本",
		"spaces":          "value with spaces",
		"url-encoded":     url.QueryEscape("test@example.com"),
		"special-symbols": "!@#$%^&*()",
		"numbers":         "123456789",
		"mixed":           "Test_123-Value@2024",
	}
	mixedCaseMetadata = map[string]string{
		"lowercase": "value1",
		"UPPERCASE": "value2",
		"MixedCase": "value3",
		"camelCase": "value4",
	}
	copySourceMetadata = map[string]string{
		"original-author": "source-creator",
		"creation-time":   "2024-01-01",
		"category":        "original",
	}
	copyReplacementMetadata = map[string]string{
		"new-author":    "copy-creator",
		"modified-time": "2024-12-01",
		"category":      "modified",
	}
)

const jsonDocument = `{"check": "metadata", "purpose": "standard header preservation"}`

func newMetadata() *checker.Category {
	var copySource string

	return &checker.Category{
		Name:        Metadata,
		Description: "standard headers and user metadata preservation",
		Independent: true,
		Setup:       checker.SetupBucket("metadata"),
		Units: []checker.Unit{
			{Name: "standard_metadata_headers", Run: func(ctx context.Context, t *checker.T) error {
				expires := time.Date(2030, time.October, 21, 7, 28, 0, 0, time.UTC)
				expected := map[string]string{
					"Content-Type":        "application/json",
					"Content-Encoding":    "gzip",
					"Content-Disposition": `attachment; filename="test.json"`,
					"Content-Language":    "en-US",
					"Cache-Control":       "max-age=3600, no-cache",
					"Expires":             expires.Format(http.TimeFormat),
				}

				key := t.Names.Key("standard-headers")
				body, err := gzipBytes([]byte(jsonDocument))
				if err != nil {
					return err
				}
				_, resp := putObject(ctx, t, t.Bucket, key, body, func(in *s3.PutObjectInput) {
					in.ContentType = aws.String(expected["Content-Type"])
					in.ContentEncoding = aws.String(expected["Content-Encoding"])
					in.ContentDisposition = aws.String(expected["Content-Disposition"])
					in.ContentLanguage = aws.String(expected["Content-Language"])
					in.CacheControl = aws.String(expected["Cache-Control"])
					in.Expires = &expires
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}

				out, resp := headObject(ctx, t, t.Bucket, key)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				observed := headerFields(map[string]*string{
					"Content-Type":        out.ContentType,
					"Content-Encoding":    out.ContentEncoding,
					"Content-Disposition": out.ContentDisposition,
					"Content-Language":    out.ContentLanguage,
					"Cache-Control":       out.CacheControl,
					"Expires":             out.ExpiresString,
				})
				tol := checker.CompareFields(expected, observed, standardHeadersThreshold, sameHeader)
				t.Detail("tolerance", tol.String())
				t.Messagef("%v", tol)
				return tol.Err()
			}},
			{Name: "content_encoding_roundtrip", Run: func(ctx context.Context, t *checker.T) error {
				key := t.Names.Key("gzip")
				body, err := gzipBytes([]byte(jsonDocument))
				if err != nil {
					return err
				}
				_, resp := putObject(ctx, t, t.Bucket, key, body, func(in *s3.PutObjectInput) {
					in.ContentType = aws.String("application/json")
					in.ContentEncoding = aws.String("gzip")
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}

				out, got, resp := getObject(ctx, t, getInput(t.Bucket, key))
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if err := checker.Equal("content encoding", "gzip", aws.ToString(out.ContentEncoding)); err != nil {
					return err
				}
				plain, err := gunzipBytes(got)
				if err != nil {
					return fmt.Errorf("stored body is not the gzip stream that was sent: %w", err)
				}
				return checker.Equal("decoded body", jsonDocument, string(plain))
			}},
			{Name: "custom_metadata_preservation", Run: func(ctx context.Context, t *checker.T) error {
				return metadataTolerance(ctx, t, "custom", customMetadata, customMetadataThreshold)
			}},
			{Name: "metadata_encoding", Run: func(ctx context.Context, t *checker.T) error {
				return metadataTolerance(ctx, t, "encoding", encodedMetadata, encodingThreshold)
			}},
			{Name: "metadata_case_sensitivity", Run: func(ctx context.Context, t *checker.T) error {
				out, err := roundTripMetadata(ctx, t, "case", mixedCaseMetadata)
				if err != nil {
					return err
				}
				// header names are case insensitive, keys come back folded
				return checker.Same("metadata by lowercased key", lowerKeys(mixedCaseMetadata), lowerKeys(out))
			}},
			{Name: "metadata_copy_preservation", Run: func(ctx context.Context, t *checker.T) error {
				key := t.Names.Key("copy-source")
				if _, resp := putObject(ctx, t, t.Bucket, key, []byte(t.Settings.Content), func(in *s3.PutObjectInput) {
					in.Metadata = copySourceMetadata
				}); !resp.OK() {
					return fmt.Errorf("create copy source: %w", checker.ExpectOK(resp))
				}
				copySource = key

				dst, err := copyWithMetadata(ctx, t, key, nil)
				if err != nil {
					return err
				}
				tol := checker.CompareFields(copySourceMetadata, lowerKeys(dst), copyThreshold, nil)
				t.Messagef("%v", tol)
				return tol.Err()
			}},
			{Name: "metadata_copy_replacement", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(copySource != "", "copy source"); err != nil {
					return err
				}
				dst, err := copyWithMetadata(ctx, t, copySource, copyReplacementMetadata)
				if err != nil {
					return err
				}
				got := lowerKeys(dst)
				if _, ok := got["original-author"]; ok {
					return fmt.Errorf("source metadata kept despite REPLACE directive: %v", got)
				}
				return checker.Same("replaced metadata", copyReplacementMetadata, got)
			}},
			{Name: "system_user_metadata", Run: func(ctx context.Context, t *checker.T) error {
				user := map[string]string{"user-field": "user-value", "application": "test-app"}
				key := t.Names.Key("system-user")
				if _, resp := putObject(ctx, t, t.Bucket, key, []byte(jsonDocument), func(in *s3.PutObjectInput) {
					in.Metadata = user
					in.ContentType = aws.String("application/json")
					in.CacheControl = aws.String("no-cache")
				}); !resp.OK() {
					return checker.ExpectOK(resp)
				}
				out, resp := headObject(ctx, t, t.Bucket, key)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}

				var system []string
				if out.ContentType != nil {
					system = append(system, "Content-Type")
				}
				if out.ContentLength != nil {
					system = append(system, "Content-Length")
				}
				if out.ETag != nil {
					system = append(system, "ETag")
				}
				if out.LastModified != nil {
					system = append(system, "Last-Modified")
				}
				if len(system) < 3 {
					return fmt.Errorf("only %v of the system headers returned", system)
				}

				got := lowerKeys(out.Metadata)
				for _, k := range []string{"content-type", "content-length", "etag", "last-modified"} {
					if _, ok := got[k]; ok {
						return fmt.Errorf("system header %v leaked into user metadata", k)
					}
				}
				return checker.Same("user metadata", user, got)
			}},
			{Name: "metadata_size_limit", Run: func(ctx context.Context, t *checker.T) error {
				key := t.Names.Key("large-metadata")
				_, resp := putObject(ctx, t, t.Bucket, key, []byte("test data"), func(in *s3.PutObjectInput) {
					in.Metadata = map[string]string{"large-field": strings.Repeat("x", 2048)}
				})
				return checker.ExpectStatus(resp, http.StatusBadRequest, http.StatusRequestEntityTooLarge)
			}},
			{Name: "metadata_total_size_limit", Run: func(ctx context.Context, t *checker.T) error {
				md := make(map[string]string, 100)
				for i := range 100 {
					md[fmt.Sprintf("field%d", i)] = strings.Repeat(fmt.Sprintf("value%d", i), 50)
				}
				key := t.Names.Key("many-fields")
				_, resp := putObject(ctx, t, t.Bucket, key, []byte("test data"), func(in *s3.PutObjectInput) {
					in.Metadata = md
				})
				return checker.ExpectStatus(resp, http.StatusBadRequest, http.StatusRequestEntityTooLarge)
			}},
			{Name: "no_metadata_baseline", Run: func(ctx context.Context, t *checker.T) error {
				out, err := roundTripMetadata(ctx, t, "no-metadata", nil)
				if err != nil {
					return err
				}
				return checker.Equal("user metadata count", 0, len(out))
			}},
			{Name: "empty_metadata_values", Run: func(ctx context.Context, t *checker.T) error {
				out, err := roundTripMetadata(ctx, t, "empty-metadata", map[string]string{"empty-field": "", "normal-field": "value"})
				if err != nil {
					return err
				}
				got := lowerKeys(out)
				_, kept := got["empty-field"]
				t.Detail("empty_field_kept", kept)
				return checker.Equal("normal-field", "value", got["normal-field"])
			}},
		},
	}
}

// roundTripMetadata writes an object carrying md and returns the user
// metadata HeadObject reports for it.
func roundTripMetadata(ctx context.Context, t *checker.T, tag string, md map[string]string) (map[string]string, error) {
	key := t.Names.Key(tag)
	_, resp := putObject(ctx, t, t.Bucket, key, []byte(t.Settings.Content), func(in *s3.PutObjectInput) {
		in.Metadata = md
	})
	if err := checker.ExpectOK(resp); err != nil {
		return nil, err
	}
	out, resp := headObject(ctx, t, t.Bucket, key)
	if err := checker.ExpectOK(resp); err != nil {
		return nil, err
	}
	return out.Metadata, nil
}

func metadataTolerance(ctx context.Context, t *checker.T, tag string, md map[string]string, threshold float64) error {
	out, err := roundTripMetadata(ctx, t, tag, md)
	if err != nil {
		return err
	}
	tol := checker.CompareFields(md, lowerKeys(out), threshold, nil)
	t.Detail("tolerance", tol.String())
	t.Messagef("%v", tol)
	return tol.Err()
}

// copyWithMetadata copies src to a new key, replacing the metadata when md
// is not nil, and returns the metadata of the copy.
func copyWithMetadata(ctx context.Context, t *checker.T, src string, md map[string]string) (map[string]string, error) {
	key := t.Names.Key("copy-dest")
	source := t.Bucket + "/" + src
	in := &s3.CopyObjectInput{Bucket: &t.Bucket, Key: &key, CopySource: &source}
	if md != nil {
		in.Metadata = md
		in.MetadataDirective = types.MetadataDirectiveReplace
	}
	resp := call(ctx, t, "CopyObject", func(ctx context.Context, opt func(*s3.Options)) error {
		_, err := t.Client.S3.CopyObject(ctx, in, opt)
		return err
	})
	if err := checker.ExpectOK(resp); err != nil {
		return nil, err
	}
	t.Fixtures.Object(t.Bucket, key, "")

	out, resp := headObject(ctx, t, t.Bucket, key)
	if err := checker.ExpectOK(resp); err != nil {
		return nil, err
	}
	return out.Metadata, nil
}

func headerFields(h map[string]*string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

// sameHeader compares header values, dates by the instant they name.
func sameHeader(want, got string) bool {
	if want == got {
		return true
	}
	w, err1 := http.ParseTime(want)
	g, err2 := http.ParseTime(got)
	return err1 == nil && err2 == nil && w.Equal(g)
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
