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

// Package checks holds the S3 compatibility check catalog. Each file builds
// one category; Register wires them into a checker.Registry in run order.
package checks

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/versity/s3compat/checker"
	"github.com/versity/s3compat/multipart"
	"github.com/versity/s3compat/s3client"
)

const (
	Buckets         = "buckets"
	Objects         = "objects"
	Multipart       = "multipart"
	Versioning      = "versioning"
	Tagging         = "tagging"
	Attributes      = "attributes"
	Metadata        = "metadata"
	RangeRequests   = "range_requests"
	ErrorConditions = "error_conditions"
	Sync            = "sync"
	Presigned       = "presigned"
)

var catalog = []struct {
	name    string
	factory checker.Factory
}{
	{Buckets, newBuckets},
	{Objects, newObjects},
	{Multipart, newMultipart},
	{Versioning, newVersioning},
	{Tagging, newTagging},
	{Attributes, newAttributes},
	{Metadata, newMetadata},
	{RangeRequests, newRangeRequests},
	{ErrorConditions, newErrorConditions},
	{Sync, newSync},
	{Presigned, newPresigned},
}

// Names lists every category in run order.
func Names() []string {
	names := make([]string, len(catalog))
	for i, c := range catalog {
		names[i] = c.name
	}
	return names
}

// Register adds the whole catalog to reg.
func Register(reg *checker.Registry) error {
	for _, c := range catalog {
		if err := reg.Register(c.name, c.factory); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the whole catalog.
func NewRegistry() (*checker.Registry, error) {
	reg := checker.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, reg.Validate()
}

func call(ctx context.Context, t *checker.T, op string, fn s3client.CallFunc) s3client.Response {
	resp := t.Client.Request(ctx, op, fn)
	t.Response(resp)
	return resp
}

func putObject(ctx context.Context, t *checker.T, bucket, key string, body []byte, mutate ...func(*s3.PutObjectInput)) (*s3.PutObjectOutput, s3client.Response) {
	in := &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	}
	for _, m := range mutate {
		m(in)
	}

	var out *s3.PutObjectOutput
	resp := call(ctx, t, "PutObject", func(ctx context.Context, opt func(*s3.Options)) error {
		var err error
		in.Body = bytes.NewReader(body)
		out, err = t.Client.S3.PutObject(ctx, in, opt)
		return err
	})
	if resp.Err == nil {
		t.Fixtures.Object(bucket, key, aws.ToString(out.VersionId))
	}
	return out, resp
}

// getObject reads the whole body inside the call so the per call timeout
// covers the transfer.
func getObject(ctx context.Context, t *checker.T, in *s3.GetObjectInput, extra ...func(*s3.Options)) (*s3.GetObjectOutput, []byte, s3client.Response) {
	var out *s3.GetObjectOutput
	var body []byte
	resp := call(ctx, t, "GetObject", func(ctx context.Context, opt func(*s3.Options)) error {
		var err error
		out, err = t.Client.S3.GetObject(ctx, in, append(extra, opt)...)
		if err != nil {
			return err
		}
		defer out.Body.Close()
		body, err = io.ReadAll(out.Body)
		return err
	})
	return out, body, resp
}

func getInput(bucket, key string) *s3.GetObjectInput {
	return &s3.GetObjectInput{Bucket: &bucket, Key: &key}
}

func headObject(ctx context.Context, t *checker.T, bucket, key string, mutate ...func(*s3.HeadObjectInput)) (*s3.HeadObjectOutput, s3client.Response) {
	in := &s3.HeadObjectInput{Bucket: &bucket, Key: &key}
	for _, m := range mutate {
		m(in)
	}
	var out *s3.HeadObjectOutput
	resp := call(ctx, t, "HeadObject", func(ctx context.Context, opt func(*s3.Options)) error {
		var err error
		out, err = t.Client.S3.HeadObject(ctx, in, opt)
		return err
	})
	return out, resp
}

func headBucket(ctx context.Context, t *checker.T, bucket string) s3client.Response {
	return call(ctx, t, "HeadBucket", func(ctx context.Context, opt func(*s3.Options)) error {
		_, err := t.Client.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucket}, opt)
		return err
	})
}

func deleteObject(ctx context.Context, t *checker.T, bucket, key, versionID string) (*s3.DeleteObjectOutput, s3client.Response) {
	in := &s3.DeleteObjectInput{Bucket: &bucket, Key: &key}
	if versionID != "" {
		in.VersionId = &versionID
	}
	var out *s3.DeleteObjectOutput
	resp := call(ctx, t, "DeleteObject", func(ctx context.Context, opt func(*s3.Options)) error {
		var err error
		out, err = t.Client.S3.DeleteObject(ctx, in, opt)
		return err
	})
	return out, resp
}

// withHeader adds a raw request header the sdk input has no field for.
func withHeader(name, value string) func(*s3.Options) {
	return func(o *s3.Options) {
		o.APIOptions = append(o.APIOptions, smithyhttp.AddHeaderValue(name, value))
	}
}

// requires skips the unit when an earlier unit did not leave what it needs.
func requires(ok bool, what string) error {
	if ok {
		return nil
	}
	return checker.Skipf("no %v from an earlier check", what)
}

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// expectETag checks a single part object's etag against the md5 of body.
func expectETag(what, etag string, body []byte) error {
	return checker.Equal(what, md5hex(body), multipart.NormalizeETag(etag))
}

// payload returns size reproducible random bytes.
func payload(size int64, seed int64) []byte {
	b, _ := io.ReadAll(s3client.NewSeededReader(size, 64*1024, seed))
	return b
}

func tagMap(tags []types.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, tag := range tags {
		m[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return m
}

func tagSet(m map[string]string) []types.Tag {
	keys := slices.Sorted(maps.Keys(m))
	tags := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, types.Tag{Key: aws.String(k), Value: aws.String(m[k])})
	}
	return tags
}

// lowerKeys folds user metadata keys, which HTTP treats case insensitively.
func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func short(b []byte) string {
	if len(b) > 32 {
		return fmt.Sprintf("%q...", b[:32])
	}
	return fmt.Sprintf("%q", b)
}
