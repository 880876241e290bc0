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
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/versity/s3compat/checker"
	"golang.org/x/sync/errgroup"
)

// concurrentWriters is the number of simultaneous writes to one key.
const concurrentWriters = 5

// statusCheck issues one request and judges its status.
type statusCheck struct {
	name       string
	acceptable []int
	do         func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error
}

func newErrorConditions() *checker.Category {
	var units []checker.Unit

	for _, c := range invalidBucketNames() {
		units = append(units, checker.Unit{Name: c.name, Run: func(ctx context.Context, t *checker.T) error {
			bucket := c.bucket(t.Names.Suffix())
			resp := call(ctx, t, "CreateBucket", func(ctx context.Context, opt func(*s3.Options)) error {
				_, err := t.Client.S3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &bucket}, opt)
				return err
			})
			if resp.OK() {
				t.Fixtures.Bucket(bucket)
			}
			return checker.ExpectRejection(resp, http.StatusBadRequest, http.StatusForbidden)
		}})
	}

	for _, c := range []struct{ name, key string }{
		{"invalid_object_key_empty", ""},
		{"invalid_object_key_too_long", "/" + strings.Repeat("a", 1024)},
		{"invalid_object_key_null_char", "object\x00null"},
	} {
		units = append(units, checker.Unit{Name: c.name, Run: func(ctx context.Context, t *checker.T) error {
			_, resp := putObject(ctx, t, t.Bucket, c.key, []byte("data"))
			return checker.ExpectRejection(resp, http.StatusBadRequest, http.StatusForbidden)
		}})
	}

	for _, c := range slices.Concat(nonexistentBucketOps(), nonexistentObjectOps(), malformedRequests()) {
		units = append(units, checker.Unit{Name: c.name, Run: func(ctx context.Context, t *checker.T) error {
			return checker.ExpectStatus(call(ctx, t, c.name, func(ctx context.Context, opt func(*s3.Options)) error {
				return c.do(ctx, t, opt)
			}), c.acceptable...)
		}})
	}

	units = append(units,
		checker.Unit{Name: "duplicate_bucket_creation", Run: func(ctx context.Context, t *checker.T) error {
			resp := call(ctx, t, "CreateBucket", func(ctx context.Context, opt func(*s3.Options)) error {
				_, err := t.Client.S3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &t.Bucket}, opt)
				return err
			})
			// us-east-1 answers 200 to the owner, elsewhere BucketAlreadyOwnedByYou
			return checker.ExpectStatus(resp, http.StatusOK, http.StatusConflict)
		}},
		checker.Unit{Name: "delete_bucket_with_objects", Run: func(ctx context.Context, t *checker.T) error {
			bucket, resp := t.CreateBucket(ctx, "not-empty")
			if err := checker.ExpectOK(resp); err != nil {
				return fmt.Errorf("create bucket: %w", err)
			}
			if _, resp := putObject(ctx, t, bucket, t.Names.Key("blocking"), []byte("blocking object")); !resp.OK() {
				return fmt.Errorf("create blocking object: %w", checker.ExpectOK(resp))
			}
			resp = call(ctx, t, "DeleteBucket", func(ctx context.Context, opt func(*s3.Options)) error {
				_, err := t.Client.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: &bucket}, opt)
				return err
			})
			if resp.OK() {
				t.Fixtures.Forget(bucket)
			}
			return checker.ExpectStatus(resp, http.StatusConflict)
		}},
		checker.Unit{Name: "concurrent_writes_same_key", Run: func(ctx context.Context, t *checker.T) error {
			key := t.Names.Key("contended")
			bodies := make([][]byte, concurrentWriters)
			g, gctx := errgroup.WithContext(ctx)
			for i := range bodies {
				bodies[i] = fmt.Appendf(nil, "%v writer %d", t.Settings.Content, i)
				g.Go(func() error {
					resp := t.Client.Request(gctx, "PutObject", func(ctx context.Context, opt func(*s3.Options)) error {
						_, err := t.Client.S3.PutObject(ctx, &s3.PutObjectInput{
							Bucket: &t.Bucket,
							Key:    &key,
							Body:   bytes.NewReader(bodies[i]),
						}, opt)
						return err
					})
					if resp.Err != nil {
						return fmt.Errorf("writer %d: %w", i, resp.Err)
					}
					return nil
				})
			}
			err := g.Wait()
			t.Fixtures.Object(t.Bucket, key, "")
			if err != nil {
				return err
			}

			_, got, resp := getObject(ctx, t, getInput(t.Bucket, key))
			if err := checker.ExpectOK(resp); err != nil {
				return err
			}
			for i, b := range bodies {
				if bytes.Equal(b, got) {
					t.Messagef("writer %d of %d won", i, concurrentWriters)
					return nil
				}
			}
			return fmt.Errorf("object holds %v, which no writer sent", short(got))
		}},
	)

	return &checker.Category{
		Name:        ErrorConditions,
		Description: "rejection of invalid requests and errors for missing resources",
		Independent: true,
		Setup:       checker.SetupBucket("errors"),
		Units:       units,
	}
}

type invalidBucket struct {
	name   string
	bucket func(suffix string) string
}

func fixed(name string) func(string) string {
	return func(string) string { return name }
}

// invalidBucketNames are unique per run where the rule allows it, so an
// accepting backend does not collide with an earlier run.
func invalidBucketNames() []invalidBucket {
	return []invalidBucket{
		{"invalid_bucket_name_underscores", func(s string) string { return "bucket_with_underscores_" + s }},
		{"invalid_bucket_name_capitals", func(s string) string { return "BUCKET-WITH-CAPITALS-" + strings.ToUpper(s) }},
		{"invalid_bucket_name_trailing_hyphen", func(s string) string { return "bucket-" + s + "-" }},
		{"invalid_bucket_name_leading_hyphen", func(s string) string { return "-bucket-" + s }},
		{"invalid_bucket_name_too_long", fixed(strings.Repeat("a", 64))},
		{"invalid_bucket_name_too_short", fixed("ab")},
		{"invalid_bucket_name_consecutive_dots", func(s string) string { return "bucket.." + s }},
		{"invalid_bucket_name_ip_address", fixed("192.168.1.1")},
		{"invalid_bucket_name_space", func(s string) string { return "bucket " + s }},
		{"invalid_bucket_name_empty", fixed("")},
	}
}

func nonexistentBucketOps() []statusCheck {
	missing := func(t *checker.T) *string { return aws.String(t.Names.Bucket("missing")) }
	key := aws.String("test")
	return []statusCheck{
		{"nonexistent_bucket_head_bucket", []int{http.StatusNotFound}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			_, err := t.Client.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: missing(t)}, opt)
			return err
		}},
		{"nonexistent_bucket_delete_bucket", []int{http.StatusNotFound}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			_, err := t.Client.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: missing(t)}, opt)
			return err
		}},
		{"nonexistent_bucket_put_object", []int{http.StatusNotFound}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			_, err := t.Client.S3.PutObject(ctx, &s3.PutObjectInput{Bucket: missing(t), Key: key, Body: strings.NewReader("data")}, opt)
			return err
		}},
		{"nonexistent_bucket_get_object", []int{http.StatusNotFound}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			out, err := t.Client.S3.GetObject(ctx, &s3.GetObjectInput{Bucket: missing(t), Key: key}, opt)
			if err == nil {
				out.Body.Close()
			}
			return err
		}},
		{"nonexistent_bucket_list_objects", []int{http.StatusNotFound}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			_, err := t.Client.S3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: missing(t)}, opt)
			return err
		}},
	}
}

func nonexistentObjectOps() []statusCheck {
	missing := func(t *checker.T) *string { return aws.String(t.Names.Key("missing")) }
	return []statusCheck{
		{"nonexistent_object_get_object", []int{http.StatusNotFound}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			out, err := t.Client.S3.GetObject(ctx, &s3.GetObjectInput{Bucket: &t.Bucket, Key: missing(t)}, opt)
			if err == nil {
				out.Body.Close()
			}
			return err
		}},
		{"nonexistent_object_head_object", []int{http.StatusNotFound}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			_, err := t.Client.S3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &t.Bucket, Key: missing(t)}, opt)
			return err
		}},
		{"nonexistent_object_copy_object", []int{http.StatusNotFound}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			_, err := t.Client.S3.CopyObject(ctx, &s3.CopyObjectInput{
				Bucket:     &t.Bucket,
				Key:        aws.String(t.Names.Key("copy-dest")),
				CopySource: aws.String(t.Bucket + "/" + *missing(t)),
			}, opt)
			return err
		}},
		{"nonexistent_object_get_object_tagging", []int{http.StatusNotFound}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			_, err := t.Client.S3.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{Bucket: &t.Bucket, Key: missing(t)}, opt)
			return err
		}},
		{"idempotent_delete", []int{http.StatusOK, http.StatusNoContent, http.StatusNotFound}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			_, err := t.Client.S3.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &t.Bucket, Key: missing(t)}, opt)
			return err
		}},
	}
}

func malformedRequests() []statusCheck {
	bogusUpload := aws.String("invalid-upload-id-12345")
	key := aws.String("test-multipart")
	return []statusCheck{
		{"invalid_upload_id_complete", []int{http.StatusNotFound}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			_, err := t.Client.S3.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
				Bucket:   &t.Bucket,
				Key:      key,
				UploadId: bogusUpload,
				MultipartUpload: &types.CompletedMultipartUpload{
					Parts: []types.CompletedPart{{ETag: aws.String(`"d41d8cd98f00b204e9800998ecf8427e"`), PartNumber: aws.Int32(1)}},
				},
			}, opt)
			return err
		}},
		{"invalid_upload_id_upload_part", []int{http.StatusNotFound}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			_, err := t.Client.S3.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     &t.Bucket,
				Key:        key,
				UploadId:   bogusUpload,
				PartNumber: aws.Int32(1),
				Body:       strings.NewReader("data"),
			}, opt)
			return err
		}},
		{"invalid_upload_id_abort", []int{http.StatusNotFound}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			_, err := t.Client.S3.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket:   &t.Bucket,
				Key:      key,
				UploadId: bogusUpload,
			}, opt)
			return err
		}},
		{"invalid_max_keys", []int{http.StatusBadRequest}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			_, err := t.Client.S3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &t.Bucket, MaxKeys: aws.Int32(-1)}, opt)
			return err
		}},
		{"malformed_versioning_config", []int{http.StatusBadRequest}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			_, err := t.Client.S3.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
				Bucket: &t.Bucket,
				VersioningConfiguration: &types.VersioningConfiguration{
					Status: types.BucketVersioningStatus("InvalidStatus"),
				},
			}, opt)
			return err
		}},
		{"malformed_bucket_tagging", []int{http.StatusBadRequest}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			_, err := t.Client.S3.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
				Bucket:  &t.Bucket,
				Tagging: &types.Tagging{TagSet: []types.Tag{{Key: aws.String(""), Value: aws.String("value")}}},
			}, opt)
			return err
		}},
		{"invalid_version_id", []int{http.StatusBadRequest, http.StatusNotFound}, func(ctx context.Context, t *checker.T, opt func(*s3.Options)) error {
			out, err := t.Client.S3.GetObject(ctx, &s3.GetObjectInput{
				Bucket:    &t.Bucket,
				Key:       aws.String(t.Names.Key("versioned")),
				VersionId: aws.String("invalid-version-id-12345"),
			}, opt)
			if err == nil {
				out.Body.Close()
			}
			return err
		}},
	}
}
