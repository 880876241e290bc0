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
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/versity/s3compat/checker"
	"github.com/versity/s3compat/s3client"
)

func newBuckets() *checker.Category {
	var bucket string
	target := func() string { return bucket }

	return &checker.Category{
		Name:        Buckets,
		Description: "bucket lifecycle, listing, versioning and tagging",
		Independent: true,
		Units: []checker.Unit{
			{Name: "bucket_creation", Run: func(ctx context.Context, t *checker.T) error {
				name, resp := t.CreateBucket(ctx, "bucket")
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if err := checker.ExpectOK(headBucket(ctx, t, name)); err != nil {
					return fmt.Errorf("created bucket not visible: %w", err)
				}
				bucket = name
				t.Messagef("created %v", name)
				return nil
			}},
			{Name: "bucket_creation_invalid_name", Run: func(ctx context.Context, t *checker.T) error {
				name := "Invalid_Bucket_" + t.Names.Suffix()
				resp := call(ctx, t, "CreateBucket", func(ctx context.Context, opt func(*s3.Options)) error {
					_, err := t.Client.S3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &name}, opt)
					return err
				})
				if resp.OK() {
					t.Fixtures.Bucket(name)
				}
				return checker.ExpectRejection(resp, http.StatusBadRequest, http.StatusForbidden)
			}},
			{Name: "bucket_listing", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(bucket != "", "bucket"); err != nil {
					return err
				}
				out, err := listBuckets(ctx, t)
				if err != nil {
					return err
				}
				for _, b := range out.Buckets {
					if aws.ToString(b.Name) == bucket {
						t.Messagef("%v found among %d buckets", bucket, len(out.Buckets))
						return nil
					}
				}
				return fmt.Errorf("bucket %v missing from ListBuckets (%d buckets)", bucket, len(out.Buckets))
			}},
			{Name: "bucket_listing_structure", Run: func(ctx context.Context, t *checker.T) error {
				out, err := listBuckets(ctx, t)
				if err != nil {
					return err
				}
				for _, b := range out.Buckets {
					if aws.ToString(b.Name) == "" {
						return fmt.Errorf("bucket entry without a name")
					}
					if b.CreationDate == nil || b.CreationDate.IsZero() {
						return fmt.Errorf("bucket %v has no creation date", aws.ToString(b.Name))
					}
				}
				if out.Owner == nil || aws.ToString(out.Owner.ID) == "" {
					return checker.Skipf("ListBuckets response has no owner")
				}
				return nil
			}},
			{Name: "bucket_head_existing", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(bucket != "", "bucket"); err != nil {
					return err
				}
				return checker.ExpectOK(headBucket(ctx, t, bucket))
			}},
			{Name: "bucket_head_nonexistent", Run: func(ctx context.Context, t *checker.T) error {
				return checker.ExpectStatus(headBucket(ctx, t, t.Names.Bucket("missing")), http.StatusNotFound)
			}},
			{Name: "bucket_versioning_default", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(bucket != "", "bucket"); err != nil {
					return err
				}
				status, resp := versioningStatus(ctx, t, bucket)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if status != "" {
					return fmt.Errorf("new bucket reports versioning %q, expected unset", status)
				}
				return nil
			}},
			{Name: "bucket_versioning_enable", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(bucket != "", "bucket"); err != nil {
					return err
				}
				return enableVersioning(ctx, t, bucket)
			}},
			bucketTaggingPutGet(target),
			bucketTaggingDelete(target),
			{Name: "bucket_deletion_empty", Run: func(ctx context.Context, t *checker.T) error {
				name, resp := t.CreateBucket(ctx, "delete")
				if err := checker.ExpectOK(resp); err != nil {
					return fmt.Errorf("create bucket to delete: %w", err)
				}
				resp = call(ctx, t, "DeleteBucket", func(ctx context.Context, opt func(*s3.Options)) error {
					_, err := t.Client.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: &name}, opt)
					return err
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				t.Fixtures.Forget(name)
				return checker.ExpectStatus(headBucket(ctx, t, name), http.StatusNotFound)
			}},
			{Name: "bucket_deletion_nonexistent", Run: func(ctx context.Context, t *checker.T) error {
				name := t.Names.Bucket("missing")
				resp := call(ctx, t, "DeleteBucket", func(ctx context.Context, opt func(*s3.Options)) error {
					_, err := t.Client.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: &name}, opt)
					return err
				})
				return checker.ExpectStatus(resp, http.StatusNotFound)
			}},
		},
	}
}

func listBuckets(ctx context.Context, t *checker.T) (*s3.ListBucketsOutput, error) {
	var out *s3.ListBucketsOutput
	resp := call(ctx, t, "ListBuckets", func(ctx context.Context, opt func(*s3.Options)) error {
		var err error
		out, err = t.Client.S3.ListBuckets(ctx, &s3.ListBucketsInput{}, opt)
		return err
	})
	if err := checker.ExpectOK(resp); err != nil {
		return nil, err
	}
	return out, nil
}

func versioningStatus(ctx context.Context, t *checker.T, bucket string) (types.BucketVersioningStatus, s3client.Response) {
	var out *s3.GetBucketVersioningOutput
	resp := call(ctx, t, "GetBucketVersioning", func(ctx context.Context, opt func(*s3.Options)) error {
		var err error
		out, err = t.Client.S3.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: &bucket}, opt)
		return err
	})
	if out == nil {
		return "", resp
	}
	return out.Status, resp
}

func enableVersioning(ctx context.Context, t *checker.T, bucket string) error {
	resp := call(ctx, t, "PutBucketVersioning", func(ctx context.Context, opt func(*s3.Options)) error {
		_, err := t.Client.S3.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
			Bucket: &bucket,
			VersioningConfiguration: &types.VersioningConfiguration{
				Status: types.BucketVersioningStatusEnabled,
			},
		}, opt)
		return err
	})
	if err := checker.ExpectOK(resp); err != nil {
		return err
	}

	status, resp := versioningStatus(ctx, t, bucket)
	if err := checker.ExpectOK(resp); err != nil {
		return fmt.Errorf("read back versioning configuration: %w", err)
	}
	return checker.Equal("versioning status", types.BucketVersioningStatusEnabled, status)
}

var bucketTags = map[string]string{
	"environment": "compat-test",
	"owner":       "s3compat",
}

func bucketTaggingPutGet(bucket func() string) checker.Unit {
	return checker.Unit{Name: "bucket_tagging_put_get", Run: func(ctx context.Context, t *checker.T) error {
		b := bucket()
		if err := requires(b != "", "bucket"); err != nil {
			return err
		}
		resp := call(ctx, t, "PutBucketTagging", func(ctx context.Context, opt func(*s3.Options)) error {
			_, err := t.Client.S3.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
				Bucket:  &b,
				Tagging: &types.Tagging{TagSet: tagSet(bucketTags)},
			}, opt)
			return err
		})
		if err := checker.ExpectOK(resp); err != nil {
			return err
		}

		got, err := bucketTagging(ctx, t, b)
		if err != nil {
			return err
		}
		return checker.Same("bucket tags", bucketTags, got)
	}}
}

func bucketTaggingDelete(bucket func() string) checker.Unit {
	return checker.Unit{Name: "bucket_tagging_delete", Run: func(ctx context.Context, t *checker.T) error {
		b := bucket()
		if err := requires(b != "", "bucket"); err != nil {
			return err
		}
		resp := call(ctx, t, "DeleteBucketTagging", func(ctx context.Context, opt func(*s3.Options)) error {
			_, err := t.Client.S3.DeleteBucketTagging(ctx, &s3.DeleteBucketTaggingInput{Bucket: &b}, opt)
			return err
		})
		if err := checker.ExpectOK(resp); err != nil {
			return err
		}

		var out *s3.GetBucketTaggingOutput
		resp = call(ctx, t, "GetBucketTagging", func(ctx context.Context, opt func(*s3.Options)) error {
			var err error
			out, err = t.Client.S3.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: &b}, opt)
			return err
		})
		if resp.OK() {
			// some backends answer with an empty set instead of NoSuchTagSet
			return checker.Equal("tags after delete", 0, len(out.TagSet))
		}
		return checker.ExpectStatus(resp, http.StatusNotFound)
	}}
}

func bucketTagging(ctx context.Context, t *checker.T, bucket string) (map[string]string, error) {
	var out *s3.GetBucketTaggingOutput
	resp := call(ctx, t, "GetBucketTagging", func(ctx context.Context, opt func(*s3.Options)) error {
		var err error
		out, err = t.Client.S3.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: &bucket}, opt)
		return err
	})
	if err := checker.ExpectOK(resp); err != nil {
		return nil, err
	}
	return tagMap(out.TagSet), nil
}
