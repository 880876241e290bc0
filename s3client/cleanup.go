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

package s3client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/versity/s3compat/s3err"
)

// DeleteObject removes one object, or one version of it when versionID is
// set. A missing object is not an error.
func (c *Client) DeleteObject(ctx context.Context, bucket, key, versionID string) error {
	in := &s3.DeleteObjectInput{Bucket: &bucket, Key: &key}
	if versionID != "" {
		in.VersionId = &versionID
	}
	resp := c.RequestRetry(ctx, "DeleteObject", func(ctx context.Context, opt func(*s3.Options)) error {
		_, err := c.S3.DeleteObject(ctx, in, opt)
		return err
	})
	if resp.Err != nil && resp.Status != http.StatusNotFound {
		return fmt.Errorf("delete object %v/%v: %w", bucket, key, resp.Err)
	}
	return nil
}

// DeleteBucket empties the bucket (all versions, delete markers and pending
// uploads) and deletes it. A missing bucket is not an error.
func (c *Client) DeleteBucket(ctx context.Context, bucket string) error {
	if err := c.EmptyBucket(ctx, bucket); err != nil {
		if s3err.StatusOf(err) == http.StatusNotFound {
			return nil
		}
		return err
	}

	resp := c.RequestRetry(ctx, "DeleteBucket", func(ctx context.Context, opt func(*s3.Options)) error {
		_, err := c.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: &bucket}, opt)
		return err
	})
	if resp.Err != nil && resp.Status != http.StatusNotFound {
		return fmt.Errorf("delete bucket %v: %w", bucket, resp.Err)
	}
	return nil
}

// EmptyBucket aborts pending uploads and deletes every object version in
// bucket. Backends without versioning support fall back to a plain listing.
func (c *Client) EmptyBucket(ctx context.Context, bucket string) error {
	var errs []error
	if err := c.abortUploads(ctx, bucket); err != nil {
		errs = append(errs, err)
	}

	err := c.deleteVersions(ctx, bucket)
	if err != nil && s3err.StatusOf(err) != http.StatusNotFound {
		c.log.WithField("bucket", bucket).Debugf("list object versions: %v, falling back to list objects", err)
		err = c.deleteObjects(ctx, bucket)
	}
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Client) deleteVersions(ctx context.Context, bucket string) error {
	in := &s3.ListObjectVersionsInput{Bucket: &bucket}
	for {
		var out *s3.ListObjectVersionsOutput
		resp := c.RequestRetry(ctx, "ListObjectVersions", func(ctx context.Context, opt func(*s3.Options)) error {
			var err error
			out, err = c.S3.ListObjectVersions(ctx, in, opt)
			return err
		})
		if resp.Err != nil {
			return fmt.Errorf("list object versions: %w", resp.Err)
		}

		for _, v := range out.Versions {
			if err := c.DeleteObject(ctx, bucket, deref(v.Key), deref(v.VersionId)); err != nil {
				return err
			}
		}
		for _, m := range out.DeleteMarkers {
			if err := c.DeleteObject(ctx, bucket, deref(m.Key), deref(m.VersionId)); err != nil {
				return err
			}
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return nil
		}
		in.KeyMarker = out.NextKeyMarker
		in.VersionIdMarker = out.NextVersionIdMarker
	}
}

func (c *Client) deleteObjects(ctx context.Context, bucket string) error {
	in := &s3.ListObjectsV2Input{Bucket: &bucket}
	for {
		var out *s3.ListObjectsV2Output
		resp := c.RequestRetry(ctx, "ListObjectsV2", func(ctx context.Context, opt func(*s3.Options)) error {
			var err error
			out, err = c.S3.ListObjectsV2(ctx, in, opt)
			return err
		})
		if resp.Err != nil {
			return fmt.Errorf("list objects: %w", resp.Err)
		}

		for _, item := range out.Contents {
			if err := c.DeleteObject(ctx, bucket, deref(item.Key), ""); err != nil {
				return err
			}
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return nil
		}
		in.ContinuationToken = out.NextContinuationToken
	}
}

func (c *Client) abortUploads(ctx context.Context, bucket string) error {
	in := &s3.ListMultipartUploadsInput{Bucket: &bucket}
	for {
		var out *s3.ListMultipartUploadsOutput
		resp := c.RequestRetry(ctx, "ListMultipartUploads", func(ctx context.Context, opt func(*s3.Options)) error {
			var err error
			out, err = c.S3.ListMultipartUploads(ctx, in, opt)
			return err
		})
		if resp.Err != nil {
			if resp.Status == http.StatusNotFound || resp.Status == http.StatusNotImplemented {
				return nil
			}
			return fmt.Errorf("list multipart uploads: %w", resp.Err)
		}

		for _, u := range out.Uploads {
			if err := c.abortUpload(ctx, bucket, u); err != nil {
				return err
			}
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return nil
		}
		in.KeyMarker = out.NextKeyMarker
		in.UploadIdMarker = out.NextUploadIdMarker
	}
}

func (c *Client) abortUpload(ctx context.Context, bucket string, u types.MultipartUpload) error {
	resp := c.RequestRetry(ctx, "AbortMultipartUpload", func(ctx context.Context, opt func(*s3.Options)) error {
		_, err := c.S3.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   &bucket,
			Key:      u.Key,
			UploadId: u.UploadId,
		}, opt)
		return err
	})
	if resp.Err != nil && resp.Status != http.StatusNotFound {
		return fmt.Errorf("abort upload %v: %w", deref(u.UploadId), resp.Err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
