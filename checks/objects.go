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
	"encoding/base64"
	"fmt"
	"net/http"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"
	"github.com/minio/crc64nvme"
	"github.com/versity/s3compat/checker"
	"github.com/versity/s3compat/s3client"
)

func newObjects() *checker.Category {
	var (
		small, medium   []byte
		smallKey        string
		mediumKey       string
		metaKey         string
		copyKey         string
		objectMetadata  = map[string]string{"author": "s3compat", "purpose": "compatibility-testing"}
		objectMediaType = "text/plain"
	)

	return &checker.Category{
		Name:        Objects,
		Description: "object upload, download, head, copy, listing and deletion",
		Independent: true,
		Setup:       checker.SetupBucket("objects"),
		Units: []checker.Unit{
			{Name: "object_upload_small", Run: func(ctx context.Context, t *checker.T) error {
				small = s3client.PatternData(t.Settings.Content+"\n", int(t.Settings.SmallSize))
				key := t.Names.Key("small")
				out, resp := putObject(ctx, t, t.Bucket, key, small)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if err := expectETag("etag", aws.ToString(out.ETag), small); err != nil {
					return err
				}
				smallKey = key
				t.Messagef("uploaded %v", humanize.IBytes(uint64(len(small))))
				return nil
			}},
			{Name: "object_upload_medium", Run: func(ctx context.Context, t *checker.T) error {
				medium = payload(t.Settings.MediumSize, 2)
				key := t.Names.Key("medium")
				out, resp := putObject(ctx, t, t.Bucket, key, medium)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if err := expectETag("etag", aws.ToString(out.ETag), medium); err != nil {
					return err
				}
				mediumKey = key
				t.Messagef("uploaded %v", humanize.IBytes(uint64(len(medium))))
				return nil
			}},
			{Name: "object_upload_with_metadata", Run: func(ctx context.Context, t *checker.T) error {
				key := t.Names.Key("metadata")
				_, resp := putObject(ctx, t, t.Bucket, key, []byte(t.Settings.Content), func(in *s3.PutObjectInput) {
					in.Metadata = objectMetadata
					in.ContentType = &objectMediaType
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				metaKey = key
				return nil
			}},
			{Name: "object_download", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(smallKey != "", "small object"); err != nil {
					return err
				}
				out, body, resp := getObject(ctx, t, getInput(t.Bucket, smallKey))
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if err := checker.Equal("content length", int64(len(small)), aws.ToInt64(out.ContentLength)); err != nil {
					return err
				}
				if !bytes.Equal(small, body) {
					return fmt.Errorf("downloaded content differs: got %v", short(body))
				}
				return nil
			}},
			{Name: "object_download_nonexistent", Run: func(ctx context.Context, t *checker.T) error {
				_, _, resp := getObject(ctx, t, getInput(t.Bucket, t.Names.Key("missing")))
				return checker.ExpectStatus(resp, http.StatusNotFound)
			}},
			{Name: "object_head_operation", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(metaKey != "", "metadata object"); err != nil {
					return err
				}
				out, resp := headObject(ctx, t, t.Bucket, metaKey)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if err := checker.Equal("content length", int64(len(t.Settings.Content)), aws.ToInt64(out.ContentLength)); err != nil {
					return err
				}
				if err := checker.Equal("content type", objectMediaType, aws.ToString(out.ContentType)); err != nil {
					return err
				}
				if err := expectETag("etag", aws.ToString(out.ETag), []byte(t.Settings.Content)); err != nil {
					return err
				}
				return checker.Same("user metadata", objectMetadata, lowerKeys(out.Metadata))
			}},
			{Name: "object_copy", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(smallKey != "", "small object"); err != nil {
					return err
				}
				key := t.Names.Key("copy")
				src := t.Bucket + "/" + smallKey
				resp := call(ctx, t, "CopyObject", func(ctx context.Context, opt func(*s3.Options)) error {
					_, err := t.Client.S3.CopyObject(ctx, &s3.CopyObjectInput{
						Bucket:     &t.Bucket,
						Key:        &key,
						CopySource: &src,
					}, opt)
					return err
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				t.Fixtures.Object(t.Bucket, key, "")

				_, body, resp := getObject(ctx, t, getInput(t.Bucket, key))
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if !bytes.Equal(small, body) {
					return fmt.Errorf("copied content differs from source")
				}
				copyKey = key
				return nil
			}},
			{Name: "object_listing_v1", Run: func(ctx context.Context, t *checker.T) error {
				var out *s3.ListObjectsOutput
				resp := call(ctx, t, "ListObjects", func(ctx context.Context, opt func(*s3.Options)) error {
					var err error
					out, err = t.Client.S3.ListObjects(ctx, &s3.ListObjectsInput{Bucket: &t.Bucket}, opt)
					return err
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				var keys []string
				for _, o := range out.Contents {
					keys = append(keys, aws.ToString(o.Key))
				}
				return expectKeys(keys, smallKey, mediumKey, metaKey, copyKey)
			}},
			{Name: "object_listing_v2", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(copyKey != "", "copied object"); err != nil {
					return err
				}
				prefix := "copy-"
				var out *s3.ListObjectsV2Output
				resp := call(ctx, t, "ListObjectsV2", func(ctx context.Context, opt func(*s3.Options)) error {
					var err error
					out, err = t.Client.S3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &t.Bucket, Prefix: &prefix}, opt)
					return err
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if err := checker.Equal("key count", int32(len(out.Contents)), aws.ToInt32(out.KeyCount)); err != nil {
					return err
				}
				var keys []string
				for _, o := range out.Contents {
					keys = append(keys, aws.ToString(o.Key))
				}
				return checker.Same("keys with prefix "+prefix, []string{copyKey}, keys)
			}},
			{Name: "object_checksum_crc64nvme", Run: func(ctx context.Context, t *checker.T) error {
				data := payload(t.Settings.SmallSize, 3)
				h := crc64nvme.New()
				h.Write(data)
				sum := base64.StdEncoding.EncodeToString(h.Sum(nil))

				key := t.Names.Key("checksum")
				_, resp := putObject(ctx, t, t.Bucket, key, data, func(in *s3.PutObjectInput) {
					in.ChecksumAlgorithm = types.ChecksumAlgorithmCrc64nvme
					in.ChecksumCRC64NVME = &sum
				})
				if resp.Status == http.StatusNotImplemented {
					return checker.Skipf("backend does not implement additional checksums")
				}
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}

				out, resp := headObject(ctx, t, t.Bucket, key, func(in *s3.HeadObjectInput) {
					in.ChecksumMode = types.ChecksumModeEnabled
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				return checker.Equal("crc64nvme", sum, aws.ToString(out.ChecksumCRC64NVME))
			}},
			{Name: "object_deletion", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(mediumKey != "", "medium object"); err != nil {
					return err
				}
				_, resp := deleteObject(ctx, t, t.Bucket, mediumKey, "")
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				_, resp = headObject(ctx, t, t.Bucket, mediumKey)
				return checker.ExpectStatus(resp, http.StatusNotFound)
			}},
			{Name: "object_deletion_nonexistent", Run: func(ctx context.Context, t *checker.T) error {
				_, resp := deleteObject(ctx, t, t.Bucket, t.Names.Key("missing"), "")
				return checker.ExpectStatus(resp, http.StatusNoContent, http.StatusOK)
			}},
		},
	}
}

// expectKeys fails when a non empty expected key is missing from keys.
func expectKeys(keys []string, expected ...string) error {
	var missing []string
	for _, k := range expected {
		if k != "" && !slices.Contains(keys, k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("keys %v missing from listing of %d keys", missing, len(keys))
	}
	return nil
}
