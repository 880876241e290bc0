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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/versity/s3compat/checker"
	"github.com/versity/s3compat/multipart"
	"github.com/versity/s3compat/partition"
	"github.com/versity/s3compat/s3client"
)

func newAttributes() *checker.Category {
	var (
		key  string
		body []byte
	)
	ready := func() error { return requires(key != "", "attribute fixture object") }

	return &checker.Category{
		Name:        Attributes,
		Description: "GetObjectAttributes for simple and multipart objects",
		Independent: true,
		Setup:       checker.SetupBucket("attributes"),
		Units: []checker.Unit{
			{Name: "attributes_basic", Run: func(ctx context.Context, t *checker.T) error {
				k := t.Names.Key("attributes")
				b := payload(t.Settings.SmallSize, 6)
				if _, resp := putObject(ctx, t, t.Bucket, k, b); !resp.OK() {
					return fmt.Errorf("create fixture object: %w", checker.ExpectOK(resp))
				}
				out, resp := objectAttributes(ctx, t, t.Bucket, k, types.ObjectAttributesEtag)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if out.LastModified == nil {
					return fmt.Errorf("attributes response has no Last-Modified")
				}
				key, body = k, b
				return nil
			}},
			{Name: "attributes_etag", Run: func(ctx context.Context, t *checker.T) error {
				if err := ready(); err != nil {
					return err
				}
				out, resp := objectAttributes(ctx, t, t.Bucket, key, types.ObjectAttributesEtag)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				return expectETag("etag", aws.ToString(out.ETag), body)
			}},
			{Name: "attributes_size", Run: func(ctx context.Context, t *checker.T) error {
				if err := ready(); err != nil {
					return err
				}
				out, resp := objectAttributes(ctx, t, t.Bucket, key, types.ObjectAttributesObjectSize)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				return checker.Equal("object size", int64(len(body)), aws.ToInt64(out.ObjectSize))
			}},
			{Name: "attributes_size_and_storage", Run: func(ctx context.Context, t *checker.T) error {
				if err := ready(); err != nil {
					return err
				}
				out, resp := objectAttributes(ctx, t, t.Bucket, key,
					types.ObjectAttributesObjectSize, types.ObjectAttributesStorageClass)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if err := checker.Equal("object size", int64(len(body)), aws.ToInt64(out.ObjectSize)); err != nil {
					return err
				}
				if out.StorageClass == "" {
					return fmt.Errorf("storage class requested but not returned")
				}
				t.Messagef("storage class %v", out.StorageClass)
				return nil
			}},
			{Name: "attributes_multiple", Run: func(ctx context.Context, t *checker.T) error {
				if err := ready(); err != nil {
					return err
				}
				out, resp := objectAttributes(ctx, t, t.Bucket, key,
					types.ObjectAttributesEtag,
					types.ObjectAttributesObjectSize,
					types.ObjectAttributesStorageClass,
					types.ObjectAttributesChecksum)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if err := expectETag("etag", aws.ToString(out.ETag), body); err != nil {
					return err
				}
				return checker.Equal("object size", int64(len(body)), aws.ToInt64(out.ObjectSize))
			}},
			{Name: "attributes_multipart_parts", Run: func(ctx context.Context, t *checker.T) error {
				chunk := uint64(t.Settings.ChunkSize)
				layout, err := partition.Fixed(chunk+chunk/2, chunk)
				if err != nil {
					return err
				}
				k := t.Names.Key("attributes-multipart")
				data := payload(int64(layout.ObjectSize), 7)
				if _, err := multipart.UploadLayout(ctx, t.Client.S3, t.Bucket, k, layout, bytes.NewReader(data), t.MultipartOptions()...); err != nil {
					return err
				}
				t.Fixtures.Object(t.Bucket, k, "")

				out, resp := objectAttributes(ctx, t, t.Bucket, k, types.ObjectAttributesObjectParts, types.ObjectAttributesObjectSize)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if err := checker.Equal("object size", int64(len(data)), aws.ToInt64(out.ObjectSize)); err != nil {
					return err
				}
				if out.ObjectParts == nil {
					return fmt.Errorf("object parts requested but not returned")
				}
				return checker.Equal("total parts count", int32(layout.PartCount), aws.ToInt32(out.ObjectParts.TotalPartsCount))
			}},
			{Name: "attributes_size_mismatch", Run: func(ctx context.Context, t *checker.T) error {
				if err := ready(); err != nil {
					return err
				}
				// overwrite with a different size; attributes must follow
				b := append(bytes.Clone(body), body...)
				if _, resp := putObject(ctx, t, t.Bucket, key, b); !resp.OK() {
					return fmt.Errorf("overwrite fixture object: %w", checker.ExpectOK(resp))
				}
				out, resp := objectAttributes(ctx, t, t.Bucket, key, types.ObjectAttributesObjectSize, types.ObjectAttributesEtag)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if err := checker.Equal("object size after overwrite", int64(len(b)), aws.ToInt64(out.ObjectSize)); err != nil {
					return err
				}
				return expectETag("etag after overwrite", aws.ToString(out.ETag), b)
			}},
		},
	}
}

func objectAttributes(ctx context.Context, t *checker.T, bucket, key string, attrs ...types.ObjectAttributes) (*s3.GetObjectAttributesOutput, s3client.Response) {
	var out *s3.GetObjectAttributesOutput
	resp := call(ctx, t, "GetObjectAttributes", func(ctx context.Context, opt func(*s3.Options)) error {
		var err error
		out, err = t.Client.S3.GetObjectAttributes(ctx, &s3.GetObjectAttributesInput{
			Bucket:           &bucket,
			Key:              &key,
			ObjectAttributes: attrs,
		}, opt)
		return err
	})
	return out, resp
}
