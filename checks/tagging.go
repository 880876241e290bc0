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
	"net/url"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/versity/s3compat/checker"
	"github.com/versity/s3compat/s3client"
)

// maxObjectTags is the S3 limit on tags per object.
const maxObjectTags = 10

func newTagging() *checker.Category {
	var bucket, key string

	return &checker.Category{
		Name:        Tagging,
		Description: "bucket and object tag sets",
		Independent: true,
		Setup: func(ctx context.Context, env *checker.Env) error {
			if err := checker.SetupBucket("tagging")(ctx, env); err != nil {
				return err
			}
			bucket = env.Bucket
			return nil
		},
		Units: []checker.Unit{
			bucketTaggingPutGet(func() string { return bucket }),
			bucketTaggingDelete(func() string { return bucket }),
			{Name: "object_tagging_put_get", Run: func(ctx context.Context, t *checker.T) error {
				k := t.Names.Key("tagged")
				if _, resp := putObject(ctx, t, t.Bucket, k, []byte(t.Settings.Content)); !resp.OK() {
					return fmt.Errorf("create object to tag: %w", checker.ExpectOK(resp))
				}
				tags := map[string]string{"category": "tagging", "stage": "initial"}
				if err := putObjectTags(ctx, t, t.Bucket, k, tags); err != nil {
					return err
				}
				got, resp := objectTags(ctx, t, t.Bucket, k)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				key = k
				return checker.Same("object tags", tags, got)
			}},
			{Name: "object_tagging_update", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(key != "", "tagged object"); err != nil {
					return err
				}
				// a put replaces the whole set, it does not merge
				tags := map[string]string{"stage": "updated", "reviewed": "true"}
				if err := putObjectTags(ctx, t, t.Bucket, key, tags); err != nil {
					return err
				}
				got, resp := objectTags(ctx, t, t.Bucket, key)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				return checker.Same("object tags after update", tags, got)
			}},
			{Name: "object_tagging_delete", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(key != "", "tagged object"); err != nil {
					return err
				}
				resp := call(ctx, t, "DeleteObjectTagging", func(ctx context.Context, opt func(*s3.Options)) error {
					_, err := t.Client.S3.DeleteObjectTagging(ctx, &s3.DeleteObjectTaggingInput{Bucket: &t.Bucket, Key: &key}, opt)
					return err
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				got, resp := objectTags(ctx, t, t.Bucket, key)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				return checker.Equal("tags after delete", 0, len(got))
			}},
			{Name: "object_tagging_on_put", Run: func(ctx context.Context, t *checker.T) error {
				tags := map[string]string{"origin": "put object", "team": "qa"}
				q := url.Values{}
				for k, v := range tags {
					q.Set(k, v)
				}
				header := q.Encode()

				k := t.Names.Key("tagged-on-put")
				_, resp := putObject(ctx, t, t.Bucket, k, []byte(t.Settings.Content), func(in *s3.PutObjectInput) {
					in.Tagging = &header
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				got, resp := objectTags(ctx, t, t.Bucket, k)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				return checker.Same("tags set on put", tags, got)
			}},
			{Name: "object_tagging_limit", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(key != "", "tagged object"); err != nil {
					return err
				}
				tags := make(map[string]string, maxObjectTags+1)
				for i := range maxObjectTags + 1 {
					tags[fmt.Sprintf("key%02d", i)] = "value"
				}
				resp := call(ctx, t, "PutObjectTagging", func(ctx context.Context, opt func(*s3.Options)) error {
					_, err := t.Client.S3.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
						Bucket:  &t.Bucket,
						Key:     &key,
						Tagging: &types.Tagging{TagSet: tagSet(tags)},
					}, opt)
					return err
				})
				return checker.ExpectStatus(resp, http.StatusBadRequest)
			}},
		},
	}
}

func putObjectTags(ctx context.Context, t *checker.T, bucket, key string, tags map[string]string) error {
	resp := call(ctx, t, "PutObjectTagging", func(ctx context.Context, opt func(*s3.Options)) error {
		_, err := t.Client.S3.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
			Bucket:  &bucket,
			Key:     &key,
			Tagging: &types.Tagging{TagSet: tagSet(tags)},
		}, opt)
		return err
	})
	return checker.ExpectOK(resp)
}

func objectTags(ctx context.Context, t *checker.T, bucket, key string) (map[string]string, s3client.Response) {
	var out *s3.GetObjectTaggingOutput
	resp := call(ctx, t, "GetObjectTagging", func(ctx context.Context, opt func(*s3.Options)) error {
		var err error
		out, err = t.Client.S3.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{Bucket: &bucket, Key: &key}, opt)
		return err
	})
	if out == nil {
		return nil, resp
	}
	return tagMap(out.TagSet), resp
}
