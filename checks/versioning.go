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
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/versity/s3compat/checker"
)

type objectVersion struct {
	id   string
	body []byte
}

func newVersioning() *checker.Category {
	var (
		enabled  bool
		key      string
		versions []objectVersion
		deleted  string
	)

	return &checker.Category{
		Name:        Versioning,
		Description: "bucket versioning, object versions and delete markers",
		Setup:       checker.SetupBucket("versioning"),
		Units: []checker.Unit{
			{Name: "versioning_default_disabled", Run: func(ctx context.Context, t *checker.T) error {
				status, resp := versioningStatus(ctx, t, t.Bucket)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if status != "" {
					return fmt.Errorf("new bucket reports versioning %q, expected unset", status)
				}
				return nil
			}},
			{Name: "versioning_enable", Run: func(ctx context.Context, t *checker.T) error {
				if err := enableVersioning(ctx, t, t.Bucket); err != nil {
					return err
				}
				enabled = true
				return nil
			}},
			{Name: "versioning_configuration", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(enabled, "versioned bucket"); err != nil {
					return err
				}
				var out *s3.GetBucketVersioningOutput
				resp := call(ctx, t, "GetBucketVersioning", func(ctx context.Context, opt func(*s3.Options)) error {
					var err error
					out, err = t.Client.S3.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: &t.Bucket}, opt)
					return err
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if err := checker.Equal("status", types.BucketVersioningStatusEnabled, out.Status); err != nil {
					return err
				}
				if out.MFADelete == types.MFADeleteStatusEnabled {
					return fmt.Errorf("mfa delete enabled on a bucket that never asked for it")
				}
				return nil
			}},
			createVersionUnit(1, &enabled, &key, &versions),
			createVersionUnit(2, &enabled, &key, &versions),
			createVersionUnit(3, &enabled, &key, &versions),
			{Name: "versioning_multiple_versions", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(len(versions) == 3, "three object versions"); err != nil {
					return err
				}
				seen := map[string]bool{}
				for _, v := range versions {
					if seen[v.id] {
						return fmt.Errorf("version id %v returned for two writes", v.id)
					}
					seen[v.id] = true
				}
				_, body, resp := getObject(ctx, t, getInput(t.Bucket, key))
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if !bytes.Equal(versions[2].body, body) {
					return fmt.Errorf("latest read returned %v, expected the last write", short(body))
				}
				return nil
			}},
			{Name: "versioning_list_versions", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(len(versions) == 3, "three object versions"); err != nil {
					return err
				}
				var out *s3.ListObjectVersionsOutput
				resp := call(ctx, t, "ListObjectVersions", func(ctx context.Context, opt func(*s3.Options)) error {
					var err error
					out, err = t.Client.S3.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{Bucket: &t.Bucket, Prefix: &key}, opt)
					return err
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}

				listed := map[string]bool{}
				latest := ""
				for _, v := range out.Versions {
					if aws.ToString(v.Key) != key {
						continue
					}
					listed[aws.ToString(v.VersionId)] = true
					if aws.ToBool(v.IsLatest) {
						latest = aws.ToString(v.VersionId)
					}
				}
				for i, v := range versions {
					if !listed[v.id] {
						return fmt.Errorf("version %d (%v) missing from %d listed versions", i+1, v.id, len(listed))
					}
				}
				return checker.Equal("latest version", versions[2].id, latest)
			}},
			{Name: "versioning_specific_operations", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(len(versions) == 3, "three object versions"); err != nil {
					return err
				}
				in := getInput(t.Bucket, key)
				in.VersionId = &versions[0].id
				out, body, resp := getObject(ctx, t, in)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if !bytes.Equal(versions[0].body, body) {
					return fmt.Errorf("version %v returned %v", versions[0].id, short(body))
				}
				if err := checker.Equal("version id", versions[0].id, aws.ToString(out.VersionId)); err != nil {
					return err
				}

				head, resp := headObject(ctx, t, t.Bucket, key, func(in *s3.HeadObjectInput) {
					in.VersionId = &versions[1].id
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				return checker.Equal("content length of version 2", int64(len(versions[1].body)), aws.ToInt64(head.ContentLength))
			}},
			{Name: "versioning_delete_version", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(len(versions) == 3, "three object versions"); err != nil {
					return err
				}
				out, resp := deleteObject(ctx, t, t.Bucket, key, versions[0].id)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if err := checker.Equal("deleted version id", versions[0].id, aws.ToString(out.VersionId)); err != nil {
					return err
				}
				deleted = versions[0].id
				return nil
			}},
			{Name: "versioning_delete_verification", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(deleted != "", "deleted version"); err != nil {
					return err
				}
				in := getInput(t.Bucket, key)
				in.VersionId = &deleted
				_, _, resp := getObject(ctx, t, in)
				if err := checker.ExpectStatus(resp, http.StatusNotFound); err != nil {
					return err
				}

				_, body, resp := getObject(ctx, t, getInput(t.Bucket, key))
				if err := checker.ExpectOK(resp); err != nil {
					return fmt.Errorf("remaining versions unreadable: %w", err)
				}
				if !bytes.Equal(versions[2].body, body) {
					return fmt.Errorf("latest version changed after deleting an older one")
				}
				return nil
			}},
			{Name: "versioning_delete_marker", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(len(versions) == 3, "three object versions"); err != nil {
					return err
				}
				out, resp := deleteObject(ctx, t, t.Bucket, key, "")
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				marker := aws.ToString(out.VersionId)
				if marker != "" {
					t.Fixtures.Object(t.Bucket, key, marker)
				}
				if err := checker.Equal("delete marker", true, aws.ToBool(out.DeleteMarker)); err != nil {
					return err
				}

				_, _, resp = getObject(ctx, t, getInput(t.Bucket, key))
				if err := checker.ExpectStatus(resp, http.StatusNotFound); err != nil {
					return err
				}

				// older versions stay readable behind the marker
				in := getInput(t.Bucket, key)
				in.VersionId = &versions[2].id
				_, _, resp = getObject(ctx, t, in)
				return checker.ExpectOK(resp)
			}},
		},
	}
}

func createVersionUnit(n int, enabled *bool, key *string, versions *[]objectVersion) checker.Unit {
	return checker.Unit{
		Name: "versioning_create_version_" + strconv.Itoa(n),
		Run: func(ctx context.Context, t *checker.T) error {
			if err := requires(*enabled, "versioned bucket"); err != nil {
				return err
			}
			if *key == "" {
				*key = t.Names.Key("versioned")
			}
			body := fmt.Appendf(nil, "%v version %d", t.Settings.Content, n)
			out, resp := putObject(ctx, t, t.Bucket, *key, body)
			if err := checker.ExpectOK(resp); err != nil {
				return err
			}
			id := aws.ToString(out.VersionId)
			if id == "" {
				return fmt.Errorf("write to a versioned bucket returned no version id")
			}
			*versions = append(*versions, objectVersion{id: id, body: body})
			t.Detail("version_id", id)
			return nil
		},
	}
}
