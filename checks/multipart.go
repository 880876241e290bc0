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
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/versity/s3compat/checker"
	"github.com/versity/s3compat/multipart"
	"github.com/versity/s3compat/partition"
	"github.com/versity/s3compat/s3client"
	"github.com/versity/s3compat/s3err"
)

// multipartState is what the sequential multipart units hand each other.
type multipartState struct {
	session *multipart.Session
	layout  partition.Layout
	data    []byte
	sums    [][md5.Size]byte
	aborted *multipart.Session
}

func (m *multipartState) part(n int32) []byte {
	off := m.layout.Offset(uint64(n))
	return m.data[off : off+m.layout.PartLength(uint64(n))]
}

func (m *multipartState) result() *multipart.Result {
	return &multipart.Result{
		Session:   m.session,
		Layout:    m.layout,
		PartSums:  m.sums,
		ObjectSum: md5.Sum(m.data),
	}
}

func newMultipart() *checker.Category {
	st := &multipartState{}

	return &checker.Category{
		Name:        Multipart,
		Description: "multipart upload lifecycle and digest verification",
		Setup: func(ctx context.Context, env *checker.Env) error {
			// three parts, the last one half sized
			size := uint64(env.Settings.ChunkSize)*2 + uint64(env.Settings.ChunkSize)/2
			layout, err := partition.Fixed(size, uint64(env.Settings.ChunkSize))
			if err != nil {
				return err
			}
			st.layout = layout
			st.data = payload(int64(size), 4)
			return checker.SetupBucket("multipart")(ctx, env)
		},
		Units: []checker.Unit{
			{Name: "multipart_upload_creation", Run: func(ctx context.Context, t *checker.T) error {
				s, err := multipart.Begin(ctx, t.Client.S3, t.Bucket, t.Names.Key("multipart"), t.MultipartOptions()...)
				if err != nil {
					return err
				}
				st.session = s
				t.Detail("upload_id", s.UploadID)
				t.Messagef("upload id %v", s.UploadID)
				return nil
			}},
			uploadPartUnit(st, 1),
			uploadPartUnit(st, 2),
			uploadPartUnit(st, 3),
			{Name: "multipart_list_parts", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(st.session != nil && len(st.session.Parts) == int(st.layout.PartCount), "uploaded parts"); err != nil {
					return err
				}
				out, resp := listParts(ctx, t, st.session.Bucket, st.session.Key, st.session.UploadID)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				want := make([]string, 0, len(st.session.Parts))
				for _, p := range st.session.Parts {
					want = append(want, multipart.NormalizeETag(p.ETag))
				}
				var got []string
				for _, p := range out.Parts {
					got = append(got, multipart.NormalizeETag(aws.ToString(p.ETag)))
				}
				return checker.Same("listed part etags", want, got)
			}},
			{Name: "multipart_list_uploads", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(st.session != nil, "multipart session"); err != nil {
					return err
				}
				var out *s3.ListMultipartUploadsOutput
				resp := call(ctx, t, "ListMultipartUploads", func(ctx context.Context, opt func(*s3.Options)) error {
					var err error
					out, err = t.Client.S3.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{Bucket: &t.Bucket}, opt)
					return err
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				for _, u := range out.Uploads {
					if aws.ToString(u.UploadId) == st.session.UploadID {
						return checker.Equal("upload key", st.session.Key, aws.ToString(u.Key))
					}
				}
				return s3err.Mismatch("in progress uploads", st.session.UploadID, len(out.Uploads))
			}},
			{Name: "multipart_completion", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(st.session != nil && len(st.session.Parts) > 0, "uploaded parts"); err != nil {
					return err
				}
				etag, err := st.session.Complete(ctx)
				if err != nil {
					return err
				}
				t.Fixtures.Object(st.session.Bucket, st.session.Key, "")
				t.Detail("etag", etag)
				t.Messagef("completed with etag %v", etag)
				return nil
			}},
			{Name: "multipart_completion_verification", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(completed(st.session), "completed upload"); err != nil {
					return err
				}
				out, resp := headObject(ctx, t, st.session.Bucket, st.session.Key)
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				if err := checker.Equal("object size", int64(len(st.data)), aws.ToInt64(out.ContentLength)); err != nil {
					return err
				}
				_, parts, err := multipart.ParseETag(aws.ToString(out.ETag))
				if err != nil {
					return s3err.New(s3err.ErrAssertionMismatch, "etag", err)
				}
				if parts == 0 {
					return checker.Skipf("backend etag %v carries no part count", aws.ToString(out.ETag))
				}
				return checker.Equal("etag part count", int(st.layout.PartCount), parts)
			}},
			{Name: "multipart_digest_verification", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(completed(st.session), "completed upload"); err != nil {
					return err
				}
				return verify(ctx, t, multipart.HybridVerifier{}, st.result())
			}},
			{Name: "multipart_full_verification", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(completed(st.session), "completed upload"); err != nil {
					return err
				}
				return verify(ctx, t, &multipart.FullVerifier{API: t.Client.S3}, st.result())
			}},
			{Name: "multipart_abort", Run: func(ctx context.Context, t *checker.T) error {
				s, err := multipart.Begin(ctx, t.Client.S3, t.Bucket, t.Names.Key("aborted"), t.MultipartOptions()...)
				if err != nil {
					return err
				}
				if _, err := s.UploadPart(ctx, 1, st.part(1)); err != nil {
					return err
				}
				if err := s.Abort(ctx); err != nil {
					return err
				}
				if err := checker.Equal("session state", multipart.Aborted, s.State()); err != nil {
					return err
				}
				st.aborted = s
				return nil
			}},
			{Name: "multipart_abort_verification", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(st.aborted != nil, "aborted upload"); err != nil {
					return err
				}
				_, resp := listParts(ctx, t, st.aborted.Bucket, st.aborted.Key, st.aborted.UploadID)
				return checker.ExpectStatus(resp, http.StatusNotFound)
			}},
			{Name: "multipart_dynamic_upload", Run: func(ctx context.Context, t *checker.T) error {
				size := t.Settings.MultipartSize
				key := t.Names.Key("dynamic")
				src := s3client.NewSeededReader(int64(size), 1<<20, 5)

				ctx, cancel := context.WithTimeout(ctx, t.Settings.UploadTimeout)
				defer cancel()

				res, err := multipart.Upload(ctx, t.Client.S3, t.Bucket, key, size, src, t.MultipartOptions()...)
				if err != nil {
					return err
				}
				t.Fixtures.Object(t.Bucket, key, "")
				t.Logf("uploaded %v as %d parts, upload id %v", key, res.Layout.PartCount, res.Session.UploadID)
				t.Detail("part_size", res.Layout.PartSize)
				t.Detail("part_count", res.Layout.PartCount)
				t.Detail("source_md5", hex.EncodeToString(src.Sum()))

				if err := verify(ctx, t, multipart.NewVerifier(t.Settings.Verification, t.Client.S3), res); err != nil {
					return err
				}
				t.Messagef("uploaded %v in %d parts of %v, %v verification passed",
					humanize.IBytes(size), res.Layout.PartCount, humanize.IBytes(res.Layout.PartSize), t.Settings.Verification)
				return nil
			}},
		},
	}
}

func uploadPartUnit(st *multipartState, n int32) checker.Unit {
	return checker.Unit{
		Name: "multipart_part_upload_" + strconv.Itoa(int(n)),
		Run: func(ctx context.Context, t *checker.T) error {
			if err := requires(st.session != nil && st.session.NextPartNumber() == n, "multipart session"); err != nil {
				return err
			}
			data := st.part(n)
			etag, err := st.session.UploadPart(ctx, n, data)
			if err != nil {
				return err
			}
			st.sums = append(st.sums, md5.Sum(data))
			t.Detail("etag", etag)
			return expectETag("part etag", etag, data)
		},
	}
}

func listParts(ctx context.Context, t *checker.T, bucket, key, uploadID string) (*s3.ListPartsOutput, s3client.Response) {
	var out *s3.ListPartsOutput
	resp := call(ctx, t, "ListParts", func(ctx context.Context, opt func(*s3.Options)) error {
		var err error
		out, err = t.Client.S3.ListParts(ctx, &s3.ListPartsInput{
			Bucket:   &bucket,
			Key:      &key,
			UploadId: &uploadID,
		}, opt)
		return err
	})
	return out, resp
}

func completed(s *multipart.Session) bool {
	return s != nil && s.State() == multipart.Completed
}

// verify runs v and turns a failed verification into an assertion mismatch.
func verify(ctx context.Context, t *checker.T, v multipart.Verifier, r *multipart.Result) error {
	res, err := v.Verify(ctx, r)
	if err != nil {
		return err
	}
	t.Detail("verification", res.String())
	if !res.Pass {
		return s3err.New(s3err.ErrAssertionMismatch, "digest", errors.New(res.String()))
	}
	t.Messagef("%v", res)
	return nil
}
