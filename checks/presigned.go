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
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/versity/s3compat/checker"
	"github.com/versity/s3compat/s3client"
	"github.com/versity/s3compat/s3err"
)

const (
	presignExpiry = 15 * time.Minute
	shortExpiry   = time.Second
)

func newPresigned() *checker.Category {
	var (
		key  string
		body []byte
	)
	ready := func() error { return requires(key != "", "object uploaded through a presigned url") }

	return &checker.Category{
		Name:        Presigned,
		Description: "presigned GET and PUT urls, expiry and signature tampering",
		Independent: true,
		Setup:       checker.SetupBucket("presigned"),
		Units: []checker.Unit{
			{Name: "presigned_put_sdk", Run: func(ctx context.Context, t *checker.T) error {
				k := t.Names.Key("presigned")
				b := payload(t.Settings.SmallSize, 8)
				req, err := t.Client.Presign.PresignPutObject(ctx, &s3.PutObjectInput{Bucket: &t.Bucket, Key: &k}, s3.WithPresignExpires(presignExpiry))
				if err != nil {
					return fmt.Errorf("presign put: %w", err)
				}
				resp, err := rawRequest(ctx, t, req.Method, req.URL, req.SignedHeader, b)
				if err != nil {
					return err
				}
				if resp.Status/100 != 2 {
					return s3err.Mismatch("presigned PUT status", "2xx", fmt.Sprintf("%d %s", resp.Status, short(resp.Body)))
				}
				t.Fixtures.Object(t.Bucket, k, "")

				_, got, sresp := getObject(ctx, t, getInput(t.Bucket, k))
				if err := checker.ExpectOK(sresp); err != nil {
					return err
				}
				if !bytes.Equal(b, got) {
					return fmt.Errorf("object written through presigned PUT differs from what was sent")
				}
				key, body = k, b
				return nil
			}},
			{Name: "presigned_get_sdk", Run: func(ctx context.Context, t *checker.T) error {
				if err := ready(); err != nil {
					return err
				}
				req, err := t.Client.Presign.PresignGetObject(ctx, getInput(t.Bucket, key), s3.WithPresignExpires(presignExpiry))
				if err != nil {
					return fmt.Errorf("presign get: %w", err)
				}
				return expectPresignedBody(ctx, t, req.URL, req.SignedHeader, body)
			}},
			{Name: "presigned_get_minio", Run: func(ctx context.Context, t *checker.T) error {
				if err := ready(); err != nil {
					return err
				}
				mc, err := t.Client.Conf().MinioClient()
				if err != nil {
					return err
				}
				u, err := mc.PresignedGetObject(ctx, t.Bucket, key, presignExpiry, url.Values{})
				if err != nil {
					return fmt.Errorf("minio presign get: %w", err)
				}
				return expectPresignedBody(ctx, t, u.String(), nil, body)
			}},
			{Name: "presigned_expired", Run: func(ctx context.Context, t *checker.T) error {
				if err := ready(); err != nil {
					return err
				}
				req, err := t.Client.Presign.PresignGetObject(ctx, getInput(t.Bucket, key), s3.WithPresignExpires(shortExpiry))
				if err != nil {
					return fmt.Errorf("presign get: %w", err)
				}
				select {
				case <-time.After(2 * shortExpiry):
				case <-ctx.Done():
					return ctx.Err()
				}
				resp, err := rawRequest(ctx, t, req.Method, req.URL, req.SignedHeader, nil)
				if err != nil {
					return err
				}
				return checker.Equal("expired url status", http.StatusForbidden, resp.Status)
			}},
			{Name: "presigned_tampered", Run: func(ctx context.Context, t *checker.T) error {
				if err := ready(); err != nil {
					return err
				}
				req, err := t.Client.Presign.PresignGetObject(ctx, getInput(t.Bucket, key), s3.WithPresignExpires(presignExpiry))
				if err != nil {
					return fmt.Errorf("presign get: %w", err)
				}
				u, err := tamperSignature(req.URL)
				if err != nil {
					return err
				}
				resp, err := rawRequest(ctx, t, req.Method, u, req.SignedHeader, nil)
				if err != nil {
					return err
				}
				return checker.Equal("tampered url status", http.StatusForbidden, resp.Status)
			}},
		},
	}
}

func rawRequest(ctx context.Context, t *checker.T, method, u string, header http.Header, body []byte) (s3client.RawResponse, error) {
	resp, err := t.Client.Raw(ctx, method, u, header, body)
	if err != nil {
		return resp, s3err.New(s3err.ErrTransport, method+" presigned url", err)
	}
	t.Detail("status", resp.Status)
	return resp, nil
}

func expectPresignedBody(ctx context.Context, t *checker.T, u string, header http.Header, want []byte) error {
	resp, err := rawRequest(ctx, t, http.MethodGet, u, header, nil)
	if err != nil {
		return err
	}
	if err := checker.Equal("presigned GET status", http.StatusOK, resp.Status); err != nil {
		return err
	}
	if !bytes.Equal(want, resp.Body) {
		return fmt.Errorf("presigned GET returned %v", short(resp.Body))
	}
	return nil
}

// tamperSignature flips the last hex digit of the signature.
func tamperSignature(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	sig := q.Get("X-Amz-Signature")
	if sig == "" {
		return "", fmt.Errorf("presigned url has no X-Amz-Signature")
	}
	last := byte('0')
	if sig[len(sig)-1] == '0' {
		last = '1'
	}
	q.Set("X-Amz-Signature", sig[:len(sig)-1]+string(last))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
