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

package multipart

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"

	"github.com/versity/s3compat/partition"
	"github.com/versity/s3compat/s3err"
)

// Result is a finished upload together with the digests computed locally
// while its data was produced.
type Result struct {
	Session   *Session
	Layout    partition.Layout
	PartSums  [][md5.Size]byte
	ObjectSum [md5.Size]byte
}

// Upload sends size bytes read from src as a multipart object, with the
// part size chosen by partition.New.
func Upload(ctx context.Context, api API, bucket, key string, size uint64, src io.Reader, opts ...Option) (*Result, error) {
	layout, err := partition.New(size)
	if err != nil {
		return nil, err
	}
	return UploadLayout(ctx, api, bucket, key, layout, src, opts...)
}

// UploadLayout runs begin, one UploadPart per part of layout, and complete.
// Every failure past begin leaves the session aborted.
func UploadLayout(ctx context.Context, api API, bucket, key string, layout partition.Layout, src io.Reader, opts ...Option) (*Result, error) {
	s, err := Begin(ctx, api, bucket, key, opts...)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Session:  s,
		Layout:   layout,
		PartSums: make([][md5.Size]byte, 0, layout.PartCount),
	}

	whole := md5.New()
	buf := make([]byte, min(layout.PartSize, layout.ObjectSize))
	for n := uint64(1); n <= layout.PartCount; n++ {
		data := buf[:layout.PartLength(n)]
		if _, err := io.ReadFull(src, data); err != nil {
			s.fail(ctx)
			return res, s3err.New(s3err.ErrPartUpload, fmt.Sprintf("read part %d", n), err)
		}
		whole.Write(data)
		res.PartSums = append(res.PartSums, md5.Sum(data))

		if _, err := s.UploadPart(ctx, int32(n), data); err != nil {
			return res, err
		}
	}
	copy(res.ObjectSum[:], whole.Sum(nil))

	if _, err := s.Complete(ctx); err != nil {
		return res, err
	}
	return res, nil
}
