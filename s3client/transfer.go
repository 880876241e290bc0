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
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// UploadData streams r to bucket/object with the transfer manager.
func (c *Client) UploadData(ctx context.Context, r io.Reader, bucket, object string) error {
	uploader := manager.NewUploader(c.S3, func(u *manager.Uploader) {
		u.PartSize = c.conf.PartSize
		u.Concurrency = c.conf.Concurrency
	})

	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Body:   r,
		Bucket: &bucket,
		Key:    &object,
	})
	return err
}

// DownloadData fetches bucket/object into w with the transfer manager and
// returns the number of bytes written.
func (c *Client) DownloadData(ctx context.Context, w io.WriterAt, bucket, object string) (int64, error) {
	return Download(ctx, c.S3, w, bucket, object, c.conf.PartSize, c.conf.Concurrency)
}

// Download is DownloadData for any GetObject capable client.
func Download(ctx context.Context, api manager.DownloadAPIClient, w io.WriterAt, bucket, object string, partSize int64, concurrency int) (int64, error) {
	downloader := manager.NewDownloader(api, func(d *manager.Downloader) {
		if partSize > 0 {
			d.PartSize = partSize
		}
		d.Concurrency = max(concurrency, 1)
	})

	n, err := downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &object,
	})
	if err != nil {
		return n, fmt.Errorf("download %v/%v: %w", bucket, object, err)
	}
	return n, nil
}

// SequentialWriterAt adapts an io.Writer to io.WriterAt for downloads that
// write strictly in order (Concurrency 1). Out of order writes fail.
type SequentialWriterAt struct {
	w   io.Writer
	off int64
}

func NewSequentialWriterAt(w io.Writer) *SequentialWriterAt {
	return &SequentialWriterAt{w: w}
}

func (s *SequentialWriterAt) WriteAt(p []byte, off int64) (int, error) {
	if off != s.off {
		return 0, fmt.Errorf("out of order write at %v, expected %v", off, s.off)
	}
	n, err := s.w.Write(p)
	s.off += int64(n)
	return n, err
}

// Written is the number of bytes written so far.
func (s *SequentialWriterAt) Written() int64 {
	return s.off
}
