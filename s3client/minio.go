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
	"fmt"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient builds a minio-go client for the same endpoint and keys. It
// is used to cross check presigned URLs signed by a second implementation.
func (c *S3Conf) MinioClient() (*minio.Client, error) {
	access, secret, err := c.Credentials()
	if err != nil {
		return nil, err
	}

	host := "s3.amazonaws.com"
	if c.endpoint != "" && c.endpoint != "aws" {
		u, err := url.Parse(c.endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint %q: %w", c.endpoint, err)
		}
		host = u.Host
	}

	lookup := minio.BucketLookupPath
	if c.hostStyle {
		lookup = minio.BucketLookupDNS
	}

	return minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(access, secret, ""),
		Secure:       c.Secure(),
		Region:       c.awsRegion,
		Transport:    c.transport(),
		BucketLookup: lookup,
	})
}
