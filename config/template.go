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

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/versity/s3compat/s3err"
	"gopkg.in/yaml.v3"
)

// ErrExists is returned by Generate when the target exists and overwrite
// was not requested.
var ErrExists = errors.New("configuration file already exists, use --overwrite-config to replace it")

const iniTemplate = `# S3 compatibility checker configuration
#
# Modify the values below to match the S3 compatible storage under test.
# Credentials may also come from AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY,
# a .env file or the [vault] section.

[connection]
# S3 endpoint URL (without trailing slash)
endpoint_url = http://localhost:7070
access_key = ` + placeholderAccess + `
secret_key = ` + placeholderSecret + `
# most S3 compatible systems accept any region
region = us-east-1
# set to false for self-signed certificates
verify_ssl = true
# attempts for retryable requests, first try included
max_retries = 3
# virtual host style addressing instead of path style
host_style = false
# client side request pacing, 0 disables it
requests_per_second = 0

[test_data]
# sizes in bytes
small_file_size = 1024
medium_file_size = 1048576
large_file_size = 10485760
# part size of the fixed layout multipart checks (AWS minimum is 5 MiB)
multipart_chunk_size = 5242880
test_file_content = S3 compatibility test data
# remove buckets and objects created by the run
cleanup_enabled = true
bucket_prefix = s3compat

[logging]
# debug, info, warning, error
log_level = info
log_file = s3_checker.log
console_output = true
detailed_errors = true

[checks]
buckets = true
objects = true
multipart = true
versioning = true
tagging = true
attributes = true
metadata = true
range_requests = true
error_conditions = true
sync = true
presigned = true

[timeouts]
# seconds
operation_timeout = 30
upload_timeout = 300
download_timeout = 300
teardown_timeout = 120

[multipart]
# hybrid compares digests, full downloads and hashes the object
verification = hybrid
# size of the upload partitioned with the part size policy
object_size = 73400320
concurrency = 1

[metrics]
service_name = s3compat
# comma separated host:port lists
statsd_servers =
dogstatsd_servers =
# prometheus text exposition file written at the end of the run
prometheus_file =

[events]
# all, failed or none
filter = all
kafka_brokers =
kafka_topic =
kafka_key =
nats_url =
nats_topic =
rabbitmq_url =
rabbitmq_exchange =
rabbitmq_routing_key =
webhook_url =
redis_url =
redis_channel =

[vault]
address =
token =
role_id =
role_secret =
auth_mount =
mount = secret
secret_path =
server_cert =

[export]
# json, text, yaml or parquet; empty follows the file extension
file =
format =
`

// Template returns the commented template for the format implied by path.
func Template(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		c := Default()
		c.Connection.EndpointURL = "http://localhost:7070"
		c.Connection.AccessKey = placeholderAccess
		c.Connection.SecretKey = placeholderSecret
		var buf bytes.Buffer
		buf.WriteString("# S3 compatibility checker configuration\n")
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return []byte(iniTemplate), nil
}

// Generate writes the template to path. An existing file is only replaced
// when overwrite is set.
func Generate(path string, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return s3err.New(s3err.ErrConfiguration, path, ErrExists)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return s3err.New(s3err.ErrConfiguration, path, err)
	}

	b, err := Template(path)
	if err != nil {
		return s3err.New(s3err.ErrConfiguration, path, err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return s3err.New(s3err.ErrConfiguration, path, fmt.Errorf("write template: %w", err))
	}
	return nil
}
