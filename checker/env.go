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

package checker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/versity/s3compat/multipart"
	"github.com/versity/s3compat/partition"
	"github.com/versity/s3compat/s3client"
)

// Settings are the run parameters shared by every category.
type Settings struct {
	BucketPrefix string
	SmallSize    int64
	MediumSize   int64
	LargeSize    int64
	// ChunkSize is the part size of the fixed layout multipart checks.
	ChunkSize int64
	// MultipartSize is the object size of the dynamic multipart check,
	// partitioned with the size policy.
	MultipartSize   uint64
	Content         string
	Cleanup         bool
	Verification    multipart.Strategy
	UploadTimeout   time.Duration
	TeardownTimeout time.Duration
	DetailedErrors  bool
}

func DefaultSettings() Settings {
	return Settings{
		BucketPrefix:    "s3compat",
		SmallSize:       1024,
		MediumSize:      1024 * 1024,
		LargeSize:       10 * 1024 * 1024,
		ChunkSize:       5 * int64(partition.MiB),
		MultipartSize:   70 * partition.MiB,
		Content:         "S3 compatibility test data",
		Cleanup:         true,
		Verification:    multipart.Hybrid,
		UploadTimeout:   300 * time.Second,
		TeardownTimeout: 2 * time.Minute,
		DetailedErrors:  true,
	}
}

// Namer hands out fixture names unique to one run.
type Namer struct {
	prefix string
	suffix string
	n      atomic.Uint64
}

const maxBucketName = 63

func NewNamer(prefix string) *Namer {
	return &Namer{
		prefix: sanitize(prefix),
		suffix: strings.ToLower(ulid.Make().String()),
	}
}

// Suffix is the per run random component of every name.
func (n *Namer) Suffix() string { return n.suffix }

// Bucket returns a new valid bucket name tagged with tag.
func (n *Namer) Bucket(tag string) string {
	seq := fmt.Sprintf("-%s-%d", n.suffix, n.n.Add(1))
	head := n.prefix
	if tag = sanitize(tag); tag != "" {
		head += "-" + tag
	}
	if room := maxBucketName - len(seq); len(head) > room {
		head = strings.TrimRight(head[:room], "-")
	}
	return head + seq
}

// Key returns a new object key tagged with tag.
func (n *Namer) Key(tag string) string {
	return fmt.Sprintf("%s-%d", tag, n.n.Add(1))
}

func sanitize(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r == '_', r == '.', r == ' ':
			return '-'
		}
		return -1
	}, s)
}

// Env is what a category sees of the run.
type Env struct {
	Client   *s3client.Client
	Fixtures *Fixtures
	Names    *Namer
	Settings Settings
	Log      logrus.FieldLogger
	// Bucket is the primary fixture bucket, set by the category setup.
	Bucket string
}

// MultipartOptions wires sessions to the run: leaked sessions are aborted by
// the ledger, retries follow the client policy.
func (e *Env) MultipartOptions() []multipart.Option {
	opts := []multipart.Option{
		multipart.WithTracker(e.Fixtures),
		multipart.WithLogger(e.Log),
	}
	if e.Client != nil {
		opts = append(opts,
			multipart.WithRetryPolicy(e.Client.Retry()),
			multipart.WithCallTimeout(e.Client.Conf().Timeout()))
	}
	return opts
}

// CreateBucket creates a uniquely named bucket and records it for teardown.
func (e *Env) CreateBucket(ctx context.Context, tag string, mutate ...func(*s3.CreateBucketInput)) (string, s3client.Response) {
	bucket := e.Names.Bucket(tag)
	in := &s3.CreateBucketInput{Bucket: &bucket}
	for _, m := range mutate {
		m(in)
	}
	resp := e.Client.Request(ctx, "CreateBucket", func(ctx context.Context, opt func(*s3.Options)) error {
		_, err := e.Client.S3.CreateBucket(ctx, in, opt)
		return err
	})
	if resp.Err == nil {
		e.Fixtures.Bucket(bucket)
	}
	return bucket, resp
}

// SetupBucket is a Category.Setup creating the primary fixture bucket.
func SetupBucket(tag string) func(context.Context, *Env) error {
	return func(ctx context.Context, env *Env) error {
		bucket, resp := env.CreateBucket(ctx, tag)
		if resp.Err != nil {
			return fmt.Errorf("create bucket %v: %w", bucket, resp.Err)
		}
		env.Bucket = bucket
		return nil
	}
}

// ErrSkip marks a unit as Skipped rather than Failed.
var ErrSkip = errors.New("skipped")

// Skipf returns an error that records the unit as Skipped with the given
// reason.
func Skipf(format string, a ...any) error {
	return fmt.Errorf("%w: %v", ErrSkip, fmt.Sprintf(format, a...))
}

// T is handed to a running unit.
type T struct {
	*Env
	name     string
	category string
	message  string
	detail   map[string]any
	log      logrus.FieldLogger
}

func newT(env *Env, category, name string) *T {
	log := env.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &T{
		Env:      env,
		name:     name,
		category: category,
		log:      log.WithField("check", name),
	}
}

func (t *T) Name() string { return t.name }

func (t *T) Logf(format string, a ...any) {
	t.log.Debugf(format, a...)
}

// Messagef sets the message recorded when the unit passes.
func (t *T) Messagef(format string, a ...any) {
	t.message = fmt.Sprintf(format, a...)
}

// Detail records a value in the result's raw detail.
func (t *T) Detail(key string, value any) {
	if t.detail == nil {
		t.detail = make(map[string]any)
	}
	t.detail[key] = value
}

// Response records the status and error of a facade response.
func (t *T) Response(r s3client.Response) {
	if t.detail == nil {
		t.detail = make(map[string]any)
	}
	maps.Copy(t.detail, r.Detail())
}
