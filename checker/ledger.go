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
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/versity/s3compat/multipart"
)

// Releaser deletes fixtures. *s3client.Client implements it.
type Releaser interface {
	DeleteObject(ctx context.Context, bucket, key, versionID string) error
	DeleteBucket(ctx context.Context, bucket string) error
}

type object struct {
	owner     string
	bucket    string
	key       string
	versionID string
}

type bucket struct {
	owner string
	name  string
}

// Ledger records every resource the run creates, tagged by the category
// that owns it, so nothing outlives the run whatever path it exits by.
type Ledger struct {
	mu      sync.Mutex
	buckets []bucket
	objects []object
	uploads map[*multipart.Session]string
	log     logrus.FieldLogger
}

func NewLedger(log logrus.FieldLogger) *Ledger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{
		uploads: make(map[*multipart.Session]string),
		log:     log,
	}
}

// Fixtures returns the view of the ledger owned by one category.
func (l *Ledger) Fixtures(owner string) *Fixtures {
	return &Fixtures{l: l, owner: owner}
}

// Len returns the number of recorded buckets, objects and open uploads.
func (l *Ledger) Len() (buckets, objects, uploads int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets), len(l.objects), len(l.uploads)
}

func owns(owner, o string) bool {
	return owner == "" || owner == o
}

// AbortUploads aborts the open multipart sessions of owner, or of everyone
// when owner is empty.
func (l *Ledger) AbortUploads(ctx context.Context, owner string) error {
	l.mu.Lock()
	var open []*multipart.Session
	for s, o := range l.uploads {
		if owns(owner, o) {
			open = append(open, s)
		}
	}
	l.mu.Unlock()

	// Abort untracks through the ledger, so the lock must not be held.
	var errs []error
	for _, s := range open {
		l.log.WithFields(logrus.Fields{
			"bucket":    s.Bucket,
			"key":       s.Key,
			"upload_id": s.UploadID,
		}).Info("aborting in-flight multipart upload")
		if err := s.Abort(ctx); err != nil {
			errs = append(errs, err)
			l.untrack(s)
		}
	}
	return errors.Join(errs...)
}

// Release aborts uploads, then deletes objects, then deletes buckets owned
// by owner (everything when owner is empty). Entries are dropped from the
// ledger whether or not their deletion succeeded.
func (l *Ledger) Release(ctx context.Context, r Releaser, owner string) error {
	var errs []error
	if err := l.AbortUploads(ctx, owner); err != nil {
		errs = append(errs, err)
	}

	l.mu.Lock()
	var objects []object
	l.objects = slices.DeleteFunc(l.objects, func(o object) bool {
		if owns(owner, o.owner) {
			objects = append(objects, o)
			return true
		}
		return false
	})
	var buckets []bucket
	l.buckets = slices.DeleteFunc(l.buckets, func(b bucket) bool {
		if owns(owner, b.owner) {
			buckets = append(buckets, b)
			return true
		}
		return false
	})
	l.mu.Unlock()

	if r == nil {
		return errors.Join(errs...)
	}

	for i := len(objects) - 1; i >= 0; i-- {
		o := objects[i]
		if err := r.DeleteObject(ctx, o.bucket, o.key, o.versionID); err != nil {
			errs = append(errs, fmt.Errorf("release object %v/%v: %w", o.bucket, o.key, err))
		}
	}
	for i := len(buckets) - 1; i >= 0; i-- {
		b := buckets[i]
		if err := r.DeleteBucket(ctx, b.name); err != nil {
			errs = append(errs, fmt.Errorf("release bucket %v: %w", b.name, err))
		}
	}
	return errors.Join(errs...)
}

func (l *Ledger) untrack(s *multipart.Session) {
	l.mu.Lock()
	delete(l.uploads, s)
	l.mu.Unlock()
}

// Fixtures records resources on behalf of one category. It implements
// multipart.Tracker.
type Fixtures struct {
	l     *Ledger
	owner string
}

var _ multipart.Tracker = (*Fixtures)(nil)

func (f *Fixtures) Owner() string { return f.owner }

// Bucket records a bucket. Recording the same bucket twice is harmless.
func (f *Fixtures) Bucket(name string) {
	f.l.mu.Lock()
	defer f.l.mu.Unlock()
	for _, b := range f.l.buckets {
		if b.name == name {
			return
		}
	}
	f.l.buckets = append(f.l.buckets, bucket{owner: f.owner, name: name})
}

// Object records an object or one version of it.
func (f *Fixtures) Object(bucket, key, versionID string) {
	f.l.mu.Lock()
	defer f.l.mu.Unlock()
	f.l.objects = append(f.l.objects, object{
		owner:     f.owner,
		bucket:    bucket,
		key:       key,
		versionID: versionID,
	})
}

// Forget drops a bucket the category deleted itself.
func (f *Fixtures) Forget(name string) {
	f.l.mu.Lock()
	defer f.l.mu.Unlock()
	f.l.buckets = slices.DeleteFunc(f.l.buckets, func(b bucket) bool { return b.name == name })
	f.l.objects = slices.DeleteFunc(f.l.objects, func(o object) bool { return o.bucket == name })
}

func (f *Fixtures) TrackUpload(s *multipart.Session) {
	f.l.mu.Lock()
	f.l.uploads[s] = f.owner
	f.l.mu.Unlock()
}

func (f *Fixtures) UntrackUpload(s *multipart.Session) {
	f.l.untrack(s)
}
