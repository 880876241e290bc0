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

// Package multipart drives S3 multipart uploads and verifies the digest the
// backend reports for the assembled object.
package multipart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
	"github.com/versity/s3compat/s3client"
	"github.com/versity/s3compat/s3err"
)

// API is the part of *s3.Client the subsystem needs.
type API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var _ API = (*s3.Client)(nil)

type State int

const (
	Initiated State = iota
	PartsUploading
	Completed
	Aborted
	Failed
)

func (s State) String() string {
	switch s {
	case Initiated:
		return "Initiated"
	case PartsUploading:
		return "PartsUploading"
	case Completed:
		return "Completed"
	case Aborted:
		return "Aborted"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Tracker is told about sessions that would leak if the process exited
// now, and about the ones that no longer would.
type Tracker interface {
	TrackUpload(s *Session)
	UntrackUpload(s *Session)
}

// Part is one uploaded part as reported by the backend.
type Part struct {
	Number int32
	ETag   string
	Size   int64
}

const abortTimeout = 10 * time.Second

// Session is the state of one multipart upload. It belongs to the check
// that created it and is not safe for concurrent use.
type Session struct {
	UploadID  string
	Bucket    string
	Key       string
	Parts     []Part
	FinalETag string

	state   State
	failed  bool
	api     API
	retry   s3client.RetryPolicy
	tracker Tracker
	log     logrus.FieldLogger
	timeout time.Duration
}

type Option func(*Session)

func WithRetryPolicy(p s3client.RetryPolicy) Option {
	return func(s *Session) { s.retry = p }
}
func WithTracker(t Tracker) Option {
	return func(s *Session) { s.tracker = t }
}
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) { s.log = l }
}

// WithCallTimeout bounds each individual request of the session.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// Begin asks the backend for a new upload id. On failure no session exists
// and the caller must not go on.
func Begin(ctx context.Context, api API, bucket, key string, opts ...Option) (*Session, error) {
	s := &Session{
		Bucket: bucket,
		Key:    key,
		api:    api,
		retry:  s3client.DefaultRetryPolicy(),
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cctx, cancel := s.callContext(ctx)
	out, err := api.CreateMultipartUpload(cctx, &s3.CreateMultipartUploadInput{
		Bucket: &bucket,
		Key:    &key,
	})
	cancel()
	if err != nil {
		return nil, s3err.New(s3err.ErrSessionInit, "CreateMultipartUpload", err)
	}
	if aws.ToString(out.UploadId) == "" {
		return nil, s3err.New(s3err.ErrSessionInit, "CreateMultipartUpload", errors.New("backend returned an empty upload id"))
	}

	s.UploadID = *out.UploadId
	s.state = Initiated
	if s.tracker != nil {
		s.tracker.TrackUpload(s)
	}
	s.log.WithFields(logrus.Fields{
		"bucket":   bucket,
		"key":      key,
		"uploadId": s.UploadID,
	}).Debug("multipart upload initiated")

	return s, nil
}

func (s *Session) State() State { return s.state }

// HasFailed reports whether the session went through Failed, even if the
// abort that followed succeeded.
func (s *Session) HasFailed() bool { return s.failed }

func (s *Session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// NextPartNumber is the only part number UploadPart accepts next.
func (s *Session) NextPartNumber() int32 {
	return int32(len(s.Parts)) + 1
}

// UploadPart sends one part under the retry policy and returns its etag.
// Parts must be sent in order starting at 1. When the retries are used up
// the session fails and is aborted before the error is returned.
func (s *Session) UploadPart(ctx context.Context, partNumber int32, data []byte) (string, error) {
	op := fmt.Sprintf("UploadPart %d", partNumber)
	if s.state != Initiated && s.state != PartsUploading {
		return "", s3err.Errorf(s3err.ErrPartUpload, op, "session is %v", s.state)
	}
	if partNumber != s.NextPartNumber() {
		return "", s3err.Errorf(s3err.ErrPartUpload, op, "expected part number %d", s.NextPartNumber())
	}
	s.state = PartsUploading

	var etag string
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		cctx, cancel := s.callContext(ctx)
		defer cancel()
		out, err := s.api.UploadPart(cctx, &s3.UploadPartInput{
			Bucket:        &s.Bucket,
			Key:           &s.Key,
			UploadId:      &s.UploadID,
			PartNumber:    &partNumber,
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"uploadId": s.UploadID,
				"part":     partNumber,
			}).Debugf("upload part attempt failed: %v", err)
			return err
		}
		etag = aws.ToString(out.ETag)
		return nil
	})
	if err != nil {
		s.fail(ctx)
		return "", s3err.New(s3err.ErrPartUpload, op, err)
	}

	s.Parts = append(s.Parts, Part{
		Number: partNumber,
		ETag:   etag,
		Size:   int64(len(data)),
	})
	return etag, nil
}

// CompletedParts is the ordered part list sent on completion.
func (s *Session) CompletedParts() []types.CompletedPart {
	parts := make([]types.CompletedPart, 0, len(s.Parts))
	for _, p := range s.Parts {
		parts = append(parts, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Number),
		})
	}
	return parts
}

// Complete submits the part list and returns the final etag. On failure the
// session fails and is aborted before the error is returned.
func (s *Session) Complete(ctx context.Context) (string, error) {
	if s.state != PartsUploading || len(s.Parts) == 0 {
		err := s3err.Errorf(s3err.ErrCompletion, "CompleteMultipartUpload", "session is %v with %d parts", s.state, len(s.Parts))
		if s.state == Initiated {
			s.fail(ctx)
		}
		return "", err
	}

	cctx, cancel := s.callContext(ctx)
	out, err := s.api.CompleteMultipartUpload(cctx, &s3.CompleteMultipartUploadInput{
		Bucket:   &s.Bucket,
		Key:      &s.Key,
		UploadId: &s.UploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: s.CompletedParts(),
		},
	})
	cancel()
	if err != nil {
		s.fail(ctx)
		return "", s3err.New(s3err.ErrCompletion, "CompleteMultipartUpload", err)
	}

	s.FinalETag = aws.ToString(out.ETag)
	s.state = Completed
	if s.tracker != nil {
		s.tracker.UntrackUpload(s)
	}
	return s.FinalETag, nil
}

// Abort cancels the upload on the backend. It is a no-op for a session that
// is already Completed or Aborted. A failed abort is logged as a warning and
// returned for callers that assert on it; it never changes the outcome of
// the operation that triggered it.
func (s *Session) Abort(ctx context.Context) error {
	if s.state == Completed || s.state == Aborted {
		return nil
	}

	// an abort must still go out when the run is being cancelled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	err := s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   &s.Bucket,
			Key:      &s.Key,
			UploadId: &s.UploadID,
		})
		return err
	})
	if err != nil && s3err.StatusOf(err) == http.StatusNotFound {
		// NoSuchUpload: nothing left to leak
		err = nil
	}
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"bucket":   s.Bucket,
			"key":      s.Key,
			"uploadId": s.UploadID,
		}).Warnf("abort multipart upload: %v", err)
		return err
	}

	s.state = Aborted
	if s.tracker != nil {
		s.tracker.UntrackUpload(s)
	}
	return nil
}

func (s *Session) fail(ctx context.Context) {
	s.state = Failed
	s.failed = true
	_ = s.Abort(ctx)
}
