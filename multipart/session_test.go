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
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/versity/s3compat/s3client"
	"github.com/versity/s3compat/s3err"
)

func fastRetry() Option {
	p := s3client.DefaultRetryPolicy()
	p.Backoff = s3client.FixedBackoff(0)
	return WithRetryPolicy(p)
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	tracker := newRecordingTracker()

	s, err := Begin(ctx, api, "bucket", "key", fastRetry(), WithTracker(tracker))
	require.NoError(t, err)
	assert.Equal(t, Initiated, s.State())
	assert.NotEmpty(t, s.UploadID)
	assert.True(t, tracker.open[s])

	for n := int32(1); n <= 3; n++ {
		etag, err := s.UploadPart(ctx, n, []byte{byte(n)})
		require.NoError(t, err)
		assert.NotEmpty(t, etag)
		assert.Equal(t, PartsUploading, s.State())
	}

	for i, p := range s.Parts {
		assert.Equal(t, int32(i+1), p.Number)
	}

	final, err := s.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, Completed, s.State())
	assert.Equal(t, final, s.FinalETag)
	assert.False(t, tracker.open[s])

	_, parts, err := ParseETag(final)
	require.NoError(t, err)
	assert.Equal(t, 3, parts)
}

func TestBeginFailure(t *testing.T) {
	api := newFakeS3()
	api.createErr = statusErr(http.StatusForbidden, "AccessDenied")

	s, err := Begin(context.Background(), api, "bucket", "key")
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, s3err.SessionInit))
	assert.Equal(t, 403, s3err.StatusOf(err))
}

func TestUploadPartRetry(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		calls     int
		wantErr   bool
		wantState State
	}{
		{"transient 5xx", []error{statusErr(503, "SlowDown"), statusErr(500, "InternalError")}, 3, false, PartsUploading},
		{"transport then ok", []error{errors.New("connection reset by peer")}, 2, false, PartsUploading},
		{"exhausted", []error{statusErr(500, "InternalError"), statusErr(500, "InternalError"), statusErr(500, "InternalError")}, 3, true, Aborted},
		{"4xx fails fast", []error{statusErr(400, "InvalidArgument")}, 1, true, Aborted},
		{"404 fails fast", []error{statusErr(404, "NoSuchUpload")}, 1, true, Aborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			api := newFakeS3()
			tracker := newRecordingTracker()

			s, err := Begin(ctx, api, "bucket", "key", fastRetry(), WithTracker(tracker))
			require.NoError(t, err)

			api.partErrs = tt.errs
			_, err = s.UploadPart(ctx, 1, []byte("data"))

			assert.Equal(t, tt.calls, api.count("UploadPart"))
			assert.Equal(t, tt.wantState, s.State())
			if tt.wantErr {
				assert.True(t, errors.Is(err, s3err.PartUpload))
				assert.True(t, s.HasFailed())
				assert.Equal(t, 1, api.count("AbortMultipartUpload"))
				assert.Empty(t, api.openUploads())
				assert.False(t, tracker.open[s])
			} else {
				assert.NoError(t, err)
				assert.Len(t, s.Parts, 1)
				assert.True(t, tracker.open[s])
			}
		})
	}
}

func TestUploadPartOrder(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	s, err := Begin(ctx, api, "bucket", "key", fastRetry())
	require.NoError(t, err)

	_, err = s.UploadPart(ctx, 2, []byte("x"))
	assert.True(t, errors.Is(err, s3err.PartUpload))
	assert.Equal(t, 0, api.count("UploadPart"))
	assert.Equal(t, Initiated, s.State())

	_, err = s.UploadPart(ctx, 1, []byte("x"))
	require.NoError(t, err)
	_, err = s.UploadPart(ctx, 1, []byte("x"))
	assert.Error(t, err)
	assert.Equal(t, int32(2), s.NextPartNumber())
}

func TestCompleteFailure(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	tracker := newRecordingTracker()
	s, err := Begin(ctx, api, "bucket", "key", fastRetry(), WithTracker(tracker))
	require.NoError(t, err)
	_, err = s.UploadPart(ctx, 1, []byte("x"))
	require.NoError(t, err)

	api.completeErr = statusErr(http.StatusBadRequest, "InvalidPart")
	_, err = s.Complete(ctx)
	assert.True(t, errors.Is(err, s3err.Completion))
	assert.True(t, s.HasFailed())
	assert.Equal(t, Aborted, s.State())
	assert.Equal(t, 1, api.count("AbortMultipartUpload"))
	assert.Empty(t, tracker.open)
}

func TestCompleteWithoutParts(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	s, err := Begin(ctx, api, "bucket", "key", fastRetry())
	require.NoError(t, err)

	_, err = s.Complete(ctx)
	assert.True(t, errors.Is(err, s3err.Completion))
	assert.Equal(t, 0, api.count("CompleteMultipartUpload"))
	assert.Equal(t, Aborted, s.State())
}

func TestAbortIdempotent(t *testing.T) {
	ctx := context.Background()

	t.Run("aborted", func(t *testing.T) {
		api := newFakeS3()
		s, err := Begin(ctx, api, "bucket", "key", fastRetry())
		require.NoError(t, err)

		assert.NoError(t, s.Abort(ctx))
		assert.Equal(t, Aborted, s.State())
		assert.NoError(t, s.Abort(ctx))
		assert.NoError(t, s.Abort(ctx))
		assert.Equal(t, 1, api.count("AbortMultipartUpload"))
	})

	t.Run("completed", func(t *testing.T) {
		api := newFakeS3()
		s, err := Begin(ctx, api, "bucket", "key", fastRetry())
		require.NoError(t, err)
		_, err = s.UploadPart(ctx, 1, []byte("x"))
		require.NoError(t, err)
		_, err = s.Complete(ctx)
		require.NoError(t, err)

		assert.NoError(t, s.Abort(ctx))
		assert.Equal(t, Completed, s.State())
		assert.Equal(t, 0, api.count("AbortMultipartUpload"))
	})
}

func TestAbortFailure(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	tracker := newRecordingTracker()
	s, err := Begin(ctx, api, "bucket", "key", fastRetry(), WithTracker(tracker))
	require.NoError(t, err)

	api.abortErr = statusErr(http.StatusForbidden, "AccessDenied")
	err = s.Abort(ctx)
	assert.Error(t, err)
	assert.Equal(t, Initiated, s.State())
	assert.True(t, tracker.open[s])

	// the backend already forgot the upload: nothing is left to leak
	api.abortErr = nil
	api.uploads = map[string]*fakeUpload{}
	assert.NoError(t, s.Abort(ctx))
	assert.Equal(t, Aborted, s.State())
	assert.False(t, tracker.open[s])
}

func TestAbortAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := newFakeS3()
	s, err := Begin(ctx, api, "bucket", "key", fastRetry())
	require.NoError(t, err)

	cancel()
	assert.NoError(t, s.Abort(ctx))
	assert.Equal(t, Aborted, s.State())
	assert.Empty(t, api.openUploads())
}
