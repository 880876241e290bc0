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

package s3err

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
)

func responseErr(status int, code string) error {
	return &smithy.OperationError{
		ServiceID:     "S3",
		OperationName: "GetObject",
		Err: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      &smithy.GenericAPIError{Code: code, Message: "msg"},
		},
	}
}

func TestErrorIsKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrConfiguration, "scope", errors.New("unknown category \"foo\"")))

	assert.True(t, errors.Is(err, Configuration))
	assert.False(t, errors.Is(err, Transport))
	assert.Equal(t, ErrConfiguration, KindOf(err))
	assert.Equal(t, ErrNone, KindOf(errors.New("plain")))
	assert.Equal(t, "ConfigurationError: scope: unknown category \"foo\"", New(ErrConfiguration, "scope", errors.New("unknown category \"foo\"")).Error())
}

func TestMismatch(t *testing.T) {
	err := Mismatch("content length", 10, 9)
	assert.Equal(t, "AssertionMismatch: content length: expected 10, got 9", err.Error())
	assert.True(t, errors.Is(err, AssertionMismatch))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
		transport bool
	}{
		{"nil", nil, 0, "", false, false},
		{"not found", responseErr(http.StatusNotFound, "NoSuchKey"), 404, "NoSuchKey", false, false},
		{"forbidden", responseErr(http.StatusForbidden, "AccessDenied"), 403, "AccessDenied", false, false},
		{"server error", responseErr(http.StatusServiceUnavailable, "SlowDown"), 503, "SlowDown", true, false},
		{"internal", responseErr(http.StatusInternalServerError, "InternalError"), 500, "InternalError", true, false},
		{"code only", &smithy.GenericAPIError{Code: "NotFound"}, 404, "NotFound", false, false},
		{"transport", errors.New("dial tcp: connection refused"), 0, "", true, true},
		{"canceled", fmt.Errorf("request: %w", context.Canceled), 0, "", false, false},
		{"send error", &smithy.OperationError{ServiceID: "S3", OperationName: "PutObject", Err: &smithyhttp.RequestSendError{Err: errors.New("dial tcp: connection refused")}}, 0, "", true, true},
		{"invalid params", &smithy.OperationError{ServiceID: "S3", OperationName: "CreateBucket", Err: &smithy.InvalidParamsError{Context: "CreateBucketInput"}}, 0, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := Classify(tt.err)
			assert.Equal(t, tt.status, be.Status)
			assert.Equal(t, tt.code, be.Code)
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.transport, IsTransport(tt.err))
		})
	}
}

func TestIsClientSide(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid params", &smithy.OperationError{Err: &smithy.InvalidParamsError{Context: "HeadBucketInput"}}, true},
		{"serialization", &smithy.SerializationError{Err: errors.New("bad")}, true},
		{"endpoint resolution", &smithy.OperationError{Err: errors.New("endpoint rule error, invalid bucket")}, true},
		{"send error", &smithy.OperationError{Err: &smithyhttp.RequestSendError{Err: errors.New("eof")}}, false},
		{"response", responseErr(http.StatusBadRequest, "InvalidBucketName"), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsClientSide(tt.err))
		})
	}
}
