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
	"net"
	"net/http"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// BackendError is what the backend said about a failed request.
// Status is 0 when no HTTP response was received.
type BackendError struct {
	Status  int
	Code    string
	Message string
}

type httpStatusError interface {
	HTTPStatusCode() int
}

// Classify extracts the HTTP status and S3 error code from an sdk error.
func Classify(err error) BackendError {
	var be BackendError
	if err == nil {
		return be
	}

	var re httpStatusError
	if errors.As(err, &re) {
		be.Status = re.HTTPStatusCode()
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		be.Code = ae.ErrorCode()
		be.Message = ae.ErrorMessage()
	}

	// a few sdk operations surface the status only through the code
	if be.Status == 0 {
		switch be.Code {
		case "NotFound", "NoSuchKey", "NoSuchBucket", "NoSuchUpload", "NoSuchVersion":
			be.Status = http.StatusNotFound
		case "Forbidden", "AccessDenied":
			be.Status = http.StatusForbidden
		}
	}

	return be
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	return Classify(err).Status
}

// CodeOf returns the S3 error code carried by err, or "".
func CodeOf(err error) string {
	return Classify(err).Code
}

// IsTransport reports whether err failed before any HTTP response was
// received. Cancellation and requests the sdk refused to build are not
// transport failures.
func IsTransport(err error) bool {
	if err == nil || isContextErr(err) {
		return false
	}
	if errors.Is(err, Transport) {
		return true
	}

	var se *smithyhttp.RequestSendError
	var ne net.Error
	if errors.As(err, &se) || errors.As(err, &ne) {
		return true
	}
	if IsClientSide(err) {
		return false
	}

	be := Classify(err)
	return be.Status == 0 && be.Code == ""
}

// IsClientSide reports whether the sdk rejected the request before sending
// it, e.g. parameter validation or endpoint resolution.
func IsClientSide(err error) bool {
	if err == nil || isContextErr(err) {
		return false
	}

	var ipe *smithy.InvalidParamsError
	var sze *smithy.SerializationError
	if errors.As(err, &ipe) || errors.As(err, &sze) {
		return true
	}

	var se *smithyhttp.RequestSendError
	var ne net.Error
	if errors.As(err, &se) || errors.As(err, &ne) {
		return false
	}

	// an operation error that never got a status did not leave the sdk
	var oe *smithy.OperationError
	return errors.As(err, &oe) && Classify(err).Status == 0 && CodeOf(err) == ""
}

// A deadline on one call is a transport fault; a cancelled run is not.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsRetryable reports whether a failed request may be retried: transport
// faults and 5xx responses are, 4xx rejections are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	status := StatusOf(err)
	if status >= 500 {
		return true
	}
	if status >= 400 {
		return false
	}
	return IsTransport(err)
}
