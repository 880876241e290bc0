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
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"github.com/versity/s3compat/s3err"
)

// Response is the normalized outcome of one S3 call.
type Response struct {
	Operation string
	Status    int
	Header    http.Header
	Code      string
	Err       error
	Duration  time.Duration
}

// OK reports a 2xx response with no error.
func (r Response) OK() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 300
}

func (r Response) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%v: status %v: %v", r.Operation, r.Status, r.Err)
	}
	return fmt.Sprintf("%v: status %v", r.Operation, r.Status)
}

// Detail returns the fields worth keeping in a CheckResult.
func (r Response) Detail() map[string]any {
	d := map[string]any{
		"operation": r.Operation,
		"status":    r.Status,
	}
	if r.Code != "" {
		d["error_code"] = r.Code
	}
	if r.Err != nil {
		d["error"] = r.Err.Error()
	}
	return d
}

// Client is the storage client facade used by every check.
type Client struct {
	S3      *s3.Client
	Presign *s3.PresignClient
	conf    *S3Conf
	log     logrus.FieldLogger
	raw     *fasthttp.Client
}

func New(ctx context.Context, conf *S3Conf) (*Client, error) {
	cfg, err := conf.Config(ctx)
	if err != nil {
		return nil, s3err.New(s3err.ErrConfiguration, "client", err)
	}

	c := s3.NewFromConfig(cfg, conf.s3Options)
	return &Client{
		S3:      c,
		Presign: s3.NewPresignClient(c),
		conf:    conf,
		log:     conf.log,
		raw:     newRawClient(conf),
	}, nil
}

func (c *Client) Conf() *S3Conf { return c.conf }

// Retry returns the configured retry policy.
func (c *Client) Retry() RetryPolicy { return c.conf.Retry }

// CallFunc issues one sdk call. opt must be passed through to the sdk
// method so the response can be captured.
type CallFunc func(ctx context.Context, opt func(*s3.Options)) error

// Request runs one S3 operation with the configured per call timeout and
// returns its normalized Response. It never retries.
func (c *Client) Request(ctx context.Context, op string, fn CallFunc) Response {
	resp := Response{Operation: op}

	ctx, cancel := context.WithTimeout(ctx, c.conf.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx, captureResponse(&resp))
	resp.Duration = time.Since(start)

	if err != nil {
		be := s3err.Classify(err)
		if resp.Status == 0 {
			resp.Status = be.Status
		}
		resp.Code = be.Code
		if resp.Status == 0 && s3err.IsTransport(err) {
			err = s3err.New(s3err.ErrTransport, op, err)
		}
		resp.Err = err
	}

	c.log.WithFields(logrus.Fields{
		"operation": op,
		"status":    resp.Status,
		"duration":  resp.Duration,
	}).Debug("s3 request")

	return resp
}

// RequestRetry is Request under the retry policy, for idempotent calls.
func (c *Client) RequestRetry(ctx context.Context, op string, fn CallFunc) Response {
	var resp Response
	_ = c.conf.Retry.Do(ctx, func(ctx context.Context) error {
		resp = c.Request(ctx, op, fn)
		return resp.Err
	})
	return resp
}

// captureResponse records the raw http status and headers of the call into
// r, including for error responses.
func captureResponse(r *Response) func(*s3.Options) {
	return func(o *s3.Options) {
		o.APIOptions = append(o.APIOptions, func(stack *middleware.Stack) error {
			return stack.Deserialize.Add(middleware.DeserializeMiddlewareFunc("S3CompatCaptureResponse",
				func(ctx context.Context, in middleware.DeserializeInput, next middleware.DeserializeHandler) (middleware.DeserializeOutput, middleware.Metadata, error) {
					out, md, err := next.HandleDeserialize(ctx, in)
					if raw, ok := out.RawResponse.(*smithyhttp.Response); ok && raw != nil && raw.Response != nil {
						r.Status = raw.StatusCode
						r.Header = raw.Header.Clone()
					}
					return out, md, err
				}), middleware.After)
		})
	}
}
