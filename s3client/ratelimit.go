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
	"net/http"

	"github.com/aws/smithy-go/middleware"
	"golang.org/x/time/rate"
)

// rateLimitedTransport paces outgoing requests. The wait honors the request
// context, so a cancelled run does not sit in the limiter.
type rateLimitedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func newRateLimitedTransport(next http.RoundTripper, l *rate.Limiter) *rateLimitedTransport {
	return &rateLimitedTransport{next: next, limiter: l}
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}

// rateLimitMiddleware paces sdk calls ahead of signing.
func rateLimitMiddleware(l *rate.Limiter) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		return stack.Finalize.Add(middleware.FinalizeMiddlewareFunc("RateLimit",
			func(ctx context.Context, in middleware.FinalizeInput, next middleware.FinalizeHandler) (middleware.FinalizeOutput, middleware.Metadata, error) {
				if err := l.Wait(ctx); err != nil {
					return middleware.FinalizeOutput{}, middleware.Metadata{}, err
				}
				return next.HandleFinalize(ctx, in)
			}), middleware.Before)
	}
}
