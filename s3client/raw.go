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
	"crypto/tls"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// RawResponse is the result of a request sent outside the sdk.
type RawResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

func newRawClient(conf *S3Conf) *fasthttp.Client {
	return &fasthttp.Client{
		Name:                   "s3compat",
		TLSConfig:              &tls.Config{InsecureSkipVerify: !conf.verifySSL},
		DisablePathNormalizing: true,
		ReadTimeout:            conf.timeout,
		WriteTimeout:           conf.timeout,
	}
}

// Raw sends a request to a presigned URL as is. The sdk is bypassed so the
// URL reaches the backend exactly as it was signed. header is typically the
// SignedHeader of the presigned request; Host is taken from the URL.
func (c *Client) Raw(ctx context.Context, method, url string, header http.Header, body []byte) (RawResponse, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.URI().DisablePathNormalizing = true
	req.Header.SetMethod(method)
	for k, vs := range header {
		if http.CanonicalHeaderKey(k) == "Host" {
			continue
		}
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.conf.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	err := c.raw.DoDeadline(req, resp, deadline)
	c.log.WithFields(logrus.Fields{
		"method":   method,
		"status":   resp.StatusCode(),
		"duration": time.Since(start),
	}).Debug("raw request")
	if err != nil {
		return RawResponse{}, err
	}

	out := RawResponse{
		Status: resp.StatusCode(),
		Header: http.Header{},
		Body:   append([]byte(nil), resp.Body()...),
	}
	resp.Header.VisitAll(func(k, v []byte) {
		out.Header.Add(string(k), string(v))
	})
	return out, nil
}
