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
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/logging"
	"github.com/aws/smithy-go/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultRegion  = "us-east-1"
	defaultTimeout = 30 * time.Second
)

// S3Conf holds everything needed to reach the backend under test.
type S3Conf struct {
	awsID             string
	awsSecret         string
	awsRegion         string
	endpoint          string
	hostStyle         bool
	verifySSL         bool
	debug             bool
	timeout           time.Duration
	requestsPerSecond float64
	PartSize          int64
	Concurrency       int
	Retry             RetryPolicy
	log               logrus.FieldLogger
	httpClient        *awshttp.BuildableClient
	limiter           *rate.Limiter
}

func NewS3Conf(opts ...Option) *S3Conf {
	s := &S3Conf{
		awsRegion:   defaultRegion,
		verifySSL:   true,
		timeout:     defaultTimeout,
		PartSize:    5 * 1024 * 1024,
		Concurrency: 1,
		Retry:       DefaultRetryPolicy(),
		log:         logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// the sdk only layers AWS_CA_BUNDLE onto a BuildableClient
	insecure := !s.verifySSL
	s.httpClient = awshttp.NewBuildableClient().WithTransportOptions(func(tr *http.Transport) {
		if tr.TLSClientConfig == nil {
			tr.TLSClientConfig = &tls.Config{}
		}
		tr.TLSClientConfig.InsecureSkipVerify = insecure
		tr.MaxIdleConnsPerHost = 16
		// bodies are compared byte for byte, Content-Encoding included
		tr.DisableCompression = true
	})
	if s.requestsPerSecond > 0 {
		burst := int(s.requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(s.requestsPerSecond), burst)
	}

	return s
}

type Option func(*S3Conf)

func WithAccess(ak string) Option {
	return func(s *S3Conf) { s.awsID = ak }
}
func WithSecret(sk string) Option {
	return func(s *S3Conf) { s.awsSecret = sk }
}
func WithRegion(r string) Option {
	return func(s *S3Conf) {
		if r != "" {
			s.awsRegion = r
		}
	}
}
func WithEndpoint(e string) Option {
	return func(s *S3Conf) { s.endpoint = e }
}
func WithHostStyle() Option {
	return func(s *S3Conf) { s.hostStyle = true }
}
func WithVerifySSL(v bool) Option {
	return func(s *S3Conf) { s.verifySSL = v }
}
func WithTimeout(d time.Duration) Option {
	return func(s *S3Conf) {
		if d > 0 {
			s.timeout = d
		}
	}
}
func WithRequestsPerSecond(rps float64) Option {
	return func(s *S3Conf) { s.requestsPerSecond = rps }
}
func WithPartSize(p int64) Option {
	return func(s *S3Conf) { s.PartSize = p }
}
func WithConcurrency(c int) Option {
	return func(s *S3Conf) { s.Concurrency = c }
}
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *S3Conf) { s.Retry = p }
}
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *S3Conf) { s.log = l }
}
func WithDebug() Option {
	return func(s *S3Conf) { s.debug = true }
}

func (c *S3Conf) Endpoint() string { return c.endpoint }
func (c *S3Conf) VerifySSL() bool  { return c.verifySSL }
func (c *S3Conf) Region() string   { return c.awsRegion }
func (c *S3Conf) Timeout() time.Duration {
	return c.timeout
}

// transport is the (possibly rate limited) round tripper for clients
// outside the sdk.
func (c *S3Conf) transport() http.RoundTripper {
	var rt http.RoundTripper = c.httpClient.GetTransport()
	if c.limiter != nil {
		rt = newRateLimitedTransport(rt, c.limiter)
	}
	return rt
}

var errNoSecret = errors.New("no secret key found: set secret_key or AWS_SECRET_ACCESS_KEY")

func (c *S3Conf) getCreds() (credentials.StaticCredentialsProvider, error) {
	if c.awsID == "" {
		c.awsID = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if c.awsSecret == "" {
		c.awsSecret = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	if c.awsSecret == "" {
		return credentials.StaticCredentialsProvider{}, errNoSecret
	}

	return credentials.NewStaticCredentialsProvider(c.awsID, c.awsSecret, ""), nil
}

// Credentials returns the resolved access and secret keys.
func (c *S3Conf) Credentials() (string, string, error) {
	if _, err := c.getCreds(); err != nil {
		return "", "", err
	}
	return c.awsID, c.awsSecret, nil
}

func (c *S3Conf) Config(ctx context.Context) (aws.Config, error) {
	creds, err := c.getCreds()
	if err != nil {
		return aws.Config{}, err
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(c.awsRegion),
		config.WithCredentialsProvider(creds),
		config.WithHTTPClient(c.httpClient),
		// retries are driven by RetryPolicy so every attempt is visible
		config.WithRetryMaxAttempts(1),
		config.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
		config.WithResponseChecksumValidation(aws.ResponseChecksumValidationWhenRequired),
		config.WithLogger(logging.LoggerFunc(func(classification logging.Classification, format string, v ...interface{}) {
			switch classification {
			case logging.Warn:
				c.log.Warnf(format, v...)
			default:
				c.log.Debugf(format, v...)
			}
		})),
	}

	if c.limiter != nil {
		opts = append(opts, config.WithAPIOptions([]func(*middleware.Stack) error{
			rateLimitMiddleware(c.limiter),
		}))
	}

	if c.debug {
		opts = append(opts,
			config.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}

	if c.endpoint != "" && c.endpoint != "aws" {
		cfg.BaseEndpoint = &c.endpoint
	}

	return cfg, nil
}

func (c *S3Conf) s3Options(o *s3.Options) {
	if c.endpoint != "" && c.endpoint != "aws" {
		o.UsePathStyle = !c.hostStyle
	}
}

// Secure reports whether the endpoint uses TLS.
func (c *S3Conf) Secure() bool {
	return c.endpoint == "" || c.endpoint == "aws" || strings.HasPrefix(c.endpoint, "https://")
}
