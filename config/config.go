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

// Package config loads the checker configuration from an INI or YAML file,
// the environment and optionally Vault.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-ini/ini"
	"github.com/joho/godotenv"
	"github.com/versity/s3compat/checker"
	"github.com/versity/s3compat/multipart"
	"github.com/versity/s3compat/notify"
	"github.com/versity/s3compat/s3client"
	"github.com/versity/s3compat/s3err"
	"gopkg.in/yaml.v3"
)

const (
	placeholderAccess = "your-access-key-here"
	placeholderSecret = "your-secret-key-here"
)

type Connection struct {
	EndpointURL       string  `ini:"endpoint_url" yaml:"endpoint_url"`
	AccessKey         string  `ini:"access_key" yaml:"access_key"`
	SecretKey         string  `ini:"secret_key" yaml:"secret_key"`
	Region            string  `ini:"region" yaml:"region"`
	VerifySSL         bool    `ini:"verify_ssl" yaml:"verify_ssl"`
	MaxRetries        int     `ini:"max_retries" yaml:"max_retries"`
	HostStyle         bool    `ini:"host_style" yaml:"host_style"`
	RequestsPerSecond float64 `ini:"requests_per_second" yaml:"requests_per_second"`
}

type TestData struct {
	SmallFileSize      int64  `ini:"small_file_size" yaml:"small_file_size"`
	MediumFileSize     int64  `ini:"medium_file_size" yaml:"medium_file_size"`
	LargeFileSize      int64  `ini:"large_file_size" yaml:"large_file_size"`
	MultipartChunkSize int64  `ini:"multipart_chunk_size" yaml:"multipart_chunk_size"`
	TestFileContent    string `ini:"test_file_content" yaml:"test_file_content"`
	CleanupEnabled     bool   `ini:"cleanup_enabled" yaml:"cleanup_enabled"`
	BucketPrefix       string `ini:"bucket_prefix" yaml:"bucket_prefix"`
}

type Logging struct {
	LogLevel       string `ini:"log_level" yaml:"log_level"`
	LogFile        string `ini:"log_file" yaml:"log_file"`
	ConsoleOutput  bool   `ini:"console_output" yaml:"console_output"`
	DetailedErrors bool   `ini:"detailed_errors" yaml:"detailed_errors"`
}

// Timeouts are in seconds.
type Timeouts struct {
	OperationTimeout int `ini:"operation_timeout" yaml:"operation_timeout"`
	UploadTimeout    int `ini:"upload_timeout" yaml:"upload_timeout"`
	DownloadTimeout  int `ini:"download_timeout" yaml:"download_timeout"`
	TeardownTimeout  int `ini:"teardown_timeout" yaml:"teardown_timeout"`
}

type Multipart struct {
	// Verification is hybrid or full.
	Verification string `ini:"verification" yaml:"verification"`
	// ObjectSize is the size of the dynamically partitioned upload.
	ObjectSize  uint64 `ini:"object_size" yaml:"object_size"`
	Concurrency int    `ini:"concurrency" yaml:"concurrency"`
}

type Metrics struct {
	ServiceName      string   `ini:"service_name" yaml:"service_name"`
	StatsdServers    []string `ini:"statsd_servers" yaml:"statsd_servers" delim:","`
	DogstatsdServers []string `ini:"dogstatsd_servers" yaml:"dogstatsd_servers" delim:","`
	PrometheusFile   string   `ini:"prometheus_file" yaml:"prometheus_file"`
}

type Events struct {
	// Filter limits published results: all, failed or none.
	Filter             string   `ini:"filter" yaml:"filter"`
	KafkaBrokers       []string `ini:"kafka_brokers" yaml:"kafka_brokers" delim:","`
	KafkaTopic         string   `ini:"kafka_topic" yaml:"kafka_topic"`
	KafkaKey           string   `ini:"kafka_key" yaml:"kafka_key"`
	NatsURL            string   `ini:"nats_url" yaml:"nats_url"`
	NatsTopic          string   `ini:"nats_topic" yaml:"nats_topic"`
	RabbitmqURL        string   `ini:"rabbitmq_url" yaml:"rabbitmq_url"`
	RabbitmqExchange   string   `ini:"rabbitmq_exchange" yaml:"rabbitmq_exchange"`
	RabbitmqRoutingKey string   `ini:"rabbitmq_routing_key" yaml:"rabbitmq_routing_key"`
	WebhookURL         string   `ini:"webhook_url" yaml:"webhook_url"`
	RedisURL           string   `ini:"redis_url" yaml:"redis_url"`
	RedisChannel       string   `ini:"redis_channel" yaml:"redis_channel"`
}

type Export struct {
	File   string `ini:"file" yaml:"file"`
	Format string `ini:"format" yaml:"format"`
}

// Config is the whole configuration file.
type Config struct {
	Connection Connection      `ini:"connection" yaml:"connection"`
	TestData   TestData        `ini:"test_data" yaml:"test_data"`
	Logging    Logging         `ini:"logging" yaml:"logging"`
	Checks     map[string]bool `ini:"-" yaml:"checks"`
	Timeouts   Timeouts        `ini:"timeouts" yaml:"timeouts"`
	Multipart  Multipart       `ini:"multipart" yaml:"multipart"`
	Metrics    Metrics         `ini:"metrics" yaml:"metrics"`
	Events     Events          `ini:"events" yaml:"events"`
	Vault      Vault           `ini:"vault" yaml:"vault"`
	Export     Export          `ini:"export" yaml:"export"`

	// Path is the file the configuration was read from.
	Path string `ini:"-" yaml:"-"`
}

func Default() *Config {
	s := checker.DefaultSettings()
	return &Config{
		Connection: Connection{
			Region:     "us-east-1",
			VerifySSL:  true,
			MaxRetries: 3,
		},
		TestData: TestData{
			SmallFileSize:      s.SmallSize,
			MediumFileSize:     s.MediumSize,
			LargeFileSize:      s.LargeSize,
			MultipartChunkSize: s.ChunkSize,
			TestFileContent:    s.Content,
			CleanupEnabled:     s.Cleanup,
			BucketPrefix:       s.BucketPrefix,
		},
		Logging: Logging{
			LogLevel:       "info",
			LogFile:        "s3_checker.log",
			ConsoleOutput:  true,
			DetailedErrors: s.DetailedErrors,
		},
		Checks: map[string]bool{},
		Timeouts: Timeouts{
			OperationTimeout: 30,
			UploadTimeout:    int(s.UploadTimeout / time.Second),
			DownloadTimeout:  300,
			TeardownTimeout:  int(s.TeardownTimeout / time.Second),
		},
		Multipart: Multipart{
			Verification: s.Verification.String(),
			ObjectSize:   s.MultipartSize,
			Concurrency:  1,
		},
		Metrics: Metrics{ServiceName: "s3compat"},
		Events:  Events{Filter: "all"},
		Vault:   Vault{Mount: "secret"},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .yaml and .yml are YAML, anything else is INI. A .env file next to the
// working directory is loaded into the environment first, and the
// credential variables override the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, s3err.New(s3err.ErrConfiguration, ".env", err)
	}

	c := Default()
	c.Path = path

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = c.loadYAML(path)
	default:
		err = c.loadINI(path)
	}
	if err != nil {
		return nil, s3err.New(s3err.ErrConfiguration, path, err)
	}

	c.applyEnv()
	return c, nil
}

func (c *Config) loadINI(path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return err
	}
	if err := f.MapTo(c); err != nil {
		return err
	}
	for _, k := range f.Section("checks").Keys() {
		on, err := k.Bool()
		if err != nil {
			return fmt.Errorf("[checks] %v: %w", k.Name(), err)
		}
		c.Checks[strings.ToLower(k.Name())] = on
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return err
	}
	checks := make(map[string]bool, len(c.Checks))
	for k, v := range c.Checks {
		checks[strings.ToLower(k)] = v
	}
	c.Checks = checks
	return nil
}

func (c *Config) applyEnv() {
	for env, dst := range map[string]*string{
		"AWS_ACCESS_KEY_ID":     &c.Connection.AccessKey,
		"AWS_SECRET_ACCESS_KEY": &c.Connection.SecretKey,
		"S3_ENDPOINT_URL":       &c.Connection.EndpointURL,
		"AWS_REGION":            &c.Connection.Region,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
}

// Enabled reports whether category is switched on. Categories absent from
// the [checks] section are on.
func (c *Config) Enabled(category string) bool {
	on, ok := c.Checks[category]
	return !ok || on
}

// Validate returns a ConfigurationError listing every problem found.
// known is the list of category names the registry holds.
func (c *Config) Validate(known []string) error {
	var errs []error
	if c.Connection.EndpointURL == "" {
		errs = append(errs, errors.New("[connection] endpoint_url is required"))
	} else if !strings.HasPrefix(c.Connection.EndpointURL, "http://") && !strings.HasPrefix(c.Connection.EndpointURL, "https://") {
		errs = append(errs, errors.New("endpoint_url must start with http:// or https://"))
	}
	if c.Connection.AccessKey == "" {
		errs = append(errs, errors.New("[connection] access_key is required"))
	}
	if c.Connection.SecretKey == "" {
		errs = append(errs, errors.New("[connection] secret_key is required"))
	}
	if c.Connection.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("[connection] max_retries must be at least 1, got %d", c.Connection.MaxRetries))
	}

	for name, size := range map[string]int64{
		"small_file_size":      c.TestData.SmallFileSize,
		"medium_file_size":     c.TestData.MediumFileSize,
		"large_file_size":      c.TestData.LargeFileSize,
		"multipart_chunk_size": c.TestData.MultipartChunkSize,
	} {
		if size <= 0 {
			errs = append(errs, fmt.Errorf("[test_data] %v must be positive, got %d", name, size))
		}
	}
	if c.Multipart.ObjectSize == 0 {
		errs = append(errs, errors.New("[multipart] object_size must be positive"))
	}
	if _, err := multipart.ParseStrategy(c.Multipart.Verification); err != nil {
		errs = append(errs, fmt.Errorf("[multipart] %w", err))
	}
	if c.Timeouts.OperationTimeout <= 0 || c.Timeouts.UploadTimeout <= 0 {
		errs = append(errs, errors.New("[timeouts] operation_timeout and upload_timeout must be positive"))
	}
	if _, err := notify.ParseFilter(c.Events.Filter); err != nil {
		errs = append(errs, fmt.Errorf("[events] %w", err))
	}

	if !slices.ContainsFunc(known, c.Enabled) {
		errs = append(errs, errors.New("at least one check category must be enabled in [checks]"))
	}

	if len(errs) > 0 {
		return s3err.New(s3err.ErrConfiguration, "config", errors.Join(errs...))
	}
	return nil
}

// Warnings lists settings that are legal but probably not intended.
func (c *Config) Warnings(known []string) []string {
	var w []string
	if c.Connection.AccessKey == placeholderAccess {
		w = append(w, "access key appears to be a placeholder value")
	}
	if c.Connection.SecretKey == placeholderSecret {
		w = append(w, "secret key appears to be a placeholder value")
	}
	if !c.Connection.VerifySSL {
		w = append(w, "SSL verification is disabled, use only for testing")
	}
	if strings.Contains(c.Connection.EndpointURL, "localhost") || strings.Contains(c.Connection.EndpointURL, "127.0.0.1") {
		w = append(w, "using a localhost endpoint, ensure the S3 service is running locally")
	}
	if c.TestData.MultipartChunkSize > 0 && c.TestData.MultipartChunkSize < 5*1024*1024 {
		w = append(w, "multipart_chunk_size below 5 MiB is rejected by AWS S3")
	}
	for _, name := range slices.Sorted(maps.Keys(c.Checks)) {
		if !slices.Contains(known, name) {
			w = append(w, fmt.Sprintf("[checks] %v is not a known category", name))
		}
	}
	return w
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Settings derives the run settings.
func (c *Config) Settings() (checker.Settings, error) {
	strategy, err := multipart.ParseStrategy(c.Multipart.Verification)
	if err != nil {
		return checker.Settings{}, s3err.New(s3err.ErrConfiguration, "verification", err)
	}
	s := checker.DefaultSettings()
	s.BucketPrefix = c.TestData.BucketPrefix
	s.SmallSize = c.TestData.SmallFileSize
	s.MediumSize = c.TestData.MediumFileSize
	s.LargeSize = c.TestData.LargeFileSize
	s.ChunkSize = c.TestData.MultipartChunkSize
	s.MultipartSize = c.Multipart.ObjectSize
	s.Content = c.TestData.TestFileContent
	s.Cleanup = c.TestData.CleanupEnabled
	s.Verification = strategy
	s.UploadTimeout = seconds(c.Timeouts.UploadTimeout)
	if c.Timeouts.TeardownTimeout > 0 {
		s.TeardownTimeout = seconds(c.Timeouts.TeardownTimeout)
	}
	s.DetailedErrors = c.Logging.DetailedErrors
	return s, nil
}

// ClientOptions derives the storage client options.
func (c *Config) ClientOptions() []s3client.Option {
	retry := s3client.DefaultRetryPolicy()
	retry.MaxAttempts = c.Connection.MaxRetries

	opts := []s3client.Option{
		s3client.WithEndpoint(c.Connection.EndpointURL),
		s3client.WithAccess(c.Connection.AccessKey),
		s3client.WithSecret(c.Connection.SecretKey),
		s3client.WithRegion(c.Connection.Region),
		s3client.WithVerifySSL(c.Connection.VerifySSL),
		s3client.WithTimeout(seconds(c.Timeouts.OperationTimeout)),
		s3client.WithRetryPolicy(retry),
		s3client.WithPartSize(c.TestData.MultipartChunkSize),
		s3client.WithConcurrency(max(c.Multipart.Concurrency, 1)),
	}
	if c.Connection.HostStyle {
		opts = append(opts, s3client.WithHostStyle())
	}
	if c.Connection.RequestsPerSecond > 0 {
		opts = append(opts, s3client.WithRequestsPerSecond(c.Connection.RequestsPerSecond))
	}
	return opts
}
