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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"github.com/versity/s3compat/checker"
	"github.com/versity/s3compat/checks"
	"github.com/versity/s3compat/config"
	"github.com/versity/s3compat/metrics"
	"github.com/versity/s3compat/notify"
	"github.com/versity/s3compat/report"
	"github.com/versity/s3compat/runlog"
	"github.com/versity/s3compat/s3client"
	"github.com/versity/s3compat/s3err"
)

const (
	exitFailed = 1
	exitConfig = 2
	flushWait  = 10 * time.Second
)

func runChecks(ctx *cli.Context) error {
	if generateConfig != "" {
		if err := config.Generate(generateConfig, overwriteConfig); err != nil {
			return cli.Exit(err, exitConfig)
		}
		fmt.Printf("configuration template written to %v\n", generateConfig)
		return nil
	}

	reg, err := checks.NewRegistry()
	if err != nil {
		return cli.Exit(err, exitConfig)
	}

	if listScopes {
		return printScopes(reg)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return cli.Exit(fmt.Errorf("%w (use --generate-config %v to create one)", err, configFile), exitConfig)
	}
	applyFlags(cfg)

	logger, err := runlog.New(runlog.Options{
		Level:   cfg.Logging.LogLevel,
		File:    cfg.Logging.LogFile,
		Console: cfg.Logging.ConsoleOutput,
		Quiet:   quiet,
	})
	if err != nil {
		return cli.Exit(s3err.New(s3err.ErrConfiguration, "logging", err), exitConfig)
	}
	defer logger.Close()

	for _, w := range cfg.Warnings(reg.Names()) {
		logger.Warn(w)
	}
	if err := cfg.ResolveCredentials(ctx.Context); err != nil {
		return cli.Exit(err, exitConfig)
	}
	if err := cfg.Validate(reg.Names()); err != nil {
		return cli.Exit(err, exitConfig)
	}
	settings, err := cfg.Settings()
	if err != nil {
		return cli.Exit(err, exitConfig)
	}
	format, err := report.ParseFormat(cfg.Export.Format, cfg.Export.File)
	if err != nil {
		return cli.Exit(s3err.New(s3err.ErrConfiguration, "export", err), exitConfig)
	}

	opts := append(cfg.ClientOptions(), s3client.WithLogger(logger.Logger))
	if debug {
		opts = append(opts, s3client.WithDebug())
	}
	client, err := s3client.New(ctx.Context, s3client.NewS3Conf(opts...))
	if err != nil {
		return cli.Exit(s3err.New(s3err.ErrConfiguration, "s3 client", err), exitConfig)
	}

	runID := uuid.NewString()
	observers, closers, err := initObservers(ctx.Context, cfg, runID, logger)
	if err != nil {
		return cli.Exit(err, exitConfig)
	}

	runner := checker.NewRunner(reg,
		checker.WithClient(client),
		checker.WithSettings(settings),
		checker.WithEnabled(cfg.Enabled),
		checker.WithParallel(parallel),
		checker.WithLogger(logger.Logger),
		checker.WithObservers(observers...),
		checker.WithRunID(runID),
	)

	logger.WithField("endpoint", cfg.Connection.EndpointURL).
		WithField("run_id", runID).
		Info("starting S3 compatibility checks")

	sum, err := runner.Run(ctx.Context, checker.ParseScope(scope))
	closeAll(logger, closers)
	if err != nil {
		return cli.Exit(err, exitConfig)
	}

	if err := report.Text(os.Stdout, sum); err != nil {
		logger.WithError(err).Error("failed to print summary")
	}

	if cfg.Export.File != "" {
		if err := report.Export(cfg.Export.File, format, sum); err != nil {
			logger.WithError(err).Error("failed to export results")
		} else {
			logger.WithField("file", cfg.Export.File).Info("results exported")
		}
	}

	if code := sum.ExitCode(); code != 0 {
		return cli.Exit("", exitFailed)
	}
	return nil
}

// applyFlags overrides file values with the flags that were given.
func applyFlags(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Connection.EndpointURL, endpoint)
	set(&cfg.Connection.AccessKey, access)
	set(&cfg.Connection.SecretKey, secret)
	set(&cfg.Connection.Region, region)
	set(&cfg.Logging.LogLevel, logLevel)
	set(&cfg.Logging.LogFile, logFile)
	set(&cfg.Multipart.Verification, verification)
	set(&cfg.Export.File, exportResults)
	set(&cfg.Export.Format, exportFormat)
	if noConsole {
		cfg.Logging.ConsoleOutput = false
	}
}

type closer func(context.Context) error

func initObservers(ctx context.Context, cfg *config.Config, runID string, logger *runlog.Logger) ([]checker.Observer, []closer, error) {
	popts := []runlog.ProgressOption{}
	if quiet {
		popts = append(popts, runlog.WithQuiet())
	}
	if noColor {
		popts = append(popts, runlog.WithColor(false))
	}
	if cfg.Logging.DetailedErrors {
		popts = append(popts, runlog.WithDetail())
	}
	observers := []checker.Observer{runlog.NewProgress(logger, popts...)}
	var closers []closer

	mgr, err := metrics.NewManager(ctx, metrics.Config{
		ServiceName:      cfg.Metrics.ServiceName,
		StatsdServers:    cfg.Metrics.StatsdServers,
		DogstatsdServers: cfg.Metrics.DogstatsdServers,
		PrometheusFile:   cfg.Metrics.PrometheusFile,
	})
	if err != nil {
		return nil, nil, s3err.New(s3err.ErrConfiguration, "metrics", err)
	}
	if mgr != nil {
		observers = append(observers, mgr)
		closers = append(closers, func(context.Context) error { return mgr.Close() })
	}

	n, err := notify.New(ctx, notify.Config{
		Filter:             cfg.Events.Filter,
		RunID:              runID,
		Endpoint:           cfg.Connection.EndpointURL,
		KafkaBrokers:       cfg.Events.KafkaBrokers,
		KafkaTopic:         cfg.Events.KafkaTopic,
		KafkaKey:           cfg.Events.KafkaKey,
		NatsURL:            cfg.Events.NatsURL,
		NatsTopic:          cfg.Events.NatsTopic,
		RabbitmqURL:        cfg.Events.RabbitmqURL,
		RabbitmqExchange:   cfg.Events.RabbitmqExchange,
		RabbitmqRoutingKey: cfg.Events.RabbitmqRoutingKey,
		WebhookURL:         cfg.Events.WebhookURL,
		RedisURL:           cfg.Events.RedisURL,
		RedisChannel:       cfg.Events.RedisChannel,
	}, logger)
	if err != nil {
		closeAll(logger, closers)
		return nil, nil, s3err.New(s3err.ErrConfiguration, "events", err)
	}
	if n.Enabled() {
		observers = append(observers, n)
	}
	closers = append(closers, n.Close)

	return observers, closers, nil
}

// closeAll flushes metrics and events. It runs after a cancelled run too.
func closeAll(logger *runlog.Logger, closers []closer) {
	ctx, cancel := context.WithTimeout(context.Background(), flushWait)
	defer cancel()
	var errs []error
	for _, c := range closers {
		errs = append(errs, c(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		logger.WithError(err).Warn("failed to flush metrics or events")
	}
}

func printScopes(reg *checker.Registry) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tDESCRIPTION")
	for _, d := range reg.Describe() {
		fmt.Fprintf(w, "%v\t%v\n", d[0], d[1])
	}
	fmt.Fprintf(w, "%v\t%v\n", checker.ScopeAll, "every category enabled in the configuration")
	return w.Flush()
}
