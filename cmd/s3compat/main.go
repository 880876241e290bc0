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
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	configFile      string
	generateConfig  string
	overwriteConfig bool
	scope           string
	listScopes      bool
	exportResults   string
	exportFormat    string
	logLevel        string
	logFile         string
	quiet           bool
	noConsole       bool
	noColor         bool
	parallel        int
	verification    string
	endpoint        string
	access, secret  string
	region          string
	debug           bool
)

var (
	// Version is the latest tag (set within Makefile)
	Version = "git"
	// Build is the commit hash (set within Makefile)
	Build = "norev"
	// BuildTime is the date/time of build (set within Makefile)
	BuildTime = "none"
)

func main() {
	setupSignalHandler()

	app := initApp()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigDone
		fmt.Fprintf(os.Stderr, "terminating signal caught, aborting in-flight checks\n")
		cancel()
	}()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func initApp() *cli.App {
	return &cli.App{
		Name:  "s3compat",
		Usage: "Check an S3 compatible storage service against the S3 API.",
		Description: `s3compat runs categories of checks (buckets, objects, multipart,
versioning, ...) against an S3 endpoint and reports which behaviors match
Amazon S3. The exit code is non-zero when at least one check failed.`,
		Action: runChecks,
		Flags:  initFlags(),
	}
}

func initFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "version",
			Usage:   "list s3compat version",
			Aliases: []string{"v"},
			Action: func(*cli.Context, bool) error {
				fmt.Println("Version  :", Version)
				fmt.Println("Build    :", Build)
				fmt.Println("BuildTime:", BuildTime)
				os.Exit(0)
				return nil
			},
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "configuration file, INI or YAML by extension",
			Value:       "config.ini",
			Destination: &configFile,
			Aliases:     []string{"c"},
		},
		&cli.StringFlag{
			Name:        "generate-config",
			Usage:       "write a commented configuration template to `FILE` and exit",
			Destination: &generateConfig,
		},
		&cli.BoolFlag{
			Name:        "overwrite-config",
			Usage:       "allow --generate-config to replace an existing file",
			Destination: &overwriteConfig,
		},
		&cli.StringFlag{
			Name:        "scope",
			Usage:       "comma separated categories to run, or all",
			Value:       "all",
			Destination: &scope,
			Aliases:     []string{"s"},
		},
		&cli.BoolFlag{
			Name:        "list-scopes",
			Usage:       "list the available check categories and exit",
			Destination: &listScopes,
		},
		&cli.StringFlag{
			Name:        "export-results",
			Usage:       "write the results to `FILE`",
			Destination: &exportResults,
			Aliases:     []string{"o"},
		},
		&cli.StringFlag{
			Name:        "export-format",
			Usage:       "export format: json, text, yaml or parquet (default: from the file extension)",
			Destination: &exportFormat,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "debug, info, warning or error (overrides the config file)",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-file",
			Usage:       "log file (overrides the config file)",
			Destination: &logFile,
		},
		&cli.BoolFlag{
			Name:        "quiet",
			Usage:       "only print failures and the summary",
			Destination: &quiet,
			Aliases:     []string{"q"},
		},
		&cli.BoolFlag{
			Name:        "no-console",
			Usage:       "disable console logging",
			Destination: &noConsole,
		},
		&cli.BoolFlag{
			Name:        "no-color",
			Usage:       "disable colored progress output",
			Destination: &noColor,
		},
		&cli.IntFlag{
			Name:        "parallel",
			Usage:       "run up to `N` independent categories concurrently",
			Destination: &parallel,
			Aliases:     []string{"p"},
		},
		&cli.StringFlag{
			Name:        "verification",
			Usage:       "multipart verification strategy: hybrid or full (overrides the config file)",
			Destination: &verification,
		},
		&cli.StringFlag{
			Name:        "endpoint",
			Usage:       "S3 endpoint url (overrides the config file)",
			Destination: &endpoint,
			Aliases:     []string{"e"},
		},
		&cli.StringFlag{
			Name:        "access",
			Usage:       "access key (overrides the config file)",
			Destination: &access,
			Aliases:     []string{"a"},
		},
		&cli.StringFlag{
			Name:        "secret",
			Usage:       "secret key (overrides the config file)",
			Destination: &secret,
		},
		&cli.StringFlag{
			Name:        "region",
			Usage:       "S3 region (overrides the config file)",
			Destination: &region,
			Aliases:     []string{"r"},
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable S3 client request/response debug output",
			Destination: &debug,
		},
	}
}
