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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"github.com/versity/s3compat/config"
)

func TestApplyFlags(t *testing.T) {
	t.Cleanup(func() {
		endpoint, access, logLevel, exportResults, noConsole = "", "", "", "", false
	})
	endpoint = "https://flag.example.com"
	access = "flag-ak"
	logLevel = "debug"
	exportResults = "out.yaml"
	noConsole = true

	cfg := config.Default()
	cfg.Connection.SecretKey = "file-sk"
	applyFlags(cfg)

	assert.Equal(t, "https://flag.example.com", cfg.Connection.EndpointURL)
	assert.Equal(t, "flag-ak", cfg.Connection.AccessKey)
	assert.Equal(t, "file-sk", cfg.Connection.SecretKey)
	assert.Equal(t, "us-east-1", cfg.Connection.Region)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "out.yaml", cfg.Export.File)
	assert.False(t, cfg.Logging.ConsoleOutput)
}

func TestFlagsUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, f := range initFlags() {
		for _, name := range f.Names() {
			require.False(t, seen[name], name)
			seen[name] = true
		}
	}
	for _, name := range []string{"scope", "list-scopes", "export-results", "log-level", "log-file", "quiet", "no-console", "parallel", "verification", "generate-config"} {
		assert.True(t, seen[name], name)
	}
}

func TestAppActionIsSet(t *testing.T) {
	app := initApp()
	assert.NotNil(t, app.Action)
	var _ cli.ActionFunc = runChecks
}
