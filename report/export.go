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

package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/versity/s3compat/checker"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Format string

const (
	FormatJSON    Format = "json"
	FormatText    Format = "text"
	FormatYAML    Format = "yaml"
	FormatParquet Format = "parquet"
)

var extensions = map[string]Format{
	".json":    FormatJSON,
	".txt":     FormatText,
	".text":    FormatText,
	".log":     FormatText,
	".yaml":    FormatYAML,
	".yml":     FormatYAML,
	".parquet": FormatParquet,
}

// ParseFormat accepts a format name. An empty name is resolved from the
// extension of path, falling back to JSON.
func ParseFormat(name, path string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatJSON, FormatText, FormatYAML, FormatParquet:
		return f, nil
	case "":
		if f, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
			return f, nil
		}
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported export format %q, expected json, text, yaml or parquet", name)
}

// Write encodes s to w.
func Write(w io.Writer, f Format, s checker.Summary) error {
	switch f {
	case FormatText:
		return Text(w, s)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	case FormatParquet:
		return writeParquet(w, s)
	}
	return fmt.Errorf("unsupported export format %q", f)
}

// Export writes s to path. The file is written in full or not at all.
func Export(path string, f Format, s checker.Summary) error {
	var buf bytes.Buffer
	if err := Write(&buf, f, s); err != nil {
		return fmt.Errorf("encode %v: %w", f, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
