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
	"io"

	"github.com/parquet-go/parquet-go"
	"github.com/versity/s3compat/checker"
)

// Row is one CheckResult in the parquet export.
type Row struct {
	RunID      string `parquet:"run_id"`
	Endpoint   string `parquet:"endpoint"`
	Category   string `parquet:"category"`
	Name       string `parquet:"name"`
	Outcome    string `parquet:"outcome"`
	Message    string `parquet:"message"`
	StartedAt  int64  `parquet:"started_at_ms"`
	DurationMs int64  `parquet:"duration_ms"`
	Detail     string `parquet:"detail,optional"`
}

func rows(s checker.Summary) []Row {
	var out []Row
	for _, c := range s.Categories {
		for _, r := range c.Results {
			row := Row{
				RunID:      s.RunID,
				Endpoint:   s.Endpoint,
				Category:   r.Category,
				Name:       r.Name,
				Outcome:    r.Outcome.String(),
				Message:    r.Message,
				StartedAt:  r.StartedAt.UnixMilli(),
				DurationMs: r.Duration.Milliseconds(),
			}
			if len(r.Detail) > 0 {
				row.Detail = detailString(r.Detail)
			}
			out = append(out, row)
		}
	}
	return out
}

func writeParquet(w io.Writer, s checker.Summary) error {
	pw := parquet.NewGenericWriter[Row](w, parquet.Compression(&parquet.Snappy))
	if _, err := pw.Write(rows(s)); err != nil {
		pw.Close()
		return err
	}
	return pw.Close()
}
