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

package runlog

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/versity/s3compat/checker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// resultFormatter writes the entry fields as one JSON object per line.
type resultFormatter struct{}

func (f *resultFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	data := make(logrus.Fields, len(entry.Data))
	for k, v := range entry.Data {
		switch v := v.(type) {
		case error:
			// errors have no exported fields
			data[k] = v.Error()
		default:
			data[k] = v
		}
	}

	serialized, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields to JSON: %w", err)
	}
	return append(serialized, '\n'), nil
}

func resultFields(r checker.Result) logrus.Fields {
	fields := logrus.Fields{
		"name":     r.Name,
		"category": r.Category,
		"status":   r.Outcome.String(),
		"duration": r.Duration.Milliseconds(),
		"time":     r.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if r.Message != "" {
		fields["message"] = r.Message
	}
	if len(r.Detail) > 0 {
		fields["detail"] = r.Detail
	}
	return fields
}

// logResult writes r to the log file, if there is one.
func (l *Logger) logResult(r checker.Result) {
	if l.results == nil {
		return
	}
	l.results.WithFields(resultFields(r)).Info()
}
