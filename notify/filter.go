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

package notify

import (
	"fmt"
	"strings"

	"github.com/versity/s3compat/checker"
)

// Filter selects which check results are published. Category and run
// events are published unless the filter is FilterNone.
type Filter int

const (
	FilterAll Filter = iota
	FilterFailed
	FilterNone
)

var filterNames = map[Filter]string{
	FilterAll:    "all",
	FilterFailed: "failed",
	FilterNone:   "none",
}

func (f Filter) String() string {
	if s, ok := filterNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Filter(%d)", int(f))
}

// ParseFilter accepts all, failed and none. An empty string is all.
func ParseFilter(s string) (Filter, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FilterAll, nil
	}
	for f, name := range filterNames {
		if name == s {
			return f, nil
		}
	}
	return FilterAll, fmt.Errorf("invalid event filter %q, expected all, failed or none", s)
}

// Check reports whether a unit result passes the filter.
func (f Filter) Check(o checker.Outcome) bool {
	switch f {
	case FilterAll:
		return true
	case FilterFailed:
		return o == checker.Fail
	}
	return false
}

// Summaries reports whether category and run events pass the filter.
func (f Filter) Summaries() bool {
	return f != FilterNone
}
