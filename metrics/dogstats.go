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

package metrics

import (
	"fmt"

	dogstats "github.com/DataDog/datadog-go/v5/statsd"
)

const rateSampleAlways = 1.0

type dogStatsdPublisher struct {
	c *dogstats.Client
}

func newDogStatsd(server string, service string) (*dogStatsdPublisher, error) {
	c, err := dogstats.New(server,
		dogstats.WithMaxMessagesPerPayload(1000),
		dogstats.WithNamespace("s3compat."),
		dogstats.WithTags([]string{
			"service:" + service,
		}))
	if err != nil {
		return nil, err
	}
	return &dogStatsdPublisher{c: c}, nil
}

func (s *dogStatsdPublisher) Close() error {
	return s.c.Close()
}

func (t Tag) ddString() string {
	if t.Value == "" {
		return t.Key
	}
	return fmt.Sprintf("%v:%v", t.Key, t.Value)
}

func ddTags(tags []Tag) []string {
	stags := make([]string, len(tags))
	for i, t := range tags {
		stags[i] = t.ddString()
	}
	return stags
}

func (s *dogStatsdPublisher) Add(module, key string, value int64, tags ...Tag) {
	s.c.Count(fmt.Sprintf("%v.%v", module, key), value, ddTags(tags), rateSampleAlways)
}

func (s *dogStatsdPublisher) Gauge(module, key string, value int64, tags ...Tag) {
	s.c.Gauge(fmt.Sprintf("%v.%v", module, key), float64(value), ddTags(tags), rateSampleAlways)
}
