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

	"github.com/smira/go-statsd"
)

type statsdPublisher struct {
	c *statsd.Client
}

// newStatsd takes a server address and the service name used as a tag to
// tell concurrent checker runs apart.
func newStatsd(server string, service string) (*statsdPublisher, error) {
	c := statsd.NewClient(
		server,
		statsd.MaxPacketSize(1400),
		statsd.MetricPrefix("s3compat."),
		statsd.TagStyle(statsd.TagFormatInfluxDB),
		statsd.DefaultTags(statsd.StringTag("service", service)),
	)
	return &statsdPublisher{c: c}, nil
}

func (s *statsdPublisher) Close() error {
	return s.c.Close()
}

func statsdTags(tags []Tag) []statsd.Tag {
	stags := make([]statsd.Tag, len(tags))
	for i, t := range tags {
		stags[i] = statsd.StringTag(t.Key, t.Value)
	}
	return stags
}

func (s *statsdPublisher) Add(module, key string, value int64, tags ...Tag) {
	s.c.Incr(fmt.Sprintf("%v.%v", module, key), value, statsdTags(tags)...)
}

func (s *statsdPublisher) Gauge(module, key string, value int64, tags ...Tag) {
	s.c.Gauge(fmt.Sprintf("%v.%v", module, key), value, statsdTags(tags)...)
}
