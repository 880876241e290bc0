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
	"regexp"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var invalidMetricChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func promName(module, key string) string {
	return invalidMetricChars.ReplaceAllString("s3compat_"+module+"_"+key, "_")
}

// promPublisher keeps counters and gauges in a private registry and writes
// them in the text exposition format on Close, for the node_exporter
// textfile collector.
type promPublisher struct {
	path    string
	service string
	reg     *prometheus.Registry

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
}

func newPrometheus(path, service string) *promPublisher {
	return &promPublisher{
		path:     path,
		service:  service,
		reg:      prometheus.NewRegistry(),
		counters: make(map[string]*prometheus.CounterVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
}

func labels(tags []Tag) ([]string, []string) {
	names := make([]string, len(tags))
	values := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Key
		values[i] = t.Value
	}
	return names, values
}

func (p *promPublisher) Add(module, key string, value int64, tags ...Tag) {
	names, values := labels(tags)
	name := promName(module, key)

	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        name,
			Help:        module + " " + key,
			ConstLabels: prometheus.Labels{"service": p.service},
		}, names)
		if err := p.reg.Register(vec); err != nil {
			return
		}
		p.counters[name] = vec
	}
	// a label set that differs from the first one is dropped
	if c, err := vec.GetMetricWithLabelValues(values...); err == nil {
		c.Add(float64(value))
	}
}

func (p *promPublisher) Gauge(module, key string, value int64, tags ...Tag) {
	names, values := labels(tags)
	name := promName(module, key)

	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        name,
			Help:        module + " " + key,
			ConstLabels: prometheus.Labels{"service": p.service},
		}, names)
		if err := p.reg.Register(vec); err != nil {
			return
		}
		p.gauges[name] = vec
	}
	if g, err := vec.GetMetricWithLabelValues(values...); err == nil {
		g.Set(float64(value))
	}
}

func (p *promPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return prometheus.WriteToTextfile(p.path, p.reg)
}
