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

// Package metrics forwards check outcomes to statsd, dogstatsd and a
// prometheus text file.
package metrics

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// queueLen bounds buffered datapoints; once full, new ones are dropped.
var queueLen = 100000

// Tag is a metric dimension.
type Tag struct {
	Key   string
	Value string
}

type kind int

const (
	kindCount kind = iota
	kindGauge
)

type datapoint struct {
	kind   kind
	module string
	key    string
	value  int64
	tags   []Tag
}

// publisher is one metrics destination.
type publisher interface {
	Add(module, key string, value int64, tags ...Tag)
	Gauge(module, key string, value int64, tags ...Tag)
	Close() error
}

// Manager fans datapoints out to every publisher from one goroutine.
type Manager struct {
	ctx        context.Context
	publishers []publisher
	queue      chan datapoint
	done       chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

type Config struct {
	// ServiceName tags every metric, the hostname when empty.
	ServiceName      string
	StatsdServers    []string
	DogstatsdServers []string
	PrometheusFile   string
}

func (c Config) enabled() bool {
	return len(c.StatsdServers) > 0 || len(c.DogstatsdServers) > 0 || c.PrometheusFile != ""
}

func servers(list []string) []string {
	var out []string
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NewManager builds a publisher per configured destination. It returns nil
// when there is none.
func NewManager(ctx context.Context, conf Config) (*Manager, error) {
	if !conf.enabled() {
		return nil, nil
	}

	service := conf.ServiceName
	if service == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to get hostname: %w", err)
		}
		service = hostname
	}

	var pubs []publisher
	for _, server := range servers(conf.StatsdServers) {
		p, err := newStatsd(server, service)
		if err != nil {
			return nil, fmt.Errorf("statsd %v: %w", server, err)
		}
		pubs = append(pubs, p)
	}
	for _, server := range servers(conf.DogstatsdServers) {
		p, err := newDogStatsd(server, service)
		if err != nil {
			for _, prev := range pubs {
				prev.Close()
			}
			return nil, fmt.Errorf("dogstatsd %v: %w", server, err)
		}
		pubs = append(pubs, p)
	}
	if conf.PrometheusFile != "" {
		pubs = append(pubs, newPrometheus(conf.PrometheusFile, service))
	}

	return newManager(ctx, pubs...), nil
}

func newManager(ctx context.Context, pubs ...publisher) *Manager {
	m := &Manager{
		ctx:        ctx,
		publishers: pubs,
		queue:      make(chan datapoint, queueLen),
		done:       make(chan struct{}),
	}
	go m.forward()
	return m
}

func (m *Manager) forward() {
	defer close(m.done)
	for d := range m.queue {
		for _, p := range m.publishers {
			switch d.kind {
			case kindCount:
				p.Add(d.module, d.key, d.value, d.tags...)
			case kindGauge:
				p.Gauge(d.module, d.key, d.value, d.tags...)
			}
		}
	}
}

func (m *Manager) enqueue(d datapoint) {
	if m.ctx.Err() != nil {
		return
	}
	select {
	case m.queue <- d:
	default:
	}
}

// Increment adds one to module.key.
func (m *Manager) Increment(module, key string, tags ...Tag) {
	m.Add(module, key, 1, tags...)
}

func (m *Manager) Add(module, key string, value int64, tags ...Tag) {
	m.enqueue(datapoint{kind: kindCount, module: module, key: key, value: value, tags: tags})
}

func (m *Manager) Gauge(module, key string, value int64, tags ...Tag) {
	m.enqueue(datapoint{kind: kindGauge, module: module, key: key, value: value, tags: tags})
}

// Close forwards what is queued and closes every publisher. The prometheus
// text file is written here. It returns the first publisher error.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.queue)
		<-m.done
		for _, p := range m.publishers {
			if err := p.Close(); err != nil && m.closeErr == nil {
				m.closeErr = err
			}
		}
	})
	return m.closeErr
}
