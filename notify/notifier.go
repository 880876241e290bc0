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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/versity/s3compat/checker"
)

const (
	queueSize   = 256
	sendTimeout = 5 * time.Second
)

// Sender delivers encoded events to one destination.
type Sender interface {
	Name() string
	Send(ctx context.Context, ev Event, body []byte) error
	Close() error
}

// Config selects the destinations. Every destination with its address set
// is used.
type Config struct {
	Filter   string
	RunID    string
	Endpoint string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaKey     string

	NatsURL   string
	NatsTopic string

	RabbitmqURL        string
	RabbitmqExchange   string
	RabbitmqRoutingKey string

	WebhookURL string

	RedisURL     string
	RedisChannel string
}

// Notifier is a checker.Observer that publishes events in the order they
// were observed from a single background goroutine, so a slow broker never
// stalls the run.
type Notifier struct {
	runID    string
	endpoint string
	filter   Filter
	senders  []Sender
	log      logrus.FieldLogger

	queue   chan Event
	done    chan struct{}
	once    sync.Once
	dropped int
}

// New connects to every configured destination. Each one is sent a test
// event first so a bad address fails the run before any check executes.
func New(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Notifier, error) {
	filter, err := ParseFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}

	var senders []Sender
	add := func(name string, s Sender, err error) error {
		if err != nil {
			return fmt.Errorf("%v: %w", name, err)
		}
		log.WithField("destination", name).Info("initialized result event notifications")
		senders = append(senders, s)
		return nil
	}

	var errs []error
	if len(cfg.KafkaBrokers) > 0 {
		s, err := newKafkaSender(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaKey)
		errs = append(errs, add("kafka", s, err))
	}
	if cfg.NatsURL != "" {
		s, err := newNatsSender(cfg.NatsURL, cfg.NatsTopic)
		errs = append(errs, add("nats", s, err))
	}
	if cfg.RabbitmqURL != "" {
		s, err := newRabbitmqSender(ctx, cfg.RabbitmqURL, cfg.RabbitmqExchange, cfg.RabbitmqRoutingKey)
		errs = append(errs, add("rabbitmq", s, err))
	}
	if cfg.WebhookURL != "" {
		s, err := newWebhookSender(ctx, cfg.WebhookURL)
		errs = append(errs, add("webhook", s, err))
	}
	if cfg.RedisURL != "" {
		s, err := newRedisSender(ctx, cfg.RedisURL, cfg.RedisChannel)
		errs = append(errs, add("redis", s, err))
	}

	if err := errors.Join(errs...); err != nil {
		for _, s := range senders {
			s.Close()
		}
		return nil, err
	}

	return newNotifier(cfg.RunID, cfg.Endpoint, filter, log, senders...), nil
}

func newNotifier(runID, endpoint string, filter Filter, log logrus.FieldLogger, senders ...Sender) *Notifier {
	n := &Notifier{
		runID:    runID,
		endpoint: endpoint,
		filter:   filter,
		senders:  senders,
		log:      log,
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
	}
	go n.loop()
	return n
}

// Enabled reports whether any destination is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0 && n.filter != FilterNone
}

func (n *Notifier) loop() {
	defer close(n.done)
	for ev := range n.queue {
		body, err := json.Marshal(ev)
		if err != nil {
			n.log.WithError(err).Error("failed to encode result event")
			continue
		}
		for _, s := range n.senders {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			err := s.Send(ctx, ev, body)
			cancel()
			if err != nil {
				n.log.WithError(err).WithField("destination", s.Name()).Warn("failed to send result event")
			}
		}
	}
}

func (n *Notifier) enqueue(ev Event) {
	select {
	case n.queue <- ev:
	default:
		n.dropped++
	}
}

func (n *Notifier) CategoryStarted(*checker.Category) {}

func (n *Notifier) UnitFinished(r checker.Result) {
	if n.filter.Check(r.Outcome) {
		n.enqueue(checkEvent(n.runID, n.endpoint, r))
	}
}

func (n *Notifier) CategoryFinished(c checker.CategoryResult) {
	if n.filter.Summaries() {
		n.enqueue(categoryEvent(n.runID, n.endpoint, c))
	}
}

func (n *Notifier) RunFinished(s checker.Summary) {
	if n.filter.Summaries() {
		n.enqueue(runEvent(s))
	}
}

// Close waits for queued events to be sent, or for ctx to end, and closes
// every destination.
func (n *Notifier) Close(ctx context.Context) error {
	n.once.Do(func() { close(n.queue) })

	var errs []error
	select {
	case <-n.done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("flush result events: %w", ctx.Err()))
	}
	if n.dropped > 0 {
		n.log.WithField("dropped", n.dropped).Warn("result event queue overflowed")
	}
	for _, s := range n.senders {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%v: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
