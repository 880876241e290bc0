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
	"time"

	"github.com/segmentio/kafka-go"
)

type kafkaSender struct {
	key    string
	writer *kafka.Writer
}

func newKafkaSender(ctx context.Context, brokers []string, topic, key string) (Sender, error) {
	if topic == "" {
		return nil, errors.New("kafka message topic should be specified")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 5 * time.Millisecond,
	}

	msg, err := generateTestEvent()
	if err != nil {
		return nil, fmt.Errorf("kafka generate test event: %w", err)
	}
	err = w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: msg})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("kafka publish test event: %w", err)
	}

	return &kafkaSender{key: key, writer: w}, nil
}

func (ks *kafkaSender) Name() string { return "kafka" }

// Send uses the configured key, or the category name when none is set so
// the results of one category stay on one partition.
func (ks *kafkaSender) Send(ctx context.Context, ev Event, body []byte) error {
	key := ks.key
	if key == "" {
		key = ev.Category
	}
	return ks.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: body})
}

func (ks *kafkaSender) Close() error {
	return ks.writer.Close()
}
