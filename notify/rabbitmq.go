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

	amqp "github.com/rabbitmq/amqp091-go"
)

const mimeJSON = "application/json"

// rabbitmqSender publishes to an exchange. A blank exchange is the default
// exchange. A blank routing key routes by category name.
type rabbitmqSender struct {
	exchange   string
	routingKey string
	conn       *amqp.Connection
	channel    *amqp.Channel
	// amqp channels are not safe for concurrent publishing
	mu sync.Mutex
}

func newRabbitmqSender(ctx context.Context, url, exchange, routingKey string) (Sender, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url should be specified")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	rs := &rabbitmqSender{
		exchange:   exchange,
		routingKey: routingKey,
		conn:       conn,
		channel:    ch,
	}

	testMsg, err := generateTestEvent()
	if err != nil {
		rs.Close()
		return nil, fmt.Errorf("rabbitmq generate test event: %w", err)
	}
	if err := rs.publish(ctx, routingKey, testMsg, ""); err != nil {
		rs.Close()
		return nil, fmt.Errorf("rabbitmq publish test event: %w", err)
	}

	return rs, nil
}

func (rs *rabbitmqSender) Name() string { return "rabbitmq" }

func (rs *rabbitmqSender) Send(ctx context.Context, ev Event, body []byte) error {
	key := rs.routingKey
	if key == "" {
		key = ev.Category
	}
	return rs.publish(ctx, key, body, ev.ID)
}

func (rs *rabbitmqSender) publish(ctx context.Context, key string, body []byte, id string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if id == "" {
		id = newEvent(EventTest, "", "").ID
	}
	return rs.channel.PublishWithContext(ctx, rs.exchange, key, false, false, amqp.Publishing{
		Timestamp:   time.Now(),
		ContentType: mimeJSON,
		Body:        body,
		MessageId:   id,
	})
}

func (rs *rabbitmqSender) Close() error {
	var firstErr error
	if rs.channel != nil {
		if err := rs.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if rs.conn != nil {
		if err := rs.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
