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

	"github.com/nats-io/nats.go"
)

type natsSender struct {
	topic  string
	client *nats.Conn
}

func newNatsSender(url, topic string) (Sender, error) {
	if topic == "" {
		return nil, errors.New("nats message topic should be specified")
	}

	client, err := nats.Connect(url, nats.Name("s3compat"))
	if err != nil {
		return nil, err
	}

	msg, err := generateTestEvent()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("nats generate test event: %w", err)
	}
	if err := client.Publish(topic, msg); err != nil {
		client.Close()
		return nil, fmt.Errorf("nats publish test event: %w", err)
	}

	return &natsSender{topic: topic, client: client}, nil
}

func (ns *natsSender) Name() string { return "nats" }

func (ns *natsSender) Send(_ context.Context, _ Event, body []byte) error {
	return ns.client.Publish(ns.topic, body)
}

func (ns *natsSender) Close() error {
	// Drain flushes pending publishes before closing.
	return ns.client.Drain()
}
