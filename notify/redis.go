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

	"github.com/redis/go-redis/v9"
)

type redisSender struct {
	channel string
	client  *redis.Client
}

// newRedisSender publishes to a pub/sub channel. url is a redis:// or
// rediss:// URL.
func newRedisSender(ctx context.Context, url, channel string) (Sender, error) {
	if channel == "" {
		return nil, errors.New("redis channel should be specified")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisSender{channel: channel, client: client}, nil
}

func (rs *redisSender) Name() string { return "redis" }

func (rs *redisSender) Send(ctx context.Context, _ Event, body []byte) error {
	return rs.client.Publish(ctx, rs.channel, body).Err()
}

func (rs *redisSender) Close() error {
	return rs.client.Close()
}
