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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

type webhookSender struct {
	url    string
	client *http.Client
}

func newWebhookSender(ctx context.Context, url string) (Sender, error) {
	if url == "" {
		return nil, errors.New("webhook url should be specified")
	}

	w := &webhookSender{
		url:    url,
		client: &http.Client{Timeout: 3 * time.Second},
	}

	testEv, err := generateTestEvent()
	if err != nil {
		return nil, fmt.Errorf("webhook generate test event: %w", err)
	}
	if err := w.post(ctx, testEv); err != nil {
		return nil, fmt.Errorf("send webhook test event: %w", err)
	}

	return w, nil
}

func (w *webhookSender) Name() string { return "webhook" }

func (w *webhookSender) Send(ctx context.Context, _ Event, body []byte) error {
	return w.post(ctx, body)
}

func (w *webhookSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %v", resp.Status)
	}
	return nil
}

func (w *webhookSender) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
