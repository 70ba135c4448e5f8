/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client posts MessageCards to Microsoft Teams incoming webhooks. Delivery
// mechanics end here; retry policy is the caller's concern.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

func NewClient(timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}, log: log}
}

func (c *Client) PostCard(ctx context.Context, webhookURL string, card map[string]any) error {
	if strings.TrimSpace(webhookURL) == "" {
		return fmt.Errorf("teams: empty webhook url")
	}
	b, err := json.Marshal(card)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("teams webhook status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
