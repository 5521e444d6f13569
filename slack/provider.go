// Package slack handles sending badge-change notifications via pluggable providers.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// Provider defines the interface for chat message delivery implementations.
type Provider interface {
	// Post delivers a message to the channel named in it.
	Post(ctx context.Context, msg *Message) error
	// HealthCheck reports whether the channel is reachable.
	HealthCheck(ctx context.Context) bool
}

// APIProvider sends messages via the Slack Web API.
type APIProvider struct {
	botToken string
	client   *http.Client
	logger   *slog.Logger
	baseURL  string
}

// NewAPIProvider creates a Slack Web API provider.
func NewAPIProvider(botToken string, client *http.Client, logger *slog.Logger) *APIProvider {
	return &APIProvider{
		botToken: botToken,
		client:   client,
		logger:   logger,
		baseURL:  "https://slack.com/api",
	}
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// Post sends a message via chat.postMessage.
func (p *APIProvider) Post(ctx context.Context, msg *Message) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return retry.Do(
		func() error {
			p.logger.Info("Slack API request starting",
				"method", "POST",
				"endpoint", "chat.postMessage",
				"channel", msg.Channel)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				p.baseURL+"/chat.postMessage", bytes.NewReader(jsonData))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}

			req.Header.Set("Content-Type", "application/json; charset=utf-8")
			req.Header.Set("Authorization", "Bearer "+p.botToken)

			resp, err := p.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				p.logger.Warn("Slack API request failed, will retry",
					"channel", msg.Channel,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					p.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				p.logger.Warn("Slack API returned non-2xx status, will retry",
					"status_code", resp.StatusCode,
					"channel", msg.Channel)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			var apiResp apiResponse
			if err := json.Unmarshal(body, &apiResp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if !apiResp.OK {
				// API-level rejections (bad channel, bad blocks) will not
				// heal on retry; rate limits will.
				apiErr := fmt.Errorf("slack API error: %s", apiResp.Error)
				if apiResp.Error == "ratelimited" {
					return apiErr
				}
				return retry.Unrecoverable(apiErr)
			}

			p.logger.Info("Slack API request completed",
				"endpoint", "chat.postMessage",
				"channel", msg.Channel,
				"duration_ms", duration.Milliseconds(),
				"message_ts", apiResp.TS)

			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying Slack post after error", "attempt", n, "error", err)
		}),
	)
}

// HealthCheck verifies the bot token via auth.test.
func (p *APIProvider) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/auth.test", http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+p.botToken)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Error("Slack health check failed", "error", err)
		return false
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return false
	}
	return apiResp.OK
}
