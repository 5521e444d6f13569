package slack

import (
	"context"
	"log/slog"
)

// MockProvider logs messages instead of posting them. Used for local
// development and tests.
type MockProvider struct {
	logger *slog.Logger
	Posted []*Message
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Post records the message and logs it instead of sending it.
func (m *MockProvider) Post(_ context.Context, msg *Message) error {
	m.Posted = append(m.Posted, msg)
	m.logger.Info("MOCK SLACK MESSAGE",
		"channel", msg.Channel,
		"text", msg.Text,
		"block_count", len(msg.Blocks))
	return nil
}

// HealthCheck always succeeds for the mock provider.
func (m *MockProvider) HealthCheck(_ context.Context) bool {
	return true
}
