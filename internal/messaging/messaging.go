package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Outbound is one reply to deliver to a customer.
type Outbound struct {
	To             string
	Body           string
	ConversationID uint
}

// Result describes a delivery attempt. Failures are reported here, never as panics.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Provider  string `json:"provider"`
}

// Dispatcher delivers outbound replies through a messaging provider.
type Dispatcher interface {
	Name() string
	Send(ctx context.Context, msg Outbound) Result
}

const (
	StatusSent   = "sent"
	StatusFailed = "failed"

	defaultBody = "Hello! This is a follow-up regarding your policy. Please reply with your feedback."
)

var ErrUnknownAdapter = errors.New("unknown messaging adapter")

// Config selects and configures the dispatcher.
type Config struct {
	Adapter          string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

// New builds the dispatcher named by cfg.Adapter ("mock" or "twilio").
func New(cfg Config) (Dispatcher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Adapter)) {
	case "", "mock":
		return NewMockAdapter(), nil
	case "twilio":
		adapter, err := NewTwilioAdapter(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, cfg.Adapter)
	}
}

func failed(provider string, err error) Result {
	return Result{Success: false, Status: StatusFailed, Error: err.Error(), Provider: provider}
}
