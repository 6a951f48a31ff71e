package messaging

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MockAdapter pretends to deliver messages and keeps them in memory.
type MockAdapter struct {
	mu   sync.Mutex
	sent []Outbound
}

// NewMockAdapter returns an adapter with an empty outbox.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

// Name identifies the adapter in delivery records.
func (m *MockAdapter) Name() string { return "mock" }

// Send records msg and reports success unless ctx is already done.
func (m *MockAdapter) Send(ctx context.Context, msg Outbound) Result {
	if err := ctx.Err(); err != nil {
		return failed(m.Name(), err)
	}
	if msg.Body == "" {
		msg.Body = defaultBody
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	id := "mock_" + uuid.NewString()
	logrus.WithFields(logrus.Fields{
		"conversation_id": msg.ConversationID,
		"message_id":      id,
	}).Info("mock adapter delivered message")
	return Result{Success: true, MessageID: id, Status: StatusSent, Provider: m.Name()}
}

// Sent returns a copy of every delivered message.
func (m *MockAdapter) Sent() []Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Outbound(nil), m.sent...)
}
