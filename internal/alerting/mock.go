package alerting

import (
	"context"
	"slices"
	"sync"
)

// MockAlerter captures alerts for tests.
type MockAlerter struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

// NewMockAlerter creates a new mock alerter.
func NewMockAlerter() *MockAlerter {
	return &MockAlerter{}
}

func (m *MockAlerter) Name() string {
	return "mock"
}

// FailWith makes Send record the alert and then return err.
func (m *MockAlerter) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Send captures the alert.
func (m *MockAlerter) Send(_ context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return m.err
}

// Alerts returns all captured alerts.
func (m *MockAlerter) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.alerts)
}

// Count returns the number of captured alerts.
func (m *MockAlerter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

// Events returns the captured event names in order.
func (m *MockAlerter) Events() []AlertEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]AlertEvent, len(m.alerts))
	for i, a := range m.alerts {
		events[i] = a.Event
	}
	return events
}

// HasEvent reports whether event was captured.
func (m *MockAlerter) HasEvent(event AlertEvent) bool {
	return slices.Contains(m.Events(), event)
}

// ByEvent returns the captured alerts for event.
func (m *MockAlerter) ByEvent(event AlertEvent) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for _, a := range m.alerts {
		if a.Event == event {
			out = append(out, a)
		}
	}
	return out
}

// LastAlert returns the last captured alert, or nil if none.
func (m *MockAlerter) LastAlert() *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.alerts) == 0 {
		return nil
	}
	last := m.alerts[len(m.alerts)-1]
	return &last
}
