package ha

import (
	"fmt"
	"sync"
	"time"
)

// MockClient implements HAClient in memory for tests. States are seeded
// with SetState, changes are injected with SimulateStateChange, and every
// service call is recorded for assertions.
type MockClient struct {
	statesMu sync.RWMutex
	states   map[string]*State

	subsMu      sync.RWMutex
	subscribers map[string][]subscriberEntry
	nextSubID   int

	connMu    sync.RWMutex
	connected bool

	callsMu      sync.Mutex
	serviceCalls []ServiceCall
}

// ServiceCall records one CallService invocation.
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]interface{}
	Time    time.Time
}

// NewMockClient creates an empty mock client.
func NewMockClient() *MockClient {
	return &MockClient{
		states:       make(map[string]*State),
		subscribers:  make(map[string][]subscriberEntry),
		serviceCalls: make([]ServiceCall, 0),
	}
}

// Connect marks the mock connected.
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

// Disconnect marks the mock disconnected and drops subscriptions.
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	m.connected = false
	m.connMu.Unlock()

	m.subsMu.Lock()
	m.subscribers = make(map[string][]subscriberEntry)
	m.subsMu.Unlock()
	return nil
}

// IsConnected reports the mock connection flag.
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// GetState returns a seeded state.
func (m *MockClient) GetState(entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}
	return state, nil
}

// GetAllStates returns all seeded states.
func (m *MockClient) GetAllStates() ([]*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}
	return states, nil
}

// CallService records the call and mirrors turn_on/turn_off onto the
// target entity's state, like the real platform would.
func (m *MockClient) CallService(domain, service string, data map[string]interface{}) error {
	m.callsMu.Lock()
	m.serviceCalls = append(m.serviceCalls, ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Time:    time.Now(),
	})
	m.callsMu.Unlock()

	entityID, ok := data["entity_id"].(string)
	if !ok {
		return nil
	}

	switch service {
	case "turn_on":
		m.SimulateStateChange(entityID, "on")
	case "turn_off":
		m.SimulateStateChange(entityID, "off")
	}
	return nil
}

// TurnOn mirrors Client.TurnOn.
func (m *MockClient) TurnOn(entityID string) error {
	return m.CallService(entityDomain(entityID), "turn_on", map[string]interface{}{
		"entity_id": entityID,
	})
}

// TurnOff mirrors Client.TurnOff.
func (m *MockClient) TurnOff(entityID string) error {
	return m.CallService(entityDomain(entityID), "turn_off", map[string]interface{}{
		"entity_id": entityID,
	})
}

// SubscribeStateChanges registers a handler for one entity.
func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.subsMu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.subscribers[entityID] = append(m.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	m.subsMu.Unlock()

	return &mockSubscription{entityID: entityID, subID: subID, mock: m}, nil
}

func (m *MockClient) unsubscribe(entityID string, subID int) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	entries, ok := m.subscribers[entityID]
	if !ok {
		return nil
	}

	for i, entry := range entries {
		if entry.subID == subID {
			m.subscribers[entityID] = append(entries[:i], entries[i+1:]...)
			if len(m.subscribers[entityID]) == 0 {
				delete(m.subscribers, entityID)
			}
			break
		}
	}
	return nil
}

// SetState seeds an entity state without notifying subscribers. Use it to
// arrange the world before the code under test subscribes.
func (m *MockClient) SetState(entityID, stateValue string, attributes map[string]interface{}) {
	now := time.Now()
	m.statesMu.Lock()
	m.states[entityID] = &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	m.statesMu.Unlock()
}

// SimulateStateChange updates an entity's state and notifies subscribers
// synchronously, the way a state_changed event would.
func (m *MockClient) SimulateStateChange(entityID, newStateValue string) {
	now := time.Now()

	m.statesMu.Lock()
	oldState := m.states[entityID]

	newState := &State{
		EntityID:    entityID,
		State:       newStateValue,
		Attributes:  make(map[string]interface{}),
		LastChanged: now,
		LastUpdated: now,
	}
	if oldState != nil {
		newState.Attributes = oldState.Attributes
	}

	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.subsMu.RLock()
	entries := append([]subscriberEntry(nil), m.subscribers[entityID]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(entityID, oldState, newState)
	}
}

// GetServiceCalls returns a copy of all recorded service calls.
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]ServiceCall, len(m.serviceCalls))
	copy(calls, m.serviceCalls)
	return calls
}

// ClearServiceCalls resets the recorded call history.
func (m *MockClient) ClearServiceCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.serviceCalls = m.serviceCalls[:0]
}

// mockSubscription implements Subscription for MockClient.
type mockSubscription struct {
	entityID string
	subID    int
	mock     *MockClient
}

func (s *mockSubscription) Unsubscribe() error {
	return s.mock.unsubscribe(s.entityID, s.subID)
}
