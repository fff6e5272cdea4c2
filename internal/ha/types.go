package ha

import (
	"encoding/json"
	"time"
)

// Message is the envelope for every frame exchanged with Home Assistant
// over the WebSocket API.
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Error is the error payload Home Assistant attaches to failed requests.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage carries the access token during the auth handshake.
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Event is the payload of an "event" frame.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent is the data of a state_changed event.
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
	OldState *State `json:"old_state"`
}

// State is the state of a single entity as reported by Home Assistant.
// The literal state string "unavailable" means the entity currently has
// no usable value.
type State struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// request covers the small set of outbound command frames this client
// sends: get_states, call_service and subscribe_events.
type request struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	Domain      string                 `json:"domain,omitempty"`
	Service     string                 `json:"service,omitempty"`
	ServiceData map[string]interface{} `json:"service_data,omitempty"`
	EventType   string                 `json:"event_type,omitempty"`
}

// StateChangeHandler receives state_changed notifications for an entity.
// oldState may be nil for entities seen for the first time.
type StateChangeHandler func(entityID string, oldState, newState *State)

// Subscription is an active state-change subscription.
type Subscription interface {
	Unsubscribe() error
}
