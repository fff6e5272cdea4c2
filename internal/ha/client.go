package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// requestTimeout bounds how long a command waits for its response frame.
const requestTimeout = 10 * time.Second

// HAClient is the host-platform surface the rest of the application uses:
// read entity state, issue turn_on/turn_off commands and subscribe to
// state changes.
type HAClient interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	GetState(entityID string) (*State, error)
	GetAllStates() ([]*State, error)
	CallService(domain, service string, data map[string]interface{}) error
	TurnOn(entityID string) error
	TurnOff(entityID string) error
	SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error)
}

// subscriberEntry pairs a handler with its subscription ID so individual
// subscriptions can be removed.
type subscriberEntry struct {
	subID   int
	handler StateChangeHandler
}

// Client is the WebSocket implementation of HAClient. It authenticates,
// subscribes to state_changed events, routes responses to waiting callers
// and reconnects with exponential backoff after a connection loss.
type Client struct {
	url    string
	token  string
	logger *zap.Logger

	connMu    sync.RWMutex
	conn      *websocket.Conn
	connected bool
	reconnect bool

	writeMu sync.Mutex // serializes websocket writes

	msgIDMu sync.Mutex
	msgID   int

	pendingMu sync.Mutex
	pending   map[int]chan Message

	subsMu      sync.RWMutex
	subscribers map[string][]subscriberEntry
	nextSubID   int

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a Home Assistant WebSocket client for the given URL
// (ws://host:port/api/websocket) and long-lived access token.
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:         url,
		token:       token,
		logger:      logger.Named("ha"),
		pending:     make(map[int]chan Message),
		subscribers: make(map[string][]subscriberEntry),
		ctx:         ctx,
		cancel:      cancel,
		reconnect:   true,
	}
}

// Connect dials the WebSocket endpoint, completes the auth handshake and
// subscribes to state_changed events.
func (c *Client) Connect() error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("failed to dial %s: %w", c.url, err)
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		c.connMu.Unlock()
		return err
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.conn = conn
	c.connected = true
	c.reconnect = true
	c.connMu.Unlock()

	c.logger.Info("Connected to Home Assistant", zap.String("url", c.url))

	go c.receiveLoop(conn)

	// Subscribe to state_changed events. The lock is released first since
	// sendRequest takes it again.
	if err := c.subscribeEvents(); err != nil {
		c.logger.Warn("Failed to subscribe to state_changed events", zap.Error(err))
	}

	return nil
}

// authenticate runs the auth_required/auth/auth_ok exchange on a fresh
// connection.
func (c *Client) authenticate(conn *websocket.Conn) error {
	var hello Message
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", hello.Type)
	}

	if err := conn.WriteJSON(AuthMessage{Type: "auth", AccessToken: c.token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var response Message
	if err := conn.ReadJSON(&response); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}

	switch response.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("authentication failed: invalid token")
	default:
		return fmt.Errorf("expected auth_ok, got %s", response.Type)
	}
}

// Disconnect closes the connection and drops all subscriptions. The client
// will not attempt to reconnect afterwards.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		return nil
	}

	c.reconnect = false
	c.connected = false
	c.cancel()

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.conn.Close()
		c.conn = nil
	}

	c.subsMu.Lock()
	c.subscribers = make(map[string][]subscriberEntry)
	c.subsMu.Unlock()

	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected reports whether the client currently has an authenticated
// connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// sendRequest sends one command frame and waits for its response.
func (c *Client) sendRequest(req request) (*Message, error) {
	c.connMu.RLock()
	conn := c.conn
	connected := c.connected
	c.connMu.RUnlock()

	if !connected || conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", req.Type, err)
	}

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("%s request failed", req.Type)
		}
		return &resp, nil
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("timeout waiting for %s response", req.Type)
	case <-c.ctx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

// receiveLoop reads frames until the connection drops, dispatching events
// to subscribers and responses to waiting callers.
func (c *Client) receiveLoop(conn *websocket.Conn) {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect()
			return
		}

		if msg.Type == "event" {
			c.handleEvent(&msg)
			continue
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

// handleEvent fans a state_changed event out to the entity's subscribers.
func (c *Client) handleEvent(msg *Message) {
	if msg.Event == nil || msg.Event.EventType != "state_changed" {
		return
	}

	var event StateChangedEvent
	if err := json.Unmarshal(msg.Event.Data, &event); err != nil {
		c.logger.Error("Failed to unmarshal state_changed event", zap.Error(err))
		return
	}

	c.subsMu.RLock()
	entries := append([]subscriberEntry(nil), c.subscribers[event.EntityID]...)
	c.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(event.EntityID, event.OldState, event.NewState)
	}
}

// handleDisconnect marks the client disconnected and kicks off the
// reconnect loop unless Disconnect was requested.
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	c.connected = false
	shouldReconnect := c.reconnect
	c.connMu.Unlock()

	c.logger.Warn("Connection lost")

	if shouldReconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop retries Connect with exponential backoff capped at 30s.
func (c *Client) reconnectLoop() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Attempting to reconnect", zap.Duration("backoff", backoff))

		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnect failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Reconnected to Home Assistant")
		return
	}
}

// subscribeEvents asks Home Assistant to push all state_changed events.
func (c *Client) subscribeEvents() error {
	_, err := c.sendRequest(request{
		ID:        c.nextMsgID(),
		Type:      "subscribe_events",
		EventType: "state_changed",
	})
	return err
}

// GetState fetches the current state of one entity.
func (c *Client) GetState(entityID string) (*State, error) {
	states, err := c.GetAllStates()
	if err != nil {
		return nil, err
	}

	for _, state := range states {
		if state.EntityID == entityID {
			return state, nil
		}
	}

	return nil, fmt.Errorf("entity %s not found", entityID)
}

// GetAllStates fetches the state of every entity Home Assistant knows.
func (c *Client) GetAllStates() ([]*State, error) {
	resp, err := c.sendRequest(request{
		ID:   c.nextMsgID(),
		Type: "get_states",
	})
	if err != nil {
		return nil, err
	}

	var states []*State
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}

	return states, nil
}

// CallService invokes a Home Assistant service.
func (c *Client) CallService(domain, service string, data map[string]interface{}) error {
	_, err := c.sendRequest(request{
		ID:          c.nextMsgID(),
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	})
	return err
}

// entityDomain extracts the service domain from an entity ID, falling back
// to the generic homeassistant domain when the ID has no domain prefix.
func entityDomain(entityID string) string {
	if i := strings.Index(entityID, "."); i > 0 {
		return entityID[:i]
	}
	return "homeassistant"
}

// TurnOn turns an entity on via its domain's turn_on service.
func (c *Client) TurnOn(entityID string) error {
	return c.CallService(entityDomain(entityID), "turn_on", map[string]interface{}{
		"entity_id": entityID,
	})
}

// TurnOff turns an entity off via its domain's turn_off service.
func (c *Client) TurnOff(entityID string) error {
	return c.CallService(entityDomain(entityID), "turn_off", map[string]interface{}{
		"entity_id": entityID,
	})
}

// SubscribeStateChanges registers a handler for one entity's state changes.
func (c *Client) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	c.subsMu.Lock()
	subID := c.nextSubID
	c.nextSubID++
	c.subscribers[entityID] = append(c.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	c.subsMu.Unlock()

	return &clientSubscription{entityID: entityID, subID: subID, client: c}, nil
}

func (c *Client) unsubscribe(entityID string, subID int) error {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	entries, ok := c.subscribers[entityID]
	if !ok {
		return nil
	}

	for i, entry := range entries {
		if entry.subID == subID {
			c.subscribers[entityID] = append(entries[:i], entries[i+1:]...)
			if len(c.subscribers[entityID]) == 0 {
				delete(c.subscribers, entityID)
			}
			break
		}
	}

	return nil
}

// clientSubscription implements Subscription for Client.
type clientSubscription struct {
	entityID string
	subID    int
	client   *Client
}

func (s *clientSubscription) Unsubscribe() error {
	return s.client.unsubscribe(s.entityID, s.subID)
}
