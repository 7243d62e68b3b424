package session

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cortexuvula/codeshare/internal/activity"
	"github.com/cortexuvula/codeshare/internal/metrics"
)

// Relay validates and dispatches every inbound event: it updates the
// room state store when an event carries durable state, then fans the
// event out to the right audience (room minus sender, a single target,
// or the whole room) with the sender's display name attached.
//
// Handlers run synchronously on the connection's read loop, so events
// from one connection are relayed in send order. Malformed events are
// dropped, never surfaced as errors: the relay must stay up in the face
// of a buggy or out-of-sync client.
type Relay struct {
	registry *UserRegistry
	rooms    *RoomIndex
	state    *RoomState

	// Optional, nil when the corresponding feature is disabled.
	feed    *activity.Feed
	metrics *metrics.Metrics
}

// NewRelay creates a relay over the given registry, membership index,
// and state store.
func NewRelay(registry *UserRegistry, rooms *RoomIndex, state *RoomState) *Relay {
	return &Relay{registry: registry, rooms: rooms, state: state}
}

// SetActivityFeed attaches the admin activity feed.
func (rl *Relay) SetActivityFeed(feed *activity.Feed) {
	rl.feed = feed
}

// SetMetrics attaches Prometheus metrics.
func (rl *Relay) SetMetrics(m *metrics.Metrics) {
	rl.metrics = m
}

// HandleMessage processes one inbound frame from a connection. A panic
// in a handler is confined to that event: it is logged and the frame is
// dropped, so one bad event cannot take down the process or other
// rooms.
func (rl *Relay) HandleMessage(ctx context.Context, connID string, sender Sender, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panic", "conn", connID, "panic", r)
		}
	}()

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Debug("dropping undecodable frame", "conn", connID, "error", err)
		return
	}

	rl.countEvent(env.Event)

	switch env.Event {
	case EventJoin:
		rl.handleJoin(ctx, connID, sender, env.Data)
	case EventGetCode:
		rl.handleGetCode(ctx, connID, sender, env.Data)
	case EventCodeChange:
		rl.handleCodeChange(ctx, connID, env.Data)
	case EventInputChange:
		rl.handleInputChange(ctx, connID, env.Data)
	case EventLanguageChange:
		rl.handleLanguageChange(ctx, connID, env.Data)
	case EventCursorUpdate:
		rl.handleCursorUpdate(ctx, connID, env.Data)
	case EventSyncCode:
		rl.handleSyncCode(ctx, env.Data)
	case EventCodeExecution:
		rl.handleCodeExecution(ctx, connID, env.Data)
	case EventCodeRunning:
		rl.handleCodeRunning(ctx, connID, env.Data)
	default:
		slog.Debug("dropping unknown event", "conn", connID, "event", env.Event)
	}
}

// handleJoin registers the connection, seeds it with the room's current
// state, and announces the new membership to every member including the
// joiner. Join is the one event that reports validation failures back
// to the sender, matching what the editor client expects.
func (rl *Relay) handleJoin(ctx context.Context, connID string, sender Sender, data json.RawMessage) {
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" || p.Username == "" {
		rl.sendTo(ctx, sender, EventError, errorMsg{Message: "username and roomId are required"})
		return
	}

	rl.registry.Register(connID, p.Username)
	rl.rooms.Join(p.RoomID, connID, sender)

	slog.Info("user joined room", "room", p.RoomID, "username", p.Username, "conn", connID)
	rl.record(p.RoomID, "join", p.Username)
	if rl.metrics != nil {
		rl.metrics.ActiveRooms.Set(float64(rl.rooms.RoomCount()))
	}

	// Seed the joiner with whatever state the room already has. A field
	// is replayed whenever it was ever written, including an empty
	// string: present and empty are different things.
	if code, ok := rl.state.Code(p.RoomID); ok {
		rl.sendTo(ctx, sender, EventCodeChange, codeChangeMsg{Code: code})
	}
	if input, ok := rl.state.Input(p.RoomID); ok {
		rl.sendTo(ctx, sender, EventInputChange, inputChangeMsg{Input: input})
	}
	if lang, ok := rl.state.Language(p.RoomID); ok {
		rl.sendTo(ctx, sender, EventLanguageChange, languageChangeMsg{Language: lang})
	}
	if res, ok := rl.state.ExecResult(p.RoomID); ok {
		rl.sendTo(ctx, sender, EventCodeExecution, execMsg{Output: res.Output, Error: res.Error})
	}

	rl.broadcast(ctx, p.RoomID, "", EventJoined, joinedMsg{
		Clients:  rl.Members(p.RoomID),
		Username: p.Username,
		SocketID: connID,
	})
}

func (rl *Relay) handleGetCode(ctx context.Context, connID string, sender Sender, data json.RawMessage) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		return
	}
	if code, ok := rl.state.Code(p.RoomID); ok {
		rl.sendTo(ctx, sender, EventCodeChange, codeChangeMsg{Code: code})
	}
}

func (rl *Relay) handleCodeChange(ctx context.Context, connID string, data json.RawMessage) {
	var p codePayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		return
	}
	rl.state.SetCode(p.RoomID, p.Code)
	username, _ := rl.registry.Lookup(connID)
	rl.broadcast(ctx, p.RoomID, connID, EventCodeChange, codeChangeMsg{Code: p.Code, Username: username})
}

func (rl *Relay) handleInputChange(ctx context.Context, connID string, data json.RawMessage) {
	var p inputPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		return
	}
	rl.state.SetInput(p.RoomID, p.Input)
	username, _ := rl.registry.Lookup(connID)
	rl.broadcast(ctx, p.RoomID, connID, EventInputChange, inputChangeMsg{Input: p.Input, Username: username})
}

func (rl *Relay) handleLanguageChange(ctx context.Context, connID string, data json.RawMessage) {
	var p languagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		return
	}
	rl.state.SetLanguage(p.RoomID, p.Language)
	username, _ := rl.registry.Lookup(connID)
	rl.broadcast(ctx, p.RoomID, connID, EventLanguageChange, languageChangeMsg{Language: p.Language, Username: username})
}

// handleCursorUpdate forwards cursor positions without storing them:
// cursor state is ephemeral and has no replay value to a late joiner.
func (rl *Relay) handleCursorUpdate(ctx context.Context, connID string, data json.RawMessage) {
	var p cursorPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		return
	}
	username, _ := rl.registry.Lookup(connID)
	rl.broadcast(ctx, p.RoomID, connID, EventCursorUpdate, cursorUpdateMsg{
		SocketID: connID,
		Username: username,
		Position: p.Position,
	})
}

// handleSyncCode pushes code to exactly one target connection,
// addressed by ID rather than by room. A departed target is a no-op.
func (rl *Relay) handleSyncCode(ctx context.Context, data json.RawMessage) {
	var p syncCodePayload
	if err := json.Unmarshal(data, &p); err != nil || p.SocketID == "" {
		return
	}
	target, ok := rl.rooms.Sender(p.SocketID)
	if !ok {
		return
	}
	rl.sendTo(ctx, target, EventCodeChange, codeChangeMsg{Code: p.Code})
}

func (rl *Relay) handleCodeExecution(ctx context.Context, connID string, data json.RawMessage) {
	var p execPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		return
	}
	rl.state.SetExecResult(p.RoomID, ExecResult{Output: p.Output, Error: p.Error})
	username, _ := rl.registry.Lookup(connID)
	rl.record(p.RoomID, "execution", username)
	rl.broadcast(ctx, p.RoomID, connID, EventCodeExecution, execMsg{
		Output:   p.Output,
		Error:    p.Error,
		Username: username,
	})
}

func (rl *Relay) handleCodeRunning(ctx context.Context, connID string, data json.RawMessage) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		return
	}
	username, _ := rl.registry.Lookup(connID)
	rl.broadcast(ctx, p.RoomID, connID, EventCodeRunning, runningMsg{Username: username})
}

// Disconnect announces the departure to every room the connection was
// in, then removes it from the registry and membership index. Stored
// room state survives an emptied room.
func (rl *Relay) Disconnect(ctx context.Context, connID string) {
	username, _ := rl.registry.Lookup(connID)

	for _, roomID := range rl.rooms.Rooms(connID) {
		rl.broadcast(ctx, roomID, connID, EventDisconnected, disconnectedMsg{
			SocketID: connID,
			Username: username,
		})
		slog.Info("user left room", "room", roomID, "username", username, "conn", connID)
		rl.record(roomID, "leave", username)
	}

	rl.registry.Unregister(connID)
	rl.rooms.LeaveAll(connID)
	if rl.metrics != nil {
		rl.metrics.ActiveRooms.Set(float64(rl.rooms.RoomCount()))
	}
}

// Members returns the room's member list with display names resolved
// through the registry.
func (rl *Relay) Members(roomID string) []Member {
	ids := rl.rooms.MemberIDs(roomID)
	members := make([]Member, 0, len(ids))
	for _, id := range ids {
		name, _ := rl.registry.Lookup(id)
		members = append(members, Member{SocketID: id, Username: name})
	}
	return members
}

// broadcast fans an event out to every member of a room except
// excludeID. Pass an empty excludeID to reach the whole room.
func (rl *Relay) broadcast(ctx context.Context, roomID, excludeID, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		slog.Error("encoding broadcast frame", "event", event, "error", err)
		return
	}
	for _, target := range rl.rooms.targets(roomID, excludeID) {
		if err := target.Send(ctx, frame); err != nil {
			slog.Debug("broadcast write failed", "room", roomID, "event", event, "error", err)
		}
	}
	if rl.metrics != nil {
		rl.metrics.BroadcastsTotal.Inc()
	}
}

func (rl *Relay) sendTo(ctx context.Context, sender Sender, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		slog.Error("encoding frame", "event", event, "error", err)
		return
	}
	if err := sender.Send(ctx, frame); err != nil {
		slog.Debug("direct write failed", "event", event, "error", err)
	}
}

// knownEvents bounds the event metric label. Client frames choose the
// event name, so an unrecognized name must not become a label value.
var knownEvents = map[string]bool{
	EventJoin:           true,
	EventGetCode:        true,
	EventCodeChange:     true,
	EventInputChange:    true,
	EventLanguageChange: true,
	EventCursorUpdate:   true,
	EventSyncCode:       true,
	EventCodeExecution:  true,
	EventCodeRunning:    true,
}

func (rl *Relay) countEvent(event string) {
	if rl.metrics == nil {
		return
	}
	if !knownEvents[event] {
		event = "unknown"
	}
	rl.metrics.EventsTotal.WithLabelValues(event).Inc()
}

func (rl *Relay) record(roomID, event, username string) {
	if rl.feed != nil {
		rl.feed.Record(roomID, event, username)
	}
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
