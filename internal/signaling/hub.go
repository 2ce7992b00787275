package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
)

var (
	ErrDuplicateConnection = errors.New("signaling: connection already registered")
	ErrUnknownConnection   = errors.New("signaling: unknown connection")
	ErrHubClosed           = errors.New("signaling: hub closed")
	ErrHubFull             = errors.New("signaling: too many connections")
	ErrMalformedMessage    = errors.New("signaling: malformed message")
	ErrSendQueueFull       = errors.New("signaling: send queue full")
	ErrConnectionClosed    = errors.New("signaling: connection closed")
)

// Handle is the hub's exclusive way of reaching one client.
type Handle interface {
	// Send queues a frame without blocking. An error means the transport is
	// not writable; the hub then drops the frame and closes the handle.
	Send(frame []byte) error
	// Close starts tearing the transport down. It must not block on the hub:
	// the transport reports the close back through Hub.Unregister.
	Close()
}

type HubConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// MaxConnections <= 0 means unlimited.
	MaxConnections int
}

// Hub owns the Connection Registry and the Room Directory. Every mutation,
// and the enqueueing of every notice it causes, happens under one lock, so
// all members observe membership changes in the same order.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	maxConn int

	mu     sync.Mutex
	closed bool
	conns  map[string]*member
	rooms  map[string]*room

	// Handles whose Send failed while mu was held; closed once it is released.
	pendingClose []Handle
}

type member struct {
	handle Handle
	info   Participant
	room   string // "" when roomless
	broken bool
}

type room struct {
	// Join order; only used to make snapshots deterministic.
	members []string
}

type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

func NewHub(cfg HubConfig) *Hub {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: cfg.Metrics,
		maxConn: cfg.MaxConnections,
		conns:   make(map[string]*member),
		rooms:   make(map[string]*room),
	}
}

func (h *Hub) lock() { h.mu.Lock() }

// unlock refreshes the gauges, releases mu, then closes handles that failed a
// send.
func (h *Hub) unlock() {
	closing := h.pendingClose
	h.pendingClose = nil
	h.metrics.SetConnections(len(h.conns))
	h.metrics.SetRooms(len(h.rooms))
	h.mu.Unlock()

	for _, c := range closing {
		c.Close()
	}
}

// Register adds a connection to the registry and sends it its client-id.
// p.ID is the connection identity.
func (h *Hub) Register(p Participant, handle Handle) error {
	h.lock()
	defer h.unlock()

	switch {
	case h.closed:
		return ErrHubClosed
	case h.conns[p.ID] != nil:
		return ErrDuplicateConnection
	case h.maxConn > 0 && len(h.conns) >= h.maxConn:
		return ErrHubFull
	}

	m := &member{handle: handle, info: p}
	h.conns[p.ID] = m
	h.sendLocked(p.ID, m, clientIDMessage{Type: MessageTypeClientID, ClientID: p.ID})
	h.log.Debug("signaling connection registered", "conn_id", p.ID)
	return nil
}

// Unregister runs the disconnect path: leave the current room, notify the
// remaining members and forget the connection. It must be called exactly
// once per registered connection.
func (h *Hub) Unregister(id string) error {
	h.lock()
	defer h.unlock()

	m := h.conns[id]
	if m == nil {
		return ErrUnknownConnection
	}
	h.leaveLocked(id, m)
	delete(h.conns, id)
	h.log.Debug("signaling connection unregistered", "conn_id", id)
	return nil
}

// Join moves id into roomID. Leaving the previous room (including roomID
// itself on a rejoin) and announcing the join happen in one critical section.
//
// The joiner gets room-joined (every member including itself) and then
// existing-participants (members before it). Each earlier member gets one
// new-participant and is expected to wait for the joiner's offer.
func (h *Hub) Join(id, roomID string, videoEnabled, audioEnabled *bool) error {
	h.lock()
	defer h.unlock()

	if h.closed {
		return ErrHubClosed
	}
	m := h.conns[id]
	if m == nil {
		return ErrUnknownConnection
	}
	if videoEnabled != nil {
		m.info.VideoEnabled = *videoEnabled
	}
	if audioEnabled != nil {
		m.info.AudioEnabled = *audioEnabled
	}

	h.leaveLocked(id, m)

	r := h.rooms[roomID]
	if r == nil {
		r = &room{}
		h.rooms[roomID] = r
	}
	existing := make([]Participant, 0, len(r.members))
	for _, otherID := range r.members {
		existing = append(existing, h.conns[otherID].info)
	}
	r.members = append(r.members, id)
	m.room = roomID

	h.sendLocked(id, m, roomJoinedMessage{
		Type:             MessageTypeRoomJoined,
		RoomID:           roomID,
		ParticipantCount: len(r.members),
		Participants:     slices.Clone(r.members),
	})
	h.sendLocked(id, m, existingParticipantsMessage{
		Type:         MessageTypeExistingParticipants,
		Participants: existing,
	})
	notice := newParticipantMessage{
		Type:          MessageTypeNewParticipant,
		ParticipantID: id,
		Participant:   m.info,
		VideoEnabled:  m.info.VideoEnabled,
		AudioEnabled:  m.info.AudioEnabled,
	}
	for _, other := range existing {
		h.sendLocked(other.ID, h.conns[other.ID], notice)
	}

	h.log.Debug("participant joined room", "conn_id", id, "room_id", roomID, "participants", len(r.members))
	return nil
}

// Leave removes id from its room, if any, and returns the room it left.
func (h *Hub) Leave(id string) (string, error) {
	h.lock()
	defer h.unlock()

	m := h.conns[id]
	if m == nil {
		return "", ErrUnknownConnection
	}
	roomID := m.room
	h.leaveLocked(id, m)
	return roomID, nil
}

func (h *Hub) leaveLocked(id string, m *member) {
	roomID := m.room
	if roomID == "" {
		return
	}
	m.room = ""

	r := h.rooms[roomID]
	if r == nil {
		return
	}
	r.members = slices.DeleteFunc(r.members, func(s string) bool { return s == id })
	if len(r.members) == 0 {
		delete(h.rooms, roomID)
		h.log.Debug("room closed", "room_id", roomID)
		return
	}

	notice := participantLeftMessage{
		Type:                  MessageTypeParticipantLeft,
		ParticipantID:         id,
		RemainingParticipants: slices.Clone(r.members),
	}
	for _, otherID := range r.members {
		h.sendLocked(otherID, h.conns[otherID], notice)
	}
	h.log.Debug("participant left room", "conn_id", id, "room_id", roomID, "remaining", len(r.members))
}

// Relay forwards an offer, answer or ice-candidate payload to targetID with
// fromId set to the sender. A missing or unwritable target drops the message
// and is not an error.
func (h *Hub) Relay(fromID, targetID string, t MessageType, payload json.RawMessage) error {
	if payloadField(t) == "" {
		return ErrMalformedMessage
	}
	frame, err := encodeRelayed(t, fromID, payload)
	if err != nil {
		return err
	}

	h.lock()
	defer h.unlock()

	if h.conns[fromID] == nil {
		return ErrUnknownConnection
	}
	target := h.conns[targetID]
	if target == nil || target.broken {
		h.metrics.IncRelayDropped(metrics.DropReasonTargetMissing)
		h.log.Debug("dropping relay to missing peer", "conn_id", fromID, "target_id", targetID, "type", t)
		return nil
	}
	h.sendFrameLocked(targetID, target, frame)
	return nil
}

// Toggle records the sender's audio or video state and tells the other
// members of its current room.
func (h *Hub) Toggle(id string, t MessageType, value bool) error {
	var notice MessageType
	switch t {
	case MessageTypeToggleAudio:
		notice = MessageTypeParticipantAudioToggle
	case MessageTypeToggleVideo:
		notice = MessageTypeParticipantVideoToggle
	default:
		return ErrMalformedMessage
	}

	h.lock()
	defer h.unlock()

	if h.closed {
		return ErrHubClosed
	}
	m := h.conns[id]
	if m == nil {
		return ErrUnknownConnection
	}
	if t == MessageTypeToggleAudio {
		m.info.AudioEnabled = value
	} else {
		m.info.VideoEnabled = value
	}

	r := h.rooms[m.room]
	if m.room == "" || r == nil {
		h.metrics.IncRelayDropped(metrics.DropReasonNoRoom)
		h.log.Debug("dropping toggle from roomless connection", "conn_id", id, "type", t)
		return nil
	}

	msg := participantToggleMessage{Type: notice, ParticipantID: id, Value: value}
	for _, otherID := range r.members {
		if otherID != id {
			h.sendLocked(otherID, h.conns[otherID], msg)
		}
	}
	return nil
}

// Restart tells every connection to abandon its room, empties the directory
// and closes every handle. The hub refuses new registrations, joins and
// toggles afterwards; connections still unregister normally as their
// transports close.
func (h *Hub) Restart(cause string) {
	h.lock()
	defer h.unlock()

	h.closed = true
	msg := errorRestartServerMessage{Type: MessageTypeErrorRestartServer, Cause: cause}
	for id, m := range h.conns {
		h.sendLocked(id, m, msg)
		m.room = ""
		if !m.broken {
			m.broken = true
			h.pendingClose = append(h.pendingClose, m.handle)
		}
	}
	clear(h.rooms)
	h.log.Info("signaling hub restarting", "connections", len(h.conns), "cause", cause)
}

// Members returns the current members of roomID in join order, or nil if the
// room does not exist.
func (h *Hub) Members(roomID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.rooms[roomID]; r != nil {
		return slices.Clone(r.members)
	}
	return nil
}

// RoomOf reports the room connection id is in ("" when roomless) and
// whether id is registered at all.
func (h *Hub) RoomOf(id string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[id]
	if m == nil {
		return "", false
	}
	return m.room, true
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Connections: len(h.conns), Rooms: len(h.rooms)}
}

func (h *Hub) sendLocked(id string, m *member, v any) {
	frame, err := encodeFrame(v)
	if err != nil {
		h.log.Error("failed to encode signaling message", "conn_id", id, "err", err)
		return
	}
	h.sendFrameLocked(id, m, frame)
}

func (h *Hub) sendFrameLocked(id string, m *member, frame []byte) {
	if m == nil || m.broken {
		return
	}
	if err := m.handle.Send(frame); err != nil {
		// Slow consumer: drop the frame and disconnect.
		m.broken = true
		h.pendingClose = append(h.pendingClose, m.handle)
		h.metrics.IncRelayDropped(metrics.DropReasonQueueFull)
		h.log.Warn("signaling send failed, closing connection", "conn_id", id, "err", err)
	}
}
