package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

type MessageType string

const (
	// Client -> server.
	MessageTypeJoinRoom    MessageType = "join-room"
	MessageTypeToggleAudio MessageType = "toggle-audio"
	MessageTypeToggleVideo MessageType = "toggle-video"

	// Relayed in both directions.
	MessageTypeOffer        MessageType = "offer"
	MessageTypeAnswer       MessageType = "answer"
	MessageTypeICECandidate MessageType = "ice-candidate"

	// Server -> client.
	MessageTypeClientID               MessageType = "client-id"
	MessageTypeRoomJoined             MessageType = "room-joined"
	MessageTypeExistingParticipants   MessageType = "existing-participants"
	MessageTypeNewParticipant         MessageType = "new-participant"
	MessageTypeParticipantAudioToggle MessageType = "participant-audio-toggle"
	MessageTypeParticipantVideoToggle MessageType = "participant-video-toggle"
	MessageTypeParticipantLeft        MessageType = "participant-left"
	MessageTypeErrorRestartServer     MessageType = "error-restart-server"
)

// payloadField is the key that carries the opaque payload of a relayed message.
func payloadField(t MessageType) string {
	switch t {
	case MessageTypeOffer:
		return "offer"
	case MessageTypeAnswer:
		return "answer"
	case MessageTypeICECandidate:
		return "candidate"
	default:
		return ""
	}
}

// Inbound is one parsed client frame: *JoinRoom, *RelayMessage, *Toggle or
// *Unrecognized.
type Inbound interface {
	MessageType() MessageType
}

type JoinRoom struct {
	RoomID string
	// Nil keeps the flags the connection already has.
	VideoEnabled *bool
	AudioEnabled *bool
}

// RelayMessage is an offer, answer or ice-candidate addressed to one peer.
// Payload is the raw JSON value and is forwarded without being decoded.
type RelayMessage struct {
	Type     MessageType
	TargetID string
	Payload  json.RawMessage
}

type Toggle struct {
	Type MessageType
	// RoomID is what the client claims; the hub uses the sender's real room.
	RoomID string
	Value  bool
}

// Unrecognized is a well-formed envelope whose type this relay does not handle.
type Unrecognized struct {
	Type string
}

func (*JoinRoom) MessageType() MessageType { return MessageTypeJoinRoom }
func (m *RelayMessage) MessageType() MessageType { return m.Type }
func (m *Toggle) MessageType() MessageType { return m.Type }
func (m *Unrecognized) MessageType() MessageType { return MessageType(m.Type) }

// ParseInbound decodes a client frame. Frames that are not a JSON object with
// a string "type", or that miss a field their type requires, fail with
// ErrMalformedMessage. Unknown types are not an error.
func ParseInbound(data []byte) (Inbound, error) {
	// Relayed payloads are copied into text frames verbatim; a browser closes
	// any text frame that is not valid UTF-8.
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrMalformedMessage)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedMessage)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected object", ErrMalformedMessage)
	}
	typ := root.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	switch t := MessageType(typ.Str); t {
	case MessageTypeJoinRoom:
		roomID, err := requiredString(root, "roomId")
		if err != nil {
			return nil, err
		}
		msg := &JoinRoom{RoomID: roomID}
		if msg.VideoEnabled, err = optionalBool(root, "videoEnabled"); err != nil {
			return nil, err
		}
		if msg.AudioEnabled, err = optionalBool(root, "audioEnabled"); err != nil {
			return nil, err
		}
		return msg, nil

	case MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate:
		targetID, err := requiredString(root, "targetId")
		if err != nil {
			return nil, err
		}
		field := payloadField(t)
		payload := root.Get(field)
		if !payload.Exists() {
			return nil, fmt.Errorf("%w: %s missing %s", ErrMalformedMessage, t, field)
		}
		return &RelayMessage{Type: t, TargetID: targetID, Payload: json.RawMessage(payload.Raw)}, nil

	case MessageTypeToggleAudio, MessageTypeToggleVideo:
		value, err := optionalBool(root, "value")
		if err != nil {
			return nil, err
		}
		if value == nil {
			return nil, fmt.Errorf("%w: %s missing value", ErrMalformedMessage, t)
		}
		return &Toggle{Type: t, RoomID: root.Get("roomId").String(), Value: *value}, nil

	default:
		return &Unrecognized{Type: typ.Str}, nil
	}
}

func requiredString(root gjson.Result, key string) (string, error) {
	v := root.Get(key)
	if v.Type != gjson.String || v.Str == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrMalformedMessage, key)
	}
	return v.Str, nil
}

func optionalBool(root gjson.Result, key string) (*bool, error) {
	v := root.Get(key)
	switch v.Type {
	case gjson.Null:
		return nil, nil
	case gjson.True, gjson.False:
		b := v.Bool()
		return &b, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a boolean", ErrMalformedMessage, key)
	}
}

// Participant is the public view of a connection that other room members see.
type Participant struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	VideoEnabled bool   `json:"videoEnabled"`
	AudioEnabled bool   `json:"audioEnabled"`
}

type clientIDMessage struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"clientId"`
}

type roomJoinedMessage struct {
	Type             MessageType `json:"type"`
	RoomID           string      `json:"roomId"`
	ParticipantCount int         `json:"participantCount"`
	Participants     []string    `json:"participants"`
}

type existingParticipantsMessage struct {
	Type         MessageType   `json:"type"`
	Participants []Participant `json:"participants"`
}

type newParticipantMessage struct {
	Type          MessageType `json:"type"`
	ParticipantID string      `json:"participantId"`
	Participant   Participant `json:"participant"`
	VideoEnabled  bool        `json:"videoEnabled"`
	AudioEnabled  bool        `json:"audioEnabled"`
}

type participantToggleMessage struct {
	Type          MessageType `json:"type"`
	ParticipantID string      `json:"participantId"`
	Value         bool        `json:"value"`
}

type participantLeftMessage struct {
	Type                  MessageType `json:"type"`
	ParticipantID         string      `json:"participantId"`
	RemainingParticipants []string    `json:"remainingParticipants"`
}

type errorRestartServerMessage struct {
	Type  MessageType `json:"type"`
	Cause string      `json:"cause"`
}

// encodeRelayed builds {"type":..., "<payload field>":<payload>, "fromId":...}
// keeping the payload bytes as received.
func encodeRelayed(t MessageType, fromID string, payload json.RawMessage) ([]byte, error) {
	typ, err := encodeFrame(t)
	if err != nil {
		return nil, err
	}
	from, err := encodeFrame(fromID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(payload) + len(from) + 48)
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	buf.WriteString(`,"` + payloadField(t) + `":`)
	buf.Write(payload)
	buf.WriteString(`,"fromId":`)
	buf.Write(from)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encodeFrame is json.Marshal without HTML escaping, so SDP text containing
// '<' or '&' reaches the browser unchanged.
func encodeFrame(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
