package signaling

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func TestParseInbound_JoinRoom(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"type":"join-room","roomId":"r1","videoEnabled":false}`))
	require.NoError(t, err)

	join, ok := msg.(*JoinRoom)
	require.True(t, ok, "%T", msg)
	require.Equal(t, "r1", join.RoomID)
	require.NotNil(t, join.VideoEnabled)
	require.False(t, *join.VideoEnabled)
	require.Nil(t, join.AudioEnabled)
}

func TestParseInbound_RelayKeepsRawPayload(t *testing.T) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\ns=-\r\n"}
	raw, err := json.Marshal(offer)
	require.NoError(t, err)

	frame := `{"type":"offer","targetId":"peer","offer":` + string(raw) + `}`
	msg, err := ParseInbound([]byte(frame))
	require.NoError(t, err)

	relay, ok := msg.(*RelayMessage)
	require.True(t, ok, "%T", msg)
	require.Equal(t, MessageTypeOffer, relay.MessageType())
	require.Equal(t, "peer", relay.TargetID)
	require.Equal(t, string(raw), string(relay.Payload))

	var got webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(relay.Payload, &got))
	require.Equal(t, offer, got)
}

func TestParseInbound_CandidatePayloadField(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"type":"ice-candidate","targetId":"p","candidate":{"candidate":"candidate:1 1 udp 1 192.0.2.1 1 typ host"}}`))
	require.NoError(t, err)
	require.Equal(t, `{"candidate":"candidate:1 1 udp 1 192.0.2.1 1 typ host"}`, string(msg.(*RelayMessage).Payload))

	// A null candidate (end of candidates) is still relayed.
	msg, err = ParseInbound([]byte(`{"type":"ice-candidate","targetId":"p","candidate":null}`))
	require.NoError(t, err)
	require.Equal(t, "null", string(msg.(*RelayMessage).Payload))
}

func TestParseInbound_Toggle(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"type":"toggle-video","roomId":"r","value":true}`))
	require.NoError(t, err)
	require.Equal(t, &Toggle{Type: MessageTypeToggleVideo, RoomID: "r", Value: true}, msg)
}

func TestParseInbound_Unrecognized(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"type":"chat","text":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, &Unrecognized{Type: "chat"}, msg)
}

func TestParseInbound_Malformed(t *testing.T) {
	for _, in := range []string{
		``,
		`not json`,
		`{"type":"join-room"`,
		`[]`,
		`"offer"`,
		`{}`,
		`{"type":7}`,
		`{"type":""}`,
		`{"type":"join-room"}`,
		`{"type":"join-room","roomId":""}`,
		`{"type":"join-room","roomId":"r","audioEnabled":"yes"}`,
		`{"type":"offer","offer":{}}`,
		`{"type":"answer","targetId":"p"}`,
		`{"type":"ice-candidate","targetId":"p","offer":{}}`,
		`{"type":"toggle-audio","roomId":"r"}`,
		`{"type":"toggle-audio","value":1}`,
		"{\"type\":\"offer\",\"targetId\":\"p\",\"offer\":{\"sdp\":\"v=0 \xff\xfe\"}}",
		"{\"type\":\"join-room\",\"roomId\":\"r\xc3\"}",
	} {
		_, err := ParseInbound([]byte(in))
		require.ErrorIs(t, err, ErrMalformedMessage, in)
	}
}

func TestEncodeFrame_EmptyListsAreArrays(t *testing.T) {
	b, err := encodeFrame(existingParticipantsMessage{
		Type:         MessageTypeExistingParticipants,
		Participants: []Participant{},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"existing-participants","participants":[]}`, string(b))
}
