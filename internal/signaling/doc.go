// Package signaling is the room-based WebRTC signaling relay.
//
// Browsers connect over a WebSocket, are assigned a connection id, join a
// named room and then exchange offers, answers and ICE candidates addressed
// to individual peers. The relay never inspects those payloads; it only keeps
// track of who is in which room and tells members when others come and go.
package signaling
