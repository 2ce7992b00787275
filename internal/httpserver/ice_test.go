package httpserver

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestStampTURNCredentials(t *testing.T) {
	in := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com"}},
		{URLs: []string{" TURN:turn.example.com:3478"}, Username: "old", Credential: "old"},
		{URLs: []string{"stun:a.example.com", "turns:b.example.com:5349"}},
	}

	out := stampTURNCredentials(in, "u", "c")
	if len(out) != 3 {
		t.Fatalf("len=%d", len(out))
	}
	if out[0].Username != "" {
		t.Fatalf("stun entry stamped: %+v", out[0])
	}
	for _, i := range []int{1, 2} {
		if out[i].Username != "u" || out[i].Credential != "c" {
			t.Fatalf("entry %d not stamped: %+v", i, out[i])
		}
	}
	if in[1].Username != "old" {
		t.Fatalf("input mutated: %+v", in[1])
	}
}

func TestStampTURNCredentials_Empty(t *testing.T) {
	out := stampTURNCredentials(nil, "u", "c")
	if out == nil || len(out) != 0 {
		t.Fatalf("out=%#v, want empty non-nil", out)
	}
}
