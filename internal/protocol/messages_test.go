package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessagePing(t *testing.T) {
	raw := []byte(`{"type":"ping","timestamp":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	ping, ok := msg.(Ping)
	if !ok {
		t.Fatalf("message type = %T, want Ping", msg)
	}
	if ping.Timestamp != 123 {
		t.Fatalf("Timestamp = %d, want 123", ping.Timestamp)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageReconnect(t *testing.T) {
	raw := []byte(`{"type":"reconnect","sessionId":"s1"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	rc, ok := msg.(Reconnect)
	if !ok {
		t.Fatalf("message type = %T, want Reconnect", msg)
	}
	if rc.SessionID != "s1" {
		t.Fatalf("SessionID = %q, want %q", rc.SessionID, "s1")
	}
}

func TestParseClientMessageRejectsReconnectWithoutSessionID(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"reconnect"}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageAudio(t *testing.T) {
	raw := []byte(`{"type":"audio","data":"AQID","attachments":[{"media_type":"image/png","data_base64":"AA=="}]}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	a, ok := msg.(Audio)
	if !ok {
		t.Fatalf("message type = %T, want Audio", msg)
	}
	if a.Data != "AQID" || len(a.Attachments) != 1 {
		t.Fatalf("unexpected audio message: %+v", a)
	}
}

func TestParseClientMessageRejectsAudioWithoutData(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"audio","data":""}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageAttachments(t *testing.T) {
	raw := []byte(`{"type":"attachments","attachments":[{"media_type":"image/png","data_base64":"AA=="}]}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	a, ok := msg.(Attachments)
	if !ok {
		t.Fatalf("message type = %T, want Attachments", msg)
	}
	if len(a.Attachments) != 1 {
		t.Fatalf("unexpected attachments message: %+v", a)
	}
}

func TestParseClientMessageOfferAndSignalCarrySDPRaw(t *testing.T) {
	raw := []byte(`{"type":"offer","signal":{"sdp":"v=0"}}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	offer, ok := msg.(Offer)
	if !ok {
		t.Fatalf("message type = %T, want Offer", msg)
	}
	if len(offer.Signal) == 0 {
		t.Fatalf("expected a non-empty raw signal payload")
	}
}

func TestMessageTypeOfServerMessages(t *testing.T) {
	cases := []struct {
		v    any
		want MessageType
	}{
		{Ready{Type: TypeReady}, TypeReady},
		{Pong{Type: TypePong}, TypePong},
		{Transcript{Type: TypeTranscript}, TypeTranscript},
		{ErrorMessage{Type: TypeError}, TypeError},
	}
	for _, tc := range cases {
		got, ok := MessageTypeOf(tc.v)
		if !ok || got != tc.want {
			t.Fatalf("MessageTypeOf(%+v) = (%v, %v), want (%v, true)", tc.v, got, ok, tc.want)
		}
	}
	if _, ok := MessageTypeOf("not a message"); ok {
		t.Fatalf("expected ok=false for an unrecognized value")
	}
}

func BenchmarkParseClientMessageAudio(b *testing.B) {
	raw := []byte(`{"type":"audio","data":"AQIDBAUGBwgJCgsMDQ4P"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(Audio); !ok {
			b.Fatalf("message type = %T, want Audio", msg)
		}
	}
}
