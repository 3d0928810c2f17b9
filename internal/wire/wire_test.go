package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := Message{Agent: "Anna", Message: "hello", Timestamp: 1700000000.25}
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasSuffix(data, []byte("\n")) {
		t.Fatalf("encoded message not newline-terminated: %q", data)
	}
	if bytes.Count(data, []byte("\n")) != 1 {
		t.Fatalf("encoded message contains interior newline: %q", data)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != m {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
	}
}

func TestEncodeRejectsMissingAgent(t *testing.T) {
	if _, err := Encode(Message{Message: "hi"}); err == nil {
		t.Fatal("expected error for missing agent")
	}
}

func TestDecodeMalformedLine(t *testing.T) {
	for _, line := range []string{"", "not json", `{"agent":`, `{"message":"no author"}`} {
		if _, err := Decode([]byte(line)); err == nil {
			t.Fatalf("expected decode error for %q", line)
		}
	}
}

func TestDecodeOversizedLine(t *testing.T) {
	line := `{"agent":"a","message":"` + strings.Repeat("x", MaxLineSize) + `"}`
	if _, err := Decode([]byte(line)); err == nil {
		t.Fatal("expected error for oversized line")
	}
}

func TestNewStampsCurrentTime(t *testing.T) {
	m := New("Miku", "hi")
	if m.Agent != "Miku" || m.Message != "hi" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.Timestamp <= 0 {
		t.Fatalf("timestamp not set: %f", m.Timestamp)
	}
}
