// Package wire implements the mesh wire format: one JSON object per line,
// UTF-8, newline-terminated, over a plain stream socket.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxLineSize bounds a single encoded message on the read path. Lines past
// this limit indicate a misbehaving peer and are treated as decode errors.
const MaxLineSize = 64 << 10

// Message is the single record type exchanged between nodes.
type Message struct {
	Agent     string  `json:"agent"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

// New builds a message authored by agent, stamped with the current time.
func New(agent, text string) Message {
	return Message{
		Agent:     agent,
		Message:   text,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
}

// Encode serializes m as one newline-terminated JSON line.
func Encode(m Message) ([]byte, error) {
	if strings.TrimSpace(m.Agent) == "" {
		return nil, fmt.Errorf("missing agent")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses one line (trailing newline optional) into a Message.
func Decode(line []byte) (Message, error) {
	if len(line) > MaxLineSize {
		return Message{}, fmt.Errorf("line too large: %d bytes", len(line))
	}
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, err
	}
	if m.Agent == "" {
		return Message{}, fmt.Errorf("missing agent field")
	}
	return m, nil
}
