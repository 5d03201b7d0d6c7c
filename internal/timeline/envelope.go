package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SemEvent is a semantic event emitted by the agent backend.
type SemEvent struct {
	Type     string         `json:"type"`
	ID       string         `json:"id"`
	StreamID string         `json:"stream_id,omitempty"`
	Seq      SeqToken       `json:"seq,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Envelope is the wire unit. A nil Event is a heartbeat.
type Envelope struct {
	Sem   bool      `json:"sem"`
	Event *SemEvent `json:"event"`
}

// Heartbeat reports whether the envelope carries no event.
func (e Envelope) Heartbeat() bool {
	return e.Event == nil
}

// SeqToken is the fallback ordering token. The wire may carry it as a JSON
// number or a string; it is kept as text.
type SeqToken string

func (s *SeqToken) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*s = SeqToken(strings.TrimSpace(raw))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("seq: %w", err)
	}
	*s = SeqToken(num.String())
	return nil
}

// Numeric parses the token. ok is false when the token is absent or not a number.
func (s SeqToken) Numeric() (float64, bool) {
	raw := strings.TrimSpace(string(s))
	if raw == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func (e *SemEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string          `json:"type"`
		ID       json.RawMessage `json:"id"`
		StreamID json.RawMessage `json:"stream_id"`
		Seq      SeqToken        `json:"seq"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Type = strings.TrimSpace(raw.Type)
	e.ID = looseString(raw.ID)
	e.StreamID = looseString(raw.StreamID)
	e.Seq = raw.Seq
	e.Data = nil
	trimmed := bytes.TrimSpace(raw.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var payload any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return err
	}
	if obj, ok := payload.(map[string]any); ok {
		e.Data = obj
		return nil
	}
	e.Data = map[string]any{"value": payload}
	return nil
}

// looseString accepts ids that arrive as strings or numbers.
func looseString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}

// DecodeEnvelope parses one wire envelope. Envelopes without sem=true are
// rejected with ErrInvalidInput.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !env.Sem {
		return Envelope{}, fmt.Errorf("%w: envelope is not semantic", ErrInvalidInput)
	}
	return env, nil
}

// DecodeEnvelopes accepts either a single envelope object or an array.
func DecodeEnvelopes(data []byte) ([]Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrInvalidInput
	}
	if trimmed[0] != '[' {
		env, err := DecodeEnvelope(trimmed)
		if err != nil {
			return nil, err
		}
		return []Envelope{env}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	out := make([]Envelope, 0, len(items))
	for i, item := range items {
		env, err := DecodeEnvelope(item)
		if err != nil {
			return nil, fmt.Errorf("envelope %d: %w", i, err)
		}
		out = append(out, env)
	}
	return out, nil
}
