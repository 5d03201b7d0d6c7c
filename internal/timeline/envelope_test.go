package timeline

import (
	"errors"
	"testing"
)

func semEnvelope(eventType, id string, data map[string]any) Envelope {
	return Envelope{Sem: true, Event: &SemEvent{Type: eventType, ID: id, Data: data}}
}

func withStreamID(env Envelope, streamID string) Envelope {
	event := *env.Event
	event.StreamID = streamID
	env.Event = &event
	return env
}

func withSeq(env Envelope, seq string) Envelope {
	event := *env.Event
	event.Seq = SeqToken(seq)
	env.Event = &event
	return env
}

func heartbeat() Envelope {
	return Envelope{Sem: true}
}

func TestDecodeEnvelopeAcceptsNumericAndStringTokens(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"sem":true,"event":{"type":"llm.delta","id":42,"seq":101,"data":{"cumulative":"hi"}}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Event.ID != "42" {
		t.Fatalf("expected id 42, got %q", env.Event.ID)
	}
	if seq, ok := env.Event.Seq.Numeric(); !ok || seq != 101 {
		t.Fatalf("expected numeric seq 101, got %v (%v)", seq, ok)
	}

	env, err = DecodeEnvelope([]byte(`{"sem":true,"event":{"type":"tool.start","id":"t1","stream_id":"1700-2","seq":"7"}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Event.StreamID != "1700-2" || env.Event.Seq != "7" {
		t.Fatalf("unexpected ordering tokens: %+v", env.Event)
	}
}

func TestDecodeEnvelopeHeartbeatAndScalarData(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"sem":true,"event":null}`))
	if err != nil {
		t.Fatalf("decode heartbeat failed: %v", err)
	}
	if !env.Heartbeat() {
		t.Fatalf("expected heartbeat")
	}

	env, err = DecodeEnvelope([]byte(`{"sem":true,"event":{"type":"log","id":"l1","data":"plain text"}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Event.Data["value"] != "plain text" {
		t.Fatalf("expected wrapped scalar data, got %+v", env.Event.Data)
	}
}

func TestDecodeEnvelopeRejectsNonSemantic(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"sem":false,"event":{"type":"llm.delta"}}`))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	_, err = DecodeEnvelope([]byte(`{not json`))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad json, got %v", err)
	}
}

func TestDecodeEnvelopesSingleAndArray(t *testing.T) {
	single, err := DecodeEnvelopes([]byte(`{"sem":true,"event":null}`))
	if err != nil || len(single) != 1 {
		t.Fatalf("expected one envelope, got %d (%v)", len(single), err)
	}
	many, err := DecodeEnvelopes([]byte(`[{"sem":true,"event":null},{"sem":true,"event":{"type":"log","id":"a"}}]`))
	if err != nil || len(many) != 2 {
		t.Fatalf("expected two envelopes, got %d (%v)", len(many), err)
	}
	if _, err := DecodeEnvelopes([]byte(`[{"sem":true,"event":null},{"sem":false}]`)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad array member, got %v", err)
	}
	if _, err := DecodeEnvelopes([]byte("  ")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty body, got %v", err)
	}
}
