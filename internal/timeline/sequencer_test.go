package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelopeIDs(envs []Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, env := range envs {
		if env.Event == nil {
			out = append(out, "<hb>")
			continue
		}
		out = append(out, env.Event.ID)
	}
	return out
}

func TestSortEnvelopesByStreamID(t *testing.T) {
	in := []Envelope{
		withStreamID(semEnvelope("llm.delta", "second", nil), "1700-2"),
		withStreamID(semEnvelope("llm.delta", "first", nil), "1700-1"),
	}
	out := SortEnvelopes(in)
	assert.Equal(t, []string{"first", "second"}, envelopeIDs(out))
	assert.Equal(t, []string{"second", "first"}, envelopeIDs(in), "input must not be mutated")
}

func TestSortEnvelopesStreamIDIsLiteral(t *testing.T) {
	in := []Envelope{
		withStreamID(semEnvelope("log", "ten", nil), "1700-10"),
		withStreamID(semEnvelope("log", "nine", nil), "1700-9"),
	}
	assert.Equal(t, []string{"ten", "nine"}, envelopeIDs(SortEnvelopes(in)))
}

func TestSortEnvelopesBySeqNumerically(t *testing.T) {
	in := []Envelope{
		withSeq(semEnvelope("log", "c", nil), "101"),
		withSeq(semEnvelope("log", "b", nil), "100"),
		withSeq(semEnvelope("log", "a", nil), "99"),
	}
	assert.Equal(t, []string{"a", "b", "c"}, envelopeIDs(SortEnvelopes(in)))
}

func TestSortEnvelopesKeepsUnkeyedArrivalOrder(t *testing.T) {
	in := []Envelope{
		semEnvelope("status", "x", nil),
		heartbeat(),
		semEnvelope("status", "y", nil),
	}
	assert.Equal(t, []string{"x", "<hb>", "y"}, envelopeIDs(SortEnvelopes(in)))
}

func TestSortEnvelopesMixedKeys(t *testing.T) {
	in := []Envelope{
		withSeq(semEnvelope("log", "seq-1", nil), "1"),
		semEnvelope("status", "ping", nil),
		withStreamID(semEnvelope("log", "stream-2", nil), "1700-2"),
		withStreamID(semEnvelope("log", "stream-1", nil), "1700-1"),
	}
	out := SortEnvelopes(in)
	require.Len(t, out, 4)
	// The unkeyed ping keeps its slot; keyed envelopes fill the others with
	// stream ids ahead of seq-only envelopes.
	assert.Equal(t, []string{"stream-1", "ping", "stream-2", "seq-1"}, envelopeIDs(out))
}

func TestSortEnvelopesStableForEqualKeys(t *testing.T) {
	in := []Envelope{
		withSeq(semEnvelope("log", "first", nil), "5"),
		withSeq(semEnvelope("log", "second", nil), "5.0"),
	}
	assert.Equal(t, []string{"first", "second"}, envelopeIDs(SortEnvelopes(in)))
	assert.Empty(t, SortEnvelopes(nil))
}
