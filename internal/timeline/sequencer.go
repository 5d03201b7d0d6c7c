package timeline

import "sort"

const (
	orderByStreamID = iota
	orderBySeq
	orderNone
)

type orderKey struct {
	class    int
	streamID string
	seq      float64
}

func envelopeOrderKey(env Envelope) orderKey {
	if env.Event == nil {
		return orderKey{class: orderNone}
	}
	if env.Event.StreamID != "" {
		return orderKey{class: orderByStreamID, streamID: env.Event.StreamID}
	}
	if seq, ok := env.Event.Seq.Numeric(); ok {
		return orderKey{class: orderBySeq, seq: seq}
	}
	return orderKey{class: orderNone}
}

func (k orderKey) less(other orderKey) bool {
	if k.class != other.class {
		return k.class < other.class
	}
	switch k.class {
	case orderByStreamID:
		return k.streamID < other.streamID
	case orderBySeq:
		return k.seq < other.seq
	default:
		return false
	}
}

// SortEnvelopes returns a new slice in delivery order. Envelopes with a
// stream_id compare by the literal string, envelopes with only a seq compare
// numerically, and stream_id envelopes sort ahead of seq-only ones. Envelopes
// without either key keep their exact arrival position; keyed envelopes are
// stably reordered among the remaining positions.
func SortEnvelopes(envelopes []Envelope) []Envelope {
	out := make([]Envelope, len(envelopes))
	copy(out, envelopes)

	slots := make([]int, 0, len(out))
	keyed := make([]Envelope, 0, len(out))
	keys := make([]orderKey, 0, len(out))
	for i, env := range out {
		key := envelopeOrderKey(env)
		if key.class == orderNone {
			continue
		}
		slots = append(slots, i)
		keyed = append(keyed, env)
		keys = append(keys, key)
	}
	if len(keyed) < 2 {
		return out
	}
	idx := make([]int, len(keyed))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return keys[idx[a]].less(keys[idx[b]])
	})
	for i, slot := range slots {
		out[slot] = keyed[idx[i]]
	}
	return out
}
