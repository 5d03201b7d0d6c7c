package timeline

// Dispositions reported to Observer.EnvelopeRouted.
const (
	DispositionBuffered  = "buffered"
	DispositionForwarded = "forwarded"
	DispositionDropped   = "dropped"
)

// Observer receives engine telemetry. Calls are synchronous and must not
// block.
type Observer interface {
	EnvelopeRouted(disposition string)
	BufferedDelta(delta int)
	HydrationFlushed(size int)
	Projected(kind EntityKind)
	Degraded(reason string)
}

type NopObserver struct{}

func (NopObserver) EnvelopeRouted(string) {}
func (NopObserver) BufferedDelta(int)     {}
func (NopObserver) HydrationFlushed(int)  {}
func (NopObserver) Projected(EntityKind)  {}
func (NopObserver) Degraded(string)       {}

// RawSink receives every envelope the engine sees, before any buffering.
type RawSink interface {
	Publish(conversationID string, env Envelope)
}

type nopRawSink struct{}

func (nopRawSink) Publish(string, Envelope) {}
