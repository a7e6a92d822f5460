// Package events implements the pluggable metrics/event sink of
// spec.md §6/§9: "the collaborator sinks (metrics, events) are
// abstracted by a capability set {publish_counter, publish_histogram,
// emit_event}; implementations include a no-op sink (default), an
// in-memory recorder (tests), and an external exporter adapter
// (production)." The four named event types (PacketForwarded,
// PacketDropped, LotteryDraw, ReputationUpdate) come directly from
// spec.md §6's "Control events" paragraph.
//
// The teacher has no single collaborator-sink abstraction this
// maps onto (its metrics and its peer-notification systems are
// separate, channel-specific subsystems), so the capability-set shape
// is built directly from spec.md §9; the production adapter wires the
// teacher's already-required prometheus/client_golang dependency.
package events

import "time"

// Kind names the four control events spec.md §6 defines.
type Kind string

const (
	KindPacketForwarded  Kind = "PacketForwarded"
	KindPacketDropped    Kind = "PacketDropped"
	KindLotteryDraw      Kind = "LotteryDraw"
	KindReputationUpdate Kind = "ReputationUpdate"
)

// Event is one control-plane event emitted to a Sink.
type Event struct {
	Kind      Kind
	Timestamp time.Time

	// Reason is populated for KindPacketDropped.
	Reason string

	// ProofID is populated for KindLotteryDraw.
	ProofID string

	// Address and Delta are populated for KindReputationUpdate.
	Address string
	Delta   float64
}

// Sink is the capability set collaborators subscribe through. A
// missing sink means events are discarded (spec.md §6): callers should
// default to Noop rather than nil-checking everywhere.
type Sink interface {
	PublishCounter(name string, delta float64, labels map[string]string)
	PublishHistogram(name string, value float64, labels map[string]string)
	EmitEvent(ev Event)
}

// noopSink discards everything. The default sink (spec.md §9).
type noopSink struct{}

func (noopSink) PublishCounter(string, float64, map[string]string)   {}
func (noopSink) PublishHistogram(string, float64, map[string]string) {}
func (noopSink) EmitEvent(Event)                                     {}

// Noop is the package-wide no-op sink instance.
var Noop Sink = noopSink{}
