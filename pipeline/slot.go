package pipeline

import "time"

// Slot is the pooled buffer carrying one packet through the pipeline
// (spec.md §3 PipelineSlot). Owned exclusively by whichever stage
// currently holds it; returned to the pool on terminal disposition.
type Slot struct {
	Packet     []byte
	SourceAddr string

	Arrival  time.Time
	deadline time.Time

	// Terminal and NextHop are filled in by the decode stage from the
	// sphinxcore.Hop it produced; the forward stage reads them once the
	// batcher releases the slot.
	Terminal bool
	NextHop  [33]byte

	BatchID uint64
	Stage   string
}

// Deadline satisfies batch.Deadliner.
func (s *Slot) Deadline() time.Time {
	return s.deadline
}

// reset clears a slot for reuse from the pool, keeping its backing
// Packet slice's capacity.
func (s *Slot) reset() {
	s.Packet = s.Packet[:0]
	s.SourceAddr = ""
	s.Arrival = time.Time{}
	s.deadline = time.Time{}
	s.Terminal = false
	s.NextHop = [33]byte{}
	s.BatchID = 0
	s.Stage = ""
}
