package events

import "sync"

// MemorySink records everything published to it, for use in tests that
// assert on emitted events and counters (spec.md §9: "an in-memory
// recorder (tests)").
type MemorySink struct {
	mu sync.Mutex

	counters   map[string]float64
	histograms map[string][]float64
	eventsLog  []Event
}

// NewMemorySink creates an empty recorder.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		counters:   make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (m *MemorySink) PublishCounter(name string, delta float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
}

func (m *MemorySink) PublishHistogram(name string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = append(m.histograms[name], value)
}

func (m *MemorySink) EmitEvent(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsLog = append(m.eventsLog, ev)
}

// Counter returns the current value of a named counter.
func (m *MemorySink) Counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Histogram returns a copy of the recorded samples for name.
func (m *MemorySink) Histogram(name string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.histograms[name]...)
}

// Events returns a copy of every event recorded so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.eventsLog...)
}
