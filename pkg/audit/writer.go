package audit

import "sync"

// Writer defines the interface for audit log writers.
//
// Implementations MUST:
//   - Return an error if the write fails (audit fails = operation fails)
//   - Flush to stable storage before returning from Write
//   - Set the hash chain (HashPrev, Hash)
type Writer interface {
	Write(event *Event) error
	Close() error

	// LastHash returns the hash of the last written event, or GenesisHash.
	LastHash() string
}

// NopWriter discards all events. Used when audit logging is disabled.
type NopWriter struct{}

var _ Writer = (*NopWriter)(nil)

func (NopWriter) Write(*Event) error { return nil }
func (NopWriter) Close() error       { return nil }
func (NopWriter) LastHash() string   { return GenesisHash }

// MemoryWriter keeps events in memory, chained like FileWriter.
type MemoryWriter struct {
	mu       sync.Mutex
	events   []*Event
	lastHash string
}

var _ Writer = (*MemoryWriter)(nil)

// NewMemoryWriter creates an empty in-memory writer.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{lastHash: GenesisHash}
}

func (m *MemoryWriter) Write(event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash, err := chain(event, m.lastHash)
	if err != nil {
		return err
	}
	m.events = append(m.events, event)
	m.lastHash = hash
	return nil
}

func (m *MemoryWriter) Close() error { return nil }

func (m *MemoryWriter) LastHash() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHash
}

// Events returns a copy of the events written so far.
func (m *MemoryWriter) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

// Types returns the event types written so far, in order.
func (m *MemoryWriter) Types() []EventType {
	events := m.Events()
	types := make([]EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}
