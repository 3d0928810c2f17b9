// Package buffer is a bounded thought buffer: the consumer side of the mesh,
// holding recent context entries for the surrounding agent.
package buffer

import (
	"sync"
	"time"
)

// Entry is one piece of processed text with its source tag.
type Entry struct {
	Text   string
	Source string
	At     time.Time
}

// Buffer keeps the most recent entries up to a fixed capacity, oldest
// evicted first. Safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
	onAdd   func(Entry)
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 64
	}
	return &Buffer{cap: capacity}
}

// OnAdd registers a callback invoked for every added entry, outside the
// buffer lock. Used by the CLI to print inbound messages as they arrive.
func (b *Buffer) OnAdd(fn func(Entry)) {
	b.mu.Lock()
	b.onAdd = fn
	b.mu.Unlock()
}

// AddContext implements the mesh consumer interface.
func (b *Buffer) AddContext(text, source string) {
	e := Entry{Text: text, Source: source, At: time.Now()}
	b.mu.Lock()
	b.entries = append(b.entries, e)
	if len(b.entries) > b.cap {
		b.entries = b.entries[len(b.entries)-b.cap:]
	}
	fn := b.onAdd
	b.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

// Snapshot returns the buffered entries, oldest first.
func (b *Buffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len reports the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
