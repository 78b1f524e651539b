package memcell

import (
	"sync"

	"evermemcore/internal/memory/model"
)

// Buffer is a per-group pending-message accumulator consulted by the
// Extractor's should_wait branch. spec.md §4.2 describes the decision to
// wait, not where the buffered messages live between calls; this fills
// that gap (SPEC_FULL §9, grounded on the demo chat session's per-group
// conversation_history accumulation pattern, generalized from display
// history to raw pending messages awaiting a boundary decision).
type Buffer struct {
	mu      sync.Mutex
	pending map[string][]model.RawMessage
}

// NewBuffer constructs an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{pending: make(map[string][]model.RawMessage)}
}

// Append adds msgs to groupID's pending accumulation.
func (b *Buffer) Append(groupID string, msgs ...model.RawMessage) {
	if len(msgs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[groupID] = append(b.pending[groupID], msgs...)
}

// Pending returns a copy of groupID's currently buffered messages.
func (b *Buffer) Pending(groupID string) []model.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.pending[groupID]
	out := make([]model.RawMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Drain returns and clears groupID's buffered messages, e.g. once a MemCell
// closes and the deferred new messages become the seed of the next slice.
func (b *Buffer) Drain(groupID string) []model.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.pending[groupID]
	delete(b.pending, groupID)
	return msgs
}

// Clear discards groupID's buffered messages without returning them.
func (b *Buffer) Clear(groupID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, groupID)
}
