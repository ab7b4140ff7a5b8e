package playback

import (
	"github.com/mahesa/swara/domain/entities"
)

// Queue holds the ordered chunks awaiting render for the active session plus
// the set of chunks dispatched to the renderer but not yet confirmed done.
//
// Strict FIFO: chunks leave in exactly the order they entered. A chunk is
// only ever dropped by the caller on decode/render error, never reordered.
//
// Queue is a plain data structure; the engine event loop is its only caller,
// so it carries no locking of its own.
type Queue struct {
	items   []*entities.AudioChunk
	pending map[entities.ChunkID]struct{}
}

// NewQueue creates an empty playback queue.
func NewQueue() *Queue {
	return &Queue{
		pending: make(map[entities.ChunkID]struct{}),
	}
}

// Push appends a chunk to the tail and marks it queued.
func (q *Queue) Push(chunk *entities.AudioChunk) {
	chunk.MarkQueued()
	q.items = append(q.items, chunk)
}

// Pop removes and returns the head chunk.
func (q *Queue) Pop() (*entities.AudioChunk, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	chunk := q.items[0]
	copy(q.items[0:], q.items[1:])
	q.items[len(q.items)-1] = nil
	q.items = q.items[:len(q.items)-1]
	return chunk, true
}

// Peek returns the head chunk without removing it.
func (q *Queue) Peek() (*entities.AudioChunk, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// Len returns the number of queued chunks.
func (q *Queue) Len() int {
	return len(q.items)
}

// MarkPending records a chunk as dispatched to the renderer.
func (q *Queue) MarkPending(id entities.ChunkID) {
	q.pending[id] = struct{}{}
}

// ClearPending removes a chunk from the pending set once its render has been
// confirmed complete or failed.
func (q *Queue) ClearPending(id entities.ChunkID) {
	delete(q.pending, id)
}

// PendingLen returns the number of in-flight chunks.
func (q *Queue) PendingLen() int {
	return len(q.pending)
}

// IsDrained reports whether nothing is queued and nothing is in flight.
func (q *Queue) IsDrained() bool {
	return len(q.items) == 0 && len(q.pending) == 0
}

// Clear drops all queued chunks and pending records. Returns how many queued
// chunks were discarded.
func (q *Queue) Clear() int {
	discarded := len(q.items)
	q.items = nil
	q.pending = make(map[entities.ChunkID]struct{})
	return discarded
}
