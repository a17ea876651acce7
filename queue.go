package drainloop

import (
	"sync"
)

// chunkSize is the number of tasks per node in the taskQueue linked list.
// Fixed-size arrays provide cache locality and amortize allocations.
const chunkSize = 128

// taskKind discriminates the two queued work categories.
type taskKind uint8

const (
	// taskRelease wraps a caller action together with the deferred
	// release of the target handle's hold count.
	taskRelease taskKind = iota
	// taskPendingChanges is the lightweight "process pending changes"
	// unit appended by NoteStateChange.
	taskPendingChanges
)

// task is a queued unit of work. Immutable once enqueued; ordering is
// strict FIFO, no priority, no reordering.
type task struct {
	action func()
	handle *Handle
	kind   taskKind
}

// taskQueue is a chunked linked-list FIFO for deferred tasks.
//
// Thread Safety: This struct is NOT thread-safe.
// The caller must provide external synchronization (the executor's
// single logical thread, or a Serializer).
//
// Performance rationale:
//   - Fixed-size chunk arrays amortize allocations as backlog grows.
//   - sync.Pool chunk recycling prevents GC thrashing when large
//     backlogs are repeatedly built up and drained.
type taskQueue struct {
	head   *chunk
	tail   *chunk
	length int
}

// chunkPool prevents GC thrashing under high load.
var chunkPool = sync.Pool{
	New: func() any {
		return &chunk{}
	},
}

// chunk is a fixed-size node in the chunked linked-list.
// It uses readPos/pos cursors for O(1) push/pop without shifting.
type chunk struct {
	tasks   [chunkSize]task
	next    *chunk
	readPos int // First unread slot (index into tasks)
	pos     int // First unused slot / writePos (index into tasks)
}

// newChunk creates and returns a new chunk from the pool.
func newChunk() *chunk {
	c := chunkPool.Get().(*chunk)
	// Reset fields for reuse as the chunk may have been returned with stale data
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnChunk returns an exhausted chunk to the pool.
// Task slots are cleared on pop, so the chunk holds no references here.
func returnChunk(c *chunk) {
	c.next = nil
	chunkPool.Put(c)
}

// push appends a task at the tail. Insertion order is execution order.
func (q *taskQueue) push(t task) {
	if q.tail == nil || q.tail.pos == chunkSize {
		c := newChunk()
		if q.tail == nil {
			q.head = c
		} else {
			q.tail.next = c
		}
		q.tail = c
	}
	q.tail.tasks[q.tail.pos] = t
	q.tail.pos++
	q.length++
}

// pop removes and returns the head task. Returns false if the queue is
// empty. The vacated slot is cleared to avoid retaining the handle or
// the action closure past execution.
func (q *taskQueue) pop() (task, bool) {
	if q.length == 0 {
		return task{}, false
	}

	c := q.head
	t := c.tasks[c.readPos]
	c.tasks[c.readPos] = task{}
	c.readPos++
	q.length--

	if c.readPos == c.pos && c.next != nil {
		q.head = c.next
		returnChunk(c)
	} else if c.readPos == c.pos && c.pos == chunkSize {
		// Exhausted sole chunk; reset rather than recycle so the next
		// push does not need a pool round trip.
		c.readPos = 0
		c.pos = 0
	}

	return t, true
}

// len returns the number of queued tasks.
func (q *taskQueue) len() int {
	return q.length
}
