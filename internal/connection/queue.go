package connection

// queue is the bounded FIFO of encoded frames waiting for an open transport.
// When full, the oldest frame is dropped.
type queue struct {
	frames   [][]byte
	capacity int
}

func newQueue(capacity int) *queue {
	return &queue{capacity: capacity}
}

// push appends frame and reports whether an older frame was dropped to make room.
func (q *queue) push(frame []byte) (dropped bool) {
	if q.capacity <= 0 {
		return true
	}
	if len(q.frames) >= q.capacity {
		q.frames = q.frames[1:]
		dropped = true
	}
	q.frames = append(q.frames, frame)
	return dropped
}

// requeue puts frames back at the head, keeping their order.
// Frames beyond capacity are trimmed from the oldest end.
func (q *queue) requeue(frames [][]byte) {
	merged := make([][]byte, 0, len(frames)+len(q.frames))
	merged = append(merged, frames...)
	merged = append(merged, q.frames...)
	if over := len(merged) - q.capacity; over > 0 {
		merged = merged[over:]
	}
	q.frames = merged
}

// drain empties the queue and returns its frames in order.
func (q *queue) drain() [][]byte {
	frames := q.frames
	q.frames = nil
	return frames
}

func (q *queue) clear() {
	q.frames = nil
}

func (q *queue) len() int {
	return len(q.frames)
}
