package link

// QueueCapacity is the number of slots in EventQueue, must be a power of 2.
const QueueCapacity = 16

// QueueLimit is the maximum number of frames held by EventQueue.
// Two slots are kept free so full and empty never look alike.
const QueueLimit = QueueCapacity - 2

// EventQueue is a bounded FIFO of received frames.
// The zero value is an empty queue.
type EventQueue struct {
	frames    [QueueCapacity]Frame
	rd, wr    int
	n         int
	overflows int
}

// Enqueue appends a frame. It returns false and drops the frame
// if the queue already holds QueueLimit frames.
func (q *EventQueue) Enqueue(f Frame) bool {
	if q.n >= QueueLimit {
		q.overflows++
		return false
	}
	q.frames[q.wr] = f
	q.wr = (q.wr + 1) & (QueueCapacity - 1)
	q.n++
	return true
}

// Dequeue removes and returns the oldest frame.
func (q *EventQueue) Dequeue() (f Frame, ok bool) {
	if q.n == 0 {
		return
	}
	f, ok = q.frames[q.rd], true
	q.rd = (q.rd + 1) & (QueueCapacity - 1)
	q.n--
	return
}

// Flush discards all queued frames.
func (q *EventQueue) Flush() {
	q.rd, q.wr, q.n = 0, 0, 0
}

// Len returns the number of queued frames.
func (q *EventQueue) Len() int {
	return q.n
}

// Overflows returns the number of frames dropped so far.
func (q *EventQueue) Overflows() int {
	return q.overflows
}
