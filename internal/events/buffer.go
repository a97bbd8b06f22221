package events

import "sync"

type message struct {
	Kind    string
	Subject string
	Data    []byte
	prev    *message
}

// buffer is a FIFO of pending messages. With a positive capacity the oldest
// message is dropped to make room.
type buffer struct {
	lock     sync.Mutex
	head     *message
	tail     *message
	size     int
	capacity int
	dropped  int
}

func newBuffer(capacity int) *buffer {
	return &buffer{capacity: capacity}
}

func (b *buffer) PushBack(msg *message) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.capacity > 0 && b.size >= b.capacity {
		b.pop()
		b.dropped++
	}

	if b.head == nil {
		b.head = msg
		b.tail = msg
	} else {
		b.tail.prev = msg
		b.tail = msg
	}
	b.size++
}

func (b *buffer) Pop() *message {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.pop()
}

func (b *buffer) pop() *message {
	if b.head == nil {
		return nil
	}
	tmp := b.head
	if b.head.prev != nil {
		b.head = b.head.prev
	} else {
		// removing the last one
		b.head = nil
		b.tail = nil
	}
	tmp.prev = nil
	b.size--
	return tmp
}

func (b *buffer) Size() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.size
}

func (b *buffer) Dropped() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.dropped
}
