package containers

import "errors"

// Deque is a growable double-ended queue backed by a ring buffer.
type Deque[T any] struct {
	data       []T
	readIndex  int
	writeIndex int
	count      int
}

// Create a new Deque with an initial capacity.
func NewDeque[T any](capacity int) *Deque[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Deque[T]{
		data: make([]T, capacity),
	}
}

// PushBack adds an element to the back of the queue, growing it if full.
func (dq *Deque[T]) PushBack(value T) {
	if dq.count == len(dq.data) {
		dq.grow()
	}
	dq.data[dq.writeIndex] = value
	dq.writeIndex = (dq.writeIndex + 1) % len(dq.data)
	dq.count++
}

// PopFront removes and returns the front element of the queue.
func (dq *Deque[T]) PopFront() (T, error) {
	var zero T
	if dq.count == 0 {
		return zero, errors.New("deque is empty")
	}
	value := dq.data[dq.readIndex]
	dq.data[dq.readIndex] = zero
	dq.readIndex = (dq.readIndex + 1) % len(dq.data)
	dq.count--
	return value, nil
}

// PeekFront returns the front element without removing it.
func (dq *Deque[T]) PeekFront() (T, error) {
	var zero T
	if dq.count == 0 {
		return zero, errors.New("deque is empty")
	}
	return dq.data[dq.readIndex], nil
}

func (dq *Deque[T]) Len() int {
	return dq.count
}

func (dq *Deque[T]) IsEmpty() bool {
	return dq.count == 0
}

func (dq *Deque[T]) grow() {
	grown := make([]T, len(dq.data)*2)
	for i := 0; i < dq.count; i++ {
		grown[i] = dq.data[(dq.readIndex+i)%len(dq.data)]
	}
	dq.data = grown
	dq.readIndex = 0
	dq.writeIndex = dq.count
}
