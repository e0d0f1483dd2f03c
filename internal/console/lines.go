package console

import "sync"

// Lines is a thread-safe circular buffer holding the most recent lines of a
// stream. Once full, the oldest line is overwritten.
type Lines struct {
	data  []string
	size  int
	head  int
	count int
	mu    sync.RWMutex
}

// NewLines creates a buffer retaining at most size lines.
func NewLines(size int) *Lines {
	if size <= 0 {
		size = 1
	}
	return &Lines{
		data: make([]string, size),
		size: size,
	}
}

// Write appends a line.
func (b *Lines) Write(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tail := (b.head + b.count) % b.size
	b.data[tail] = line

	if b.count == b.size {
		b.head = (b.head + 1) % b.size
	} else {
		b.count++
	}
}

// Tail returns up to n of the most recent lines, oldest first. n <= 0 returns
// everything retained.
func (b *Lines) Tail(n int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > b.count {
		n = b.count
	}

	result := make([]string, n)
	start := b.head + b.count - n
	for i := 0; i < n; i++ {
		result[i] = b.data[(start+i)%b.size]
	}
	return result
}

// Len returns the number of retained lines.
func (b *Lines) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
