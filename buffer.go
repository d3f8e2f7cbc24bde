package octgrid

// Buffer is a reusable scratch arena. It only grows, so handing the same
// Buffer to repeated kernel calls in a training loop avoids reallocating
// their temporaries. A Buffer must not be shared by concurrent calls.
type Buffer struct {
	data []float64
}

// NewBuffer returns a buffer with room for capacity values.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]float64, 0, capacity)}
}

// Zeroed returns a zero-filled slice of length n backed by the buffer.
func (b *Buffer) Zeroed(n int) []float64 {
	if cap(b.data) < n {
		b.data = make([]float64, n)
		return b.data
	}
	b.data = b.data[:n]
	for i := range b.data {
		b.data[i] = 0
	}
	return b.data
}

// Cap returns the current capacity.
func (b *Buffer) Cap() int {
	return cap(b.data)
}

func (c *config) scratch(n int) []float64 {
	if c.buffer != nil {
		return c.buffer.Zeroed(n)
	}
	return make([]float64, n)
}
