package capture

import "encoding/binary"

// chunker accumulates decoded int16 samples and emits fixed-size frames of
// little-endian PCM bytes.
type chunker struct {
	buf  []byte
	size int
}

func newChunker(size int) *chunker {
	return &chunker{buf: make([]byte, 0, size*2), size: size}
}

// push appends samples and returns zero or more complete frames. Returned
// frames are copies; callers may retain them.
func (c *chunker) push(samples []int16) [][]byte {
	start := len(c.buf)
	c.buf = append(c.buf, make([]byte, len(samples)*2)...)
	out := c.buf[start:]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}

	var frames [][]byte
	for len(c.buf) >= c.size {
		frame := make([]byte, c.size)
		copy(frame, c.buf[:c.size])
		frames = append(frames, frame)
		c.buf = c.buf[:copy(c.buf, c.buf[c.size:])]
	}
	return frames
}
