package ant

import (
	"fmt"

	"github.com/smallnest/ringbuffer"
)

// DefaultFramerCapacity holds several USB bulk transfers worth of bytes
const DefaultFramerCapacity = 1024

// Framer reassembles ANT messages from the raw byte stream of a USB stick.
// Reads may split or merge messages arbitrarily. Bytes before a sync byte
// and messages with a bad checksum are discarded.
//
// A Framer is not safe for concurrent use; one reader loop owns it.
type Framer struct {
	rb      *ringbuffer.RingBuffer
	pending []byte
	dropped int
}

func NewFramer(capacity int) *Framer {
	if capacity <= 0 {
		capacity = DefaultFramerCapacity
	}
	return &Framer{
		rb:      ringbuffer.New(capacity),
		pending: make([]byte, 0, maxPayloadSize+frameOverhead),
	}
}

// Write buffers raw bytes. Callers drain with Next after every Write; an
// error means the buffer overflowed and the excess was lost.
func (f *Framer) Write(p []byte) (int, error) {
	n, err := f.rb.Write(p)
	if err != nil {
		return n, fmt.Errorf("framer: buffered %d of %d bytes: %w", n, len(p), err)
	}
	return n, nil
}

// Next returns the next complete message, or false when more bytes are needed
func (f *Framer) Next() (Message, bool) {
	for {
		b, err := f.rb.ReadByte()
		if err != nil {
			// ringbuffer.ErrIsEmpty until the next Write
			return Message{}, false
		}

		switch len(f.pending) {
		case 0:
			if b != SyncByte {
				f.dropped++
				continue
			}
		case 1:
			if int(b) > maxPayloadSize {
				f.resync()
				if b == SyncByte {
					f.pending = append(f.pending, b)
				}
				continue
			}
		}
		f.pending = append(f.pending, b)

		if len(f.pending) >= 2 && len(f.pending) == int(f.pending[1])+frameOverhead {
			msg, _, err := DecodeMessage(f.pending)
			f.pending = f.pending[:0]
			if err != nil {
				f.dropped++
				continue
			}
			return msg, true
		}
	}
}

func (f *Framer) resync() {
	f.dropped++
	f.pending = f.pending[:0]
}

// Dropped returns the number of discarded bytes and messages
func (f *Framer) Dropped() int {
	return f.dropped
}
