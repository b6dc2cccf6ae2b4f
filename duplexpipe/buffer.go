// Package duplexpipe provides unbounded, thread-safe byte buffers that
// can be filled from and drained to an underlying connection by
// separate goroutines, the way infinibuf.h's infinibuf_mt lets one
// thread fill or drain a buffer while an iostream reads or writes it on
// another. Buffer plays the role of infinibuf_mt; Fill/Drain play the
// role of infinibuf::input_loop/output_loop.
package duplexpipe

import (
	"io"
	"sync"
)

const chunkSize = 1 << 16

// Buffer is an unbounded byte queue safe for one writer and one reader
// goroutine to use concurrently. Unlike io.Pipe, a Write never blocks
// waiting for a reader: data accumulates in chunkSize chunks until
// Read catches up, so a slow peer on one side of a duplex connection
// never stalls traffic flowing the other way.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	chunks [][]byte
	head   int // read offset into chunks[0]
	tail   int // write offset into the last chunk

	eof bool
	err error
}

// NewBuffer returns an empty Buffer ready for use.
func NewBuffer() *Buffer {
	b := &Buffer{chunks: [][]byte{make([]byte, chunkSize)}}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Buffer) emptyLocked() bool {
	return len(b.chunks) == 1 && b.head == b.tail
}

// Write appends p to the buffer, growing it by as many chunks as
// needed. It never blocks and never returns a short write.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	if b.eof {
		return 0, io.ErrClosedPipe
	}
	n := len(p)
	wasEmpty := b.emptyLocked()
	for len(p) > 0 {
		last := b.chunks[len(b.chunks)-1]
		room := len(last) - b.tail
		if room == 0 {
			b.chunks = append(b.chunks, make([]byte, chunkSize))
			b.tail = 0
			last = b.chunks[len(b.chunks)-1]
			room = chunkSize
		}
		k := copy(last[b.tail:], p)
		b.tail += k
		p = p[k:]
	}
	if wasEmpty {
		b.cond.Broadcast()
	}
	return n, nil
}

// Read blocks until at least one byte is available, the buffer is
// closed, or an error has been recorded. It mirrors infinibuf's
// gwait/gbump pair: block while empty, then hand back whatever is
// sitting in the front chunk.
func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.emptyLocked() && !b.eof && b.err == nil {
		b.cond.Wait()
	}
	if b.emptyLocked() {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}
	front := b.chunks[0]
	limit := len(front)
	if len(b.chunks) == 1 {
		limit = b.tail
	}
	n := copy(p, front[b.head:limit])
	b.head += n
	if b.head == len(front) && len(b.chunks) > 1 {
		b.chunks = b.chunks[1:]
		b.head = 0
	}
	return n, nil
}

// CloseWrite marks the buffer as having no more data coming. Readers
// blocked in Read wake up and receive io.EOF (or err, if non-nil) once
// the remaining buffered bytes have been drained. Equivalent to
// infinibuf::peof/err.
func (b *Buffer) CloseWrite(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.eof {
		return
	}
	b.eof = true
	b.err = err
	b.cond.Broadcast()
}
