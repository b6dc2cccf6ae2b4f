package duplexpipe

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferWriteThenRead(t *testing.T) {
	b := NewBuffer()
	n, err := b.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)

	out := make([]byte, 5)
	n, err = b.Read(out)
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(out))
}

func TestBufferGrowsAcrossChunks(t *testing.T) {
	b := NewBuffer()
	payload := make([]byte, chunkSize*3+17)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err := b.Write(payload)
	assert.NoError(t, err)

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 4096)
	for len(got) < len(payload) {
		n, err := b.Read(buf)
		assert.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, payload, got)
}

func TestBufferReadBlocksUntilWrite(t *testing.T) {
	b := NewBuffer()
	done := make(chan struct{})
	var n int
	var err error
	go func() {
		out := make([]byte, 3)
		n, err = b.Read(out)
		close(done)
	}()

	b.Write([]byte("hi!"))
	<-done
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBufferCloseWriteYieldsEOFAfterDraining(t *testing.T) {
	b := NewBuffer()
	b.Write([]byte("ab"))
	b.CloseWrite(nil)

	out := make([]byte, 2)
	n, err := b.Read(out)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = b.Read(out)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestBufferCloseWriteCarriesError(t *testing.T) {
	b := NewBuffer()
	sentinel := io.ErrUnexpectedEOF
	b.CloseWrite(sentinel)

	_, err := b.Read(make([]byte, 1))
	assert.Equal(t, sentinel, err)
}

func TestBufferWriteAfterCloseFails(t *testing.T) {
	b := NewBuffer()
	b.CloseWrite(nil)
	_, err := b.Write([]byte("x"))
	assert.Error(t, err)
}
