package duplexpipe

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

type loopbackConn struct {
	r io.Reader
	w io.Writer
}

func (l *loopbackConn) Read(p []byte) (int, error)  { return l.r.Read(p) }
func (l *loopbackConn) Write(p []byte) (int, error) { return l.w.Write(p) }

func TestFillCopiesUntilEOF(t *testing.T) {
	src := bytes.NewBufferString("payload")
	buf := NewBuffer()

	err := Fill(context.Background(), buf, src)
	assert.NoError(t, err)

	out := make([]byte, 7)
	n, err := buf.Read(out)
	assert.NoError(t, err)
	assert.Equal(t, "payload", string(out[:n]))

	_, err = buf.Read(out)
	assert.Equal(t, io.EOF, err)
}

func TestDrainCopiesUntilBufferClosed(t *testing.T) {
	buf := NewBuffer()
	buf.Write([]byte("out"))
	buf.CloseWrite(nil)

	var dst bytes.Buffer
	err := Drain(context.Background(), buf, &dst)
	assert.NoError(t, err)
	assert.Equal(t, "out", dst.String())
}

func TestPipeRoundTrip(t *testing.T) {
	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()

	client := New(&loopbackConn{r: clientIn, w: clientOut})
	server := New(&loopbackConn{r: serverIn, w: serverOut})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Start(ctx, nil)
	go server.Start(ctx, nil)

	n, err := client.Write([]byte("ping"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)

	got := make([]byte, 4)
	n, err = io.ReadFull(server, got)
	assert.NoError(t, err)
	assert.Equal(t, "ping", string(got[:n]))

	server.Write([]byte("pong"))
	got2 := make([]byte, 4)
	n, err = io.ReadFull(client, got2)
	assert.NoError(t, err)
	assert.Equal(t, "pong", string(got2[:n]))
}
