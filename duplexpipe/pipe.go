package duplexpipe

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Pipe wraps a duplex connection (anything satisfying io.ReadWriter,
// typically a net.Conn) with two Buffers so that a blocked write to a
// slow peer never holds up bytes arriving from the same peer, and vice
// versa. In plays the incoming direction (conn -> Buffer -> Read); Out
// plays the outgoing direction (Write -> Buffer -> conn). Grounded on
// infinibuf.cc's input_loop/output_loop pair, generalized from a single
// fd to a full-duplex connection.
type Pipe struct {
	In  *Buffer
	Out *Buffer

	conn io.ReadWriter
}

// New returns a Pipe over conn. Call Start to begin pumping bytes.
func New(conn io.ReadWriter) *Pipe {
	return &Pipe{In: NewBuffer(), Out: NewBuffer(), conn: conn}
}

// rwCombiner joins an independent Reader and Writer into a single
// io.ReadWriter, for the common case of two half-duplex pipes (stdin
// and stdout, or an ssh subprocess's StdoutPipe and StdinPipe) that
// together form one duplex connection.
type rwCombiner struct {
	io.Reader
	io.Writer
}

// Combine returns an io.ReadWriter backed by r for reads and w for
// writes, suitable for passing to New.
func Combine(r io.Reader, w io.Writer) io.ReadWriter {
	return rwCombiner{Reader: r, Writer: w}
}

// Read satisfies io.Reader by reading bytes the Fill goroutine has
// already pulled off the connection.
func (p *Pipe) Read(b []byte) (int, error) { return p.In.Read(b) }

// Write satisfies io.Writer by queuing bytes for the Drain goroutine to
// push out over the connection.
func (p *Pipe) Write(b []byte) (int, error) { return p.Out.Write(b) }

// Start launches the Fill and Drain pumps and returns once both have
// exited: Fill when the connection reaches EOF or a read fails, Drain when
// Out is closed and empty or a write fails. Each pump checks ctx only
// between reads, so a pump blocked in a read does not see cancellation
// until that read returns. It mirrors running infinibuf::input_loop and
// output_loop on separate threads and joining them.
func (p *Pipe) Start(ctx context.Context, log *logrus.Logger) error {
	if log == nil {
		log = logrus.New()
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return Fill(ctx, p.In, p.conn) })
	g.Go(func() error { return Drain(ctx, p.Out, p.conn) })
	if err := g.Wait(); err != nil && !errors.Is(err, io.EOF) {
		log.WithError(err).Debug("duplexpipe: pump exited")
		return err
	}
	return nil
}

// Fill copies bytes from src into buf until src returns an error (EOF
// included), then closes buf for writing so a blocked Read wakes up.
func Fill(ctx context.Context, buf *Buffer, src io.Reader) error {
	tmp := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			buf.CloseWrite(err)
			return err
		}
		n, err := src.Read(tmp)
		if n > 0 {
			if _, werr := buf.Write(tmp[:n]); werr != nil {
				buf.CloseWrite(werr)
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				buf.CloseWrite(nil)
				return nil
			}
			buf.CloseWrite(err)
			return errors.Wrap(err, "duplexpipe: fill")
		}
	}
}

// Drain copies bytes out of buf into dst until buf is closed and
// drained, or dst.Write fails.
func Drain(ctx context.Context, buf *Buffer, dst io.Writer) error {
	tmp := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := buf.Read(tmp)
		if n > 0 {
			if _, werr := dst.Write(tmp[:n]); werr != nil {
				return errors.Wrap(werr, "duplexpipe: drain")
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "duplexpipe: drain")
		}
	}
}
