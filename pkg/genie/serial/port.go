package serial

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/golang/glog"
)

// DefaultBufferSize is the number of received bytes buffered by Port.
const DefaultBufferSize = 256

// ErrClosed is returned when writing to a Port after its reader stopped.
var ErrClosed = errors.New("serial: port closed")

// Port adapts a blocking io.ReadWriter to the non-blocking byte
// transport used by link.Driver. Bytes are read in the background by Run.
type Port struct {
	ReadWriter io.ReadWriter

	byteCh chan byte
	doneCh chan struct{}
	err    error
	lock   sync.Mutex
}

// NewPort creates a Port.
func NewPort(rw io.ReadWriter) *Port {
	return NewPortSize(rw, DefaultBufferSize)
}

// NewPortSize creates a Port buffering up to size received bytes.
func NewPortSize(rw io.ReadWriter, size int) *Port {
	return &Port{
		ReadWriter: rw,
		byteCh:     make(chan byte, size),
		doneCh:     make(chan struct{}),
	}
}

// TryReadByte implements link.Transport.
func (p *Port) TryReadByte() (byte, bool) {
	select {
	case b := <-p.byteCh:
		return b, true
	default:
		return 0, false
	}
}

// WriteByte implements io.ByteWriter.
func (p *Port) WriteByte(b byte) error {
	select {
	case <-p.doneCh:
		return ErrClosed
	default:
	}
	_, err := p.ReadWriter.Write([]byte{b})
	return err
}

// Err returns the error which stopped the reader.
func (p *Port) Err() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.err
}

// Done is closed when the reader stops.
func (p *Port) Done() <-chan struct{} {
	return p.doneCh
}

// Run reads from the ReadWriter until the context is canceled or
// a read fails. A read returning no data (serial read timeout) is not an error.
func (p *Port) Run(ctx context.Context) error {
	err := p.readLoop(ctx)
	p.lock.Lock()
	p.err = err
	p.lock.Unlock()
	close(p.doneCh)
	return err
}

func (p *Port) readLoop(ctx context.Context) error {
	buf := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := p.ReadWriter.Read(buf)
		for _, b := range buf[:n] {
			select {
			case p.byteCh <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			if err != io.EOF {
				glog.Errorf("serial read error: %v", err)
			}
			return err
		}
	}
}
