package client

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"
	"github.com/jonboulle/clockwork"

	"github.com/robotalks/genie.go/pkg/genie/link"
)

var (
	// ErrNoReply indicates the display didn't report the object read.
	ErrNoReply = errors.New("no reply")
	// ErrTransportClosed indicates the transport stopped.
	ErrTransportClosed = errors.New("transport closed")
)

// DefaultPollInterval is the wait between polls when no byte is pending.
const DefaultPollInterval = time.Millisecond

// DefaultEventBuffer is the capacity of the event chan.
const DefaultEventBuffer = 64

// Result is the result of a request.
type Result struct {
	Err   error
	Frame link.Frame
}

// Status is a snapshot of the link.
type Status struct {
	State     link.LinkState `json:"-"`
	StateName string         `json:"state"`
	Error     link.ErrorCode `json:"-"`
	ErrorName string         `json:"error"`
	Timeouts  int            `json:"timeouts"`
	Fatals    int            `json:"fatals"`
	Pending   int            `json:"pending"`
	Overflows int            `json:"overflows"`
}

type readKey struct {
	object, index byte
}

type request struct {
	fn       func(*link.Driver) error
	wait     bool
	read     *readKey
	resultCh chan Result
}

// transportDone is implemented by transports which can stop, e.g. serial.Port.
type transportDone interface {
	Done() <-chan struct{}
}

// Client owns a link.Driver and runs it in a single goroutine,
// so it can be used from multiple goroutines.
type Client struct {
	Driver       *link.Driver
	PollInterval time.Duration
	Clock        clockwork.Clock

	reqCh   chan *request
	eventCh chan link.Frame
}

// New creates a Client wrapping the driver.
func New(d *link.Driver) *Client {
	return NewWithBuffer(d, DefaultEventBuffer)
}

// NewWithBuffer creates a Client buffering up to size events.
func NewWithBuffer(d *link.Driver, size int) *Client {
	return &Client{
		Driver:       d,
		PollInterval: DefaultPollInterval,
		Clock:        clockwork.NewRealClock(),
		reqCh:        make(chan *request),
		eventCh:      make(chan link.Frame, size),
	}
}

// EventChan retrieves the chan of frames not consumed by a read,
// mostly events from the display.
func (c *Client) EventChan() <-chan link.Frame {
	return c.eventCh
}

// Run polls the driver and executes requests until the context is
// canceled or the transport stops.
func (c *Client) Run(ctx context.Context) error {
	c.Driver.AttachEventHandler(link.HandleEventsFunc(func(*link.Driver) {
		c.drain(nil)
	}))
	defer c.Driver.AttachEventHandler(nil)

	var doneCh <-chan struct{}
	if t, ok := c.Driver.Transport.(transportDone); ok {
		doneCh = t.Done()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-doneCh:
			return ErrTransportClosed
		case req := <-c.reqCh:
			c.exec(req)
			continue
		default:
		}
		if c.Driver.Poll() == link.PollByte {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-doneCh:
			return ErrTransportClosed
		case req := <-c.reqCh:
			c.exec(req)
		case <-c.Clock.After(c.PollInterval):
		}
	}
}

func (c *Client) exec(req *request) {
	// deliver frames already received, commands flush the queue.
	c.drain(nil)
	var res Result
	if res.Err = req.fn(c.Driver); res.Err == nil && req.wait {
		if !c.Driver.WaitForIdle() {
			res.Err = link.ErrorTimeout
			c.Driver.Abandon()
		} else if code := c.Driver.Error(); code == link.ErrorNak || code == link.ErrorNoDisplay {
			res.Err = code
		}
		if req.read != nil {
			var found bool
			res.Frame, found = c.drain(req.read)
			if !found && res.Err == nil {
				res.Err = ErrNoReply
			}
		}
	}
	c.drain(nil)
	req.resultCh <- res
}

func (c *Client) drain(want *readKey) (report link.Frame, found bool) {
	for {
		f, ok := c.Driver.Dequeue()
		if !ok {
			return
		}
		if want != nil && !found && f.Is(link.ReportObject, want.object, want.index) {
			report, found = f, true
			continue
		}
		select {
		case c.eventCh <- f:
		default:
			glog.Warningf("event chan full, drop %s", f)
		}
	}
}

func (c *Client) do(ctx context.Context, req *request) Result {
	req.resultCh = make(chan Result, 1)
	select {
	case c.reqCh <- req:
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
	select {
	case res := <-req.resultCh:
		return res
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// Do runs fn with the driver inside the polling goroutine and waits
// for the link to become idle afterwards.
func (c *Client) Do(ctx context.Context, fn func(*link.Driver) error) error {
	return c.do(ctx, &request{fn: fn, wait: true}).Err
}

// ReadObject reads the value of an object.
func (c *Client) ReadObject(ctx context.Context, object, index byte) (uint16, error) {
	res := c.do(ctx, &request{
		fn: func(d *link.Driver) error {
			return d.ReadObject(object, index)
		},
		wait: true,
		read: &readKey{object: object, index: index},
	})
	if res.Err != nil {
		return 0, res.Err
	}
	return res.Frame.Data(), nil
}

// WriteObject writes the value of an object and waits for ACK.
func (c *Client) WriteObject(ctx context.Context, object, index byte, value uint16) error {
	return c.Do(ctx, func(d *link.Driver) error {
		return d.WriteObject(object, index, value)
	})
}

// WriteContrast sets the display contrast.
func (c *Client) WriteContrast(ctx context.Context, value byte) error {
	return c.Do(ctx, func(d *link.Driver) error {
		return d.WriteContrast(value)
	})
}

// WriteString writes an ASCII string.
func (c *Client) WriteString(ctx context.Context, index byte, s string) error {
	return c.Do(ctx, func(d *link.Driver) error {
		return d.WriteString(index, s)
	})
}

// WriteStringUnicode writes a Unicode string.
func (c *Client) WriteStringUnicode(ctx context.Context, index byte, s string) error {
	return c.Do(ctx, func(d *link.Driver) error {
		return d.WriteStringUnicode(index, s)
	})
}

// Resync resynchronizes the link.
func (c *Client) Resync(ctx context.Context) error {
	return c.do(ctx, &request{fn: func(d *link.Driver) error {
		d.Resync()
		return nil
	}}).Err
}

// Status retrieves a snapshot of the link.
func (c *Client) Status(ctx context.Context) (st Status, err error) {
	err = c.do(ctx, &request{fn: func(d *link.Driver) error {
		st = Status{
			State:     d.State(),
			StateName: d.State().String(),
			Error:     d.Error(),
			ErrorName: d.Error().String(),
			Timeouts:  d.Timeouts(),
			Fatals:    d.Fatals(),
			Pending:   d.Pending(),
			Overflows: d.Overflows(),
		}
		return nil
	}}).Err
	return
}
