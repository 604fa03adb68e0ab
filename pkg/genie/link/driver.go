package link

import (
	"io"
	"runtime"
	"time"

	"github.com/golang/glog"
	"github.com/jonboulle/clockwork"
)

// Transport is the byte stream to the display.
type Transport interface {
	// TryReadByte returns the next received byte, or false
	// immediately if nothing is pending.
	TryReadByte() (byte, bool)

	io.ByteWriter
}

// EventHandler is called from Poll when queued frames are waiting
// and no byte is pending. It is expected to drain the queue with Dequeue.
type EventHandler interface {
	HandleEvents(*Driver)
}

// HandleEventsFunc is func type of EventHandler.
type HandleEventsFunc func(*Driver)

// HandleEvents implements EventHandler.
func (f HandleEventsFunc) HandleEvents(d *Driver) {
	f(d)
}

// PollResult is the result of one Poll.
type PollResult int

const (
	// PollNone means no byte was pending.
	PollNone PollResult = iota
	// PollByte means one byte was received and consumed.
	PollByte
)

// Defaults.
const (
	DefaultTimeout      = 500 * time.Millisecond
	DefaultResyncPeriod = 100 * time.Millisecond
	DefaultMaxFatals    = 10
)

// Driver runs the link state machine over a Transport.
type Driver struct {
	Transport Transport
	Clock     clockwork.Clock

	// Timeout bounds WaitForIdle. It restarts on every received byte.
	Timeout time.Duration
	// ResyncPeriod is the quiet time waited by Resync before draining input.
	ResyncPeriod time.Duration
	// PollInterval is slept between empty polls in WaitForIdle, 0 to spin.
	PollInterval time.Duration
	// MaxFatals is the number of consecutive fatal errors tolerated before
	// the link shuts down. 0 disables shutdown.
	MaxFatals int
	// ResyncOnNak resyncs the link after a NAK is received.
	ResyncOnNak bool

	events EventHandler
	errors ErrorHandler

	states   StateStack
	queue    EventQueue
	rx       Frame
	rxCount  int
	checksum byte

	lastErr  ErrorCode
	timeouts int
	fatals   int
}

// NewDriver creates a Driver with default settings.
func NewDriver(t Transport) *Driver {
	return &Driver{
		Transport:    t,
		Clock:        clockwork.NewRealClock(),
		Timeout:      DefaultTimeout,
		ResyncPeriod: DefaultResyncPeriod,
		MaxFatals:    DefaultMaxFatals,
	}
}

// Begin resets the session. Handlers are kept.
func (d *Driver) Begin() {
	d.states.Reset()
	d.queue.Flush()
	d.rxCount, d.checksum = 0, 0
	d.lastErr, d.timeouts, d.fatals = ErrorNone, 0, 0
}

// AttachEventHandler sets the handler for queued frames, nil to detach.
func (d *Driver) AttachEventHandler(h EventHandler) {
	d.events = h
}

// AttachErrorHandler sets the error hook, nil to detach.
func (d *Driver) AttachErrorHandler(h ErrorHandler) {
	d.errors = h
}

// State returns the current link state.
func (d *Driver) State() LinkState {
	return d.states.Current()
}

// Error returns the latest error code.
func (d *Driver) Error() ErrorCode {
	return d.lastErr
}

// Timeouts returns the number of idle waits timed out since the last resync.
func (d *Driver) Timeouts() int {
	return d.timeouts
}

// Fatals returns the current count of consecutive fatal errors.
func (d *Driver) Fatals() int {
	return d.fatals
}

// Pending returns the number of queued frames.
func (d *Driver) Pending() int {
	return d.queue.Len()
}

// Dequeue removes the oldest queued frame.
func (d *Driver) Dequeue() (Frame, bool) {
	return d.queue.Dequeue()
}

// Overflows returns the number of frames dropped on a full queue.
func (d *Driver) Overflows() int {
	return d.queue.Overflows()
}

// Poll processes at most one received byte.
func (d *Driver) Poll() PollResult {
	c, ok := d.Transport.TryReadByte()
	if !ok {
		if d.queue.Len() > 0 && d.events != nil {
			d.events.HandleEvents(d)
		}
		return PollNone
	}
	if glog.V(4) {
		glog.Infof("RX %02x in %s", c, d.states.Current())
	}
	d.step(c)
	return PollByte
}

func (d *Driver) step(c byte) {
	switch d.states.Current() {
	case StateIdle:
		if c != ReportEvent {
			d.raise(ErrorUnexpectedByte)
			return
		}
		d.beginFrame(StateReceivingEvent)
	case StateWaitAckNak:
		switch c {
		case Ack:
			d.states.Pop()
			d.fatals = 0
			return
		case Nak:
			d.states.Pop()
			d.raise(ErrorNak)
			if d.ResyncOnNak {
				d.Resync()
			}
			return
		case ReportEvent:
			d.beginFrame(StateReceivingEvent)
		default:
			d.raise(ErrorUnexpectedByte)
			return
		}
	case StateWaitReportHeader:
		switch c {
		case ReportEvent:
			d.beginFrame(StateReceivingEvent)
		case ReportObject:
			d.states.Pop()
			d.beginFrame(StateReceivingReport)
		default:
			d.raise(ErrorUnexpectedByte)
			return
		}
	case StateShuttingDown:
		return
	}

	// The marker byte that started a frame is frame byte 0.
	if d.states.Current().IsReceiving() {
		d.assemble(c)
	}
}

func (d *Driver) beginFrame(state LinkState) {
	if err := d.states.Push(state); err != nil {
		d.raise(ErrorStackOverflow)
		return
	}
	d.rxCount, d.checksum = 0, 0
}

func (d *Driver) assemble(c byte) {
	d.rx[d.rxCount] = c
	d.checksum ^= c
	d.rxCount++
	if d.rxCount < FrameSize {
		return
	}
	frame, checksum := d.rx, d.checksum
	d.rxCount, d.checksum = 0, 0
	if checksum != 0 {
		d.raise(ErrorBadChecksum)
	} else if !d.queue.Enqueue(frame) {
		d.raise(ErrorQueueOverflow)
	} else if glog.V(3) {
		glog.Infof("queued %s", frame)
	}
	d.states.Pop()
}

func (d *Driver) raise(code ErrorCode) {
	d.lastErr = code
	if glog.V(1) {
		glog.Infof("link error: %s (state %s)", code, d.states.Current())
	}
	if h := d.errors; h != nil {
		h.HandleError(d, code)
	}
}

func (d *Driver) fatal() {
	d.fatals++
	if d.MaxFatals <= 0 || d.fatals <= d.MaxFatals {
		return
	}
	glog.Errorf("%d consecutive fatal errors, shutting down link", d.fatals)
	d.states.Reset()
	d.states.Push(StateShuttingDown)
	d.raise(ErrorNoDisplay)
}

// WaitForIdle polls until the link is idle or Timeout elapses
// without any byte received. It returns false on timeout.
// The fatal count is reset only when the display completed something.
func (d *Driver) WaitForIdle() bool {
	busy := d.states.Current() != StateIdle
	deadline := d.Clock.Now().Add(d.Timeout)
	for {
		res := d.Poll()
		if d.states.Current() == StateIdle {
			if busy {
				d.fatals = 0
			}
			return true
		}
		now := d.Clock.Now()
		if res == PollByte {
			deadline = now.Add(d.Timeout)
			continue
		}
		if !now.Before(deadline) {
			break
		}
		if d.PollInterval > 0 {
			d.Clock.Sleep(d.PollInterval)
		} else {
			runtime.Gosched()
		}
	}
	d.timeouts++
	d.raise(ErrorTimeout)
	d.fatal()
	return false
}

// Abandon drops the pending expectations and any partial frame,
// e.g. after WaitForIdle timed out. Nothing is done while shutting down.
func (d *Driver) Abandon() {
	if d.states.Current() == StateShuttingDown || d.states.Current() == StateIdle {
		return
	}
	glog.Warningf("link not idle (%s), abandon pending state", d.states.Current())
	d.states.Reset()
	d.rxCount, d.checksum = 0, 0
}

// Resync waits for the display to go quiet, discards everything
// received and returns the link to idle.
func (d *Driver) Resync() {
	glog.Warning("resync link")
	if d.ResyncPeriod > 0 {
		d.Clock.Sleep(d.ResyncPeriod)
	}
	for {
		if _, ok := d.Transport.TryReadByte(); !ok {
			break
		}
	}
	d.queue.Flush()
	d.states.Reset()
	d.rxCount, d.checksum = 0, 0
	d.timeouts, d.fatals = 0, 0
	d.lastErr = ErrorResync
}
