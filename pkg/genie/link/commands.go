package link

import (
	"fmt"

	"github.com/golang/glog"
	"golang.org/x/text/encoding/unicode"
)

// MaxStringLen is the longest string accepted by a single command.
const MaxStringLen = 255

var utf16BE = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// ReadObject requests the value of an object. The report frame is queued
// when it arrives and delivered through the EventHandler.
func (d *Driver) ReadObject(object, index byte) error {
	if err := d.prepare(); err != nil {
		return err
	}
	return d.send(StateWaitReportHeader, ReadObject, object, index)
}

// WriteObject sets the value of an object.
func (d *Driver) WriteObject(object, index byte, data uint16) error {
	if err := d.prepare(); err != nil {
		return err
	}
	return d.send(StateWaitAckNak, WriteObject, object, index, byte(data>>8), byte(data))
}

// WriteContrast sets the display contrast (backlight).
// Most displays accept 0 or 1, some 0 to 15.
func (d *Driver) WriteContrast(value byte) error {
	if err := d.prepare(); err != nil {
		return err
	}
	return d.send(StateWaitAckNak, WriteContrast, value)
}

// WriteString writes an ASCII string to a strings object.
func (d *Driver) WriteString(index byte, s string) error {
	if len(s) > MaxStringLen {
		return ErrStringTooLong
	}
	if err := d.prepare(); err != nil {
		return err
	}
	bs := make([]byte, 0, len(s)+3)
	bs = append(bs, WriteString, index, byte(len(s)))
	bs = append(bs, s...)
	return d.send(StateWaitAckNak, bs...)
}

// WriteStringUnicode writes a string to a strings object as UTF-16
// characters, most significant byte first.
func (d *Driver) WriteStringUnicode(index byte, s string) error {
	encoded, err := utf16BE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return fmt.Errorf("genie: encode string: %w", err)
	}
	n := len(encoded) / 2
	if n > MaxStringLen {
		return ErrStringTooLong
	}
	if err := d.prepare(); err != nil {
		return err
	}
	bs := make([]byte, 0, len(encoded)+3)
	bs = append(bs, WriteStringUnicode, index, byte(n))
	bs = append(bs, encoded...)
	return d.send(StateWaitAckNak, bs...)
}

// prepare discards stale frames and waits for the previous command
// to complete. A command that timed out is abandoned so the stack
// doesn't fill up with dead expectations.
func (d *Driver) prepare() error {
	if d.states.Current() == StateShuttingDown {
		return ErrorNoDisplay
	}
	d.queue.Flush()
	if !d.WaitForIdle() {
		if d.states.Current() == StateShuttingDown {
			return ErrorNoDisplay
		}
		d.Abandon()
	}
	d.lastErr = ErrorNone
	return nil
}

func (d *Driver) send(next LinkState, bs ...byte) error {
	if glog.V(4) {
		glog.Infof("TX % x", bs)
	}
	var cs byte
	for _, b := range bs {
		if err := d.Transport.WriteByte(b); err != nil {
			return err
		}
		cs ^= b
	}
	if err := d.Transport.WriteByte(cs); err != nil {
		return err
	}
	if err := d.states.Push(next); err != nil {
		d.raise(ErrorStackOverflow)
		return err
	}
	return nil
}
