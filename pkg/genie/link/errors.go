package link

import (
	"errors"
	"strconv"
)

// ErrorCode is the error state recorded by the driver.
// The latest raised code wins.
type ErrorCode int

// Error codes.
const (
	ErrorNone           ErrorCode = 0
	ErrorTimeout        ErrorCode = -1
	ErrorNoHandler      ErrorCode = -2
	ErrorNoChar         ErrorCode = -3
	ErrorNak            ErrorCode = -4
	ErrorQueueOverflow  ErrorCode = -5
	ErrorResync         ErrorCode = -6
	ErrorNoDisplay      ErrorCode = -7
	ErrorBadChecksum    ErrorCode = -8
	ErrorUnexpectedByte ErrorCode = -9
	ErrorStackOverflow  ErrorCode = -10
)

var errorNames = map[ErrorCode]string{
	ErrorNone:           "none",
	ErrorTimeout:        "timeout",
	ErrorNoHandler:      "no handler",
	ErrorNoChar:         "no char",
	ErrorNak:            "nak",
	ErrorQueueOverflow:  "queue overflow",
	ErrorResync:         "resync",
	ErrorNoDisplay:      "no display",
	ErrorBadChecksum:    "bad checksum",
	ErrorUnexpectedByte: "unexpected byte",
	ErrorStackOverflow:  "state stack overflow",
}

// String implements fmt.Stringer.
func (c ErrorCode) String() string {
	if name, ok := errorNames[c]; ok {
		return name
	}
	return "error " + strconv.Itoa(int(c))
}

// Error implements error.
func (c ErrorCode) Error() string {
	return "genie: " + c.String()
}

var (
	// ErrStringTooLong is returned when a string doesn't fit in a
	// single write string command.
	ErrStringTooLong = errors.New("genie: string longer than 255")
	// ErrStackOverflow is returned when pushing on a full state stack.
	ErrStackOverflow = errors.New("genie: link state stack overflow")
)

// ErrorHandler is the hook for all errors raised by the driver.
type ErrorHandler interface {
	HandleError(*Driver, ErrorCode)
}

// HandleErrorFunc is func type of ErrorHandler.
type HandleErrorFunc func(*Driver, ErrorCode)

// HandleError implements ErrorHandler.
func (f HandleErrorFunc) HandleError(d *Driver, code ErrorCode) {
	f(d, code)
}
