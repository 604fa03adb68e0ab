// Package link provides the master side of the Genie display link protocol.
package link

// The display talks over a point-to-point serial line. The host sends
// commands (read/write an object, contrast, strings) terminated by an XOR
// checksum, and the display answers with a single ACK/NAK byte or a 6-byte
// report frame. At any time the display may also send an unsolicited 6-byte
// event frame, even in the middle of waiting for an ACK.
//
// Driver consumes the incoming stream one byte at a time in Poll. A small
// stack of link states remembers what the driver was waiting for while an
// event frame is received, and completed frames are queued in a bounded
// EventQueue until the application drains them from its EventHandler.
//
// Driver is not safe for concurrent use. See package client for a
// goroutine-safe front end.
