package link

import "fmt"

// FrameSize is the size of every report and event frame.
const FrameSize = 6

// Command codes and reply markers defined by the display.
const (
	ReadObject         byte = 0
	WriteObject        byte = 1
	WriteString        byte = 2
	WriteStringUnicode byte = 3
	WriteContrast      byte = 4
	ReportObject       byte = 5
	ReportEvent        byte = 7

	Ack byte = 0x06
	Nak byte = 0x15
)

// Frame is a report or event frame received from the display:
// cmd, object, index, data MSB, data LSB, checksum.
type Frame [FrameSize]byte

// NewFrame builds a frame and fills in the checksum.
func NewFrame(cmd, object, index byte, data uint16) Frame {
	f := Frame{cmd, object, index, byte(data >> 8), byte(data)}
	f[5] = Checksum(f[:5]...)
	return f
}

// Checksum calculates the XOR of all bytes.
func Checksum(bs ...byte) (cs byte) {
	for _, b := range bs {
		cs ^= b
	}
	return
}

// Cmd returns the command byte (ReportObject or ReportEvent).
func (f Frame) Cmd() byte { return f[0] }

// Object returns the object type id.
func (f Frame) Object() byte { return f[1] }

// Index returns the object index.
func (f Frame) Index() byte { return f[2] }

// Data combines the big-endian data bytes.
func (f Frame) Data() uint16 {
	return uint16(f[3])<<8 | uint16(f[4])
}

// Valid checks the XOR of all bytes including the checksum is zero.
func (f Frame) Valid() bool {
	return Checksum(f[:]...) == 0
}

// Is checks cmd, object and index all match.
func (f Frame) Is(cmd, object, index byte) bool {
	return f[0] == cmd && f[1] == object && f[2] == index
}

// IsEvent indicates an unsolicited event frame.
func (f Frame) IsEvent() bool { return f[0] == ReportEvent }

// IsReport indicates a reply to ReadObject.
func (f Frame) IsReport() bool { return f[0] == ReportObject }

// String implements fmt.Stringer.
func (f Frame) String() string {
	kind := "frame"
	switch {
	case f.IsEvent():
		kind = "event"
	case f.IsReport():
		kind = "report"
	}
	return fmt.Sprintf("%s %s[%d]=%d", kind, ObjectType(f[1]), f[2], f.Data())
}
