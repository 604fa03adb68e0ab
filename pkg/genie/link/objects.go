package link

import (
	"fmt"
	"strconv"
	"strings"
)

// ObjectType identifies the kind of an object on the display.
// Ids may change with display firmware, so commands take raw bytes and
// these names are only a convenience.
type ObjectType byte

// Object types known at the time of writing.
const (
	ObjDipSwitch ObjectType = iota
	ObjKnob
	ObjRockerSwitch
	ObjRotarySwitch
	ObjSlider
	ObjTrackbar
	ObjWinButton
	ObjAngularMeter
	ObjCoolGauge
	ObjCustomDigits
	ObjForm
	ObjGauge
	ObjImage
	ObjKeyboard
	ObjLed
	ObjLedDigits
	ObjMeter
	ObjStrings
	ObjThermometer
	ObjUserLed
	ObjVideo
	ObjStaticText
	ObjSound
	ObjTimer
	ObjSpectrum
	ObjScope
	ObjTank
	ObjUserImages
	ObjPinOutput
	ObjPinInput
	Obj4DButton
	ObjAniButton
	ObjColorPicker
	ObjUserButton
)

var objectNames = []string{
	"dipsw",
	"knob",
	"rockersw",
	"rotarysw",
	"slider",
	"trackbar",
	"winbutton",
	"angularmeter",
	"coolgauge",
	"customdigits",
	"form",
	"gauge",
	"image",
	"keyboard",
	"led",
	"leddigits",
	"meter",
	"strings",
	"thermometer",
	"userled",
	"video",
	"statictext",
	"sound",
	"timer",
	"spectrum",
	"scope",
	"tank",
	"userimages",
	"pinoutput",
	"pininput",
	"4dbutton",
	"anibutton",
	"colorpicker",
	"userbutton",
}

// String implements fmt.Stringer.
func (t ObjectType) String() string {
	if int(t) < len(objectNames) {
		return objectNames[t]
	}
	return "obj" + strconv.Itoa(int(t))
}

// ParseObjectType accepts an object type name or a number.
func ParseObjectType(s string) (ObjectType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for n, objName := range objectNames {
		if objName == name {
			return ObjectType(n), nil
		}
	}
	val, err := strconv.ParseUint(strings.TrimPrefix(name, "obj"), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid object type %q", s)
	}
	return ObjectType(val), nil
}
