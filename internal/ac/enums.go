// Package ac implements the payload codec, capability/property model,
// and device state machine for Midea residential air conditioners
// (device type 0xAC).
//
// Grounded on spec.md §3 "AC State"/"AC Capabilities"/"AC Properties"
// and §4.3, with byte layouts cross-checked against the captured
// frames in original_source/msmart/device/AC/test_command.py and
// test_device.py, which also fix the enum "from-name"/"from-value"
// default-fallback behavior this package reproduces.
package ac

import "strings"

// FanSpeed is the appliance's fan speed setting. Devices with
// continuous fan control accept any value in 1..100; the named
// constants are the stepped presets.
type FanSpeed int

const (
	FanSilent FanSpeed = 20
	FanLow    FanSpeed = 40
	FanMedium FanSpeed = 60
	FanHigh   FanSpeed = 80
	FanMax    FanSpeed = 100
	FanAuto   FanSpeed = 102
)

var fanSpeedNames = map[FanSpeed]string{
	FanSilent: "SILENT",
	FanLow:    "LOW",
	FanMedium: "MEDIUM",
	FanHigh:   "HIGH",
	FanMax:    "MAX",
	FanAuto:   "AUTO",
}

// FanSpeedFromValue maps a raw wire value to a FanSpeed. Devices that
// support continuous 1-100 fan control may return any value in that
// range; those are passed through as a custom speed rather than
// defaulted, since the device itself is the authority on what it
// actually set. Anything else defaults to FanAuto.
func FanSpeedFromValue(v int) FanSpeed {
	if _, ok := fanSpeedNames[FanSpeed(v)]; ok {
		return FanSpeed(v)
	}
	if v >= 1 && v <= 100 {
		return FanSpeed(v)
	}
	return FanAuto
}

// FanSpeedFromName maps a case-insensitive name to a FanSpeed,
// defaulting to FanAuto for unknown, empty, or absent names.
func FanSpeedFromName(name string) FanSpeed {
	name = strings.ToUpper(strings.TrimSpace(name))
	for v, n := range fanSpeedNames {
		if n == name {
			return v
		}
	}
	return FanAuto
}

func (f FanSpeed) String() string {
	if n, ok := fanSpeedNames[f]; ok {
		return n
	}
	return "CUSTOM"
}

// OperationalMode is the appliance's run mode.
type OperationalMode int

const (
	ModeAuto OperationalMode = iota + 1
	ModeCool
	ModeDry
	ModeHeat
	ModeFanOnly
	ModeSmartDry
)

var modeNames = map[OperationalMode]string{
	ModeAuto:     "AUTO",
	ModeCool:     "COOL",
	ModeDry:      "DRY",
	ModeHeat:     "HEAT",
	ModeFanOnly:  "FAN_ONLY",
	ModeSmartDry: "SMART_DRY",
}

// ModeFromValue maps a raw wire value, defaulting to ModeFanOnly for
// an unrecognized value.
func ModeFromValue(v int) OperationalMode {
	if _, ok := modeNames[OperationalMode(v)]; ok {
		return OperationalMode(v)
	}
	return ModeFanOnly
}

// ModeFromName maps a case-insensitive name, defaulting to ModeFanOnly
// for unknown, empty, or absent names.
func ModeFromName(name string) OperationalMode {
	name = strings.ToUpper(strings.TrimSpace(name))
	for v, n := range modeNames {
		if n == name {
			return v
		}
	}
	return ModeFanOnly
}

func (m OperationalMode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return "FAN_ONLY"
}

// SwingMode is the louvre oscillation axis selection. The values are
// the wire nibble in state responses (byte 7, low nibble).
type SwingMode int

const (
	SwingOff        SwingMode = 0x0
	SwingHorizontal SwingMode = 0x3
	SwingVertical   SwingMode = 0xC
	SwingBoth       SwingMode = 0xF
)

var swingModeNames = map[SwingMode]string{
	SwingOff:        "OFF",
	SwingVertical:   "VERTICAL",
	SwingHorizontal: "HORIZONTAL",
	SwingBoth:       "BOTH",
}

func SwingModeFromValue(v int) SwingMode {
	if _, ok := swingModeNames[SwingMode(v)]; ok {
		return SwingMode(v)
	}
	return SwingOff
}

func SwingModeFromName(name string) SwingMode {
	name = strings.ToUpper(strings.TrimSpace(name))
	for v, n := range swingModeNames {
		if n == name {
			return v
		}
	}
	return SwingOff
}

func (m SwingMode) String() string {
	if n, ok := swingModeNames[m]; ok {
		return n
	}
	return "OFF"
}

// SwingAngle is a fixed louvre position, expressed as the percentage
// value the property channel carries (0 disables the fixed angle and
// resumes sweeping).
type SwingAngle int

const (
	SwingAngleOff  SwingAngle = 0
	SwingAnglePos1 SwingAngle = 1
	SwingAnglePos2 SwingAngle = 25
	SwingAnglePos3 SwingAngle = 50
	SwingAnglePos4 SwingAngle = 75
	SwingAnglePos5 SwingAngle = 100
)

var swingAngleNames = map[SwingAngle]string{
	SwingAngleOff:  "OFF",
	SwingAnglePos1: "POS_1",
	SwingAnglePos2: "POS_2",
	SwingAnglePos3: "POS_3",
	SwingAnglePos4: "POS_4",
	SwingAnglePos5: "POS_5",
}

func SwingAngleFromValue(v int) SwingAngle {
	if _, ok := swingAngleNames[SwingAngle(v)]; ok {
		return SwingAngle(v)
	}
	return SwingAngleOff
}

func SwingAngleFromName(name string) SwingAngle {
	name = strings.ToUpper(strings.TrimSpace(name))
	for v, n := range swingAngleNames {
		if n == name {
			return v
		}
	}
	return SwingAngleOff
}

func (a SwingAngle) String() string {
	if n, ok := swingAngleNames[a]; ok {
		return n
	}
	return "OFF"
}

// RateSelect is the compressor throttling level, expressed as the
// percentage the property channel carries.
type RateSelect int

const (
	RateOff        RateSelect = 0
	Rate50Percent  RateSelect = 50
	Rate75Percent  RateSelect = 75
	Rate100Percent RateSelect = 100
)

var rateSelectNames = map[RateSelect]string{
	RateOff:        "OFF",
	Rate50Percent:  "GEAR_50",
	Rate75Percent:  "GEAR_75",
	Rate100Percent: "GEAR_100",
}

func RateSelectFromValue(v int) RateSelect {
	if _, ok := rateSelectNames[RateSelect(v)]; ok {
		return RateSelect(v)
	}
	return RateOff
}

func (r RateSelect) String() string {
	if n, ok := rateSelectNames[r]; ok {
		return n
	}
	return "OFF"
}
