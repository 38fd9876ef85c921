// Package cc implements the payload codec and device state machine
// for Midea commercial coolers (device type 0xCC), whose query/
// control scheme differs from residential ACs: TLV-based "control
// IDs" with their own byte layouts, and a state-response format
// carrying supported-mode bitmaps and decimal indoor temperature.
//
// Grounded directly on original_source/msmart/device/CC/command.py
// (ControlId enum, Command/QueryCommand/ControlCommand, the
// StateResponse "key_maps" byte offsets, ControlResponse TLV loop)
// and its captured fixtures in test_command.py, generalized from the
// Python class hierarchy into plain Go functions and structs the way
// the teacher's _examples/stapelberg-hmgo/internal/bidcos package
// represents wire structures.
package cc

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"

	"github.com/stapelberg/midea-lan/internal/crc8"
	"github.com/stapelberg/midea-lan/internal/frame"
)

// CommandType tags the first payload byte of a CC command.
type CommandType byte

const (
	CommandControl CommandType = 0xC3
	CommandQuery   CommandType = 0x01
	CommandLock    CommandType = 0xB0
	CommandSmart   CommandType = 0xE0
)

// ControlID identifies a single commercial-cooler control point.
type ControlID uint16

const (
	ControlPower             ControlID = 0x0000
	ControlTargetTemperature ControlID = 0x0003
	ControlTemperatureUnit   ControlID = 0x000C
	ControlMode              ControlID = 0x0012
	ControlFanSpeed          ControlID = 0x0015
	ControlVertSwingAngle    ControlID = 0x001C
	ControlHorzSwingAngle    ControlID = 0x001E
	ControlWindSense         ControlID = 0x0020
	ControlEco               ControlID = 0x0028
	ControlSilent            ControlID = 0x002A
	ControlSleep             ControlID = 0x002C
	ControlSelfClean         ControlID = 0x002E
	ControlPurifier          ControlID = 0x003A
	ControlBeep              ControlID = 0x003F
	ControlDisplay           ControlID = 0x0040
	ControlAuxMode           ControlID = 0x0043
)

var controlIDNames = map[ControlID]string{
	ControlPower:             "POWER",
	ControlTargetTemperature: "TARGET_TEMPERATURE",
	ControlTemperatureUnit:   "TEMPERATURE_UNIT",
	ControlMode:              "MODE",
	ControlFanSpeed:          "FAN_SPEED",
	ControlVertSwingAngle:    "VERT_SWING_ANGLE",
	ControlHorzSwingAngle:    "HORZ_SWING_ANGLE",
	ControlWindSense:         "WIND_SENSE",
	ControlEco:               "ECO",
	ControlSilent:            "SILENT",
	ControlSleep:             "SLEEP",
	ControlSelfClean:         "SELF_CLEAN",
	ControlPurifier:          "PURIFIER",
	ControlBeep:              "BEEP",
	ControlDisplay:           "DISPLAY",
	ControlAuxMode:           "AUX_MODE",
}

func (c ControlID) String() string {
	if n, ok := controlIDNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CONTROL(0x%04X)", uint16(c))
}

// Decode converts a control's raw TLV value into a convenient Go
// value.
func (c ControlID) Decode(data []byte) any {
	switch c {
	case ControlTargetTemperature:
		return (float64(data[0]) / 2.0) - 40
	case ControlPurifier:
		return data[0] == 0x01
	default:
		return data[0]
	}
}

// Encode converts a Go value into a control's raw TLV bytes. The
// target temperature wire encoding is byte = 2*T + 80; the purifier
// is 0x01 on / 0x02 off.
func (c ControlID) Encode(value any) ([]byte, error) {
	switch c {
	case ControlTargetTemperature:
		t, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("cc: TARGET_TEMPERATURE requires a float64 value")
		}
		return []byte{byte(int(2*t) + 80)}, nil
	case ControlPurifier:
		on, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("cc: PURIFIER requires a bool value")
		}
		if on {
			return []byte{0x01}, nil
		}
		return []byte{0x02}, nil
	default:
		b, ok := value.(byte)
		if !ok {
			return nil, fmt.Errorf("cc: control %s requires a byte value", c)
		}
		return []byte{b}, nil
	}
}

// Every CC command carries a sequential message id and a CRC-8
// trailer; the counter is shared process-wide like the reference
// implementation's.
var (
	messageIDMu sync.Mutex
	messageID   byte
)

func nextMessageID() byte {
	messageIDMu.Lock()
	defer messageIDMu.Unlock()
	messageID++
	return messageID
}

// ResetMessageID rewinds the message-id counter; for tests that need
// deterministic output.
func ResetMessageID() {
	messageIDMu.Lock()
	defer messageIDMu.Unlock()
	messageID = 0
}

// EncodeQuery builds the query-command payload: a 22-byte body with
// the command type at byte 0, plus the message-id/CRC-8 trailer.
func EncodeQuery() []byte {
	payload := make([]byte, 22)
	payload[0] = byte(CommandQuery)
	return appendTrailer(payload)
}

// EncodeControl builds a control-command payload from a set of
// control values, each entry as `{id:u16 BE, size:u8, value, 0xFF
// terminator}`.
func EncodeControl(controls map[ControlID]any) ([]byte, error) {
	var payload []byte
	for id, value := range controls {
		encoded, err := id.Encode(value)
		if err != nil {
			return nil, err
		}
		var idBytes [2]byte
		binary.BigEndian.PutUint16(idBytes[:], uint16(id))
		payload = append(payload, idBytes[:]...)
		payload = append(payload, byte(len(encoded)))
		payload = append(payload, encoded...)
		payload = append(payload, 0xFF)
	}
	return appendTrailer(payload), nil
}

func appendTrailer(payload []byte) []byte {
	payload = append(payload, nextMessageID())
	return append(payload, crc8.Calculate(payload))
}

// StateResponse is the decoded payload of a query/report response.
type StateResponse struct {
	PowerOn           bool
	TargetTemperature float64
	IndoorTemperature float64
	SupportedModes    []byte
	OperationalMode   byte
	FanSpeed          byte
	SwingUDAngle      byte
	SwingLRAngle      byte
	Soft              bool
	Eco               bool
	Silent            bool
	Sleep             bool
	Purifier          bool
	AuxMode           byte
}

// DecodeStateResponse parses a state-response payload. The response
// flavor is dispatched on the leading bytes: 0x01 0xFE marks the
// "key_maps" layout decoded here; anything else is an unsupported
// legacy flavor and is rejected rather than misread at wrong offsets.
func DecodeStateResponse(payload []byte) (StateResponse, error) {
	var r StateResponse
	if len(payload) < 2 || payload[0] != 0x01 || payload[1] != 0xFE {
		return r, fmt.Errorf("cc: state response payload lacks expected header 0x01FE")
	}
	if len(payload) < 88 {
		return r, fmt.Errorf("cc: state response too short: %d bytes", len(payload))
	}

	r.PowerOn = payload[8] != 0
	r.TargetTemperature = (float64(payload[11]) / 2.0) - 40
	r.IndoorTemperature = float64(uint16(payload[12])<<8|uint16(payload[13])) / 10.0
	r.SupportedModes = append([]byte{}, payload[26:31]...)
	r.OperationalMode = payload[31]
	r.FanSpeed = payload[34]
	r.SwingUDAngle = payload[41]
	r.SwingLRAngle = payload[43]
	r.Soft = payload[45] != 0
	r.Eco = payload[56] != 0
	r.Silent = payload[58] != 0
	r.Sleep = payload[60] != 0
	r.Purifier = payload[75]&0x01 != 0
	r.AuxMode = payload[87]

	return r, nil
}

// ControlResponse is the decoded acknowledgement of a control
// command: the control IDs the device echoed back with their values.
type ControlResponse struct {
	states map[ControlID]any
}

// Get returns the echoed value of a control, if present.
func (r ControlResponse) Get(id ControlID) (any, bool) {
	v, ok := r.states[id]
	return v, ok
}

// DecodeControlResponse parses the control-acknowledgement TLV loop:
// each entry is `{id:u16 BE, size:u8, value, 0xFF terminator}`;
// zero-size entries are skipped, unknown IDs logged and skipped.
func DecodeControlResponse(payload []byte) (ControlResponse, error) {
	r := ControlResponse{states: make(map[ControlID]any)}
	if len(payload) < 6 {
		return r, fmt.Errorf("cc: control response payload %X is too short", payload)
	}

	for len(payload) >= 5 {
		size := payload[2]
		if size == 0 {
			// Zero length values still occupy one value byte.
			payload = payload[5:]
			continue
		}
		advance := 4 + int(size)
		if advance > len(payload) {
			break
		}

		rawID := binary.BigEndian.Uint16(payload[0:2])
		id := ControlID(rawID)
		if _, known := controlIDNames[id]; !known {
			log.Printf("WARN: Unknown control ID 0x%04X, Size: %d.", rawID, size)
			payload = payload[advance:]
			continue
		}

		if value := id.Decode(payload[3:]); value != nil {
			r.states[id] = value
		}

		payload = payload[advance:]
	}

	return r, nil
}

// DecodeResponse dispatches a received frame to the right decoder by
// frame type: query and report frames carry state responses, control
// frames carry acknowledgement TLVs.
func DecodeResponse(f frame.Frame) (any, error) {
	switch f.FrameType {
	case frame.FrameTypeQuery, frame.FrameTypeReport:
		return DecodeStateResponse(f.Payload)
	case frame.FrameTypeControl:
		return DecodeControlResponse(f.Payload)
	default:
		return nil, fmt.Errorf("cc: unrecognized frame type 0x%02X", byte(f.FrameType))
	}
}
