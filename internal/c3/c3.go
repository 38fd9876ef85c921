// Package c3 implements the payload codec and device state machine
// for Midea heat pumps (device type 0xC3): query/control command
// types, the basic state response with its two-zone/DHW layout, and
// the unsolicited POWER4 energy report.
//
// Grounded on original_source/msmart/device/C3/command.py (the
// QueryType/ControlType/ReportType enums and the exact byte offsets
// of QueryBasicResponse, ReportPower4Response, and
// QueryUnitParametersResponse) and device.py (zone handling, run
// modes), expressed the way _examples/stapelberg-hmgo's internal/hm
// packages decode bit-packed device payloads into plain Go structs.
package c3

import (
	"encoding/binary"
	"fmt"
)

// QueryType identifies what a query command asks for.
type QueryType byte

const (
	QueryBasic          QueryType = 0x01
	QueryDayTimer       QueryType = 0x02
	QueryWeeksTimer     QueryType = 0x03
	QueryHolidayAway    QueryType = 0x04
	QuerySilence        QueryType = 0x05
	QueryHolidayHome    QueryType = 0x06
	QueryEco            QueryType = 0x07
	QueryInstall        QueryType = 0x08
	QueryDisinfect      QueryType = 0x09
	QueryHMIParameters  QueryType = 0x0A
	QueryUnitParameters QueryType = 0x10
)

// ControlType identifies what a control command sets.
type ControlType byte

const (
	ControlBasic       ControlType = 0x01
	ControlDayTimer    ControlType = 0x02
	ControlWeeksTimer  ControlType = 0x03
	ControlHolidayAway ControlType = 0x04
	ControlSilence     ControlType = 0x05
	ControlHolidayHome ControlType = 0x06
	ControlEco         ControlType = 0x07
	ControlInstall     ControlType = 0x08
	ControlDisinfect   ControlType = 0x09
)

// ReportType identifies the subtype of an unsolicited report.
type ReportType byte

const (
	ReportBasic          ReportType = 0x01
	ReportPower3         ReportType = 0x03
	ReportPower4         ReportType = 0x04
	ReportUnitParameters ReportType = 0x05
)

// RunMode is the heat pump's global operating mode.
type RunMode byte

const (
	RunModeAuto RunMode = 1
	RunModeCool RunMode = 2
	RunModeHeat RunMode = 3
	RunModeDHW  RunMode = 5
)

func (m RunMode) String() string {
	switch m {
	case RunModeAuto:
		return "AUTO"
	case RunModeCool:
		return "COOL"
	case RunModeHeat:
		return "HEAT"
	case RunModeDHW:
		return "DHW"
	default:
		return fmt.Sprintf("RunMode(%d)", byte(m))
	}
}

// TemperatureType selects which sensor a zone's target applies to.
type TemperatureType byte

const (
	TemperatureAir   TemperatureType = 0
	TemperatureWater TemperatureType = 1
)

// TerminalType identifies the kind of heat emitter a zone drives.
type TerminalType byte

const (
	TerminalFanCoil   TerminalType = 0
	TerminalFloorHeat TerminalType = 1
	TerminalRadiator  TerminalType = 2
)

// EncodeQuery builds a query command payload for the given query
// type.
func EncodeQuery(qt QueryType) []byte {
	return []byte{byte(qt)}
}

// BasicControl is the full CONTROL_BASIC command state: like the AC
// set-state, the device treats it as a snapshot, so every field must
// be populated before encoding.
type BasicControl struct {
	Zone1Power bool
	Zone2Power bool
	DHWPower   bool

	RunMode RunMode

	Zone1TargetTemperature byte
	Zone2TargetTemperature byte
	DHWTargetTemperature   byte
	// RoomTargetTemperature is in degrees C; the wire carries it in
	// half-degree steps.
	RoomTargetTemperature float64

	Zone1Curve bool
	Zone2Curve bool
	TBH        bool
	FastDHW    bool
}

// Encode builds the 10-byte CONTROL_BASIC payload.
func (c BasicControl) Encode() []byte {
	payload := make([]byte, 10)
	payload[0] = byte(ControlBasic)

	if c.Zone1Power {
		payload[1] |= 0x01
	}
	if c.Zone2Power {
		payload[1] |= 0x02
	}
	if c.DHWPower {
		payload[1] |= 0x04
	}

	payload[2] = byte(c.RunMode)
	payload[3] = c.Zone1TargetTemperature
	payload[4] = c.Zone2TargetTemperature
	payload[5] = c.DHWTargetTemperature
	payload[6] = byte(c.RoomTargetTemperature * 2)

	if c.Zone1Curve {
		payload[7] |= 0x01
	}
	if c.Zone2Curve {
		payload[7] |= 0x02
	}
	if c.TBH {
		payload[7] |= 0x04
	}
	if c.FastDHW {
		payload[7] |= 0x08
	}

	return payload
}

// ZoneState is the decoded per-zone portion of a basic response.
type ZoneState struct {
	Power           bool
	Curve           bool
	TemperatureType TemperatureType
	TerminalType    TerminalType

	TargetTemperature byte

	HeatMinTemperature byte
	HeatMaxTemperature byte
	CoolMinTemperature byte
	CoolMaxTemperature byte
}

// BasicResponse is the decoded payload of a QUERY_BASIC response.
type BasicResponse struct {
	Zone1 ZoneState
	Zone2 ZoneState
	// Zone2Enabled reports the double-zone flag; Zone2 is only
	// meaningful when it is set.
	Zone2Enabled bool

	// TBH and FastDHW both read the 0x40 bit of the status byte; the
	// vendor protocol appears to overload it and the two are believed
	// mutually exclusive. Both readings are preserved until a
	// captured trace disambiguates them.
	TBH     bool
	FastDHW bool

	HeatEnabled bool
	CoolEnabled bool
	DHWEnabled  bool

	RoomThermostatPower  bool
	RoomThermostatEnable bool

	TimeSet   bool
	SilenceOn bool
	HolidayOn bool
	EcoOn     bool

	RunMode          RunMode
	RunModeUnderAuto RunMode

	DHWPower             bool
	DHWTargetTemperature byte
	DHWMinTemperature    byte
	DHWMaxTemperature    byte

	RoomTargetTemperature float64
	RoomMinTemperature    float64
	RoomMaxTemperature    float64

	// TankTemperature is absent when the sensor byte reads 0xFF.
	TankTemperature    byte
	HasTankTemperature bool

	ErrorCode byte
	TBHEnable bool

	Zone1CurveType byte
	Zone2CurveType byte
}

// DecodeBasicResponse decodes a QUERY_BASIC response payload
// (subtype 0x01 at byte 0).
func DecodeBasicResponse(payload []byte) (BasicResponse, error) {
	var r BasicResponse
	if len(payload) < 25 {
		return r, fmt.Errorf("c3: basic response too short: %d bytes", len(payload))
	}
	if QueryType(payload[0]) != QueryBasic {
		return r, fmt.Errorf("c3: payload is not a basic response: type 0x%02X", payload[0])
	}

	r.Zone1.Power = payload[1]&0x01 != 0
	r.Zone2.Power = payload[1]&0x02 != 0
	r.DHWPower = payload[1]&0x04 != 0
	r.Zone1.Curve = payload[1]&0x08 != 0
	r.Zone2.Curve = payload[1]&0x10 != 0
	r.TBH = payload[1]&0x40 != 0
	r.FastDHW = payload[1]&0x40 != 0

	r.HeatEnabled = payload[2]&0x01 != 0
	r.CoolEnabled = payload[2]&0x02 != 0
	r.DHWEnabled = payload[2]&0x04 != 0
	r.Zone2Enabled = payload[2]&0x08 != 0
	r.Zone1.TemperatureType = TemperatureType(b2i(payload[2]&0x10 != 0))
	r.Zone2.TemperatureType = TemperatureType(b2i(payload[2]&0x20 != 0))
	r.RoomThermostatPower = payload[2]&0x40 != 0
	r.RoomThermostatEnable = payload[2]&0x80 != 0

	r.TimeSet = payload[3]&0x01 != 0
	r.SilenceOn = payload[3]&0x02 != 0
	r.HolidayOn = payload[3]&0x04 != 0
	r.EcoOn = payload[3]&0x08 != 0
	r.Zone1.TerminalType = TerminalType((payload[3] & 0x30) >> 4)
	r.Zone2.TerminalType = TerminalType((payload[3] & 0xC0) >> 6)

	r.RunMode = RunMode(payload[4])
	r.RunModeUnderAuto = RunMode(payload[5])

	r.Zone1.TargetTemperature = payload[6]
	r.Zone2.TargetTemperature = payload[7]
	r.DHWTargetTemperature = payload[8]
	r.RoomTargetTemperature = float64(payload[9]) / 2

	r.Zone1.HeatMaxTemperature = payload[10]
	r.Zone1.HeatMinTemperature = payload[11]
	r.Zone1.CoolMaxTemperature = payload[12]
	r.Zone1.CoolMinTemperature = payload[13]

	r.Zone2.HeatMaxTemperature = payload[14]
	r.Zone2.HeatMinTemperature = payload[15]
	r.Zone2.CoolMaxTemperature = payload[16]
	r.Zone2.CoolMinTemperature = payload[17]

	r.RoomMaxTemperature = float64(payload[18]) / 2
	r.RoomMinTemperature = float64(payload[19]) / 2

	r.DHWMaxTemperature = payload[20]
	r.DHWMinTemperature = payload[21]

	if payload[22] != 0xFF {
		r.HasTankTemperature = true
		r.TankTemperature = payload[22]
	}

	r.ErrorCode = payload[23]
	r.TBHEnable = payload[24]&0x80 != 0

	if len(payload) > 26 {
		r.Zone1CurveType = payload[25]
		r.Zone2CurveType = payload[26]
	}

	return r, nil
}

// Power4Report is the decoded payload of an unsolicited POWER4
// report: cumulative electric/thermal energy counters, outdoor air
// temperature, tank temperature, and supply voltage.
type Power4Report struct {
	HeatActive bool
	CoolActive bool
	DHWActive  bool
	TBHActive  bool

	ElectricPower uint32
	ThermalPower  uint32

	OutdoorAirTemperature int8

	Zone1TargetTemperature byte
	Zone2TargetTemperature byte
	WaterTankTemperature   byte

	Online  bool
	Voltage byte
}

// DecodePower4Report decodes a POWER4 unsolicited report (subtype
// 0x04 at byte 0). The report is long: the voltage byte sits at
// offset 156, past per-unit run status blocks this decoder skips.
func DecodePower4Report(payload []byte) (Power4Report, error) {
	var r Power4Report
	if len(payload) < 157 {
		return r, fmt.Errorf("c3: POWER4 report too short: %d bytes", len(payload))
	}
	if ReportType(payload[0]) != ReportPower4 {
		return r, fmt.Errorf("c3: payload is not a POWER4 report: type 0x%02X", payload[0])
	}

	r.HeatActive = payload[1]&0x01 != 0
	r.CoolActive = payload[1]&0x02 != 0
	r.DHWActive = payload[1]&0x04 != 0
	r.TBHActive = payload[1]&0x08 != 0

	r.ElectricPower = binary.BigEndian.Uint32(payload[2:6])
	r.ThermalPower = binary.BigEndian.Uint32(payload[6:10])

	r.OutdoorAirTemperature = int8(payload[10])
	r.Zone1TargetTemperature = payload[11]
	r.Zone2TargetTemperature = payload[12]
	r.WaterTankTemperature = payload[13]

	r.Online = payload[17]&0x01 != 0
	r.Voltage = payload[156]

	return r, nil
}

// UnitParameters is the decoded payload of a QUERY_UNIT_PARAMETERS
// response. Most of its fields are unused by the vendor app and left
// unparsed.
type UnitParameters struct {
	OutdoorTemperature int8
	WaterTemperature2  int8
	TankTemperature    int8
	RoomTemperature    int8
}

// DecodeUnitParameters decodes a QUERY_UNIT_PARAMETERS response
// payload.
func DecodeUnitParameters(payload []byte) (UnitParameters, error) {
	var r UnitParameters
	if len(payload) < 40 {
		return r, fmt.Errorf("c3: unit parameters response too short: %d bytes", len(payload))
	}
	r.OutdoorTemperature = int8(payload[8])
	r.WaterTemperature2 = int8(payload[11])
	r.TankTemperature = int8(payload[38])
	r.RoomTemperature = int8(payload[39])
	return r, nil
}

func b2i(b bool) byte {
	if b {
		return 1
	}
	return 0
}
