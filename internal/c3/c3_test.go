package c3

import (
	"encoding/hex"
	"testing"

	"github.com/stapelberg/midea-lan/internal/frame"
)

func frameFromHex(t *testing.T, s string) frame.Frame {
	t.Helper()
	raw, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	f, err := frame.Decode(raw)
	if err != nil {
		t.Fatalf("frame.Decode: %v", err)
	}
	return f
}

func TestDecodeBasicResponseCaptured(t *testing.T) {
	f := frameFromHex(t,
		"aa23c300000000000003010517a10303191e143037191905371919053c223c142200002c")
	r, err := DecodeBasicResponse(f.Payload)
	if err != nil {
		t.Fatalf("DecodeBasicResponse: %v", err)
	}

	// payload[1] = 0x05: zone1 power + DHW power.
	if !r.Zone1.Power || r.Zone2.Power {
		t.Errorf("zone power = %v/%v, want on/off", r.Zone1.Power, r.Zone2.Power)
	}
	if !r.DHWPower {
		t.Errorf("DHWPower = false, want true")
	}

	// payload[2] = 0x17: heat, cool, DHW enabled; no second zone.
	if !r.HeatEnabled || !r.CoolEnabled || !r.DHWEnabled {
		t.Errorf("enables = %v/%v/%v, want all true", r.HeatEnabled, r.CoolEnabled, r.DHWEnabled)
	}
	if r.Zone2Enabled {
		t.Errorf("Zone2Enabled = true, want false")
	}
	if r.Zone1.TemperatureType != TemperatureWater {
		t.Errorf("zone 1 temperature type = %v, want WATER", r.Zone1.TemperatureType)
	}

	if r.RunMode != RunModeHeat {
		t.Errorf("RunMode = %v, want HEAT", r.RunMode)
	}
	if r.Zone1.TargetTemperature != 0x19 {
		t.Errorf("zone 1 target = %d, want 25", r.Zone1.TargetTemperature)
	}
	if r.DHWTargetTemperature != 0x14 {
		t.Errorf("DHW target = %d, want 20", r.DHWTargetTemperature)
	}
	if r.RoomTargetTemperature != 24.0 {
		t.Errorf("room target = %v, want 24.0", r.RoomTargetTemperature)
	}

	if r.Zone1.HeatMaxTemperature != 55 || r.Zone1.HeatMinTemperature != 25 {
		t.Errorf("zone 1 heat bounds = %d/%d, want 25..55", r.Zone1.HeatMinTemperature, r.Zone1.HeatMaxTemperature)
	}
	if r.DHWMaxTemperature != 60 || r.DHWMinTemperature != 20 {
		t.Errorf("DHW bounds = %d/%d, want 20..60", r.DHWMinTemperature, r.DHWMaxTemperature)
	}

	if !r.HasTankTemperature || r.TankTemperature != 0x22 {
		t.Errorf("tank = %d (has=%v), want 34", r.TankTemperature, r.HasTankTemperature)
	}
	if r.ErrorCode != 0 {
		t.Errorf("ErrorCode = %d, want 0", r.ErrorCode)
	}
}

func TestDecodeBasicResponseTankSensorAbsent(t *testing.T) {
	payload := make([]byte, 25)
	payload[0] = byte(QueryBasic)
	payload[22] = 0xFF
	r, err := DecodeBasicResponse(payload)
	if err != nil {
		t.Fatalf("DecodeBasicResponse: %v", err)
	}
	if r.HasTankTemperature {
		t.Errorf("HasTankTemperature = true, want false for sentinel 0xFF")
	}
}

func TestDecodePower4ReportCaptured(t *testing.T) {
	f := frameFromHex(t,
		"aab9c3000000000000040400000012fc000023aa0b201e2930ffff01000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000e10000000000000000000000000000000000140b")
	if f.FrameType != frame.FrameTypeReport {
		t.Fatalf("FrameType = 0x%02X, want REPORT", byte(f.FrameType))
	}
	r, err := DecodePower4Report(f.Payload)
	if err != nil {
		t.Fatalf("DecodePower4Report: %v", err)
	}

	if r.ElectricPower != 4860 {
		t.Errorf("ElectricPower = %d, want 4860", r.ElectricPower)
	}
	if r.ThermalPower != 9130 {
		t.Errorf("ThermalPower = %d, want 9130", r.ThermalPower)
	}
	if r.OutdoorAirTemperature != 11 {
		t.Errorf("OutdoorAirTemperature = %d, want 11", r.OutdoorAirTemperature)
	}
	if r.WaterTankTemperature != 41 {
		t.Errorf("WaterTankTemperature = %d, want 41", r.WaterTankTemperature)
	}
	if r.Voltage != 225 {
		t.Errorf("Voltage = %d, want 225", r.Voltage)
	}
}

func TestEncodeQueryBasicFrame(t *testing.T) {
	raw := frame.Encode(frame.Frame{
		DeviceType: frame.HeatPump,
		FrameType:  frame.FrameTypeQuery,
		Payload:    EncodeQuery(QueryBasic),
	})
	if raw[1] != 0x0B {
		t.Errorf("length byte = 0x%02X, want 0x0B", raw[1])
	}
	if raw[9] != byte(frame.FrameTypeQuery) {
		t.Errorf("frame type = 0x%02X, want QUERY", raw[9])
	}
	if raw[10] != byte(QueryBasic) {
		t.Errorf("query type = 0x%02X, want QUERY_BASIC", raw[10])
	}
}

func TestEncodeControlBasicFrame(t *testing.T) {
	control := BasicControl{
		Zone1Power:             true,
		DHWPower:               true,
		RunMode:                RunModeHeat,
		Zone1TargetTemperature: 45,
		DHWTargetTemperature:   50,
		RoomTargetTemperature:  21.5,
		FastDHW:                true,
	}
	raw := frame.Encode(frame.Frame{
		DeviceType: frame.HeatPump,
		FrameType:  frame.FrameTypeControl,
		Payload:    control.Encode(),
	})
	if raw[1] != 0x14 {
		t.Errorf("length byte = 0x%02X, want 0x14", raw[1])
	}
	if raw[9] != byte(frame.FrameTypeControl) {
		t.Errorf("frame type = 0x%02X, want CONTROL", raw[9])
	}
	if raw[10] != byte(ControlBasic) {
		t.Errorf("control type = 0x%02X, want CONTROL_BASIC", raw[10])
	}

	payload := control.Encode()
	if payload[1] != 0x05 {
		t.Errorf("power bits = 0x%02X, want 0x05", payload[1])
	}
	if payload[2] != byte(RunModeHeat) {
		t.Errorf("run mode = %d, want HEAT", payload[2])
	}
	if payload[6] != 43 {
		t.Errorf("room target = %d, want 43 (21.5C in half steps)", payload[6])
	}
	if payload[7] != 0x08 {
		t.Errorf("flag bits = 0x%02X, want fast-DHW only", payload[7])
	}
}

func TestHeatPumpHandleBasicResponseCreatesZone2(t *testing.T) {
	payload := make([]byte, 25)
	payload[0] = byte(QueryBasic)
	payload[1] = 0x03 // zone1 + zone2 power
	payload[2] = 0x08 // double-zone enable
	payload[4] = byte(RunModeAuto)
	payload[22] = 0xFF

	dev := New(nil, 0, "test")
	dev.HandleFrame(frame.Frame{
		DeviceType: frame.HeatPump,
		FrameType:  frame.FrameTypeQuery,
		Payload:    payload,
	})

	s := dev.State()
	if s.Zone2 == nil {
		t.Fatalf("Zone2 = nil, want created from double-zone flag")
	}
	if !s.Zone2.Power {
		t.Errorf("Zone2.Power = false, want true")
	}
	if s.HasTankTemperature {
		t.Errorf("HasTankTemperature = true, want false")
	}
	if !dev.Supported() {
		t.Errorf("Supported = false after a clean decode")
	}
}

func TestHeatPumpHandlePower4Report(t *testing.T) {
	dev := New(nil, 0, "test")
	dev.HandleFrame(frameFromHex(t,
		"aab9c3000000000000040400000012fc000023aa0b201e2930ffff01000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000e10000000000000000000000000000000000140b"))

	s := dev.State()
	if s.ElectricPower != 4860 || s.ThermalPower != 9130 {
		t.Errorf("counters = %d/%d, want 4860/9130", s.ElectricPower, s.ThermalPower)
	}
	if s.OutdoorTemperature != 11 {
		t.Errorf("OutdoorTemperature = %d, want 11", s.OutdoorTemperature)
	}
	if s.Voltage != 225 {
		t.Errorf("Voltage = %d, want 225", s.Voltage)
	}
	if !s.HasTankTemperature || s.TankTemperature != 41 {
		t.Errorf("tank = %v (has=%v), want 41", s.TankTemperature, s.HasTankTemperature)
	}
}
