package discovery

import (
	"encoding/hex"
	"net"
	"testing"

	"github.com/stapelberg/midea-lan/internal/frame"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return b
}

func TestClassifyV2Response(t *testing.T) {
	payload := mustHex(t,
		"5a5a011178007a8000000000000000000000000060ca0000000e0000000000000000000001000000c08651cb1b88a167bdcf7d37534ef81312d39429bf9b2673f200b635fae369a560fa9655eab8344be22b1e3b024ef5dfd392dc3db64dbffb6a66fb9cd5ec87a78000cd9043833b9f76991e8af29f3496")
	sourceIP := net.ParseIP("10.100.1.140")

	desc, err := Classify(payload, sourceIP)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if desc.ProtocolVersion != 2 {
		t.Errorf("ProtocolVersion = %d, want 2", desc.ProtocolVersion)
	}
	if !desc.IP.Equal(sourceIP) {
		t.Errorf("IP = %v, want %v", desc.IP, sourceIP)
	}
	if desc.Port != 6444 {
		t.Errorf("Port = %d, want 6444", desc.Port)
	}
	if desc.DeviceID != 15393162840672 {
		t.Errorf("DeviceID = %d, want 15393162840672", desc.DeviceID)
	}
	if desc.DeviceType != frame.AirConditioner {
		t.Errorf("DeviceType = %v, want AirConditioner", desc.DeviceType)
	}
	if desc.Name != "net_ac_F7B4" {
		t.Errorf("Name = %q, want net_ac_F7B4", desc.Name)
	}
	if desc.Serial != "000000P0000000Q1F0C9D153F7B40000" {
		t.Errorf("Serial = %q", desc.Serial)
	}
}

func TestClassifyV3Response(t *testing.T) {
	payload := mustHex(t,
		"837000c8200f00005a5a0111b8007a800000000061433702060817143daa00000086000000000000000001800000000041c7129527bc03ee009284a90c2fbd2f179764ac35b55e7fb0e4ab0de9298fa1a5ca328046c603fb1ab60079d550d03546b605180127fdb5bb33a105f5206b5f008bffba2bae272aa0c96d56b45c4afa33f826a0a4215d1dd87956a267d2dbd34bdfb3e16e33d88768cc4c3d0658937d0bb19369bf0317b24d3a4de9e6a13106f7ceb5acc6651ce53d684a32ce34dc3a4fbe0d4139de99cc88a0285e14657045")
	sourceIP := net.ParseIP("10.100.1.239")

	desc, err := Classify(payload, sourceIP)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if desc.ProtocolVersion != 3 {
		t.Errorf("ProtocolVersion = %d, want 3", desc.ProtocolVersion)
	}
	if !desc.IP.Equal(sourceIP) {
		t.Errorf("IP = %v, want %v", desc.IP, sourceIP)
	}
	if desc.Port != 6444 {
		t.Errorf("Port = %d, want 6444", desc.Port)
	}
	if desc.DeviceID != 147334558165565 {
		t.Errorf("DeviceID = %d, want 147334558165565", desc.DeviceID)
	}
	if desc.DeviceType != frame.AirConditioner {
		t.Errorf("DeviceType = %v, want AirConditioner", desc.DeviceType)
	}
	if desc.Name != "net_ac_63BA" {
		t.Errorf("Name = %q, want net_ac_63BA", desc.Name)
	}
	if desc.Serial != "000000P0000000Q1B88C29C963BA0000" {
		t.Errorf("Serial = %q", desc.Serial)
	}
}

func TestClassifyV1XMLResponse(t *testing.T) {
	payload := []byte(`<?xml version="1.0" encoding="utf-8"?><root><body><device name="midea" port="6444"/></body></root>`)
	desc, err := Classify(payload, net.ParseIP("10.0.0.7"))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if desc.ProtocolVersion != 1 {
		t.Errorf("ProtocolVersion = %d, want 1", desc.ProtocolVersion)
	}
	if desc.Port != 6444 {
		t.Errorf("Port = %d, want 6444", desc.Port)
	}
}

func TestClassifyUnrecognizedPayload(t *testing.T) {
	if _, err := Classify([]byte{0x00, 0x01, 0x02, 0x03}, net.ParseIP("10.0.0.1")); err == nil {
		t.Errorf("expected error for unrecognized payload")
	}
}

func TestDeviceTypeFromName(t *testing.T) {
	cases := map[string]frame.DeviceType{
		"net_ac_63BA":  frame.AirConditioner,
		"net_cc_0001":  frame.CommercialAC,
		"net_c3_ABCD":  frame.HeatPump,
		"unintelligib": frame.AirConditioner,
	}
	for name, want := range cases {
		if got := deviceTypeFromName(name); got != want {
			t.Errorf("deviceTypeFromName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.Target != "255.255.255.255" {
		t.Errorf("default Target = %q", o.Target)
	}
	if o.Attempts != 3 {
		t.Errorf("default Attempts = %d, want 3", o.Attempts)
	}
}
