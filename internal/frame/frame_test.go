package frame

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return b
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{
		DeviceType: AirConditioner,
		FrameType:  FrameTypeQuery,
		Payload:    []byte{0xB5},
	}
	raw := Encode(f)
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.DeviceType != f.DeviceType || decoded.FrameType != f.FrameType {
		t.Errorf("decoded header mismatch: %+v", decoded)
	}
	if !bytes.Equal(decoded.Payload, f.Payload) {
		t.Errorf("decoded payload = % X, want % X", decoded.Payload, f.Payload)
	}

	reencoded := Encode(decoded)
	if !bytes.Equal(reencoded, raw) {
		t.Errorf("decode(encode(frame)) round trip mismatch")
	}
}

func TestEncodeLengthExcludesChecksum(t *testing.T) {
	raw := Encode(Frame{DeviceType: HeatPump, FrameType: FrameTypeQuery, Payload: []byte{0x01}})
	if raw[1] != 0x0B {
		t.Errorf("length field = 0x%02X, want 0x0B", raw[1])
	}
	if len(raw) != 12 {
		t.Errorf("frame length = %d, want 12", len(raw))
	}
}

func TestDecodeDeviceStateReport(t *testing.T) {
	// Captured V3 AC state report.
	raw := mustHex(t, "aa23ac00000000000303c00145660000003c0010045c6b20000000000000000000020d79")
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.DeviceType != AirConditioner {
		t.Errorf("DeviceType = %v, want AirConditioner", f.DeviceType)
	}
	if f.FrameType != FrameTypeQuery {
		t.Errorf("FrameType = 0x%02X, want 0x03", byte(f.FrameType))
	}
	if f.ProtocolVersion != 3 {
		t.Errorf("ProtocolVersion = %d, want 3", f.ProtocolVersion)
	}
	if f.Payload[0] != 0xC0 {
		t.Errorf("Payload[0] = 0x%02X, want 0xC0", f.Payload[0])
	}
}

func TestDecodeChecksumAsCRCDevice(t *testing.T) {
	// Captured from a device family whose firmware terminates some
	// frames with a CRC in place of the checksum.
	raw := mustHex(t, "aa1eac00000000000003c0004b1e7f7f000000000069630000000000000d33")
	if _, err := Decode(raw); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

func TestDecodeRejectsBadStartByte(t *testing.T) {
	raw := Encode(Frame{DeviceType: AirConditioner, FrameType: FrameTypeQuery})
	raw[0] = 0xAB
	if _, err := Decode(raw); err == nil {
		t.Errorf("expected error for bad start-of-frame byte")
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	raw := Encode(Frame{DeviceType: AirConditioner, FrameType: FrameTypeQuery})
	raw[1] += 2
	if _, err := Decode(raw); err == nil {
		t.Errorf("expected error for length field mismatch")
	}
}

func TestDecodeRejectsSingleByteMutation(t *testing.T) {
	raw := Encode(Frame{
		DeviceType: CommercialAC,
		FrameType:  FrameTypeControl,
		Payload:    []byte{0x01, 0x02, 0x03},
	})
	raw[len(raw)-2] ^= 0xFF // mutate a payload byte, not touching length/start
	if _, err := Decode(raw); err == nil {
		t.Errorf("expected checksum mismatch to be detected after single-byte mutation")
	}
}

func TestWireLength(t *testing.T) {
	raw := Encode(Frame{DeviceType: AirConditioner, FrameType: FrameTypeQuery, Payload: []byte{0x41}})
	if got := WireLength(raw); got != len(raw) {
		t.Errorf("WireLength = %d, want %d", got, len(raw))
	}
	if got := WireLength(raw[:5]); got != 0 {
		t.Errorf("WireLength of partial frame = %d, want 0", got)
	}
}

func TestDeviceTypeString(t *testing.T) {
	if AirConditioner.String() != "AIR_CONDITIONER" {
		t.Errorf("String() = %q", AirConditioner.String())
	}
}
