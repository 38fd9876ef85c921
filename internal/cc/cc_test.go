package cc

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stapelberg/midea-lan/internal/crc8"
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

func TestEncodeQueryFrame(t *testing.T) {
	ResetMessageID()

	payload := EncodeQuery()
	raw := frame.Encode(frame.Frame{
		DeviceType: frame.CommercialAC,
		FrameType:  frame.FrameTypeQuery,
		Payload:    payload,
	})

	want := mustHex(t, "0100000000000000000000000000000000000000000001cc")
	if !bytes.Equal(payload, want) {
		t.Errorf("payload = %x, want %x", payload, want)
	}
	if int(raw[1]) != len(want)+10 {
		t.Errorf("length byte = %d, want %d", raw[1], len(want)+10)
	}
	if raw[2] != byte(frame.CommercialAC) {
		t.Errorf("device type = 0x%02X, want 0xCC", raw[2])
	}
	if raw[9] != byte(frame.FrameTypeQuery) {
		t.Errorf("frame type = 0x%02X, want QUERY", raw[9])
	}
	if _, err := frame.Decode(raw); err != nil {
		t.Errorf("frame.Decode of encoded query: %v", err)
	}
}

func TestDecodeStateResponseCaptured(t *testing.T) {
	raw := mustHex(t, "aa63cc0000000000000301fe00000043005001728c79010100728c728c797900010141ff010203000603010000000300000001030103010000000000000000000001000100010000000000000000000000000001000200000100000101000102ff02ff6a")
	f, err := frame.Decode(raw)
	if err != nil {
		t.Fatalf("frame.Decode: %v", err)
	}
	r, err := DecodeStateResponse(f.Payload)
	if err != nil {
		t.Fatalf("DecodeStateResponse: %v", err)
	}

	if !r.PowerOn {
		t.Errorf("PowerOn = false, want true")
	}
	if r.TargetTemperature != 20.5 {
		t.Errorf("TargetTemperature = %v, want 20.5", r.TargetTemperature)
	}
	if r.IndoorTemperature != 25.7 {
		t.Errorf("IndoorTemperature = %v, want 25.7", r.IndoorTemperature)
	}
	if r.OperationalMode != 3 {
		t.Errorf("OperationalMode = %d, want 3 (heat)", r.OperationalMode)
	}
	if r.FanSpeed != 0 {
		t.Errorf("FanSpeed = %d, want 0", r.FanSpeed)
	}
	if r.SwingUDAngle != 3 || r.SwingLRAngle != 3 {
		t.Errorf("swing angles = %d/%d, want 3/3", r.SwingUDAngle, r.SwingLRAngle)
	}
}

func TestDecodeStateResponseTargetTemperatures(t *testing.T) {
	cases := map[float64]string{
		17.0: "01fe00000043005001728c7200dd00728c728c727200010141ff010203000603010008000300000001030103010000000000000000000001000100010000000000000000000000000001000200000100000101000102ff02",
		30.0: "01fe00000043005001728c8c00e100728c728c8c8c00010141ff010203000603010008000300000001030103010000000000000000000001000100010000000000000000000000000001000200000100000101000102ff02",
		20.5: "01fe00000043005001728c79010000728c728c797900010141ff010203000603010000000300000001030103010000000000000000000001000100010000000000000000000000000001000200000100000101000102ff02",
	}
	for want, payloadHex := range cases {
		r, err := DecodeStateResponse(mustHex(t, payloadHex))
		if err != nil {
			t.Fatalf("DecodeStateResponse: %v", err)
		}
		if r.TargetTemperature != want {
			t.Errorf("TargetTemperature = %v, want %v", r.TargetTemperature, want)
		}
	}
}

func TestDecodeStateResponseIndoorTemperatureMSB(t *testing.T) {
	// Samples with data in the high byte of the indoor temperature.
	cases := map[float64]string{
		26.4: "01fe00000043005001728c78010800728c728c787800010141ff010203000602010008000100000001010103010300000000000000000001000100010000000000000000000000000001000200000100000101000102ff02",
		25.6: "01fe00000043005001728c78010000728c728c787800010141ff010203000603010008000600000001060106010000000000000000000001000100010000000000000000000000000001000200000100000101000102ff02",
		20.7: "01fe00000043005000728c7800cf00728c728c787800010141ff010203000603010008000000000001000103010000000000000000000001000100010000000000000000000000000001000200000100000101000102ff02ff",
	}
	for want, payloadHex := range cases {
		r, err := DecodeStateResponse(mustHex(t, payloadHex))
		if err != nil {
			t.Fatalf("DecodeStateResponse: %v", err)
		}
		if r.IndoorTemperature != want {
			t.Errorf("IndoorTemperature = %v, want %v", r.IndoorTemperature, want)
		}
	}
}

func TestDecodeStateResponseMiscFlags(t *testing.T) {
	type flags struct{ sleep, silent, purifier, eco, soft bool }
	cases := []struct {
		want       flags
		payloadHex string
	}{
		{flags{sleep: true}, "01fe00000043005001728c78010900728c728c787800010141ff010203000603010008000100000001010103010000000000000000000001000100010100000000000000000000000001000200000100000101000102ff02"},
		{flags{silent: true}, "01fe00000043005001728c78010700728c728c787800010141ff010203000603010008000100000001010103010000000000000000000001000101010000000000000000000000000001000200000100000101000102ff02"},
		{flags{purifier: true}, "01fe00000043005001728c78010600728c728c787800010141ff010203000603010008000100000001010103010000000000000000000001000100010000000000000000000000000001000100000100000101000102ff02"},
		{flags{eco: true}, "01fe00000043005001728c78010600728c728c787800010141ff010203000603010008000100000001010103010000000000000000000001010100010000000000000000000000000001000200000100000101000102ff02"},
		{flags{soft: true}, "01fe00000043005001728c78010800728c728c787800010141ff010203000602010008000100000001010103010300000000000000000001000100010000000000000000000000000001000200000100000101000102ff02"},
	}
	for _, c := range cases {
		r, err := DecodeStateResponse(mustHex(t, c.payloadHex))
		if err != nil {
			t.Fatalf("DecodeStateResponse: %v", err)
		}
		got := flags{r.Sleep, r.Silent, r.Purifier, r.Eco, r.Soft}
		if got != c.want {
			t.Errorf("flags = %+v, want %+v", got, c.want)
		}
	}
}

func TestDecodeStateResponseAuxMode(t *testing.T) {
	cases := map[byte]string{
		1: "01fe00000043005001728c78010600728c728c787800010141ff010203000603010008000100000001010103010000000000000000000001000100010000000000000000000000000001000200000100000101000102ff01",
		0: "01fe00000043005001728c78010600728c728c787800010141ff010203000603010008000100000001010103010000000000000000000001000100010000000000000000000000000001000200000100000101000102ff00",
		2: "01fe00000043005001728c78010600728c728c787800010141ff010203000603010008000100000001010103010000000000000000000001010100010000000000000000000000000001000200000100000101000102ff02",
	}
	for want, payloadHex := range cases {
		r, err := DecodeStateResponse(mustHex(t, payloadHex))
		if err != nil {
			t.Fatalf("DecodeStateResponse: %v", err)
		}
		if r.AuxMode != want {
			t.Errorf("AuxMode = %d, want %d", r.AuxMode, want)
		}
	}
}

func TestDecodeStateResponseRejectsLegacyFlavor(t *testing.T) {
	payload := make([]byte, 88)
	payload[0] = 0x02
	if _, err := DecodeStateResponse(payload); err == nil {
		t.Errorf("expected error for a payload without the 0x01FE header")
	}
}

func TestControlTargetTemperatureEncodeDecodeRoundTrip(t *testing.T) {
	encoded, err := ControlTargetTemperature.Encode(22.0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := byte((2 * 22) + 80); encoded[0] != want {
		t.Errorf("encoded byte = 0x%02X, want 0x%02X", encoded[0], want)
	}
	if decoded := ControlTargetTemperature.Decode(encoded); decoded.(float64) != 22.0 {
		t.Errorf("decoded = %v, want 22.0", decoded)
	}
}

func TestControlPurifierEncodeDecode(t *testing.T) {
	on, err := ControlPurifier.Encode(true)
	if err != nil {
		t.Fatalf("Encode(true): %v", err)
	}
	if on[0] != 0x01 {
		t.Errorf("Encode(true) = 0x%02X, want 0x01", on[0])
	}
	off, err := ControlPurifier.Encode(false)
	if err != nil {
		t.Fatalf("Encode(false): %v", err)
	}
	if off[0] != 0x02 {
		t.Errorf("Encode(false) = 0x%02X, want 0x02", off[0])
	}
	if decoded := ControlPurifier.Decode(on); decoded != true {
		t.Errorf("Decode(on) = %v, want true", decoded)
	}
}

func TestEncodeControlAppendsCRC8AndMessageID(t *testing.T) {
	payload, err := EncodeControl(map[ControlID]any{
		ControlPower: byte(0x01),
	})
	if err != nil {
		t.Fatalf("EncodeControl: %v", err)
	}
	// id(2) + size(1) + value(1) + terminator(1) + msgid(1) + crc8(1)
	if len(payload) != 7 {
		t.Fatalf("payload length = %d, want 7", len(payload))
	}
	if payload[6] != crc8.Calculate(payload[:6]) {
		t.Errorf("trailing CRC-8 mismatch")
	}
}

func TestDecodeControlResponseUnknownIDSkipped(t *testing.T) {
	payload := []byte{
		0xEE, 0xEE, 0x01, 0x05, 0xFF, // unknown ID 0xEEEE, size 1, value 5
		0x00, 0x00, 0x01, 0x01, 0xFF, // POWER, size 1, value 1
	}
	r, err := DecodeControlResponse(payload)
	if err != nil {
		t.Fatalf("DecodeControlResponse: %v", err)
	}
	if _, ok := r.Get(ControlPower); !ok {
		t.Errorf("expected POWER to be decoded despite preceding unknown ID")
	}
}

func TestDecodeControlResponseSkipsEmptyStates(t *testing.T) {
	payload := []byte{
		0x00, 0x03, 0x00, 0x00, 0xFF, // TARGET_TEMPERATURE, size 0, skipped
		0x00, 0x00, 0x01, 0x01, 0xFF, // POWER, size 1, value 1
	}
	r, err := DecodeControlResponse(payload)
	if err != nil {
		t.Fatalf("DecodeControlResponse: %v", err)
	}
	if _, ok := r.Get(ControlTargetTemperature); ok {
		t.Errorf("zero-size entry must be skipped")
	}
	if v, ok := r.Get(ControlPower); !ok || v.(byte) != 1 {
		t.Errorf("POWER = %v (ok=%v), want 1", v, ok)
	}
}
