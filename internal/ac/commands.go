package ac

import (
	"crypto/rand"
	"fmt"

	"github.com/stapelberg/midea-lan/internal/crc8"
)

// EncodeQueryState builds the 21-byte "get-state" query payload
// (frame type QUERY, subtype 0x41): a fixed 0x81 at byte 1 and a
// random two-byte nonce trailing the payload.
func EncodeQueryState() ([]byte, error) {
	payload := make([]byte, 21)
	payload[0] = 0x41
	payload[1] = 0x81
	if _, err := rand.Read(payload[len(payload)-2:]); err != nil {
		return nil, fmt.Errorf("ac: generating query nonce: %w", err)
	}
	return payload, nil
}

// EncodeQueryEnergy builds the energy-usage query payload; the
// response arrives as a 0xC1 frame with group/subtype 0x21/0x44.
func EncodeQueryEnergy() ([]byte, error) {
	return encodeGroupQuery(0x44)
}

// EncodeQueryHumidity builds the indoor-humidity query payload; the
// response arrives as a 0xC1 frame with group/subtype 0x21/0x45.
func EncodeQueryHumidity() ([]byte, error) {
	return encodeGroupQuery(0x45)
}

func encodeGroupQuery(subtype byte) ([]byte, error) {
	payload := make([]byte, 21)
	payload[0] = 0x41
	payload[1] = 0x21
	payload[2] = 0x01
	payload[3] = subtype
	if _, err := rand.Read(payload[len(payload)-2:]); err != nil {
		return nil, fmt.Errorf("ac: generating query nonce: %w", err)
	}
	return payload, nil
}

// EncodeQueryCapabilities builds the 0xB5 capability-query payload.
// Passing additional requests the follow-up page some devices need to
// report their full capability set.
func EncodeQueryCapabilities(additional bool) []byte {
	if additional {
		return []byte{0xB5, 0x01}
	}
	return []byte{0xB5}
}

// EncodeSetState builds the 24-byte "set-state" command payload
// (frame type SET, subtype 0x40). The device treats every set-state
// as a full snapshot: partial sends clear unrelated settings, so
// every bit below is always populated from the full State, never only
// from dirty fields.
func EncodeSetState(s State) ([]byte, error) {
	s = s.Canonicalize()
	payload := make([]byte, 24)
	payload[0] = 0x40

	if s.Power {
		payload[1] |= 0x01
	}
	if s.BeepOn {
		payload[1] |= 0x40
	}

	tempWhole := int(s.TargetTemperature)
	payload[2] = byte(int(s.Mode)&0x07)<<5 | byte(tempWhole-16)&0x1F
	if s.TargetTemperature-float64(tempWhole) >= 0.25 {
		payload[3] |= 0x80
	}
	payload[3] |= byte(fanByte(s.Fan)) & 0x7F

	payload[7] = 0x30 | byte(s.Swing)&0x0F

	if s.Turbo {
		payload[8] |= 0x20
	}
	if s.Eco {
		payload[9] |= 0x80
	}
	if s.Sleep {
		payload[10] |= 0x01
	}
	if s.DisplayOn {
		payload[10] |= 0x10
	}
	if s.FreezeProtection {
		payload[18] |= 0x08
	}
	if s.Purifier {
		payload[21] |= 0x01
	}
	if s.SelfClean {
		payload[21] |= 0x04
	}

	// Random message id, then a CRC-8 over the payload so far.
	msgID := make([]byte, 1)
	if _, err := rand.Read(msgID); err != nil {
		return nil, fmt.Errorf("ac: generating message id: %w", err)
	}
	payload[22] = msgID[0]
	payload[23] = crc8.Calculate(payload[:23])

	return payload, nil
}

func fanByte(f FanSpeed) int {
	if f < 0 || f > 127 {
		return int(FanAuto)
	}
	return int(f)
}
