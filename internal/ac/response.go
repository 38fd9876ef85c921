package ac

import "fmt"

// ResponseKind classifies an AC response payload by its leading tag
// (and, for the 0xC1 group, the subtype at byte 3).
type ResponseKind int

const (
	ResponseUnknown ResponseKind = iota
	ResponseState
	ResponseEnergy
	ResponseHumidity
	ResponseCapabilities
	ResponseProperties
)

// Classify determines which decoder applies to a response payload.
func Classify(payload []byte) ResponseKind {
	if len(payload) == 0 {
		return ResponseUnknown
	}
	switch payload[0] {
	case 0xC0:
		return ResponseState
	case 0xC1:
		if len(payload) > 3 && payload[3] == 0x45 {
			return ResponseHumidity
		}
		return ResponseEnergy
	case 0xB5:
		return ResponseCapabilities
	case 0xB0, 0xB1:
		return ResponseProperties
	default:
		return ResponseUnknown
	}
}

// StateResponse is the decoded payload of an AC state report
// (subtype 0xC0). A state report is always a full snapshot; it
// overwrites every corresponding State field.
type StateResponse struct {
	Power             bool
	Mode              OperationalMode
	Fan               FanSpeed
	TargetTemperature float64
	Swing             SwingMode
	Eco               bool
	Turbo             bool
	Sleep             bool
	FreezeProtection  bool
	FilterAlert       bool
	ErrorCode         byte

	IndoorTemperature     float64
	HasIndoorTemperature  bool
	OutdoorTemperature    float64
	HasOutdoorTemperature bool
}

// DecodeState decodes a 0xC0 state-response payload.
//
// Temperatures: byte 11/12 carry indoor/outdoor in (raw-50)/2 degree
// halves, 0xFF meaning "sensor absent"; byte 15 adds tenth-degree
// decimals (low nibble indoor, high nibble outdoor) on devices that
// report them.
func DecodeState(payload []byte) (StateResponse, error) {
	if len(payload) < 22 {
		return StateResponse{}, fmt.Errorf("ac: state response too short: %d bytes", len(payload))
	}

	var r StateResponse
	r.Power = payload[1]&0x01 != 0
	r.Mode = ModeFromValue(int(payload[2]>>5) & 0x07)
	r.TargetTemperature = float64(int(payload[2]&0x0F) + 16)
	if payload[2]&0x10 != 0 {
		r.TargetTemperature += 0.5
	}
	r.Fan = FanSpeedFromValue(int(payload[3] & 0x7F))
	r.Swing = SwingModeFromValue(int(payload[7] & 0x0F))
	r.Turbo = payload[8]&0x20 != 0 || payload[10]&0x02 != 0
	r.Eco = payload[9]&0x10 != 0
	r.Sleep = payload[10]&0x01 != 0
	r.FilterAlert = payload[13]&0x20 != 0
	r.ErrorCode = payload[16]
	r.FreezeProtection = payload[21]&0x80 != 0

	if payload[11] != 0xFF {
		r.HasIndoorTemperature = true
		r.IndoorTemperature = (float64(payload[11]) - 50) / 2
		if decimal := float64(payload[15]&0x0F) / 10; r.IndoorTemperature >= 0 {
			r.IndoorTemperature += decimal
		} else {
			r.IndoorTemperature -= decimal
		}
	}
	if payload[12] != 0xFF {
		r.HasOutdoorTemperature = true
		r.OutdoorTemperature = (float64(payload[12]) - 50) / 2
		if decimal := float64(payload[15]>>4) / 10; r.OutdoorTemperature >= 0 {
			r.OutdoorTemperature += decimal
		} else {
			r.OutdoorTemperature -= decimal
		}
	}

	return r, nil
}

// EnergyUsage is the decoded payload of a 0xC1/0x44 energy-usage
// response. Two wire formats exist; which one a given device uses is
// a per-model quirk the caller must supply, it is not self-describing
// in the frame.
type EnergyUsage struct {
	TotalKWh   float64
	CurrentKWh float64
	RealtimeW  float64
	// Present is false when the device answered but reported no
	// energy data at all (every counter byte zero).
	Present bool
}

// DecodeEnergyUsage decodes a 0xC1/0x44 energy payload. The default
// format packs decimal digits one per nibble: the total counter at
// bytes 4..7, the current counter at 12..15, real-time watts at
// 16..18, each with the final two digits after the decimal point. The
// alternate format is plain big-endian binary: kWh*100 for the
// counters, watts*10 for the real-time field.
func DecodeEnergyUsage(payload []byte, useAlternateFormat bool) (EnergyUsage, error) {
	var e EnergyUsage
	if len(payload) < 19 {
		return e, fmt.Errorf("ac: energy payload too short: %d bytes", len(payload))
	}

	for _, b := range payload[4:19] {
		if b != 0 {
			e.Present = true
			break
		}
	}
	if !e.Present {
		return e, nil
	}

	if useAlternateFormat {
		e.TotalKWh = float64(be32(payload[4:8])) / 100
		e.CurrentKWh = float64(be32(payload[12:16])) / 100
		e.RealtimeW = float64(be24(payload[16:19])) / 10
		return e, nil
	}

	e.TotalKWh = nibbleDecimal(payload[4:8])
	e.CurrentKWh = nibbleDecimal(payload[12:16])
	e.RealtimeW = nibbleDecimal(payload[16:19])
	return e, nil
}

// nibbleDecimal interprets data as a decimal-digit-per-nibble number
// whose final two digits are fractional.
func nibbleDecimal(data []byte) float64 {
	var digits []byte
	for _, b := range data {
		digits = append(digits, b>>4, b&0x0F)
	}
	var whole float64
	for _, d := range digits[:len(digits)-2] {
		whole = whole*10 + float64(d)
	}
	return whole + float64(digits[len(digits)-2])/10 + float64(digits[len(digits)-1])/100
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// Humidity is the decoded payload of a 0xC1/0x45 indoor-humidity
// response. Present is false when the device does not carry a
// humidity sensor (it answers with a zero byte).
type Humidity struct {
	Percent int
	Present bool
}

// DecodeHumidity decodes a 0xC1/0x45 humidity payload.
func DecodeHumidity(payload []byte) (Humidity, error) {
	if len(payload) < 5 {
		return Humidity{}, fmt.Errorf("ac: humidity payload too short: %d bytes", len(payload))
	}
	h := Humidity{Percent: int(payload[4])}
	h.Present = h.Percent != 0
	return h, nil
}
