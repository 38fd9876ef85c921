package ac

import (
	"encoding/binary"
	"fmt"
)

// CapabilityID identifies a 0xB5 capability TLV entry.
type CapabilityID uint16

const (
	CapModes                CapabilityID = 0x0012
	CapSwing                CapabilityID = 0x0014
	CapFan                  CapabilityID = 0x0015
	CapHumidity             CapabilityID = 0x0016
	CapTemperatureUnit      CapabilityID = 0x0017
	CapBreezeAway           CapabilityID = 0x0018
	CapTargetHumidity       CapabilityID = 0x0019
	CapPurifier             CapabilityID = 0x001A
	CapEco                  CapabilityID = 0x001E
	CapTurbo                CapabilityID = 0x001F
	CapSelfClean            CapabilityID = 0x0022
	CapRateSelect4Levels    CapabilityID = 0x0024
	CapTemperatureBounds    CapabilityID = 0x0025
	CapRateSelect5Levels    CapabilityID = 0x002C
	CapFreezeProtection     CapabilityID = 0x0039
	CapAnion                CapabilityID = 0x0040
	CapBreezeless           CapabilityID = 0x0042
	CapBreezeControl        CapabilityID = 0x0043
	CapRateSelect4LevelsAlt CapabilityID = 0x0048
	CapSelfCleanAlt         CapabilityID = 0x0051
	CapBuzzer               CapabilityID = 0x00E3
)

// CapabilityMap is a merged set of capability TLV values keyed by
// capability ID, holding the raw bytes of the last TLV seen for that
// ID across however many capability-query responses contributed to
// it.
type CapabilityMap map[CapabilityID][]byte

// CapabilitiesResponse is one parsed 0xB5 capability-query response.
type CapabilitiesResponse struct {
	Caps CapabilityMap
	// AdditionalAvailable is set when the device flags that a
	// follow-up capability page should be queried.
	AdditionalAvailable bool
}

// DecodeCapabilities parses a single 0xB5 capability-query response
// payload (leading 0xB5 tag, a count byte, then `{id:u16 BE, size:u8,
// value}` entries).
func DecodeCapabilities(payload []byte) (CapabilitiesResponse, error) {
	if len(payload) < 2 || payload[0] != 0xB5 {
		return CapabilitiesResponse{}, fmt.Errorf("ac: capability payload missing 0xB5 tag")
	}
	count := int(payload[1])
	r := CapabilitiesResponse{Caps: make(CapabilityMap, count)}
	pos := 2
	for i := 0; i < count && pos+3 <= len(payload); i++ {
		id := CapabilityID(binary.BigEndian.Uint16(payload[pos : pos+2]))
		size := int(payload[pos+2])
		pos += 3
		if pos+size > len(payload) {
			return r, fmt.Errorf("ac: capability TLV 0x%04X truncated", id)
		}
		r.Caps[id] = append([]byte{}, payload[pos:pos+size]...)
		pos += size
	}
	// A trailing non-zero byte past the TLV list advertises an
	// additional capability page.
	if pos < len(payload) && payload[pos] != 0 {
		r.AdditionalAvailable = true
	}
	return r, nil
}

// Merge combines additional capability TLVs into m. Capabilities may
// be delivered across two or more frames; the merge is over cap_id,
// and for a repeated cap_id the later entry wins. The operation is
// associative and commutative on distinct IDs.
func (m CapabilityMap) Merge(other CapabilityMap) CapabilityMap {
	if m == nil {
		m = make(CapabilityMap, len(other))
	}
	for id, v := range other {
		m[id] = v
	}
	return m
}

// Capabilities is the interpreted, feature-flag view of a merged
// CapabilityMap. Features not advertised default to unsupported.
type Capabilities struct {
	SupportedModes        []OperationalMode
	SwingSupported        bool
	ContinuousFanControl  bool
	HumiditySensing       bool
	TargetHumidity        bool
	SupportsBreezeAway    bool
	SupportsBreezeMild    bool
	SupportsBreezeless    bool
	SupportsBreezeControl bool
	RateSelectLevels      int // 0, 4, or 5
	Eco                   bool
	Turbo                 bool
	FreezeProtection      bool
	Purifier              bool
	SelfClean             bool
	Anion                 bool
	Buzzer                bool
	FahrenheitSupported   bool
	MinTemperature        float64
	MaxTemperature        float64
}

// Interpret reduces a merged CapabilityMap to a Capabilities struct.
// It is idempotent: calling it twice on the same map yields the same
// result.
func Interpret(m CapabilityMap) Capabilities {
	c := Capabilities{MinTemperature: 17, MaxTemperature: 30}

	boolCap := func(id CapabilityID) bool {
		v, ok := m[id]
		return ok && len(v) > 0 && v[0] != 0
	}

	c.ContinuousFanControl = boolCap(CapFan)
	c.SwingSupported = boolCap(CapSwing)
	c.HumiditySensing = boolCap(CapHumidity)
	c.TargetHumidity = boolCap(CapTargetHumidity)
	c.SupportsBreezeAway = boolCap(CapBreezeAway)
	c.SupportsBreezeless = boolCap(CapBreezeless)
	c.Eco = boolCap(CapEco)
	c.Turbo = boolCap(CapTurbo)
	c.FreezeProtection = boolCap(CapFreezeProtection)
	c.Purifier = boolCap(CapPurifier)
	c.Anion = boolCap(CapAnion)
	c.Buzzer = boolCap(CapBuzzer)
	c.FahrenheitSupported = boolCap(CapTemperatureUnit)

	if boolCap(CapBreezeControl) {
		// The combined breeze control supersedes the individual
		// properties and implies all three breeze modes.
		c.SupportsBreezeControl = true
		c.SupportsBreezeAway = true
		c.SupportsBreezeMild = true
		c.SupportsBreezeless = true
	}

	if _, ok := m[CapRateSelect4Levels]; ok {
		c.RateSelectLevels = 4
	}
	if _, ok := m[CapRateSelect4LevelsAlt]; ok {
		c.RateSelectLevels = 4
	}
	if _, ok := m[CapRateSelect5Levels]; ok {
		c.RateSelectLevels = 5
	}
	if _, ok := m[CapSelfClean]; ok {
		c.SelfClean = true
	}
	if _, ok := m[CapSelfCleanAlt]; ok {
		c.SelfClean = true
	}

	if v, ok := m[CapModes]; ok {
		for _, b := range v {
			c.SupportedModes = append(c.SupportedModes, ModeFromValue(int(b)))
		}
	}
	if v, ok := m[CapTemperatureBounds]; ok && len(v) >= 2 {
		c.MinTemperature = float64(v[0]) / 2
		c.MaxTemperature = float64(v[1]) / 2
	}

	return c
}

// SupportedProperties derives the property IDs the capability set
// implies the device will honor on the 0xB0/0xB1 channel.
func (c Capabilities) SupportedProperties() PropertySet {
	s := make(PropertySet)
	if c.SwingSupported {
		s.Add(PropSwingUDAngle)
		s.Add(PropSwingLRAngle)
	}
	if c.HumiditySensing {
		s.Add(PropIndoorHumidity)
	}
	if c.SupportsBreezeControl {
		s.Add(PropBreezeControl)
	} else {
		if c.SupportsBreezeAway {
			s.Add(PropBreezeAway)
		}
		if c.SupportsBreezeless {
			s.Add(PropBreezeless)
		}
	}
	if c.RateSelectLevels > 0 {
		s.Add(PropRateSelect)
	}
	return s
}

// SupportsMode reports whether mode is in the advertised mode set. An
// empty mode list (capabilities never queried) is treated as
// permissive, matching the pre-capability behavior of older firmware.
func (c Capabilities) SupportsMode(mode OperationalMode) bool {
	if len(c.SupportedModes) == 0 {
		return true
	}
	for _, m := range c.SupportedModes {
		if m == mode {
			return true
		}
	}
	return false
}
