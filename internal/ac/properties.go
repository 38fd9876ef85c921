package ac

import (
	"encoding/binary"
	"fmt"
	"log"
)

// PropertyID addresses a single property-channel control point
// (0xB0 set / 0xB1 report).
type PropertyID uint16

const (
	PropSwingUDAngle   PropertyID = 0x0009
	PropSwingLRAngle   PropertyID = 0x000A
	PropIndoorHumidity PropertyID = 0x0015
	PropBreezeAway     PropertyID = 0x0018
	PropBreezeless     PropertyID = 0x0042
	PropBreezeControl  PropertyID = 0x0043
	PropRateSelect     PropertyID = 0x0048
)

// Wire values of the combined BREEZE_CONTROL property.
const (
	breezeControlOff        = 0x01
	breezeControlAway       = 0x02
	breezeControlMild       = 0x03
	breezeControlBreezeless = 0x04
)

// Wire values of the standalone BREEZE_AWAY property (2 = on, 1 =
// off). On units without breezeless hardware, the BREEZELESS property
// carries the same on-value to signal breeze-away instead.
const (
	breezeAwayOn  = 0x02
	breezeAwayOff = 0x01
)

var propertyNames = map[PropertyID]string{
	PropSwingUDAngle:   "SWING_UD_ANGLE",
	PropSwingLRAngle:   "SWING_LR_ANGLE",
	PropIndoorHumidity: "INDOOR_HUMIDITY",
	PropBreezeAway:     "BREEZE_AWAY",
	PropBreezeless:     "BREEZELESS",
	PropBreezeControl:  "BREEZE_CONTROL",
	PropRateSelect:     "RATE_SELECT",
}

func (id PropertyID) String() string {
	if n, ok := propertyNames[id]; ok {
		return n
	}
	return fmt.Sprintf("PROPERTY(0x%04X)", uint16(id))
}

// Known reports whether the property ID has a codec entry.
func (id PropertyID) Known() bool {
	_, ok := propertyNames[id]
	return ok
}

// PropertyEntry is one decoded TLV from a 0xB0 acknowledgement or
// 0xB1 report payload.
type PropertyEntry struct {
	ID     PropertyID
	Value  []byte
	Result byte // non-zero on a set acknowledgement means rejected
}

// DecodeProperties parses a 0xB0/0xB1 properties payload: the leading
// tag byte, a count, then TLVs of the form `{id:u16 LE, result:u8,
// size:u8, value}`. The result byte is meaningful on set
// acknowledgements (0 = OK); reports carry zero there. Rejections are
// logged at warning level with the property name and the device's
// status code; the entry is still returned so the caller can
// reconcile local state from the accompanying value.
func DecodeProperties(payload []byte) ([]PropertyEntry, error) {
	if len(payload) < 2 || (payload[0] != 0xB0 && payload[0] != 0xB1) {
		return nil, fmt.Errorf("ac: properties payload missing 0xB0/0xB1 tag")
	}

	var entries []PropertyEntry
	data := payload[2:]
	for len(data) > 4 {
		id := PropertyID(binary.LittleEndian.Uint16(data[0:2]))
		result := data[2]
		size := int(data[3])
		if 4+size > len(data) {
			return entries, fmt.Errorf("ac: property %s TLV truncated", id)
		}
		e := PropertyEntry{
			ID:     id,
			Value:  append([]byte{}, data[4:4+size]...),
			Result: result,
		}
		if payload[0] == 0xB0 && e.Result != 0 {
			log.Printf("WARN: Property %s failed, Result: 0x%02X", id, e.Result)
		}
		entries = append(entries, e)
		data = data[4+size:]
	}
	return entries, nil
}

// EncodeSetProperties builds a 0xB0 set-properties payload: only the
// dirty properties, as `{id:u16 LE, size:u8, value}` TLVs.
func EncodeSetProperties(values []PropertyValue) []byte {
	out := []byte{0xB0, byte(len(values))}
	for _, pv := range values {
		var idBytes [2]byte
		binary.LittleEndian.PutUint16(idBytes[:], uint16(pv.ID))
		out = append(out, idBytes[:]...)
		out = append(out, byte(len(pv.Value)))
		out = append(out, pv.Value...)
	}
	return out
}

// EncodeQueryProperties builds a 0xB1 get-properties payload for the
// given property IDs.
func EncodeQueryProperties(ids []PropertyID) []byte {
	out := []byte{0xB1, byte(len(ids))}
	for _, id := range ids {
		var idBytes [2]byte
		binary.LittleEndian.PutUint16(idBytes[:], uint16(id))
		out = append(out, idBytes[:]...)
	}
	return out
}

// PropertyValue pairs a property ID with its encoded wire value.
type PropertyValue struct {
	ID    PropertyID
	Value []byte
}

// PropertySet is a set of property IDs: the supported-properties set
// (filled from capability responses plus empirical acknowledgements)
// and the updated-properties set (dirty flags, cleared after a
// successful apply) are both of this type.
type PropertySet map[PropertyID]bool

// Add marks id as present in the set.
func (s PropertySet) Add(id PropertyID) { s[id] = true }

// Remove clears id from the set.
func (s PropertySet) Remove(id PropertyID) { delete(s, id) }

// Has reports whether id is present in the set.
func (s PropertySet) Has(id PropertyID) bool { return s[id] }

// SubsetOf reports whether every member of s is also a member of
// other; the updated set must be a subset of the supported set before
// a set-properties command goes out.
func (s PropertySet) SubsetOf(other PropertySet) bool {
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}
