package midea

import (
	"encoding/hex"
	"fmt"
	"log"

	"github.com/stapelberg/midea-lan/internal/ac"
	"github.com/stapelberg/midea-lan/internal/c3"
	"github.com/stapelberg/midea-lan/internal/cc"
	"github.com/stapelberg/midea-lan/internal/cloud"
	"github.com/stapelberg/midea-lan/internal/crypto"
	"github.com/stapelberg/midea-lan/internal/discovery"
	"github.com/stapelberg/midea-lan/internal/frame"
	"github.com/stapelberg/midea-lan/internal/transport"
)

// Re-exported identity types, so a CLI can consume the library
// without importing internal packages.
type (
	DeviceDescriptor = discovery.DeviceDescriptor
	DeviceType       = frame.DeviceType
	CloudClient      = cloud.Client
)

const (
	AirConditionerType = frame.AirConditioner
	CommercialACType   = frame.CommercialAC
	HeatPumpType       = frame.HeatPump
)

// Discover broadcasts the LAN discovery probe and returns the
// descriptors of every appliance that answered.
func Discover(opts discovery.Options) ([]DeviceDescriptor, error) {
	return discovery.Discover(opts)
}

// DiscoverSingle probes one host directly.
func DiscoverSingle(host string, opts discovery.Options) (*DeviceDescriptor, error) {
	return discovery.DiscoverSingle(host, opts)
}

// Device is the appliance-independent control surface. Each variant
// additionally exposes a typed state view (AC, CC, HeatPump below).
type Device interface {
	Name() string
	ID() uint64
	Refresh() error
	Apply() error
	Online() bool
	Supported() bool
}

// Typed variants; obtain them by type-switching on FromDescriptor's
// result.
type (
	AC       = ac.AirConditioner
	CC       = cc.CommercialCooler
	HeatPump = c3.HeatPump
)

// FromDescriptor builds the device variant matching the descriptor's
// type, wired to a lazily-connecting transport. For V3 descriptors
// the (token, key) pair must already be present; use Authenticate to
// fill it from the cloud.
func FromDescriptor(desc DeviceDescriptor) (Device, error) {
	tr, err := transportFor(desc)
	if err != nil {
		return nil, err
	}
	name := desc.Name
	if name == "" {
		name = fmt.Sprintf("%d", desc.DeviceID)
	}

	switch desc.DeviceType {
	case frame.AirConditioner:
		return ac.New(tr, desc.DeviceID, name), nil
	case frame.CommercialAC:
		return cc.New(tr, desc.DeviceID, name), nil
	case frame.HeatPump:
		return c3.New(tr, desc.DeviceID, name), nil
	default:
		return nil, fmt.Errorf("midea: unsupported device type %s", desc.DeviceType)
	}
}

func transportFor(desc DeviceDescriptor) (*transport.Transport, error) {
	host := desc.IP.String()
	if desc.ProtocolVersion != 3 {
		return transport.New(host, desc.Port), nil
	}
	if len(desc.Token) == 0 || len(desc.Key) == 0 {
		return nil, &AuthError{Reason: "V3 device without token/key; authenticate against the cloud first"}
	}
	return transport.NewV3(host, desc.Port, desc.Token, desc.Key, crypto.UDPID(desc.DeviceID)), nil
}

// Authenticate retrieves the (token, key) pair for a V3 device from
// the cloud and verifies it against the device with a handshake.
// Firmware generations disagree on the UDP-ID byte order, so both
// derivations are tried; the first pair the device accepts is stored
// in the descriptor.
func Authenticate(desc *DeviceDescriptor, cl CloudClient) error {
	if desc.ProtocolVersion != 3 {
		return nil
	}

	var lastErr error
	for _, udpID := range [][]byte{crypto.UDPID(desc.DeviceID), crypto.UDPIDBig(desc.DeviceID)} {
		udpIDHex := hex.EncodeToString(udpID)
		tokenHex, keyHex, err := cl.GetToken(udpIDHex)
		if err != nil {
			lastErr = err
			continue
		}
		token, err := hex.DecodeString(tokenHex)
		if err != nil {
			lastErr = fmt.Errorf("midea: malformed token from cloud: %w", err)
			continue
		}
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			lastErr = fmt.Errorf("midea: malformed key from cloud: %w", err)
			continue
		}

		tr := transport.NewV3(desc.IP.String(), desc.Port, token, key, udpID)
		if err := verifyHandshake(tr); err != nil {
			log.Printf("WARN: handshake with udpid %s rejected: %v", udpIDHex, err)
			lastErr = err
			continue
		}
		desc.Token = token
		desc.Key = key
		return nil
	}
	if lastErr == nil {
		lastErr = &AuthError{Reason: "no token available"}
	}
	return lastErr
}

// verifyHandshake opens a connection, runs the handshake via a probe
// command, and closes it again. A timeout (empty response list) still
// proves the handshake itself succeeded.
func verifyHandshake(tr *transport.Transport) error {
	defer tr.Close()
	probe, err := ac.EncodeQueryState()
	if err != nil {
		return err
	}
	wire := frame.Encode(frame.Frame{
		DeviceType: frame.AirConditioner,
		FrameType:  frame.FrameTypeQuery,
		Payload:    probe,
	})
	_, err = tr.SendRequest(wire, transport.DefaultResponseWindow)
	return err
}
