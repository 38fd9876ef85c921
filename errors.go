// Package midea is a local-area controller library for Midea-branded
// HVAC appliances: discovery, V3 session authentication, command
// encoding, and state decoding for residential air conditioners,
// commercial coolers, and heat pumps.
//
// Frame-level errors are local to a single received response and
// never tear down a session; transport errors close the socket and
// mark the device offline; auth errors mark the device unusable until
// a fresh token is obtained; cloud errors propagate to the caller. A
// timeout is not represented as an error — see internal/transport —
// it is an empty response list.
package midea

import (
	"fmt"

	"github.com/stapelberg/midea-lan/internal/cloud"
	"github.com/stapelberg/midea-lan/internal/crypto"
	"github.com/stapelberg/midea-lan/internal/frame"
	"github.com/stapelberg/midea-lan/internal/session"
	"github.com/stapelberg/midea-lan/internal/transport"
)

// InvalidFrameError is re-exported from internal/frame so callers
// handling a Refresh/Apply error can type-switch on it without
// importing an internal package.
type InvalidFrameError = frame.InvalidFrameError

// CryptoError is re-exported from internal/crypto.
type CryptoError = crypto.CryptoError

// TransportError is re-exported from internal/transport.
type TransportError = transport.TransportError

// AuthError is re-exported from internal/session: a V3 handshake was
// rejected. A device in this state is unusable until a fresh token is
// obtained.
type AuthError = session.AuthError

// ApiError is re-exported from internal/cloud: the vendor cloud
// returned a well-formed, non-zero error response.
type ApiError = cloud.ApiError

// CloudError is re-exported from internal/cloud: a transport-level
// failure reaching the vendor cloud.
type CloudError = cloud.CloudError

// UnknownResponseError describes a structurally valid frame whose
// type byte no codec recognizes. The device layer logs it and drops
// the frame; it never aborts a Refresh/Apply call, since other frames
// in the same response batch may still be useful.
type UnknownResponseError struct {
	DeviceType frame.DeviceType
	FrameType  frame.FrameType
	Subtype    byte
}

func (e *UnknownResponseError) Error() string {
	return fmt.Sprintf("midea: unknown response: device=%s frame=0x%02X subtype=0x%02X",
		e.DeviceType, byte(e.FrameType), e.Subtype)
}
