// Package transport implements the persistent per-device TCP
// connection: framed send/receive, the V3 session envelope with its
// two-round key handshake, and the response-window semantics of the
// LAN protocol (a timeout is not an error, it simply yields an empty
// response list; any I/O error closes the socket and is surfaced as
// TransportError).
//
// Grounded on _examples/stapelberg-hmgo/internal/uartgw/uartgw.go's
// framed-read loop (it drives a serial link with escaping/CRC16
// framing and explicit read deadlines; this package drives a TCP link
// with Midea's length-prefixed framing instead). Within one device,
// commands are serialized FIFO, enforced here with a plain sync.Mutex
// around SendRequest, the way the teacher serializes shared state in
// internal/hm/thermal.
package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stapelberg/midea-lan/internal/frame"
	"github.com/stapelberg/midea-lan/internal/session"
)

// DefaultPort is the TCP port Midea appliances listen for commands
// on.
const DefaultPort = 6444

// DefaultResponseWindow is the read window for LAN requests.
const DefaultResponseWindow = 2 * time.Second

// V1ResponseWindow is the longer window used for V1 (XML) devices.
const V1ResponseWindow = 8 * time.Second

// AuthTimeout bounds the V3 handshake.
const AuthTimeout = 5 * time.Second

var (
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mideatransport",
			Name:      "FramesReceived",
			Help:      "number of frames successfully decoded from devices",
		},
		[]string{"addr"})

	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mideatransport",
			Name:      "FrameErrors",
			Help:      "number of received frames dropped for framing or checksum errors",
		},
		[]string{"addr"})

	handshakeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mideatransport",
			Name:      "HandshakeFailures",
			Help:      "number of failed V3 authentication handshakes",
		},
		[]string{"addr"})
)

func init() {
	prometheus.MustRegister(framesReceived)
	prometheus.MustRegister(frameErrors)
	prometheus.MustRegister(handshakeFailures)
}

// TransportError reports a connect/read/write failure. Any occurrence
// closes the underlying socket; the device layer marks itself offline
// in response.
type TransportError struct {
	Op     string
	Reason error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Reason) }
func (e *TransportError) Unwrap() error { return e.Reason }

// v3Credentials holds the cloud-issued material needed to negotiate a
// session key.
type v3Credentials struct {
	token []byte
	key   []byte
	udpID []byte
}

// Transport is a single device's TCP connection, created lazily on
// the first command and reused until an I/O error tears it down.
type Transport struct {
	addr  string
	creds *v3Credentials

	mu     sync.Mutex
	conn   net.Conn
	sess   *session.Session // non-nil once a V3 handshake completed
	online bool
}

// New constructs a Transport for a V1/V2 device at host:port.
func New(host string, port int) *Transport {
	if port == 0 {
		port = DefaultPort
	}
	return &Transport{addr: fmt.Sprintf("%s:%d", host, port)}
}

// NewV3 constructs a Transport for a V3 device. token and key are the
// raw bytes decoded from the cloud's hex strings; udpID is the
// 16-byte hash the token was issued for. The handshake runs on the
// first command and again after every reconnect.
func NewV3(host string, port int, token, key, udpID []byte) *Transport {
	t := New(host, port)
	t.creds = &v3Credentials{token: token, key: key, udpID: udpID}
	return t
}

// Online reports whether the last request succeeded.
func (t *Transport) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

func (t *Transport) ensureConnectedLocked() error {
	if t.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", t.addr, 5*time.Second)
	if err != nil {
		return &TransportError{Op: "connect", Reason: err}
	}
	t.conn = conn
	t.sess = nil

	if t.creds != nil {
		if err := t.handshakeLocked(); err != nil {
			handshakeFailures.With(prometheus.Labels{"addr": t.addr}).Inc()
			t.closeLocked()
			return err
		}
	}
	return nil
}

// handshakeLocked runs the two-round V3 key negotiation. The
// handshake is non-restartable: any failure fully closes the socket
// before returning so a later call never observes a half-handshaked
// session.
func (t *Transport) handshakeLocked() error {
	deadline := time.Now().Add(AuthTimeout)
	if err := t.conn.SetDeadline(deadline); err != nil {
		return &TransportError{Op: "set-deadline", Reason: err}
	}
	defer t.conn.SetDeadline(time.Time{})

	hs := session.NewHandshake(t.creds.token, t.creds.key)
	framing := session.New(nil)

	round1, err := hs.Round1(t.creds.udpID)
	if err != nil {
		return err
	}
	if _, err := t.conn.Write(framing.EncodeHandshake(round1)); err != nil {
		return &TransportError{Op: "handshake-write", Reason: err}
	}

	challenge, err := t.readEnvelopeLocked(framing, deadline)
	if err != nil {
		return err
	}

	reply, sk, err := hs.Round2(challenge)
	if err != nil {
		return err
	}
	if _, err := t.conn.Write(framing.EncodeHandshake(reply)); err != nil {
		return &TransportError{Op: "handshake-write", Reason: err}
	}

	t.sess = session.New(sk)
	return nil
}

// readEnvelopeLocked reads exactly one V3 envelope off the stream and
// returns its body.
func (t *Transport) readEnvelopeLocked(framing *session.Session, deadline time.Time) ([]byte, error) {
	var buf []byte
	readBuf := make([]byte, 4096)
	for {
		if total := session.WireLength(buf); total > 0 {
			env, err := framing.Decode(buf[:total])
			if err != nil {
				return nil, err
			}
			return env.Plaintext, nil
		}
		if time.Now().After(deadline) {
			return nil, &TransportError{Op: "handshake-read", Reason: fmt.Errorf("timed out")}
		}
		n, err := t.conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
		}
		if err != nil {
			return nil, &TransportError{Op: "handshake-read", Reason: err}
		}
	}
}

func (t *Transport) closeLocked() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.sess = nil
	t.online = false
}

// SendRequest serializes callers via an internal mutex (commands
// within one device are serialized, FIFO), sends one command frame,
// and collects every framed payload that arrives within
// responseWindow. A pure timeout (no data at all) is not an error: it
// returns a nil slice.
func (t *Transport) SendRequest(wire []byte, responseWindow time.Duration) ([]frame.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if responseWindow == 0 {
		responseWindow = DefaultResponseWindow
	}

	if err := t.ensureConnectedLocked(); err != nil {
		return nil, err
	}

	if t.sess != nil {
		enc, err := t.sess.Encode(wire)
		if err != nil {
			t.closeLocked()
			return nil, &TransportError{Op: "encode", Reason: err}
		}
		wire = enc
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(responseWindow)); err != nil {
		t.closeLocked()
		return nil, &TransportError{Op: "set-write-deadline", Reason: err}
	}
	if _, err := t.conn.Write(wire); err != nil {
		t.closeLocked()
		return nil, &TransportError{Op: "write", Reason: err}
	}

	frames, err := t.readResponsesLocked(responseWindow)
	if err != nil {
		t.closeLocked()
		return nil, err
	}

	t.online = true
	return frames, nil
}

// readResponsesLocked reads from the connection until responseWindow
// elapses, decoding as many complete frames as arrive. It never
// returns a timeout as an error.
func (t *Transport) readResponsesLocked(responseWindow time.Duration) ([]frame.Frame, error) {
	deadline := time.Now().Add(responseWindow)
	var buf []byte
	var frames []frame.Frame
	readBuf := make([]byte, 4096)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := t.conn.SetReadDeadline(time.Now().Add(remaining)); err != nil {
			return nil, &TransportError{Op: "set-read-deadline", Reason: err}
		}
		n, err := t.conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			frames = append(frames, t.drainFramesLocked(&buf)...)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			if len(frames) == 0 {
				return nil, &TransportError{Op: "read", Reason: err}
			}
			break
		}
	}

	return frames, nil
}

// drainFramesLocked splits as many complete frames as possible off
// the front of buf. Frame-level errors are local to one response:
// they are counted, logged by the decoder's caller, and the bad frame
// dropped without tearing down the session.
func (t *Transport) drainFramesLocked(buf *[]byte) []frame.Frame {
	var frames []frame.Frame
	for {
		var raw []byte
		if t.sess != nil {
			total := session.WireLength(*buf)
			if total == 0 {
				break
			}
			env, err := t.sess.Decode((*buf)[:total])
			*buf = (*buf)[total:]
			if err != nil {
				frameErrors.With(prometheus.Labels{"addr": t.addr}).Inc()
				continue
			}
			raw = env.Plaintext
		} else {
			total := frame.WireLength(*buf)
			if total == 0 {
				break
			}
			raw = append([]byte{}, (*buf)[:total]...)
			*buf = (*buf)[total:]
		}

		f, err := frame.Decode(raw)
		if err != nil {
			frameErrors.With(prometheus.Labels{"addr": t.addr}).Inc()
			continue
		}
		framesReceived.With(prometheus.Labels{"addr": t.addr}).Inc()
		frames = append(frames, f)
	}
	return frames
}

// Close tears down the connection; the transport may be reused
// afterwards, reconnecting (and re-authenticating, for V3) lazily on
// the next SendRequest.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}
