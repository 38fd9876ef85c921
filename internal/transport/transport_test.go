package transport

import (
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stapelberg/midea-lan/internal/crypto"
	"github.com/stapelberg/midea-lan/internal/frame"
	"github.com/stapelberg/midea-lan/internal/session"
)

func listenerHostPort(t *testing.T, ln net.Listener) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}
	return host, port
}

func TestSendRequestReceivesResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	response := frame.Encode(frame.Frame{
		DeviceType: frame.AirConditioner,
		FrameType:  frame.FrameTypeReport,
		Payload:    []byte{0xC0, 0x01},
	})

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 512)
		conn.Read(buf)
		conn.Write(response)
	}()

	host, port := listenerHostPort(t, ln)
	tr := New(host, port)
	defer tr.Close()

	req := frame.Encode(frame.Frame{
		DeviceType: frame.AirConditioner,
		FrameType:  frame.FrameTypeQuery,
		Payload:    []byte{0x41},
	})
	frames, err := tr.SendRequest(req, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Payload[0] != 0xC0 {
		t.Errorf("payload = % X, want leading 0xC0", frames[0].Payload)
	}
	if !tr.Online() {
		t.Errorf("Online() = false after a successful exchange")
	}
}

func TestSendRequestTimeoutIsNotAnError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 512)
		conn.Read(buf)
		<-done // never respond
	}()
	defer close(done)

	host, port := listenerHostPort(t, ln)
	tr := New(host, port)
	defer tr.Close()

	req := frame.Encode(frame.Frame{DeviceType: frame.AirConditioner, FrameType: frame.FrameTypeQuery, Payload: []byte{0x41}})
	frames, err := tr.SendRequest(req, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("SendRequest returned error on timeout, want nil error: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("got %d frames, want 0 on timeout", len(frames))
	}
}

func TestSendRequestConnectFailureIsTransportError(t *testing.T) {
	tr := New("127.0.0.1", 1) // port 1 should refuse immediately
	_, err := tr.SendRequest([]byte{0x01}, 200*time.Millisecond)
	if err == nil {
		t.Fatalf("expected TransportError for refused connection")
	}
	if !strings.Contains(err.Error(), "transport:") {
		t.Errorf("error = %v, want transport error", err)
	}
}

// fakeV3Device implements the device side of the V3 handshake and one
// enveloped response on an accepted connection.
func fakeV3Device(t *testing.T, ln net.Listener, key []byte, response frame.Frame) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	framing := session.New(nil)
	buf := make([]byte, 4096)

	// pending keeps bytes past one envelope: the client may send its
	// handshake reply and first data frame in a single segment.
	var pending []byte
	readEnvelope := func(s *session.Session) []byte {
		for {
			if total := session.WireLength(pending); total > 0 {
				env, err := s.Decode(pending[:total])
				pending = pending[total:]
				if err != nil {
					t.Errorf("device: decoding envelope: %v", err)
					return nil
				}
				return env.Plaintext
			}
			n, err := conn.Read(buf)
			if err != nil {
				return nil
			}
			pending = append(pending, buf[:n]...)
		}
	}

	// Round 1: client sends its UDP-ID encrypted under our key.
	if readEnvelope(framing) == nil {
		return
	}

	// Round 2: send a 64-byte challenge encrypted under the key; the
	// session key is SHA-256(challenge[:32] XOR key).
	challenge := make([]byte, 64)
	for i := range challenge {
		challenge[i] = byte(i)
	}
	encrypted, err := crypto.EncryptAESCBCNoPad(key, challenge)
	if err != nil {
		t.Errorf("device: encrypting challenge: %v", err)
		return
	}
	conn.Write(framing.EncodeHandshake(encrypted))

	// Reflection: must decrypt under SHA-256(key) to challenge[:32].
	reflection := readEnvelope(framing)
	if reflection == nil {
		return
	}
	plain, err := crypto.DecryptAESCBCNoPad(crypto.SHA256Sum(key), reflection)
	if err != nil || string(plain) != string(challenge[:32]) {
		t.Errorf("device: bad reflection (err=%v)", err)
		return
	}

	sk := crypto.SHA256Sum(crypto.XORBytes(challenge[:32], key))
	dataSession := session.New(sk)

	// Wait for the client's first data frame, then answer.
	if readEnvelope(dataSession) == nil {
		return
	}
	env, err := dataSession.Encode(frame.Encode(response))
	if err != nil {
		t.Errorf("device: encoding response: %v", err)
		return
	}
	conn.Write(env)
}

func TestSendRequestV3HandshakeAndExchange(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(0xA0 + i)
	}
	response := frame.Frame{
		DeviceType: frame.AirConditioner,
		FrameType:  frame.FrameTypeQuery,
		Payload:    []byte{0xC0, 0x01, 0x45},
	}
	go fakeV3Device(t, ln, key, response)

	host, port := listenerHostPort(t, ln)
	tr := NewV3(host, port, make([]byte, 64), key, crypto.UDPID(12345))
	defer tr.Close()

	req := frame.Encode(frame.Frame{
		DeviceType: frame.AirConditioner,
		FrameType:  frame.FrameTypeQuery,
		Payload:    []byte{0x41, 0x81},
	})
	frames, err := tr.SendRequest(req, time.Second)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Payload[0] != 0xC0 {
		t.Errorf("payload = % X, want leading 0xC0", frames[0].Payload)
	}
	if !tr.Online() {
		t.Errorf("Online() = false after a successful V3 exchange")
	}
}

func TestSendRequestV3HandshakeFailureClosesSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Close without answering the handshake.
		conn.Close()
	}()

	host, port := listenerHostPort(t, ln)
	tr := NewV3(host, port, make([]byte, 64), make([]byte, 16), crypto.UDPID(1))
	defer tr.Close()

	if _, err := tr.SendRequest([]byte{0x01}, 200*time.Millisecond); err == nil {
		t.Fatalf("expected error for failed handshake")
	}
	if tr.Online() {
		t.Errorf("Online() = true after a failed handshake")
	}
}
