package session

import (
	"bytes"
	"testing"

	"github.com/stapelberg/midea-lan/internal/crypto"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	sender := New(append([]byte{}, key...))
	receiver := New(append([]byte{}, key...))

	plaintext := []byte("hello midea device")
	envelope, err := sender.Encode(plaintext)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := receiver.Decode(envelope)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded.Plaintext, plaintext) {
		t.Errorf("Decode() plaintext = %q, want %q", decoded.Plaintext, plaintext)
	}
	if decoded.FrameCount != 1 {
		t.Errorf("FrameCount = %d, want 1", decoded.FrameCount)
	}
	if decoded.Purpose != PurposeData {
		t.Errorf("Purpose = 0x%02X, want PurposeData", decoded.Purpose)
	}
}

func TestDecodeRejectsTamperedBody(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	s := New(append([]byte{}, key...))

	envelope, err := s.Encode([]byte{0xAA, 0x0B, 0xAC})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	envelope[len(envelope)-1] ^= 0x01 // flip a signature bit
	if _, err := New(key).Decode(envelope); err == nil {
		t.Errorf("expected signature mismatch error for tampered envelope")
	}
}

func TestWireLength(t *testing.T) {
	key := bytes.Repeat([]byte{0x22}, 32)
	s := New(key)
	envelope, err := s.Encode([]byte("payload"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := WireLength(envelope); got != len(envelope) {
		t.Errorf("WireLength = %d, want %d", got, len(envelope))
	}
	if got := WireLength(envelope[:6]); got != 0 {
		t.Errorf("WireLength of partial envelope = %d, want 0", got)
	}
}

func TestHandshakeEnvelopePassesBodyThrough(t *testing.T) {
	s := New(nil)
	payload := bytes.Repeat([]byte{0x5A}, 64)
	envelope := s.EncodeHandshake(payload)

	decoded, err := New(nil).Decode(envelope)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Purpose != PurposeHandshake {
		t.Errorf("Purpose = 0x%02X, want PurposeHandshake", decoded.Purpose)
	}
	if !bytes.Equal(decoded.Plaintext, payload) {
		t.Errorf("handshake body was modified in transit")
	}
}

func TestHandshakeDerivesSharedKey(t *testing.T) {
	k := bytes.Repeat([]byte{0x22}, 16)
	challenge := bytes.Repeat([]byte{0x33}, 32)

	// Simulate what the device would send back: 64 bytes of
	// AES-CBC(K, challenge || filler) — only the first 32 decrypted
	// bytes matter to Round2.
	encryptedResponse, err := crypto.EncryptAESCBCNoPad(k, append(append([]byte{}, challenge...), challenge...))
	if err != nil {
		t.Fatalf("crypto.EncryptAESCBCNoPad: %v", err)
	}

	h := NewHandshake(nil, k)
	reply, sk, err := h.Round2(encryptedResponse)
	if err != nil {
		t.Fatalf("Round2: %v", err)
	}
	if len(reply) != 32 {
		t.Errorf("reply length = %d, want 32", len(reply))
	}
	if len(sk) != 32 {
		t.Errorf("sk length = %d, want 32", len(sk))
	}

	// The device verifies the reflection by decrypting under
	// SHA-256(K); do the same here.
	plain, err := crypto.DecryptAESCBCNoPad(crypto.SHA256Sum(k), reply)
	if err != nil {
		t.Fatalf("decrypting reflection: %v", err)
	}
	if !bytes.Equal(plain, challenge) {
		t.Errorf("reflection does not round-trip the challenge")
	}

	want := crypto.SHA256Sum(crypto.XORBytes(challenge, k))
	if !bytes.Equal(sk, want) {
		t.Errorf("derived sk mismatch")
	}
}

func TestHandshakeRound2RejectsShortResponse(t *testing.T) {
	h := NewHandshake(nil, bytes.Repeat([]byte{0x01}, 16))
	if _, _, err := h.Round2([]byte{0x01, 0x02}); err == nil {
		t.Errorf("expected AuthError for short response")
	}
}
