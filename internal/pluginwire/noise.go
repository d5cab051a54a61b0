// Package pluginwire is the Noise-secured, length-framed wire protocol the
// plugin broadcaster (C8) speaks to its subscribers over a Unix socket.
// Adapted near-verbatim from the teacher's crypto.go: the Noise handshake
// wrapper there is already transport-agnostic, so only the doc comments
// changed in moving it out of the storage-driver package.
package pluginwire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/flynn/noise"
)

// Overhead is the encryption overhead: 4-byte length prefix + 16-byte
// AES-GCM tag.
const Overhead = 4 + 16

var defaultCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)

var (
	ErrHandshakeFailed     = errors.New("pluginwire: handshake failed")
	ErrHandshakeIncomplete = errors.New("pluginwire: handshake not complete")
	ErrNoiseInitFailed     = errors.New("pluginwire: noise handshake initialization failed")
)

// Noise encapsulates one connection's Noise Protocol handshake state and
// cipher suite, NN pattern (no static keys — a local Unix socket peer is
// trusted by filesystem permissions, not by key identity).
type Noise struct {
	hs          *noise.HandshakeState
	cs1         *noise.CipherState
	cs2         *noise.CipherState
	isComplete  bool
	isInitiator bool
}

// NewClient creates a Noise handshake as the initiator.
func NewClient() (*Noise, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: defaultCipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoiseInitFailed, err)
	}
	return &Noise{hs: hs, isInitiator: true}, nil
}

// NewServer creates a Noise handshake as the responder.
func NewServer() (*Noise, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: defaultCipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoiseInitFailed, err)
	}
	return &Noise{hs: hs, isInitiator: false}, nil
}

func (nh *Noise) WriteMessage(payload []byte) ([]byte, error) {
	msg, cs1, cs2, err := nh.hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, err
	}
	if cs1 != nil && cs2 != nil {
		nh.cs1, nh.cs2 = cs1, cs2
		nh.isComplete = true
	}
	return msg, nil
}

func (nh *Noise) ReadMessage(msg []byte) ([]byte, error) {
	payload, cs1, cs2, err := nh.hs.ReadMessage(nil, msg)
	if err != nil {
		return nil, err
	}
	if cs1 != nil && cs2 != nil {
		nh.cs1, nh.cs2 = cs1, cs2
		nh.isComplete = true
	}
	return payload, nil
}

func (nh *Noise) IsComplete() bool { return nh.isComplete }

func (nh *Noise) encrypt(dst, plaintext []byte) ([]byte, error) {
	if nh.isInitiator {
		return nh.cs1.Encrypt(dst, nil, plaintext)
	}
	return nh.cs2.Encrypt(dst, nil, plaintext)
}

func (nh *Noise) decrypt(dst, ciphertext []byte) ([]byte, error) {
	if nh.isInitiator {
		return nh.cs2.Decrypt(dst, nil, ciphertext)
	}
	return nh.cs1.Decrypt(dst, nil, ciphertext)
}

// Seal encrypts plaintext and prepends a 4-byte big-endian length.
func (nh *Noise) Seal(dst, plaintext []byte) ([]byte, error) {
	if !nh.isComplete {
		return nil, ErrHandshakeIncomplete
	}
	needed := 4 + len(plaintext) + 16
	if cap(dst) < needed {
		dst = make([]byte, 4, needed)
	} else {
		dst = dst[:4]
	}
	ciphertext, err := nh.encrypt(dst[4:4], plaintext)
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint32(dst[:4], uint32(len(ciphertext)))
	return dst[:4+len(ciphertext)], nil
}

// Unseal extracts and decrypts one length-prefixed chunk from data.
func (nh *Noise) Unseal(dst, data []byte) (plaintext, remaining []byte, err error) {
	if len(data) < 4 {
		return nil, data, io.ErrShortBuffer
	}
	length := int(binary.BigEndian.Uint32(data[:4]))
	if len(data) < 4+length {
		return nil, data, io.ErrShortBuffer
	}
	decrypted, err := nh.decrypt(dst[:0], data[4:4+length])
	if err != nil {
		return nil, nil, err
	}
	return decrypted, data[4+length:], nil
}
