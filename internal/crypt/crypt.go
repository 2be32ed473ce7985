// Package crypt decrypts Meshtastic channel traffic.
//
// Packets are encrypted with AES in counter mode. The 16-byte initial
// counter block is the packet id followed by the sender's node number, each
// widened to 64 bits little-endian. AES-128 or AES-256 is selected by the
// channel key length.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/meshbridge/internal/channels"
	"github.com/alfredjeanlab/meshbridge/internal/meshpb"
)

var (
	// ErrDecrypt wraps every decryption failure.
	ErrDecrypt = errors.New("decrypt failed")
	// ErrNoChannel is returned when neither the packet's channel nor the
	// default alias has key material.
	ErrNoChannel = errors.New("no channel key")
	// ErrKeyLength is returned for keys that are not 16 or 32 bytes.
	ErrKeyLength = errors.New("invalid key length")
	// ErrNotEnvelope is returned for packets that are already decoded or
	// carry no ciphertext.
	ErrNotEnvelope = errors.New("packet is not an encrypted envelope")
)

// Nonce builds the initial counter block for a packet.
func Nonce(packetID, from uint32) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.LittleEndian.PutUint64(iv[0:8], uint64(packetID))
	binary.LittleEndian.PutUint64(iv[8:16], uint64(from))
	return iv
}

// XOR applies the AES-CTR keystream for key and iv to src. Encryption and
// decryption are the same operation.
func XOR(key, iv, src []byte) ([]byte, error) {
	switch len(key) {
	case 16, 32:
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrKeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	cipher.NewCTR(block, iv).XORKeyStream(dst, src)
	return dst, nil
}

// Encrypt seals a decoded payload the way a radio would. Used by tests and
// by tooling that needs to fabricate channel traffic.
func Encrypt(key []byte, packetID, from uint32, data *meshpb.Data) ([]byte, error) {
	return XOR(key, Nonce(packetID, from), data.Marshal())
}

// Engine decrypts envelope-only packets with keys from a channel resolver.
type Engine struct {
	resolver *channels.Resolver
	logger   *slog.Logger
}

// NewEngine returns an engine backed by the given resolver.
func NewEngine(resolver *channels.Resolver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{resolver: resolver, logger: logger}
}

// Decrypt attaches the decoded body to pkt when it can be recovered.
// hint is the channel name the packet arrived under, if any.
//
// On failure the packet is left exactly as it was and an error wrapping
// ErrDecrypt is returned; the caller decides whether to log it.
func (e *Engine) Decrypt(pkt *meshpb.MeshPacket, hint string) error {
	if !pkt.IsEnvelopeOnly() {
		return fmt.Errorf("%w: %w", ErrDecrypt, ErrNotEnvelope)
	}

	candidates := e.resolver.KeyCandidates(hint, pkt.Channel)
	var firstErr error
	for _, ch := range candidates {
		if len(ch.Key) == 0 {
			continue
		}
		data, err := open(ch, pkt)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		pkt.Decoded = data
		e.logger.Debug("crypt: packet decrypted", "packet_id", pkt.ID, "channel", ch.Name, "portnum", data.PortNum.String())
		return nil
	}
	if firstErr != nil {
		return firstErr
	}
	return fmt.Errorf("%w: %w (channel %d, hint %q)", ErrDecrypt, ErrNoChannel, pkt.Channel, hint)
}

// open decrypts pkt with ch's key without touching pkt.
func open(ch channels.Descriptor, pkt *meshpb.MeshPacket) (*meshpb.Data, error) {
	plain, err := XOR(ch.Key, Nonce(pkt.ID, pkt.From), pkt.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: channel %s: %w", ErrDecrypt, ch.Name, err)
	}

	data := &meshpb.Data{}
	if err := data.Unmarshal(plain); err != nil {
		return nil, fmt.Errorf("%w: channel %s: malformed plaintext: %w", ErrDecrypt, ch.Name, err)
	}
	// A wrong key yields random bytes that occasionally parse; a real
	// payload always names its application.
	if data.PortNum == meshpb.PortUnknown {
		return nil, fmt.Errorf("%w: channel %s: plaintext has no port", ErrDecrypt, ch.Name)
	}
	return data, nil
}
