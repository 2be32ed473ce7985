package crypt

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/alfredjeanlab/meshbridge/internal/channels"
	"github.com/alfredjeanlab/meshbridge/internal/meshpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, raw ...channels.RawChannel) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewEngine(channels.New(raw, channels.Options{Logger: logger}), logger)
}

func TestNonce_Layout(t *testing.T) {
	got := Nonce(0x01020304, 0xa1b2c3d4)
	want := []byte{
		0x04, 0x03, 0x02, 0x01, 0, 0, 0, 0,
		0xd4, 0xc3, 0xb2, 0xa1, 0, 0, 0, 0,
	}
	assert.Equal(t, want, got)
}

func TestXOR_RoundTrip(t *testing.T) {
	for _, keyLen := range []int{16, 32} {
		key := bytes.Repeat([]byte{0x5a}, keyLen)
		for _, plain := range [][]byte{
			nil,
			[]byte("a"),
			[]byte("exactly sixteen!"),
			bytes.Repeat([]byte("mesh"), 57),
		} {
			iv := Nonce(uint32(len(plain)), 0xfeedface)
			ct, err := XOR(key, iv, plain)
			require.NoError(t, err)
			pt, err := XOR(key, iv, ct)
			require.NoError(t, err)
			assert.Equal(t, len(plain), len(pt))
			assert.True(t, bytes.Equal(plain, pt), "key %d bytes, plaintext %d bytes", keyLen, len(plain))
		}
	}
}

func TestXOR_RejectsBadKeyLength(t *testing.T) {
	_, err := XOR([]byte{0x01}, Nonce(1, 1), []byte("x"))
	assert.ErrorIs(t, err, ErrKeyLength)
}

func TestDecrypt_DefaultChannel(t *testing.T) {
	e := newEngine(t, channels.RawChannel{Index: 0, Role: meshpb.RolePrimary, Key: []byte{0x01}})

	data := &meshpb.Data{PortNum: meshpb.PortTextMessage, Payload: []byte("hi")}
	ct, err := Encrypt(channels.DefaultPSK, 1234, 0xa1b2c3d4, data)
	require.NoError(t, err)

	pkt := &meshpb.MeshPacket{ID: 1234, From: 0xa1b2c3d4, Channel: 8, Encrypted: ct}
	require.NoError(t, e.Decrypt(pkt, ""))
	require.NotNil(t, pkt.Decoded)
	assert.Equal(t, meshpb.PortTextMessage, pkt.Decoded.PortNum)
	assert.Equal(t, []byte("hi"), pkt.Decoded.Payload)
	assert.Equal(t, ct, pkt.Encrypted, "ciphertext must be kept")
}

func TestDecrypt_ByHint(t *testing.T) {
	opsKey := bytes.Repeat([]byte{0x33}, 32)
	e := newEngine(t,
		channels.RawChannel{Index: 0, Role: meshpb.RolePrimary, Name: "Main", Key: []byte{0x01}},
		channels.RawChannel{Index: 1, Role: meshpb.RoleSecondary, Name: "Ops", Key: opsKey},
	)

	ct, err := Encrypt(opsKey, 5, 6, &meshpb.Data{PortNum: meshpb.PortPosition})
	require.NoError(t, err)

	pkt := &meshpb.MeshPacket{ID: 5, From: 6, Channel: 0x4f, Encrypted: ct}
	require.NoError(t, e.Decrypt(pkt, "Ops"))
	assert.Equal(t, meshpb.PortPosition, pkt.Decoded.PortNum)
}

func TestDecrypt_ChannelHashCollisionFallsBackToDefault(t *testing.T) {
	e := newEngine(t,
		channels.RawChannel{Index: 0, Role: meshpb.RolePrimary, Key: []byte{0x01}},
		channels.RawChannel{Index: 1, Role: meshpb.RoleSecondary, Name: "Ops", Key: bytes.Repeat([]byte{0x33}, 32)},
	)

	// Channel 1 is the default channel's hash here, not the Ops slot.
	data := &meshpb.Data{PortNum: meshpb.PortTextMessage, Payload: []byte("on the default channel")}
	ct, err := Encrypt(channels.DefaultPSK, 1234, 0x0badcafe, data)
	require.NoError(t, err)

	pkt := &meshpb.MeshPacket{ID: 1234, From: 0x0badcafe, Channel: 1, Encrypted: ct}
	require.NoError(t, e.Decrypt(pkt, ""))
	assert.Equal(t, meshpb.PortTextMessage, pkt.Decoded.PortNum)
	assert.Equal(t, []byte("on the default channel"), pkt.Decoded.Payload)
}

func TestDecrypt_UnusableIndexKeyFallsBackToDefault(t *testing.T) {
	e := newEngine(t,
		channels.RawChannel{Index: 0, Role: meshpb.RolePrimary, Key: []byte{0x01}},
		channels.RawChannel{Index: 2, Role: meshpb.RoleSecondary, Name: "Broken", Key: []byte{0x01, 0x02, 0x03}},
	)

	ct, err := Encrypt(channels.DefaultPSK, 77, 88, &meshpb.Data{PortNum: meshpb.PortPosition})
	require.NoError(t, err)

	pkt := &meshpb.MeshPacket{ID: 77, From: 88, Channel: 2, Encrypted: ct}
	require.NoError(t, e.Decrypt(pkt, ""))
	assert.Equal(t, meshpb.PortPosition, pkt.Decoded.PortNum)
}

func TestDecrypt_WrongKeyLeavesPacketEncrypted(t *testing.T) {
	e := newEngine(t, channels.RawChannel{Index: 0, Role: meshpb.RolePrimary, Key: bytes.Repeat([]byte{0x77}, 16)})

	for i := uint32(0); i < 64; i++ {
		ct, err := Encrypt(channels.DefaultPSK, i, 42, &meshpb.Data{PortNum: meshpb.PortTextMessage, Payload: []byte("secret")})
		require.NoError(t, err)

		pkt := &meshpb.MeshPacket{ID: i, From: 42, Encrypted: ct}
		err = e.Decrypt(pkt, "")
		if err == nil {
			// Random plaintext may parse; it must still be a whole message.
			require.NotNil(t, pkt.Decoded)
			continue
		}
		assert.ErrorIs(t, err, ErrDecrypt)
		assert.Nil(t, pkt.Decoded, "failed decrypt must not attach partial fields")
		assert.Equal(t, ct, pkt.Encrypted)
	}
}

func TestDecrypt_BadKeyLength(t *testing.T) {
	e := newEngine(t, channels.RawChannel{Index: 0, Role: meshpb.RolePrimary, Key: []byte{0x01, 0x02, 0x03}})

	pkt := &meshpb.MeshPacket{ID: 1, From: 2, Encrypted: []byte{0xaa, 0xbb}}
	err := e.Decrypt(pkt, "")
	assert.ErrorIs(t, err, ErrDecrypt)
	assert.ErrorIs(t, err, ErrKeyLength)
	assert.Nil(t, pkt.Decoded)
}

func TestDecrypt_NoChannel(t *testing.T) {
	e := newEngine(t)

	pkt := &meshpb.MeshPacket{ID: 1, From: 2, Encrypted: []byte{0xaa}}
	err := e.Decrypt(pkt, "")
	assert.True(t, errors.Is(err, ErrNoChannel))
	assert.Nil(t, pkt.Decoded)
}

func TestDecrypt_SkipsDecodedPackets(t *testing.T) {
	e := newEngine(t, channels.RawChannel{Index: 0, Role: meshpb.RolePrimary, Key: []byte{0x01}})

	decoded := &meshpb.Data{PortNum: meshpb.PortNodeInfo}
	pkt := &meshpb.MeshPacket{ID: 1, Decoded: decoded, Encrypted: []byte{0x01, 0x02}}
	err := e.Decrypt(pkt, "")
	assert.ErrorIs(t, err, ErrNotEnvelope)
	assert.Same(t, decoded, pkt.Decoded)
}
