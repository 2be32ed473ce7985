package meshpb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestData_RoundTrip(t *testing.T) {
	bf := BitfieldOKToMQTT
	in := &Data{
		PortNum:      PortTextMessage,
		Payload:      []byte("hello mesh"),
		WantResponse: true,
		Dest:         0xdeadbeef,
		RequestID:    42,
		Bitfield:     &bf,
	}

	var out Data
	require.NoError(t, out.Unmarshal(in.Marshal()))
	assert.Equal(t, in, &out)
	assert.True(t, out.OKToMQTT())
}

func TestData_BitfieldAbsent(t *testing.T) {
	in := &Data{PortNum: PortPosition, Payload: []byte{1, 2, 3}}

	var out Data
	require.NoError(t, out.Unmarshal(in.Marshal()))
	assert.Nil(t, out.Bitfield)
	assert.False(t, out.OKToMQTT())
}

func TestData_BitfieldZeroIsPresent(t *testing.T) {
	zero := uint32(0)
	in := &Data{PortNum: PortPosition, Bitfield: &zero}

	var out Data
	require.NoError(t, out.Unmarshal(in.Marshal()))
	require.NotNil(t, out.Bitfield)
	assert.Equal(t, uint32(0), *out.Bitfield)
	assert.False(t, out.OKToMQTT())
}

func TestMeshPacket_RoundTripDecoded(t *testing.T) {
	in := &MeshPacket{
		From:     0xa1b2c3d4,
		To:       0xffffffff,
		Channel:  0,
		Decoded:  &Data{PortNum: PortNodeInfo, Payload: []byte("node")},
		ID:       123456,
		RxTime:   1700000000,
		RxSNR:    -7.25,
		HopLimit: 3,
		WantAck:  true,
		RxRSSI:   -112,
		HopStart: 3,
	}

	var out MeshPacket
	require.NoError(t, out.Unmarshal(in.Marshal()))
	assert.Equal(t, in, &out)
}

func TestMeshPacket_RoundTripEncrypted(t *testing.T) {
	in := &MeshPacket{
		From:      1,
		Channel:   8,
		Encrypted: []byte{0x10, 0x20, 0x30},
		ID:        99,
		ViaMQTT:   true,
	}

	var out MeshPacket
	require.NoError(t, out.Unmarshal(in.Marshal()))
	assert.Equal(t, in, &out)
	assert.True(t, out.IsEnvelopeOnly())
}

func TestMeshPacket_DecodedWinsOnMarshal(t *testing.T) {
	in := &MeshPacket{
		ID:        7,
		Encrypted: []byte{0xff, 0xfe},
		Decoded:   &Data{PortNum: PortTelemetry},
	}

	var out MeshPacket
	require.NoError(t, out.Unmarshal(in.Marshal()))
	assert.Nil(t, out.Encrypted)
	require.NotNil(t, out.Decoded)
	assert.Equal(t, PortTelemetry, out.Decoded.PortNum)
	assert.False(t, out.IsEnvelopeOnly())
}

func TestMeshPacket_LastOneofMemberWins(t *testing.T) {
	var b []byte
	b = appendMessageField(b, 4, (&Data{PortNum: PortTextMessage}).Marshal())
	b = appendBytesField(b, 5, []byte{0x01})

	var out MeshPacket
	require.NoError(t, out.Unmarshal(b))
	assert.Nil(t, out.Decoded)
	assert.Equal(t, []byte{0x01}, out.Encrypted)
}

func TestMeshPacket_KeepsUnknownFields(t *testing.T) {
	b := (&MeshPacket{ID: 5, From: 6}).Marshal()
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 12345)
	b = protowire.AppendTag(b, 100, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	var out MeshPacket
	require.NoError(t, out.Unmarshal(b))
	assert.Equal(t, uint32(5), out.ID)
	assert.Equal(t, uint32(6), out.From)
	assert.Equal(t, b, out.Marshal())
}

// radioPacket encodes a packet the way firmware does, field by field in
// number order, including fields the bridge does not model.
func radioPacket() []byte {
	var b []byte
	b = appendFixed32Field(b, 1, 0x0badcafe)
	b = appendFixed32Field(b, 2, 0xffffffff)
	b = appendVarintField(b, 3, 8)
	b = appendBytesField(b, 5, []byte{0xde, 0xad, 0xbe, 0xef})
	b = appendFixed32Field(b, 6, 4242)
	b = appendVarintField(b, 9, 3)
	b = protowire.AppendTag(b, 13, protowire.VarintType) // delayed
	b = protowire.AppendVarint(b, 1)
	b = appendVarintField(b, 15, 7)
	b = protowire.AppendTag(b, 16, protowire.BytesType) // public_key
	b = protowire.AppendBytes(b, []byte("0123456789abcdef0123456789abcdef"))
	b = protowire.AppendTag(b, 17, protowire.VarintType) // pki_encrypted
	b = protowire.AppendVarint(b, 1)
	b = protowire.AppendTag(b, 18, protowire.VarintType) // next_hop
	b = protowire.AppendVarint(b, 0x22)
	b = protowire.AppendTag(b, 19, protowire.VarintType) // relay_node
	b = protowire.AppendVarint(b, 0x44)
	b = protowire.AppendTag(b, 20, protowire.VarintType) // tx_after
	b = protowire.AppendVarint(b, 1700000000)
	b = protowire.AppendTag(b, 21, protowire.VarintType) // transport_mechanism
	b = protowire.AppendVarint(b, 5)
	return b
}

func TestMeshPacket_ReencodesRadioPacketExactly(t *testing.T) {
	raw := radioPacket()

	var p MeshPacket
	require.NoError(t, p.Unmarshal(raw))
	assert.Equal(t, uint32(0x0badcafe), p.From)
	assert.Equal(t, uint32(7), p.HopStart)
	assert.True(t, p.IsEnvelopeOnly())
	assert.Equal(t, raw, p.Marshal())
}

func TestServiceEnvelope_ReencodesRadioEnvelopeExactly(t *testing.T) {
	var in []byte
	in = appendMessageField(in, 1, radioPacket())
	in = appendStringField(in, 2, "LongFast")
	in = appendStringField(in, 3, "!a1b2c3d4")

	var env ServiceEnvelope
	require.NoError(t, env.Unmarshal(in))
	assert.Equal(t, in, env.Marshal(), "republished envelope lost packet fields")
}

func TestData_KeepsUnknownFields(t *testing.T) {
	b := (&Data{PortNum: PortTextMessage, Payload: []byte("hi")}).Marshal()
	b = protowire.AppendTag(b, 12, protowire.VarintType)
	b = protowire.AppendVarint(b, 9)

	var d Data
	require.NoError(t, d.Unmarshal(b))
	assert.Equal(t, b, d.Marshal())
}

func TestMergeFields_Interleaves(t *testing.T) {
	var known, unknown []byte
	known = appendVarintField(known, 1, 1)
	known = appendVarintField(known, 5, 5)
	unknown = appendVarintField(unknown, 3, 3)
	unknown = appendVarintField(unknown, 9, 9)

	var want []byte
	for _, n := range []protowire.Number{1, 3, 5, 9} {
		want = appendVarintField(want, n, uint64(n))
	}
	assert.Equal(t, want, mergeFields(known, unknown))
	assert.Equal(t, known, mergeFields(known, nil))
}

func TestMeshPacket_TruncatedInput(t *testing.T) {
	b := (&MeshPacket{Encrypted: []byte("0123456789")}).Marshal()

	var out MeshPacket
	assert.Error(t, out.Unmarshal(b[:len(b)-3]))
}

func TestServiceEnvelope_Golden(t *testing.T) {
	env := &ServiceEnvelope{
		Packet:    &MeshPacket{From: 1},
		ChannelID: "LongFast",
		GatewayID: "!a1b2c3d4",
	}

	want := []byte{
		0x0a, 0x05, 0x0d, 0x01, 0x00, 0x00, 0x00,
		0x12, 0x08, 'L', 'o', 'n', 'g', 'F', 'a', 's', 't',
		0x1a, 0x09, '!', 'a', '1', 'b', '2', 'c', '3', 'd', '4',
	}
	assert.Equal(t, want, env.Marshal())

	var out ServiceEnvelope
	require.NoError(t, out.Unmarshal(want))
	assert.Equal(t, env, &out)
}

func TestPortNum_String(t *testing.T) {
	assert.Equal(t, "TEXT_MESSAGE_APP", PortTextMessage.String())
	assert.Equal(t, "MAP_REPORT_APP", PortMapReport.String())
	assert.Equal(t, "PORT_500", PortNum(500).String())
}

func TestModemPreset_Parse(t *testing.T) {
	p, ok := ParseModemPreset("MEDIUM_FAST")
	require.True(t, ok)
	assert.Equal(t, PresetMediumFast, p)

	_, ok = ParseModemPreset("WARP_SPEED")
	assert.False(t, ok)
}
