package meshpb

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Data is the decoded inner message of a mesh packet.
type Data struct {
	PortNum      PortNum
	Payload      []byte
	WantResponse bool
	Dest         uint32
	Source       uint32
	RequestID    uint32
	ReplyID      uint32
	Emoji        uint32
	// Bitfield is nil when the sender did not set it (optional field).
	Bitfield *uint32

	unknown []byte
}

// Marshal encodes d in protobuf wire format.
func (d *Data) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(d.PortNum))
	b = appendBytesField(b, 2, d.Payload)
	b = appendBoolField(b, 3, d.WantResponse)
	b = appendFixed32Field(b, 4, d.Dest)
	b = appendFixed32Field(b, 5, d.Source)
	b = appendFixed32Field(b, 6, d.RequestID)
	b = appendFixed32Field(b, 7, d.ReplyID)
	b = appendFixed32Field(b, 8, d.Emoji)
	if d.Bitfield != nil {
		b = protowire.AppendTag(b, 9, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*d.Bitfield))
	}
	return mergeFields(b, d.unknown)
}

// Unmarshal decodes b into d, replacing its contents.
func (d *Data) Unmarshal(b []byte) error {
	*d = Data{}
	return walkFieldsKeep(b, &d.unknown, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			x, n := consumeVarint(typ, v)
			d.PortNum = PortNum(int32(x))
			return n, nil
		case 2:
			x, n := consumeBytes(typ, v)
			d.Payload = x
			return n, nil
		case 3:
			x, n := consumeVarint(typ, v)
			d.WantResponse = protowire.DecodeBool(x)
			return n, nil
		case 4:
			x, n := consumeFixed32(typ, v)
			d.Dest = x
			return n, nil
		case 5:
			x, n := consumeFixed32(typ, v)
			d.Source = x
			return n, nil
		case 6:
			x, n := consumeFixed32(typ, v)
			d.RequestID = x
			return n, nil
		case 7:
			x, n := consumeFixed32(typ, v)
			d.ReplyID = x
			return n, nil
		case 8:
			x, n := consumeFixed32(typ, v)
			d.Emoji = x
			return n, nil
		case 9:
			x, n := consumeVarint(typ, v)
			if n > 0 {
				bf := uint32(x)
				d.Bitfield = &bf
			}
			return n, nil
		}
		return 0, nil
	})
}

// OKToMQTT reports whether the sender marked the packet as uplinkable.
// An unset bitfield reads as not OK.
func (d *Data) OKToMQTT() bool {
	return d.Bitfield != nil && *d.Bitfield&BitfieldOKToMQTT != 0
}

// MeshPacket is a single packet as seen by the radio.
//
// The payload is a oneof on the wire: Decoded wins over Encrypted when both
// are set. Keeping both in memory lets the bridge decrypt a packet for
// inspection while still forwarding the original ciphertext.
type MeshPacket struct {
	From      uint32
	To        uint32
	Channel   uint32
	Decoded   *Data
	Encrypted []byte
	ID        uint32
	RxTime    uint32
	RxSNR     float32
	HopLimit  uint32
	WantAck   bool
	Priority  uint32
	RxRSSI    int32
	ViaMQTT   bool
	HopStart  uint32

	// Fields such as next_hop, relay_node and pki_encrypted ride along
	// undecoded.
	unknown []byte
}

// IsEnvelopeOnly reports whether p carries ciphertext and nothing decoded.
func (p *MeshPacket) IsEnvelopeOnly() bool {
	return p.Decoded == nil && len(p.Encrypted) > 0
}

// Marshal encodes p in protobuf wire format.
func (p *MeshPacket) Marshal() []byte {
	var b []byte
	b = appendFixed32Field(b, 1, p.From)
	b = appendFixed32Field(b, 2, p.To)
	b = appendVarintField(b, 3, uint64(p.Channel))
	switch {
	case p.Decoded != nil:
		b = appendMessageField(b, 4, p.Decoded.Marshal())
	case len(p.Encrypted) > 0:
		b = appendBytesField(b, 5, p.Encrypted)
	}
	b = appendFixed32Field(b, 6, p.ID)
	b = appendFixed32Field(b, 7, p.RxTime)
	b = appendFloatField(b, 8, p.RxSNR)
	b = appendVarintField(b, 9, uint64(p.HopLimit))
	b = appendBoolField(b, 10, p.WantAck)
	b = appendVarintField(b, 11, uint64(p.Priority))
	b = appendInt32Field(b, 12, p.RxRSSI)
	b = appendBoolField(b, 14, p.ViaMQTT)
	b = appendVarintField(b, 15, uint64(p.HopStart))
	return mergeFields(b, p.unknown)
}

// Unmarshal decodes b into p, replacing its contents.
func (p *MeshPacket) Unmarshal(b []byte) error {
	*p = MeshPacket{}
	return walkFieldsKeep(b, &p.unknown, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			x, n := consumeFixed32(typ, v)
			p.From = x
			return n, nil
		case 2:
			x, n := consumeFixed32(typ, v)
			p.To = x
			return n, nil
		case 3:
			x, n := consumeVarint(typ, v)
			p.Channel = uint32(x)
			return n, nil
		case 4:
			raw, n := consumeBytes(typ, v)
			if n <= 0 {
				return n, nil
			}
			d := &Data{}
			if err := d.Unmarshal(raw); err != nil {
				return 0, fmt.Errorf("decoded: %w", err)
			}
			p.Decoded = d
			p.Encrypted = nil
			return n, nil
		case 5:
			x, n := consumeBytes(typ, v)
			if n > 0 {
				p.Encrypted = x
				p.Decoded = nil
			}
			return n, nil
		case 6:
			x, n := consumeFixed32(typ, v)
			p.ID = x
			return n, nil
		case 7:
			x, n := consumeFixed32(typ, v)
			p.RxTime = x
			return n, nil
		case 8:
			x, n := consumeFixed32(typ, v)
			p.RxSNR = math.Float32frombits(x)
			return n, nil
		case 9:
			x, n := consumeVarint(typ, v)
			p.HopLimit = uint32(x)
			return n, nil
		case 10:
			x, n := consumeVarint(typ, v)
			p.WantAck = protowire.DecodeBool(x)
			return n, nil
		case 11:
			x, n := consumeVarint(typ, v)
			p.Priority = uint32(x)
			return n, nil
		case 12:
			x, n := consumeVarint(typ, v)
			p.RxRSSI = int32(x)
			return n, nil
		case 14:
			x, n := consumeVarint(typ, v)
			p.ViaMQTT = protowire.DecodeBool(x)
			return n, nil
		case 15:
			x, n := consumeVarint(typ, v)
			p.HopStart = uint32(x)
			return n, nil
		}
		return 0, nil
	})
}

// ServiceEnvelope is the message published on Meshtastic MQTT topics.
type ServiceEnvelope struct {
	Packet    *MeshPacket
	ChannelID string
	GatewayID string

	unknown []byte
}

// Marshal encodes e in protobuf wire format.
func (e *ServiceEnvelope) Marshal() []byte {
	var b []byte
	if e.Packet != nil {
		b = appendMessageField(b, 1, e.Packet.Marshal())
	}
	b = appendStringField(b, 2, e.ChannelID)
	b = appendStringField(b, 3, e.GatewayID)
	return mergeFields(b, e.unknown)
}

// Unmarshal decodes b into e, replacing its contents.
func (e *ServiceEnvelope) Unmarshal(b []byte) error {
	*e = ServiceEnvelope{}
	return walkFieldsKeep(b, &e.unknown, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			raw, n := consumeBytes(typ, v)
			if n <= 0 {
				return n, nil
			}
			p := &MeshPacket{}
			if err := p.Unmarshal(raw); err != nil {
				return 0, fmt.Errorf("packet: %w", err)
			}
			e.Packet = p
			return n, nil
		case 2:
			x, n := consumeBytes(typ, v)
			e.ChannelID = string(x)
			return n, nil
		case 3:
			x, n := consumeBytes(typ, v)
			e.GatewayID = string(x)
			return n, nil
		}
		return 0, nil
	})
}
