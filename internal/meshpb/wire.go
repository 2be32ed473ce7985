// Package meshpb encodes and decodes the subset of the Meshtastic protobuf
// schema the bridge needs: mesh packets, the MQTT ServiceEnvelope and the
// FromRadio/ToRadio frames of the stream API.
//
// Messages are hand-mapped onto protowire rather than generated, so field
// numbers below must track mesh.proto, mqtt.proto, channel.proto and
// config.proto upstream. Mesh packets, their Data and ServiceEnvelopes keep
// the fields they do not model and write them back in field order, so a
// packet decoded and encoded again carries everything the radio sent. Other
// messages skip unknown fields.
package meshpb

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

type fieldFunc func(num protowire.Number, typ protowire.Type, v []byte) (int, error)

// walkFields calls fn for every field in b. fn returns the number of value
// bytes it consumed, or 0 to have the field skipped as unknown.
func walkFields(b []byte, fn fieldFunc) error {
	return walkFieldsKeep(b, nil, fn)
}

// walkFieldsKeep is walkFields that appends each skipped field, tag
// included, to unknown when it is non-nil.
func walkFieldsKeep(b []byte, unknown *[]byte, fn fieldFunc) error {
	for len(b) > 0 {
		field := b
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		skipped := m == 0
		if skipped {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		if skipped && unknown != nil {
			*unknown = append(*unknown, field[:n+m]...)
		}
		b = b[m:]
	}
	return nil
}

// mergeFields interleaves unknown fields into an encoding of known fields
// by field number. Both inputs are in ascending field order; on a tie the
// known field goes first.
func mergeFields(known, unknown []byte) []byte {
	if len(unknown) == 0 {
		return known
	}
	out := make([]byte, 0, len(known)+len(unknown))
	for len(known) > 0 && len(unknown) > 0 {
		kn, kl := nextField(known)
		un, ul := nextField(unknown)
		if un < kn {
			out = append(out, unknown[:ul]...)
			unknown = unknown[ul:]
		} else {
			out = append(out, known[:kl]...)
			known = known[kl:]
		}
	}
	out = append(out, known...)
	return append(out, unknown...)
}

// nextField returns the number and encoded length of the first field in b.
// Malformed input is reported as one field spanning all of b.
func nextField(b []byte) (protowire.Number, int) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return protowire.MaxValidNumber, len(b)
	}
	m := protowire.ConsumeFieldValue(num, typ, b[n:])
	if m < 0 {
		return num, len(b)
	}
	return num, n + m
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int) {
	if typ != protowire.VarintType {
		return 0, 0
	}
	return protowire.ConsumeVarint(b)
}

func consumeFixed32(typ protowire.Type, b []byte) (uint32, int) {
	if typ != protowire.Fixed32Type {
		return 0, 0
	}
	return protowire.ConsumeFixed32(b)
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int) {
	if typ != protowire.BytesType {
		return nil, 0
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, n
	}
	// Copy so decoded messages never alias the caller's buffer.
	out := make([]byte, len(v))
	copy(out, v)
	return out, n
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt32Field(b []byte, num protowire.Number, v int32) []byte {
	// int32 is sign-extended to 64 bits on the wire.
	return appendVarintField(b, num, uint64(int64(v)))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	return appendVarintField(b, num, protowire.EncodeBool(v))
}

func appendFixed32Field(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, v)
}

func appendFloatField(b []byte, num protowire.Number, v float32) []byte {
	return appendFixed32Field(b, num, math.Float32bits(v))
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendMessageField writes a nested message. Present-but-empty messages are
// still emitted, since oneof members like ToRadio.heartbeat carry no fields.
func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
