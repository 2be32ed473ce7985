package meshpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ChannelSettings holds the per-channel configuration stored on the radio.
type ChannelSettings struct {
	PSK             []byte
	Name            string
	ID              uint32
	UplinkEnabled   bool
	DownlinkEnabled bool
}

func (s *ChannelSettings) marshal() []byte {
	var b []byte
	b = appendBytesField(b, 2, s.PSK)
	b = appendStringField(b, 3, s.Name)
	b = appendFixed32Field(b, 4, s.ID)
	b = appendBoolField(b, 5, s.UplinkEnabled)
	b = appendBoolField(b, 6, s.DownlinkEnabled)
	return b
}

func (s *ChannelSettings) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 2:
			x, n := consumeBytes(typ, v)
			s.PSK = x
			return n, nil
		case 3:
			x, n := consumeBytes(typ, v)
			s.Name = string(x)
			return n, nil
		case 4:
			x, n := consumeFixed32(typ, v)
			s.ID = x
			return n, nil
		case 5:
			x, n := consumeVarint(typ, v)
			s.UplinkEnabled = protowire.DecodeBool(x)
			return n, nil
		case 6:
			x, n := consumeVarint(typ, v)
			s.DownlinkEnabled = protowire.DecodeBool(x)
			return n, nil
		}
		return 0, nil
	})
}

// Channel is one channel slot as reported by the radio.
type Channel struct {
	Index    int32
	Settings ChannelSettings
	Role     ChannelRole
}

func (c *Channel) marshal() []byte {
	var b []byte
	b = appendInt32Field(b, 1, c.Index)
	b = appendMessageField(b, 2, c.Settings.marshal())
	b = appendVarintField(b, 3, uint64(c.Role))
	return b
}

func (c *Channel) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			x, n := consumeVarint(typ, v)
			c.Index = int32(x)
			return n, nil
		case 2:
			raw, n := consumeBytes(typ, v)
			if n <= 0 {
				return n, nil
			}
			if err := c.Settings.unmarshal(raw); err != nil {
				return 0, fmt.Errorf("settings: %w", err)
			}
			return n, nil
		case 3:
			x, n := consumeVarint(typ, v)
			c.Role = ChannelRole(int32(x))
			return n, nil
		}
		return 0, nil
	})
}

// LoRaConfig is the subset of Config.LoRaConfig the bridge reads.
type LoRaConfig struct {
	UsePreset   bool
	ModemPreset ModemPreset
	Region      uint32
}

func (l *LoRaConfig) marshal() []byte {
	var b []byte
	b = appendBoolField(b, 1, l.UsePreset)
	b = appendVarintField(b, 2, uint64(l.ModemPreset))
	b = appendVarintField(b, 7, uint64(l.Region))
	return b
}

func (l *LoRaConfig) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			x, n := consumeVarint(typ, v)
			l.UsePreset = protowire.DecodeBool(x)
			return n, nil
		case 2:
			x, n := consumeVarint(typ, v)
			l.ModemPreset = ModemPreset(int32(x))
			return n, nil
		case 7:
			x, n := consumeVarint(typ, v)
			l.Region = uint32(x)
			return n, nil
		}
		return 0, nil
	})
}

// MQTTConfig mirrors ModuleConfig.MQTTConfig.
type MQTTConfig struct {
	Enabled              bool
	Address              string
	Username             string
	Password             string
	EncryptionEnabled    bool
	JSONEnabled          bool
	TLSEnabled           bool
	Root                 string
	ProxyToClientEnabled bool
}

func (m *MQTTConfig) marshal() []byte {
	var b []byte
	b = appendBoolField(b, 1, m.Enabled)
	b = appendStringField(b, 2, m.Address)
	b = appendStringField(b, 3, m.Username)
	b = appendStringField(b, 4, m.Password)
	b = appendBoolField(b, 5, m.EncryptionEnabled)
	b = appendBoolField(b, 6, m.JSONEnabled)
	b = appendBoolField(b, 7, m.TLSEnabled)
	b = appendStringField(b, 8, m.Root)
	b = appendBoolField(b, 9, m.ProxyToClientEnabled)
	return b
}

func (m *MQTTConfig) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1, 5, 6, 7, 9:
			x, n := consumeVarint(typ, v)
			val := protowire.DecodeBool(x)
			switch num {
			case 1:
				m.Enabled = val
			case 5:
				m.EncryptionEnabled = val
			case 6:
				m.JSONEnabled = val
			case 7:
				m.TLSEnabled = val
			case 9:
				m.ProxyToClientEnabled = val
			}
			return n, nil
		case 2, 3, 4, 8:
			x, n := consumeBytes(typ, v)
			switch num {
			case 2:
				m.Address = string(x)
			case 3:
				m.Username = string(x)
			case 4:
				m.Password = string(x)
			case 8:
				m.Root = string(x)
			}
			return n, nil
		}
		return 0, nil
	})
}

// MQTTProxyMessage is the radio's own MQTT uplink handed to the client when
// proxy-to-client is enabled on the radio.
type MQTTProxyMessage struct {
	Topic    string
	Data     []byte
	Text     string
	Retained bool
}

func (m *MQTTProxyMessage) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, m.Topic)
	b = appendBytesField(b, 2, m.Data)
	b = appendStringField(b, 3, m.Text)
	b = appendBoolField(b, 4, m.Retained)
	return b
}

func (m *MQTTProxyMessage) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			x, n := consumeBytes(typ, v)
			m.Topic = string(x)
			return n, nil
		case 2:
			x, n := consumeBytes(typ, v)
			m.Data = x
			return n, nil
		case 3:
			x, n := consumeBytes(typ, v)
			m.Text = string(x)
			return n, nil
		case 4:
			x, n := consumeVarint(typ, v)
			m.Retained = protowire.DecodeBool(x)
			return n, nil
		}
		return 0, nil
	})
}

// FromRadio is one frame sent by the radio over the stream API. At most one
// of the pointer fields is set per frame.
type FromRadio struct {
	ID               uint32
	Packet           *MeshPacket
	MyNodeNum        *uint32
	LoRa             *LoRaConfig
	ConfigCompleteID uint32
	Rebooted         bool
	MQTT             *MQTTConfig
	Channel          *Channel
	MQTTProxy        *MQTTProxyMessage
}

// Marshal encodes f. Used by tests and simulators that play the radio side.
func (f *FromRadio) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(f.ID))
	if f.Packet != nil {
		b = appendMessageField(b, 2, f.Packet.Marshal())
	}
	if f.MyNodeNum != nil {
		// MyNodeInfo.my_node_num = 1
		b = appendMessageField(b, 3, appendVarintField(nil, 1, uint64(*f.MyNodeNum)))
	}
	if f.LoRa != nil {
		// Config.lora = 6
		b = appendMessageField(b, 5, appendMessageField(nil, 6, f.LoRa.marshal()))
	}
	b = appendVarintField(b, 7, uint64(f.ConfigCompleteID))
	b = appendBoolField(b, 8, f.Rebooted)
	if f.MQTT != nil {
		// ModuleConfig.mqtt = 1
		b = appendMessageField(b, 9, appendMessageField(nil, 1, f.MQTT.marshal()))
	}
	if f.Channel != nil {
		b = appendMessageField(b, 10, f.Channel.marshal())
	}
	if f.MQTTProxy != nil {
		b = appendMessageField(b, 14, f.MQTTProxy.marshal())
	}
	return b
}

// Unmarshal decodes b into f, replacing its contents. Variants the bridge
// does not use (node info, log records, queue status, ...) are skipped.
func (f *FromRadio) Unmarshal(b []byte) error {
	*f = FromRadio{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			x, n := consumeVarint(typ, v)
			f.ID = uint32(x)
			return n, nil
		case 2:
			raw, n := consumeBytes(typ, v)
			if n <= 0 {
				return n, nil
			}
			p := &MeshPacket{}
			if err := p.Unmarshal(raw); err != nil {
				return 0, fmt.Errorf("packet: %w", err)
			}
			f.Packet = p
			return n, nil
		case 3:
			raw, n := consumeBytes(typ, v)
			if n <= 0 {
				return n, nil
			}
			var nodeNum uint32
			err := walkFields(raw, func(fn protowire.Number, ft protowire.Type, fv []byte) (int, error) {
				if fn != 1 {
					return 0, nil
				}
				x, m := consumeVarint(ft, fv)
				nodeNum = uint32(x)
				return m, nil
			})
			if err != nil {
				return 0, fmt.Errorf("my_info: %w", err)
			}
			f.MyNodeNum = &nodeNum
			return n, nil
		case 5:
			raw, n := consumeBytes(typ, v)
			if n <= 0 {
				return n, nil
			}
			err := walkFields(raw, func(fn protowire.Number, ft protowire.Type, fv []byte) (int, error) {
				if fn != 6 {
					return 0, nil
				}
				inner, m := consumeBytes(ft, fv)
				if m <= 0 {
					return m, nil
				}
				lora := &LoRaConfig{}
				if err := lora.unmarshal(inner); err != nil {
					return 0, err
				}
				f.LoRa = lora
				return m, nil
			})
			if err != nil {
				return 0, fmt.Errorf("config: %w", err)
			}
			return n, nil
		case 7:
			x, n := consumeVarint(typ, v)
			f.ConfigCompleteID = uint32(x)
			return n, nil
		case 8:
			x, n := consumeVarint(typ, v)
			f.Rebooted = protowire.DecodeBool(x)
			return n, nil
		case 9:
			raw, n := consumeBytes(typ, v)
			if n <= 0 {
				return n, nil
			}
			err := walkFields(raw, func(fn protowire.Number, ft protowire.Type, fv []byte) (int, error) {
				if fn != 1 {
					return 0, nil
				}
				inner, m := consumeBytes(ft, fv)
				if m <= 0 {
					return m, nil
				}
				mqtt := &MQTTConfig{}
				if err := mqtt.unmarshal(inner); err != nil {
					return 0, err
				}
				f.MQTT = mqtt
				return m, nil
			})
			if err != nil {
				return 0, fmt.Errorf("module_config: %w", err)
			}
			return n, nil
		case 10:
			raw, n := consumeBytes(typ, v)
			if n <= 0 {
				return n, nil
			}
			ch := &Channel{}
			if err := ch.unmarshal(raw); err != nil {
				return 0, fmt.Errorf("channel: %w", err)
			}
			f.Channel = ch
			return n, nil
		case 14:
			raw, n := consumeBytes(typ, v)
			if n <= 0 {
				return n, nil
			}
			msg := &MQTTProxyMessage{}
			if err := msg.unmarshal(raw); err != nil {
				return 0, fmt.Errorf("mqtt_proxy: %w", err)
			}
			f.MQTTProxy = msg
			return n, nil
		}
		return 0, nil
	})
}

// ToRadio is one frame sent by the client over the stream API.
type ToRadio struct {
	WantConfigID uint32
	Disconnect   bool
	Heartbeat    bool
}

// Marshal encodes t.
func (t *ToRadio) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 3, uint64(t.WantConfigID))
	b = appendBoolField(b, 4, t.Disconnect)
	if t.Heartbeat {
		b = appendMessageField(b, 7, nil)
	}
	return b
}

// Unmarshal decodes b into t, replacing its contents.
func (t *ToRadio) Unmarshal(b []byte) error {
	*t = ToRadio{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 3:
			x, n := consumeVarint(typ, v)
			t.WantConfigID = uint32(x)
			return n, nil
		case 4:
			x, n := consumeVarint(typ, v)
			t.Disconnect = protowire.DecodeBool(x)
			return n, nil
		case 7:
			_, n := consumeBytes(typ, v)
			if n > 0 {
				t.Heartbeat = true
			}
			return n, nil
		}
		return 0, nil
	})
}
