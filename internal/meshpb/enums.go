package meshpb

import "fmt"

// PortNum identifies the application a decoded payload belongs to.
type PortNum int32

const (
	PortUnknown               PortNum = 0
	PortTextMessage           PortNum = 1
	PortRemoteHardware        PortNum = 2
	PortPosition              PortNum = 3
	PortNodeInfo              PortNum = 4
	PortRouting               PortNum = 5
	PortAdmin                 PortNum = 6
	PortTextMessageCompressed PortNum = 7
	PortWaypoint              PortNum = 8
	PortAudio                 PortNum = 9
	PortDetectionSensor       PortNum = 10
	PortReply                 PortNum = 32
	PortIPTunnel              PortNum = 33
	PortPaxcounter            PortNum = 34
	PortSerial                PortNum = 64
	PortStoreForward          PortNum = 65
	PortRangeTest             PortNum = 66
	PortTelemetry             PortNum = 67
	PortZPS                   PortNum = 68
	PortSimulator             PortNum = 69
	PortTraceroute            PortNum = 70
	PortNeighborInfo          PortNum = 71
	PortAtakPlugin            PortNum = 72
	PortMapReport             PortNum = 73
	PortPowerStress           PortNum = 74
	PortPrivate               PortNum = 256
	PortAtakForwarder         PortNum = 257
)

var portNames = map[PortNum]string{
	PortUnknown:               "UNKNOWN_APP",
	PortTextMessage:           "TEXT_MESSAGE_APP",
	PortRemoteHardware:        "REMOTE_HARDWARE_APP",
	PortPosition:              "POSITION_APP",
	PortNodeInfo:              "NODEINFO_APP",
	PortRouting:               "ROUTING_APP",
	PortAdmin:                 "ADMIN_APP",
	PortTextMessageCompressed: "TEXT_MESSAGE_COMPRESSED_APP",
	PortWaypoint:              "WAYPOINT_APP",
	PortAudio:                 "AUDIO_APP",
	PortDetectionSensor:       "DETECTION_SENSOR_APP",
	PortReply:                 "REPLY_APP",
	PortIPTunnel:              "IP_TUNNEL_APP",
	PortPaxcounter:            "PAXCOUNTER_APP",
	PortSerial:                "SERIAL_APP",
	PortStoreForward:          "STORE_FORWARD_APP",
	PortRangeTest:             "RANGE_TEST_APP",
	PortTelemetry:             "TELEMETRY_APP",
	PortZPS:                   "ZPS_APP",
	PortSimulator:             "SIMULATOR_APP",
	PortTraceroute:            "TRACEROUTE_APP",
	PortNeighborInfo:          "NEIGHBORINFO_APP",
	PortAtakPlugin:            "ATAK_PLUGIN",
	PortMapReport:             "MAP_REPORT_APP",
	PortPowerStress:           "POWERSTRESS_APP",
	PortPrivate:               "PRIVATE_APP",
	PortAtakForwarder:         "ATAK_FORWARDER",
}

func (p PortNum) String() string {
	if name, ok := portNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PORT_%d", int32(p))
}

// ChannelRole is the role a channel slot plays on the radio.
type ChannelRole int32

const (
	RoleDisabled  ChannelRole = 0
	RolePrimary   ChannelRole = 1
	RoleSecondary ChannelRole = 2
)

func (r ChannelRole) String() string {
	switch r {
	case RoleDisabled:
		return "DISABLED"
	case RolePrimary:
		return "PRIMARY"
	case RoleSecondary:
		return "SECONDARY"
	default:
		return fmt.Sprintf("ROLE_%d", int32(r))
	}
}

// ModemPreset is the LoRa modem preset configured on the radio.
type ModemPreset int32

const (
	PresetLongFast     ModemPreset = 0
	PresetLongSlow     ModemPreset = 1
	PresetVeryLongSlow ModemPreset = 2
	PresetMediumSlow   ModemPreset = 3
	PresetMediumFast   ModemPreset = 4
	PresetShortSlow    ModemPreset = 5
	PresetShortFast    ModemPreset = 6
	PresetLongModerate ModemPreset = 7
	PresetShortTurbo   ModemPreset = 8
)

var presetNames = map[ModemPreset]string{
	PresetLongFast:     "LONG_FAST",
	PresetLongSlow:     "LONG_SLOW",
	PresetVeryLongSlow: "VERY_LONG_SLOW",
	PresetMediumSlow:   "MEDIUM_SLOW",
	PresetMediumFast:   "MEDIUM_FAST",
	PresetShortSlow:    "SHORT_SLOW",
	PresetShortFast:    "SHORT_FAST",
	PresetLongModerate: "LONG_MODERATE",
	PresetShortTurbo:   "SHORT_TURBO",
}

// String returns the enum value name as declared in config.proto.
func (m ModemPreset) String() string {
	if name, ok := presetNames[m]; ok {
		return name
	}
	return fmt.Sprintf("PRESET_%d", int32(m))
}

// ParseModemPreset maps an enum value name back to the preset.
func ParseModemPreset(name string) (ModemPreset, bool) {
	for p, n := range presetNames {
		if n == name {
			return p, true
		}
	}
	return 0, false
}

// BitfieldOKToMQTT is the Data.bitfield bit set by the sender when the
// packet may be uplinked to MQTT.
const BitfieldOKToMQTT uint32 = 1 << 0
