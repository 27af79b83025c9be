package mesh

import (
	"fmt"
	"strconv"
	"strings"
)

// BroadcastNum is the destination used for packets sent to every node.
const BroadcastNum uint32 = 0xffffffff

var portNames = map[PortNum]string{
	PortUnknown:      "UNKNOWN_APP",
	PortText:         "TEXT_MESSAGE_APP",
	PortPosition:     "POSITION_APP",
	PortNodeInfo:     "NODEINFO_APP",
	PortTelemetry:    "TELEMETRY_APP",
	PortTraceroute:   "TRACEROUTE_APP",
	PortNeighborInfo: "NEIGHBORINFO_APP",
}

func (p PortNum) String() string {
	if name, ok := portNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PORT_%d", int32(p))
}

// ParsePortNum accepts either the symbolic name ("NEIGHBORINFO_APP") or the
// numeric value.
func ParsePortNum(s string) (PortNum, error) {
	s = strings.TrimSpace(s)
	for port, name := range portNames {
		if strings.EqualFold(name, s) {
			return port, nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return PortUnknown, fmt.Errorf("unknown port %q", s)
	}
	return PortNum(n), nil
}

// FormatNodeID renders a node number the way Meshtastic clients show it.
func FormatNodeID(num uint32) string {
	return fmt.Sprintf("!%08x", num)
}

// ParseNodeID accepts "!a1b2c3d4", "0xa1b2c3d4" or a decimal number.
func ParseNodeID(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	base := 10
	switch {
	case strings.HasPrefix(s, "!"):
		s, base = s[1:], 16
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s, base = s[2:], 16
	}
	if s == "" {
		return 0, fmt.Errorf("empty node id")
	}
	n, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return uint32(n), nil
}
