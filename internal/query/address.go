package query

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/bzfquery/bzfquery/internal/protocol"
)

// ParseAddress splits "host", "host:port" or "[v6]:port" into its parts,
// using defaultPort when none is given.
func ParseAddress(s string, defaultPort uint16) (string, uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, errors.New("empty address")
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port, or a bare IPv6 literal.
		if strings.HasPrefix(s, "[") != strings.HasSuffix(s, "]") {
			return "", 0, fmt.Errorf("invalid address %q", s)
		}
		host = strings.Trim(s, "[]")
		if strings.ContainsAny(host, "[]") || host == "" {
			return "", 0, fmt.Errorf("invalid address %q", s)
		}
		return host, defaultPort, nil
	}
	if host == "" {
		return "", 0, fmt.Errorf("missing host in %q", s)
	}

	port, err := ParsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// ParsePort parses a TCP port in 1-65535.
func ParsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}

// KindOf names the error kind of a query failure for reporting.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, protocol.ErrProtocolMismatch):
		return "protocol_mismatch"
	case errors.Is(err, protocol.ErrServerFull):
		return "server_full"
	case errors.Is(err, protocol.ErrTruncatedFrame):
		return "truncated_frame"
	case errors.Is(err, protocol.ErrInvalidEnum):
		return "invalid_enum"
	case errors.Is(err, protocol.ErrTextDecode):
		return "text_decode"
	case errors.Is(err, protocol.ErrConnection):
		return "connection"
	default:
		return "unknown"
	}
}
