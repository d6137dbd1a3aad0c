package transport

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

const DefaultPort uint16 = 22

type Target struct {
	User string
	Host string
	Port uint16
}

func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(int(port)))
}

func (t Target) String() string {
	return t.User + "@" + t.Addr()
}

// ParseTarget accepts host, user@host, host:port, user@host:port and the
// bracketed [ipv6]:port forms. A missing user falls back to $USER.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	target := Target{Port: DefaultPort}

	if at := strings.LastIndex(raw, "@"); at >= 0 {
		target.User = raw[:at]
		raw = raw[at+1:]
	}
	if target.User == "" {
		target.User = os.Getenv("USER")
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		host = strings.Trim(raw, "[]")
		port = ""
	}
	if host == "" {
		return Target{}, fmt.Errorf("missing host in %q", raw)
	}
	target.Host = host

	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return Target{}, fmt.Errorf("invalid port %q", port)
		}
		target.Port = uint16(n)
	}
	return target, nil
}
