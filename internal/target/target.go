package target

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Host is one validated entry of a pool: the connection details of a single
// remote machine. Values are immutable once the pool has been loaded.
type Host struct {
	ID      string // Pool key, unique within a pool
	Name    string // Display name used in reports
	User    string // SSH username
	Address string // Hostname or IP address
	Port    int    // SSH port number
}

// Addr returns the dialable host:port form of the host, bracketing IPv6
// literals.
func (h Host) Addr() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

// String returns user@host:port, used in log lines.
func (h Host) String() string {
	return fmt.Sprintf("%s@%s", h.User, h.Addr())
}

// DisplayName returns the name shown in reports, falling back to the pool key.
func (h Host) DisplayName() string {
	if strings.TrimSpace(h.Name) == "" {
		return h.ID
	}
	return h.Name
}

// ParsePort converts a decoded YAML scalar into a port number.
func ParsePort(value any) (int, error) {
	var port int
	switch v := value.(type) {
	case int:
		port = v
	case int64:
		port = int(v)
	case uint64:
		port = int(v)
	case string:
		p, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("invalid port number '%s'", v)
		}
		port = p
	default:
		return 0, fmt.Errorf("invalid port value %v", value)
	}

	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port number %d out of valid range (1-65535)", port)
	}
	return port, nil
}
