package desktop

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

var ErrPortInUse = errors.New("port already in use")

// PortInUseError reports the tracking server port taken by another process.
type PortInUseError struct {
	Port int
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("Port %d is already in use", e.Port)
}

func (e *PortInUseError) Is(target error) bool {
	return target == ErrPortInUse
}

// IsPortAvailable binds 127.0.0.1:port briefly. A port in use reports false;
// any other bind failure is returned.
func IsPortAvailable(port int) (bool, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		if IsAddrInUse(err) {
			return false, nil
		}
		return false, err
	}
	return true, listener.Close()
}

// CheckServerPort fails when a server module is configured but its port is
// already taken by something else.
func CheckServerPort(port int, serverModule string) error {
	if serverModule == "" {
		return nil
	}
	available, err := IsPortAvailable(port)
	if err != nil {
		return fmt.Errorf("check port %d: %w", port, err)
	}
	if !available {
		return &PortInUseError{Port: port}
	}
	return nil
}
