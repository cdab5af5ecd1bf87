//go:build windows

package ipc

import (
	"fmt"
	"net"
	"time"
)

// tcpAddress maps the configured socket path onto a localhost TCP address.
// A host:port value is used as is; anything else falls back to DefaultTCPPort.
func tcpAddress(socketPath string) string {
	if host, _, err := net.SplitHostPort(socketPath); err == nil && host != "" {
		return socketPath
	}
	return DefaultTCPPort
}

// CreatePlatformListener listens on localhost TCP. Unix sockets are not
// reliable on every Windows build.
func CreatePlatformListener(socketPath string) (net.Listener, error) {
	addr := tcpAddress(socketPath)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return listener, nil
}

// ConnectPlatform dials the sink over localhost TCP.
func ConnectPlatform(socketPath string) (net.Conn, error) {
	return net.DialTimeout("tcp", tcpAddress(socketPath), time.Second)
}

// GetPlatformAddress returns the address string for logging
func GetPlatformAddress(socketPath string) string {
	return "tcp://" + tcpAddress(socketPath)
}
