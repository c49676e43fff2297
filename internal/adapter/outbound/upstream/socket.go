// Package upstream dials and tunes the outbound connection to the MCP
// server ThoughtGate proxies for, and tunes accepted inbound connections the
// same way. There is no socket-tuning library anywhere in the retrieved
// example pack, so this stays on stdlib net.TCPConn — the same low-latency
// knobs (TCP_NODELAY, keepalive, explicit buffer sizes) the original
// implementation's socket layer applies, expressed with Go's standard
// library rather than a raw syscall wrapper.
package upstream

import (
	"net"
	"time"
)

// TuneOptions are the knobs both the accept-path listener and the dialled
// upstream connection apply identically.
type TuneOptions struct {
	NoDelay         bool
	KeepAlive       bool
	KeepAlivePeriod time.Duration
	ReadBufferBytes int
	WriteBufferBytes int
}

// Tune applies TuneOptions to an accepted or dialled TCP connection.
// Non-TCP connections (e.g. in tests using net.Pipe) are left untouched.
func Tune(conn net.Conn, opts TuneOptions) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	return tuneTCPConn(tc, opts)
}

// tuneTCPConn is implemented per-OS in socket_unix.go / socket_windows.go;
// the set of net.TCPConn methods it calls (SetNoDelay, SetKeepAlive,
// SetKeepAlivePeriod, SetReadBuffer, SetWriteBuffer) is identical on every
// platform, but Go's net package historically differed in which of these
// return a meaningful error on Windows, so the split mirrors the build-tag
// pattern used elsewhere in this codebase for OS-specific process control.
func tuneTCPConn(tc *net.TCPConn, opts TuneOptions) error {
	return tuneTCPConnPlatform(tc, opts)
}
