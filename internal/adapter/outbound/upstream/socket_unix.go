//go:build !windows

package upstream

import "net"

func tuneTCPConnPlatform(tc *net.TCPConn, opts TuneOptions) error {
	if err := tc.SetNoDelay(opts.NoDelay); err != nil {
		return err
	}
	if err := tc.SetKeepAlive(opts.KeepAlive); err != nil {
		return err
	}
	if opts.KeepAlive && opts.KeepAlivePeriod > 0 {
		if err := tc.SetKeepAlivePeriod(opts.KeepAlivePeriod); err != nil {
			return err
		}
	}
	if opts.ReadBufferBytes > 0 {
		if err := tc.SetReadBuffer(opts.ReadBufferBytes); err != nil {
			return err
		}
	}
	if opts.WriteBufferBytes > 0 {
		if err := tc.SetWriteBuffer(opts.WriteBufferBytes); err != nil {
			return err
		}
	}
	return nil
}
