//go:build windows

package cmd

import "os"

// gracefulSignals returns the OS signals that trigger the drain-then-exit
// shutdown sequence. Windows only reliably delivers os.Interrupt.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
