//go:build windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyAttachSignals registers signals relevant for terminal connect.
// On Windows there is no SIGWINCH equivalent; only SIGTERM is registered.
func notifyAttachSignals(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGTERM)
}

func stopAttachSignals(ch chan<- os.Signal) {
	signal.Stop(ch)
}

// isResizeSignal reports whether sig is a terminal resize signal.
// Windows does not have SIGWINCH, so this always returns false.
func isResizeSignal(_ os.Signal) bool {
	return false
}
