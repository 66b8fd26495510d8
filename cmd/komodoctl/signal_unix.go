//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyAttachSignals registers signals relevant for terminal connect.
// On Unix this includes SIGTERM and SIGWINCH (terminal resize). SIGINT is
// left to raw mode, which forwards Ctrl+C to the remote shell.
func notifyAttachSignals(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGWINCH)
}

func stopAttachSignals(ch chan<- os.Signal) {
	signal.Stop(ch)
}

// isResizeSignal reports whether sig is a terminal resize signal (SIGWINCH).
func isResizeSignal(sig os.Signal) bool {
	return sig == syscall.SIGWINCH
}
