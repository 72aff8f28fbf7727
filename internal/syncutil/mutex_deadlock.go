//go:build deadlock

// Package syncutil provides the mutex used by the Core and the transports.
// Build with -tags=deadlock to swap in go-deadlock's detector.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockDetection reports whether the deadlock detector is compiled in.
const DeadlockDetection = true

func init() {
	// A script upload never holds the core lock for long; anything past this
	// is a stuck listener callback.
	deadlock.Opts.DeadlockTimeout = 10 * time.Second
}

// Mutex is a mutual exclusion lock.
type Mutex struct {
	deadlock.Mutex
}
