//go:build !deadlock

// Package syncutil provides the mutex used by the Core and the transports.
// Build with -tags=deadlock to swap in go-deadlock's detector.
package syncutil

import "sync"

// DeadlockDetection reports whether the deadlock detector is compiled in.
const DeadlockDetection = false

// Mutex is a mutual exclusion lock.
type Mutex struct {
	sync.Mutex
}
