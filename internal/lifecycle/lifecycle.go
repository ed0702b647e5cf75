// Package lifecycle tracks the process phase reported by /health.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Phase is where the process is in its life.
type Phase int32

const (
	Starting Phase = iota
	Serving
	ShuttingDown
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Serving:
		return "serving"
	case ShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

var (
	phase     atomic.Int32
	startedAt atomic.Int64 // unix nanos
)

func init() {
	startedAt.Store(time.Now().UnixNano())
}

// MarkServing records that the listener is up. It does not undo a shutdown.
func MarkServing() {
	phase.CompareAndSwap(int32(Starting), int32(Serving))
}

// BeginShutdown flips the process into draining. Call when SIGTERM/SIGINT is received;
// /health answers 503 shutting-down from then on.
func BeginShutdown() {
	phase.Store(int32(ShuttingDown))
}

// Current returns the current phase.
func Current() Phase {
	return Phase(phase.Load())
}

// IsShuttingDown reports whether the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return Current() == ShuttingDown
}

// Uptime is the time since the process started.
func Uptime() time.Duration {
	return time.Since(time.Unix(0, startedAt.Load()))
}

// Reset returns to Starting. For tests only.
func Reset() {
	phase.Store(int32(Starting))
}
