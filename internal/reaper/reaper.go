// Package reaper is the platform primitive that maps bound TCP ports and
// matched PIDs to termination signals.
package reaper

import (
	"github.com/vidforge/devsup/internal/proctable"
)

// Strength selects the termination signal. Graceful can be intercepted by
// the target so it may flush state and close sockets; Forced cannot.
type Strength int

const (
	Graceful Strength = iota
	Forced
)

func (s Strength) String() string {
	if s == Forced {
		return "forced"
	}
	return "graceful"
}

// Kill delivers the signal to one process. A target that no longer exists is
// success: the desired end state (process gone) already holds, and racing an
// exit between enumeration and delivery is normal.
func Kill(pid int32, strength Strength) error {
	return signalProcess(pid, strength)
}

// KillPort terminates every process holding a socket bound to the port.
// The no-owner case is already-satisfied, not an error. Returns the PIDs
// that were signalled.
func KillPort(port int, strength Strength) ([]int32, error) {
	pids, err := proctable.PortOwners(port)
	if err != nil {
		return nil, err
	}
	for _, pid := range pids {
		if err := signalProcess(pid, strength); err != nil {
			return pids, err
		}
	}
	return pids, nil
}
