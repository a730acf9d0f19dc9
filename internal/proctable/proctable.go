// Package proctable answers "what is running right now" questions against the
// live OS process and socket tables. Every call is a fresh query; results are
// never cached because stale answers would mislead the operator.
package proctable

import (
	"os"
	"regexp"
	"strings"

	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Matcher matches OS process command lines against a set of patterns.
// Patterns are tried as case-insensitive regular expressions; a pattern that
// fails to compile degrades to a plain substring match.
type Matcher struct {
	patterns []string
	regexps  []*regexp.Regexp // nil entry means substring match for patterns[i]
}

func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{
		patterns: append([]string(nil), patterns...),
		regexps:  make([]*regexp.Regexp, len(patterns)),
	}
	for i, p := range patterns {
		if re, err := regexp.Compile("(?i)" + p); err == nil {
			m.regexps[i] = re
		}
	}
	return m
}

// Match reports whether the command line matches any pattern, and which one.
func (m *Matcher) Match(cmdline string) (string, bool) {
	for i, p := range m.patterns {
		if re := m.regexps[i]; re != nil {
			if re.MatchString(cmdline) {
				return p, true
			}
			continue
		}
		if strings.Contains(strings.ToLower(cmdline), strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

// MatchingPIDs scans the process table and returns the PIDs whose command
// line matches any of the matcher's patterns. The calling process itself is
// excluded so a supervisor invocation never matches its own command line.
func MatchingPIDs(m *Matcher) ([]int32, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())
	var pids []int32
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			// Kernel threads and processes that exited mid-scan.
			continue
		}
		if _, ok := m.Match(cmdline); ok {
			pids = append(pids, p.Pid)
		}
	}
	return pids, nil
}

// PortOwners returns the PIDs of processes holding a TCP socket bound to the
// given local port. Listening sockets and established local binds both count;
// the goal is "who do I kill to free this port", not protocol bookkeeping.
func PortOwners(port int) ([]int32, error) {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return nil, err
	}
	seen := make(map[int32]struct{})
	var pids []int32
	for _, c := range conns {
		if int(c.Laddr.Port) != port || c.Pid <= 0 {
			continue
		}
		if c.Status != "LISTEN" && c.Status != "ESTABLISHED" {
			continue
		}
		if _, dup := seen[c.Pid]; dup {
			continue
		}
		seen[c.Pid] = struct{}{}
		pids = append(pids, c.Pid)
	}
	return pids, nil
}

// PortOccupied reports whether any TCP socket is bound to the port. Unlike
// PortOwners it also counts sockets whose owner we cannot see (other users'
// processes report Pid 0 without elevated privileges).
func PortOccupied(port int) (bool, error) {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return false, err
	}
	for _, c := range conns {
		if int(c.Laddr.Port) == port && c.Status == "LISTEN" {
			return true, nil
		}
	}
	return false, nil
}

// Alive reports whether a process with the given PID still exists.
func Alive(pid int32) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(pid)
	return err == nil && ok
}
