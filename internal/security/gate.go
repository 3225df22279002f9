package security

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Verdict is the gate's classification of a command line.
type Verdict int

const (
	// Execute means the command may go straight to the shell.
	Execute Verdict = iota
	// NeedsConfirmation means the command is held until the user confirms.
	NeedsConfirmation
	// Rejected means the command was refused because another one is awaiting
	// confirmation and the pending policy is reject.
	Rejected
)

func (v Verdict) String() string {
	switch v {
	case Execute:
		return "execute"
	case NeedsConfirmation:
		return "needs_confirmation"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// PendingPolicy decides what a second gated command does while one is pending.
type PendingPolicy string

const (
	// PolicyReplace makes the newer gated command take the older one's place.
	PolicyReplace PendingPolicy = "replace"
	// PolicyReject refuses the newer gated command.
	PolicyReject PendingPolicy = "reject"
)

// ParsePendingPolicy parses a policy name. Empty means PolicyReplace.
func ParsePendingPolicy(s string) (PendingPolicy, error) {
	switch PendingPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyReplace:
		return PolicyReplace, nil
	case PolicyReject:
		return PolicyReject, nil
	}
	return "", fmt.Errorf("unknown pending policy %q (want replace or reject)", s)
}

// Decision is the result of CommandGate.Check.
type Decision struct {
	Verdict Verdict
	Command string
	// Pattern is the denylist entry that matched.
	Pattern string
	// Replaced is the command that was pending before this one replaced it.
	Replaced string
	// Pending is the command still awaiting confirmation when Verdict is Rejected.
	Pending string
}

// DefaultDenylist names full-screen and pager programs that would wedge a
// line-oriented shell exchange.
func DefaultDenylist() []string {
	return []string{"vim", "vi", "nvim", "nano", "emacs", "less", "more", "top", "htop", "man", "mc"}
}

// commandWrappers run the command named after them, so the program they
// launch is what gets classified.
var commandWrappers = map[string]bool{
	"sudo":    true,
	"doas":    true,
	"env":     true,
	"exec":    true,
	"command": true,
	"nohup":   true,
	"time":    true,
}

// CommandGate holds risky commands per user until they are confirmed.
type CommandGate struct {
	mu       sync.Mutex
	patterns []string
	policy   PendingPolicy
	pending  map[int64]string
}

// NewCommandGate creates a gate matching the program name of each command
// against doublestar patterns.
func NewCommandGate(patterns []string, policy PendingPolicy) (*CommandGate, error) {
	g := &CommandGate{pending: make(map[int64]string)}
	if err := g.Update(patterns, policy); err != nil {
		return nil, err
	}
	return g, nil
}

// Update swaps the denylist and policy. Pending commands are kept.
func (g *CommandGate) Update(patterns []string, policy PendingPolicy) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid denylist pattern %q", p)
		}
	}
	if policy == "" {
		policy = PolicyReplace
	}
	if policy != PolicyReplace && policy != PolicyReject {
		return fmt.Errorf("unknown pending policy %q", policy)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.patterns = append([]string(nil), patterns...)
	g.policy = policy
	return nil
}

// Policy returns the active pending policy.
func (g *CommandGate) Policy() PendingPolicy {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.policy
}

func (g *CommandGate) matchLocked(command string) (string, bool) {
	prog := programName(command)
	if prog == "" {
		return "", false
	}
	for _, p := range g.patterns {
		if ok, _ := doublestar.Match(p, prog); ok {
			return p, true
		}
	}
	return "", false
}

// programName returns the base name of the program a command line runs,
// looking past variable assignments and wrappers such as sudo.
func programName(command string) string {
	fields := strings.Fields(command)
	wrapped := false
	for _, f := range fields {
		switch {
		case strings.Contains(f, "=") && !strings.HasPrefix(f, "="):
			continue
		case wrapped && strings.HasPrefix(f, "-"):
			continue
		case commandWrappers[f]:
			wrapped = true
			continue
		}
		return path.Base(f)
	}
	return ""
}

// Check classifies command for user. A gated command is stored as the user's
// pending command, subject to the pending policy. Commands that are not gated
// return Execute and leave any pending command alone.
func (g *CommandGate) Check(user int64, command string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	pattern, gated := g.matchLocked(command)
	if !gated {
		return Decision{Verdict: Execute, Command: command}
	}

	prev, hasPrev := g.pending[user]
	if hasPrev && g.policy == PolicyReject {
		return Decision{Verdict: Rejected, Command: command, Pattern: pattern, Pending: prev}
	}

	g.pending[user] = command
	d := Decision{Verdict: NeedsConfirmation, Command: command, Pattern: pattern}
	if hasPrev {
		d.Replaced = prev
	}
	return d
}

// Confirm returns and clears the user's pending command.
func (g *CommandGate) Confirm(user int64) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cmd, ok := g.pending[user]
	delete(g.pending, user)
	return cmd, ok
}

// Cancel discards the user's pending command and reports whether there was one.
func (g *CommandGate) Cancel(user int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[user]
	delete(g.pending, user)
	return ok
}

// Pending returns the user's pending command.
func (g *CommandGate) Pending(user int64) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cmd, ok := g.pending[user]
	return cmd, ok
}

// Clear is Cancel without the report.
func (g *CommandGate) Clear(user int64) {
	g.Cancel(user)
}
