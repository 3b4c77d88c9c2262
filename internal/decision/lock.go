package decision

import (
	"vibe-trader/internal/domain"
	"vibe-trader/internal/marketdata"
)

// addressLock binds a conversation to the first address a human mentioned.
// It is not safe for concurrent use; the owning conversation serializes access.
type addressLock struct {
	locked string
}

// candidate returns the address that would be locked by humanText without
// committing it.
func (l *addressLock) candidate(humanText string) string {
	if l.locked != "" {
		return l.locked
	}
	return marketdata.ExtractAddress(humanText)
}

// commit locks addr unless an address is already locked. It reports whether
// this call set the lock.
func (l *addressLock) commit(addr string) bool {
	if l.locked != "" || addr == "" {
		return false
	}
	l.locked = addr
	return true
}

// Enforce overrides an act decision's target with the locked address. The
// generated text is never trusted to respect the lock on its own. A decision
// whose target is missing or is not an identifier stays ineligible: its
// target is cleared rather than replaced. It reports whether the target was
// replaced.
func Enforce(d *domain.Decision, locked string) bool {
	if d == nil || d.Verdict != domain.VerdictAct {
		return false
	}
	if !validTarget(d.Target) {
		d.Target = ""
		return false
	}
	if locked == "" {
		return false
	}
	if d.Target == locked {
		return false
	}
	d.Target = locked
	return true
}
