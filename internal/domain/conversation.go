package domain

// Turn is a single stored conversation message. Human turns hold the text
// exactly as written, without injected context.
type Turn struct {
	Role string
	Text string
}

// Verdict is the binary outcome parsed from generated text.
type Verdict string

const (
	VerdictAct     Verdict = "buy"
	VerdictDecline Verdict = "pass"
)

// Decision is derived from a single counterparty turn. Target is only set
// for VerdictAct and may still be empty when the sentinel line was malformed.
type Decision struct {
	Verdict   Verdict
	Target    string
	Rationale string
}

// Executable reports whether the decision can be handed to the execution engine.
func (d *Decision) Executable() bool {
	return d != nil && d.Verdict == VerdictAct && d.Target != ""
}
