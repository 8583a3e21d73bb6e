package mode

// LiveConfirmationPhrase is the exact phrase the operator must type to
// escalate from paper to live trading. Compared case-sensitively with no
// whitespace tolerance.
const LiveConfirmationPhrase = "I UNDERSTAND THE RISK OF LIVE TRADING"

// Denial reasons. Callers render a precise message from these.
const (
	ReasonBadConfirmation = "confirmation text does not match the required phrase"
	ReasonBadToken        = "anti-forgery token is missing or invalid"
)

// Decision is the gate's verdict on a proposed transition.
type Decision struct {
	Allowed bool
	Reason  string
}

// ConfirmationGate judges the proof material for a privileged transition.
// It holds no state and performs no I/O; every call is re-evaluated from
// scratch, so a stale token can never be honored across sessions. Only
// escalation (paper to live) is judged; downgrades are always allowed and
// require no confirmation text.
type ConfirmationGate struct{}

// Validate checks a proposed transition. Escalation requires the exact
// confirmation phrase and an anti-forgery token equal to expectedToken;
// everything else passes.
func (ConfirmationGate) Validate(target, current Mode, confirmationText, token, expectedToken string) Decision {
	if !(current == Paper && target == Live) {
		return Decision{Allowed: true}
	}

	if confirmationText != LiveConfirmationPhrase {
		return Decision{Reason: ReasonBadConfirmation}
	}
	if token == "" || token != expectedToken {
		return Decision{Reason: ReasonBadToken}
	}
	return Decision{Allowed: true}
}
