package mode

import "testing"

func TestDowngradeIsAlwaysAllowed(t *testing.T) {
	var gate ConfirmationGate

	// No confirmation text, no token: still allowed.
	d := gate.Validate(Paper, Live, "", "", "expected")
	if !d.Allowed {
		t.Errorf("downgrade denied: %q", d.Reason)
	}
}

func TestSameModeIsNotJudged(t *testing.T) {
	var gate ConfirmationGate

	if d := gate.Validate(Paper, Paper, "", "", ""); !d.Allowed {
		t.Errorf("paper->paper denied: %q", d.Reason)
	}
	if d := gate.Validate(Live, Live, "", "", ""); !d.Allowed {
		t.Errorf("live->live denied: %q", d.Reason)
	}
}

func TestEscalationRequiresExactPhrase(t *testing.T) {
	var gate ConfirmationGate

	cases := []string{
		"",
		"WRONG",
		LiveConfirmationPhrase + " ",          // trailing whitespace
		" " + LiveConfirmationPhrase,          // leading whitespace
		"i understand the risk of live trading", // wrong case
	}
	for _, phrase := range cases {
		d := gate.Validate(Live, Paper, phrase, "tok", "tok")
		if d.Allowed {
			t.Errorf("escalation allowed with phrase %q", phrase)
			continue
		}
		if d.Reason != ReasonBadConfirmation {
			t.Errorf("phrase %q: reason = %q, want %q", phrase, d.Reason, ReasonBadConfirmation)
		}
	}
}

func TestEscalationRequiresMatchingToken(t *testing.T) {
	var gate ConfirmationGate

	d := gate.Validate(Live, Paper, LiveConfirmationPhrase, "stale", "fresh")
	if d.Allowed {
		t.Fatal("escalation allowed with mismatched token")
	}
	if d.Reason != ReasonBadToken {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonBadToken)
	}

	d = gate.Validate(Live, Paper, LiveConfirmationPhrase, "", "fresh")
	if d.Allowed || d.Reason != ReasonBadToken {
		t.Errorf("missing token: allowed=%v reason=%q, want denied with %q", d.Allowed, d.Reason, ReasonBadToken)
	}
}

func TestEscalationWithValidProofMaterial(t *testing.T) {
	var gate ConfirmationGate

	d := gate.Validate(Live, Paper, LiveConfirmationPhrase, "tok", "tok")
	if !d.Allowed {
		t.Errorf("valid escalation denied: %q", d.Reason)
	}
}
