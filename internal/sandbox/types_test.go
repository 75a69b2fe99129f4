package sandbox

import "testing"

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"AppContainer": KindWinAppContainer,
		"Bubblewrap":   KindLinuxBubblewrap,
		"Container":    KindContainer,
	}
	for s, want := range cases {
		got, err := ParseKind(s)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", s, err)
		}
		if got != want {
			t.Fatalf("ParseKind(%q) = %v, want %v", s, got, want)
		}
	}

	if _, err := ParseKind("Nonsense"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestCommandResult_Success(t *testing.T) {
	if !(CommandResult{ExitCode: 0}).Success() {
		t.Fatalf("expected exit code 0 to be success")
	}
	if (CommandResult{ExitCode: 1}).Success() {
		t.Fatalf("expected nonzero exit code to not be success")
	}
}

func TestTimedOut_UsesReservedExitCode(t *testing.T) {
	if got := TimedOut().ExitCode; got != -1 {
		t.Fatalf("expected exit code -1 for timeout, got %d", got)
	}
}

func TestRefused_UsesReservedExitCode(t *testing.T) {
	if got := Refused("blocked").ExitCode; got != -2 {
		t.Fatalf("expected exit code -2 for refusal, got %d", got)
	}
}
