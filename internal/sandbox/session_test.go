package sandbox

import (
	"testing"
)

func TestBaseSession_StateMachine(t *testing.T) {
	var s baseSession

	if !s.beginInit() {
		t.Fatalf("expected beginInit to proceed from state new")
	}
	s.markReady([]string{"/work"})

	if s.beginInit() {
		t.Fatalf("expected beginInit to be a no-op once Ready")
	}
	if err := s.requireReady(KindContainer, "execute"); err != nil {
		t.Fatalf("expected requireReady to pass while Ready: %v", err)
	}

	s.markDisposed()
	if err := s.requireReady(KindContainer, "execute"); err == nil {
		t.Fatalf("expected requireReady to fail once Disposed")
	}
	if !s.isDisposed() {
		t.Fatalf("expected isDisposed to report true")
	}
}

func TestBaseSession_RequireReadyBeforeInitialize(t *testing.T) {
	var s baseSession
	err := s.requireReady(KindLinuxBubblewrap, "execute")
	if err == nil {
		t.Fatalf("expected error calling execute before initialize")
	}
	if _, ok := err.(*StateError); !ok {
		t.Fatalf("expected *StateError, got %T", err)
	}
}

func TestBaseSession_DirsIsolatedFromCallerMutation(t *testing.T) {
	var s baseSession
	s.beginInit()
	in := []string{"/work"}
	s.markReady(in)
	in[0] = "/mutated"

	if got := s.dirs(); got[0] != "/work" {
		t.Fatalf("expected stored dirs to be unaffected by caller mutation, got %v", got)
	}
}
