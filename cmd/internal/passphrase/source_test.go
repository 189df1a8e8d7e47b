package passphrase

import (
	"errors"
	"io"
	"testing"
)

func newTestSource(env map[string]string) *Source {
	s := NewSource("PRICENODE_PASS")
	s.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	// An invalid descriptor is never a terminal.
	s.stdinFD = -1
	s.prompt = io.Discard
	return s
}

func TestSourceReadsEnvironmentOnce(t *testing.T) {
	env := map[string]string{"PRICENODE_PASS": "hunter2"}
	s := newTestSource(env)
	got, err := s.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("unexpected passphrase %q err=%v", got, err)
	}
	env["PRICENODE_PASS"] = "changed"
	if got, _ := s.Get(); got != "hunter2" {
		t.Fatalf("expected cached passphrase, got %q", got)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	s := newTestSource(map[string]string{"PRICENODE_PASS": "   "})
	if _, err := s.Get(); err == nil {
		t.Fatalf("expected error for blank passphrase")
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	s := newTestSource(nil)
	if _, err := s.Get(); !errors.Is(err, ErrNoTerminal) {
		t.Fatalf("expected ErrNoTerminal, got %v", err)
	}
}
