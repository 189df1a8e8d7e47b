package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrNoTerminal is returned when the passphrase is neither in the
// environment nor obtainable by prompting.
var ErrNoTerminal = errors.New("passphrase: authority keystore passphrase required and no terminal available")

// Source resolves the authority keystore passphrase once, from an
// environment variable or an interactive prompt, and caches the result.
type Source struct {
	envVar string

	lookupEnv func(string) (string, bool)
	stdinFD   int
	prompt    io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting on stderr.
func NewSource(envVar string) *Source {
	return &Source{
		envVar:    strings.TrimSpace(envVar),
		lookupEnv: os.LookupEnv,
		stdinFD:   int(os.Stdin.Fd()),
		prompt:    os.Stderr,
	}
}

// Get returns the passphrase. Whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := s.lookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("passphrase: %s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !term.IsTerminal(s.stdinFD) {
		if s.envVar != "" {
			return "", fmt.Errorf("%w; set %s", ErrNoTerminal, s.envVar)
		}
		return "", ErrNoTerminal
	}

	fmt.Fprint(s.prompt, "Authority keystore passphrase: ")
	raw, err := term.ReadPassword(s.stdinFD)
	fmt.Fprintln(s.prompt)
	if err != nil {
		return "", fmt.Errorf("passphrase: read: %w", err)
	}
	value := string(raw)
	if strings.TrimSpace(value) == "" {
		return "", errors.New("passphrase: authority keystore passphrase cannot be empty")
	}
	return value, nil
}
