package passphrase

import (
	"bytes"
	"errors"
	"testing"
)

const testEnv = "POW_TEST_KEYSTORE_PASS"

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv(testEnv, "from-env")
	src := NewSource(testEnv, "")
	src.isTerminal = func(int) bool {
		t.Fatalf("terminal must not be consulted")
		return false
	}
	got, err := src.Get()
	if err != nil || got != "from-env" {
		t.Fatalf("expected env passphrase, got %q %v", got, err)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	t.Setenv(testEnv, "  ")
	if _, err := NewSource(testEnv, "").Get(); err == nil {
		t.Fatalf("expected error for empty passphrase")
	}
}

func TestSourcePromptsOnceOnTerminal(t *testing.T) {
	var prompts bytes.Buffer
	calls := 0
	src := NewSource("", "Passphrase: ")
	src.stderr = &prompts
	src.isTerminal = func(int) bool { return true }
	src.readPassword = func(int) ([]byte, error) {
		calls++
		return []byte("hunter2"), nil
	}
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil || got != "hunter2" {
			t.Fatalf("unexpected result %q %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one prompt, got %d", calls)
	}
	if !bytes.Contains(prompts.Bytes(), []byte("Passphrase: ")) {
		t.Fatalf("prompt not written")
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	src := NewSource("", "")
	src.isTerminal = func(int) bool { return false }
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected error without terminal")
	}

	failing := NewSource("", "")
	failing.stderr = &bytes.Buffer{}
	failing.isTerminal = func(int) bool { return true }
	failing.readPassword = func(int) ([]byte, error) { return nil, errors.New("tty closed") }
	if _, err := failing.Get(); err == nil {
		t.Fatalf("expected read error")
	}
}
