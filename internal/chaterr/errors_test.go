package chaterr

import (
	"errors"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Network("connect failed", cause)

	want := "[NETWORK] connect failed: dial tcp: refused"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap chain lost the cause")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(ReconciliationTimeout("no echo")); got != CodeReconciliationTimeout {
		t.Errorf("CodeOf = %q, want %q", got, CodeReconciliationTimeout)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}

	wrapped := errors.Join(errors.New("outer"), Authentication("expired", nil))
	if !Is(wrapped, CodeAuthentication) {
		t.Error("Is failed to find the code through a wrapped error")
	}
}
