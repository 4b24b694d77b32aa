package eventq

import (
	"strings"
	"testing"
)

func TestNewWorkerID(t *testing.T) {
	a := NewWorkerID()
	b := NewWorkerID()

	if a == "" || b == "" {
		t.Fatalf("expected non-empty worker ids")
	}
	if a == b {
		t.Fatalf("expected distinct worker ids, got %q twice", a)
	}
	if strings.Count(a, "-") < 2 {
		t.Fatalf("expected host-pid-rand form, got %q", a)
	}
}
