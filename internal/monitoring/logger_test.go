package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	orig := Logf
	defer func() { Logf = orig }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("iteration %d", 3)
	if got != "iteration 3" {
		t.Errorf("Expected captured message %q, got %q", "iteration 3", got)
	}

	SetLogger(nil)
	Logf("dropped %d", 1) // must not panic
	if got != "iteration 3" {
		t.Errorf("Muted logger should not write, got %q", got)
	}
}
