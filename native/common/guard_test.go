package common

import (
	"errors"
	"testing"
)

func TestGuardHonoursStaticPauses(t *testing.T) {
	pauses := StaticPauses{"bond": true}
	if err := Guard(pauses, "bond"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "treasury"); err != nil {
		t.Fatalf("expected treasury unpaused, got %v", err)
	}
	if err := Guard(nil, "bond"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
}
