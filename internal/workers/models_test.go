package workers_test

import (
	"testing"

	"dispatchd/internal/workers"
)

func TestStatusIsValid(t *testing.T) {
	if !workers.StatusIdle.IsValid() {
		t.Error("StatusIdle.IsValid() = false, want true")
	}
	if !workers.StatusBusy.IsValid() {
		t.Error("StatusBusy.IsValid() = false, want true")
	}
	if workers.Status("starting").IsValid() {
		t.Error(`Status("starting").IsValid() = true, want false`)
	}
}
