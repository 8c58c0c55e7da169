package script

import "testing"

func TestCPUPercentReturnsNonNegative(t *testing.T) {
	gate := NewResourceGate()
	pct, err := gate.CPUPercent()
	if err != nil {
		t.Fatalf("CPUPercent() error = %v", err)
	}
	if pct < 0 {
		t.Errorf("CPUPercent() = %f, want >= 0", pct)
	}
}

func TestMemPercentReturnsNonNegative(t *testing.T) {
	gate := NewResourceGate()
	pct, err := gate.MemPercent()
	if err != nil {
		t.Fatalf("MemPercent() error = %v", err)
	}
	if pct < 0 {
		t.Errorf("MemPercent() = %f, want >= 0", pct)
	}
}

func TestFallbackCPUPercentNeverNegative(t *testing.T) {
	gate := NewResourceGate()
	if pct := gate.fallbackCPUPercent(); pct < 0 {
		t.Errorf("fallbackCPUPercent() = %f, want >= 0", pct)
	}
}

func TestFallbackMemPercentNeverNegative(t *testing.T) {
	gate := NewResourceGate()
	if pct := gate.fallbackMemPercent(); pct < 0 {
		t.Errorf("fallbackMemPercent() = %f, want >= 0", pct)
	}
}
