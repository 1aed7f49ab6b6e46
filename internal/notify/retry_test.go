package notify

import (
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyExhausted(t *testing.T) {
	p := DefaultRetryPolicy()

	if p.Exhausted(0) {
		t.Error("attempt 0 should not be exhausted")
	}
	if p.Exhausted(2) {
		t.Error("attempt 2 should not be exhausted")
	}
	if !p.Exhausted(3) {
		t.Error("attempt 3 should be exhausted")
	}
	if !p.Exhausted(4) {
		t.Error("attempt 4 should be exhausted")
	}
}

func TestRetryPolicyDelayGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Minute, MaxDelay: 15 * time.Minute}

	d1 := p.Delay(1)
	d2 := p.Delay(2)
	d3 := p.Delay(3)

	if d1 != time.Minute {
		t.Errorf("Delay(1) = %v, want 1m", d1)
	}
	if d2 <= d1 {
		t.Errorf("Delay(2) = %v, should exceed Delay(1) = %v", d2, d1)
	}
	if d3 <= d2 {
		t.Errorf("Delay(3) = %v, should exceed Delay(2) = %v", d3, d2)
	}

	if d := p.Delay(8); d != p.MaxDelay {
		t.Errorf("Delay(8) = %v, want cap %v", d, p.MaxDelay)
	}
}

func TestRetryPolicyRetryable(t *testing.T) {
	p := DefaultRetryPolicy()

	if !p.Retryable(Transient(errors.New("timeout")), 1) {
		t.Error("transient error with attempts left should be retryable")
	}
	if p.Retryable(Permanent(errors.New("bad address")), 1) {
		t.Error("permanent error should never be retryable")
	}
	if p.Retryable(Transient(errors.New("timeout")), 3) {
		t.Error("transient error with attempts exhausted should not be retryable")
	}
	if p.Retryable(nil, 1) {
		t.Error("nil error is not retryable")
	}
	// Unclassified errors count as transient.
	if !p.Retryable(errors.New("mystery"), 1) {
		t.Error("unclassified error should be retryable")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(Transient(errors.New("x"))) {
		t.Error("TransientError should be transient")
	}
	if IsTransient(Permanent(errors.New("x"))) {
		t.Error("PermanentError should not be transient")
	}
	if !IsTransient(errors.New("unclassified")) {
		t.Error("unclassified error should default to transient")
	}
}
