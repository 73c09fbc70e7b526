package stream

import (
	"testing"
	"time"
)

func TestBackoff_DoublesUntilBudgetSpent(t *testing.T) {
	b := NewBackoff(2*time.Second, 0, 15)
	want := 4 * time.Second
	for i := 1; i <= 15; i++ {
		d, ok := b.Fail()
		if !ok {
			t.Fatalf("failure %d: budget reported spent early", i)
		}
		if d != want {
			t.Fatalf("failure %d: delay = %v, want %v", i, d, want)
		}
		if b.Retries() != i {
			t.Fatalf("failure %d: retries = %d", i, b.Retries())
		}
		want *= 2
	}
	if d, ok := b.Fail(); ok {
		t.Fatalf("16th failure should exhaust the budget, got delay %v", d)
	}
}

func TestBackoff_ResetAfterSuccess(t *testing.T) {
	b := NewBackoff(2*time.Second, 0, 15)
	b.Fail()
	b.Fail()
	b.Reset()
	if b.Retries() != 0 || b.Delay() != 2*time.Second {
		t.Fatalf("after reset: retries=%d delay=%v", b.Retries(), b.Delay())
	}
	if d, _ := b.Fail(); d != 4*time.Second {
		t.Fatalf("first delay after reset = %v, want 4s", d)
	}
}

func TestBackoff_Cap(t *testing.T) {
	b := NewBackoff(2*time.Second, 10*time.Second, 15)
	tests := []time.Duration{4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, want := range tests {
		if d, _ := b.Fail(); d != want {
			t.Fatalf("failure %d: delay = %v, want %v", i+1, d, want)
		}
	}
}

func TestBackoff_ZeroRetries(t *testing.T) {
	b := NewBackoff(time.Second, 0, 0)
	if _, ok := b.Fail(); ok {
		t.Fatal("a zero budget must exhaust on the first failure")
	}
}
