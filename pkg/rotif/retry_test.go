package rotif

import (
	"testing"
	"time"
)

func TestFixed_NextDelay(t *testing.T) {
	f := Fixed{Delay: 2 * time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		if got := f.NextDelay(attempt, nil); got != 2*time.Second {
			t.Errorf("attempt %d: got %v, want 2s", attempt, got)
		}
	}
}

func TestLinear_NextDelay(t *testing.T) {
	l := Linear{Base: time.Second, Step: 500 * time.Millisecond}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 1500 * time.Millisecond},
		{3, 2 * time.Second},
		{0, time.Second}, // clamped to attempt 1
	}
	for _, tt := range tests {
		if got := l.NextDelay(tt.attempt, nil); got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_NextDelay(t *testing.T) {
	e := Exponential{Base: time.Second, Factor: 2, Cap: 10 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // would be 16s, capped
	}
	for _, tt := range tests {
		if got := e.NextDelay(tt.attempt, nil); got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_DefaultFactor(t *testing.T) {
	e := Exponential{Base: time.Second}
	if got, want := e.NextDelay(3, nil), 4*time.Second; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExponentialJitter_WithinBounds(t *testing.T) {
	e := ExponentialJitter{Base: time.Second, Factor: 2, Cap: 10 * time.Second, JitterFraction: 0.5}
	base := Exponential{Base: e.Base, Factor: e.Factor, Cap: e.Cap}.NextDelay(3, nil)
	for i := 0; i < 20; i++ {
		got := e.NextDelay(3, nil)
		if got < base || got > base+time.Duration(float64(base)*0.5) {
			t.Fatalf("jittered delay %v out of bounds [%v, %v]", got, base, base+time.Duration(float64(base)*0.5))
		}
	}
}

func TestExponentialJitter_ZeroFractionIsExact(t *testing.T) {
	e := ExponentialJitter{Base: time.Second, Factor: 2, Cap: 10 * time.Second}
	base := Exponential{Base: e.Base, Factor: e.Factor, Cap: e.Cap}.NextDelay(2, nil)
	if got := e.NextDelay(2, nil); got != base {
		t.Errorf("got %v, want %v", got, base)
	}
}

func TestFibonacci_NextDelay(t *testing.T) {
	f := Fibonacci{Base: time.Second, Cap: 20 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 3 * time.Second},
		{5, 5 * time.Second},
		{6, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := f.NextDelay(tt.attempt, nil); got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestFibonacci_Cap(t *testing.T) {
	f := Fibonacci{Base: time.Second, Cap: 2 * time.Second}
	if got, want := f.NextDelay(6, nil), 2*time.Second; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCustom_NextDelay(t *testing.T) {
	c := Custom{Fn: func(attempt int, _ *Message) time.Duration {
		return time.Duration(attempt) * 100 * time.Millisecond
	}}
	if got, want := c.NextDelay(3, nil), 300*time.Millisecond; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolveRetryDelay_Precedence(t *testing.T) {
	fixedSub := Fixed{Delay: time.Minute}
	fixedProc := Fixed{Delay: 2 * time.Minute}

	tests := []struct {
		name            string
		subOpts         SubscribeOptions
		processStrategy RetryStrategy
		processDelay    time.Duration
		want            time.Duration
	}{
		{
			name:    "subscription strategy wins over everything",
			subOpts: SubscribeOptions{RetryStrategy: fixedSub, RetryDelay: 5 * time.Second},
			processStrategy: fixedProc,
			processDelay:    10 * time.Second,
			want:            time.Minute,
		},
		{
			name:            "process strategy wins when subscription has none",
			processStrategy: fixedProc,
			processDelay:    10 * time.Second,
			want:            2 * time.Minute,
		},
		{
			name:         "subscription fixed delay wins when no strategies set",
			subOpts:      SubscribeOptions{RetryDelay: 5 * time.Second},
			processDelay: 10 * time.Second,
			want:         5 * time.Second,
		},
		{
			name:         "process fixed delay used as last configured fallback",
			processDelay: 10 * time.Second,
			want:         10 * time.Second,
		},
		{
			name: "default delay when nothing configured",
			want: time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveRetryDelay(tt.subOpts, tt.processStrategy, tt.processDelay, 1, nil)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
