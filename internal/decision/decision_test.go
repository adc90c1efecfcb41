package decision

import (
	"testing"
	"time"
)

func TestDecide(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	start := now.Add(600 * time.Second)

	tests := []struct {
		name    string
		eta     time.Duration
		epsilon time.Duration
		want    Result
	}{
		{"time left", 300 * time.Second, 0, Result{TimeLeft, 300 * time.Second}},
		{"leave now", 600 * time.Second, 0, Result{LeaveNow, 0}},
		{"late", 900 * time.Second, 0, Result{Late, 300 * time.Second}},
		{"early within epsilon", 570 * time.Second, time.Minute, Result{LeaveNow, 0}},
		{"late within epsilon", 660 * time.Second, time.Minute, Result{LeaveNow, 0}},
		{"just outside epsilon", 661 * time.Second, time.Minute, Result{Late, 61 * time.Second}},
		{"negative epsilon", 590 * time.Second, -time.Minute, Result{LeaveNow, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(now, start, tt.eta, tt.epsilon)
			if got != tt.want {
				t.Errorf("Decide = %v, want %v", got, tt.want)
			}
			if again := Decide(now, start, tt.eta, tt.epsilon); again != got {
				t.Errorf("Decide is not idempotent: %v then %v", got, again)
			}
		})
	}
}

func TestResultString(t *testing.T) {
	if s := (Result{Verdict: Late, Margin: 5 * time.Minute}).String(); s != "late (5m0s)" {
		t.Errorf("String = %q", s)
	}
	if s := (Result{Verdict: NoEvents}).String(); s != "no-events" {
		t.Errorf("String = %q", s)
	}
}
