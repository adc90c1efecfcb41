package main

import (
	"context"
	"testing"
	"time"

	"github.com/rodruizronald/smart-calendar/internal/app"
	"github.com/rodruizronald/smart-calendar/internal/calendar"
	"github.com/rodruizronald/smart-calendar/internal/config"
	"github.com/rodruizronald/smart-calendar/internal/decision"
	"github.com/rodruizronald/smart-calendar/internal/deviceauth"
	"github.com/rodruizronald/smart-calendar/internal/distancematrix"
	"github.com/rodruizronald/smart-calendar/internal/relay"
	"github.com/rodruizronald/smart-calendar/internal/relay/hooks"
	"github.com/rodruizronald/smart-calendar/internal/tokenstore"
)

// cannedHooks answers every publish on a channel with a fixed payload.
type cannedHooks map[string]string

func (c cannedHooks) Register(r hooks.Registrar) {
	for name, payload := range c {
		payload := payload
		r.Register(name, relay.HookFunc(func(context.Context, string) (string, error) {
			return payload, nil
		}))
	}
}

func newTestRunner(t *testing.T) *runner {
	t.Helper()
	cfg := config.Default()
	cfg.Geolocation.Enabled = false
	cfg.Geolocation.Latitude = 41.385064
	cfg.Geolocation.Longitude = 2.173403
	cfg.Loop.Tick = 10 * time.Millisecond

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	r, err := newRunner(cfg, "dev", runnerDeps{
		hooks: cannedHooks{
			deviceauth.ChannelRefresh:     "ya29.fresh~3599",
			calendar.Channel:              "2024-05-01T10:00:00Z~Office",
			distancematrix.ChannelDriving: "12~1800~OK~OK",
		},
		store: tokenstore.NewMemoryStore(&tokenstore.Token{RefreshToken: "1//stored"}),
		now:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("newRunner() error = %v", err)
	}
	t.Cleanup(r.bus.Close)
	return r
}

func TestRunnerCompletesOneCycle(t *testing.T) {
	r := newTestRunner(t)
	r.once = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !r.app.Done() {
		t.Fatalf("cycle did not finish, stage %s", r.app.Stage())
	}
	want := decision.Result{Verdict: decision.TimeLeft, Margin: 30 * time.Minute}
	if got := r.app.Result(); got != want {
		t.Errorf("Result() = %v, want %v", got, want)
	}
}

func TestAssistantEventRestartsCycle(t *testing.T) {
	r := newTestRunner(t)
	r.once = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatal(err)
	}

	r.bus.Inject(r.assistantEvent(), "")
	r.bus.Dispatch()

	if r.app.Done() {
		t.Fatal("assistant event should restart the halted cycle")
	}
	if r.app.Stage() != app.StageGeolocation {
		t.Errorf("Stage() = %s, want GEOLOCATION", r.app.Stage())
	}
}

func TestTriggerIgnoredWhileRunning(t *testing.T) {
	r := newTestRunner(t)

	r.trigger("test")
	if r.app.Cycles() != 0 || r.app.Done() {
		t.Errorf("trigger must not disturb a running cycle")
	}
}
