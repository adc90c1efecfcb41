package calendar

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rodruizronald/smart-calendar/internal/webhook"
	"github.com/rodruizronald/smart-calendar/internal/webhook/webhooktest"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

func newTestClient(relay *webhooktest.Relay, now time.Time) *Client {
	return New(relay, Options{
		DeviceID:   relay.DeviceID,
		CalendarID: "user@example.com",
		Now:        func() time.Time { return now },
	})
}

func TestPublishBoundsWindow(t *testing.T) {
	relay := webhooktest.NewRelay("dev")
	loc := time.FixedZone("CET", 3600)
	c := newTestClient(relay, time.Date(2024, 5, 1, 9, 30, 0, 0, loc))
	c.Subscribe(nil)

	if err := c.Publish(staticToken("ya29.token")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	p, _ := relay.Last(Channel)
	var body map[string]string
	if err := json.Unmarshal([]byte(p.Data), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	want := map[string]string{
		"calendar_id":  "user@example.com",
		"access_token": "ya29.token",
		"time_min":     "2024-05-01T08:30:00Z",
		"time_max":     "2024-05-01T11:30:00Z",
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %q, want %q", k, body[k], v)
		}
	}
}

func TestNoEvents(t *testing.T) {
	relay := webhooktest.NewRelay("dev")
	c := newTestClient(relay, time.Now())
	c.Subscribe(nil)
	_ = c.Publish(staticToken("t"))

	relay.Respond(Channel, "~")

	if c.Failed() {
		t.Fatalf("unexpected failure: %v", c.Err())
	}
	if c.EventPending() {
		t.Error("expected no pending event")
	}
}

func TestPendingEvent(t *testing.T) {
	relay := webhooktest.NewRelay("dev")
	c := newTestClient(relay, time.Now())
	c.Subscribe(nil)
	_ = c.Publish(staticToken("t"))

	relay.Respond(Channel, "2024-05-01T10:00:00+02:00~1600 Amphitheatre Parkway, Mountain View, CA\x00")

	if !c.EventPending() {
		t.Fatal("expected pending event")
	}
	ev := c.Event()
	if ev.Location != "1600 Amphitheatre Parkway, Mountain View, CA" {
		t.Errorf("location = %q", ev.Location)
	}
	start, err := ev.StartTime()
	if err != nil {
		t.Fatal(err)
	}
	if !start.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", start)
	}
}

func TestInvalidStartIsFailure(t *testing.T) {
	relay := webhooktest.NewRelay("dev")
	c := newTestClient(relay, time.Now())
	c.Subscribe(nil)
	_ = c.Publish(staticToken("t"))

	relay.Respond(Channel, "tomorrow~office")
	if !c.Failed() {
		t.Error("expected failure for non-RFC3339 start")
	}
}

func TestEventWithoutLocation(t *testing.T) {
	relay := webhooktest.NewRelay("dev")
	c := newTestClient(relay, time.Now())
	c.Subscribe(nil)
	_ = c.Publish(staticToken("t"))

	relay.Respond(Channel, "2024-05-01T10:00:00Z~")
	if !errors.Is(c.Err(), ErrNoLocation) {
		t.Errorf("err = %v, want ErrNoLocation", c.Err())
	}
	if c.EventPending() {
		t.Error("rejected event must not be reported as pending")
	}
}

func TestUnauthorized(t *testing.T) {
	relay := webhooktest.NewRelay("dev")
	c := newTestClient(relay, time.Now())
	c.Subscribe(nil)
	_ = c.Publish(staticToken("expired"))

	relay.Fail(Channel, http.StatusUnauthorized, "")

	var se *webhook.StatusError
	if !errors.As(c.Err(), &se) || se.Message != "Invalid credentials." {
		t.Errorf("unexpected error %v", c.Err())
	}
}
