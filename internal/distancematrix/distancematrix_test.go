package distancematrix

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rodruizronald/smart-calendar/internal/webhook"
	"github.com/rodruizronald/smart-calendar/internal/webhook/webhooktest"
)

var fixedNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestClient(relay *webhooktest.Relay) *Client {
	c := New(relay, Options{
		DeviceID: relay.DeviceID,
		Now:      func() time.Time { return fixedNow },
	})
	c.Subscribe(nil)
	return c
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		failed  bool
		message string
	}{
		{"both ok", "12~1800~OK~OK", false, ""},
		{"element not found", "~~NOT_FOUND~OK", true, "Element-level error, NOT_FOUND"},
		{"zero results", "~~ZERO_RESULTS~OK", true, "Element-level error, ZERO_RESULTS"},
		{"request denied", "~~~REQUEST_DENIED", true, "Top-level error, REQUEST_DENIED"},
		{"top-level wins", "~~NOT_FOUND~INVALID_REQUEST", true, "Top-level error, INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := webhooktest.NewRelay("dev")
			c := newTestClient(relay)
			_ = c.Publish(Trip{Destination: "Office"})

			relay.Respond(ChannelDriving, tt.payload)

			if c.Failed() != tt.failed {
				t.Fatalf("failed = %v, want %v (%v)", c.Failed(), tt.failed, c.Err())
			}
			if !tt.failed {
				return
			}
			var se *webhook.StatusError
			if !errors.As(c.Err(), &se) {
				t.Fatalf("expected StatusError, got %v", c.Err())
			}
			if se.Code != http.StatusBadRequest {
				t.Errorf("code = %d, want 400", se.Code)
			}
			if se.Message != tt.message {
				t.Errorf("message = %q, want %q", se.Message, tt.message)
			}
		})
	}
}

func TestResult(t *testing.T) {
	relay := webhooktest.NewRelay("dev")
	c := newTestClient(relay)
	_ = c.Publish(Trip{Destination: "Office"})

	relay.Respond(ChannelDriving, "12~1800~OK~OK\x00")

	r := c.Result()
	if r.Distance != 12 || r.Duration != 1800 {
		t.Errorf("unexpected result %+v", r)
	}
	if r.ETA() != 30*time.Minute {
		t.Errorf("ETA = %v", r.ETA())
	}
}

func TestChannelSelection(t *testing.T) {
	relay := webhooktest.NewRelay("dev")
	c := newTestClient(relay)

	trip := Trip{OriginLat: 41.385064, OriginLng: 2.173403, Destination: "Sagrada Familia"}
	if err := c.Publish(trip); err != nil {
		t.Fatal(err)
	}
	p, ok := relay.Last(ChannelDriving)
	if !ok {
		t.Fatal("expected driving publish")
	}
	var body map[string]string
	_ = json.Unmarshal([]byte(p.Data), &body)
	if body["origin"] != "41.385064,2.173403" || body["curr_time"] != "1714554000" {
		t.Errorf("unexpected driving payload %v", body)
	}
	relay.Respond(ChannelDriving, "1~60~OK~OK")

	trip.Mode = Transit
	if err := c.Publish(trip); err != nil {
		t.Fatal(err)
	}
	p, ok = relay.Last(ChannelTransit)
	if !ok {
		t.Fatal("expected transit publish")
	}
	body = nil
	_ = json.Unmarshal([]byte(p.Data), &body)
	if body["transit_mode"] != "bus" {
		t.Errorf("transit mode should default to bus, got %v", body)
	}
}

func TestParseModes(t *testing.T) {
	if m, err := ParseTravelMode("transit"); err != nil || m != Transit {
		t.Errorf("ParseTravelMode(transit) = %v, %v", m, err)
	}
	if _, err := ParseTravelMode("flying"); err == nil {
		t.Error("expected error for unknown travel mode")
	}
	if m, err := ParseTransitMode("tram"); err != nil || m != Tram {
		t.Errorf("ParseTransitMode(tram) = %v, %v", m, err)
	}
	if _, err := ParseTransitMode("ferry"); err == nil || !strings.Contains(err.Error(), "ferry") {
		t.Errorf("expected error naming ferry, got %v", err)
	}
}
