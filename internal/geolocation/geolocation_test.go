package geolocation

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/rodruizronald/smart-calendar/internal/webhook"
	"github.com/rodruizronald/smart-calendar/internal/webhook/webhooktest"
)

func newTestClient(relay *webhooktest.Relay, scanner Scanner) *Client {
	return New(relay, Options{
		DeviceID:    relay.DeviceID,
		Scanner:     scanner,
		MinAccuracy: 50,
	})
}

func TestPublishSendsAccessPoints(t *testing.T) {
	relay := webhooktest.NewRelay("dev")
	var aps StaticScanner
	for i := 0; i < 8; i++ {
		aps = append(aps, AccessPoint{MAC: "00:25:9C:CF:1C:AC", Signal: -40 - i, Channel: 11})
	}
	c := newTestClient(relay, aps)
	c.Subscribe(nil)

	if err := c.Publish(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	p, ok := relay.Last(Channel)
	if !ok {
		t.Fatal("expected a geolocation publish")
	}
	var body struct {
		A []AccessPoint `json:"a"`
	}
	if err := json.Unmarshal([]byte(p.Data), &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(body.A) != MaxAccessPoints {
		t.Errorf("expected %d access points, got %d", MaxAccessPoints, len(body.A))
	}
}

func TestAcceptedLocation(t *testing.T) {
	relay := webhooktest.NewRelay("dev")
	c := newTestClient(relay, nil)
	c.Subscribe(nil)
	_ = c.Publish()

	relay.Respond(Channel, "41.385064~2.173403~35")

	if c.Failed() {
		t.Fatalf("unexpected failure: %v", c.Err())
	}
	loc := c.Location()
	if loc.Accuracy != 35 || loc.String() != "41.385064,2.173403" {
		t.Errorf("unexpected location %+v", loc)
	}
}

func TestLowAccuracyIsValidityFailure(t *testing.T) {
	relay := webhooktest.NewRelay("dev")
	c := newTestClient(relay, nil)
	c.Subscribe(nil)
	_ = c.Publish()

	relay.Respond(Channel, "41.385064~2.173403~80")

	if !c.Failed() {
		t.Fatal("accuracy 80 with minimum 50 must fail")
	}
	if !errors.Is(c.Err(), ErrLowAccuracy) {
		t.Errorf("expected ErrLowAccuracy, got %v", c.Err())
	}
}

func TestErrorGuidance(t *testing.T) {
	relay := webhooktest.NewRelay("dev")
	c := newTestClient(relay, nil)
	c.Subscribe(nil)
	_ = c.Publish()

	relay.Fail(Channel, http.StatusForbidden, "")

	var se *webhook.StatusError
	if !errors.As(c.Err(), &se) || se.Code != http.StatusForbidden {
		t.Fatalf("expected 403 status error, got %v", c.Err())
	}
	if se.Message != "User rate limit exceeded, or API key has restricted access." {
		t.Errorf("unexpected message %q", se.Message)
	}
}

func TestMalformedPayload(t *testing.T) {
	relay := webhooktest.NewRelay("dev")
	c := newTestClient(relay, nil)
	c.Subscribe(nil)
	_ = c.Publish()

	relay.Respond(Channel, "north~south")
	if !c.Failed() {
		t.Error("expected malformed payload to fail")
	}
}
