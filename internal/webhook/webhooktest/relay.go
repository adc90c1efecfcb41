// Package webhooktest provides an in-memory relay for exercising webhook
// clients without a transport.
package webhooktest

import (
	"fmt"
	"strings"

	"github.com/rodruizronald/smart-calendar/internal/webhook"
)

// Published is one request handed to the relay.
type Published struct {
	Name string
	Data string
}

type subscription struct {
	prefix  string
	handler func(event, data string)
}

// Relay records publishes and lets tests deliver responses by hand.
type Relay struct {
	DeviceID  string
	Published []Published
	subs      []subscription
}

// NewRelay creates a relay for deviceID.
func NewRelay(deviceID string) *Relay {
	return &Relay{DeviceID: deviceID}
}

// Publish records the request.
func (r *Relay) Publish(name, data string) {
	r.Published = append(r.Published, Published{Name: name, Data: data})
}

// Subscribe registers handler for events starting with prefix.
func (r *Relay) Subscribe(prefix string, handler func(event, data string)) {
	r.subs = append(r.subs, subscription{prefix: prefix, handler: handler})
}

// Count returns how many requests were published on name.
func (r *Relay) Count(name string) int {
	n := 0
	for _, p := range r.Published {
		if p.Name == name {
			n++
		}
	}
	return n
}

// Last returns the most recent request published on name.
func (r *Relay) Last(name string) (Published, bool) {
	for i := len(r.Published) - 1; i >= 0; i-- {
		if r.Published[i].Name == name {
			return r.Published[i], true
		}
	}
	return Published{}, false
}

// Respond delivers a success payload for channel.
func (r *Relay) Respond(channel, data string) {
	r.Deliver(fmt.Sprintf("%s/%s/%s/0", r.DeviceID, webhook.HookResponse, channel), data)
}

// Fail delivers an error event for channel with the given status code.
func (r *Relay) Fail(channel string, code int, reason string) {
	r.Deliver(fmt.Sprintf("%s/%s/%s/0", r.DeviceID, webhook.HookError, channel),
		webhook.FormatErrorPayload(code, "www.googleapis.com", reason))
}

// Deliver hands a raw event to every matching subscriber.
func (r *Relay) Deliver(event, data string) {
	for _, s := range r.subs {
		if strings.HasPrefix(event, s.prefix) {
			s.handler(event, data)
		}
	}
}
