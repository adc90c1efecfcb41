// Package calendar finds the user's next calendar event through the relay's
// calendar webhook. Requests carry an OAuth2 access token obtained from the
// device-flow manager.
package calendar

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rodruizronald/smart-calendar/internal/fields"
	"github.com/rodruizronald/smart-calendar/internal/webhook"
)

const (
	// Channel is the relay webhook name.
	Channel = "calendar_event"

	// DefaultLookahead bounds how far ahead events are searched.
	DefaultLookahead = 3 * time.Hour
)

// ErrNoLocation marks an event that cannot be travelled to.
var ErrNoLocation = errors.New("calendar: event has no location")

// TokenSource exposes the current OAuth2 access token.
type TokenSource interface {
	AccessToken() string
}

// Event is the next pending calendar event. It is rebuilt on every lookup.
type Event struct {
	// Start is the RFC3339 start time as returned by the API.
	Start    string
	Location string
	Pending  bool
}

// StartTime parses Start.
func (e Event) StartTime() (time.Time, error) {
	return time.Parse(time.RFC3339, e.Start)
}

// Options configures a Client.
type Options struct {
	DeviceID   string
	CalendarID string
	Lookahead  time.Duration
	Timeout    time.Duration
	Now        func() time.Time
}

// Client is the calendar webhook adapter.
type Client struct {
	rpc        *webhook.Client[Event]
	calendarID string
	lookahead  time.Duration
	now        func() time.Time
}

// New creates a calendar client.
func New(relay webhook.Relay, opts Options) *Client {
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultLookahead
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		calendarID: opts.CalendarID,
		lookahead:  opts.Lookahead,
		now:        opts.Now,
		rpc: webhook.New(relay, webhook.Config[Event]{
			Name:     Channel,
			Channels: []string{Channel},
			DeviceID: opts.DeviceID,
			Decode:   decode,
			Messages: map[int]string{
				http.StatusBadRequest:   "The requested ordering is not available for the particular query.",
				http.StatusUnauthorized: "Invalid credentials.",
				http.StatusNotFound:     "Invalid calendar id.",
			},
			Timeout: opts.Timeout,
			Now:     opts.Now,
		}),
	}
}

// decode parses "start~location", or a bare delimiter when nothing is
// scheduled in the window.
func decode(data string) (Event, error) {
	if fields.Empty(data, fields.Delimiter) {
		return Event{}, nil
	}
	f := fields.Parse(data)
	start, _ := f.String(0)
	if _, err := time.Parse(time.RFC3339, start); err != nil {
		return Event{}, fmt.Errorf("calendar: event start %q: %w", start, err)
	}
	location, _ := f.String(1)
	if location == "" {
		return Event{}, ErrNoLocation
	}
	return Event{Start: start, Location: location, Pending: true}, nil
}

// Subscribe registers handler for calendar responses.
func (c *Client) Subscribe(handler func()) {
	c.rpc.Subscribe(handler)
}

// Publish looks up the first event between now and now+lookahead.
func (c *Client) Publish(tokens TokenSource) error {
	now := c.now().UTC()
	return c.rpc.Publish(Channel, webhook.Request{
		"calendar_id":  c.calendarID,
		"access_token": tokens.AccessToken(),
		"time_min":     now.Format(time.RFC3339),
		"time_max":     now.Add(c.lookahead).Format(time.RFC3339),
	})
}

// CheckDeadline expires a stalled request.
func (c *Client) CheckDeadline() bool { return c.rpc.CheckDeadline() }

// Pending reports whether a request is in flight.
func (c *Client) Pending() bool { return c.rpc.Pending() }

// Failed reports whether the last request failed.
func (c *Client) Failed() bool { return c.rpc.Failed() }

// Err returns the last failure.
func (c *Client) Err() error { return c.rpc.Err() }

// EventPending reports whether the last lookup found an event.
func (c *Client) EventPending() bool { return c.rpc.Result().Pending }

// Event returns the event found by the last lookup.
func (c *Client) Event() Event { return c.rpc.Result() }
