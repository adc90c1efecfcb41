// Package distancematrix estimates travel time to an address through the
// relay's distance matrix webhooks.
//
// The Distance Matrix API answers HTTP 200 even when the lookup failed and
// reports the outcome in a top-level and an element-level status instead.
// Both are checked here; any status other than OK is promoted to a 400 so
// callers see a single failure representation.
package distancematrix

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rodruizronald/smart-calendar/internal/fields"
	"github.com/rodruizronald/smart-calendar/internal/webhook"
)

const (
	// ChannelDriving is the relay webhook for driving estimates.
	ChannelDriving = "dist_driving"
	// ChannelTransit is the relay webhook for public transport estimates.
	ChannelTransit = "dist_transit"

	statusOK = "OK"
)

// TravelMode selects how the trip is made.
type TravelMode int

const (
	Driving TravelMode = iota
	Transit
)

func (m TravelMode) String() string {
	switch m {
	case Driving:
		return "driving"
	case Transit:
		return "transit"
	default:
		return fmt.Sprintf("TravelMode(%d)", int(m))
	}
}

// ParseTravelMode parses a configured travel mode.
func ParseTravelMode(s string) (TravelMode, error) {
	switch s {
	case "", "driving":
		return Driving, nil
	case "transit":
		return Transit, nil
	default:
		return Driving, fmt.Errorf("unknown travel mode %q", s)
	}
}

// TransitMode selects the preferred public transport.
type TransitMode int

const (
	NoTransit TransitMode = iota
	Bus
	Subway
	Train
	Tram
	Rail
)

var transitNames = map[TransitMode]string{
	Bus:    "bus",
	Subway: "subway",
	Train:  "train",
	Tram:   "tram",
	Rail:   "rail",
}

func (m TransitMode) String() string {
	if s, ok := transitNames[m]; ok {
		return s
	}
	return "none"
}

// ParseTransitMode parses a configured transit mode.
func ParseTransitMode(s string) (TransitMode, error) {
	if s == "" || s == "none" {
		return NoTransit, nil
	}
	for m, name := range transitNames {
		if name == s {
			return m, nil
		}
	}
	return NoTransit, fmt.Errorf("unknown transit mode %q", s)
}

// Trip describes one origin/destination lookup.
type Trip struct {
	OriginLat   float64
	OriginLng   float64
	Destination string
	Mode        TravelMode
	Transit     TransitMode
}

// Result is the travel estimate for a trip. It is rebuilt on every lookup.
type Result struct {
	// Duration is the travel time in seconds.
	Duration uint32
	// Distance is the travel distance in miles.
	Distance uint16
}

// ETA returns Duration as a time.Duration.
func (r Result) ETA() time.Duration {
	return time.Duration(r.Duration) * time.Second
}

// Options configures a Client.
type Options struct {
	DeviceID string
	Timeout  time.Duration
	Now      func() time.Time
}

// Client is the distance matrix webhook adapter.
type Client struct {
	rpc *webhook.Client[Result]
	now func() time.Time
}

// New creates a distance matrix client subscribed to both travel channels.
func New(relay webhook.Relay, opts Options) *Client {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		now: opts.Now,
		rpc: webhook.New(relay, webhook.Config[Result]{
			Name:     "distance_matrix",
			Channels: []string{ChannelDriving, ChannelTransit},
			DeviceID: opts.DeviceID,
			Decode:   decode,
			Messages: map[int]string{
				http.StatusBadRequest: "Invalid request, check the origin and destination.",
				http.StatusForbidden:  "API key has restricted access.",
			},
			Timeout: opts.Timeout,
			Now:     opts.Now,
		}),
	}
}

// decode parses "distance~duration~element_status~top_status".
func decode(data string) (Result, error) {
	f := fields.Parse(data)
	top, _ := f.String(3)
	element, _ := f.String(2)

	if top != statusOK {
		return Result{}, &webhook.StatusError{
			Code:    http.StatusBadRequest,
			Message: "Top-level error, " + top,
		}
	}
	if element != statusOK {
		return Result{}, &webhook.StatusError{
			Code:    http.StatusBadRequest,
			Message: "Element-level error, " + element,
		}
	}

	distance, err := f.Uint(0, 16)
	if err != nil {
		return Result{}, fmt.Errorf("distance matrix: distance: %w", err)
	}
	duration, err := f.Uint(1, 32)
	if err != nil {
		return Result{}, fmt.Errorf("distance matrix: duration: %w", err)
	}
	return Result{Duration: uint32(duration), Distance: uint16(distance)}, nil
}

// Subscribe registers handler for distance matrix responses.
func (c *Client) Subscribe(handler func()) {
	c.rpc.Subscribe(handler)
}

// Publish requests an estimate for trip on the channel matching its mode.
func (c *Client) Publish(trip Trip) error {
	req := webhook.Request{
		"origin":      fmt.Sprintf("%.6f,%.6f", trip.OriginLat, trip.OriginLng),
		"destination": trip.Destination,
	}

	switch trip.Mode {
	case Transit:
		transit := trip.Transit
		if transit == NoTransit {
			transit = Bus
		}
		req["transit_mode"] = transit.String()
		return c.rpc.Publish(ChannelTransit, req)
	default:
		req["curr_time"] = strconv.FormatInt(c.now().Unix(), 10)
		return c.rpc.Publish(ChannelDriving, req)
	}
}

// CheckDeadline expires a stalled request.
func (c *Client) CheckDeadline() bool { return c.rpc.CheckDeadline() }

// Pending reports whether a request is in flight.
func (c *Client) Pending() bool { return c.rpc.Pending() }

// Failed reports whether the last request failed.
func (c *Client) Failed() bool { return c.rpc.Failed() }

// Err returns the last failure.
func (c *Client) Err() error { return c.rpc.Err() }

// Result returns the last successful estimate.
func (c *Client) Result() Result { return c.rpc.Result() }
