// Package geolocation locates the device from nearby WiFi access points
// through the relay's geolocation webhook.
package geolocation

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
	Channel = "geolocation"

	// MaxAccessPoints caps how many scanned access points are sent.
	MaxAccessPoints = 6

	// DefaultMinAccuracy is the largest accepted accuracy radius, in meters.
	DefaultMinAccuracy = 50
)

// ErrLowAccuracy marks a location whose accuracy radius is too large to use.
var ErrLowAccuracy = errors.New("geolocation: accuracy below minimum")

// AccessPoint is one scanned WiFi access point.
type AccessPoint struct {
	MAC     string `yaml:"mac" json:"m"`
	Signal  int    `yaml:"signal" json:"s"`
	Channel int    `yaml:"channel" json:"c"`
}

// Scanner returns the access points currently in range.
type Scanner interface {
	Scan() ([]AccessPoint, error)
}

// StaticScanner always reports the same access points.
type StaticScanner []AccessPoint

// Scan implements Scanner.
func (s StaticScanner) Scan() ([]AccessPoint, error) {
	return []AccessPoint(s), nil
}

// Location is a position estimate.
type Location struct {
	Latitude  float64
	Longitude float64
	// Accuracy is the radius of the estimate, in meters.
	Accuracy uint16
}

// String formats the location as "lat,lng" with six decimals.
func (l Location) String() string {
	return fmt.Sprintf("%.6f,%.6f", l.Latitude, l.Longitude)
}

// Options configures a Client.
type Options struct {
	DeviceID    string
	Scanner     Scanner
	MinAccuracy uint16
	Timeout     time.Duration
	Now         func() time.Time
}

// Client is the geolocation webhook adapter.
type Client struct {
	rpc     *webhook.Client[Location]
	scanner Scanner
}

// New creates a geolocation client.
func New(relay webhook.Relay, opts Options) *Client {
	if opts.MinAccuracy == 0 {
		opts.MinAccuracy = DefaultMinAccuracy
	}
	if opts.Scanner == nil {
		opts.Scanner = StaticScanner(nil)
	}
	minAccuracy := opts.MinAccuracy
	return &Client{
		scanner: opts.Scanner,
		rpc: webhook.New(relay, webhook.Config[Location]{
			Name:     Channel,
			Channels: []string{Channel},
			DeviceID: opts.DeviceID,
			Decode: func(data string) (Location, error) {
				return decode(data, minAccuracy)
			},
			Messages: map[int]string{
				http.StatusBadRequest: "Invalid API key or request body.",
				http.StatusForbidden:  "User rate limit exceeded, or API key has restricted access.",
				http.StatusNotFound:   "The request was valid, but no results were returned.",
			},
			Timeout: opts.Timeout,
			Now:     opts.Now,
		}),
	}
}

// decode parses "lat~lng~accuracy" and enforces the accuracy threshold.
func decode(data string, minAccuracy uint16) (Location, error) {
	f := fields.Parse(data)
	lat, err := f.Float(0)
	if err != nil {
		return Location{}, fmt.Errorf("geolocation: latitude: %w", err)
	}
	lng, err := f.Float(1)
	if err != nil {
		return Location{}, fmt.Errorf("geolocation: longitude: %w", err)
	}
	acc, err := f.Uint(2, 16)
	if err != nil {
		return Location{}, fmt.Errorf("geolocation: accuracy: %w", err)
	}
	if uint16(acc) > minAccuracy {
		return Location{}, fmt.Errorf("%w: %d m exceeds %d m", ErrLowAccuracy, acc, minAccuracy)
	}
	return Location{Latitude: lat, Longitude: lng, Accuracy: uint16(acc)}, nil
}

// Subscribe registers handler for geolocation responses.
func (c *Client) Subscribe(handler func()) {
	c.rpc.Subscribe(handler)
}

// Publish scans nearby access points and requests a location estimate.
func (c *Client) Publish() error {
	aps, err := c.scanner.Scan()
	if err != nil {
		return fmt.Errorf("geolocation: scan access points: %w", err)
	}
	if len(aps) > MaxAccessPoints {
		aps = aps[:MaxAccessPoints]
	}
	return c.rpc.Publish(Channel, webhook.Request{"a": aps})
}

// CheckDeadline expires a stalled request.
func (c *Client) CheckDeadline() bool { return c.rpc.CheckDeadline() }

// Pending reports whether a request is in flight.
func (c *Client) Pending() bool { return c.rpc.Pending() }

// Failed reports whether the last request failed.
func (c *Client) Failed() bool { return c.rpc.Failed() }

// Err returns the last failure.
func (c *Client) Err() error { return c.rpc.Err() }

// Location returns the last accepted estimate.
func (c *Client) Location() Location { return c.rpc.Result() }
