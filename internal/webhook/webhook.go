// Package webhook implements the publish / asynchronous response pattern
// shared by every external API integration.
//
// A Client publishes one JSON request to the relay under a named channel and
// later receives exactly one answer on one of two device-scoped channels:
//
//	<device>/hook-response/<channel>/<n>   success payload, '~' delimited
//	<device>/hook-error/<channel>/<n>      prose with an HTTP status code
//
// At most one call per client is in flight. Responses that do not match the
// pending call (late, foreign device, other channel) are dropped.
//
// Clients are driven from a single cooperative loop and are not safe for
// concurrent use.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rodruizronald/smart-calendar/internal/fields"
)

const (
	// HookResponse is the event segment the relay uses for 2xx answers.
	HookResponse = "hook-response"
	// HookError is the event segment the relay uses for everything else.
	HookError = "hook-error"

	// statusOffset is where the three-digit code starts in an error payload,
	// e.g. "error status 404 from www.googleapis.com".
	statusOffset = 13
)

var (
	// ErrNotSubscribed is returned by Publish before Subscribe was called.
	ErrNotSubscribed = errors.New("webhook: client not subscribed")
	// ErrInFlight is returned by Publish while a call is still pending.
	ErrInFlight = errors.New("webhook: request already in flight")
	// ErrUnknownChannel is returned for a channel the client was not built with.
	ErrUnknownChannel = errors.New("webhook: unknown channel")
)

// Relay is the pub/sub bridge that turns a publish into an HTTP call and the
// HTTP response into an inbound event.
type Relay interface {
	Publish(name, data string)
	Subscribe(prefix string, handler func(event, data string))
}

// Request is an outbound payload of named fields.
type Request map[string]any

// Call is the bookkeeping for a published request awaiting its response.
type Call struct {
	Channel  string
	IssuedAt time.Time
	// Deadline is zero when the client waits forever.
	Deadline time.Time
}

// Decoder turns a success payload into a result. Returning a *StatusError
// promotes a payload-embedded failure to an HTTP-style status; any other
// error is recorded as a validity failure (422).
type Decoder[T any] func(data string) (T, error)

// Config describes one API integration.
type Config[T any] struct {
	// Name identifies the client in logs.
	Name string
	// Channels lists the relay channels this client may publish on. The
	// first one is the default.
	Channels []string
	// DeviceID scopes the inbound channels to this device.
	DeviceID string
	Decode   Decoder[T]
	// Messages maps status codes to operator guidance.
	Messages map[int]string
	// Timeout bounds how long a call may stay pending. Zero disables it.
	Timeout time.Duration
	Now     func() time.Time
}

// Client is a single-flight webhook RPC client.
type Client[T any] struct {
	cfg     Config[T]
	relay   Relay
	handler func()

	subscribed bool
	pending    *Call
	result     T
	status     int
	err        error
}

// New creates a client. Subscribe must be called before Publish.
func New[T any](relay Relay, cfg Config[T]) *Client[T] {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Name == "" && len(cfg.Channels) > 0 {
		cfg.Name = cfg.Channels[0]
	}
	return &Client[T]{cfg: cfg, relay: relay}
}

// Subscribe registers the success and error channels for every channel of
// the client. handler runs after each response has been recorded.
func (c *Client[T]) Subscribe(handler func()) {
	c.handler = handler
	if c.subscribed {
		return
	}
	for _, ch := range c.cfg.Channels {
		c.relay.Subscribe(c.eventPrefix(HookResponse, ch), c.onEvent)
		c.relay.Subscribe(c.eventPrefix(HookError, ch), c.onEvent)
	}
	c.subscribed = true
}

func (c *Client[T]) eventPrefix(hook, channel string) string {
	return c.cfg.DeviceID + "/" + hook + "/" + channel + "/"
}

// Publish sends req on channel (the default channel when empty) and arms
// the pending call. Relay failures surface later as an error response.
func (c *Client[T]) Publish(channel string, req Request) error {
	if !c.subscribed {
		return ErrNotSubscribed
	}
	if c.pending != nil {
		return ErrInFlight
	}
	if channel == "" && len(c.cfg.Channels) > 0 {
		channel = c.cfg.Channels[0]
	}
	if !c.hasChannel(channel) {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("webhook: encode %s request: %w", channel, err)
	}

	now := c.cfg.Now()
	call := &Call{Channel: channel, IssuedAt: now}
	if c.cfg.Timeout > 0 {
		call.Deadline = now.Add(c.cfg.Timeout)
	}
	c.pending = call
	c.relay.Publish(channel, string(data))
	log.Printf("[webhook][%s] Published on %s", c.cfg.Name, channel)
	return nil
}

func (c *Client[T]) hasChannel(channel string) bool {
	for _, ch := range c.cfg.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// onEvent receives both success and error events from the relay.
func (c *Client[T]) onEvent(event, data string) {
	parts := fields.Split(event, '/')
	if parts.Len() < 3 || parts[0] != c.cfg.DeviceID {
		return
	}
	hook, channel := parts[1], parts[2]

	if c.pending == nil || c.pending.Channel != channel {
		log.Printf("[webhook][%s] Dropping unexpected %s on %s", c.cfg.Name, hook, channel)
		return
	}
	c.pending = nil

	switch hook {
	case HookResponse:
		c.resolve(data)
	case HookError:
		c.reject(data)
	default:
		return
	}

	if c.handler != nil {
		c.handler()
	}
}

func (c *Client[T]) resolve(data string) {
	result, err := c.cfg.Decode(data)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			c.status = se.Code
		} else {
			c.status = http.StatusUnprocessableEntity
		}
		c.err = err
		log.Printf("[webhook][%s] Response rejected: %v", c.cfg.Name, err)
		return
	}
	c.result = result
	c.status = http.StatusOK
	c.err = nil
}

func (c *Client[T]) reject(data string) {
	code, detail := ParseErrorPayload(data)
	c.status = code
	c.err = &StatusError{Code: code, Message: c.message(code), Detail: detail}
	log.Printf("[webhook][%s] Error response: %v", c.cfg.Name, c.err)
}

func (c *Client[T]) message(code int) string {
	if msg, ok := c.cfg.Messages[code]; ok {
		return msg
	}
	return "Unexpected response from " + c.cfg.Name + "."
}

// CheckDeadline expires the pending call once its deadline has passed. An
// expired call is recorded as a 504 and the handler runs as if the relay
// had answered. It reports whether the call expired.
func (c *Client[T]) CheckDeadline() bool {
	if c.pending == nil || c.pending.Deadline.IsZero() {
		return false
	}
	if c.cfg.Now().Before(c.pending.Deadline) {
		return false
	}

	channel := c.pending.Channel
	c.pending = nil
	c.status = http.StatusGatewayTimeout
	c.err = &StatusError{
		Code:    http.StatusGatewayTimeout,
		Message: "No response from the relay before the deadline.",
		Detail:  channel,
	}
	log.Printf("[webhook][%s] Call on %s expired", c.cfg.Name, channel)

	if c.handler != nil {
		c.handler()
	}
	return true
}

// Pending reports whether a call is in flight.
func (c *Client[T]) Pending() bool {
	return c.pending != nil
}

// Cancel forgets the in-flight call. A response arriving for it later is
// dropped and the handler does not run.
func (c *Client[T]) Cancel() {
	if c.pending == nil {
		return
	}
	log.Printf("[webhook][%s] Cancelled call on %s", c.cfg.Name, c.pending.Channel)
	c.pending = nil
}

// Failed reports whether the last recorded status was not OK.
func (c *Client[T]) Failed() bool {
	return c.err != nil
}

// Err returns the error behind the last failure.
func (c *Client[T]) Err() error {
	return c.err
}

// StatusCode returns the last recorded status, 0 before any response.
func (c *Client[T]) StatusCode() int {
	return c.status
}

// Result returns the last successfully decoded payload. It is stale when
// Failed reports true.
func (c *Client[T]) Result() T {
	return c.result
}

// StatusError is an HTTP-derived failure, either reported by the relay or
// embedded in an otherwise successful payload.
type StatusError struct {
	Code    int
	Message string
	// Detail is the raw relay text after the status code, if any.
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP ERROR - %d: %s", e.Code, e.Message)
}

// ParseErrorPayload extracts the status code at its fixed offset and the
// remaining text. The code is 0 when the payload is too short or malformed.
func ParseErrorPayload(data string) (int, string) {
	end := statusOffset + 3
	if len(data) < end {
		return 0, strings.TrimSpace(data)
	}
	code, err := strconv.Atoi(data[statusOffset:end])
	if err != nil {
		return 0, strings.TrimSpace(data)
	}
	return code, strings.TrimSpace(data[end:])
}

// FormatErrorPayload builds the text a relay sends on an error channel.
func FormatErrorPayload(code int, host, reason string) string {
	s := fmt.Sprintf("error status %03d from %s", code, host)
	if reason != "" {
		s += ": " + reason
	}
	return s
}
