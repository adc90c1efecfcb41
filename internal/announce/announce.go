// Package announce renders status and verdict messages to the user.
package announce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/rodruizronald/smart-calendar/internal/decision"
)

// Message identifies one of the fixed announcements.
type Message int

const (
	Updating Message = iota + 1
	Ready
	OpenTerminal
	RequestReceived
	Estimating
	NoEvents
	AppFailed
	TimeLeft
	LeaveNow
	Late
)

var texts = map[Message]string{
	Updating:        "Hi, your device is being updated, please wait.",
	Ready:           "Your device is ready. You might now ask for your next activity.",
	OpenTerminal:    "Hi, your device has not been authenticated yet. Please open a terminal and follow the steps indicated.",
	RequestReceived: "Your request has been received, I am now locating your next event.",
	Estimating:      "Location and time found, please wait while I estimate the ideal departure time.",
	NoEvents:        "There are no upcoming events scheduled on your calendar.",
	AppFailed:       "An error has occurred. Please open a terminal to see what caused the error and fix it before restarting your device.",
	TimeLeft:        "Based on your current location, you would be on time for your upcoming event by leaving in",
	LeaveNow:        "The results showed that you have to leave now to be on time for your upcoming event.",
	Late:            "Based on your current location, if you leave now, you would be late for your upcoming event by",
}

var names = map[Message]string{
	Updating:        "updating",
	Ready:           "ready",
	OpenTerminal:    "open-terminal",
	RequestReceived: "request-received",
	Estimating:      "estimating",
	NoEvents:        "no-events",
	AppFailed:       "app-failed",
	TimeLeft:        "time-left",
	LeaveNow:        "leave-now",
	Late:            "late",
}

func (m Message) String() string {
	if s, ok := names[m]; ok {
		return s
	}
	return fmt.Sprintf("Message(%d)", int(m))
}

// HasDuration reports whether the message is followed by a duration.
func (m Message) HasDuration() bool {
	return m == TimeLeft || m == Late
}

// Announcement is one message and, for TimeLeft and Late, its duration.
type Announcement struct {
	Message  Message
	Duration time.Duration
}

// Text returns the sentence spoken for a.
func (a Announcement) Text() string {
	text := texts[a.Message]
	if a.Message.HasDuration() {
		text += " " + SpeakDuration(a.Duration) + "."
	}
	return text
}

// SpeakDuration phrases d as hours and minutes, rounded down to the minute.
func SpeakDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	hours := int(d / time.Hour)
	minutes := int(d%time.Hour) / int(time.Minute)

	var parts []string
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 || hours == 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	return strings.Join(parts, " and ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// ForResult returns the announcement for a decision.
func ForResult(r decision.Result) Announcement {
	switch r.Verdict {
	case decision.TimeLeft:
		return Announcement{Message: TimeLeft, Duration: r.Margin}
	case decision.LeaveNow:
		return Announcement{Message: LeaveNow}
	case decision.Late:
		return Announcement{Message: Late, Duration: r.Margin}
	default:
		return Announcement{Message: NoEvents}
	}
}

// Announcer renders announcements.
type Announcer interface {
	Announce(ctx context.Context, a Announcement) error
}

// LogAnnouncer writes announcements to a writer, or to the standard logger
// when W is nil.
type LogAnnouncer struct {
	W io.Writer
}

func (l LogAnnouncer) Announce(_ context.Context, a Announcement) error {
	if l.W == nil {
		log.Printf("[announce] %s: %s", a.Message, a.Text())
		return nil
	}
	_, err := fmt.Fprintln(l.W, a.Text())
	return err
}

// CommandAnnouncer speaks announcements with an external command, such as
// say or espeak. The text is appended as the last argument.
type CommandAnnouncer struct {
	Argv    []string
	Timeout time.Duration
}

func (c CommandAnnouncer) Announce(ctx context.Context, a Announcement) error {
	if len(c.Argv) == 0 {
		return errors.New("announce: no command configured")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.Argv[1:]...), a.Text())
	out, err := exec.CommandContext(ctx, c.Argv[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("announce: %s: %w: %s", c.Argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Multi fans an announcement out to every announcer and joins their errors.
type Multi []Announcer

func (m Multi) Announce(ctx context.Context, a Announcement) error {
	var errs []error
	for _, an := range m {
		if err := an.Announce(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every announcement in memory.
type Recorder struct {
	Got []Announcement
}

func (r *Recorder) Announce(_ context.Context, a Announcement) error {
	r.Got = append(r.Got, a)
	return nil
}

// Messages returns the recorded message identifiers in order.
func (r *Recorder) Messages() []Message {
	out := make([]Message, len(r.Got))
	for i, a := range r.Got {
		out[i] = a.Message
	}
	return out
}
