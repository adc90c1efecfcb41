// Package app sequences one departure check: locate the device, make sure
// it is authorized, find the next calendar event, estimate the travel time,
// decide and announce.
//
// The App is ticked by a cooperative loop. Every stage with a request has
// its own publish, wait and complete cycle; responses arrive through the
// adapters' handlers between ticks. Any failure moves the App to
// StageFailed, which only Reset leaves.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rodruizronald/smart-calendar/internal/announce"
	"github.com/rodruizronald/smart-calendar/internal/calendar"
	"github.com/rodruizronald/smart-calendar/internal/decision"
	"github.com/rodruizronald/smart-calendar/internal/deviceauth"
	"github.com/rodruizronald/smart-calendar/internal/distancematrix"
	"github.com/rodruizronald/smart-calendar/internal/geolocation"
)

// Stage is the pipeline cursor.
type Stage int

const (
	StageGeolocation Stage = iota
	StageOAuth2
	StageCalendar
	StageDistanceMatrix
	StageDataProcessing
	StageAssistant
	StageFailed
)

var stageNames = [...]string{
	StageGeolocation:    "GEOLOCATION",
	StageOAuth2:         "OAUTH2",
	StageCalendar:       "CALENDAR",
	StageDistanceMatrix: "DISTANCE_MATRIX",
	StageDataProcessing: "DATA_PROCESSING",
	StageAssistant:      "ASSISTANT",
	StageFailed:         "FAILED",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// EventState is the request cycle within a stage.
type EventState int

const (
	Publishing EventState = iota
	WaitingForResponse
	Completed
)

func (e EventState) String() string {
	switch e {
	case Publishing:
		return "PUBLISHING"
	case WaitingForResponse:
		return "WAIT_FOR_RESPONSE"
	case Completed:
		return "COMPLETED"
	default:
		return fmt.Sprintf("EventState(%d)", int(e))
	}
}

// Locator is the geolocation adapter.
type Locator interface {
	Subscribe(handler func())
	Publish() error
	CheckDeadline() bool
	Failed() bool
	Err() error
	Location() geolocation.Location
}

// Authorizer is the OAuth2 device-flow manager.
type Authorizer interface {
	Loop()
	Authorized() bool
	Failed() bool
	Err() error
	AccessToken() string
	State() deviceauth.State
}

// EventFinder is the calendar adapter.
type EventFinder interface {
	Subscribe(handler func())
	Publish(tokens calendar.TokenSource) error
	CheckDeadline() bool
	Failed() bool
	Err() error
	EventPending() bool
	Event() calendar.Event
}

// Estimator is the distance matrix adapter.
type Estimator interface {
	Subscribe(handler func())
	Publish(trip distancematrix.Trip) error
	CheckDeadline() bool
	Failed() bool
	Err() error
	Result() distancematrix.Result
}

// Options configures an App.
type Options struct {
	// Geolocation disabled means FixedLocation is used for every cycle.
	GeolocationDisabled bool
	FixedLocation       geolocation.Location

	TravelMode  distancematrix.TravelMode
	TransitMode distancematrix.TransitMode
	Epsilon     time.Duration

	// Continuous starts the next cycle right after the verdict instead of
	// halting until Restart.
	Continuous bool

	Announcer announce.Announcer
	Now       func() time.Time
}

// App is the stage orchestrator.
type App struct {
	opts Options
	now  func() time.Time

	geo  Locator
	auth Authorizer
	cal  EventFinder
	dist Estimator

	stage Stage
	event EventState
	// halted is set after a cycle ends in non-continuous mode.
	halted bool

	cycles          int
	readyAnnounced  bool
	promptAnnounced bool

	location geolocation.Location
	next     calendar.Event
	result   decision.Result
	err      error
}

// New creates an App at the start of its first cycle and subscribes it to
// every adapter.
func New(geo Locator, auth Authorizer, cal EventFinder, dist Estimator, opts Options) *App {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Announcer == nil {
		opts.Announcer = announce.LogAnnouncer{}
	}
	a := &App{
		opts: opts,
		now:  opts.Now,
		geo:  geo,
		auth: auth,
		cal:  cal,
		dist: dist,
	}
	if !opts.GeolocationDisabled {
		geo.Subscribe(a.responseHandler(StageGeolocation))
	}
	cal.Subscribe(a.responseHandler(StageCalendar))
	dist.Subscribe(a.responseHandler(StageDistanceMatrix))
	return a
}

// responseHandler completes stage s once its adapter recorded an answer.
func (a *App) responseHandler(s Stage) func() {
	return func() {
		if a.stage == s && a.event == WaitingForResponse {
			a.event = Completed
		}
	}
}

// Tick advances the current stage by at most one step.
func (a *App) Tick(ctx context.Context) {
	if a.halted {
		return
	}

	switch a.stage {
	case StageGeolocation:
		if a.event == Publishing {
			a.beginCycle(ctx)
		}
		if a.opts.GeolocationDisabled {
			a.location = a.opts.FixedLocation
			a.changeStage(StageOAuth2)
			return
		}
		a.step(ctx, request{
			publish: a.geo.Publish,
			expire:  a.geo.CheckDeadline,
			failed:  a.geo.Failed,
			err:     a.geo.Err,
			done: func() {
				a.location = a.geo.Location()
				log.Printf("[app] Located at %s (±%dm)", a.location, a.location.Accuracy)
				a.changeStage(StageOAuth2)
			},
		})

	case StageOAuth2:
		if a.auth.Authorized() {
			if !a.readyAnnounced {
				a.readyAnnounced = true
				a.announce(ctx, announce.Announcement{Message: announce.Ready})
			}
			a.changeStage(StageCalendar)
			return
		}
		if a.auth.Failed() {
			a.fail(ctx, a.auth.Err())
			return
		}
		if a.auth.State() == deviceauth.RequestUserCode && !a.promptAnnounced {
			a.promptAnnounced = true
			a.announce(ctx, announce.Announcement{Message: announce.OpenTerminal})
		}
		a.auth.Loop()

	case StageCalendar:
		a.step(ctx, request{
			publish: func() error { return a.cal.Publish(a.auth) },
			expire:  a.cal.CheckDeadline,
			failed:  a.cal.Failed,
			err:     a.cal.Err,
			done: func() {
				if !a.cal.EventPending() {
					log.Printf("[app] No pending events")
					a.result = decision.Result{Verdict: decision.NoEvents}
					a.changeStage(StageAssistant)
					return
				}
				a.next = a.cal.Event()
				log.Printf("[app] Next event at %s in %q", a.next.Start, a.next.Location)
				a.announce(ctx, announce.Announcement{Message: announce.Estimating})
				a.changeStage(StageDistanceMatrix)
			},
		})

	case StageDistanceMatrix:
		a.step(ctx, request{
			publish: func() error {
				return a.dist.Publish(distancematrix.Trip{
					OriginLat:   a.location.Latitude,
					OriginLng:   a.location.Longitude,
					Destination: a.next.Location,
					Mode:        a.opts.TravelMode,
					Transit:     a.opts.TransitMode,
				})
			},
			expire: a.dist.CheckDeadline,
			failed: a.dist.Failed,
			err:    a.dist.Err,
			done: func() {
				r := a.dist.Result()
				log.Printf("[app] Travel time %s over %d miles", r.ETA(), r.Distance)
				a.changeStage(StageDataProcessing)
			},
		})

	case StageDataProcessing:
		start, err := a.next.StartTime()
		if err != nil {
			a.fail(ctx, fmt.Errorf("event start: %w", err))
			return
		}
		a.result = decision.Decide(a.now(), start, a.dist.Result().ETA(), a.opts.Epsilon)
		a.changeStage(StageAssistant)

	case StageAssistant:
		a.report(ctx)
		if a.opts.Continuous {
			a.changeStage(StageGeolocation)
			return
		}
		a.halted = true
		log.Printf("[app] Cycle %d done: %s", a.cycles, a.result)

	case StageFailed:
	}
}

// request is the publish, wait and complete cycle of one stage.
type request struct {
	publish func() error
	expire  func() bool
	failed  func() bool
	err     func() error
	done    func()
}

func (a *App) step(ctx context.Context, r request) {
	switch a.event {
	case Publishing:
		if err := r.publish(); err != nil {
			a.fail(ctx, err)
			return
		}
		a.event = WaitingForResponse
	case WaitingForResponse:
		r.expire()
	case Completed:
		if r.failed() {
			a.fail(ctx, r.err())
			return
		}
		r.done()
	}
}

func (a *App) beginCycle(ctx context.Context) {
	a.cycles++
	a.next = calendar.Event{}
	msg := announce.RequestReceived
	if a.cycles == 1 {
		msg = announce.Updating
	}
	log.Printf("[app] Cycle %d started", a.cycles)
	a.announce(ctx, announce.Announcement{Message: msg})
}

func (a *App) report(ctx context.Context) {
	a.announce(ctx, announce.ForResult(a.result))
}

func (a *App) announce(ctx context.Context, an announce.Announcement) {
	if err := a.opts.Announcer.Announce(ctx, an); err != nil {
		log.Printf("[app] Announce %s: %v", an.Message, err)
	}
}

func (a *App) changeStage(s Stage) {
	log.Printf("[app] %s -> %s", a.stage, s)
	a.stage = s
	a.event = Publishing
}

func (a *App) fail(ctx context.Context, err error) {
	if err == nil {
		err = errors.New("unknown failure")
	}
	a.err = fmt.Errorf("%s: %w", a.stage, err)
	log.Printf("[app] Failed: %v", a.err)
	a.changeStage(StageFailed)
	a.announce(ctx, announce.Announcement{Message: announce.AppFailed})
}

// Restart begins a new cycle after a halted one. It reports false while a
// cycle is running or the App has failed.
func (a *App) Restart() bool {
	if !a.halted || a.stage == StageFailed {
		return false
	}
	a.halted = false
	a.changeStage(StageGeolocation)
	return true
}

// Reset clears a failure and begins a new cycle.
func (a *App) Reset() {
	a.err = nil
	a.halted = false
	a.changeStage(StageGeolocation)
}

// Stage returns the pipeline cursor.
func (a *App) Stage() Stage { return a.stage }

// EventState returns the request cycle of the current stage.
func (a *App) EventState() EventState { return a.event }

// Done reports whether the last cycle finished and the App is halted.
func (a *App) Done() bool { return a.halted }

// Failed reports whether the App is in StageFailed.
func (a *App) Failed() bool { return a.stage == StageFailed }

// Err returns the failure that moved the App to StageFailed.
func (a *App) Err() error { return a.err }

// Result returns the verdict of the last completed cycle.
func (a *App) Result() decision.Result { return a.result }

// Cycles returns how many cycles have started.
func (a *App) Cycles() int { return a.cycles }
