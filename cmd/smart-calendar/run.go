package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/rodruizronald/smart-calendar/internal/announce"
	"github.com/rodruizronald/smart-calendar/internal/app"
	"github.com/rodruizronald/smart-calendar/internal/calendar"
	"github.com/rodruizronald/smart-calendar/internal/config"
	"github.com/rodruizronald/smart-calendar/internal/deviceauth"
	"github.com/rodruizronald/smart-calendar/internal/distancematrix"
	"github.com/rodruizronald/smart-calendar/internal/geolocation"
	"github.com/rodruizronald/smart-calendar/internal/relay"
	"github.com/rodruizronald/smart-calendar/internal/relay/hooks"
	"github.com/rodruizronald/smart-calendar/internal/tokenstore"
)

// assistantChannel carries voice assistant triggers. Schedules inject on it
// too, so every trigger reaches the loop through Dispatch.
const assistantChannel = "assistant"

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the device loop",
	Long: `Run the device loop in the foreground.

The first cycle starts immediately. Later cycles start on a configured
schedule, on an assistant trigger, or when the process receives SIGHUP.
SIGINT and SIGTERM stop the loop.

Examples:
  smart-calendar run
  smart-calendar run --once
  smart-calendar run --config ./config.yaml`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Exit after the first cycle")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logFile, err := openLogFile(cfg.LogPath())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.Ldate | log.Ltime)

	deviceID, err := cfg.DeviceID()
	if err != nil {
		return err
	}
	log.Printf("[run] smart-calendar %s starting as device %s", Version, deviceID)
	log.Printf("[run] Log: %s", cfg.LogPath())

	r, err := newRunner(cfg, deviceID, runnerDeps{
		hooks: hooks.New(hooks.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			Scopes:       cfg.Google.Scopes,
			APIKey:       cfg.Google.APIKey,
		}),
		store:  tokenstore.NewFileStore(cfg.TokenPath()),
		prompt: os.Stdout,
	})
	if err != nil {
		return err
	}
	defer r.bus.Close()
	r.once = runOnce

	c := cron.New(cron.WithLocation(cfg.Location()))
	for _, cronExpr := range cfg.Schedules {
		cronExpr := cronExpr
		if _, err := c.AddFunc(cronExpr, func() { r.bus.Inject(r.assistantEvent(), "schedule "+cronExpr) }); err != nil {
			return fmt.Errorf("schedule %q: %w", cronExpr, err)
		}
		log.Printf("[run] Scheduled: %s", cronExpr)
	}
	c.Start()
	defer c.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	r.hup = hup

	err = r.Run(ctx)
	log.Println("[run] Stopped")
	return err
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

// registrar installs the relay hooks.
type registrar interface {
	Register(r hooks.Registrar)
}

type runnerDeps struct {
	hooks  registrar
	store  tokenstore.Store
	prompt io.Writer
	now    func() time.Time
}

// runner owns the relay and the App and drives them from one goroutine.
type runner struct {
	deviceID string
	tick     time.Duration
	once     bool
	hup      <-chan os.Signal

	bus  *relay.Bus
	auth *deviceauth.Manager
	app  *app.App
}

func newRunner(cfg *config.Config, deviceID string, deps runnerDeps) (*runner, error) {
	timeout := cfg.Relay.ResponseTimeout
	bus := relay.NewBus(relay.Options{
		DeviceID:     deviceID,
		PublishRate:  cfg.Relay.PublishRate,
		PublishBurst: cfg.Relay.PublishBurst,
		HookTimeout:  timeout,
	})
	deps.hooks.Register(bus)

	prompt := deps.prompt
	if prompt == nil {
		prompt = io.Discard
	}
	auth, err := deviceauth.New(bus, deviceauth.Options{
		DeviceID:     deviceID,
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		Scopes:       cfg.Google.Scopes,
		Store:        deps.store,
		Timeout:      timeout,
		Now:          deps.now,
		OnUserCode: func(c deviceauth.UserCode) {
			log.Printf("[run] Enter code %s at %s", c.UserCode, c.VerificationURL)
			printUserCode(prompt, c)
		},
	})
	if err != nil {
		bus.Close()
		return nil, err
	}

	geo := geolocation.New(bus, geolocation.Options{
		DeviceID:    deviceID,
		Scanner:     geolocation.StaticScanner(cfg.Geolocation.AccessPoints),
		MinAccuracy: cfg.Geolocation.MinAccuracy,
		Timeout:     timeout,
		Now:         deps.now,
	})
	cal := calendar.New(bus, calendar.Options{
		DeviceID:   deviceID,
		CalendarID: cfg.Google.CalendarID,
		Lookahead:  cfg.Lookahead,
		Timeout:    timeout,
		Now:        deps.now,
	})
	dist := distancematrix.New(bus, distancematrix.Options{
		DeviceID: deviceID,
		Timeout:  timeout,
		Now:      deps.now,
	})

	var announcer announce.Announcer = announce.LogAnnouncer{}
	if len(cfg.Announce.Command) > 0 {
		announcer = announce.Multi{
			announcer,
			announce.CommandAnnouncer{Argv: cfg.Announce.Command, Timeout: timeout},
		}
	}

	mode, transit := cfg.TravelModes()
	r := &runner{
		deviceID: deviceID,
		tick:     cfg.Loop.Tick,
		bus:      bus,
		auth:     auth,
		app: app.New(geo, auth, cal, dist, app.Options{
			GeolocationDisabled: !cfg.Geolocation.Enabled,
			FixedLocation: geolocation.Location{
				Latitude:  cfg.Geolocation.Latitude,
				Longitude: cfg.Geolocation.Longitude,
			},
			TravelMode:  mode,
			TransitMode: transit,
			Epsilon:     cfg.Decision.Epsilon,
			Continuous:  cfg.Loop.Continuous,
			Announcer:   announcer,
			Now:         deps.now,
		}),
	}
	bus.Subscribe(r.assistantEvent(), func(event, data string) {
		r.trigger(data)
	})
	return r, nil
}

func (r *runner) assistantEvent() string {
	return r.deviceID + "/" + assistantChannel
}

// Run ticks the App until ctx is done. With once set it returns after the
// first cycle ends, with the App's error if it failed.
func (r *runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		r.bus.Dispatch()
		r.app.Tick(ctx)
		if r.once && (r.app.Done() || r.app.Failed()) {
			return r.app.Err()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-r.hup:
			r.trigger("SIGHUP")
		case <-r.bus.Ready():
		case <-ticker.C:
		}
	}
}

// trigger starts a new cycle. A failed App is recovered; the authorization
// manager keeps its refresh token.
func (r *runner) trigger(source string) {
	if source == "" {
		source = assistantChannel
	}
	if r.app.Failed() {
		if r.auth.Failed() {
			r.auth.Retry()
		}
		log.Printf("[run] %s: recovering from failure", source)
		r.app.Reset()
		return
	}
	if !r.app.Restart() {
		log.Printf("[run] %s: cycle already running, ignored", source)
		return
	}
	log.Printf("[run] %s: new cycle", source)
}
