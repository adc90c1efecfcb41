// Package config provides configuration management for smart-calendar.
// Configuration is loaded from ~/.config/smart-calendar/config.yaml with sensible defaults.
// Secrets may also come from a .env file next to the config, or from the environment.
// Relative paths are resolved from the executable's directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/rodruizronald/smart-calendar/internal/distancematrix"
	"github.com/rodruizronald/smart-calendar/internal/geolocation"
)

var (
	// executableDir caches the executable's directory
	executableDir     string
	executableDirOnce sync.Once
)

// Environment variables that override secrets from the file.
const (
	EnvClientID     = "SMARTCAL_CLIENT_ID"
	EnvClientSecret = "SMARTCAL_CLIENT_SECRET"
	EnvAPIKey       = "SMARTCAL_API_KEY"
)

const (
	// DefaultConfigDir holds the config file, credentials and runtime files.
	DefaultConfigDir = "~/.config/smart-calendar"

	// DefaultConfigPath is the default location for the config file.
	DefaultConfigPath = DefaultConfigDir + "/config.yaml"

	// DefaultCredentialsDir is the default location for the persisted token.
	DefaultCredentialsDir = DefaultConfigDir + "/credentials"

	// DefaultRuntimeDir is the default location for logs and the device id.
	DefaultRuntimeDir = DefaultConfigDir + "/runtime"

	deviceIDFile = "device-id"
)

// Config holds the smart-calendar configuration.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Google      GoogleConfig      `yaml:"google"`
	TimeZone    string            `yaml:"time_zone"`
	Lookahead   time.Duration     `yaml:"lookahead"`
	Geolocation GeolocationConfig `yaml:"geolocation"`
	Travel      TravelConfig      `yaml:"travel"`
	Decision    DecisionConfig    `yaml:"decision"`
	Relay       RelayConfig       `yaml:"relay"`
	Loop        LoopConfig        `yaml:"loop"`
	// Schedules are standard 5-field cron expressions that start a cycle.
	Schedules []string       `yaml:"schedules"`
	Announce  AnnounceConfig `yaml:"announce"`
	Paths     PathsConfig    `yaml:"paths"`
}

// DeviceConfig identifies the device on the relay.
type DeviceConfig struct {
	ID string `yaml:"id"`
}

// GoogleConfig holds the OAuth2 client and API credentials.
type GoogleConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	CalendarID   string   `yaml:"calendar_id"`
	APIKey       string   `yaml:"api_key"`
	Scopes       []string `yaml:"scopes"`
}

// GeolocationConfig controls how the device is located.
type GeolocationConfig struct {
	Enabled      bool                      `yaml:"enabled"`
	MinAccuracy  uint16                    `yaml:"min_accuracy"`
	Latitude     float64                   `yaml:"latitude"`
	Longitude    float64                   `yaml:"longitude"`
	AccessPoints []geolocation.AccessPoint `yaml:"access_points"`
}

// TravelConfig selects how travel time is estimated.
type TravelConfig struct {
	Mode        string `yaml:"mode"`
	TransitMode string `yaml:"transit_mode"`
}

// DecisionConfig tunes the departure decision.
type DecisionConfig struct {
	Epsilon time.Duration `yaml:"epsilon"`
}

// RelayConfig tunes the webhook relay.
type RelayConfig struct {
	// ResponseTimeout bounds every webhook call. Zero waits forever.
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	PublishRate     float64       `yaml:"publish_rate"`
	PublishBurst    int           `yaml:"publish_burst"`
}

// LoopConfig tunes the cooperative main loop.
type LoopConfig struct {
	Tick       time.Duration `yaml:"tick"`
	Continuous bool          `yaml:"continuous"`
}

// AnnounceConfig selects the speech command, if any.
type AnnounceConfig struct {
	Command []string `yaml:"command"`
}

// PathsConfig holds where files are kept.
type PathsConfig struct {
	Credentials string `yaml:"credentials"`
	Runtime     string `yaml:"runtime"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Google: GoogleConfig{
			CalendarID: "primary",
			Scopes:     []string{"https://www.googleapis.com/auth/calendar.readonly"},
		},
		TimeZone:  "Local",
		Lookahead: 3 * time.Hour,
		Geolocation: GeolocationConfig{
			Enabled:     true,
			MinAccuracy: geolocation.DefaultMinAccuracy,
		},
		Travel: TravelConfig{Mode: "driving", TransitMode: "bus"},
		Relay: RelayConfig{
			ResponseTimeout: 30 * time.Second,
			PublishRate:     1,
			PublishBurst:    4,
		},
		Loop: LoopConfig{Tick: 250 * time.Millisecond},
		Paths: PathsConfig{
			Credentials: DefaultCredentialsDir,
			Runtime:     DefaultRuntimeDir,
		},
	}
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configErr    error
)

// Load loads the configuration from the default path.
// It returns the cached config on subsequent calls.
func Load() (*Config, error) {
	configOnce.Do(func() {
		globalConfig, configErr = LoadFromPath(DefaultConfigPath)
	})
	return globalConfig, configErr
}

// LoadFromPath loads configuration from a specific file path. A missing file
// yields the defaults. A .env file in the same directory is loaded first.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	expandedPath := expandHome(path)
	envPath := filepath.Join(filepath.Dir(expandedPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envPath, err)
	}

	data, err := os.ReadFile(expandedPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", expandedPath, err)
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", expandedPath, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvClientID); v != "" {
		c.Google.ClientID = v
	}
	if v := os.Getenv(EnvClientSecret); v != "" {
		c.Google.ClientSecret = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Google.APIKey = v
	}
}

// fillDefaults restores defaults the file blanked out.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = d.Google.CalendarID
	}
	if len(c.Google.Scopes) == 0 {
		c.Google.Scopes = d.Google.Scopes
	}
	if c.TimeZone == "" {
		c.TimeZone = d.TimeZone
	}
	if c.Lookahead == 0 {
		c.Lookahead = d.Lookahead
	}
	if c.Geolocation.MinAccuracy == 0 {
		c.Geolocation.MinAccuracy = d.Geolocation.MinAccuracy
	}
	if c.Loop.Tick == 0 {
		c.Loop.Tick = d.Loop.Tick
	}
	if c.Paths.Credentials == "" {
		c.Paths.Credentials = d.Paths.Credentials
	}
	if c.Paths.Runtime == "" {
		c.Paths.Runtime = d.Paths.Runtime
	}
}

// Validate rejects values the rest of the program cannot use.
func (c *Config) Validate() error {
	var errs []error
	if _, err := distancematrix.ParseTravelMode(c.Travel.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := distancematrix.ParseTransitMode(c.Travel.TransitMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("time_zone: %w", err))
	}
	for name, d := range map[string]time.Duration{
		"lookahead":              c.Lookahead,
		"decision.epsilon":       c.Decision.Epsilon,
		"relay.response_timeout": c.Relay.ResponseTimeout,
		"loop.tick":              c.Loop.Tick,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.Relay.PublishRate < 0 {
		errs = append(errs, errors.New("relay.publish_rate must not be negative"))
	}
	for _, cronExpr := range c.Schedules {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", cronExpr, err))
		}
	}
	return errors.Join(errs...)
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// TravelModes returns the parsed travel and transit modes.
func (c *Config) TravelModes() (distancematrix.TravelMode, distancematrix.TransitMode) {
	mode, _ := distancematrix.ParseTravelMode(c.Travel.Mode)
	transit, _ := distancematrix.ParseTransitMode(c.Travel.TransitMode)
	return mode, transit
}

// CredentialsDir returns the expanded credentials directory.
func (c *Config) CredentialsDir() string {
	return expandPath(c.Paths.Credentials)
}

// RuntimeDir returns the expanded runtime directory.
func (c *Config) RuntimeDir() string {
	return expandPath(c.Paths.Runtime)
}

// TokenPath returns where the refresh token is persisted.
func (c *Config) TokenPath() string {
	return filepath.Join(c.CredentialsDir(), "token.json")
}

// LogPath returns the log file of the run command.
func (c *Config) LogPath() string {
	return filepath.Join(c.RuntimeDir(), "smart-calendar.log")
}

// DeviceID returns the configured device id. Without one, a random id is
// generated on first use and kept in the runtime directory.
func (c *Config) DeviceID() (string, error) {
	if c.Device.ID != "" {
		return c.Device.ID, nil
	}

	path := filepath.Join(c.RuntimeDir(), deviceIDFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create runtime dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	return id, nil
}

// GetExecutableDir returns the directory containing the smart-calendar executable.
// The result is cached after the first call.
func GetExecutableDir() string {
	executableDirOnce.Do(func() {
		execPath, err := os.Executable()
		if err != nil {
			// Fall back to current working directory
			executableDir, _ = os.Getwd()
			return
		}
		// Resolve symlinks to get the real executable location
		execPath, err = filepath.EvalSymlinks(execPath)
		if err != nil {
			executableDir, _ = os.Getwd()
			return
		}
		executableDir = filepath.Dir(execPath)
	})
	return executableDir
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPath expands ~ to home directory and resolves relative paths.
// Relative paths are resolved from the executable's directory, not the cwd.
func expandPath(path string) string {
	path = expandHome(path)
	if !filepath.IsAbs(path) {
		return filepath.Join(GetExecutableDir(), path)
	}
	return path
}

// ResetForTesting resets the global config state. Only use in tests.
func ResetForTesting() {
	configOnce = sync.Once{}
	globalConfig = nil
	configErr = nil
	executableDirOnce = sync.Once{}
	executableDir = ""
}

// SetExecutableDirForTesting allows tests to override the executable directory.
func SetExecutableDirForTesting(dir string) {
	executableDirOnce.Do(func() {
		executableDir = dir
	})
}
