// Package hooks performs the Google API calls behind each relay channel and
// encodes the answers the way the device adapters expect them: '~'
// delimited on success, an HTTP status plus reason on failure.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"

	"github.com/rodruizronald/smart-calendar/internal/calendar"
	"github.com/rodruizronald/smart-calendar/internal/deviceauth"
	"github.com/rodruizronald/smart-calendar/internal/distancematrix"
	"github.com/rodruizronald/smart-calendar/internal/geolocation"
	"github.com/rodruizronald/smart-calendar/internal/relay"
)

const (
	DefaultGeolocationURL    = "https://www.googleapis.com/geolocation/v1/geolocate"
	DefaultDistanceMatrixURL = "https://maps.googleapis.com/maps/api/distancematrix/json"
)

// CalendarReadonlyScope is the only scope the device needs.
const CalendarReadonlyScope = "https://www.googleapis.com/auth/calendar.readonly"

// Config holds credentials and endpoints. Zero endpoints mean Google's.
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	// APIKey authorizes the Geolocation and Distance Matrix APIs.
	APIKey string

	Endpoint          oauth2.Endpoint
	GeolocationURL    string
	DistanceMatrixURL string
	// CalendarEndpoint overrides the Calendar API base path.
	CalendarEndpoint string

	HTTPClient *http.Client
}

// Google implements every relay hook.
type Google struct {
	cfg    Config
	client *http.Client
	oauth  *oauth2.Config
}

// New creates the hooks.
func New(cfg Config) *Google {
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = google.Endpoint
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{CalendarReadonlyScope}
	}
	if cfg.GeolocationURL == "" {
		cfg.GeolocationURL = DefaultGeolocationURL
	}
	if cfg.DistanceMatrixURL == "" {
		cfg.DistanceMatrixURL = DefaultDistanceMatrixURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Google{
		cfg:    cfg,
		client: client,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint:     cfg.Endpoint,
		},
	}
}

// Registrar is the part of the relay hooks are installed on.
type Registrar interface {
	Register(name string, hook relay.Hook)
}

// Register installs every hook under its channel name.
func (g *Google) Register(r Registrar) {
	r.Register(geolocation.Channel, relay.HookFunc(g.Geolocate))
	r.Register(calendar.Channel, relay.HookFunc(g.NextEvent))
	r.Register(distancematrix.ChannelDriving, relay.HookFunc(g.Distance))
	r.Register(distancematrix.ChannelTransit, relay.HookFunc(g.Distance))
	r.Register(deviceauth.ChannelUserCode, relay.HookFunc(g.UserCode))
	r.Register(deviceauth.ChannelPoll, relay.HookFunc(g.PollAuth))
	r.Register(deviceauth.ChannelRefresh, relay.HookFunc(g.Refresh))
	log.Printf("[relay][hooks] Registered Google hooks")
}

// decodeRequest parses a device request; a malformed one is the device's
// fault and answered with 400.
func decodeRequest(data string, v any) error {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return &relay.HookError{Code: http.StatusBadRequest, Host: relay.Host, Reason: "malformed request"}
	}
	return nil
}

// contextClient makes oauth2 use the hooks' HTTP client.
func (g *Google) contextClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.client)
}

// hookError turns Google client errors into relay errors carrying the HTTP
// status. Anything else is returned unchanged.
func hookError(host string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		reason := re.ErrorCode
		if reason == "" {
			reason = oauthErrorCode(re.Body)
		}
		return &relay.HookError{Code: re.Response.StatusCode, Host: host, Reason: reason}
	}

	var ge *googleapi.Error
	if errors.As(err, &ge) {
		reason := ge.Message
		if len(ge.Errors) > 0 && ge.Errors[0].Reason != "" {
			reason = ge.Errors[0].Reason
		}
		return &relay.HookError{Code: ge.Code, Host: host, Reason: reason}
	}
	return err
}

func oauthErrorCode(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	return e.Error
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
