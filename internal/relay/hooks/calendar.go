package hooks

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/rodruizronald/smart-calendar/internal/relay"
)

const calendarHost = "www.googleapis.com"

type eventRequest struct {
	CalendarID  string `json:"calendar_id"`
	AccessToken string `json:"access_token"`
	TimeMin     string `json:"time_min"`
	TimeMax     string `json:"time_max"`
}

// NextEvent lists the calendar between time_min and time_max and encodes
// the first timed event as "start~location", or "~" when there is none.
// All-day events are skipped.
func (g *Google) NextEvent(ctx context.Context, data string) (string, error) {
	var req eventRequest
	if err := decodeRequest(data, &req); err != nil {
		return "", err
	}
	if req.AccessToken == "" {
		return "", &relay.HookError{Code: http.StatusUnauthorized, Host: calendarHost, Reason: "missing access token"}
	}
	if req.CalendarID == "" {
		req.CalendarID = "primary"
	}

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: req.AccessToken, TokenType: "Bearer"})
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(g.contextClient(ctx), tokens))}
	if g.cfg.CalendarEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.cfg.CalendarEndpoint))
	}
	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("create calendar client: %w", err)
	}

	events, err := srv.Events.List(req.CalendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(req.TimeMin).
		TimeMax(req.TimeMax).
		OrderBy("startTime").
		MaxResults(10).
		Context(ctx).
		Do()
	if err != nil {
		return "", hookError(calendarHost, err)
	}

	for _, item := range events.Items {
		if item.Start == nil || item.Start.DateTime == "" {
			continue
		}
		return item.Start.DateTime + "~" + item.Location, nil
	}
	return "~", nil
}
