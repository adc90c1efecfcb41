package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"

	"google.golang.org/api/googleapi"

	"github.com/rodruizronald/smart-calendar/internal/geolocation"
	"github.com/rodruizronald/smart-calendar/internal/relay"
)

const metersPerMile = 1609.344

type geolocateRequest struct {
	AccessPoints []geolocation.AccessPoint `json:"a"`
}

type wifiAccessPoint struct {
	MACAddress     string `json:"macAddress"`
	SignalStrength int    `json:"signalStrength,omitempty"`
	Channel        int    `json:"channel,omitempty"`
}

type geolocateResponse struct {
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

// Geolocate asks the Geolocation API where the scanned access points are
// and encodes "lat~lng~accuracy".
func (g *Google) Geolocate(ctx context.Context, data string) (string, error) {
	var req geolocateRequest
	if err := decodeRequest(data, &req); err != nil {
		return "", err
	}

	body := struct {
		ConsiderIP       bool              `json:"considerIp"`
		WifiAccessPoints []wifiAccessPoint `json:"wifiAccessPoints,omitempty"`
	}{}
	for _, ap := range req.AccessPoints {
		body.WifiAccessPoints = append(body.WifiAccessPoints, wifiAccessPoint{
			MACAddress:     ap.MAC,
			SignalStrength: ap.Signal,
			Channel:        ap.Channel,
		})
	}
	// Without access points the API can only locate the caller by IP.
	body.ConsiderIP = len(body.WifiAccessPoints) == 0
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode geolocate request: %w", err)
	}

	u := g.cfg.GeolocationURL + "?" + url.Values{"key": {g.cfg.APIKey}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create geolocate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var out geolocateResponse
	if err := g.doJSON(httpReq, &out); err != nil {
		return "", hookError(hostOf(g.cfg.GeolocationURL), err)
	}
	return fmt.Sprintf("%.6f~%.6f~%d", out.Location.Lat, out.Location.Lng, int(math.Round(out.Accuracy))), nil
}

type distanceRequest struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	CurrTime    string `json:"curr_time"`
	TransitMode string `json:"transit_mode"`
}

type distanceValue struct {
	Value int64  `json:"value"`
	Text  string `json:"text"`
}

type distanceResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status            string         `json:"status"`
			Distance          distanceValue  `json:"distance"`
			Duration          distanceValue  `json:"duration"`
			DurationInTraffic *distanceValue `json:"duration_in_traffic"`
		} `json:"elements"`
	} `json:"rows"`
}

// Distance asks the Distance Matrix API for one origin and destination and
// encodes "miles~seconds~element_status~top_status". API-level failures
// keep HTTP 200 and only show in the two statuses.
func (g *Google) Distance(ctx context.Context, data string) (string, error) {
	var req distanceRequest
	if err := decodeRequest(data, &req); err != nil {
		return "", err
	}

	q := url.Values{
		"origins":      {req.Origin},
		"destinations": {req.Destination},
		"units":        {"imperial"},
		"key":          {g.cfg.APIKey},
	}
	if req.TransitMode != "" {
		q.Set("mode", "transit")
		q.Set("transit_mode", req.TransitMode)
	} else {
		q.Set("mode", "driving")
		if req.CurrTime != "" {
			q.Set("departure_time", req.CurrTime)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.DistanceMatrixURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("create distance matrix request: %w", err)
	}

	var out distanceResponse
	if err := g.doJSON(httpReq, &out); err != nil {
		return "", hookError(hostOf(g.cfg.DistanceMatrixURL), err)
	}

	if out.Status != "OK" {
		return fmt.Sprintf("~~~%s", out.Status), nil
	}
	if len(out.Rows) == 0 || len(out.Rows[0].Elements) == 0 {
		return fmt.Sprintf("~~ZERO_RESULTS~%s", out.Status), nil
	}
	el := out.Rows[0].Elements[0]
	if el.Status != "OK" {
		return fmt.Sprintf("~~%s~%s", el.Status, out.Status), nil
	}

	seconds := el.Duration.Value
	if el.DurationInTraffic != nil {
		seconds = el.DurationInTraffic.Value
	}
	miles := int64(math.Round(float64(el.Distance.Value) / metersPerMile))
	return fmt.Sprintf("%d~%d~OK~OK", miles, seconds), nil
}

// doJSON sends req and decodes a 2xx JSON body into v. Other statuses
// become *googleapi.Error.
func (g *Google) doJSON(req *http.Request, v any) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &relay.HookError{Code: http.StatusBadGateway, Host: hostOf(req.URL.String()), Reason: "undecodable response"}
	}
	return nil
}
