package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/rodruizronald/smart-calendar/internal/relay"
)

type userCodeRequest struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
}

// UserCode requests a device code and encodes
// "device_code~user_code~verification_url~expires_in~interval".
func (g *Google) UserCode(ctx context.Context, data string) (string, error) {
	var req userCodeRequest
	if err := decodeRequest(data, &req); err != nil {
		return "", err
	}

	cfg := *g.oauth
	if req.ClientID != "" {
		cfg.ClientID = req.ClientID
	}
	if req.Scope != "" {
		cfg.Scopes = strings.Fields(req.Scope)
	}

	da, err := cfg.DeviceAuth(g.contextClient(ctx))
	if err != nil {
		return "", hookError(hostOf(cfg.Endpoint.DeviceAuthURL), err)
	}

	var expiresIn int64
	if !da.Expiry.IsZero() {
		expiresIn = int64(time.Until(da.Expiry).Round(time.Second) / time.Second)
	}
	return fmt.Sprintf("%s~%s~%s~%d~%d",
		da.DeviceCode, da.UserCode, da.VerificationURI, expiresIn, da.Interval), nil
}

type pollRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	DeviceCode   string `json:"device_code"`
	GrantType    string `json:"grant_type"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Error        string `json:"error"`
}

// PollAuth makes a single device code exchange and encodes
// "access_token~expires_in~refresh_token". Pending, slow_down and denied
// answers come back as errors whose reason is the OAuth error code.
func (g *Google) PollAuth(ctx context.Context, data string) (string, error) {
	var req pollRequest
	if err := decodeRequest(data, &req); err != nil {
		return "", err
	}
	if req.ClientID == "" {
		req.ClientID = g.cfg.ClientID
	}
	if req.ClientSecret == "" {
		req.ClientSecret = g.cfg.ClientSecret
	}
	if req.GrantType == "" {
		req.GrantType = "urn:ietf:params:oauth:grant-type:device_code"
	}

	params := url.Values{
		"client_id":     {req.ClientID},
		"client_secret": {req.ClientSecret},
		"device_code":   {req.DeviceCode},
		"grant_type":    {req.GrantType},
	}
	tokenURL := g.cfg.Endpoint.TokenURL
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return "", fmt.Errorf("create poll request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("poll request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read poll response: %w", err)
	}

	var tok tokenResponse
	_ = json.Unmarshal(body, &tok)
	if resp.StatusCode != http.StatusOK {
		return "", &relay.HookError{Code: resp.StatusCode, Host: hostOf(tokenURL), Reason: tok.Error}
	}
	if tok.AccessToken == "" {
		return "", &relay.HookError{Code: http.StatusBadGateway, Host: hostOf(tokenURL), Reason: "token response without access_token"}
	}
	return fmt.Sprintf("%s~%d~%s", tok.AccessToken, tok.ExpiresIn, tok.RefreshToken), nil
}

type refreshRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token and encodes
// "access_token~expires_in~refresh_token".
func (g *Google) Refresh(ctx context.Context, data string) (string, error) {
	var req refreshRequest
	if err := decodeRequest(data, &req); err != nil {
		return "", err
	}
	if req.RefreshToken == "" {
		return "", &relay.HookError{Code: http.StatusBadRequest, Host: relay.Host, Reason: "missing refresh_token"}
	}

	cfg := *g.oauth
	if req.ClientID != "" {
		cfg.ClientID = req.ClientID
	}
	if req.ClientSecret != "" {
		cfg.ClientSecret = req.ClientSecret
	}

	tok, err := cfg.TokenSource(g.contextClient(ctx), &oauth2.Token{RefreshToken: req.RefreshToken}).Token()
	if err != nil {
		return "", hookError(hostOf(cfg.Endpoint.TokenURL), err)
	}
	return fmt.Sprintf("%s~%d~%s", tok.AccessToken, expiresIn(tok), tok.RefreshToken), nil
}

// expiresIn prefers the server's expires_in over the computed expiry.
func expiresIn(tok *oauth2.Token) int64 {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	}
	if tok.Expiry.IsZero() {
		return 0
	}
	return int64(time.Until(tok.Expiry).Round(time.Second) / time.Second)
}
