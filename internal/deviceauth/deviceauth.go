// Package deviceauth implements the OAuth2 device authorization grant for
// input-constrained devices on top of the relay's webhooks.
//
// The Manager is a cooperative state machine: Loop performs at most one
// transition or timed action per call and never blocks on the network.
// Responses arrive through the relay and move the machine out of
// WaitForResponse. Only the refresh token is persisted; access tokens are
// memory-only and re-derived after every restart.
package deviceauth

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/rodruizronald/smart-calendar/internal/fields"
	"github.com/rodruizronald/smart-calendar/internal/tokenstore"
	"github.com/rodruizronald/smart-calendar/internal/webhook"
)

// Relay channels of the three protocol steps.
const (
	ChannelUserCode = "oauth_usr_code"
	ChannelPoll     = "oauth_poll_auth"
	ChannelRefresh  = "oauth_ref_token"
)

const (
	// DefaultPollInterval applies when the server does not send one.
	DefaultPollInterval = 5 * time.Second
	// SlowDownIncrement is added to the poll interval on every slow_down.
	SlowDownIncrement = 5 * time.Second
	// DefaultTokenLifetime applies when a grant carries no expires_in.
	DefaultTokenLifetime = time.Hour

	deviceCodeGrant = "urn:ietf:params:oauth:grant-type:device_code"
)

// ErrCodeExpired is recorded when the user never approved the device code.
var ErrCodeExpired = errors.New("deviceauth: device code expired before authorization")

// State is a step of the device flow.
type State int

const (
	RequestUserCode State = iota
	PollingAuth
	RefreshToken
	Authorized
	WaitForResponse
	Failed
)

var stateNames = [...]string{
	RequestUserCode: "REQ_USER_CODE",
	PollingAuth:     "POLLING_AUTH",
	RefreshToken:    "REFRESH_TOKEN",
	Authorized:      "AUTHORIZED",
	WaitForResponse: "WAIT_FOR_RESPONSE",
	Failed:          "FAILED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// UserCode is the authorization server's answer to a device code request.
type UserCode struct {
	DeviceCode      string
	UserCode        string
	VerificationURL string
	ExpiresIn       time.Duration
	Interval        time.Duration
}

// Grant is an issued access token, plus a refresh token when the server
// rotated or first issued one.
type Grant struct {
	AccessToken  string
	Lifetime     time.Duration
	RefreshToken string
}

// Options configures a Manager.
type Options struct {
	DeviceID     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Store        tokenstore.Store
	// Timeout bounds every request. A timed out poll is retried on the
	// next interval; a timed out user code or refresh request fails.
	Timeout time.Duration
	Now     func() time.Time
	// OnUserCode shows the user code and verification URL to the user.
	OnUserCode func(UserCode)
}

// Manager owns the device flow and the token lifecycle.
type Manager struct {
	opts  Options
	now   func() time.Time
	store tokenstore.Store

	userCode *webhook.Client[UserCode]
	poll     *webhook.Client[Grant]
	refresh  *webhook.Client[Grant]

	state     State
	lastState State

	code         UserCode
	codeIssuedAt time.Time
	interval     time.Duration
	nextPoll     time.Time

	accessToken  string
	refreshToken string
	issuedAt     time.Time
	lifetime     time.Duration

	err error
}

// New creates a manager and subscribes it to the relay. A persisted refresh
// token starts the manager in Authorized with an already expired access
// token, so the first Loop refreshes instead of asking the user again.
func New(relay webhook.Relay, opts Options) (*Manager, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Store == nil {
		opts.Store = tokenstore.NewMemoryStore(nil)
	}
	m := &Manager{
		opts:  opts,
		now:   opts.Now,
		store: opts.Store,
		state: RequestUserCode,
	}

	m.userCode = webhook.New(relay, webhook.Config[UserCode]{
		Name:     ChannelUserCode,
		Channels: []string{ChannelUserCode},
		DeviceID: opts.DeviceID,
		Decode:   decodeUserCode,
		Messages: map[int]string{
			http.StatusBadRequest:   "Invalid client id or scope.",
			http.StatusUnauthorized: "Invalid client credentials.",
			http.StatusForbidden:    "Client is not allowed to use the device flow.",
		},
		Timeout: opts.Timeout,
		Now:     opts.Now,
	})
	m.poll = webhook.New(relay, webhook.Config[Grant]{
		Name:     ChannelPoll,
		Channels: []string{ChannelPoll},
		DeviceID: opts.DeviceID,
		Decode:   decodePollGrant,
		Messages: map[int]string{
			http.StatusBadRequest:           "Invalid or expired device code.",
			http.StatusUnauthorized:         "Invalid client credentials.",
			http.StatusForbidden:            "Access denied by the user.",
			http.StatusPreconditionRequired: "Authorization pending.",
		},
		Timeout: opts.Timeout,
		Now:     opts.Now,
	})
	m.refresh = webhook.New(relay, webhook.Config[Grant]{
		Name:     ChannelRefresh,
		Channels: []string{ChannelRefresh},
		DeviceID: opts.DeviceID,
		Decode:   decodeGrant,
		Messages: map[int]string{
			http.StatusBadRequest:   "Refresh token is invalid or revoked.",
			http.StatusUnauthorized: "Invalid client credentials.",
		},
		Timeout: opts.Timeout,
		Now:     opts.Now,
	})

	m.userCode.Subscribe(m.onUserCode)
	m.poll.Subscribe(m.onPoll)
	m.refresh.Subscribe(m.onRefresh)

	tok, err := m.store.Read()
	if err != nil {
		return nil, fmt.Errorf("deviceauth: read persisted token: %w", err)
	}
	if tok != nil {
		m.refreshToken = tok.RefreshToken
		m.state = Authorized
		log.Printf("[oauth2] Persisted refresh token found, skipping device code")
	}
	return m, nil
}

// Loop advances the flow by at most one step.
func (m *Manager) Loop() {
	switch m.state {
	case RequestUserCode:
		m.publish(m.userCode, webhook.Request{
			"client_id": m.opts.ClientID,
			"scope":     strings.Join(m.opts.Scopes, " "),
		})

	case PollingAuth:
		now := m.now()
		if m.code.ExpiresIn > 0 && !now.Before(m.codeIssuedAt.Add(m.code.ExpiresIn)) {
			m.fail(ErrCodeExpired)
			return
		}
		if now.Before(m.nextPoll) {
			return
		}
		m.publish(m.poll, webhook.Request{
			"client_id":     m.opts.ClientID,
			"client_secret": m.opts.ClientSecret,
			"device_code":   m.code.DeviceCode,
			"grant_type":    deviceCodeGrant,
		})

	case RefreshToken:
		m.publish(m.refresh, webhook.Request{
			"client_id":     m.opts.ClientID,
			"client_secret": m.opts.ClientSecret,
			"refresh_token": m.refreshToken,
			"grant_type":    "refresh_token",
		})

	case Authorized:
		if !m.tokenValid() {
			m.changeState(RefreshToken)
		}

	case WaitForResponse:
		m.userCode.CheckDeadline()
		m.poll.CheckDeadline()
		m.refresh.CheckDeadline()

	case Failed:
	}
}

type publisher interface {
	Publish(channel string, req webhook.Request) error
}

func (m *Manager) publish(c publisher, req webhook.Request) {
	if err := c.Publish("", req); err != nil {
		m.fail(err)
		return
	}
	m.lastState = m.state
	m.changeState(WaitForResponse)
}

func (m *Manager) onUserCode() {
	if m.userCode.Failed() {
		m.fail(m.userCode.Err())
		return
	}

	m.code = m.userCode.Result()
	m.codeIssuedAt = m.now()
	m.interval = m.code.Interval
	if m.interval <= 0 {
		m.interval = DefaultPollInterval
	}
	m.nextPoll = m.codeIssuedAt.Add(m.interval)
	if m.opts.OnUserCode != nil {
		m.opts.OnUserCode(m.code)
	}
	m.changeState(PollingAuth)
}

func (m *Manager) onPoll() {
	if m.poll.Failed() {
		err := m.poll.Err()
		var se *webhook.StatusError
		if !errors.As(err, &se) {
			m.fail(err)
			return
		}
		switch {
		case se.Code == http.StatusPreconditionRequired || strings.Contains(se.Detail, "authorization_pending"):
		case strings.Contains(se.Detail, "slow_down"):
			m.interval += SlowDownIncrement
			log.Printf("[oauth2] Server asked to slow down, polling every %s", m.interval)
		case se.Code == http.StatusGatewayTimeout:
			log.Printf("[oauth2] Poll timed out, retrying")
		default:
			m.fail(err)
			return
		}
		m.nextPoll = m.now().Add(m.interval)
		m.changeState(PollingAuth)
		return
	}

	g := m.poll.Result()
	m.accept(g)
	m.refreshToken = g.RefreshToken
	m.persist()
	m.changeState(Authorized)
}

func (m *Manager) onRefresh() {
	if m.refresh.Failed() {
		err := m.refresh.Err()
		var se *webhook.StatusError
		if errors.As(err, &se) && revoked(se.Code) {
			log.Printf("[oauth2] Refresh token rejected (%d), re-authorizing", se.Code)
			m.err = err
			m.refreshToken = ""
			if eraseErr := m.store.Erase(); eraseErr != nil {
				log.Printf("[oauth2] %v", eraseErr)
			}
			m.changeState(RequestUserCode)
			return
		}
		m.fail(err)
		return
	}

	g := m.refresh.Result()
	m.accept(g)
	if g.RefreshToken != "" && g.RefreshToken != m.refreshToken {
		m.refreshToken = g.RefreshToken
		m.persist()
	}
	m.changeState(Authorized)
}

func revoked(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

func (m *Manager) accept(g Grant) {
	m.accessToken = g.AccessToken
	m.lifetime = g.Lifetime
	m.issuedAt = m.now()
	m.err = nil
	log.Printf("[oauth2] Access token valid until %s", m.Expiry().Format(time.RFC3339))
}

func (m *Manager) persist() {
	err := m.store.Write(tokenstore.Token{RefreshToken: m.refreshToken, SavedAt: m.now()})
	if err != nil {
		log.Printf("[oauth2] Refresh token not persisted: %v", err)
	}
}

func (m *Manager) tokenValid() bool {
	return m.accessToken != "" && m.now().Sub(m.issuedAt) < m.lifetime
}

func (m *Manager) fail(err error) {
	m.err = err
	log.Printf("[oauth2] Failed in %s: %v", m.stateForLog(), err)
	m.changeState(Failed)
}

func (m *Manager) stateForLog() State {
	if m.state == WaitForResponse {
		return m.lastState
	}
	return m.state
}

func (m *Manager) changeState(s State) {
	if s == m.state {
		return
	}
	log.Printf("[oauth2] %s -> %s", m.state, s)
	m.state = s
}

// Reset discards every credential, including the persisted refresh token,
// and restarts the flow from the device code request.
func (m *Manager) Reset() error {
	m.userCode.Cancel()
	m.poll.Cancel()
	m.refresh.Cancel()
	m.code = UserCode{}
	m.accessToken = ""
	m.refreshToken = ""
	m.lifetime = 0
	m.err = nil
	m.changeState(RequestUserCode)
	return m.store.Erase()
}

// Retry leaves Failed without discarding credentials. A kept refresh token
// is refreshed; otherwise the device flow starts over.
func (m *Manager) Retry() {
	if m.state != Failed {
		return
	}
	m.err = nil
	if m.refreshToken != "" {
		m.changeState(RefreshToken)
		return
	}
	m.changeState(RequestUserCode)
}

// State returns the current step.
func (m *Manager) State() State { return m.state }

// LastState returns the step a WaitForResponse will resume from.
func (m *Manager) LastState() State { return m.lastState }

// Authorized reports whether a valid access token is held.
func (m *Manager) Authorized() bool {
	return m.state == Authorized && m.tokenValid()
}

// AccessToken returns the current access token. It is empty until the
// first grant.
func (m *Manager) AccessToken() string { return m.accessToken }

// Expiry returns when the current access token stops being valid.
func (m *Manager) Expiry() time.Time { return m.issuedAt.Add(m.lifetime) }

// HasRefreshToken reports whether a durable credential is held.
func (m *Manager) HasRefreshToken() bool { return m.refreshToken != "" }

// PendingUserCode returns the code the user must enter while polling.
func (m *Manager) PendingUserCode() (UserCode, bool) {
	polling := m.state == PollingAuth || (m.state == WaitForResponse && m.lastState == PollingAuth)
	if !polling || m.code.UserCode == "" {
		return UserCode{}, false
	}
	return m.code, true
}

// Failed reports whether the flow stopped. Retry and Reset leave Failed.
func (m *Manager) Failed() bool { return m.state == Failed }

// Err returns the last failure. A revoked refresh token is reported here
// without entering Failed.
func (m *Manager) Err() error { return m.err }

// decodeUserCode parses "device_code~user_code~verification_url~expires_in~interval".
func decodeUserCode(data string) (UserCode, error) {
	f := fields.Parse(data)
	device, _ := f.String(0)
	user, _ := f.String(1)
	url, _ := f.String(2)
	if device == "" || user == "" || url == "" {
		return UserCode{}, fmt.Errorf("deviceauth: incomplete user code response")
	}
	expires, err := f.Uint(3, 32)
	if err != nil {
		return UserCode{}, fmt.Errorf("deviceauth: expires_in: %w", err)
	}
	var interval uint64
	if s, _ := f.String(4); s != "" {
		if interval, err = f.Uint(4, 16); err != nil {
			return UserCode{}, fmt.Errorf("deviceauth: interval: %w", err)
		}
	}
	return UserCode{
		DeviceCode:      device,
		UserCode:        user,
		VerificationURL: url,
		ExpiresIn:       time.Duration(expires) * time.Second,
		Interval:        time.Duration(interval) * time.Second,
	}, nil
}

// decodeGrant parses "access_token~expires_in[~refresh_token]". A zero
// expires_in means the server did not say.
func decodeGrant(data string) (Grant, error) {
	f := fields.Parse(data)
	access, _ := f.String(0)
	if access == "" {
		return Grant{}, fmt.Errorf("deviceauth: missing access token")
	}
	lifetime, err := f.Uint(1, 32)
	if err != nil {
		return Grant{}, fmt.Errorf("deviceauth: expires_in: %w", err)
	}
	if lifetime == 0 {
		lifetime = uint64(DefaultTokenLifetime / time.Second)
	}
	refresh, _ := f.String(2)
	return Grant{
		AccessToken:  access,
		Lifetime:     time.Duration(lifetime) * time.Second,
		RefreshToken: refresh,
	}, nil
}

func decodePollGrant(data string) (Grant, error) {
	g, err := decodeGrant(data)
	if err != nil {
		return g, err
	}
	if g.RefreshToken == "" {
		return Grant{}, fmt.Errorf("deviceauth: authorization granted without a refresh token")
	}
	return g, nil
}
