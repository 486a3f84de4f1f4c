// Package api is the client for the race data backend.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/utils/cache"
	"github.com/mpapenbr/racestate-live/pkg/utils/cache/loadercache"
)

var ErrNotFound = errors.New("not found")

// StatusError is returned for non 2xx responses
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Path, e.Code)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

type (
	Option func(*Client)
	Client struct {
		baseURL  *url.URL
		http     *http.Client
		cb       *gobreaker.CircuitBreaker[[]byte]
		limiter  *rate.Limiter
		sessions cache.Cache[string, model.Session]
		cacheTTL time.Duration
		l        *log.Logger
	}
)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithRateLimit limits the on-demand requests (telemetry, analysis, comparison)
func WithRateLimit(perSecond float64, burst int) Option {
	return func(cl *Client) {
		cl.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithSessionCacheTTL sets how long session details are kept
func WithSessionCacheTTL(d time.Duration) Option {
	return func(cl *Client) {
		cl.cacheTTL = d
	}
}

func WithLogger(l *log.Logger) Option {
	return func(cl *Client) {
		cl.l = l
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", baseURL)
	}
	ret := &Client{
		baseURL:  u,
		http:     &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
		cacheTTL: 5 * time.Minute,
		l:        log.Default().Named("api"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "backend-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ret.l.Warn("circuit breaker state changed",
				log.String("name", name),
				log.String("from", from.String()),
				log.String("to", to.String()))
		},
	})
	ret.sessions = loadercache.New(
		loadercache.WithExpiration[string, model.Session](ret.cacheTTL),
		loadercache.WithLogger[string, model.Session](ret.l),
		loadercache.WithLoader[string, model.Session](ret.GetSession),
	)
	return ret, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// LiveURL is the websocket url of the live telemetry channel for a session
func (c *Client) LiveURL(sessionID string) string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/live/" + url.PathEscape(sessionID)
	return u.String()
}

func (c *Client) GetDrivers(ctx context.Context) ([]model.Driver, error) {
	var ret []model.Driver
	err := c.get(ctx, "/api/drivers", nil, &ret)
	return ret, err
}

func (c *Client) GetDriver(ctx context.Context, driverID string) (*model.Driver, error) {
	var ret model.Driver
	if err := c.get(ctx, "/api/drivers/"+url.PathEscape(driverID), nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) GetSessions(ctx context.Context) ([]model.Session, error) {
	var ret []model.Session
	err := c.get(ctx, "/api/sessions", nil, &ret)
	return ret, err
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	var ret model.Session
	if err := c.get(ctx, "/api/sessions/"+url.PathEscape(sessionID), nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// SessionDetail is GetSession backed by a cache
func (c *Client) SessionDetail(ctx context.Context, sessionID string) (*model.Session, error) {
	return c.sessions.Get(ctx, sessionID)
}

func (c *Client) GetCircuit(ctx context.Context) (*model.Circuit, error) {
	var ret model.Circuit
	if err := c.get(ctx, "/api/circuit", nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

//nolint:whitespace // can't make both editor and linter happy
func (c *Client) GetLeaderboard(ctx context.Context, sessionID string) (
	[]model.LeaderboardEntry, error,
) {
	var ret []model.LeaderboardEntry
	err := c.get(ctx, "/api/leaderboard/"+url.PathEscape(sessionID), nil, &ret)
	return ret, err
}

// GetTelemetry fetches the recorded telemetry of a driver. lap <= 0 means all laps.
//
//nolint:whitespace // can't make both editor and linter happy
func (c *Client) GetTelemetry(ctx context.Context, sessionID, driverID string, lap int) (
	[]model.TelemetryPoint, error,
) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var q url.Values
	if lap > 0 {
		q = url.Values{"lap": []string{strconv.Itoa(lap)}}
	}
	var ret []model.TelemetryPoint
	err := c.get(ctx,
		fmt.Sprintf("/api/telemetry/%s/%s", url.PathEscape(sessionID), url.PathEscape(driverID)),
		q, &ret)
	return ret, err
}

//nolint:whitespace // can't make both editor and linter happy
func (c *Client) GetDriverAnalysis(ctx context.Context, sessionID, driverID string) (
	*model.DriverAnalysis, error,
) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var ret model.DriverAnalysis
	if err := c.get(ctx,
		fmt.Sprintf("/api/analysis/%s/%s", url.PathEscape(sessionID), url.PathEscape(driverID)),
		nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

//nolint:whitespace // can't make both editor and linter happy
func (c *Client) GetDriverComparison(ctx context.Context, sessionID, driver1, driver2 string) (
	*model.DriverComparison, error,
) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var ret model.DriverComparison
	q := url.Values{"driver1": []string{driver1}, "driver2": []string{driver2}}
	if err := c.get(ctx, "/api/comparison/"+url.PathEscape(sessionID), q, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.fetch(ctx, u.String(), path)
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, target, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		//nolint:errcheck // drain for connection reuse
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Path: path, Code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}
