// Package upstream talks to the osu! API: client-credentials authorization
// and the paginated scores endpoint.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"scoresws/cmd/scores"

	"golang.org/x/time/rate"
)

const (
	DefaultTokenURL  = "https://osu.ppy.sh/oauth/token"
	DefaultScoresURL = "https://osu.ppy.sh/api/v2/scores"

	defaultFetchTimeout   = 10 * time.Second
	defaultBackoffInitial = 2 * time.Second
	defaultBackoffMax     = 120 * time.Second

	// A full page of 1000 scores is a few hundred KiB.
	maxBodyBytes = 32 << 20
)

var cursorTooOldMarker = []byte(`"error":"cursor is too old"`)

// Outcome is the non-error result of a scores fetch.
type Outcome uint8

const (
	// OutcomeOK means the response was scanned into the caller's set.
	OutcomeOK Outcome = iota
	// OutcomeCursorTooOld means upstream no longer serves the requested cursor.
	OutcomeCursorTooOld
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeCursorTooOld:
		return "cursor_too_old"
	default:
		return "unknown"
	}
}

// Config configures a Client.
type Config struct {
	TokenURL  string
	ScoresURL string

	ClientID     string
	ClientSecret string

	// Ruleset filters scores by game mode when non-empty.
	Ruleset string

	UserAgent string

	// RequestsPerSecond paces outbound requests. Zero disables pacing.
	RequestsPerSecond float64

	FetchTimeout   time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Client is an authenticated osu! API client. It is safe for concurrent use.
type Client struct {
	cfg       Config
	log       *slog.Logger
	http      *http.Client
	auth      Authorization
	limiter   *rate.Limiter
	metrics   *Metrics
	scoresURL *url.URL
}

// NewClient validates cfg and builds a Client. httpClient may be nil.
func NewClient(cfg Config, log *slog.Logger, httpClient *http.Client, m *Metrics) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.ScoresURL == "" {
		cfg.ScoresURL = DefaultScoresURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "scoresws"
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = defaultBackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = max(defaultBackoffMax, cfg.BackoffInitial)
	}

	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("upstream: client id and secret are required")
	}
	if _, err := parseHTTPURL(cfg.TokenURL); err != nil {
		return nil, fmt.Errorf("upstream: token url: %w", err)
	}
	scoresURL, err := parseHTTPURL(cfg.ScoresURL)
	if err != nil {
		return nil, fmt.Errorf("upstream: scores url: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		cfg:       cfg,
		log:       log,
		http:      httpClient,
		limiter:   limiter,
		metrics:   m,
		scoresURL: scoresURL,
	}, nil
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

// Authorization returns the cell holding the current bearer token.
func (c *Client) Authorization() *Authorization { return &c.auth }

// Fetch requests one page of scores and scans it into into.
//
// Without a cursor the most recent page is requested; with one, the page
// ending at that id. A 401 triggers exactly one reauthorization and one retry.
func (c *Client) Fetch(ctx context.Context, cursor *uint64, into *scores.RecordSet) (Outcome, error) {
	return c.fetch(ctx, cursor, into, false)
}

func (c *Client) fetch(ctx context.Context, cursor *uint64, into *scores.RecordSet, justAuthorized bool) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.scoresRequestURL(cursor), nil)
	if err != nil {
		return OutcomeOK, fmt.Errorf("create scores request: %w", err)
	}
	req.Header.Set("Authorization", c.auth.Get())

	status, body, err := c.do(req, endpointScores)
	if err != nil {
		return OutcomeOK, fmt.Errorf("request scores: %w", err)
	}

	switch {
	case status == http.StatusOK:
		if err := scores.ScanScores(body, into); err != nil {
			return OutcomeOK, fmt.Errorf("scan scores: %w", err)
		}
		return OutcomeOK, nil

	case status == http.StatusUnauthorized:
		if justAuthorized {
			return OutcomeOK, newStatusError(endpointScores, status, body, ErrUnauthorized)
		}
		if err := c.Reauthorize(ctx); err != nil {
			return OutcomeOK, err
		}
		return c.fetch(ctx, cursor, into, true)

	case status == http.StatusUnprocessableEntity && bytes.Contains(body, cursorTooOldMarker):
		c.metrics.cursorTooOld()
		if cursor != nil {
			c.log.Warn("upstream.cursor.too_old", "cursor_id", *cursor)
		} else {
			c.log.Debug("upstream.cursor.too_old.without_cursor", "body", string(body))
		}
		return OutcomeCursorTooOld, nil

	case status == http.StatusTooManyRequests:
		return OutcomeOK, newStatusError(endpointScores, status, body, ErrRateLimited)

	case status == http.StatusServiceUnavailable:
		return OutcomeOK, newStatusError(endpointScores, status, body, ErrUnavailable)

	default:
		return OutcomeOK, newStatusError(endpointScores, status, body, ErrUnexpectedStatus)
	}
}

// Reauthorize requests a fresh client-credentials token and publishes it.
func (c *Client) Reauthorize(ctx context.Context) error {
	c.log.Debug("upstream.reauthorize")
	c.metrics.reauthorized()

	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "public")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	status, body, err := c.do(req, endpointToken)
	if err != nil {
		return fmt.Errorf("request token: %w", err)
	}

	switch status {
	case http.StatusOK:
		token, err := scores.ScanAccessToken(body)
		if err != nil {
			return fmt.Errorf("parse token: %w", err)
		}
		c.auth.SetBearer(token)
		c.log.Info("upstream.reauthorize.ok")
		return nil
	case http.StatusUnauthorized:
		return newStatusError(endpointToken, status, body, fmt.Errorf("%w: check client id and secret", ErrUnauthorized))
	case http.StatusTooManyRequests:
		return newStatusError(endpointToken, status, body, ErrRateLimited)
	case http.StatusServiceUnavailable:
		return newStatusError(endpointToken, status, body, ErrUnavailable)
	default:
		return newStatusError(endpointToken, status, body, ErrUnexpectedStatus)
	}
}

func (c *Client) scoresRequestURL(cursor *uint64) string {
	u := *c.scoresURL
	q := u.Query()
	if c.cfg.Ruleset != "" {
		q.Set("ruleset", c.cfg.Ruleset)
	}
	if cursor != nil {
		q.Set("cursor[id]", strconv.FormatUint(*cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// do paces, sends and fully reads req.
func (c *Client) do(req *http.Request, endpoint string) (int, []byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return 0, nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	c.metrics.inFlight(1)
	defer c.metrics.inFlight(-1)

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.request(endpoint, 0)
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.metrics.request(endpoint, 0)
		return 0, nil, fmt.Errorf("read body: %w", err)
	}

	c.metrics.request(endpoint, resp.StatusCode)
	return resp.StatusCode, body, nil
}
