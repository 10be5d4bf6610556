package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"levelbridge/internal/observability"
	"levelbridge/internal/state"
)

const (
	tokenPath  = "/TradeLevels"
	levelsPath = "/TradeLevels/GetTradeLevels"
	tradesPath = "/Trades/GetTrades"

	tokenField  = "__RequestVerificationToken"
	tokenHeader = "RequestVerificationToken"
)

type Client struct {
	baseURL    string
	base       *url.URL
	cookieName string
	jar        *cookiejar.Jar
	httpc      *http.Client
	tokens     *state.TokenCache
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time

	sessionPath string
}

type Options struct {
	BaseURL          string
	SessionStorePath string // empty disables persistence
	SessionCookie    string
	Timeout          time.Duration
	Tokens           *state.TokenCache
	Metrics          *observability.Metrics
	Logger           *slog.Logger
	Now              func() time.Time // defaults to time.Now
}

func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("bad upstream url %q", opts.BaseURL)
	}
	jar, _ := cookiejar.New(nil)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = state.NewTokenCache(30 * time.Minute)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &Client{
		baseURL:     opts.BaseURL,
		base:        base,
		cookieName:  opts.SessionCookie,
		jar:         jar,
		httpc:       &http.Client{Jar: jar, Timeout: timeout},
		tokens:      tokens,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         now,
		sessionPath: opts.SessionStorePath,
	}
	c.loadSession()
	return c, nil
}

type cookieDump struct {
	Cookies []*http.Cookie `json:"cookies"`
}

func (c *Client) loadSession() {
	if c.sessionPath == "" {
		return
	}
	b, err := os.ReadFile(c.sessionPath)
	if err != nil {
		return
	}
	var dump cookieDump
	if err := json.Unmarshal(b, &dump); err != nil {
		c.logger.Warn("session file unreadable", slog.String("path", c.sessionPath), slog.String("err", err.Error()))
		return
	}
	c.jar.SetCookies(c.base, dump.Cookies)
}

func (c *Client) saveSession() {
	if c.sessionPath == "" {
		return
	}
	b, _ := json.MarshalIndent(cookieDump{Cookies: c.jar.Cookies(c.base)}, "", "  ")
	_ = os.MkdirAll(filepath.Dir(c.sessionPath), fs.ModePerm)
	if err := os.WriteFile(c.sessionPath, b, 0o600); err != nil {
		c.logger.Warn("save session", slog.String("err", err.Error()))
	}
}

// InjectCookies adds cookies (e.g. imported from a local browser) to the jar and persists them.
// Imported cookies carry their own Domain; the jar scopes them to the upstream host.
func (c *Client) InjectCookies(cookies []*http.Cookie) {
	c.jar.SetCookies(c.base, cookies)
	c.tokens.Invalidate()
	c.saveSession()
}

// Jar exposes the cookie jar so a browser login can sync cookies into it.
func (c *Client) Jar() *cookiejar.Jar { return c.jar }

// BaseURL returns the upstream root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// HasSession reports whether the jar holds the session cookie for the upstream host.
func (c *Client) HasSession() bool {
	for _, ck := range c.jar.Cookies(c.base) {
		if ck.Name == c.cookieName && ck.Value != "" {
			return true
		}
	}
	return false
}

// CheckSession verifies the session by fetching a fresh token. On success the session file
// is rewritten with the jar's current cookies.
func (c *Client) CheckSession(ctx context.Context) error {
	if !c.HasSession() {
		return fetchErr(ErrUnauthenticated, "session", 0, nil)
	}
	c.tokens.Invalidate()
	if _, err := c.token(ctx); err != nil {
		return err
	}
	c.saveSession()
	return nil
}

func (c *Client) url(p string) string {
	return fmt.Sprintf("%s%s", c.baseURL, p)
}

// classify turns a non-success response into a FetchError. It returns nil for 2xx responses
// that were not bounced to a login page.
func (c *Client) classify(op string, resp *http.Response) error {
	switch {
	case bouncedToLogin(resp):
		return fetchErr(ErrSessionExpired, op, resp.StatusCode, nil)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		c.tokens.Invalidate()
		return fetchErr(ErrTokenRejected, op, resp.StatusCode, nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fetchErr(ErrSessionExpired, op, resp.StatusCode, nil)
	}
	return fetchErr(ErrGeneric, op, resp.StatusCode, nil)
}
