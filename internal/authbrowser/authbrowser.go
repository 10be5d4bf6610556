// Package authbrowser signs in to the upstream site through a visible Chrome window and hands the
// resulting cookies to the upstream client.
package authbrowser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Sink receives the cookies captured from the browser. *upstream.Client implements it.
type Sink interface {
	InjectCookies(cookies []*http.Cookie)
}

type Options struct {
	BaseURL       string        // e.g. https://www.volumeleaders.com
	SessionCookie string        // name of the auth cookie to wait for
	Headless      bool          // false => show window so the user can type credentials
	Wait          time.Duration // overall timeout; defaults to loginWait()
	Poll          time.Duration // cookie poll interval, default 2s
	UserDataDir   string        // optional Chrome profile dir; empty => temp
	Logger        *slog.Logger  // optional: route chromedp logs to slog
	Quiet         bool          // if true, suppress chromedp debug/log output
}

var ErrLoginTimeout = errors.New("login did not complete before the timeout (finish signing in, or extend LEVELBRIDGE_LOGIN_WAIT_SECONDS)")

func loginWait() time.Duration {
	if s := os.Getenv("LEVELBRIDGE_LOGIN_WAIT_SECONDS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 5 * time.Minute
}

// AcquireSession opens the login page and waits until the browser holds the session cookie,
// then passes every cookie for the site to sink.
func AcquireSession(ctx context.Context, sink Sink, opts Options) error {
	if _, err := url.Parse(opts.BaseURL); err != nil || opts.BaseURL == "" {
		return fmt.Errorf("bad base url %q", opts.BaseURL)
	}
	if opts.SessionCookie == "" {
		return errors.New("session cookie name required")
	}
	wait := opts.Wait
	if wait <= 0 {
		wait = loginWait()
	}
	poll := opts.Poll
	if poll <= 0 {
		poll = 2 * time.Second
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.NoDefaultBrowserCheck, chromedp.Flag("disable-gpu", true))
	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	actx, acancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer acancel()
	cctx, cancel := chromedp.NewContext(actx, contextOptions(opts)...)
	defer cancel()
	cctx, timeoutCancel := context.WithTimeout(cctx, wait)
	defer timeoutCancel()

	// network domain exposes HttpOnly cookies
	if err := chromedp.Run(cctx, network.Enable()); err != nil {
		return err
	}
	if err := chromedp.Run(cctx, chromedp.Navigate(opts.BaseURL+"/Login")); err != nil {
		return fmt.Errorf("navigate login: %w", err)
	}

	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		var cks []*network.Cookie
		err := chromedp.Run(cctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cks, err = network.GetCookies().WithURLs([]string{opts.BaseURL}).Do(ctx)
			return err
		}))
		if err == nil && hasCookie(cks, opts.SessionCookie) {
			sink.InjectCookies(toHTTPCookies(cks))
			if opts.Logger != nil {
				opts.Logger.Info("browser login captured session", slog.Int("cookies", len(cks)))
			}
			return nil
		}
		select {
		case <-cctx.Done():
			if errors.Is(cctx.Err(), context.DeadlineExceeded) {
				return ErrLoginTimeout
			}
			return cctx.Err()
		case <-t.C:
		}
	}
}

func contextOptions(opts Options) []chromedp.ContextOption {
	if opts.Quiet {
		return []chromedp.ContextOption{
			chromedp.WithLogf(func(string, ...any) {}),
			chromedp.WithDebugf(func(string, ...any) {}),
			chromedp.WithErrorf(func(string, ...any) {}),
		}
	}
	if opts.Logger != nil {
		l := opts.Logger
		return []chromedp.ContextOption{
			chromedp.WithLogf(func(f string, a ...any) { l.Info(fmt.Sprintf(f, a...)) }),
			chromedp.WithDebugf(func(f string, a ...any) { l.Debug(fmt.Sprintf(f, a...)) }),
			chromedp.WithErrorf(func(f string, a ...any) { l.Warn(fmt.Sprintf(f, a...)) }),
		}
	}
	return nil
}

func hasCookie(cks []*network.Cookie, name string) bool {
	for _, ck := range cks {
		if ck.Name == name && ck.Value != "" {
			return true
		}
	}
	return false
}

func toHTTPCookies(cks []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cks))
	for _, ck := range cks {
		hc := &http.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HttpOnly: ck.HTTPOnly,
		}
		// session cookies report Expires <= 0
		if ck.Expires > 0 {
			hc.Expires = time.Unix(int64(ck.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}
