package upstream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// token returns the cached anti-forgery token or scrapes a fresh one.
func (c *Client) token(ctx context.Context) (string, error) {
	if tok, ok := c.tokens.Get(c.now()); ok {
		return tok, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(tokenPath), nil)
	if err != nil {
		return "", fetchErr(ErrGeneric, "token", 0, err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fetchErr(ErrGeneric, "token", 0, err)
	}
	defer resp.Body.Close()

	if err := c.classify("token", resp); err != nil {
		// A 400 on a plain GET says nothing about the token.
		if errors.Is(err, ErrTokenRejected) {
			return "", fetchErr(ErrGeneric, "token", resp.StatusCode, nil)
		}
		return "", err
	}
	tok, err := findToken(resp.Body)
	if err != nil {
		return "", fetchErr(ErrGeneric, "token", resp.StatusCode, err)
	}
	c.tokens.Set(tok, c.now())
	c.metrics.TokenRefreshed()
	c.logger.Debug("anti-forgery token refreshed")
	return tok, nil
}

var errNoToken = errors.New("token field not found in page")

// findToken scans an HTML document for <input name="__RequestVerificationToken" value="...">.
func findToken(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != nil && err != io.EOF {
				return "", err
			}
			return "", errNoToken
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			if t.Data != "input" {
				continue
			}
			var name, value string
			for _, a := range t.Attr {
				switch strings.ToLower(a.Key) {
				case "name":
					name = a.Val
				case "value":
					value = a.Val
				}
			}
			if name == tokenField && value != "" {
				return value, nil
			}
		}
	}
}

func bouncedToLogin(resp *http.Response) bool {
	if resp.Request == nil || resp.Request.URL == nil {
		return false
	}
	p := strings.ToLower(resp.Request.URL.Path)
	return strings.Contains(p, "/login") || strings.Contains(p, "/account/signin")
}

func logErr(err error) slog.Attr { return slog.String("err", err.Error()) }
