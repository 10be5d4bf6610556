// Package cookies imports the upstream session from a local browser profile.
package cookies

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/all" // register finders for major browsers
)

// FromBrowser loads cookies for baseURL from the requested browser family ("chrome",
// "chromium", "edge", "brave", "opera", "firefox", "safari"). A "name:path" form narrows the
// search to one profile. Session cookies are included since the site's auth cookie is one.
func FromBrowser(browser, baseURL string) ([]*http.Cookie, error) {
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse baseURL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("invalid baseURL host in %q", baseURL)
	}

	want := strings.ToLower(strings.TrimSpace(browser))
	var wantProfile string
	if i := strings.IndexByte(want, ':'); i > 0 {
		wantProfile = want[i+1:]
		want = want[:i]
	}
	want = normalizeBrowser(want)

	stores := kooky.FindAllCookieStores()
	defer func() {
		for _, s := range stores {
			_ = s.Close()
		}
	}()

	var out []*http.Cookie
	seen := map[string]bool{}
	matched := 0
	for _, s := range stores {
		if normalizeBrowser(s.Browser()) != want {
			continue
		}
		if wantProfile != "" && !profileMatches(s.FilePath(), wantProfile) {
			continue
		}
		matched++
		kcs, _ := s.ReadCookies(kooky.Valid, kooky.DomainHasSuffix(registrable(host)))
		for _, kc := range kcs {
			hc := kc.Cookie
			key := dedupeKey(&hc)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, &hc)
		}
	}
	if matched == 0 {
		return nil, fmt.Errorf("no %s cookie stores found", want)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no cookies for %q found in %s", host, want)
	}
	return out, nil
}

func normalizeBrowser(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chrome", "google chrome", "":
		return "chrome"
	case "chromium":
		return "chromium"
	case "edge", "microsoft edge":
		return "edge"
	case "brave":
		return "brave"
	case "opera":
		return "opera"
	case "firefox":
		return "firefox"
	case "safari":
		return "safari"
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// registrable drops a leading "www." so cookies set on the bare domain are found too.
func registrable(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

func profileMatches(storePath, want string) bool {
	if samePath(storePath, want) {
		return true
	}
	return strings.Contains(strings.ToLower(storePath), strings.ToLower(want))
}

func samePath(a, b string) bool {
	ra := filepath.Clean(a)
	rb := filepath.Clean(b)
	if ea, err := filepath.EvalSymlinks(ra); err == nil {
		ra = ea
	}
	if eb, err := filepath.EvalSymlinks(rb); err == nil {
		rb = eb
	}
	return ra == rb
}

// dedupeKey identifies a cookie by domain, path and name. Domains compare case-insensitively.
func dedupeKey(c *http.Cookie) string {
	return strings.ToLower(strings.TrimPrefix(c.Domain, ".")) + "\t" + c.Path + "\t" + c.Name
}

type cookieDump struct {
	Cookies []*http.Cookie `json:"cookies"`
}

// WriteDump writes cookies in the session file format the upstream client loads.
func WriteDump(path string, cookies []*http.Cookie) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cookieDump{Cookies: cookies}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// Row is one cookie as shown by List.
type Row struct {
	Browser     string `json:"browser"`
	ProfilePath string `json:"profile_path"`
	StoreFile   string `json:"store_file"`
	Domain      string `json:"domain"`
	HostOnly    bool   `json:"host_only"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	Value       string `json:"value"`
	ValidUTF8   bool   `json:"value_valid_utf8"`
	Secure      bool   `json:"secure"`
	HttpOnly    bool   `json:"http_only"`
	SameSite    string `json:"same_site"`
	Expires     string `json:"expires"` // RFC3339 or "session"
	Expired     bool   `json:"expired"`
}

// List returns every cookie across all browser stores whose domain contains one of match
// (case-insensitive), sorted by browser, store, domain, path and name.
func List(match []string, now time.Time) ([]Row, int, error) {
	if len(match) == 0 {
		return nil, 0, errors.New("no match substrings")
	}
	stores := kooky.FindAllCookieStores()
	defer func() {
		for _, s := range stores {
			_ = s.Close()
		}
	}()

	var rows []Row
	for _, s := range stores {
		kcs, _ := s.ReadCookies()
		for _, kc := range kcs {
			if !domainHasAny(kc.Domain, match) {
				continue
			}
			rows = append(rows, Row{
				Browser:     s.Browser(),
				ProfilePath: s.Profile(),
				StoreFile:   s.FilePath(),
				Domain:      kc.Domain,
				HostOnly:    hostOnly(kc.Domain),
				Path:        kc.Path,
				Name:        kc.Name,
				Value:       kc.Value,
				ValidUTF8:   utf8.ValidString(kc.Value),
				Secure:      kc.Secure,
				HttpOnly:    kc.HttpOnly,
				SameSite:    sameSiteString(kc.SameSite),
				Expires:     expiresString(kc.Expires),
				Expired:     !kc.Expires.IsZero() && now.After(kc.Expires),
			})
		}
	}
	sortRows(rows)
	return rows, len(stores), nil
}

func sortRows(rows []Row) {
	slices.SortFunc(rows, func(a, b Row) int {
		for _, p := range [][2]string{
			{a.Browser, b.Browser},
			{a.StoreFile, b.StoreFile},
			{a.Domain, b.Domain},
			{a.Path, b.Path},
			{a.Name, b.Name},
		} {
			if c := strings.Compare(p[0], p[1]); c != 0 {
				return c
			}
		}
		return 0
	})
}

func domainHasAny(domain string, subs []string) bool {
	d := strings.ToLower(strings.TrimSpace(domain))
	for _, sub := range subs {
		if sub != "" && strings.Contains(d, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// hostOnly guesses from the stored domain; browsers keep host-only cookies without a leading dot.
func hostOnly(domain string) bool {
	d := strings.TrimSpace(domain)
	return d != "" && !strings.HasPrefix(d, ".")
}

func expiresString(t time.Time) string {
	if t.IsZero() {
		return "session"
	}
	return t.UTC().Format(time.RFC3339)
}

func sameSiteString(ss http.SameSite) string {
	switch ss {
	case http.SameSiteDefaultMode:
		return "Default"
	case http.SameSiteLaxMode:
		return "Lax"
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteNoneMode:
		return "None"
	}
	return ""
}
