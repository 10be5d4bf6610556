package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"levelbridge/internal/cookies"
)

func main() {
	from := flag.String("from-browser", "chrome", "browser to read (chrome, edge, brave, firefox, ...; name:profile-path narrows to one profile)")
	forURL := flag.String("for", "https://www.volumeleaders.com", "site URL to dump cookies for")
	out := flag.String("out", "./data/session.json", "output session JSON path")
	list := flag.Bool("list", false, "list matching cookies instead of writing a session file")
	match := flag.String("match", "volumeleaders", "with -list: comma-separated substrings to match in cookie domain")
	full := flag.Bool("full", false, "with -list: print full cookie values (default truncates to 80 chars)")
	asJSON := flag.Bool("json", false, "with -list: output JSON")
	flag.Parse()

	if *list {
		if err := listCookies(splitList(*match), *full, *asJSON); err != nil {
			log.Fatal(err)
		}
		return
	}

	cs, err := cookies.FromBrowser(*from, *forURL)
	if err != nil {
		log.Fatalf("read cookies: %v", err)
	}
	if err := cookies.WriteDump(*out, cs); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}
	fmt.Printf("Wrote %d cookies for %s to %s\n", len(cs), *forURL, *out)
}

func listCookies(match []string, full, asJSON bool) error {
	now := time.Now()
	rows, stores, err := cookies.List(match, now)
	if err != nil {
		return err
	}
	if !full {
		for i := range rows {
			rows[i].Value = truncate(rows[i].Value)
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", " ")
		return enc.Encode(map[string]any{
			"env": map[string]any{
				"go":       runtime.Version(),
				"os":       runtime.GOOS,
				"arch":     runtime.GOARCH,
				"time_utc": now.UTC().Format(time.RFC3339),
				"match":    match,
			},
			"count": len(rows),
			"rows":  rows,
		})
	}

	fmt.Printf("Cookie list (%s %s, %s) match=%v\n", runtime.GOOS, runtime.GOARCH, now.UTC().Format(time.RFC3339), match)
	fmt.Printf("Found %d matching cookies across %d stores.\n\n", len(rows), stores)
	lastStore := ""
	for _, r := range rows {
		storeKey := r.Browser + " :: " + r.StoreFile
		if storeKey != lastStore {
			fmt.Printf("=== %s\n", storeKey)
			if r.ProfilePath != "" {
				fmt.Printf(" profile: %s\n", r.ProfilePath)
			}
			lastStore = storeKey
		}
		expires := r.Expires
		if r.Expired {
			expires += " (expired)"
		}
		fmt.Printf("- domain: %s path: %s name: %s\n", r.Domain, r.Path, r.Name)
		fmt.Printf("  value : %s\n", r.Value)
		fmt.Printf("  flags : secure=%v httpOnly=%v sameSite=%s hostOnly=%v utf8=%v\n", r.Secure, r.HttpOnly, r.SameSite, r.HostOnly, r.ValidUTF8)
		fmt.Printf("  times : expires=%s\n", expires)
	}
	if len(rows) == 0 {
		fmt.Println("No matching cookies. Sign in to the site in your browser and re-run.")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func truncate(v string) string {
	if len(v) <= 80 {
		return v
	}
	return v[:80] + "..."
}
