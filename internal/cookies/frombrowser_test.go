package cookies

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBrowser(t *testing.T) {
	assert.Equal(t, "chrome", normalizeBrowser("Google Chrome"))
	assert.Equal(t, "chrome", normalizeBrowser(""))
	assert.Equal(t, "edge", normalizeBrowser("Microsoft Edge"))
	assert.Equal(t, "firefox", normalizeBrowser(" Firefox "))
	assert.Equal(t, "vivaldi", normalizeBrowser("Vivaldi"))
}

func TestDedupeKeyIgnoresCaseAndLeadingDot(t *testing.T) {
	a := dedupeKey(&http.Cookie{Domain: ".VolumeLeaders.com", Path: "/", Name: ".ASPXAUTH"})
	b := dedupeKey(&http.Cookie{Domain: "volumeleaders.com", Path: "/", Name: ".ASPXAUTH"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, dedupeKey(&http.Cookie{Domain: "volumeleaders.com", Path: "/x", Name: ".ASPXAUTH"}))
}

func TestRegistrable(t *testing.T) {
	assert.Equal(t, "volumeleaders.com", registrable("www.VolumeLeaders.com"))
	assert.Equal(t, "example.test", registrable("example.test"))
}

func TestWriteDumpMatchesSessionFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "session.json")
	in := []*http.Cookie{{Name: ".ASPXAUTH", Value: "abc", Domain: "www.volumeleaders.com", Path: "/"}}
	require.NoError(t, WriteDump(path, in))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var dump struct {
		Cookies []*http.Cookie `json:"cookies"`
	}
	require.NoError(t, json.Unmarshal(b, &dump))
	require.Len(t, dump.Cookies, 1)
	assert.Equal(t, ".ASPXAUTH", dump.Cookies[0].Name)
	assert.Equal(t, "abc", dump.Cookies[0].Value)
}

func TestRowHelpers(t *testing.T) {
	assert.True(t, domainHasAny(".VolumeLeaders.com", []string{"volumeleaders"}))
	assert.False(t, domainHasAny("example.com", []string{"volumeleaders", ""}))
	assert.True(t, hostOnly("www.volumeleaders.com"))
	assert.False(t, hostOnly(".volumeleaders.com"))
	assert.Equal(t, "session", expiresString(time.Time{}))
	assert.Equal(t, "2024-01-02T03:04:05Z", expiresString(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Equal(t, "Lax", sameSiteString(http.SameSiteLaxMode))

	rows := []Row{
		{Browser: "firefox", Domain: "a"},
		{Browser: "chrome", Domain: "b", Name: "z"},
		{Browser: "chrome", Domain: "b", Name: "a"},
	}
	sortRows(rows)
	assert.Equal(t, "chrome", rows[0].Browser)
	assert.Equal(t, "a", rows[0].Name)
	assert.Equal(t, "firefox", rows[2].Browser)
}

func TestListRequiresMatch(t *testing.T) {
	_, _, err := List(nil, time.Now())
	assert.Error(t, err)
}
