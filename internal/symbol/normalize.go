// Package symbol translates tickers between the charting convention (BRK.B, NASDAQ:AAPL,
// SHOP.TO) and the concatenated form the upstream site expects (BRKB, AAPL, SHOP).
package symbol

import (
	"regexp"
	"strings"
)

// toExternal maps display tickers whose upstream form is not derivable by the generic rules,
// or which must round-trip through ToDisplay.
var toExternal = map[string]string{
	"BRK.A": "BRKA",
	"BRK.B": "BRKB",
	"BF.A":  "BFA",
	"BF.B":  "BFB",
	"HEI.A": "HEIA",
	"LEN.B": "LENB",
	"MOG.A": "MOGA",
	"GEF.B": "GEFB",
	"LGF.A": "LGFA",
	"LGF.B": "LGFB",
}

// toDisplay is the inverse of toExternal. It is the only way back from the
// concatenated form: BRKB is a share class, WOLF is not.
var toDisplay = func() map[string]string {
	m := make(map[string]string, len(toExternal))
	for disp, ext := range toExternal {
		m[ext] = disp
	}
	return m
}()

// Country suffixes stripped before the share-class rule, so ABC.V is a Venture listing and
// not class V.
var countrySuffixes = []string{".US", ".TO", ".V", ".CN", ".NE", ".L", ".AX", ".HK"}

var shareClassRe = regexp.MustCompile(`^([A-Z]+)\.([A-Z])$`)

func canon(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ToExternal converts a chart ticker to the upstream form. It never fails; unrecognized input
// comes back uppercased.
func ToExternal(s string) string {
	sym := canon(s)
	if i := strings.IndexByte(sym, ':'); i >= 0 {
		sym = sym[i+1:]
	}
	if ext, ok := toExternal[sym]; ok {
		return ext
	}
	for _, suf := range countrySuffixes {
		if strings.HasSuffix(sym, suf) && len(sym) > len(suf) {
			return strings.TrimSuffix(sym, suf)
		}
	}
	if m := shareClassRe.FindStringSubmatch(sym); m != nil {
		return m[1] + m[2]
	}
	return sym
}

// ToDisplay converts an upstream ticker back to chart form using the reverse table only.
func ToDisplay(s string) string {
	sym := canon(s)
	if disp, ok := toDisplay[sym]; ok {
		return disp
	}
	return sym
}

// IsShareClass reports whether s is written as BASE.X or is a known concatenated share class.
func IsShareClass(s string) bool {
	sym := canon(s)
	if shareClassRe.MatchString(sym) {
		return true
	}
	_, ok := toDisplay[sym]
	return ok
}
