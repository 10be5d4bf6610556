package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToExternal(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"BRK.B", "BRKB"},
		{" brk.b ", "BRKB"},
		{"NYSE:BRK.B", "BRKB"},
		{"NASDAQ:AAPL", "AAPL"},
		{"aapl", "AAPL"},
		{"SHOP.TO", "SHOP"},
		{"ABC.V", "ABC"},
		{"XYZ.C", "XYZC"},
		{"VOD.L", "VOD"},
		{"SPY", "SPY"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ToExternal(tt.in))
		})
	}
}

func TestToDisplayOnlyUsesReverseTable(t *testing.T) {
	assert.Equal(t, "BRK.B", ToDisplay("BRKB"))
	assert.Equal(t, "BF.A", ToDisplay("bfa"))
	// XYZ.C collapses to XYZC, but nothing knows how to split it again.
	assert.Equal(t, "XYZC", ToExternal("XYZ.C"))
	assert.Equal(t, "XYZC", ToDisplay("XYZC"))
	assert.Equal(t, "AAPL", ToDisplay("AAPL"))
}

func TestIsShareClass(t *testing.T) {
	assert.True(t, IsShareClass("BRK.B"))
	assert.True(t, IsShareClass("BRKB"))
	assert.True(t, IsShareClass("xyz.c"))
	assert.False(t, IsShareClass("XYZC"))
	assert.False(t, IsShareClass("AAPL"))
	assert.False(t, IsShareClass("SHOP.TO"))
}
