package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkplay-community/linkplay-go/pkg/model"
)

func TestDecodeLoopModeCommonRows(t *testing.T) {
	// Rows 0..4 decode identically under every scheme.
	tests := []struct {
		raw     int
		shuffle bool
		repeat  model.Repeat
	}{
		{0, false, model.RepeatAll},
		{1, false, model.RepeatOne},
		{2, true, model.RepeatAll},
		{3, true, model.RepeatOff},
		{4, false, model.RepeatOff},
	}

	for _, scheme := range []Scheme{SchemeWiiM, SchemeArylic, SchemeLegacy} {
		for _, tt := range tests {
			got := DecodeLoopMode(scheme, tt.raw)
			require.NotNil(t, got.Shuffle, "scheme=%s raw=%d", scheme, tt.raw)
			require.NotNil(t, got.Repeat, "scheme=%s raw=%d", scheme, tt.raw)
			assert.Equal(t, tt.shuffle, *got.Shuffle, "scheme=%s raw=%d", scheme, tt.raw)
			assert.Equal(t, tt.repeat, *got.Repeat, "scheme=%s raw=%d", scheme, tt.raw)
		}
	}
}

func TestDecodeLoopModeRawFive(t *testing.T) {
	t.Run("arylic shuffle with repeat one", func(t *testing.T) {
		got := DecodeLoopMode(SchemeArylic, 5)
		require.NotNil(t, got.Shuffle)
		require.NotNil(t, got.Repeat)
		assert.True(t, *got.Shuffle)
		assert.Equal(t, model.RepeatOne, *got.Repeat)
	})

	t.Run("wiim plain off", func(t *testing.T) {
		got := DecodeLoopMode(SchemeWiiM, 5)
		require.NotNil(t, got.Shuffle)
		require.NotNil(t, got.Repeat)
		assert.False(t, *got.Shuffle)
		assert.Equal(t, model.RepeatOff, *got.Repeat)
	})

	t.Run("legacy unknown", func(t *testing.T) {
		got := DecodeLoopMode(SchemeLegacy, 5)
		assert.Nil(t, got.Shuffle)
		assert.Nil(t, got.Repeat)
	})
}

func TestDecodeLoopModeOutOfRange(t *testing.T) {
	for _, raw := range []int{-1, 6, 99} {
		got := DecodeLoopMode(SchemeWiiM, raw)
		assert.Nil(t, got.Shuffle, "raw=%d", raw)
		assert.Nil(t, got.Repeat, "raw=%d", raw)
	}
}

func TestEncodeLoopMode(t *testing.T) {
	tests := []struct {
		name    string
		scheme  Scheme
		shuffle bool
		repeat  model.Repeat
		raw     int
		exact   bool
	}{
		{"repeat all", SchemeWiiM, false, model.RepeatAll, 0, true},
		{"repeat one", SchemeWiiM, false, model.RepeatOne, 1, true},
		{"shuffle repeat all", SchemeWiiM, true, model.RepeatAll, 2, true},
		{"shuffle only", SchemeWiiM, true, model.RepeatOff, 3, true},
		{"plain", SchemeWiiM, false, model.RepeatOff, 4, true},
		{"arylic shuffle repeat one", SchemeArylic, true, model.RepeatOne, 5, true},
		{"wiim shuffle repeat one degrades", SchemeWiiM, true, model.RepeatOne, 2, false},
		{"legacy shuffle repeat one degrades", SchemeLegacy, true, model.RepeatOne, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, exact := EncodeLoopMode(tt.scheme, tt.shuffle, tt.repeat)
			assert.Equal(t, tt.raw, raw)
			assert.Equal(t, tt.exact, exact)
		})
	}
}

func TestLoopModeRoundTrip(t *testing.T) {
	// Decoding an exact encoding must always reproduce the pair.
	for _, scheme := range []Scheme{SchemeWiiM, SchemeArylic, SchemeLegacy} {
		for _, shuffle := range []bool{false, true} {
			for _, repeat := range []model.Repeat{model.RepeatOff, model.RepeatOne, model.RepeatAll} {
				raw, exact := EncodeLoopMode(scheme, shuffle, repeat)
				if !exact {
					continue
				}
				got := DecodeLoopMode(scheme, raw)
				require.NotNil(t, got.Shuffle, "scheme=%s shuffle=%v repeat=%s", scheme, shuffle, repeat)
				require.NotNil(t, got.Repeat, "scheme=%s shuffle=%v repeat=%s", scheme, shuffle, repeat)
				assert.Equal(t, shuffle, *got.Shuffle)
				assert.Equal(t, repeat, *got.Repeat)
			}
		}
	}
}

func TestWiimRawFiveReencodesToFour(t *testing.T) {
	got := DecodeLoopMode(SchemeWiiM, 5)
	require.NotNil(t, got.Shuffle)
	require.NotNil(t, got.Repeat)

	raw, exact := EncodeLoopMode(SchemeWiiM, *got.Shuffle, *got.Repeat)
	assert.Equal(t, 4, raw)
	assert.True(t, exact)
}
