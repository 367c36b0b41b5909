package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkplay-community/linkplay-go/pkg/model"
)

func TestHardwareInputs(t *testing.T) {
	t.Run("wiim pro has no usb", func(t *testing.T) {
		inputs, ok := HardwareInputs("WiiM Pro")
		require.True(t, ok)
		assert.Contains(t, inputs, model.SourceOptical)
		assert.NotContains(t, inputs, model.SourceUDisk)
	})

	t.Run("pro plus matches before pro", func(t *testing.T) {
		inputs, ok := HardwareInputs("WiiM Pro Plus")
		require.True(t, ok)
		assert.Contains(t, inputs, model.SourceLineIn)
	})

	t.Run("ultra keeps usb and phono", func(t *testing.T) {
		inputs, ok := HardwareInputs("WiiM Ultra")
		require.True(t, ok)
		assert.Contains(t, inputs, model.SourceUDisk)
		assert.Contains(t, inputs, model.SourcePhono)
	})

	t.Run("unknown model not in table", func(t *testing.T) {
		_, ok := HardwareInputs("SoundSystem X9")
		assert.False(t, ok)
	})

	t.Run("empty model", func(t *testing.T) {
		_, ok := HardwareInputs("")
		assert.False(t, ok)
	})
}

func TestFilterInputs(t *testing.T) {
	t.Run("drops misreported port", func(t *testing.T) {
		advertised := []model.Source{model.SourceWiFi, model.SourceLineIn, model.SourceOptical, model.SourceUDisk}
		got := FilterInputs("WiiM Pro", advertised)
		assert.Equal(t, []model.Source{model.SourceWiFi, model.SourceLineIn, model.SourceOptical}, got)
	})

	t.Run("keeps advertised order", func(t *testing.T) {
		advertised := []model.Source{model.SourceOptical, model.SourceWiFi}
		got := FilterInputs("WiiM Mini", advertised)
		assert.Equal(t, []model.Source{model.SourceOptical, model.SourceWiFi}, got)
	})

	t.Run("unknown model passes through", func(t *testing.T) {
		advertised := []model.Source{model.SourceWiFi, model.SourceUDisk}
		got := FilterInputs("SoundSystem X9", advertised)
		assert.Equal(t, advertised, got)
	})
}
