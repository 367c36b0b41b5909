package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkplay-community/linkplay-go/pkg/lperr"
	"github.com/linkplay-community/linkplay-go/pkg/model"
	"github.com/linkplay-community/linkplay-go/pkg/profile"
)

func TestParsePlayerStatusFull(t *testing.T) {
	body := []byte(`{
		"type":"0","ch":"0","mode":"10","loop":"3","eq":"2",
		"status":"play","curpos":"11000","offset_pts":"11000","totlen":"170000",
		"Title":"526164696F68656164","Artist":"4372656570","Album":"5061626C6F20486F6E6579",
		"alarmflag":"0","plicount":"11","plicurr":"1","vol":"39","mute":"0"
	}`)

	patch, err := ParsePlayerStatus(body, profile.SchemeWiiM)
	require.NoError(t, err)

	require.NotNil(t, patch.PlayState)
	assert.Equal(t, model.PlayStatePlay, *patch.PlayState)

	require.NotNil(t, patch.Source)
	assert.Equal(t, model.SourceWiFi, *patch.Source)

	require.NotNil(t, patch.LoopMode)
	assert.Equal(t, 3, *patch.LoopMode)
	require.NotNil(t, patch.Shuffle)
	assert.True(t, *patch.Shuffle)
	require.NotNil(t, patch.Repeat)
	assert.Equal(t, model.RepeatOff, *patch.Repeat)

	require.NotNil(t, patch.EQPreset)
	assert.Equal(t, "Pop", *patch.EQPreset)

	require.NotNil(t, patch.Position)
	assert.Equal(t, 11*time.Second, *patch.Position)
	require.NotNil(t, patch.Duration)
	assert.Equal(t, 170*time.Second, *patch.Duration)

	require.NotNil(t, patch.Title)
	assert.Equal(t, "Radiohead", *patch.Title)
	require.NotNil(t, patch.Artist)
	assert.Equal(t, "Creep", *patch.Artist)
	require.NotNil(t, patch.Album)
	assert.Equal(t, "Pablo Honey", *patch.Album)

	require.NotNil(t, patch.Volume)
	assert.Equal(t, 39, *patch.Volume)
	require.NotNil(t, patch.Muted)
	assert.False(t, *patch.Muted)
}

func TestParsePlayerStatusStoppedBecomesPause(t *testing.T) {
	patch, err := ParsePlayerStatus([]byte(`{"status":"stopped"}`), profile.SchemeWiiM)
	require.NoError(t, err)
	require.NotNil(t, patch.PlayState)
	assert.Equal(t, model.PlayStatePause, *patch.PlayState)
}

func TestParsePlayerStatusLoopModeCrossVendor(t *testing.T) {
	t.Run("arylic raw 3", func(t *testing.T) {
		patch, err := ParsePlayerStatus([]byte(`{"loop":"3"}`), profile.SchemeArylic)
		require.NoError(t, err)
		require.NotNil(t, patch.Shuffle)
		require.NotNil(t, patch.Repeat)
		assert.True(t, *patch.Shuffle)
		assert.Equal(t, model.RepeatOff, *patch.Repeat)
	})

	t.Run("wiim raw 3 identical", func(t *testing.T) {
		patch, err := ParsePlayerStatus([]byte(`{"loop":"3"}`), profile.SchemeWiiM)
		require.NoError(t, err)
		require.NotNil(t, patch.Shuffle)
		assert.True(t, *patch.Shuffle)
		assert.Equal(t, model.RepeatOff, *patch.Repeat)
	})

	t.Run("wiim raw 5 accepted without error", func(t *testing.T) {
		patch, err := ParsePlayerStatus([]byte(`{"loop":"5"}`), profile.SchemeWiiM)
		require.NoError(t, err)
		require.NotNil(t, patch.LoopMode)
		assert.Equal(t, 5, *patch.LoopMode)
		require.NotNil(t, patch.Shuffle)
		assert.False(t, *patch.Shuffle)
		assert.Equal(t, model.RepeatOff, *patch.Repeat)
	})

	t.Run("legacy unknown raw keeps loop but drops pair", func(t *testing.T) {
		patch, err := ParsePlayerStatus([]byte(`{"loop":"5"}`), profile.SchemeLegacy)
		require.NoError(t, err)
		require.NotNil(t, patch.LoopMode)
		assert.Nil(t, patch.Shuffle)
		assert.Nil(t, patch.Repeat)
	})
}

func TestParsePlayerStatusClampsAndDrops(t *testing.T) {
	t.Run("position clamped to duration", func(t *testing.T) {
		patch, err := ParsePlayerStatus([]byte(`{"curpos":"200000","totlen":"170000"}`), profile.SchemeWiiM)
		require.NoError(t, err)
		require.NotNil(t, patch.Position)
		require.NotNil(t, patch.Duration)
		assert.Equal(t, *patch.Duration, *patch.Position)
	})

	t.Run("negative position dropped", func(t *testing.T) {
		patch, err := ParsePlayerStatus([]byte(`{"curpos":"-5","totlen":"170000"}`), profile.SchemeWiiM)
		require.NoError(t, err)
		assert.Nil(t, patch.Position)
	})

	t.Run("volume clamped", func(t *testing.T) {
		patch, err := ParsePlayerStatus([]byte(`{"vol":"150"}`), profile.SchemeWiiM)
		require.NoError(t, err)
		require.NotNil(t, patch.Volume)
		assert.Equal(t, 100, *patch.Volume)
	})

	t.Run("zero duration dropped", func(t *testing.T) {
		patch, err := ParsePlayerStatus([]byte(`{"totlen":"0"}`), profile.SchemeWiiM)
		require.NoError(t, err)
		assert.Nil(t, patch.Duration)
	})
}

func TestParsePlayerStatusNumericFields(t *testing.T) {
	// Some firmware sends bare numbers where others send strings.
	patch, err := ParsePlayerStatus([]byte(`{"vol":39,"mute":0,"curpos":11000,"loop":4}`), profile.SchemeWiiM)
	require.NoError(t, err)
	require.NotNil(t, patch.Volume)
	assert.Equal(t, 39, *patch.Volume)
	require.NotNil(t, patch.Muted)
	assert.False(t, *patch.Muted)
	require.NotNil(t, patch.Position)
	require.NotNil(t, patch.LoopMode)
}

func TestParsePlayerStatusDeviceBody(t *testing.T) {
	// A getStatusEx body serving the chain carries group fields only.
	body := []byte(`{"uuid":"FF31F09E","group":"1","master_uuid":"FF98F09E","master_ip":"192.168.1.20"}`)
	patch, err := ParsePlayerStatus(body, profile.SchemeLegacy)
	require.NoError(t, err)

	assert.Nil(t, patch.PlayState)
	assert.Nil(t, patch.Volume)
	require.NotNil(t, patch.GroupID)
	assert.Equal(t, "1", *patch.GroupID)
	require.NotNil(t, patch.MasterUUID)
	assert.Equal(t, "FF98F09E", *patch.MasterUUID)
	require.NotNil(t, patch.MasterIP)
	assert.Equal(t, "192.168.1.20", *patch.MasterIP)
}

func TestParsePlayerStatusMalformed(t *testing.T) {
	_, err := ParsePlayerStatus([]byte(`not json`), profile.SchemeWiiM)
	require.Error(t, err)
	assert.ErrorIs(t, err, lperr.ErrMalformed)
}
