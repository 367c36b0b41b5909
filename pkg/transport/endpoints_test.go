package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkplay-community/linkplay-go/pkg/profile"
)

func TestChainPlayerStatus(t *testing.T) {
	t.Run("full chain", func(t *testing.T) {
		chain := Chain(profile.WiiM, EndpointPlayerStatus)
		assert.Equal(t, []string{"getPlayerStatusEx", "getStatusEx", "getPlayerStatus", "getStatus"}, chain)
	})

	t.Run("mkii starts at getStatusEx", func(t *testing.T) {
		chain := Chain(profile.AudioProMkII, EndpointPlayerStatus)
		require.NotEmpty(t, chain)
		assert.Equal(t, "getStatusEx", chain[0])
		assert.NotContains(t, chain, "getPlayerStatusEx")
	})
}

func TestChainOptionalFamilies(t *testing.T) {
	t.Run("metadata gated by profile", func(t *testing.T) {
		assert.Equal(t, []string{"getMetaInfo"}, Chain(profile.WiiM, EndpointMetadata))
		assert.Nil(t, Chain(profile.Arylic, EndpointMetadata))
	})

	t.Run("audio output wiim only", func(t *testing.T) {
		assert.NotEmpty(t, Chain(profile.WiiM, EndpointAudioOutput))
		assert.Nil(t, Chain(profile.Generic, EndpointAudioOutput))
	})

	t.Run("slave list", func(t *testing.T) {
		assert.Equal(t, []string{"multiroom:getSlaveList"}, Chain(profile.Generic, EndpointSlaveList))
	})

	t.Run("alarms cover shutdown timer", func(t *testing.T) {
		assert.NotEmpty(t, Chain(profile.Arylic, EndpointAlarms))
		assert.NotEmpty(t, Chain(profile.Arylic, EndpointShutdownTimer))
		assert.Nil(t, Chain(profile.AudioProW, EndpointAlarms))
	})
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported(profile.WiiM, EndpointEQList))
	assert.False(t, Supported(profile.AudioProOriginal, EndpointEQList))
	assert.True(t, Supported(profile.AudioProOriginal, EndpointPlayerStatus))
}
