package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowsRawResponse(t *testing.T) {
	tests := []struct {
		command string
		want    bool
	}{
		{"reboot", true},
		{"setAlarmClock:0:1418:0800:a", true},
		{"switchmode:line-in", true},
		{"setLoopMode:2", true},
		{"setPlayerCmd:switchmode:optical", true},
		{"EQLoad:Flat", true},
		{"EQLoad:Bass Booster", true},
		{"getPlayerStatusEx", false},
		{"setPlayerCmd:play", false},
		{"setPlayerCmd:vol:30", false},
		{"getStatusEx", false},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			assert.Equal(t, tt.want, AllowsRawResponse(tt.command))
		})
	}
}
