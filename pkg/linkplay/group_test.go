package linkplay

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkplay-community/linkplay-go/pkg/lperr"
	"github.com/linkplay-community/linkplay-go/pkg/model"
)

const (
	uuidKitchen = "AA0000000000000000BB"
	uuidBedroom = "CC0000000000000000DD"
	uuidPatio   = "EE0000000000000000FF"
)

func TestJoinAndLeave(t *testing.T) {
	devA := newTestDevice(t)
	devB := newTestDevice(t)
	devB.SetStatusField("uuid", uuidKitchen)
	devB.SetStatusField("DeviceName", "Kitchen")

	pA := newTestPlayer(t, devA)
	pB := newTestPlayer(t, devB)
	ctx := context.Background()
	require.NoError(t, pA.Refresh(ctx))
	require.NoError(t, pB.Refresh(ctx))

	devA.ClearCommands()
	devB.ClearCommands()

	g, err := Join(ctx, pB, pA)
	require.NoError(t, err)

	assert.Equal(t, []string{"setMultiroom:Master"}, devA.Commands())
	assert.Equal(t,
		[]string{"ConnectMasterAp:JoinGroupMaster:eth" + devA.Host() + ":wifi0.0.0.0"},
		devB.Commands())

	assert.Same(t, pA, g.Master())
	require.Len(t, g.Slaves(), 1)
	assert.Same(t, pB, g.Slaves()[0])
	assert.Same(t, g, pA.Group())
	assert.Same(t, g, pB.Group())

	assert.Equal(t, model.RoleMaster, pA.Role())
	assert.Equal(t, model.RoleSlave, pB.Role())
	assert.Equal(t, pA.UUID(), pB.Status().MasterUUID)

	// Leaving kicks the slave from the master's side; the slave device sees
	// no traffic. The last slave leaving dissolves the group.
	devA.ClearCommands()
	devB.ClearCommands()
	require.NoError(t, pB.LeaveGroup(ctx))
	assert.Equal(t, []string{"multiroom:SlaveKickout:" + pB.Host()}, devA.Commands())
	assert.Empty(t, devB.Commands())

	assert.Equal(t, model.RoleSolo, pA.Role())
	assert.Equal(t, model.RoleSolo, pB.Role())
	assert.Nil(t, pA.Group())
	assert.Nil(t, pB.Group())

	// Leaving while already solo is a no-op and sends nothing.
	devA.ClearCommands()
	devB.ClearCommands()
	require.NoError(t, pB.LeaveGroup(ctx))
	assert.Empty(t, devA.Commands())
	assert.Empty(t, devB.Commands())
}

func TestJoinRefusesIncompatible(t *testing.T) {
	devA := newTestDevice(t)
	devB := newTestDevice(t)
	devB.SetStatusField("uuid", uuidKitchen)
	devB.SetStatusField("wmrm_version", "2.0")

	pA := newTestPlayer(t, devA)
	pB := newTestPlayer(t, devB)
	ctx := context.Background()
	require.NoError(t, pA.Refresh(ctx))
	require.NoError(t, pB.Refresh(ctx))

	devA.ClearCommands()
	devB.ClearCommands()

	_, err := Join(ctx, pB, pA)
	assert.ErrorIs(t, err, lperr.ErrInconsistent)
	assert.Empty(t, devA.Commands(), "incompatible pairs are refused before any device I/O")
	assert.Empty(t, devB.Commands())
	assert.Equal(t, model.RoleSolo, pA.Role())
	assert.Equal(t, model.RoleSolo, pB.Role())
}

func TestJoinGen1UsesAccessPoint(t *testing.T) {
	devA := newTestDevice(t)
	devB := newTestDevice(t)
	devB.SetStatusField("uuid", uuidKitchen)
	devB.SetStatusField("project", "Addon C3")
	devB.SetStatusField("firmware", "3.6.4105")
	devB.SetStatusField("wmrm_version", "")

	pA := newTestPlayer(t, devA)
	pB := newTestPlayer(t, devB)
	ctx := context.Background()
	require.NoError(t, pA.Refresh(ctx))
	require.NoError(t, pB.Refresh(ctx))
	require.Equal(t, "audio_pro_original", pB.Profile().Name)

	devA.ClearCommands()
	devB.ClearCommands()

	_, err := Join(ctx, pB, pA)
	require.NoError(t, err)

	// First-generation hardware joins the master's own access point, with
	// the SSID hex-encoded the way the firmware expects.
	ssidHex := strings.ToUpper(hex.EncodeToString([]byte("WiiM-Pro-2BC1")))
	assert.Equal(t, []string{
		fmt.Sprintf("ConnectMasterAp:ssid=%s:ch=11:auth=OPEN:encry=NONE:pwd=:chext=0", ssidHex),
	}, devB.Commands())
	assert.Equal(t, []string{"setMultiroom:Master"}, devA.Commands())
}

func TestJoinMovesSlaveBetweenGroups(t *testing.T) {
	devA := newTestDevice(t)
	devB := newTestDevice(t)
	devB.SetStatusField("uuid", uuidKitchen)
	devC := newTestDevice(t)
	devC.SetStatusField("uuid", uuidBedroom)
	devC.SetStatusField("DeviceName", "Bedroom")

	pA := newTestPlayer(t, devA)
	pB := newTestPlayer(t, devB)
	pC := newTestPlayer(t, devC)
	ctx := context.Background()
	require.NoError(t, pA.Refresh(ctx))
	require.NoError(t, pB.Refresh(ctx))
	require.NoError(t, pC.Refresh(ctx))

	_, err := Join(ctx, pB, pA)
	require.NoError(t, err)

	devA.ClearCommands()
	devB.ClearCommands()
	devC.ClearCommands()

	// Joining a different master first leaves the old group.
	g2, err := Join(ctx, pB, pC)
	require.NoError(t, err)

	assert.Equal(t, []string{"multiroom:SlaveKickout:" + pB.Host()}, devA.Commands())
	assert.Equal(t, []string{"setMultiroom:Master"}, devC.Commands())
	assert.Equal(t,
		[]string{"ConnectMasterAp:JoinGroupMaster:eth" + devC.Host() + ":wifi0.0.0.0"},
		devB.Commands())

	assert.Equal(t, model.RoleSolo, pA.Role())
	assert.Nil(t, pA.Group())
	assert.Same(t, pC, g2.Master())
	require.Len(t, g2.Slaves(), 1)
	assert.Same(t, pB, g2.Slaves()[0])
}

func TestMasterRefreshPropagatesToSlaves(t *testing.T) {
	devA := newTestDevice(t)
	devA.SetSlaves(map[string]any{
		"name":    "Kitchen",
		"uuid":    uuidKitchen,
		"ip":      "127.0.0.1",
		"version": "4.8.618660",
		"volume":  "42",
		"mute":    "0",
	})
	devA.SetPlayerField("status", "play")
	devA.SetPlayerField("Title", "Kid A")
	devA.SetPlayerField("Artist", "Radiohead")

	devB := newTestDevice(t)
	devB.SetStatusField("uuid", uuidKitchen)
	devB.SetStatusField("DeviceName", "Kitchen")
	devB.SetStatusField("group", "1")
	devB.SetStatusField("master_uuid", "FF31F09E1A5B38C5D9FC")
	devB.SetStatusField("master_ip", devA.Host())
	devB.SetPlayerField("status", "play")
	devB.SetPlayerField("mode", "99")

	pA := newTestPlayer(t, devA)
	var slaveLog callbackLog
	pB := newTestPlayer(t, devB, WithStateCallback(slaveLog.record))
	ctx := context.Background()
	require.NoError(t, pA.Refresh(ctx))
	require.NoError(t, pB.Refresh(ctx))

	assert.Equal(t, model.RoleMaster, pA.Role())
	assert.Equal(t, model.RoleSlave, pB.Role())
	slaves := pA.Slaves()
	require.Len(t, slaves, 1)
	assert.Equal(t, uuidKitchen, slaves[0].UUID)
	assert.Equal(t, "Kitchen", slaves[0].Name)

	LinkGroups(pA, pB)

	// A master refresh pushes playback state into the slave snapshots
	// without touching the slave devices.
	devA.ClearCommands()
	devB.ClearCommands()
	require.NoError(t, pA.Refresh(ctx))
	assert.Equal(t,
		[]string{"getPlayerStatusEx", "getStatusEx", "multiroom:getSlaveList"},
		devA.Commands())
	assert.Empty(t, devB.Commands())

	snap := pB.Status()
	assert.Equal(t, "Kid A", snap.Title)
	assert.Equal(t, "Radiohead", snap.Artist)
	assert.Equal(t, model.PlayStatePlay, snap.PlayState)
	assert.Equal(t, model.SourceMultiroom, snap.Source)
	assert.Equal(t, "Living Room", snap.SourceName, "slaves show the master they relay")
	assert.True(t, slaveLog.saw(model.FieldTitle))
}

func TestSlaveCommandsRouteToMaster(t *testing.T) {
	devA := newTestDevice(t)
	devB := newTestDevice(t)
	devB.SetStatusField("uuid", uuidKitchen)

	pA := newTestPlayer(t, devA)
	pB := newTestPlayer(t, devB)
	ctx := context.Background()
	require.NoError(t, pA.Refresh(ctx))
	require.NoError(t, pB.Refresh(ctx))
	_, err := Join(ctx, pB, pA)
	require.NoError(t, err)

	// Transport commands on a slave run on the master device.
	devA.ClearCommands()
	devB.ClearCommands()
	require.NoError(t, pB.Play(ctx))
	assert.Equal(t, []string{"setPlayerCmd:play"}, devA.Commands())
	assert.Empty(t, devB.Commands())
	assert.Equal(t, model.PlayStatePlay, pA.Status().PlayState)

	devA.ClearCommands()
	require.NoError(t, pB.Next(ctx))
	assert.Equal(t, []string{"setPlayerCmd:next"}, devA.Commands())

	// Volume stays per device.
	devA.ClearCommands()
	devB.ClearCommands()
	require.NoError(t, pB.SetVolume(ctx, 40))
	assert.Empty(t, devA.Commands())
	assert.Equal(t, []string{"setPlayerCmd:vol:40"}, devB.Commands())
	assert.Equal(t, 40, pB.Status().Volume)

	// A slave whose master this process does not hold cannot delegate.
	devC := newTestDevice(t)
	devC.SetStatusField("uuid", uuidBedroom)
	devC.SetStatusField("group", "1")
	devC.SetStatusField("master_uuid", "0123456789ABCDEF0123")
	devC.SetStatusField("master_ip", "192.168.7.9")
	pC := newTestPlayer(t, devC)
	require.NoError(t, pC.Refresh(ctx))
	require.Equal(t, model.RoleSlave, pC.Role())

	devC.ClearCommands()
	err = pC.Play(ctx)
	assert.ErrorIs(t, err, lperr.ErrInconsistent)
	assert.Empty(t, devC.Commands())
	require.NoError(t, pC.SetVolume(ctx, 10))
	assert.Equal(t, []string{"setPlayerCmd:vol:10"}, devC.Commands())
}

func TestGroupVolume(t *testing.T) {
	devA := newTestDevice(t)
	devB := newTestDevice(t)
	devB.SetStatusField("uuid", uuidKitchen)

	pA := newTestPlayer(t, devA)
	pB := newTestPlayer(t, devB)
	ctx := context.Background()
	require.NoError(t, pA.Refresh(ctx))
	require.NoError(t, pB.Refresh(ctx))
	g, err := Join(ctx, pB, pA)
	require.NoError(t, err)

	require.NoError(t, pB.SetVolume(ctx, 20))
	assert.Equal(t, 42, g.Volume(), "group volume is the loudest member")

	// Moving the group volume shifts every member by the same delta.
	devA.ClearCommands()
	devB.ClearCommands()
	require.NoError(t, g.SetVolume(ctx, 50))
	assert.Equal(t, 1, devA.CommandCount("setPlayerCmd:vol:50"))
	assert.Equal(t, 1, devB.CommandCount("setPlayerCmd:vol:28"))
	assert.Equal(t, 50, pA.Status().Volume)
	assert.Equal(t, 28, pB.Status().Volume)
	assert.Equal(t, 50, g.Volume())

	// With every member silent there is no balance to preserve.
	require.NoError(t, pA.SetVolume(ctx, 0))
	require.NoError(t, pB.SetVolume(ctx, 0))
	devA.ClearCommands()
	devB.ClearCommands()
	require.NoError(t, g.SetVolume(ctx, 30))
	assert.Equal(t, 1, devA.CommandCount("setPlayerCmd:vol:30"))
	assert.Equal(t, 1, devB.CommandCount("setPlayerCmd:vol:30"))

	require.NoError(t, g.SetMuted(ctx, true))
	assert.Equal(t, 1, devA.CommandCount("setPlayerCmd:mute:1"))
	assert.Equal(t, 1, devB.CommandCount("setPlayerCmd:mute:1"))
	assert.True(t, pA.Status().Muted)
	assert.True(t, pB.Status().Muted)
}

func TestDisbandGroup(t *testing.T) {
	devA := newTestDevice(t)
	devB := newTestDevice(t)
	devB.SetStatusField("uuid", uuidKitchen)
	devC := newTestDevice(t)
	devC.SetStatusField("uuid", uuidBedroom)

	pA := newTestPlayer(t, devA)
	pB := newTestPlayer(t, devB)
	pC := newTestPlayer(t, devC)
	ctx := context.Background()
	require.NoError(t, pA.Refresh(ctx))
	require.NoError(t, pB.Refresh(ctx))
	require.NoError(t, pC.Refresh(ctx))

	g, err := Join(ctx, pB, pA)
	require.NoError(t, err)
	require.NoError(t, g.Add(ctx, pC))
	require.Len(t, g.Slaves(), 2)

	devA.ClearCommands()
	devB.ClearCommands()
	devC.ClearCommands()

	require.NoError(t, pA.LeaveGroup(ctx))
	assert.Equal(t, []string{"multiroom:Ungroup"}, devA.Commands())
	assert.Empty(t, devB.Commands())
	assert.Empty(t, devC.Commands())

	assert.Nil(t, g.Master())
	assert.Empty(t, g.Slaves())
	for _, p := range []*Player{pA, pB, pC} {
		assert.Equal(t, model.RoleSolo, p.Role())
		assert.Nil(t, p.Group())
	}
}

func TestLinkGroups(t *testing.T) {
	devA := newTestDevice(t)
	devA.SetSlaves(map[string]any{
		"name": "Kitchen",
		"uuid": uuidKitchen,
		"ip":   "127.0.0.1",
	})

	devB := newTestDevice(t)
	devB.SetStatusField("uuid", uuidKitchen)
	devB.SetStatusField("DeviceName", "Kitchen")
	devB.SetStatusField("group", "1")
	devB.SetStatusField("master_uuid", "FF31F09E1A5B38C5D9FC")
	devB.SetStatusField("master_ip", devA.Host())
	devB.SetPlayerField("mode", "99")

	devC := newTestDevice(t)
	devC.SetStatusField("uuid", uuidBedroom)
	devC.SetStatusField("DeviceName", "Bedroom")

	devD := newTestDevice(t)
	devD.SetStatusField("uuid", uuidPatio)
	devD.SetStatusField("DeviceName", "Patio")
	devD.SetStatusField("group", "1")
	devD.SetStatusField("master_uuid", "0123456789ABCDEF0123")
	devD.SetStatusField("master_ip", "192.168.7.9")

	pA := newTestPlayer(t, devA)
	pB := newTestPlayer(t, devB)
	pC := newTestPlayer(t, devC)
	pD := newTestPlayer(t, devD)
	ctx := context.Background()
	for _, p := range []*Player{pA, pB, pC, pD} {
		require.NoError(t, p.Refresh(ctx))
	}

	groups := LinkGroups(pA, pB, pC, pD)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Same(t, pA, g.Master())
	require.Len(t, g.Slaves(), 1)
	assert.Same(t, pB, g.Slaves()[0])
	assert.Equal(t, "Living Room", pB.Status().SourceName)

	assert.Nil(t, pC.Group())

	// devD's master is not among the linked players; it stays unlinked and
	// cannot delegate transport commands.
	assert.Nil(t, pD.Group())
	assert.ErrorIs(t, pD.Play(ctx), lperr.ErrInconsistent)
}
